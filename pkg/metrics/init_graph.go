package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

func (r *Registry) initGraphMetrics() {
	r.GraphEntitiesTotal = promauto.With(r.registry).NewGauge(
		prometheus.GaugeOpts{
			Name: "threatr_graph_entities_total",
			Help: "Entities currently stored in the knowledge graph",
		},
	)

	r.GraphRelationsTotal = promauto.With(r.registry).NewGauge(
		prometheus.GaugeOpts{
			Name: "threatr_graph_relations_total",
			Help: "Relations currently stored in the knowledge graph",
		},
	)

	r.GraphEventsTotal = promauto.With(r.registry).NewGauge(
		prometheus.GaugeOpts{
			Name: "threatr_graph_events_total",
			Help: "Events currently stored in the knowledge graph",
		},
	)

	r.UpsertsTotal = promauto.With(r.registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "threatr_graph_upserts_total",
			Help: "Upsert operations by record kind and outcome",
		},
		[]string{"record", "outcome"},
	)

	r.EventsCoalescedTotal = promauto.With(r.registry).NewCounter(
		prometheus.CounterOpts{
			Name: "threatr_graph_events_coalesced_total",
			Help: "Event observations folded into an existing event",
		},
	)
}
