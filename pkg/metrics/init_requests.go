package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

func (r *Registry) initRequestMetrics() {
	r.RequestsSubmittedTotal = promauto.With(r.registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "threatr_requests_submitted_total",
			Help: "Total number of submitted aggregation requests",
		},
		[]string{"super_type", "type"},
	)

	r.RequestsFinishedTotal = promauto.With(r.registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "threatr_requests_finished_total",
			Help: "Total number of requests reaching a terminal status",
		},
		[]string{"status"},
	)

	r.RequestsInFlight = promauto.With(r.registry).NewGauge(
		prometheus.GaugeOpts{
			Name: "threatr_requests_in_flight",
			Help: "Requests currently being processed by workers",
		},
	)

	r.RequestDuration = promauto.With(r.registry).NewHistogram(
		prometheus.HistogramOpts{
			Name:    "threatr_request_duration_seconds",
			Help:    "End-to-end processing time of one request",
			Buckets: []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		},
	)

	r.CacheHitsTotal = promauto.With(r.registry).NewCounter(
		prometheus.CounterOpts{
			Name: "threatr_request_cache_hits_total",
			Help: "Submissions answered from already-known entities",
		},
	)
}
