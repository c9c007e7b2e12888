package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

func (r *Registry) initModuleMetrics() {
	r.ModuleRunsTotal = promauto.With(r.registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "threatr_module_runs_total",
			Help: "Vendor module runs by outcome",
		},
		[]string{"module", "outcome"},
	)

	r.ModuleRunDuration = promauto.With(r.registry).NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "threatr_module_run_duration_seconds",
			Help:    "Duration of one vendor module run",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"module"},
	)
}
