package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Registry holds all metrics for the application
type Registry struct {
	// HTTP Metrics
	HTTPRequestsTotal    *prometheus.CounterVec
	HTTPRequestDuration  *prometheus.HistogramVec
	HTTPRequestsInFlight prometheus.Gauge

	// Request Lifecycle Metrics
	RequestsSubmittedTotal *prometheus.CounterVec
	RequestsFinishedTotal  *prometheus.CounterVec
	RequestsInFlight       prometheus.Gauge
	RequestDuration        prometheus.Histogram
	CacheHitsTotal         prometheus.Counter

	// Module Metrics
	ModuleRunsTotal   *prometheus.CounterVec
	ModuleRunDuration *prometheus.HistogramVec

	// Graph Metrics
	GraphEntitiesTotal   prometheus.Gauge
	GraphRelationsTotal  prometheus.Gauge
	GraphEventsTotal     prometheus.Gauge
	UpsertsTotal         *prometheus.CounterVec
	EventsCoalescedTotal prometheus.Counter

	// System Metrics
	UptimeSeconds prometheus.Gauge
	GoRoutines    prometheus.Gauge

	registry *prometheus.Registry
}

var (
	// Global registry instance
	defaultRegistry *Registry
	once            sync.Once
)

// DefaultRegistry returns the global metrics registry
func DefaultRegistry() *Registry {
	once.Do(func() {
		defaultRegistry = NewRegistry()
	})
	return defaultRegistry
}

// NewRegistry creates a new metrics registry with all metrics initialized
func NewRegistry() *Registry {
	reg := prometheus.NewRegistry()

	r := &Registry{
		registry: reg,
	}

	r.initHTTPMetrics()
	r.initRequestMetrics()
	r.initModuleMetrics()
	r.initGraphMetrics()
	r.initSystemMetrics()

	return r
}

// GetPrometheusRegistry returns the underlying Prometheus registry
func (r *Registry) GetPrometheusRegistry() *prometheus.Registry {
	return r.registry
}
