package metrics

import (
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

func (r *Registry) initSystemMetrics() {
	r.UptimeSeconds = promauto.With(r.registry).NewGauge(
		prometheus.GaugeOpts{
			Name: "threatr_uptime_seconds",
			Help: "Seconds since process start",
		},
	)

	r.GoRoutines = promauto.With(r.registry).NewGauge(
		prometheus.GaugeOpts{
			Name: "threatr_goroutines",
			Help: "Current number of goroutines",
		},
	)
}

// StartSystemCollector updates system gauges every interval until the
// stop channel closes.
func (r *Registry) StartSystemCollector(interval time.Duration, stop <-chan struct{}) {
	start := time.Now()
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				r.UptimeSeconds.Set(time.Since(start).Seconds())
				r.GoRoutines.Set(float64(runtime.NumGoroutine()))
			case <-stop:
				return
			}
		}
	}()
}
