package health

import (
	"context"
	"sync"
	"time"
)

// Status represents the health status of a component
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
)

// Check is the result of probing one component.
type Check struct {
	Name        string         `json:"name"`
	Status      Status         `json:"status"`
	Message     string         `json:"message,omitempty"`
	Details     map[string]any `json:"details,omitempty"`
	LastChecked time.Time      `json:"last_checked"`
	Duration    time.Duration  `json:"duration_ms"`
}

// CheckFunc probes one component.
type CheckFunc func(ctx context.Context) Check

// Response is the aggregated health report. Overall status is the worst
// individual status.
type Response struct {
	Status    Status           `json:"status"`
	Timestamp time.Time        `json:"timestamp"`
	Checks    map[string]Check `json:"checks"`
}

// Checker runs registered component probes on demand.
type Checker struct {
	mu     sync.RWMutex
	checks map[string]CheckFunc
}

// NewChecker creates an empty health checker.
func NewChecker() *Checker {
	return &Checker{checks: make(map[string]CheckFunc)}
}

// Register adds a component probe under a name.
func (c *Checker) Register(name string, check CheckFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.checks[name] = check
}

// Check runs every registered probe.
func (c *Checker) Check(ctx context.Context) Response {
	c.mu.RLock()
	defer c.mu.RUnlock()

	response := Response{
		Status:    StatusHealthy,
		Timestamp: time.Now(),
		Checks:    make(map[string]Check, len(c.checks)),
	}
	for name, fn := range c.checks {
		start := time.Now()
		check := fn(ctx)
		check.Duration = time.Since(start)
		check.LastChecked = start
		response.Checks[name] = check

		if check.Status == StatusUnhealthy {
			response.Status = StatusUnhealthy
		} else if check.Status == StatusDegraded && response.Status != StatusUnhealthy {
			response.Status = StatusDegraded
		}
	}
	return response
}

// StoreCheck probes record store reachability.
func StoreCheck(ping func(ctx context.Context) error) CheckFunc {
	return func(ctx context.Context) Check {
		check := Check{Name: "store"}
		if err := ping(ctx); err != nil {
			check.Status = StatusUnhealthy
			check.Message = err.Error()
		} else {
			check.Status = StatusHealthy
			check.Message = "reachable"
		}
		return check
	}
}

// SchedulerCheck probes worker pool liveness. A pool with no idle
// capacity and a saturated queue is degraded, not dead.
func SchedulerCheck(state func() (workers, queueDepth, queueSize int)) CheckFunc {
	return func(ctx context.Context) Check {
		check := Check{Name: "scheduler", Details: make(map[string]any)}
		workers, depth, size := state()
		check.Details["workers"] = workers
		check.Details["queue_depth"] = depth

		switch {
		case workers == 0:
			check.Status = StatusUnhealthy
			check.Message = "no workers running"
		case size > 0 && depth >= size:
			check.Status = StatusDegraded
			check.Message = "queue saturated"
		default:
			check.Status = StatusHealthy
			check.Message = "processing"
		}
		return check
	}
}

// ModulesCheck reports on installed vendor modules. A deployment with no
// modules answers nothing, which is worth surfacing but not fatal.
func ModulesCheck(count func() int) CheckFunc {
	return func(ctx context.Context) Check {
		check := Check{Name: "modules"}
		n := count()
		check.Details = map[string]any{"installed": n}
		if n == 0 {
			check.Status = StatusDegraded
			check.Message = "no vendor modules installed"
		} else {
			check.Status = StatusHealthy
		}
		return check
	}
}
