package scheduler

import (
	"sync"
	"time"

	"github.com/PiRogueToolSuite/threatr/pkg/logging"
)

// Worker states reported by the status endpoint.
const (
	WorkerIdle = "idle"
	WorkerBusy = "busy"
)

// WorkerStatus is a point-in-time snapshot of one worker.
type WorkerStatus struct {
	ID            int     `json:"id"`
	State         string  `json:"state"`
	UptimeSeconds float64 `json:"uptime_seconds"`
	Processed     uint64  `json:"processed"`
}

type workerState struct {
	mu        sync.Mutex
	state     string
	processed uint64
	started   time.Time
}

// Pool runs queued request-processing tasks on a fixed set of workers.
// Submitting to a closed pool is rejected rather than blocking.
type Pool struct {
	workers   int
	taskQueue chan func()
	wg        sync.WaitGroup
	once      sync.Once
	mu        sync.RWMutex // protects taskQueue from close during send
	closed    bool
	states    []*workerState
	logger    logging.Logger
}

// NewPool creates a pool with the given worker and queue sizes.
func NewPool(workers, queueSize int, logger logging.Logger) *Pool {
	if workers <= 0 {
		workers = 1
	}
	if queueSize <= 0 {
		queueSize = workers * 2
	}
	if logger == nil {
		logger = logging.NewNopLogger()
	}

	p := &Pool{
		workers:   workers,
		taskQueue: make(chan func(), queueSize),
		states:    make([]*workerState, workers),
		logger:    logger.With(logging.Component("scheduler")),
	}
	for i := 0; i < workers; i++ {
		p.states[i] = &workerState{state: WorkerIdle, started: time.Now()}
		p.wg.Add(1)
		go p.worker(i)
	}
	return p
}

func (p *Pool) worker(id int) {
	defer p.wg.Done()
	state := p.states[id]

	for task := range p.taskQueue {
		state.mu.Lock()
		state.state = WorkerBusy
		state.mu.Unlock()

		func() {
			defer func() {
				if r := recover(); r != nil {
					p.logger.Error("worker panic recovered",
						logging.Int("worker", id),
						logging.Any("panic", r))
				}
			}()
			task()
		}()

		state.mu.Lock()
		state.state = WorkerIdle
		state.processed++
		state.mu.Unlock()
	}
}

// Submit queues a task. Returns false when the pool is closed or the
// queue is full.
func (p *Pool) Submit(task func()) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		return false
	}
	select {
	case p.taskQueue <- task:
		return true
	default:
		return false
	}
}

// QueueDepth returns the number of tasks waiting for a worker.
func (p *Pool) QueueDepth() int {
	return len(p.taskQueue)
}

// Workers returns a snapshot of every worker's status.
func (p *Pool) Workers() []WorkerStatus {
	out := make([]WorkerStatus, len(p.states))
	for i, s := range p.states {
		s.mu.Lock()
		out[i] = WorkerStatus{
			ID:            i,
			State:         s.state,
			UptimeSeconds: time.Since(s.started).Seconds(),
			Processed:     s.processed,
		}
		s.mu.Unlock()
	}
	return out
}

// Close stops accepting tasks and waits for in-flight ones to finish.
func (p *Pool) Close() {
	p.once.Do(func() {
		p.mu.Lock()
		p.closed = true
		close(p.taskQueue)
		p.mu.Unlock()
	})
	p.wg.Wait()
}
