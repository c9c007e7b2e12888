package scheduler

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestPoolExecutesTasks(t *testing.T) {
	pool := NewPool(4, 16, nil)

	var counter int64
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		ok := pool.Submit(func() {
			defer wg.Done()
			atomic.AddInt64(&counter, 1)
		})
		if !ok {
			wg.Done()
			t.Fatal("Submit rejected on open pool")
		}
	}
	wg.Wait()
	pool.Close()

	if counter != 50 {
		t.Errorf("Executed %d tasks, want 50", counter)
	}
}

func TestPoolRejectsAfterClose(t *testing.T) {
	pool := NewPool(2, 4, nil)
	pool.Close()

	if pool.Submit(func() {}) {
		t.Error("Submit accepted on closed pool")
	}
}

func TestPoolRejectsWhenFull(t *testing.T) {
	pool := NewPool(1, 1, nil)
	defer pool.Close()

	block := make(chan struct{})
	started := make(chan struct{})
	pool.Submit(func() {
		close(started)
		<-block
	})
	<-started

	// One slot in the queue, then it must reject
	accepted := 0
	for i := 0; i < 5; i++ {
		if pool.Submit(func() {}) {
			accepted++
		}
	}
	if accepted != 1 {
		t.Errorf("Accepted %d tasks on full queue, want 1", accepted)
	}
	close(block)
}

func TestPoolRecoversFromPanic(t *testing.T) {
	pool := NewPool(1, 4, nil)

	done := make(chan struct{})
	pool.Submit(func() { panic("boom") })
	pool.Submit(func() { close(done) })

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Worker did not survive a panicking task")
	}
	pool.Close()
}

func TestPoolWorkerStatus(t *testing.T) {
	pool := NewPool(3, 8, nil)
	defer pool.Close()

	statuses := pool.Workers()
	if len(statuses) != 3 {
		t.Fatalf("Got %d worker statuses, want 3", len(statuses))
	}
	for _, ws := range statuses {
		if ws.State != WorkerIdle {
			t.Errorf("Worker %d state = %s, want idle", ws.ID, ws.State)
		}
	}

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		pool.Submit(func() { defer wg.Done() })
	}
	wg.Wait()

	// Give workers a moment to flip back to idle
	time.Sleep(50 * time.Millisecond)

	var processed uint64
	for _, ws := range pool.Workers() {
		processed += ws.Processed
	}
	if processed != 10 {
		t.Errorf("Processed %d tasks across workers, want 10", processed)
	}
}
