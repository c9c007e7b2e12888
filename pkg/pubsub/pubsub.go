package pubsub

import (
	"context"
	"sync"
	"time"

	"github.com/PiRogueToolSuite/threatr/pkg/storage"
)

// Update is the notification published whenever a request changes
// lifecycle state or gains results.
type Update struct {
	RequestID        string                `json:"request_id"`
	Status           storage.RequestStatus `json:"status"`
	AvailableResults int                   `json:"available_results"`
	At               time.Time             `json:"at"`
}

// Bus fans request lifecycle updates out to subscribers. Subscriptions
// are per request id; a slow subscriber never blocks the publisher,
// it just misses intermediate updates.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[string]map[*Subscription]bool

	shutdownMu sync.Mutex
	isShutdown bool
	shutdown   chan struct{}
}

// Subscription is one listener on a request's updates.
type Subscription struct {
	requestID string
	channel   chan Update
	bus       *Bus
	cancel    context.CancelFunc
	closeOnce sync.Once
}

// NewBus creates an update bus.
func NewBus() *Bus {
	return &Bus{
		subscribers: make(map[string]map[*Subscription]bool),
		shutdown:    make(chan struct{}),
	}
}

// Subscribe registers a listener for one request's updates. The
// subscription ends when ctx is cancelled, Unsubscribe is called, or the
// bus shuts down. Returns nil after shutdown.
func (b *Bus) Subscribe(ctx context.Context, requestID string) *Subscription {
	b.shutdownMu.Lock()
	if b.isShutdown {
		b.shutdownMu.Unlock()
		return nil
	}
	b.shutdownMu.Unlock()

	subCtx, cancel := context.WithCancel(ctx)
	sub := &Subscription{
		requestID: requestID,
		channel:   make(chan Update, 16),
		bus:       b,
		cancel:    cancel,
	}

	b.mu.Lock()
	if b.subscribers[requestID] == nil {
		b.subscribers[requestID] = make(map[*Subscription]bool)
	}
	b.subscribers[requestID][sub] = true
	b.mu.Unlock()

	go func() {
		select {
		case <-subCtx.Done():
			sub.Unsubscribe()
		case <-b.shutdown:
			sub.close()
		}
	}()

	return sub
}

// Publish delivers an update to every subscriber of its request. Sends
// are non-blocking; a full subscriber channel drops the update.
func (b *Bus) Publish(update Update) {
	b.shutdownMu.Lock()
	if b.isShutdown {
		b.shutdownMu.Unlock()
		return
	}
	b.shutdownMu.Unlock()

	b.mu.RLock()
	reqSubs := b.subscribers[update.RequestID]
	if len(reqSubs) == 0 {
		b.mu.RUnlock()
		return
	}
	subs := make([]*Subscription, 0, len(reqSubs))
	for sub := range reqSubs {
		subs = append(subs, sub)
	}
	b.mu.RUnlock()

	for _, sub := range subs {
		select {
		case sub.channel <- update:
		default:
		}
	}
}

// SubscriberCount returns how many listeners a request currently has.
func (b *Bus) SubscriberCount(requestID string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers[requestID])
}

// Shutdown closes every subscription and stops the bus.
func (b *Bus) Shutdown() {
	b.shutdownMu.Lock()
	if b.isShutdown {
		b.shutdownMu.Unlock()
		return
	}
	b.isShutdown = true
	b.shutdownMu.Unlock()

	close(b.shutdown)

	b.mu.Lock()
	for requestID := range b.subscribers {
		for sub := range b.subscribers[requestID] {
			sub.close()
		}
		delete(b.subscribers, requestID)
	}
	b.mu.Unlock()
}

// Channel returns the subscription's update channel.
func (s *Subscription) Channel() <-chan Update {
	return s.channel
}

// Unsubscribe removes the subscription and closes its channel.
func (s *Subscription) Unsubscribe() {
	s.cancel()

	s.bus.mu.Lock()
	defer s.bus.mu.Unlock()

	if s.bus.subscribers[s.requestID] != nil {
		delete(s.bus.subscribers[s.requestID], s)
		if len(s.bus.subscribers[s.requestID]) == 0 {
			delete(s.bus.subscribers, s.requestID)
		}
	}

	s.close()
}

func (s *Subscription) close() {
	s.closeOnce.Do(func() {
		close(s.channel)
	})
}
