// Package broker fans live price events out to subscribers.
// Delivery is fire-and-forget: a subscriber whose buffer is full misses the event,
// and publishing with no subscribers is a no-op.
package broker

import (
	"sync"
	"sync/atomic"

	"github.com/rewired-gh/casewatch/internal/models"
)

const defaultBuffer = 64

// Subscription is one registered listener.
type Subscription struct {
	ch      chan models.Event
	dropped atomic.Int64
	once    sync.Once
}

// Events is closed when the subscription is removed.
func (s *Subscription) Events() <-chan models.Event {
	return s.ch
}

// Dropped reports how many events were discarded because the buffer was full.
func (s *Subscription) Dropped() int64 {
	return s.dropped.Load()
}

// Broker is safe for concurrent use.
type Broker struct {
	mu   sync.RWMutex
	subs map[*Subscription]struct{}
}

func New() *Broker {
	return &Broker{subs: make(map[*Subscription]struct{})}
}

// Subscribe registers a listener with the given buffer size (<= 0 uses a default).
func (b *Broker) Subscribe(buffer int) *Subscription {
	if buffer <= 0 {
		buffer = defaultBuffer
	}
	sub := &Subscription{ch: make(chan models.Event, buffer)}
	b.mu.Lock()
	b.subs[sub] = struct{}{}
	b.mu.Unlock()
	return sub
}

// Unsubscribe removes the listener and closes its channel. Safe to call twice.
func (b *Broker) Unsubscribe(sub *Subscription) {
	b.mu.Lock()
	delete(b.subs, sub)
	b.mu.Unlock()
	sub.once.Do(func() { close(sub.ch) })
}

// Publish hands ev to every subscriber without blocking.
func (b *Broker) Publish(ev models.Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for sub := range b.subs {
		select {
		case sub.ch <- ev:
		default:
			sub.dropped.Add(1)
		}
	}
}

// Subscribers returns the number of registered listeners.
func (b *Broker) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
