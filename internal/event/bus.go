package event

import (
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

// SubscriptionID uniquely identifies a bus subscription.
type SubscriptionID string

// DefaultBuffer is the per-consumer queue depth used when a subscriber
// does not ask for a specific one.
const DefaultBuffer = 64

// Bus fans state-change events out to any number of consumers. Each
// subscriber gets its own bounded queue with a drop-oldest overflow
// policy, so a slow consumer only loses its own oldest events and can
// never block the engine. Subscribing and unsubscribing are safe at any
// time and do not affect other consumers.
type Bus struct {
	mu     sync.RWMutex
	subs   map[SubscriptionID]chan Event
	closed bool
	drops  atomic.Uint64
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{
		subs: make(map[SubscriptionID]chan Event),
	}
}

// Subscribe registers a new consumer and returns its queue. buffer <= 0
// uses DefaultBuffer. The channel is closed on Unsubscribe or Close.
func (b *Bus) Subscribe(buffer int) (SubscriptionID, <-chan Event) {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	id := SubscriptionID(uuid.NewString())
	ch := make(chan Event, buffer)

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(ch)
		return id, ch
	}
	b.subs[id] = ch
	return id, ch
}

// Unsubscribe removes a consumer and closes its channel. Unknown IDs
// are ignored.
func (b *Bus) Unsubscribe(id SubscriptionID) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if ch, ok := b.subs[id]; ok {
		delete(b.subs, id)
		close(ch)
	}
}

// Publish delivers an event to every subscriber without ever blocking.
// When a subscriber's queue is full, its oldest event is dropped to make
// room; with a concurrent reader racing the drop, the event itself may
// be discarded instead. Either way at most the latest-N events are kept.
func (b *Bus) Publish(ev Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}
	for _, ch := range b.subs {
		select {
		case ch <- ev:
			continue
		default:
		}
		// Queue full: evict the oldest, then retry once.
		select {
		case <-ch:
			b.drops.Add(1)
		default:
		}
		select {
		case ch <- ev:
		default:
			b.drops.Add(1)
		}
	}
}

// Dropped returns the number of events discarded due to slow consumers.
func (b *Bus) Dropped() uint64 {
	return b.drops.Load()
}

// SubscriberCount returns the number of registered consumers.
func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Close shuts the bus down, closing every subscriber channel. Further
// publishes are no-ops.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, ch := range b.subs {
		delete(b.subs, id)
		close(ch)
	}
}
