// Package eventbus provides an in-process publish/subscribe bus for domain
// events. Delivery is asynchronous and best-effort; durable recording is
// the audit log's job, not the bus's.
package eventbus

import (
	"sync"

	"github.com/sheafdata/sheaf/go/events"
)

// AllEvents subscribes to every event type.
const AllEvents = events.EventType("*")

// CallbackFn is the callback of a subscriber.
type CallbackFn func(e events.Event)

// EventBus is the interface for publishing and subscribing to events.
type EventBus interface {
	// Publish delivers the event to all matching subscribers. It does not
	// block on slow subscribers.
	Publish(e events.Event)

	// SubscribeAsync registers a callback for the given event type, or
	// for every event when the type is AllEvents. Callbacks run on their
	// own goroutine.
	SubscribeAsync(t events.EventType, cb CallbackFn)
}

// MemEventBus implements EventBus in process memory.
type MemEventBus struct {
	mtx      sync.Mutex
	handlers map[events.EventType][]CallbackFn
}

// New returns a new MemEventBus.
func New() *MemEventBus {
	return &MemEventBus{handlers: map[events.EventType][]CallbackFn{}}
}

// Publish implements EventBus.
func (b *MemEventBus) Publish(e events.Event) {
	b.mtx.Lock()
	callbacks := make([]CallbackFn, 0, len(b.handlers[e.Type])+len(b.handlers[AllEvents]))
	callbacks = append(callbacks, b.handlers[e.Type]...)
	callbacks = append(callbacks, b.handlers[AllEvents]...)
	b.mtx.Unlock()
	for _, cb := range callbacks {
		go cb(e)
	}
}

// SubscribeAsync implements EventBus.
func (b *MemEventBus) SubscribeAsync(t events.EventType, cb CallbackFn) {
	b.mtx.Lock()
	defer b.mtx.Unlock()
	b.handlers[t] = append(b.handlers[t], cb)
}

var _ EventBus = (*MemEventBus)(nil)
