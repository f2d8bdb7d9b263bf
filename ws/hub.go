package ws

import (
	"log"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

// Handler receives published events.
type Handler func(event Event)

// EventPublisher is the publishing half of the Hub.
//
// Services depend on this interface instead of *Hub, so tests can record
// published events without a hub.
type EventPublisher interface {
	Publish(event Event)
}

// EventBus is the full publish/subscribe contract.
type EventBus interface {
	EventPublisher
	Subscribe(op string, fn Handler) (unsubscribe func())
}

// OpAll subscribes a handler to every op.
const OpAll = "*"

// subscription is one registered handler.
type subscription struct {
	id string
	op string
	fn Handler
}

// Hub is the in-process event bus of a session.
//
// Delivery is synchronous: Publish calls every matching handler on the
// publishing goroutine, in subscription order, before it returns. Two events
// published from the same goroutine therefore reach every subscriber in the
// order they were published. Handlers must not block for long; work that
// does I/O belongs on another goroutine.
type Hub struct {
	mu   sync.RWMutex
	subs []subscription

	// seq is stamped on every published event.
	seq atomic.Int64

	closed bool
}

// NewHub creates an empty Hub.
func NewHub() *Hub {
	return &Hub{}
}

// Subscribe registers fn for op (or OpAll) and returns the function that
// removes it. Calling the returned function more than once is harmless.
func (h *Hub) Subscribe(op string, fn Handler) func() {
	id := uuid.NewString()

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return func() {}
	}
	h.subs = append(h.subs, subscription{id: id, op: op, fn: fn})
	h.mu.Unlock()

	return func() { h.unsubscribe(id) }
}

func (h *Hub) unsubscribe(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for i, s := range h.subs {
		if s.id == id {
			h.subs = append(h.subs[:i:i], h.subs[i+1:]...)
			return
		}
	}
}

// Publish stamps event with the next sequence number and delivers it.
//
// The subscriber list is copied under the lock and handlers run outside of
// it, so a handler may subscribe, unsubscribe or publish again.
func (h *Hub) Publish(event Event) {
	event.Seq = h.seq.Add(1)

	h.mu.RLock()
	if h.closed {
		h.mu.RUnlock()
		return
	}
	targets := make([]Handler, 0, len(h.subs))
	for _, s := range h.subs {
		if s.op == event.Op || s.op == OpAll {
			targets = append(targets, s.fn)
		}
	}
	h.mu.RUnlock()

	for _, fn := range targets {
		h.deliver(fn, event)
	}
}

// deliver runs one handler. A panicking handler is logged and skipped so the
// remaining subscribers still get the event.
func (h *Hub) deliver(fn Handler, event Event) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("[hub] handler for %s panicked: %v", event.Op, r)
		}
	}()
	fn(event)
}

// SubscriberCount returns how many handlers would receive op.
func (h *Hub) SubscriberCount(op string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	n := 0
	for _, s := range h.subs {
		if s.op == op || s.op == OpAll {
			n++
		}
	}
	return n
}

// Close drops every subscription. Later Publish and Subscribe calls are
// no-ops.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.subs = nil
	h.closed = true
	log.Println("[hub] closed, all subscriptions dropped")
}
