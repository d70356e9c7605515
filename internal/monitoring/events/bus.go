// Package events provides a synchronous, typed publish/subscribe bus.
package events

import (
	"log/slog"
	"sync"
	"time"

	"github.com/vietddude/txwatch/internal/core/domain"
)

// Handler receives events of the type it subscribed to.
type Handler func(domain.Event)

// SubscriptionID identifies a handler registration for Off.
type SubscriptionID uint64

type subscription struct {
	id      SubscriptionID
	handler Handler
}

// Bus dispatches events to handlers synchronously, in registration order.
type Bus struct {
	mu     sync.RWMutex
	nextID SubscriptionID
	subs   map[domain.EventType][]subscription
	log    *slog.Logger
}

// NewBus creates an empty bus.
func NewBus(log *slog.Logger) *Bus {
	if log == nil {
		log = slog.Default()
	}
	return &Bus{
		subs: make(map[domain.EventType][]subscription),
		log:  log.With("component", "events"),
	}
}

// On registers h for events of type t.
func (b *Bus) On(t domain.EventType, h Handler) SubscriptionID {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	b.subs[t] = append(b.subs[t], subscription{id: b.nextID, handler: h})
	return b.nextID
}

// Off removes a registration. Unknown ids are ignored.
func (b *Bus) Off(t domain.EventType, id SubscriptionID) {
	b.mu.Lock()
	defer b.mu.Unlock()

	list := b.subs[t]
	for i, s := range list {
		if s.id == id {
			b.subs[t] = append(list[:i:i], list[i+1:]...)
			break
		}
	}
	if len(b.subs[t]) == 0 {
		delete(b.subs, t)
	}
}

// Emit delivers e to every handler registered for e.Type.
// A panicking handler is logged and does not stop delivery to the rest.
func (b *Bus) Emit(e domain.Event) {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}

	b.mu.RLock()
	handlers := make([]subscription, len(b.subs[e.Type]))
	copy(handlers, b.subs[e.Type])
	b.mu.RUnlock()

	for _, s := range handlers {
		b.dispatch(s, e)
	}
}

// Count returns the number of handlers registered for t.
func (b *Bus) Count(t domain.EventType) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[t])
}

func (b *Bus) dispatch(s subscription, e domain.Event) {
	defer func() {
		if r := recover(); r != nil {
			b.log.Error("Event handler panicked",
				"event", e.Type,
				"network", e.Network,
				"subscription", s.id,
				"panic", r,
			)
		}
	}()
	s.handler(e)
}
