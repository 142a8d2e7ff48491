// Package events publishes build lifecycle events to the event store and to
// registered sinks.
package events

import (
	"context"
	"errors"
	"sync"

	"git.home.luguber.info/inful/rulebuilder/internal/eventstore"
	"git.home.luguber.info/inful/rulebuilder/internal/logfields"
	"git.home.luguber.info/inful/rulebuilder/internal/observability"
)

// AllEvents subscribes a handler to every event type.
const AllEvents = "*"

// Handler processes an event; a returned error is reported but never stops delivery.
type Handler func(ctx context.Context, e eventstore.Event) error

// Appender persists events. It is the write side of eventstore.Store.
type Appender interface {
	Append(ctx context.Context, buildID, eventType string, payload []byte, metadata map[string]string) error
}

// Bus is a synchronous pub/sub event bus.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[string][]Handler
	store       Appender // optional
}

// NewBus creates a bus without persistence.
func NewBus() *Bus { return &Bus{subscribers: map[string][]Handler{}} }

// NewBusWithEventStore creates a bus that persists events before delivering them.
func NewBusWithEventStore(store Appender) *Bus {
	return &Bus{subscribers: map[string][]Handler{}, store: store}
}

// Subscribe registers a handler for an event type, or AllEvents.
func (b *Bus) Subscribe(eventType string, h Handler) {
	if h == nil {
		return
	}
	b.mu.Lock()
	b.subscribers[eventType] = append(b.subscribers[eventType], h)
	b.mu.Unlock()
}

// Publish persists e when a store is configured and delivers it to every
// matching handler. All sinks are attempted; their failures are logged and
// returned joined.
func (b *Bus) Publish(ctx context.Context, e eventstore.Event) error {
	if b == nil || e == nil {
		return nil
	}

	var errs []error
	if b.store != nil {
		if err := b.store.Append(ctx, e.BuildID(), e.Type(), e.Payload(), e.Metadata()); err != nil {
			observability.WarnContext(ctx, "Failed to persist event",
				logfields.EventType(e.Type()), logfields.Error(err))
			errs = append(errs, err)
		}
	}

	b.mu.RLock()
	hs := append([]Handler(nil), b.subscribers[e.Type()]...)
	hs = append(hs, b.subscribers[AllEvents]...)
	b.mu.RUnlock()

	for _, h := range hs {
		if err := h(ctx, e); err != nil {
			observability.WarnContext(ctx, "Event handler failed",
				logfields.EventType(e.Type()), logfields.Error(err))
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
