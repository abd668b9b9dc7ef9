package events

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
)

// Handler delivers one event to one sink.
type Handler func(context.Context, Event) error

// ErrNoHandler is returned when nothing is subscribed to an event type.
var ErrNoHandler = errors.New("no handler registered")

// Registry maps event types to their handlers.
type Registry struct {
	mu        sync.RWMutex
	listeners map[EventType][]namedHandler
}

type namedHandler struct {
	name    string
	handler Handler
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{listeners: make(map[EventType][]namedHandler)}
}

// Subscribe registers handler for eventType under a name used in error messages.
func (r *Registry) Subscribe(eventType EventType, name string, handler Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.listeners[eventType] = append(r.listeners[eventType], namedHandler{name: name, handler: handler})
}

// HasHandler reports whether eventType has at least one subscriber.
func (r *Registry) HasHandler(eventType EventType) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.listeners[eventType]) > 0
}

// Types lists every subscribed event type.
func (r *Registry) Types() []EventType {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]EventType, 0, len(r.listeners))
	for t := range r.listeners {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Handle invokes every handler for the event. All handlers run even when
// one fails; the returned error joins every failure.
func (r *Registry) Handle(ctx context.Context, event Event, wrap func(context.Context) (context.Context, context.CancelFunc)) error {
	r.mu.RLock()
	handlers := append([]namedHandler{}, r.listeners[event.Type]...)
	r.mu.RUnlock()

	if len(handlers) == 0 {
		return fmt.Errorf("%w for %s", ErrNoHandler, event.Type)
	}

	var errs []error
	for _, h := range handlers {
		hctx, cancel := ctx, context.CancelFunc(func() {})
		if wrap != nil {
			hctx, cancel = wrap(ctx)
		}
		err := h.handler(hctx, event)
		cancel()
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", h.name, err))
		}
	}
	return errors.Join(errs...)
}
