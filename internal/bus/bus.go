// Package bus implements the typed publish/subscribe primitive every
// cross-component interaction flows through. Producers (chat commands, panel
// actions, TTS state changes) never call consumers (overlay broadcast, command
// re-registration, roster refresh) directly.
package bus

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/WolfwithSword/TwitchChatDND/internal/dispatch"
	"github.com/WolfwithSword/TwitchChatDND/internal/metrics"
)

// Event is one named publish/subscribe channel carrying values of type T.
//
// Handlers are registered under a caller-chosen name so re-subscribing the
// same logical handler is a no-op. Each handler is either synchronous (invoked
// inline on the publisher's goroutine, errors propagate and abort dispatch) or
// asynchronous (enqueued on the dispatcher, errors logged and swallowed).
// Synchronous handlers are trusted infrastructure; asynchronous handlers are
// plugin-like reactions that must not be able to break the publisher.
type Event[T any] struct {
	name string
	disp *dispatch.Dispatcher

	mu   sync.RWMutex
	subs []subscription[T]
}

type subscription[T any] struct {
	name  string
	fn    func(T) error
	async bool
}

// New creates a named event dispatching async handlers on d.
func New[T any](name string, d *dispatch.Dispatcher) *Event[T] {
	return &Event[T]{name: name, disp: d}
}

// Name returns the event's name.
func (e *Event[T]) Name() string { return e.name }

// Subscribe registers a synchronous handler under name. Re-registering an
// existing name is a no-op.
func (e *Event[T]) Subscribe(name string, fn func(T) error) {
	e.add(name, fn, false)
}

// SubscribeAsync registers a suspend-capable handler under name. It runs as an
// independently scheduled task on the dispatcher pump; its error never reaches
// the publisher. Re-registering an existing name is a no-op.
func (e *Event[T]) SubscribeAsync(name string, fn func(T) error) {
	e.add(name, fn, true)
}

func (e *Event[T]) add(name string, fn func(T) error, async bool) {
	if fn == nil {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, s := range e.subs {
		if s.name == name {
			return
		}
	}
	e.subs = append(e.subs, subscription[T]{name: name, fn: fn, async: async})
}

// Unsubscribe removes the handler registered under name, if any.
func (e *Event[T]) Unsubscribe(name string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for i, s := range e.subs {
		if s.name == name {
			e.subs = append(e.subs[:i], e.subs[i+1:]...)
			return
		}
	}
}

// Publish dispatches v to all handlers in subscription order. Publishing with
// zero subscribers is a safe no-op. Safe to call from any goroutine: async
// handlers always route through the dispatcher, so off-pump publishers never
// touch pump-owned state directly.
//
// The first synchronous handler error aborts dispatch to the remaining
// handlers and is returned to the publisher.
func (e *Event[T]) Publish(v T) error {
	e.mu.RLock()
	subs := make([]subscription[T], len(e.subs))
	copy(subs, e.subs)
	e.mu.RUnlock()

	metrics.EventPublishesTotal.WithLabelValues(e.name).Inc()

	for _, s := range subs {
		if s.async {
			e.scheduleAsync(s, v)
			continue
		}
		if err := s.fn(v); err != nil {
			return fmt.Errorf("event %s handler %s: %w", e.name, s.name, err)
		}
	}
	return nil
}

func (e *Event[T]) scheduleAsync(s subscription[T], v T) {
	e.disp.Enqueue(func() {
		if err := s.fn(v); err != nil {
			metrics.EventHandlerErrorsTotal.WithLabelValues(e.name).Inc()
			slog.Error("Async event handler failed", "event", e.name, "handler", s.name, "error", err)
		}
	})
}
