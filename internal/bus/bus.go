// Package bus is the in-process publish/subscribe hub that decouples the
// gateway from agent runtimes.
package bus

import (
	"fmt"
	"reflect"
	"sync"

	"github.com/rs/zerolog"

	"github.com/eldtechnologies/chatrelay/internal/metrics"
)

// Event names emitted by the gateway and HTTP handlers.
const (
	EntityJoined    = "ENTITY_JOINED"
	MessageReceived = "MESSAGE_RECEIVED"
	MessageDeleted  = "MESSAGE_DELETED"
	ChannelCleared  = "CHANNEL_CLEARED"
)

// Handler receives events. Implementations must be comparable; the bus
// identifies a subscription by the (event, handler) pair.
type Handler interface {
	Handle(event string, data any) error
}

// HandlerFunc adapts a function to Handler. Use Func to obtain a value
// that can be subscribed and later removed.
type HandlerFunc func(event string, data any) error

// Func wraps fn in a pointer so it has a stable identity.
func Func(fn func(event string, data any) error) Handler {
	h := HandlerFunc(fn)
	return &h
}

// Handle calls the wrapped function.
func (f *HandlerFunc) Handle(event string, data any) error {
	return (*f)(event, data)
}

// Bus dispatches events synchronously to subscribed handlers.
type Bus struct {
	mu       sync.RWMutex
	handlers map[string][]Handler
	logger   zerolog.Logger
}

// New creates an empty bus.
func New(logger zerolog.Logger) *Bus {
	return &Bus{
		handlers: make(map[string][]Handler),
		logger:   logger.With().Str("component", "bus").Logger(),
	}
}

// On subscribes h to event. Subscribing the same pair twice is a no-op.
// h must be of a comparable type, such as a pointer or the value returned
// by Func; other handlers are logged and ignored.
func (b *Bus) On(event string, h Handler) {
	if h == nil {
		return
	}
	if !isComparable(h) {
		b.logger.Error().
			Str("event", event).
			Str("handler", fmt.Sprintf("%T", h)).
			Msg("handler type is not comparable, subscription ignored")
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, existing := range b.handlers[event] {
		if existing == h {
			return
		}
	}
	b.handlers[event] = append(b.handlers[event], h)
}

// Off removes exactly the (event, h) subscription. Removing an unknown pair
// is a no-op.
func (b *Bus) Off(event string, h Handler) {
	if h == nil || !isComparable(h) {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	list := b.handlers[event]
	for i, existing := range list {
		if existing != h {
			continue
		}
		next := make([]Handler, 0, len(list)-1)
		next = append(next, list[:i]...)
		next = append(next, list[i+1:]...)
		if len(next) == 0 {
			delete(b.handlers, event)
		} else {
			b.handlers[event] = next
		}
		return
	}
}

// Emit calls every handler of event in registration order. A failing or
// panicking handler is logged and does not stop the others. Emit always
// reports true.
func (b *Bus) Emit(event string, data any) bool {
	b.mu.RLock()
	list := b.handlers[event]
	b.mu.RUnlock()

	metrics.BusEmits.WithLabelValues(event).Inc()
	for _, h := range list {
		b.dispatch(event, h, data)
	}
	return true
}

func (b *Bus) dispatch(event string, h Handler, data any) {
	defer func() {
		if r := recover(); r != nil {
			metrics.BusHandlerFailures.WithLabelValues(event).Inc()
			b.logger.Error().
				Str("event", event).
				Str("panic", fmt.Sprint(r)).
				Msg("bus handler panicked")
		}
	}()

	if err := h.Handle(event, data); err != nil {
		metrics.BusHandlerFailures.WithLabelValues(event).Inc()
		b.logger.Error().Err(err).Str("event", event).Msg("bus handler failed")
	}
}

// SetMaxListeners is accepted for compatibility; the bus has no cap.
func (b *Bus) SetMaxListeners(n int) {}

// ListenerCount returns the number of handlers subscribed to event.
func (b *Bus) ListenerCount(event string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.handlers[event])
}

// Events lists the events that currently have at least one handler.
func (b *Bus) Events() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]string, 0, len(b.handlers))
	for event := range b.handlers {
		out = append(out, event)
	}
	return out
}

func isComparable(h Handler) bool {
	return reflect.TypeOf(h).Comparable()
}
