package bot

import (
	"sync"

	"github.com/keepmind9/chatbridge/internal/logger"
	"github.com/sirupsen/logrus"
)

// EventHandler handles one normalized event.
type EventHandler func(Event)

// Dispatcher fans normalized events out to subscribers. Type-specific
// handlers run first in registration order, then wildcard handlers in
// registration order. A panicking handler is logged and never prevents the
// remaining handlers from running. Events are not queued or replayed:
// handlers registered after a dispatch do not receive it.
type Dispatcher struct {
	mu       sync.RWMutex
	handlers map[EventType][]EventHandler
	wildcard []EventHandler
}

// NewDispatcher creates an empty dispatcher.
func NewDispatcher() *Dispatcher {
	return &Dispatcher{
		handlers: make(map[EventType][]EventHandler),
	}
}

// On registers a handler for a specific event type.
func (d *Dispatcher) On(t EventType, h EventHandler) {
	if h == nil {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handlers[t] = append(d.handlers[t], h)
}

// OnAny registers a wildcard handler invoked for every event, after the
// type-specific handlers.
func (d *Dispatcher) OnAny(h EventHandler) {
	if h == nil {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.wildcard = append(d.wildcard, h)
}

// Dispatch delivers an event to all matching handlers.
func (d *Dispatcher) Dispatch(ev Event) {
	d.mu.RLock()
	typed := make([]EventHandler, len(d.handlers[ev.Type]))
	copy(typed, d.handlers[ev.Type])
	wildcard := make([]EventHandler, len(d.wildcard))
	copy(wildcard, d.wildcard)
	d.mu.RUnlock()

	for _, h := range typed {
		d.invoke(h, ev)
	}
	for _, h := range wildcard {
		d.invoke(h, ev)
	}
}

// invoke runs one handler, isolating the dispatch loop from its panics.
func (d *Dispatcher) invoke(h EventHandler, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			logger.WithFields(logrus.Fields{
				"platform":   ev.Platform,
				"event_type": ev.Type,
				"panic":      r,
			}).Error("event-handler-panicked")
		}
	}()
	h(ev)
}
