// Package eventbus is an in-process publish/subscribe bus for document
// change events.
package eventbus

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"firestore-odm/pkg/logger"
)

// Event represents a generic event
type Event interface {
	Type() string
	Data() interface{}
	Timestamp() time.Time
	Source() string
}

// Handler defines the event handler function type
type Handler func(ctx context.Context, event Event) error

type subscription struct {
	id      string
	handler Handler
}

// EventBus delivers events synchronously, in subscription order, on the
// publisher's goroutine. No lock is held while a handler runs.
type EventBus struct {
	mu       sync.RWMutex
	handlers map[string][]subscription
	logger   logger.Logger
}

// NewEventBus creates a new event bus instance
func NewEventBus(log logger.Logger) *EventBus {
	if log == nil {
		log = logger.NewNop()
	}
	return &EventBus{
		handlers: make(map[string][]subscription),
		logger:   log.WithComponent("eventbus"),
	}
}

// Subscribe adds a handler for a specific event type and returns its subscription id.
func (eb *EventBus) Subscribe(eventType string, handler Handler) string {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	id := uuid.NewString()
	eb.handlers[eventType] = append(eb.handlers[eventType], subscription{id: id, handler: handler})
	eb.logger.Debugf("Subscribed handler %s for event type: %s", id, eventType)
	return id
}

// Remove drops a single subscription. It reports whether the id was known.
func (eb *EventBus) Remove(subscriptionID string) bool {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	for eventType, subs := range eb.handlers {
		for i, s := range subs {
			if s.id != subscriptionID {
				continue
			}
			rest := make([]subscription, 0, len(subs)-1)
			rest = append(rest, subs[:i]...)
			rest = append(rest, subs[i+1:]...)
			if len(rest) == 0 {
				delete(eb.handlers, eventType)
			} else {
				eb.handlers[eventType] = rest
			}
			eb.logger.Debugf("Removed handler %s for event type: %s", subscriptionID, eventType)
			return true
		}
	}
	return false
}

// Publish runs every handler registered for the event's type. A failing
// handler is logged and does not stop the others; the first error is returned.
func (eb *EventBus) Publish(ctx context.Context, event Event) error {
	eb.mu.RLock()
	subs := eb.handlers[event.Type()]
	eb.mu.RUnlock()

	if len(subs) == 0 {
		eb.logger.Debugf("No handlers found for event type: %s", event.Type())
		return nil
	}

	eb.logger.Debugf("Publishing event type: %s to %d handlers", event.Type(), len(subs))

	var firstErr error
	for _, s := range subs {
		if err := s.handler(ctx, event); err != nil {
			eb.logger.Errorf("Handler %s failed for event %s: %v", s.id, event.Type(), err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

// Unsubscribe removes all handlers for a specific event type
func (eb *EventBus) Unsubscribe(eventType string) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	delete(eb.handlers, eventType)
	eb.logger.Debugf("Unsubscribed all handlers for event type: %s", eventType)
}

// BasicEvent implements the Event interface
type BasicEvent struct {
	eventType string
	data      interface{}
	timestamp time.Time
	source    string
}

// NewBasicEventWithSource creates a new basic event with source
func NewBasicEventWithSource(eventType string, data interface{}, source string) Event {
	return &BasicEvent{
		eventType: eventType,
		data:      data,
		timestamp: time.Now(),
		source:    source,
	}
}

func (e *BasicEvent) Type() string         { return e.eventType }
func (e *BasicEvent) Data() interface{}    { return e.data }
func (e *BasicEvent) Timestamp() time.Time { return e.timestamp }
func (e *BasicEvent) Source() string       { return e.source }

// Document event types
const (
	EventTypeDocumentChanged = "document.changed"
)
