// Package events provides a simple event bus for publish/subscribe patterns.
// The pipeline publishes record lifecycle events and the registry publishes
// index bootstrap events.
package events

import (
	"context"
	"strings"
	"sync"

	"github.com/amber7117/server-api/domain/record"
	"github.com/rs/zerolog"
)

// Event names are "<resource>.<action>".
const (
	ActionCreated    = "created"
	ActionUpdated    = "updated"
	ActionRemoved    = "removed"
	ActionIndexBuilt = "index_built"
)

// Event represents a published event.
type Event struct {
	// Name is the event name (e.g., "products.created").
	Name string

	// Resource is the resource key that emitted the event.
	Resource string

	// Action is the lifecycle action.
	Action string

	// Key identifies the affected record, if any.
	Key string

	// Data contains the event payload (typically the stored record).
	Data record.Record
}

// Name builds an event name from a resource key and action.
func Name(resource, action string) string {
	return resource + "." + action
}

// Handler is a function that processes an event.
type Handler func(ctx context.Context, event Event) error

// Bus is a simple publish/subscribe event bus.
type Bus struct {
	mu       sync.RWMutex
	handlers map[string][]Handler
	logger   zerolog.Logger
}

// NewBus creates a new event bus.
func NewBus(logger zerolog.Logger) *Bus {
	return &Bus{
		handlers: make(map[string][]Handler),
		logger:   logger,
	}
}

// Subscribe registers a handler for an event.
// Supports wildcard subscriptions:
//   - "products.created" - exact match
//   - "products.*" - all events of a resource
//   - "*" - all events
func (b *Bus) Subscribe(event string, handler Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[event] = append(b.handlers[event], handler)
}

// Publish emits an event to all matching handlers.
// Handlers are called synchronously in registration order.
// Handler errors are logged and do not stop delivery.
func (b *Bus) Publish(ctx context.Context, event Event) {
	matched := b.match(event.Name)

	b.logger.Debug().
		Str("event", event.Name).
		Str("resource", event.Resource).
		Str("key", event.Key).
		Int("handlers", len(matched)).
		Msg("event emitted")

	for _, handler := range matched {
		if err := handler(ctx, event); err != nil {
			b.logger.Error().
				Err(err).
				Str("event", event.Name).
				Msg("event handler error")
		}
	}
}

// PublishAsync emits an event asynchronously.
// The function returns immediately; handlers run in a goroutine and do not
// observe cancellation of ctx.
func (b *Bus) PublishAsync(ctx context.Context, event Event) {
	go b.Publish(context.WithoutCancel(ctx), event)
}

// HasSubscribers checks if any handlers are registered for an event.
func (b *Bus) HasSubscribers(event string) bool {
	return len(b.match(event)) > 0
}

// match copies the handlers for name so they run without the lock held.
func (b *Bus) match(name string) []Handler {
	b.mu.RLock()
	defer b.mu.RUnlock()

	var matched []Handler
	matched = append(matched, b.handlers[name]...)

	if name != "" {
		resource, _, _ := strings.Cut(name, ".")
		matched = append(matched, b.handlers[resource+".*"]...)
	}

	return append(matched, b.handlers["*"]...)
}
