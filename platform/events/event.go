// Package events is an in-process publish/subscribe bus. Modules publish
// facts about state changes; subscribers react without the publisher
// knowing them.
// This is part of the platform layer and contains no business logic.
package events

import (
	"context"
	"time"
)

// Event is a named fact with the time it happened.
type Event interface {
	EventName() string
	OccurredAt() time.Time
}

// BaseEvent carries the timestamp shared by all events. Embed it.
type BaseEvent struct {
	Timestamp time.Time `json:"timestamp"`
}

// OccurredAt returns when the event occurred.
func (e BaseEvent) OccurredAt() time.Time {
	return e.Timestamp
}

// NewBaseEventAt stamps an event with t, normalized to UTC. Publishers pass
// the time of the state change, not the time of publishing.
func NewBaseEventAt(t time.Time) BaseEvent {
	return BaseEvent{Timestamp: t.UTC()}
}

// Handler reacts to one event.
type Handler interface {
	Handle(ctx context.Context, event Event) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, event Event) error

// Handle calls f.
func (f HandlerFunc) Handle(ctx context.Context, event Event) error {
	return f(ctx, event)
}

// Bus routes events to the handlers subscribed to their name.
type Bus interface {
	// Publish hands the event to its handlers without waiting. Two Publish
	// calls may be handled in either order.
	Publish(ctx context.Context, event Event)
	// PublishSync runs the handlers in the caller's goroutine and joins
	// their errors.
	PublishSync(ctx context.Context, event Event) error
	// Subscribe registers handler for events whose EventName is eventName.
	Subscribe(eventName string, handler Handler)
}

// SubscribeAll registers handler for each of the sample events' names.
func SubscribeAll(bus Bus, handler Handler, samples ...Event) {
	for _, e := range samples {
		bus.Subscribe(e.EventName(), handler)
	}
}
