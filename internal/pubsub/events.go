// Package pubsub provides a generic publish/subscribe event system used to fan
// engine state changes, attempt notifications, and log lines out to observers.
package pubsub

import (
	"context"
	"time"
)

// EventType represents the type of event being published.
type EventType string

const (
	// StateChangedEvent is published when the focus engine changes state.
	StateChangedEvent EventType = "state_changed"
	// AttemptEvent is published for every counted bypass attempt.
	AttemptEvent EventType = "attempt"
	// WarningEvent carries non-fatal problems such as recovered inconsistencies.
	WarningEvent EventType = "warning"
	// LogEvent carries a formatted log line.
	LogEvent EventType = "log"
)

// Event represents a published event with a typed payload.
type Event[T any] struct {
	Type      EventType
	Payload   T
	Timestamp time.Time
}

// Subscriber provides a subscription channel for events.
type Subscriber[T any] interface {
	Subscribe(ctx context.Context) <-chan Event[T]
}

// Publisher allows publishing events with a typed payload.
type Publisher[T any] interface {
	Publish(eventType EventType, payload T)
}
