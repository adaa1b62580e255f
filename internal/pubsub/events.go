// Package pubsub provides a type-safe pub/sub broker.
package pubsub

import (
	"context"
	"time"
)

// EventType represents the type of event.
type EventType string

// Event represents a typed event with metadata.
type Event[T any] struct { //nolint:govet // fieldalignment: preserving logical field order
	Type      EventType
	Payload   T
	Timestamp time.Time
}

// Publisher is the interface for publishing events.
type Publisher[T any] interface {
	Publish(EventType, T)
}

// Subscriber is the interface for subscribing to events.
// With no types given, every event is delivered.
type Subscriber[T any] interface {
	Subscribe(ctx context.Context, types ...EventType) <-chan Event[T]
}
