package pubsub

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// DefaultBufferSize is the default channel buffer for subscribers.
const DefaultBufferSize = 64

// BrokerOption configures a Broker.
type BrokerOption[T any] func(*Broker[T])

// WithBufferSize sets the subscriber channel buffer size.
func WithBufferSize[T any](size int) BrokerOption[T] {
	return func(b *Broker[T]) {
		b.bufferSize = size
	}
}

// WithClock sets the function used to stamp events.
func WithClock[T any](now func() time.Time) BrokerOption[T] {
	return func(b *Broker[T]) {
		b.now = now
	}
}

type subscription[T any] struct {
	ch    chan Event[T]
	types map[EventType]struct{}
}

func (s *subscription[T]) wants(t EventType) bool {
	if len(s.types) == 0 {
		return true
	}
	_, ok := s.types[t]
	return ok
}

// Broker is a type-safe pub/sub broker.
// It is safe for concurrent use; subscriptions end with their context.
type Broker[T any] struct { //nolint:govet // fieldalignment: preserving logical field order
	name       string
	subs       map[*subscription[T]]struct{}
	mu         sync.RWMutex
	done       chan struct{}
	bufferSize int
	now        func() time.Time

	publishCount atomic.Int64
	dropCount    atomic.Int64
}

// NewBroker creates a new typed broker with optional configuration.
func NewBroker[T any](name string, opts ...BrokerOption[T]) *Broker[T] {
	b := &Broker[T]{
		name:       name,
		subs:       make(map[*subscription[T]]struct{}),
		done:       make(chan struct{}),
		bufferSize: DefaultBufferSize,
		now:        time.Now,
	}

	for _, opt := range opts {
		opt(b)
	}

	return b
}

// Name returns the broker's name.
func (b *Broker[T]) Name() string {
	return b.name
}

// Subscribe returns a channel receiving events of the given types, or of
// every type when none are given. The channel is closed when ctx is done or
// the broker shuts down.
func (b *Broker[T]) Subscribe(ctx context.Context, types ...EventType) <-chan Event[T] {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.IsShutdown() {
		ch := make(chan Event[T])
		close(ch)
		return ch
	}

	sub := &subscription[T]{ch: make(chan Event[T], b.bufferSize)}
	if len(types) > 0 {
		sub.types = make(map[EventType]struct{}, len(types))
		for _, t := range types {
			sub.types[t] = struct{}{}
		}
	}
	b.subs[sub] = struct{}{}

	go func() {
		select {
		case <-ctx.Done():
		case <-b.done:
		}

		b.mu.Lock()
		defer b.mu.Unlock()

		if _, ok := b.subs[sub]; !ok {
			return
		}
		delete(b.subs, sub)
		close(sub.ch)
	}()

	return sub.ch
}

// Publish sends an event to every interested subscriber. It never blocks:
// a subscriber whose buffer is full misses the event and the drop is
// counted in Metrics.
func (b *Broker[T]) Publish(eventType EventType, payload T) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.IsShutdown() || len(b.subs) == 0 {
		return
	}

	event := Event[T]{
		Type:      eventType,
		Payload:   payload,
		Timestamp: b.now(),
	}
	b.publishCount.Add(1)

	for sub := range b.subs {
		if !sub.wants(eventType) {
			continue
		}
		select {
		case sub.ch <- event:
		default:
			b.dropCount.Add(1)
		}
	}
}

// Shutdown closes every subscriber channel. Later publishes are ignored.
func (b *Broker[T]) Shutdown() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.IsShutdown() {
		return
	}
	close(b.done)

	for sub := range b.subs {
		delete(b.subs, sub)
		close(sub.ch)
	}
}

// IsShutdown returns true if the broker has been shut down.
func (b *Broker[T]) IsShutdown() bool {
	select {
	case <-b.done:
		return true
	default:
		return false
	}
}

// SubscriberCount returns the current number of subscribers.
func (b *Broker[T]) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Metrics returns publish and drop counters.
func (b *Broker[T]) Metrics() BrokerMetrics {
	return BrokerMetrics{
		Name:            b.name,
		PublishCount:    b.publishCount.Load(),
		DropCount:       b.dropCount.Load(),
		SubscriberCount: b.SubscriberCount(),
	}
}

// BrokerMetrics contains broker statistics.
type BrokerMetrics struct {
	Name            string
	PublishCount    int64
	DropCount       int64
	SubscriberCount int
}
