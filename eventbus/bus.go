package eventbus

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/tatolab/streamlib-sub000/errors"
	"github.com/tatolab/streamlib-sub000/metric"
)

// DefaultCapacity is the per-subscriber queue size.
const DefaultCapacity = 100

// Option configures a Bus.
type Option func(*Bus)

// WithCapacity sets the per-subscriber queue size. Values below 1 are ignored.
func WithCapacity(n int) Option {
	return func(b *Bus) {
		if n > 0 {
			b.capacity = n
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(b *Bus) {
		if logger != nil {
			b.logger = logger
		}
	}
}

// WithMetrics exports delivery counters through the registry's core metrics.
func WithMetrics(registry *metric.MetricsRegistry) Option {
	return func(b *Bus) {
		if registry != nil {
			b.metrics = registry.CoreMetrics()
		}
	}
}

// Stats is a snapshot of bus activity.
type Stats struct {
	Published   uint64       `json:"published"`
	Delivered   uint64       `json:"delivered"`
	Dropped     uint64       `json:"dropped"`
	Subscribers map[Kind]int `json:"subscribers"`
}

// Bus fans events out to per-subscriber bounded queues.
//
// Publish never blocks: when a subscriber's queue is full the event is
// dropped for that subscriber only. This is the runtime's backpressure
// policy; a slow consumer can never stall the clock or other handlers.
type Bus struct {
	capacity int
	logger   *slog.Logger
	metrics  *metric.Metrics

	mu     sync.RWMutex
	subs   map[Kind]map[uint64]*Subscription
	nextID uint64
	closed bool

	published atomic.Uint64
	delivered atomic.Uint64
	dropped   atomic.Uint64
}

// New creates an empty bus.
func New(opts ...Option) *Bus {
	b := &Bus{
		capacity: DefaultCapacity,
		logger:   slog.Default(),
		subs:     make(map[Kind]map[uint64]*Subscription),
	}
	for _, opt := range opts {
		opt(b)
	}
	b.logger = b.logger.With("component", "eventbus")
	return b
}

// Capacity returns the per-subscriber queue size.
func (b *Bus) Capacity() int {
	return b.capacity
}

// Subscribe registers a new bounded queue for kind.
func (b *Bus) Subscribe(kind Kind) (*Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, errors.WrapTransient(errors.ErrBusClosed, "Bus", "Subscribe", "register subscriber")
	}

	b.nextID++
	sub := &Subscription{
		id:   b.nextID,
		kind: kind,
		bus:  b,
		ch:   make(chan Event, b.capacity),
	}

	queues, ok := b.subs[kind]
	if !ok {
		queues = make(map[uint64]*Subscription)
		b.subs[kind] = queues
	}
	queues[sub.id] = sub

	b.recordSubscribers(kind, len(queues))
	b.logger.Debug("subscribed", "kind", kind, "subscription", sub.id)
	return sub, nil
}

// Unsubscribe removes sub's queue. Pending events are discarded and any
// consumer waiting in Next returns ErrSubscriptionClosed. Idempotent.
func (b *Bus) Unsubscribe(sub *Subscription) {
	if sub == nil {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	queues := b.subs[sub.kind]
	if _, ok := queues[sub.id]; !ok {
		return
	}
	delete(queues, sub.id)
	sub.close()

	b.recordSubscribers(sub.kind, len(queues))
	b.logger.Debug("unsubscribed", "kind", sub.kind, "subscription", sub.id)
}

// Publish offers event to every queue registered for its kind without
// blocking. Publishing on a cleared bus is a no-op.
func (b *Bus) Publish(event Event) {
	if event == nil {
		return
	}
	kind := event.Kind()

	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return
	}
	b.published.Add(1)

	for _, sub := range b.subs[kind] {
		select {
		case sub.ch <- event:
			b.delivered.Add(1)
			if b.metrics != nil {
				b.metrics.RecordDelivered(string(kind))
			}
		default:
			sub.dropped.Add(1)
			b.dropped.Add(1)
			if b.metrics != nil {
				b.metrics.RecordDropped(string(kind))
			}
		}
	}
}

// Clear drains and removes every subscriber and closes the bus to new
// subscriptions. Stats remain readable.
func (b *Bus) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true

	for kind, queues := range b.subs {
		for _, sub := range queues {
			sub.close()
		}
		delete(b.subs, kind)
		b.recordSubscribers(kind, 0)
	}
	b.logger.Debug("bus cleared", "published", b.published.Load(), "dropped", b.dropped.Load())
}

// Closed reports whether Clear has been called.
func (b *Bus) Closed() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.closed
}

// Stats returns a snapshot of the counters.
func (b *Bus) Stats() Stats {
	b.mu.RLock()
	defer b.mu.RUnlock()

	subscribers := make(map[Kind]int, len(b.subs))
	for kind, queues := range b.subs {
		subscribers[kind] = len(queues)
	}

	return Stats{
		Published:   b.published.Load(),
		Delivered:   b.delivered.Load(),
		Dropped:     b.dropped.Load(),
		Subscribers: subscribers,
	}
}

// recordSubscribers must be called with the write lock held.
func (b *Bus) recordSubscribers(kind Kind, n int) {
	if b.metrics != nil {
		b.metrics.RecordSubscribers(string(kind), n)
	}
}

// Subscription is one subscriber's bounded queue.
type Subscription struct {
	id      uint64
	kind    Kind
	bus     *Bus
	ch      chan Event
	once    sync.Once
	dropped atomic.Uint64
}

// Kind returns the subscribed event kind.
func (s *Subscription) Kind() Kind { return s.kind }

// C returns the receive channel. It is closed when the subscription ends.
func (s *Subscription) C() <-chan Event { return s.ch }

// Dropped returns the number of events dropped because the queue was full.
func (s *Subscription) Dropped() uint64 { return s.dropped.Load() }

// Len returns the number of queued events.
func (s *Subscription) Len() int { return len(s.ch) }

// Next waits for the next event. It returns ctx.Err() when ctx is done and
// ErrSubscriptionClosed once the subscription has been removed.
func (s *Subscription) Next(ctx context.Context) (Event, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case ev, ok := <-s.ch:
		if !ok {
			return nil, errors.ErrSubscriptionClosed
		}
		return ev, nil
	}
}

// Unsubscribe is shorthand for Bus.Unsubscribe.
func (s *Subscription) Unsubscribe() {
	s.bus.Unsubscribe(s)
}

// close drains and closes the queue. Callers hold the bus write lock, so
// no Publish is sending concurrently.
func (s *Subscription) close() {
	s.once.Do(func() {
		for {
			select {
			case <-s.ch:
			default:
				close(s.ch)
				return
			}
		}
	})
}
