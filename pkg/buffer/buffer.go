// Package buffer provides the latest-read ring buffer that backs every output port.
package buffer

import (
	"sync"

	"github.com/tatolab/streamlib-sub000/errors"
)

// OverwriteCallback is called with the item that a write displaced.
// It runs after the buffer lock is released.
type OverwriteCallback[T any] func(item T)

// RingBuffer is a fixed-slot circular buffer with latest-read semantics.
//
// There is conceptually one writer (the owning output port) and any number of
// concurrent readers. Write never blocks and always succeeds, overwriting the
// oldest slot once the ring is full. ReadLatest returns the most recently
// completed write; readers may see the same value twice or skip values.
type RingBuffer[T any] struct {
	mu      sync.RWMutex
	slots   []T
	cursor  int // next write position
	filled  int // slots written at least once, capped at len(slots)
	hasData bool

	stats   *Statistics // always collected
	metrics *ringMetrics
	opts    *ringOptions[T]
}

// NewRingBuffer creates a ring buffer with the given number of pre-sized slots.
// Returns an invalid error when slots < 1, or a transient error when metrics
// registration fails.
func NewRingBuffer[T any](slots int, options ...Option[T]) (*RingBuffer[T], error) {
	if slots < 1 {
		return nil, errors.WrapInvalid(errors.ErrInvalidBufferSlots, "RingBuffer", "NewRingBuffer", "slot count validation")
	}

	opts := applyOptions(options...)

	var metrics *ringMetrics
	if opts.metricsReg != nil && opts.metricsPrefix != "" {
		var err error
		metrics, err = newRingMetrics(opts.metricsReg, opts.metricsPrefix)
		if err != nil {
			return nil, errors.WrapTransient(err, "RingBuffer", "NewRingBuffer", "metrics registration")
		}
	}

	return &RingBuffer[T]{
		slots:   make([]T, slots),
		stats:   NewStatistics(),
		metrics: metrics,
		opts:    opts,
	}, nil
}

// Write stores item in the next slot, overwriting the oldest value when full.
// It never blocks beyond the slot assignment and never fails.
func (rb *RingBuffer[T]) Write(item T) {
	rb.mu.Lock()

	overwrote := rb.filled == len(rb.slots)
	displaced := rb.slots[rb.cursor]

	rb.slots[rb.cursor] = item
	rb.cursor = (rb.cursor + 1) % len(rb.slots)
	if !overwrote {
		rb.filled++
	}
	rb.hasData = true

	rb.mu.Unlock()

	rb.stats.Write()
	if rb.metrics != nil {
		rb.metrics.writes.Inc()
	}

	if overwrote {
		rb.stats.Overwrite()
		if rb.metrics != nil {
			rb.metrics.overwrites.Inc()
		}
		if rb.opts.overwriteCallback != nil {
			rb.opts.overwriteCallback(displaced)
		}
	}
}

// ReadLatest returns the most recently written item.
// The boolean is false until the first write.
func (rb *RingBuffer[T]) ReadLatest() (T, bool) {
	rb.mu.RLock()
	if !rb.hasData {
		rb.mu.RUnlock()
		rb.stats.Miss()
		if rb.metrics != nil {
			rb.metrics.misses.Inc()
		}
		var zero T
		return zero, false
	}
	item := rb.slots[rb.latestIndex()]
	rb.mu.RUnlock()

	rb.stats.Read()
	if rb.metrics != nil {
		rb.metrics.reads.Inc()
	}
	return item, true
}

// Recent returns up to n of the most recent items, newest first.
func (rb *RingBuffer[T]) Recent(n int) []T {
	if n <= 0 {
		return nil
	}

	rb.mu.RLock()
	defer rb.mu.RUnlock()

	if n > rb.filled {
		n = rb.filled
	}

	result := make([]T, 0, n)
	idx := rb.latestIndex()
	for i := 0; i < n; i++ {
		result = append(result, rb.slots[idx])
		idx = (idx - 1 + len(rb.slots)) % len(rb.slots)
	}
	return result
}

// latestIndex must be called with the lock held and hasData true.
func (rb *RingBuffer[T]) latestIndex() int {
	return (rb.cursor - 1 + len(rb.slots)) % len(rb.slots)
}

// IsEmpty reports whether nothing has been written yet.
func (rb *RingBuffer[T]) IsEmpty() bool {
	rb.mu.RLock()
	defer rb.mu.RUnlock()
	return !rb.hasData
}

// Slots returns the number of slots; immutable after construction.
func (rb *RingBuffer[T]) Slots() int {
	return len(rb.slots)
}

// Reset discards all stored items. Statistics are kept.
func (rb *RingBuffer[T]) Reset() {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	var zero T
	for i := range rb.slots {
		rb.slots[i] = zero
	}
	rb.cursor = 0
	rb.filled = 0
	rb.hasData = false
}

// Stats returns the buffer statistics.
func (rb *RingBuffer[T]) Stats() *Statistics {
	return rb.stats
}
