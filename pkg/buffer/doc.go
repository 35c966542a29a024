// Package buffer implements RingBuffer, the fixed-slot, overwrite-oldest,
// latest-read buffer that every output port owns.
//
// # Semantics
//
// A ring buffer has N pre-sized slots, a write cursor and a has-data flag.
//
//   - Write(item) always succeeds in O(1). When all N slots are in use it
//     overwrites the oldest one. It never waits for a reader.
//   - ReadLatest() returns the item from the most recently completed write,
//     or false before the first write. It never returns a half-written slot.
//
// Readers are not consumers: a read does not remove anything, two readers see
// the same value, and a slow reader simply skips values. This is the
// "always serve the newest frame" contract of the runtime.
//
//	ring, err := buffer.NewRingBuffer[Frame](3)
//	ring.Write(frame)
//	latest, ok := ring.ReadLatest()
//
// # Observability
//
// Statistics (writes, reads, misses, overwrites) are always collected and
// available through Stats(). WithMetrics additionally exports them through a
// metric.MetricsRegistry. WithOverwriteCallback hands displaced items back to
// the caller, which lets frame pools recycle memory.
//
// # Concurrency
//
// One writer and many readers may run concurrently. The critical section is a
// slot assignment under a sync.RWMutex; callbacks and counters run outside it.
package buffer
