package buffer

import (
	"sync/atomic"
	"time"
)

// Statistics tracks ring buffer activity with atomic counters.
type Statistics struct {
	writes     atomic.Int64
	reads      atomic.Int64
	misses     atomic.Int64
	overwrites atomic.Int64
	startTime  time.Time
}

// NewStatistics creates a new statistics tracker.
func NewStatistics() *Statistics {
	return &Statistics{startTime: time.Now()}
}

// Write records a write.
func (s *Statistics) Write() { s.writes.Add(1) }

// Read records a successful latest read.
func (s *Statistics) Read() { s.reads.Add(1) }

// Miss records a read that found the buffer empty.
func (s *Statistics) Miss() { s.misses.Add(1) }

// Overwrite records a write that displaced an older slot.
func (s *Statistics) Overwrite() { s.overwrites.Add(1) }

// Writes returns the total number of writes.
func (s *Statistics) Writes() int64 { return s.writes.Load() }

// Reads returns the total number of successful reads.
func (s *Statistics) Reads() int64 { return s.reads.Load() }

// Misses returns the number of reads that found nothing.
func (s *Statistics) Misses() int64 { return s.misses.Load() }

// Overwrites returns the number of displaced slots.
func (s *Statistics) Overwrites() int64 { return s.overwrites.Load() }

// Throughput returns the average number of writes per second.
func (s *Statistics) Throughput() float64 {
	elapsed := time.Since(s.startTime)
	if elapsed <= 0 {
		return 0.0
	}
	return float64(s.Writes()) / elapsed.Seconds()
}

// StatsSummary is a point-in-time snapshot of Statistics.
type StatsSummary struct {
	Writes     int64   `json:"writes"`
	Reads      int64   `json:"reads"`
	Misses     int64   `json:"misses"`
	Overwrites int64   `json:"overwrites"`
	Throughput float64 `json:"throughput"`
}

// Summary returns a snapshot of all statistics.
func (s *Statistics) Summary() StatsSummary {
	return StatsSummary{
		Writes:     s.Writes(),
		Reads:      s.Reads(),
		Misses:     s.Misses(),
		Overwrites: s.Overwrites(),
		Throughput: s.Throughput(),
	}
}
