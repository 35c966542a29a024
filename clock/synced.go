package clock

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/tatolab/streamlib-sub000/errors"
	"github.com/tatolab/streamlib-sub000/pkg/retry"
)

// Mode reports whether a synchronized clock is locked to its reference.
type Mode int

const (
	ModeFreeRunning Mode = iota
	ModeSynchronized
)

func (m Mode) String() string {
	if m == ModeSynchronized {
		return "synchronized"
	}
	return "free-running"
}

// SyncSource provides the offset between a network reference clock and the
// local wall clock, e.g. a PTP grandmaster.
type SyncSource interface {
	Acquire(ctx context.Context) (time.Duration, error)
}

// PulseSource delivers hardware reference pulses, one per frame.
// The channel is closed when the reference is lost.
type PulseSource interface {
	Pulses(ctx context.Context) (<-chan time.Time, error)
}

// syncState is shared by the synchronized clocks.
type syncState struct {
	kind   string
	logger *slog.Logger
	retry  retry.Config

	syncMu sync.RWMutex
	mode   Mode
}

func (s *syncState) Synchronized() bool {
	return s.Mode() == ModeSynchronized
}

func (s *syncState) Mode() Mode {
	s.syncMu.RLock()
	defer s.syncMu.RUnlock()
	return s.mode
}

func (s *syncState) setMode(m Mode) {
	s.syncMu.Lock()
	s.mode = m
	s.syncMu.Unlock()
}

// fallback switches to free-running and says so.
func (s *syncState) fallback(id, reason string, cause error) error {
	s.setMode(ModeFreeRunning)
	s.logger.Warn("clock falling back to free-running",
		"clock", id, "kind", s.kind, "reason", reason, "error", cause)
	err := errors.ErrClockUnavailable
	if cause != nil {
		err = fmt.Errorf("%w: %w", errors.ErrClockUnavailable, cause)
	}
	return errors.WrapTransient(err, s.kind, "Lock", reason)
}

func (s *syncState) init(kind string, logger *slog.Logger, opts []SyncOption) {
	if logger == nil {
		logger = slog.Default()
	}
	s.kind = kind
	s.logger = logger.With("component", "clock")
	s.retry = retry.Sync()
	for _, opt := range opts {
		opt(s)
	}
}

// SyncOption configures a synchronized clock.
type SyncOption func(*syncState)

// WithRetry overrides the acquisition backoff policy.
func WithRetry(cfg retry.Config) SyncOption {
	return func(s *syncState) { s.retry = cfg }
}

// PTP paces like FreeRunning and, once locked, stamps ticks in the
// reference timescale by applying the offset reported by its SyncSource.
type PTP struct {
	*FreeRunning
	syncState

	source SyncSource
	offset time.Duration
}

// NewPTP creates a PTP clock. A nil source means no network reference is
// configured; Lock then falls back immediately.
func NewPTP(id string, fps float64, source SyncSource, logger *slog.Logger, opts ...SyncOption) (*PTP, error) {
	if id == "" {
		id = "ptp"
	}
	free, err := NewFreeRunning(id, fps)
	if err != nil {
		return nil, err
	}

	c := &PTP{
		FreeRunning: free,
		source:      source,
	}
	c.syncState.init("ptp", logger, opts)
	return c, nil
}

// Lock acquires the reference offset with retry.
func (c *PTP) Lock(ctx context.Context) error {
	if c.source == nil {
		return c.fallback(c.ID(), "no sync source configured", nil)
	}

	offset, err := retry.DoWithResult(ctx, c.retry, func() (time.Duration, error) {
		return c.source.Acquire(ctx)
	})
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return c.fallback(c.ID(), "sync acquisition failed", err)
	}

	c.syncMu.Lock()
	c.offset = offset
	c.mode = ModeSynchronized
	c.syncMu.Unlock()

	c.logger.Info("clock synchronized", "clock", c.ID(), "kind", c.kind, "offset", offset)
	return nil
}

// Offset returns the reference offset applied to timestamps.
func (c *PTP) Offset() time.Duration {
	c.syncMu.RLock()
	defer c.syncMu.RUnlock()
	return c.offset
}

// NextTick implements Clock.
func (c *PTP) NextTick(ctx context.Context) (TimedTick, error) {
	tick, err := c.FreeRunning.NextTick(ctx)
	if err != nil {
		return tick, err
	}

	c.syncMu.RLock()
	if c.mode == ModeSynchronized {
		tick.Timestamp += c.offset.Seconds()
	}
	c.syncMu.RUnlock()
	return tick, nil
}

// Genlock ticks on reference pulses while locked. If the pulse stream ends
// it continues on the free-running schedule from the current frame.
type Genlock struct {
	*FreeRunning
	syncState

	source PulseSource
	pulses <-chan time.Time
}

// NewGenlock creates a genlock clock. A nil source falls back on Lock.
func NewGenlock(id string, fps float64, source PulseSource, logger *slog.Logger, opts ...SyncOption) (*Genlock, error) {
	if id == "" {
		id = "genlock"
	}
	free, err := NewFreeRunning(id, fps)
	if err != nil {
		return nil, err
	}

	c := &Genlock{
		FreeRunning: free,
		source:      source,
	}
	c.syncState.init("genlock", logger, opts)
	return c, nil
}

// Lock opens the pulse stream with retry. The stream lives as long as ctx.
func (c *Genlock) Lock(ctx context.Context) error {
	if c.source == nil {
		return c.fallback(c.ID(), "no pulse source configured", nil)
	}

	pulses, err := retry.DoWithResult(ctx, c.retry, func() (<-chan time.Time, error) {
		return c.source.Pulses(ctx)
	})
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return c.fallback(c.ID(), "pulse source unavailable", err)
	}

	c.syncMu.Lock()
	c.pulses = pulses
	c.mode = ModeSynchronized
	c.syncMu.Unlock()

	c.logger.Info("clock synchronized", "clock", c.ID(), "kind", c.kind)
	return nil
}

// NextTick implements Clock.
func (c *Genlock) NextTick(ctx context.Context) (TimedTick, error) {
	c.syncMu.RLock()
	pulses, mode := c.pulses, c.mode
	c.syncMu.RUnlock()

	if mode != ModeSynchronized {
		return c.FreeRunning.NextTick(ctx)
	}

	select {
	case <-ctx.Done():
		return TimedTick{}, ctx.Err()
	case at, ok := <-pulses:
		if ok {
			return c.tick(at), nil
		}
	}

	// reference lost: keep the frame count, pace locally from here
	c.syncMu.Lock()
	c.pulses = nil
	c.syncMu.Unlock()
	_ = c.fallback(c.ID(), "pulse stream closed", nil)
	c.anchor(time.Now())
	return c.FreeRunning.NextTick(ctx)
}
