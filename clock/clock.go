package clock

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/tatolab/streamlib-sub000/errors"
)

// TimedTick is one clock event, copied by value to every subscriber.
type TimedTick struct {
	Timestamp   float64 `json:"timestamp"`    // wall-clock seconds since the Unix epoch
	FrameNumber uint64  `json:"frame_number"` // monotonic, starts at 0
	ClockID     string  `json:"clock_id"`
}

// Time converts Timestamp back to a time.Time.
func (t TimedTick) Time() time.Time {
	sec := int64(t.Timestamp)
	nsec := int64((t.Timestamp - float64(sec)) * 1e9)
	return time.Unix(sec, nsec)
}

func (t TimedTick) String() string {
	return fmt.Sprintf("%s#%d", t.ClockID, t.FrameNumber)
}

// Clock is a periodic tick source.
type Clock interface {
	// NextTick suspends until the next period boundary and returns a tick with
	// a strictly increasing frame number. It returns ctx.Err() as soon as ctx
	// is done.
	NextTick(ctx context.Context) (TimedTick, error)
	FPS() float64
	ID() string
	// Reset re-anchors pacing to now and zeroes the frame counter.
	Reset()
}

// Syncer is implemented by clocks that must acquire an external reference
// before ticking. Lock returns an ErrClockUnavailable error when the clock
// fell back to free-running; the clock stays usable either way.
type Syncer interface {
	Lock(ctx context.Context) error
	Synchronized() bool
	Mode() Mode
}

// Kind selects a clock implementation in configuration.
type Kind string

const (
	KindFree    Kind = "free"
	KindPTP     Kind = "ptp"
	KindGenlock Kind = "genlock"
)

// New builds a clock of the given kind. Synchronized kinds are created
// without a sync source, so they lock onto nothing and run free with a
// warning until a real source is supplied through NewPTP or NewGenlock.
func New(kind Kind, id string, fps float64, logger *slog.Logger) (Clock, error) {
	switch kind {
	case KindFree, "":
		return NewFreeRunning(id, fps)
	case KindPTP:
		return NewPTP(id, fps, nil, logger)
	case KindGenlock:
		return NewGenlock(id, fps, nil, logger)
	default:
		return nil, errors.WrapInvalid(
			fmt.Errorf("%w: %q", errors.ErrInvalidConfig, kind), "clock", "New", "clock kind lookup")
	}
}

func timestamp(t time.Time) float64 {
	return float64(t.UnixNano()) / 1e9
}

func validateFPS(component string, fps float64) error {
	if fps <= 0 {
		return errors.WrapInvalid(
			fmt.Errorf("%w: fps must be positive, got %v", errors.ErrInvalidConfig, fps),
			component, "New", "fps validation")
	}
	return nil
}

func periodOf(fps float64) time.Duration {
	return time.Duration(float64(time.Second) / fps)
}

// sleepUntil waits for the monotonic deadline or ctx, whichever comes first.
func sleepUntil(ctx context.Context, deadline time.Time) error {
	wait := time.Until(deadline)
	if wait <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
