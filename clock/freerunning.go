package clock

import (
	"context"
	"sync"
	"time"
)

// FreeRunning paces ticks from the local monotonic clock.
//
// Tick n is due at start + n*period. A late call returns immediately and the
// frame number still advances by one; lateness is neither reported nor
// corrected.
type FreeRunning struct {
	id     string
	fps    float64
	period time.Duration

	mu    sync.Mutex
	start time.Time
	frame uint64
}

// NewFreeRunning creates a free-running clock. fps must be positive.
func NewFreeRunning(id string, fps float64) (*FreeRunning, error) {
	if err := validateFPS("FreeRunning", fps); err != nil {
		return nil, err
	}
	if id == "" {
		id = "free"
	}
	return &FreeRunning{
		id:     id,
		fps:    fps,
		period: periodOf(fps),
		start:  time.Now(),
	}, nil
}

// NextTick implements Clock.
func (c *FreeRunning) NextTick(ctx context.Context) (TimedTick, error) {
	if err := ctx.Err(); err != nil {
		return TimedTick{}, err
	}

	c.mu.Lock()
	frame := c.frame
	target := c.start.Add(time.Duration(frame) * c.period)
	c.mu.Unlock()

	if err := sleepUntil(ctx, target); err != nil {
		return TimedTick{}, err
	}

	return c.tick(time.Now()), nil
}

// tick consumes the next frame number and stamps it with at.
func (c *FreeRunning) tick(at time.Time) TimedTick {
	c.mu.Lock()
	frame := c.frame
	c.frame++
	c.mu.Unlock()

	return TimedTick{
		Timestamp:   timestamp(at),
		FrameNumber: frame,
		ClockID:     c.id,
	}
}

// FPS implements Clock.
func (c *FreeRunning) FPS() float64 { return c.fps }

// ID implements Clock.
func (c *FreeRunning) ID() string { return c.id }

// Period returns the tick interval.
func (c *FreeRunning) Period() time.Duration { return c.period }

// Reset implements Clock.
func (c *FreeRunning) Reset() {
	c.mu.Lock()
	c.start = time.Now()
	c.frame = 0
	c.mu.Unlock()
}

// anchor moves the pacing origin without touching the frame counter.
func (c *FreeRunning) anchor(t time.Time) {
	c.mu.Lock()
	c.start = t.Add(-time.Duration(c.frame) * c.period)
	c.mu.Unlock()
}
