package clock

import (
	"context"
	"sync"
	"time"
)

// Manual is a step-driven clock for deterministic tests. NextTick blocks
// until Step is called.
type Manual struct {
	id    string
	fps   float64
	steps chan struct{}

	mu    sync.Mutex
	frame uint64
}

// NewManual creates a manual clock. fps is only reported, never used for pacing.
func NewManual(id string, fps float64) *Manual {
	if id == "" {
		id = "manual"
	}
	return &Manual{
		id:    id,
		fps:   fps,
		steps: make(chan struct{}, 1024),
	}
}

// Step releases one tick. It never blocks while fewer than 1024 steps are pending.
func (m *Manual) Step() {
	m.steps <- struct{}{}
}

// StepN releases n ticks.
func (m *Manual) StepN(n int) {
	for i := 0; i < n; i++ {
		m.Step()
	}
}

// NextTick implements Clock.
func (m *Manual) NextTick(ctx context.Context) (TimedTick, error) {
	select {
	case <-ctx.Done():
		return TimedTick{}, ctx.Err()
	case <-m.steps:
	}

	m.mu.Lock()
	frame := m.frame
	m.frame++
	m.mu.Unlock()

	return TimedTick{
		Timestamp:   timestamp(time.Now()),
		FrameNumber: frame,
		ClockID:     m.id,
	}, nil
}

// FPS implements Clock.
func (m *Manual) FPS() float64 { return m.fps }

// ID implements Clock.
func (m *Manual) ID() string { return m.id }

// Reset zeroes the frame counter and discards pending steps.
func (m *Manual) Reset() {
	m.mu.Lock()
	m.frame = 0
	m.mu.Unlock()

	for {
		select {
		case <-m.steps:
		default:
			return
		}
	}
}
