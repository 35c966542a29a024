package clock

import (
	"context"
	stderrors "errors"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tatolab/streamlib-sub000/errors"
	"github.com/tatolab/streamlib-sub000/pkg/retry"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func fastRetry() SyncOption {
	return WithRetry(retry.Config{MaxAttempts: 2, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond})
}

func TestFreeRunning_Pacing(t *testing.T) {
	if testing.Short() {
		t.Skip("pacing test takes two seconds")
	}

	c, err := NewFreeRunning("main", 10)
	require.NoError(t, err)
	c.Reset()

	ctx := context.Background()
	start := time.Now()
	var last TimedTick
	for i := 0; i < 20; i++ {
		tick, err := c.NextTick(ctx)
		require.NoError(t, err)
		if i > 0 {
			assert.Greater(t, tick.FrameNumber, last.FrameNumber)
		}
		assert.Equal(t, uint64(i), tick.FrameNumber)
		assert.Equal(t, "main", tick.ClockID)
		last = tick
	}
	elapsed := time.Since(start)

	// frames 0..19 are due at 0.0s..1.9s
	assert.GreaterOrEqual(t, elapsed, 1850*time.Millisecond)
	assert.Less(t, elapsed, 2400*time.Millisecond)
}

func TestFreeRunning_LateCallsDoNotSkipFrames(t *testing.T) {
	c, err := NewFreeRunning("late", 100)
	require.NoError(t, err)

	// three periods late
	time.Sleep(35 * time.Millisecond)

	ctx := context.Background()
	for want := uint64(0); want < 3; want++ {
		tick, err := c.NextTick(ctx)
		require.NoError(t, err)
		assert.Equal(t, want, tick.FrameNumber)
	}
}

func TestFreeRunning_Reset(t *testing.T) {
	c, err := NewFreeRunning("", 1000)
	require.NoError(t, err)
	assert.Equal(t, "free", c.ID())
	assert.Equal(t, time.Millisecond, c.Period())

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		_, err := c.NextTick(ctx)
		require.NoError(t, err)
	}

	c.Reset()
	tick, err := c.NextTick(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), tick.FrameNumber)
}

func TestFreeRunning_Cancellation(t *testing.T) {
	c, err := NewFreeRunning("slow", 0.5)
	require.NoError(t, err)

	// frame 0 is immediate, frame 1 is two seconds out
	_, err = c.NextTick(context.Background())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err = c.NextTick(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 500*time.Millisecond)
}

func TestFreeRunning_InvalidFPS(t *testing.T) {
	for _, fps := range []float64{0, -30} {
		_, err := NewFreeRunning("x", fps)
		require.Error(t, err)
		assert.True(t, errors.IsInvalid(err))
	}
}

func TestTimedTick_Time(t *testing.T) {
	now := time.Now()
	tick := TimedTick{Timestamp: timestamp(now), FrameNumber: 7, ClockID: "c"}

	assert.WithinDuration(t, now, tick.Time(), time.Millisecond)
	assert.Equal(t, "c#7", tick.String())
}

func TestNew(t *testing.T) {
	logger := discardLogger()

	c, err := New(KindFree, "a", 30, logger)
	require.NoError(t, err)
	assert.IsType(t, &FreeRunning{}, c)

	c, err = New(KindPTP, "b", 30, logger)
	require.NoError(t, err)
	assert.IsType(t, &PTP{}, c)

	c, err = New(KindGenlock, "c", 30, logger)
	require.NoError(t, err)
	assert.IsType(t, &Genlock{}, c)

	_, err = New("atomic", "d", 30, logger)
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))
}

type fakeSync struct {
	failures int32
	calls    atomic.Int32
	offset   time.Duration
}

func (f *fakeSync) Acquire(context.Context) (time.Duration, error) {
	if f.calls.Add(1) <= f.failures {
		return 0, stderrors.New("grandmaster unavailable")
	}
	return f.offset, nil
}

func TestPTP_LocksAndAppliesOffset(t *testing.T) {
	source := &fakeSync{failures: 1, offset: 2 * time.Second}
	c, err := NewPTP("ptp0", 1000, source, discardLogger(), fastRetry())
	require.NoError(t, err)
	assert.Equal(t, ModeFreeRunning, c.Mode())

	require.NoError(t, c.Lock(context.Background()))
	assert.True(t, c.Synchronized())
	assert.Equal(t, 2*time.Second, c.Offset())
	assert.Equal(t, int32(2), source.calls.Load())

	before := timestamp(time.Now())
	tick, err := c.NextTick(context.Background())
	require.NoError(t, err)
	assert.InDelta(t, before+2.0, tick.Timestamp, 0.5)
}

func TestPTP_FallsBackWhenUnavailable(t *testing.T) {
	source := &fakeSync{failures: 100}
	c, err := NewPTP("ptp0", 1000, source, discardLogger(), fastRetry())
	require.NoError(t, err)

	err = c.Lock(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrClockUnavailable)
	assert.True(t, errors.IsTransient(err))
	assert.False(t, c.Synchronized())
	assert.Equal(t, "free-running", c.Mode().String())

	// still ticks
	tick, err := c.NextTick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(0), tick.FrameNumber)
}

func TestPTP_NilSourceFallsBackImmediately(t *testing.T) {
	c, err := NewPTP("", 30, nil, discardLogger())
	require.NoError(t, err)
	assert.Equal(t, "ptp", c.ID())

	err = c.Lock(context.Background())
	assert.ErrorIs(t, err, errors.ErrClockUnavailable)
	assert.Equal(t, ModeFreeRunning, c.Mode())
}

type fakePulses struct {
	ch chan time.Time
}

func (f *fakePulses) Pulses(context.Context) (<-chan time.Time, error) {
	return f.ch, nil
}

func TestGenlock_TicksOnPulses(t *testing.T) {
	source := &fakePulses{ch: make(chan time.Time, 4)}
	c, err := NewGenlock("gl", 0.1, source, discardLogger())
	require.NoError(t, err)
	require.NoError(t, c.Lock(context.Background()))
	assert.True(t, c.Synchronized())

	// fps 0.1 would wait ten seconds per frame; pulses drive it instead
	pulse := time.Now()
	source.ch <- pulse
	source.ch <- pulse.Add(time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	t0, err := c.NextTick(ctx)
	require.NoError(t, err)
	t1, err := c.NextTick(ctx)
	require.NoError(t, err)

	assert.Equal(t, uint64(0), t0.FrameNumber)
	assert.Equal(t, uint64(1), t1.FrameNumber)
	assert.InDelta(t, timestamp(pulse), t0.Timestamp, 1e-6)
}

func TestGenlock_FallsBackWhenPulsesStop(t *testing.T) {
	source := &fakePulses{ch: make(chan time.Time, 1)}
	c, err := NewGenlock("gl", 1000, source, discardLogger())
	require.NoError(t, err)
	require.NoError(t, c.Lock(context.Background()))

	source.ch <- time.Now()
	close(source.ch)

	ctx := context.Background()
	t0, err := c.NextTick(ctx)
	require.NoError(t, err)
	t1, err := c.NextTick(ctx)
	require.NoError(t, err)

	assert.Equal(t, uint64(0), t0.FrameNumber)
	assert.Equal(t, uint64(1), t1.FrameNumber)
	assert.False(t, c.Synchronized())
}

func TestManual(t *testing.T) {
	m := NewManual("", 60)
	assert.Equal(t, "manual", m.ID())
	assert.Equal(t, 60.0, m.FPS())

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	_, err := m.NextTick(ctx)
	cancel()
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	m.StepN(2)
	t0, err := m.NextTick(context.Background())
	require.NoError(t, err)
	t1, err := m.NextTick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(0), t0.FrameNumber)
	assert.Equal(t, uint64(1), t1.FrameNumber)

	m.Step()
	m.Reset()
	ctx, cancel = context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = m.NextTick(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
