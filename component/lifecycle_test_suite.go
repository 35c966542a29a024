package component

import (
	"context"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tatolab/streamlib-sub000/clock"
	"github.com/tatolab/streamlib-sub000/errors"
	"github.com/tatolab/streamlib-sub000/eventbus"
)

// HandlerFactory creates a fresh handler for each lifecycle test.
type HandlerFactory func() Handler

// StandardRunnerTests checks that a handler behaves under the runner
// lifecycle: activation rules, tick delivery, bounded shutdown and no
// leaked goroutines. Handler packages call it from their own tests.
func StandardRunnerTests(t *testing.T, factory HandlerFactory) {
	t.Run("ActivateDeactivate", func(t *testing.T) { testActivateDeactivate(t, factory) })
	t.Run("DoubleActivate", func(t *testing.T) { testDoubleActivate(t, factory) })
	t.Run("DeactivateInert", func(t *testing.T) { testDeactivateInert(t, factory) })
	t.Run("DoubleDeactivate", func(t *testing.T) { testDoubleDeactivate(t, factory) })
	t.Run("SurvivesTicks", func(t *testing.T) { testSurvivesTicks(t, factory) })
	t.Run("NoLeaks", func(t *testing.T) { testNoGoroutineLeaks(t, factory) })
}

const lifecycleGrace = 2 * time.Second

func newActiveRunner(t *testing.T, factory HandlerFactory) (*Runner, *eventbus.Bus) {
	t.Helper()
	h := factory()
	require.NotNil(t, h, "factory returned nil")

	r, err := NewRunner(h)
	require.NoError(t, err)

	bus := eventbus.New()
	require.NoError(t, r.Activate(context.Background(), bus, RunOptions{}))
	return r, bus
}

func testActivateDeactivate(t *testing.T, factory HandlerFactory) {
	r, bus := newActiveRunner(t, factory)
	assert.Equal(t, StateRunning, r.State())

	require.NoError(t, r.Deactivate(lifecycleGrace))
	assert.Equal(t, StateStopped, r.State())
	bus.Clear()
}

func testDoubleActivate(t *testing.T, factory HandlerFactory) {
	r, bus := newActiveRunner(t, factory)
	defer bus.Clear()

	err := r.Activate(context.Background(), bus, RunOptions{})
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrAlreadyActivated)
	assert.True(t, errors.IsInvalid(err))

	require.NoError(t, r.Deactivate(lifecycleGrace))

	// stopped is not inert either
	err = r.Activate(context.Background(), bus, RunOptions{})
	assert.ErrorIs(t, err, errors.ErrAlreadyActivated)
}

func testDeactivateInert(t *testing.T, factory HandlerFactory) {
	r, err := NewRunner(factory())
	require.NoError(t, err)

	assert.NoError(t, r.Deactivate(lifecycleGrace))
	assert.Equal(t, StateInert, r.State())
}

func testDoubleDeactivate(t *testing.T, factory HandlerFactory) {
	r, bus := newActiveRunner(t, factory)
	defer bus.Clear()

	require.NoError(t, r.Deactivate(lifecycleGrace))
	assert.NoError(t, r.Deactivate(lifecycleGrace))
	assert.Equal(t, StateStopped, r.State())
}

func testSurvivesTicks(t *testing.T, factory HandlerFactory) {
	r, bus := newActiveRunner(t, factory)
	defer bus.Clear()

	for i := uint64(0); i < 5; i++ {
		bus.Publish(eventbus.TickEvent{Tick: clock.TimedTick{FrameNumber: i, ClockID: "lifecycle"}})
	}

	require.Eventually(t, func() bool {
		s := r.Stats()
		return s.Processed+s.Failed == 5
	}, lifecycleGrace, 5*time.Millisecond)

	assert.Equal(t, StateRunning, r.State())
	assert.Equal(t, uint64(4), r.Stats().LastFrame)
	require.NoError(t, r.Deactivate(lifecycleGrace))
}

func testNoGoroutineLeaks(t *testing.T, factory HandlerFactory) {
	if testing.Short() {
		t.Skip("Skipping goroutine leak test in short mode")
	}

	runtime.GC()
	time.Sleep(50 * time.Millisecond)
	initial := runtime.NumGoroutine()

	const iterations = 100
	for i := 0; i < iterations; i++ {
		r, bus := newActiveRunner(t, factory)
		bus.Publish(eventbus.TickEvent{Tick: clock.TimedTick{FrameNumber: uint64(i)}})
		if err := r.Deactivate(lifecycleGrace); err != nil {
			t.Logf("Deactivate failed on iteration %d: %v", i, err)
		}
		bus.Clear()
	}

	runtime.GC()
	time.Sleep(100 * time.Millisecond)
	growth := runtime.NumGoroutine() - initial

	if growth > 5 {
		t.Errorf("Goroutine count grew by %d after %d lifecycles, expected < 5", growth, iterations)
	}
}
