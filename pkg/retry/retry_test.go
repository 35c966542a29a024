package retry

import (
	"context"
	stderrors "errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tatolab/streamlib-sub000/errors"
)

func fastConfig(attempts int) Config {
	return Config{
		MaxAttempts:  attempts,
		InitialDelay: 5 * time.Millisecond,
		MaxDelay:     20 * time.Millisecond,
		Multiplier:   2.0,
	}
}

func TestDo_SucceedsAfterTransientFailures(t *testing.T) {
	attempts := 0
	err := Do(context.Background(), fastConfig(3), func() error {
		attempts++
		if attempts < 3 {
			return stderrors.New("sync source busy")
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

func TestDo_ExhaustedIsTransient(t *testing.T) {
	cause := stderrors.New("no grandmaster")
	attempts := 0
	err := Do(context.Background(), fastConfig(3), func() error {
		attempts++
		return cause
	})

	require.Error(t, err)
	assert.Equal(t, 3, attempts)
	assert.ErrorIs(t, err, cause)
	assert.True(t, errors.IsTransient(err))
}

func TestDo_PermanentStopsImmediately(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{"marked permanent", Permanent(stderrors.New("bad address"))},
		{"classified invalid", errors.WrapInvalid(errors.ErrInvalidConfig, "ptp", "Acquire", "domain check")},
		{"classified fatal", errors.WrapFatal(stderrors.New("device gone"), "genlock", "Acquire", "open")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			attempts := 0
			err := Do(context.Background(), fastConfig(5), func() error {
				attempts++
				return tt.err
			})
			require.Error(t, err)
			assert.Equal(t, 1, attempts)
		})
	}
}

func TestDo_ContextCancelledDuringBackoff(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cfg := Config{MaxAttempts: 10, InitialDelay: time.Second, MaxDelay: time.Second}

	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	err := Do(ctx, cfg, func() error { return stderrors.New("unavailable") })

	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Less(t, time.Since(start), 500*time.Millisecond)
}

func TestDo_OnAttemptObservesBackoff(t *testing.T) {
	var waits []time.Duration
	cfg := fastConfig(4)
	cfg.OnAttempt = func(attempt int, err error, wait time.Duration) {
		assert.Equal(t, len(waits)+1, attempt)
		assert.Error(t, err)
		waits = append(waits, wait)
	}

	_ = Do(context.Background(), cfg, func() error { return stderrors.New("retry later") })

	require.Len(t, waits, 3)
	assert.Equal(t, 5*time.Millisecond, waits[0])
	assert.Equal(t, 10*time.Millisecond, waits[1])
	assert.Equal(t, 20*time.Millisecond, waits[2])
}

func TestConfig_BackoffCapsAtMaxDelay(t *testing.T) {
	cfg, err := Config{InitialDelay: 10 * time.Millisecond, MaxDelay: 40 * time.Millisecond, Multiplier: 3}.normalized()
	require.NoError(t, err)

	assert.Equal(t, 10*time.Millisecond, cfg.backoff(1))
	assert.Equal(t, 30*time.Millisecond, cfg.backoff(2))
	assert.Equal(t, 40*time.Millisecond, cfg.backoff(3))
	assert.Equal(t, 40*time.Millisecond, cfg.backoff(9))
}

func TestConfig_JitterBounded(t *testing.T) {
	cfg, err := Config{InitialDelay: 100 * time.Millisecond, MaxDelay: time.Second, Jitter: 0.5}.normalized()
	require.NoError(t, err)

	for i := 0; i < 50; i++ {
		d := cfg.backoff(1)
		assert.GreaterOrEqual(t, d, 100*time.Millisecond)
		assert.Less(t, d, 150*time.Millisecond)
	}
}

func TestConfig_Invalid(t *testing.T) {
	for name, cfg := range map[string]Config{
		"negative delay": {InitialDelay: -1},
		"jitter":         {Jitter: 2},
		"max below init": {InitialDelay: time.Second, MaxDelay: time.Millisecond},
	} {
		t.Run(name, func(t *testing.T) {
			err := Do(context.Background(), cfg, func() error { return nil })
			require.Error(t, err)
			assert.True(t, errors.IsInvalid(err))
		})
	}
}

func TestDoWithResult(t *testing.T) {
	attempts := 0
	offset, err := DoWithResult(context.Background(), fastConfig(3), func() (time.Duration, error) {
		attempts++
		if attempts == 1 {
			return 0, stderrors.New("timeout")
		}
		return 3 * time.Microsecond, nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3*time.Microsecond, offset)
}

func TestPresets(t *testing.T) {
	for _, cfg := range []Config{DefaultConfig(), Sync()} {
		n, err := cfg.normalized()
		require.NoError(t, err)
		assert.Equal(t, cfg.MaxAttempts, n.MaxAttempts)
	}
	assert.Less(t, Sync().MaxDelay, DefaultConfig().MaxDelay)
}
