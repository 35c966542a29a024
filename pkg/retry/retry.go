package retry

import (
	"context"
	stderrors "errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/tatolab/streamlib-sub000/errors"
)

var (
	jitterMu  sync.Mutex
	jitterSrc = rand.New(rand.NewSource(time.Now().UnixNano()))
)

// PermanentError marks an error that must end the retry loop at once.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string {
	return fmt.Sprintf("permanent: %v", e.Err)
}

func (e *PermanentError) Unwrap() error {
	return e.Err
}

// Permanent wraps err so that Do returns it without further attempts.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

// IsPermanent reports whether err stops the retry loop: either explicitly
// marked with Permanent or classified invalid or fatal by the errors package.
func IsPermanent(err error) bool {
	var pe *PermanentError
	if stderrors.As(err, &pe) {
		return true
	}
	var ce *errors.ClassifiedError
	if errors.As(err, &ce) {
		return ce.Class != errors.ErrorTransient
	}
	return false
}

// AttemptFunc observes a failed attempt before the backoff sleep.
type AttemptFunc func(attempt int, err error, wait time.Duration)

// Config holds the backoff policy.
type Config struct {
	MaxAttempts  int           // total attempts; <= 0 means one
	InitialDelay time.Duration // first backoff
	MaxDelay     time.Duration // backoff ceiling
	Multiplier   float64       // growth factor per attempt
	Jitter       float64       // fraction of the delay added at random, 0..1
	OnAttempt    AttemptFunc   // optional
}

// DefaultConfig returns a short general purpose policy.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:  3,
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     5 * time.Second,
		Multiplier:   2.0,
		Jitter:       0.25,
	}
}

// Sync returns the policy used to acquire a clock sync source. It gives up
// quickly so a pipeline can fall back to free-running before the first frame.
func Sync() Config {
	return Config{
		MaxAttempts:  5,
		InitialDelay: 20 * time.Millisecond,
		MaxDelay:     250 * time.Millisecond,
		Multiplier:   2.0,
		Jitter:       0.1,
	}
}

func (c Config) normalized() (Config, error) {
	if c.InitialDelay < 0 || c.MaxDelay < 0 || c.Multiplier < 0 {
		return c, errors.WrapInvalid(errors.ErrInvalidConfig, "retry", "Do", "negative backoff parameter")
	}
	if c.Jitter < 0 || c.Jitter > 1 {
		return c, errors.WrapInvalid(errors.ErrInvalidConfig, "retry", "Do", "jitter outside 0..1")
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 1
	}
	if c.InitialDelay == 0 {
		c.InitialDelay = 100 * time.Millisecond
	}
	if c.MaxDelay == 0 {
		c.MaxDelay = 5 * time.Second
	}
	if c.Multiplier == 0 {
		c.Multiplier = 2.0
	}
	if c.Multiplier > 1000 {
		c.Multiplier = 1000
	}
	if c.MaxDelay < c.InitialDelay {
		return c, errors.WrapInvalid(errors.ErrInvalidConfig, "retry", "Do", "MaxDelay below InitialDelay")
	}
	return c, nil
}

// backoff returns the delay to wait after the given failed attempt (1-based).
func (c Config) backoff(attempt int) time.Duration {
	d := float64(c.InitialDelay)
	for i := 1; i < attempt; i++ {
		d *= c.Multiplier
		if d >= float64(c.MaxDelay) {
			d = float64(c.MaxDelay)
			break
		}
	}
	delay := time.Duration(d)

	if c.Jitter > 0 {
		span := int64(float64(delay) * c.Jitter)
		if span > 0 {
			jitterMu.Lock()
			delay += time.Duration(jitterSrc.Int63n(span))
			jitterMu.Unlock()
		}
	}
	return delay
}

// Do runs fn until it succeeds, returns a permanent error, the attempts run
// out, or ctx is done.
func Do(ctx context.Context, cfg Config, fn func() error) error {
	_, err := DoWithResult(ctx, cfg, func() (struct{}, error) {
		return struct{}{}, fn()
	})
	return err
}

// DoWithResult is Do for operations that produce a value.
func DoWithResult[T any](ctx context.Context, cfg Config, fn func() (T, error)) (T, error) {
	var zero T

	cfg, err := cfg.normalized()
	if err != nil {
		return zero, err
	}

	var lastErr error
	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		result, err := fn()
		if err == nil {
			return result, nil
		}
		lastErr = err

		if IsPermanent(err) {
			return zero, err
		}
		if ctx.Err() != nil {
			return zero, fmt.Errorf("retry cancelled after attempt %d: %w", attempt, ctx.Err())
		}
		if attempt == cfg.MaxAttempts {
			break
		}

		wait := cfg.backoff(attempt)
		if cfg.OnAttempt != nil {
			cfg.OnAttempt(attempt, err, wait)
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return zero, fmt.Errorf("retry cancelled during backoff for attempt %d: %w", attempt+1, ctx.Err())
		case <-timer.C:
		}
	}

	return zero, errors.WrapTransient(lastErr, "retry", "Do", fmt.Sprintf("%d attempts", cfg.MaxAttempts))
}
