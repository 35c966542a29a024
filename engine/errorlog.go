package engine

import (
	"context"
	"log/slog"
	"sync/atomic"

	"golang.org/x/time/rate"

	"github.com/tatolab/streamlib-sub000/errors"
	"github.com/tatolab/streamlib-sub000/eventbus"
)

// errorLog writes handler errors to the log at a bounded rate. Errors past
// the limit are counted and reported in a summary once logging resumes.
type errorLog struct {
	logger  *slog.Logger
	limiter *rate.Limiter
	metrics *engineMetrics

	logged     atomic.Uint64
	suppressed atomic.Uint64
	pending    uint64 // suppressed since the last logged error; loop goroutine only
}

func newErrorLog(logger *slog.Logger, perSecond float64, burst int, m *engineMetrics) *errorLog {
	return &errorLog{
		logger:  logger,
		limiter: rate.NewLimiter(rate.Limit(perSecond), burst),
		metrics: m,
	}
}

// Watch implements Sink.
func (l *errorLog) Watch(ctx context.Context, bus *eventbus.Bus) error {
	sub, err := bus.Subscribe(eventbus.KindError)
	if err != nil {
		return err
	}
	go l.loop(ctx, sub)
	return nil
}

func (l *errorLog) loop(ctx context.Context, sub *eventbus.Subscription) {
	defer sub.Unsubscribe()
	for {
		ev, err := sub.Next(ctx)
		if err != nil {
			return
		}
		if e, ok := ev.(eventbus.ErrorEvent); ok {
			l.handle(e)
		}
	}
}

func (l *errorLog) handle(e eventbus.ErrorEvent) {
	if !l.limiter.Allow() {
		l.pending++
		l.suppressed.Add(1)
		if l.metrics != nil {
			l.metrics.errorsSuppressed.Inc()
		}
		return
	}

	if l.pending > 0 {
		l.logger.Warn("handler errors suppressed by rate limit", "count", l.pending)
		l.pending = 0
	}

	l.logged.Add(1)
	if l.metrics != nil {
		l.metrics.errorsLogged.Inc()
	}

	attrs := []any{
		"handler", e.HandlerID,
		"frame", e.Tick.FrameNumber,
		"class", errors.Classify(e.Err).String(),
		"error", e.Err,
	}
	if errors.IsFatal(e.Err) {
		l.logger.Error("handler error", attrs...)
		return
	}
	l.logger.Warn("handler error", attrs...)
}
