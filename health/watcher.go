package health

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/tatolab/streamlib-sub000/eventbus"
)

const (
	// DefaultWindow is how long an error counts against a handler.
	DefaultWindow = 5 * time.Second
	// DefaultThreshold is the number of errors within the window that makes
	// a handler unhealthy.
	DefaultThreshold = 10
)

// Watcher derives per-handler Status from error and lifecycle events and
// stores it in a Monitor.
//
// A running handler with no recent errors is healthy. Any error within the
// window degrades it; Threshold errors within the window make it unhealthy.
// A handler that stops without being deactivated is unhealthy.
type Watcher struct {
	monitor   *Monitor
	logger    *slog.Logger
	window    time.Duration
	threshold int
	now       func() time.Time

	mu       sync.Mutex
	trackers map[string]*tracker
	wg       sync.WaitGroup
}

type tracker struct {
	state      string
	lastFrom   string
	since      time.Time
	errors     []time.Time
	errorCount int
	lastErr    string
	lastFrame  uint64
}

// WatcherOption configures a Watcher.
type WatcherOption func(*Watcher)

// WithWindow sets the error window.
func WithWindow(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.window = d
		}
	}
}

// WithThreshold sets how many errors within the window make a handler unhealthy.
func WithThreshold(n int) WatcherOption {
	return func(w *Watcher) {
		if n > 0 {
			w.threshold = n
		}
	}
}

// WithWatcherLogger sets the logger used for level changes.
func WithWatcherLogger(logger *slog.Logger) WatcherOption {
	return func(w *Watcher) {
		if logger != nil {
			w.logger = logger
		}
	}
}

// NewWatcher creates a watcher that writes into monitor.
func NewWatcher(monitor *Monitor, opts ...WatcherOption) *Watcher {
	w := &Watcher{
		monitor:   monitor,
		logger:    slog.Default(),
		window:    DefaultWindow,
		threshold: DefaultThreshold,
		now:       time.Now,
		trackers:  make(map[string]*tracker),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Monitor returns the monitor the watcher writes into.
func (w *Watcher) Monitor() *Monitor { return w.monitor }

// Watch subscribes to error and lifecycle events on bus and consumes them
// until ctx is cancelled or the bus is cleared. It returns once subscribed.
func (w *Watcher) Watch(ctx context.Context, bus *eventbus.Bus) error {
	errSub, err := bus.Subscribe(eventbus.KindError)
	if err != nil {
		return fmt.Errorf("health watcher: %w", err)
	}
	lifeSub, err := bus.Subscribe(eventbus.KindLifecycle)
	if err != nil {
		errSub.Unsubscribe()
		return fmt.Errorf("health watcher: %w", err)
	}

	w.wg.Add(1)
	go w.loop(ctx, errSub, lifeSub)
	return nil
}

// Wait blocks until every Watch loop has returned.
func (w *Watcher) Wait() { w.wg.Wait() }

func (w *Watcher) loop(ctx context.Context, errSub, lifeSub *eventbus.Subscription) {
	defer w.wg.Done()
	defer errSub.Unsubscribe()
	defer lifeSub.Unsubscribe()

	refresh := time.NewTicker(w.window / 2)
	defer refresh.Stop()

	errC, lifeC := errSub.C(), lifeSub.C()
	for errC != nil || lifeC != nil {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-errC:
			if !ok {
				errC = nil
				continue
			}
			w.Observe(ev)
		case ev, ok := <-lifeC:
			if !ok {
				lifeC = nil
				continue
			}
			w.Observe(ev)
		case <-refresh.C:
			w.Refresh()
		}
	}
}

// Observe applies one event.
func (w *Watcher) Observe(ev eventbus.Event) {
	w.mu.Lock()
	defer w.mu.Unlock()

	now := w.now()
	switch e := ev.(type) {
	case eventbus.ErrorEvent:
		t := w.trackerLocked(e.HandlerID, now)
		t.errors = append(t.errors, now)
		t.errorCount++
		if e.Err != nil {
			t.lastErr = e.Err.Error()
		}
		t.lastFrame = e.Tick.FrameNumber
		w.publishLocked(e.HandlerID, t, now)
	case eventbus.LifecycleEvent:
		t := w.trackerLocked(e.HandlerID, now)
		t.lastFrom = e.From
		t.state = e.To
		if e.To == "running" {
			t.since = now
		}
		w.publishLocked(e.HandlerID, t, now)
	}
}

// Refresh re-evaluates every handler, letting errors age out of the window.
func (w *Watcher) Refresh() {
	w.mu.Lock()
	defer w.mu.Unlock()

	now := w.now()
	for id, t := range w.trackers {
		w.publishLocked(id, t, now)
	}
}

func (w *Watcher) trackerLocked(id string, now time.Time) *tracker {
	t, ok := w.trackers[id]
	if !ok {
		t = &tracker{since: now}
		w.trackers[id] = t
	}
	return t
}

func (w *Watcher) publishLocked(id string, t *tracker, now time.Time) {
	cutoff := now.Add(-w.window)
	kept := t.errors[:0]
	for _, at := range t.errors {
		if at.After(cutoff) {
			kept = append(kept, at)
		}
	}
	t.errors = kept

	var s Status
	switch {
	case t.state == "stopped" && t.lastFrom != "deactivating":
		s = Unhealthy(id, "run-loop exited without deactivation")
	case len(t.errors) >= w.threshold:
		s = Unhealthy(id, fmt.Sprintf("%d errors in %v: %s", len(t.errors), w.window, sanitize(t.lastErr)))
	case len(t.errors) > 0:
		s = Degraded(id, sanitize(t.lastErr))
	case t.state == "stopped":
		s = Healthy(id, "stopped")
	default:
		s = Healthy(id, t.state)
	}
	s.Timestamp = now
	s.State = t.state
	s.Metrics = &Metrics{
		Since:          t.since,
		ErrorCount:     t.errorCount,
		RecentErrors:   len(t.errors),
		LastErrorFrame: t.lastFrame,
	}
	if n := len(t.errors); n > 0 {
		s.Metrics.LastError = t.errors[n-1]
	}

	if prev, ok := w.monitor.Get(id); !ok || prev.Level != s.Level {
		w.logger.Debug("handler health changed", "handler", id, "level", s.Level, "message", s.Message)
	}
	w.monitor.Update(id, s)
}
