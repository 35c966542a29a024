package component

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tatolab/streamlib-sub000/clock"
	"github.com/tatolab/streamlib-sub000/errors"
	"github.com/tatolab/streamlib-sub000/eventbus"
	"github.com/tatolab/streamlib-sub000/metric"
)

// Executor runs Process calls off the run-loop goroutine. Execute must not
// block; it returns an error when the job cannot be queued.
type Executor interface {
	Execute(job func()) error
}

// RunOptions selects how a run-loop executes.
type RunOptions struct {
	// Executor, when set, receives every Process call. A tick that arrives
	// while the previous call is still in flight, or that the executor
	// rejects, is skipped.
	Executor Executor

	// Setup runs first on the run-loop goroutine, e.g. to lock it to an OS thread.
	Setup func() error
}

// RunnerOption configures a Runner.
type RunnerOption func(*Runner)

// WithRunnerLogger sets the logger.
func WithRunnerLogger(logger *slog.Logger) RunnerOption {
	return func(r *Runner) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithRunnerMetrics records process timings and state changes.
func WithRunnerMetrics(m *metric.Metrics) RunnerOption {
	return func(r *Runner) { r.metrics = m }
}

// RunnerStats is a snapshot of a runner's counters.
type RunnerStats struct {
	State     State  `json:"state"`
	Processed uint64 `json:"processed"`
	Failed    uint64 `json:"failed"`
	Skipped   uint64 `json:"skipped"`
	LastFrame uint64 `json:"last_frame"`
}

// Runner owns a handler's lifecycle and run-loop.
type Runner struct {
	handler Handler
	logger  *slog.Logger
	metrics *metric.Metrics

	mu         sync.Mutex
	state      State
	bus        *eventbus.Bus
	cancel     context.CancelFunc
	stopCancel context.CancelFunc
	done       chan struct{}

	busy      atomic.Bool
	inflight  sync.WaitGroup
	processed atomic.Uint64
	failed    atomic.Uint64
	skipped   atomic.Uint64
	lastFrame atomic.Uint64
}

// NewRunner wraps h in the Inert state.
func NewRunner(h Handler, opts ...RunnerOption) (*Runner, error) {
	if h == nil {
		return nil, errors.WrapInvalid(errors.ErrNilHandler, "Runner", "NewRunner", "handler validation")
	}
	r := &Runner{
		handler: h,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.With("handler", h.ID())
	return r, nil
}

// Handler returns the wrapped handler.
func (r *Runner) Handler() Handler { return r.handler }

// ID returns the handler ID.
func (r *Runner) ID() string { return r.handler.ID() }

// State returns the current state.
func (r *Runner) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Stats returns a snapshot of the counters.
func (r *Runner) Stats() RunnerStats {
	return RunnerStats{
		State:     r.State(),
		Processed: r.processed.Load(),
		Failed:    r.failed.Load(),
		Skipped:   r.skipped.Load(),
		LastFrame: r.lastFrame.Load(),
	}
}

// Activate subscribes the handler to ticks on bus and starts its run-loop.
// Only an Inert runner can be activated. The tick subscription exists when
// Activate returns, so no tick published afterwards is missed.
func (r *Runner) Activate(ctx context.Context, bus *eventbus.Bus, opts RunOptions) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state != StateInert {
		return errors.WrapInvalid(
			fmt.Errorf("%w: %s is %s", errors.ErrAlreadyActivated, r.ID(), r.state),
			"Runner", "Activate", "state check")
	}
	if err := r.claim(); err != nil {
		return err
	}

	r.bus = bus
	r.setStateLocked(StateActivated)

	sub, err := bus.Subscribe(eventbus.KindTick)
	if err != nil {
		r.setStateLocked(StateStopped)
		return errors.Wrap(err, "Runner", "Activate", "tick subscription")
	}

	runCtx, cancel := context.WithCancel(ctx)
	stopCtx, stopCancel := context.WithCancel(context.WithoutCancel(ctx))
	r.cancel = cancel
	r.stopCancel = stopCancel
	r.done = make(chan struct{})

	go r.run(runCtx, stopCtx, sub, opts)

	r.setStateLocked(StateRunning)
	return nil
}

// claim makes r the handler's owner. A handler instance belongs to at most
// one runner for its whole life, across runtimes.
func (r *Runner) claim() error {
	ports := r.handler.Ports()
	if ports == nil {
		return nil
	}
	if ports.owner.CompareAndSwap(nil, r) || ports.owner.Load() == r {
		return nil
	}
	return errors.WrapInvalid(
		fmt.Errorf("%w: %s is owned by another runner", errors.ErrAlreadyActivated, r.ID()),
		"Runner", "claim", "ownership check")
}

// release gives up ownership of a handler that never ran.
func (r *Runner) release() {
	if ports := r.handler.Ports(); ports != nil {
		ports.owner.CompareAndSwap(r, nil)
	}
}

// Deactivate stops the run-loop and waits up to grace for it to finish.
// On timeout the run-loop is abandoned: its OnStop context is cancelled,
// the runner is marked Stopped and a transient ErrShutdownTimeout is
// returned. Deactivating an inert or stopped runner is a no-op.
func (r *Runner) Deactivate(grace time.Duration) error {
	r.mu.Lock()
	switch r.state {
	case StateInert, StateStopped:
		r.mu.Unlock()
		return nil
	case StateDeactivating:
	default:
		r.setStateLocked(StateDeactivating)
	}
	cancel, stopCancel, done := r.cancel, r.stopCancel, r.done
	r.mu.Unlock()

	cancel()

	timer := time.NewTimer(grace)
	defer timer.Stop()

	select {
	case <-done:
		return nil
	case <-timer.C:
		stopCancel()
		r.mu.Lock()
		r.setStateLocked(StateStopped)
		r.mu.Unlock()
		r.logger.Warn("run-loop did not stop within grace period, abandoned", "grace", grace)
		return errors.WrapTransient(
			fmt.Errorf("%w: %s after %v", errors.ErrShutdownTimeout, r.ID(), grace),
			"Runner", "Deactivate", "await run-loop")
	}
}

// Done is closed when the run-loop has returned.
func (r *Runner) Done() <-chan struct{} {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.done
}

func (r *Runner) run(ctx, stopCtx context.Context, sub *eventbus.Subscription, opts RunOptions) {
	defer close(r.done)
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("run-loop panic", "panic", rec, "stack", string(debug.Stack()))
		}
		r.mu.Lock()
		r.setStateLocked(StateStopped)
		r.mu.Unlock()
	}()

	if opts.Setup != nil {
		if err := opts.Setup(); err != nil {
			r.logger.Warn("run-loop setup failed, continuing", "error", err)
		}
	}

	if starter, ok := r.handler.(Starter); ok {
		if err := r.hook("OnStart", func() error { return starter.OnStart(ctx) }); err != nil {
			r.logger.Error("OnStart failed", "error", err)
			r.publishError(err, clock.TimedTick{})
		}
	}

	for {
		ev, err := sub.Next(ctx)
		if err != nil {
			break
		}
		te, ok := ev.(eventbus.TickEvent)
		if !ok {
			continue
		}
		r.dispatch(ctx, te.Tick, opts.Executor)
	}

	sub.Unsubscribe()
	r.inflight.Wait()

	if stopper, ok := r.handler.(Stopper); ok {
		if err := r.hook("OnStop", func() error { return stopper.OnStop(stopCtx) }); err != nil {
			r.logger.Warn("OnStop failed", "error", err)
			r.publishError(err, clock.TimedTick{FrameNumber: r.lastFrame.Load()})
		}
	}
}

func (r *Runner) dispatch(ctx context.Context, tick clock.TimedTick, exec Executor) {
	if exec == nil {
		r.process(ctx, tick)
		return
	}

	if !r.busy.CompareAndSwap(false, true) {
		r.skip(tick)
		return
	}
	r.inflight.Add(1)
	err := exec.Execute(func() {
		defer r.inflight.Done()
		defer r.busy.Store(false)
		r.process(ctx, tick)
	})
	if err != nil {
		r.inflight.Done()
		r.busy.Store(false)
		r.skip(tick)
	}
}

func (r *Runner) skip(tick clock.TimedTick) {
	r.skipped.Add(1)
	if r.metrics != nil {
		r.metrics.RecordTickSkipped(r.ID())
	}
	r.logger.Debug("tick skipped", "frame", tick.FrameNumber)
}

func (r *Runner) process(ctx context.Context, tick clock.TimedTick) {
	start := time.Now()
	err := r.hook("Process", func() error { return r.handler.Process(ctx, tick) })
	elapsed := time.Since(start)

	r.lastFrame.Store(tick.FrameNumber)
	if r.metrics != nil {
		r.metrics.RecordProcess(r.ID(), elapsed, err != nil)
	}

	if err != nil {
		r.failed.Add(1)
		r.publishError(err, tick)
		return
	}
	r.processed.Add(1)
}

// hook calls fn, converting a panic into an error.
func (r *Runner) hook(name string, fn func() error) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = errors.WrapFatal(fmt.Errorf("panic: %v", rec), r.ID(), name, "handler call")
		}
	}()
	return fn()
}

func (r *Runner) publishError(err error, tick clock.TimedTick) {
	if r.bus == nil {
		return
	}
	r.bus.Publish(eventbus.ErrorEvent{HandlerID: r.ID(), Err: err, Tick: tick})
}

// setStateLocked must be called with r.mu held.
func (r *Runner) setStateLocked(to State) {
	from := r.state
	if from == to {
		return
	}
	r.state = to

	if r.metrics != nil {
		r.metrics.RecordHandlerState(r.ID(), int(to))
	}
	r.logger.Debug("state changed", "from", from, "to", to)
	if r.bus != nil {
		r.bus.Publish(eventbus.LifecycleEvent{
			HandlerID: r.ID(),
			From:      from.String(),
			To:        to.String(),
			At:        time.Now(),
		})
	}
}
