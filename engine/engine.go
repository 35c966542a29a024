package engine

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/tatolab/streamlib-sub000/bridge"
	"github.com/tatolab/streamlib-sub000/clock"
	"github.com/tatolab/streamlib-sub000/component"
	"github.com/tatolab/streamlib-sub000/component/flowgraph"
	"github.com/tatolab/streamlib-sub000/config"
	"github.com/tatolab/streamlib-sub000/errors"
	"github.com/tatolab/streamlib-sub000/eventbus"
	"github.com/tatolab/streamlib-sub000/metric"
	"github.com/tatolab/streamlib-sub000/pkg/worker"
	"github.com/tatolab/streamlib-sub000/resource"
	"github.com/tatolab/streamlib-sub000/stream"
)

// Sink consumes runtime events. Watch subscribes on bus and returns; the
// sink keeps consuming until ctx is done or the bus is cleared.
type Sink interface {
	Watch(ctx context.Context, bus *eventbus.Bus) error
}

type runState int

const (
	stateIdle runState = iota
	stateRunning
	stateStopping
	stateStopped
)

func (s runState) String() string {
	switch s {
	case stateIdle:
		return "idle"
	case stateRunning:
		return "running"
	case stateStopping:
		return "stopping"
	default:
		return "stopped"
	}
}

// Runtime drives a graph of handlers from one clock.
//
// A Runtime runs once: New creates its event bus, AddStream activates
// handlers on it immediately (they wait for the first tick), Start begins
// ticking and Stop tears everything down. Build a new Runtime to run again.
type Runtime struct {
	id     string
	cfg    config.Runtime
	logger *slog.Logger

	clock     clock.Clock
	bridges   *bridge.Registry
	resources *resource.Context
	registry  *metric.MetricsRegistry
	core      *metric.Metrics
	metrics   *engineMetrics
	sinks     []Sink
	errLog    *errorLog

	mu       sync.Mutex
	state    runState
	bus      *eventbus.Bus
	handlers *component.Registry
	streams  []*stream.Stream
	bridged  map[string]bridge.Pair
	edges    []flowgraph.Edge
	exec     *worker.Executor

	runCtx     context.Context
	runCancel  context.CancelFunc
	loopCancel context.CancelFunc
	loopDone   chan struct{}

	ticks     atomic.Uint64
	clockErr  atomic.Value
	startedAt time.Time
}

// Option configures a Runtime.
type Option func(*Runtime)

// WithClock replaces the clock built from the configuration.
func WithClock(c clock.Clock) Option {
	return func(r *Runtime) { r.clock = c }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Runtime) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithMetrics exports runtime, bus, handler and pool metrics to registry.
func WithMetrics(registry *metric.MetricsRegistry) Option {
	return func(r *Runtime) { r.registry = registry }
}

// WithBridges replaces the default cpu/gpu bridge registry.
func WithBridges(b *bridge.Registry) Option {
	return func(r *Runtime) {
		if b != nil {
			r.bridges = b
		}
	}
}

// WithResources supplies the resource context bound to ResourceUser
// handlers. The runtime closes it on Stop.
func WithResources(rc *resource.Context) Option {
	return func(r *Runtime) {
		if rc != nil {
			r.resources = rc
		}
	}
}

// WithSinks attaches event consumers such as a health watcher or a journal.
// They are subscribed before any handler is added.
func WithSinks(sinks ...Sink) Option {
	return func(r *Runtime) { r.sinks = append(r.sinks, sinks...) }
}

// New validates cfg and creates an idle runtime.
func New(cfg config.Runtime, opts ...Option) (*Runtime, error) {
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "Runtime", "New", "config validation")
	}

	r := &Runtime{
		id:       uuid.NewString(),
		cfg:      cfg,
		logger:   slog.Default(),
		handlers: component.NewRegistry(),
		bridged:  make(map[string]bridge.Pair),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.With("runtime", r.id[:8])

	if r.clock == nil {
		c, err := clock.New(clock.Kind(cfg.Clock.Kind), cfg.Clock.ID, cfg.FPS, r.logger)
		if err != nil {
			return nil, errors.Wrap(err, "Runtime", "New", "clock construction")
		}
		r.clock = c
	}
	if r.bridges == nil {
		r.bridges = bridge.NewDefaultRegistry()
	}
	if r.resources == nil {
		r.resources = resource.NewContext(r.logger)
	}

	busOpts := []eventbus.Option{eventbus.WithCapacity(cfg.BusCapacity), eventbus.WithLogger(r.logger)}
	var poolOpts []worker.Option[func()]
	if r.registry != nil {
		r.core = r.registry.CoreMetrics()
		busOpts = append(busOpts, eventbus.WithMetrics(r.registry))
		poolOpts = append(poolOpts, worker.WithMetricsRegistry[func()](r.registry, r.id))

		m, err := newEngineMetrics(r.registry, r.id)
		if err != nil {
			return nil, errors.Wrap(err, "Runtime", "New", "metrics registration")
		}
		r.metrics = m
	}

	exec, err := worker.NewExecutor(cfg.Pool.Workers, cfg.Pool.QueueSize, poolOpts...)
	if err != nil {
		return nil, errors.Wrap(err, "Runtime", "New", "worker pool")
	}
	r.exec = exec

	r.bus = eventbus.New(busOpts...)
	r.runCtx, r.runCancel = context.WithCancel(context.Background())

	if cfg.LogErrors.Enabled {
		r.errLog = newErrorLog(r.logger, cfg.LogErrors.PerSecond, cfg.LogErrors.Burst, r.metrics)
		r.sinks = append([]Sink{r.errLog}, r.sinks...)
	}
	for _, s := range r.sinks {
		if err := s.Watch(r.runCtx, r.bus); err != nil {
			r.runCancel()
			r.bus.Clear()
			return nil, errors.Wrap(err, "Runtime", "New", "attach sink")
		}
	}

	r.logger.Info("runtime created",
		"clock", r.clock.ID(), "fps", r.clock.FPS(), "auto_bridge", cfg.AutoBridge)
	return r, nil
}

// ID returns the runtime instance ID.
func (r *Runtime) ID() string { return r.id }

// Config returns the configuration the runtime was built with.
func (r *Runtime) Config() config.Runtime { return r.cfg }

// Clock returns the runtime clock.
func (r *Runtime) Clock() clock.Clock { return r.clock }

// Bus returns the runtime event bus.
func (r *Runtime) Bus() *eventbus.Bus {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.bus
}

// Resources returns the resource context.
func (r *Runtime) Resources() *resource.Context { return r.resources }

// AddStream registers the stream's handler and activates it. The handler
// ID must be unique and the handler instance must not already be added to
// this or any other Runtime.
func (r *Runtime) AddStream(s *stream.Stream) error {
	if s == nil {
		return errors.WrapInvalid(errors.ErrNilHandler, "Runtime", "AddStream", "stream validation")
	}
	if err := s.Validate(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.checkOpenLocked("AddStream"); err != nil {
		return err
	}
	return r.addStreamLocked(s)
}

// Add wraps h in a stream with opts and adds it.
func (r *Runtime) Add(h component.Handler, opts ...stream.Option) error {
	s, err := stream.New(h, opts...)
	if err != nil {
		return err
	}
	return r.AddStream(s)
}

func (r *Runtime) checkOpenLocked(method string) error {
	switch r.state {
	case stateStopping:
		return errors.WrapInvalid(errors.ErrShuttingDown, "Runtime", method, "state check")
	case stateStopped:
		return errors.WrapInvalid(errors.ErrAlreadyStopped, "Runtime", method, "state check")
	}
	return nil
}

func (r *Runtime) addStreamLocked(s *stream.Stream) error {
	h := s.Handler
	runnerOpts := []component.RunnerOption{component.WithRunnerLogger(r.logger)}
	if r.core != nil {
		runnerOpts = append(runnerOpts, component.WithRunnerMetrics(r.core))
	}
	runner, err := component.NewRunner(h, runnerOpts...)
	if err != nil {
		return err
	}
	if err := r.handlers.Register(runner); err != nil {
		return errors.Wrap(err, "Runtime", "AddStream", "register "+h.ID())
	}

	if user, ok := h.(component.ResourceUser); ok {
		if err := user.BindResources(r.resources); err != nil {
			r.handlers.Unregister(h.ID())
			return errors.WrapInvalid(err, "Runtime", "AddStream", "bind resources for "+h.ID())
		}
	}

	if err := runner.Activate(r.runCtx, r.bus, s.RunOptions(r.exec)); err != nil {
		r.handlers.Unregister(h.ID())
		return errors.Wrap(err, "Runtime", "AddStream", "activate "+h.ID())
	}

	r.streams = append(r.streams, s)
	if r.metrics != nil {
		r.metrics.handlers.Set(float64(len(r.streams)))
	}
	r.logger.Debug("stream added", "handler", h.ID(), "lane", s.Lane)
	return nil
}

// Connect links out to in. Matching capabilities link directly; disjoint
// capabilities insert a bridge handler when auto-bridging is enabled.
// Both ports must belong to added handlers.
func (r *Runtime) Connect(out component.Output, in component.Input) error {
	if out == nil || in == nil {
		return errors.WrapInvalid(errors.ErrPortNotFound, "Runtime", "Connect", "port validation")
	}
	if out.Kind() != in.Kind() {
		return errors.WrapInvalid(
			fmt.Errorf("%w: %s -> %s", errors.ErrPortTypeMismatch, out.Kind(), in.Kind()),
			"Runtime", "Connect", "kind check")
	}
	if out.ElemType() != in.ElemType() {
		return errors.WrapInvalid(
			fmt.Errorf("%w: %v -> %v", errors.ErrElementMismatch, out.ElemType(), in.ElemType()),
			"Runtime", "Connect", "element type check")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.checkOpenLocked("Connect"); err != nil {
		return err
	}

	fromID, ok := r.handlers.OutputOwner(out)
	if !ok {
		return errors.WrapInvalid(
			fmt.Errorf("%w: output %q belongs to no added handler", errors.ErrPortNotFound, out.Name()),
			"Runtime", "Connect", "owner lookup")
	}
	toID, ok := r.handlers.InputOwner(in)
	if !ok {
		return errors.WrapInvalid(
			fmt.Errorf("%w: input %q belongs to no added handler", errors.ErrPortNotFound, in.Name()),
			"Runtime", "Connect", "owner lookup")
	}
	if in.Connected() {
		return errors.WrapInvalid(
			fmt.Errorf("%w: %s.%s", errors.ErrAlreadyConnected, toID, in.Name()),
			"Runtime", "Connect", "input check")
	}

	from := flowgraph.PortRef{HandlerID: fromID, PortName: out.Name()}
	to := flowgraph.PortRef{HandlerID: toID, PortName: in.Name()}

	if c, ok := component.Negotiate(out, in); ok {
		if err := component.Link(out, in, c); err != nil {
			return err
		}
		r.edges = append(r.edges, flowgraph.Edge{From: from, To: to, Capability: string(c)})
		r.logger.Debug("ports linked", "from", from, "to", to, "capability", c)
		return nil
	}

	if !r.cfg.AutoBridge {
		return errors.WrapInvalid(
			fmt.Errorf("%w: %v -> %v", errors.ErrBridgingDisabled, out.Capabilities().Strings(), in.Accepts().Strings()),
			"Runtime", "Connect", "negotiation")
	}
	return r.bridgeLocked(out, in, from, to)
}

func (r *Runtime) bridgeLocked(out component.Output, in component.Input, from, to flowgraph.PortRef) error {
	pair, factory, ok := r.bridges.Find(out.Capabilities(), in.Accepts())
	if !ok {
		return errors.WrapInvalid(
			fmt.Errorf("%w: %v -> %v", errors.ErrNoBridge, out.Capabilities().Strings(), in.Accepts().Strings()),
			"Runtime", "Connect", "bridge lookup")
	}

	b, err := factory(out, pair.From, pair.To)
	if err != nil {
		return errors.Wrap(err, "Runtime", "Connect", "create bridge "+pair.String())
	}
	s, err := stream.New(b)
	if err != nil {
		return err
	}
	if err := r.addStreamLocked(s); err != nil {
		return err
	}

	if err := component.Link(out, b.In(), pair.From); err != nil {
		r.discardLocked(s)
		return err
	}
	if err := component.Link(b.Out(), in, pair.To); err != nil {
		component.Unlink(out, b.In())
		r.discardLocked(s)
		return err
	}

	r.bridged[b.ID()] = pair
	r.edges = append(r.edges,
		flowgraph.Edge{
			From:       from,
			To:         flowgraph.PortRef{HandlerID: b.ID(), PortName: b.In().Name()},
			Capability: string(pair.From),
			Bridged:    true,
		},
		flowgraph.Edge{
			From:       flowgraph.PortRef{HandlerID: b.ID(), PortName: b.Out().Name()},
			To:         to,
			Capability: string(pair.To),
			Bridged:    true,
		})

	if r.core != nil {
		r.core.RecordBridge(string(pair.From), string(pair.To))
	}
	r.logger.Info("bridge inserted", "bridge", b.ID(), "pair", pair.String(), "from", from, "to", to)
	return nil
}

// discardLocked removes a just-added stream whose wiring failed. The
// runner is deactivated in the background so r.mu is never held while a
// run-loop winds down.
func (r *Runtime) discardLocked(s *stream.Stream) {
	id := s.Handler.ID()
	runner, ok := r.handlers.Get(id)
	r.handlers.Unregister(id)
	for i, existing := range r.streams {
		if existing == s {
			r.streams = append(r.streams[:i], r.streams[i+1:]...)
			break
		}
	}
	if r.metrics != nil {
		r.metrics.handlers.Set(float64(len(r.streams)))
	}
	if !ok {
		return
	}

	grace := r.cfg.GracePeriod
	go func() {
		if err := runner.Deactivate(grace); err != nil {
			r.logger.Warn("discarded handler did not stop", "handler", id, "error", err)
		}
	}()
}

// Start begins ticking. ctx bounds the clock loop only; handlers keep their
// run-loops until Stop. A synchronized clock that cannot lock falls back to
// free-running with a warning.
func (r *Runtime) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	switch r.state {
	case stateRunning:
		return errors.WrapInvalid(errors.ErrAlreadyStarted, "Runtime", "Start", "state check")
	case stateStopping, stateStopped:
		return errors.WrapInvalid(errors.ErrAlreadyStopped, "Runtime", "Start", "state check")
	}

	if result := r.validateLocked(); len(result.Warnings) > 0 {
		for _, w := range result.Warnings {
			r.logger.Warn("graph warning", "type", w.Type, "handler", w.HandlerID, "port", w.PortName, "message", w.Message)
		}
	}

	r.clock.Reset()
	if syncer, ok := r.clock.(clock.Syncer); ok {
		if err := syncer.Lock(ctx); err != nil {
			if ctx.Err() != nil {
				return errors.Wrap(ctx.Err(), "Runtime", "Start", "clock lock")
			}
			r.logger.Info("starting with a free-running clock", "clock", r.clock.ID(), "error", err)
		}
		// Lock may take a while; pace from now.
		r.clock.Reset()
	}

	if err := r.exec.Start(r.runCtx); err != nil {
		return errors.Wrap(err, "Runtime", "Start", "worker pool")
	}

	loopCtx, cancel := context.WithCancel(ctx)
	r.loopCancel = cancel
	r.loopDone = make(chan struct{})
	go r.clockLoop(loopCtx, r.bus, r.loopDone)

	r.state = stateRunning
	r.startedAt = time.Now()
	if r.metrics != nil {
		r.metrics.starts.Inc()
		r.metrics.running.Set(1)
	}
	r.logger.Info("runtime started", "handlers", len(r.streams), "clock", r.clock.ID(), "fps", r.clock.FPS())
	return nil
}

func (r *Runtime) clockLoop(ctx context.Context, bus *eventbus.Bus, done chan struct{}) {
	defer close(done)

	for {
		tick, err := r.clock.NextTick(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			err = errors.WrapFatal(err, "Runtime", "clockLoop", "next tick")
			r.clockErr.Store(err)
			r.logger.Error("clock loop stopped", "clock", r.clock.ID(), "error", err)
			bus.Publish(eventbus.ErrorEvent{HandlerID: "clock:" + r.clock.ID(), Err: err})
			return
		}

		bus.Publish(eventbus.TickEvent{Tick: tick})
		r.ticks.Add(1)
		if r.core != nil {
			r.core.RecordTick(r.clock.ID())
		}
	}
}

// ClockErr returns the error that ended the clock loop, if any.
func (r *Runtime) ClockErr() error {
	if err, ok := r.clockErr.Load().(error); ok {
		return err
	}
	return nil
}

// Stop ends the clock loop, deactivates every handler concurrently, clears
// the bus, stops the worker pool and closes the resource context. All of
// it shares one configured grace period. Handlers that overrun the grace period are
// abandoned and reported in the returned error. Stop is idempotent.
func (r *Runtime) Stop() error {
	r.mu.Lock()
	if r.state == stateStopping || r.state == stateStopped {
		r.mu.Unlock()
		return nil
	}
	r.state = stateStopping
	loopCancel, loopDone := r.loopCancel, r.loopDone
	runners := r.handlers.Runners()
	bus := r.bus
	r.mu.Unlock()

	start := time.Now()
	deadline := start.Add(r.cfg.GracePeriod)

	if loopCancel != nil {
		loopCancel()
		<-loopDone
	}

	var (
		wg    sync.WaitGroup
		errMu sync.Mutex
		errs  []error
	)
	grace := remaining(deadline)
	for _, runner := range runners {
		wg.Add(1)
		go func(runner *component.Runner) {
			defer wg.Done()
			if err := runner.Deactivate(grace); err != nil {
				errMu.Lock()
				errs = append(errs, err)
				errMu.Unlock()
			}
		}(runner)
	}
	wg.Wait()

	bus.Clear()
	// Pooled work still running belongs to abandoned runners; the pool gets
	// whatever is left of the same grace period.
	if err := r.exec.Stop(remaining(deadline)); err != nil {
		r.logger.Warn("worker pool did not drain", "error", err)
	}
	r.runCancel()
	if err := r.resources.Close(); err != nil {
		errs = append(errs, errors.Wrap(err, "Runtime", "Stop", "close resources"))
	}

	r.mu.Lock()
	r.state = stateStopped
	r.mu.Unlock()

	elapsed := time.Since(start)
	if r.metrics != nil {
		r.metrics.running.Set(0)
		r.metrics.stopDuration.Observe(elapsed.Seconds())
		r.metrics.abandoned.Add(float64(len(errs)))
	}
	r.logger.Info("runtime stopped", "elapsed", elapsed, "ticks", r.ticks.Load(), "abandoned", len(errs))

	return stderrors.Join(errs...)
}

func remaining(deadline time.Time) time.Duration {
	return max(time.Until(deadline), 0)
}

// Handler returns the added handler with id.
func (r *Runtime) Handler(id string) (component.Handler, bool) {
	runner, ok := r.handlers.Get(id)
	if !ok {
		return nil, false
	}
	return runner.Handler(), true
}

// State returns the lifecycle state of the handler with id.
func (r *Runtime) State(id string) (component.State, bool) {
	runner, ok := r.handlers.Get(id)
	if !ok {
		return component.StateInert, false
	}
	return runner.State(), true
}

// Bridges returns the IDs of inserted bridge handlers and their capability pairs.
func (r *Runtime) Bridges() map[string]bridge.Pair {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make(map[string]bridge.Pair, len(r.bridged))
	for id, p := range r.bridged {
		out[id] = p
	}
	return out
}

// Graph returns a snapshot of the handler graph.
func (r *Runtime) Graph() flowgraph.Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.graphLocked().Snapshot()
}

func (r *Runtime) graphLocked() *flowgraph.FlowGraph {
	g := flowgraph.NewFlowGraph()
	for _, s := range r.streams {
		id := s.Handler.ID()
		state := component.StateInert
		if runner, ok := r.handlers.Get(id); ok {
			state = runner.State()
		}
		opts := []flowgraph.NodeOption{flowgraph.WithLane(s.Lane.String())}
		if _, ok := r.bridged[id]; ok {
			opts = append(opts, flowgraph.AsBridge())
		}
		if err := g.AddHandlerNode(s.Handler, state, opts...); err != nil {
			r.logger.Debug("graph node skipped", "handler", id, "error", err)
		}
	}
	for _, e := range r.edges {
		if err := g.AddEdge(e); err != nil {
			r.logger.Debug("graph edge skipped", "edge", e.From.String()+"->"+e.To.String(), "error", err)
		}
	}
	return g
}

// Stats is a snapshot of runtime counters.
type Stats struct {
	ID               string                           `json:"id"`
	State            string                           `json:"state"`
	Uptime           time.Duration                    `json:"uptime"`
	Ticks            uint64                           `json:"ticks"`
	Handlers         map[string]component.RunnerStats `json:"handlers"`
	Bridges          int                              `json:"bridges"`
	Bus              eventbus.Stats                   `json:"bus"`
	Pool             worker.PoolStats                 `json:"pool"`
	ErrorsLogged     uint64                           `json:"errors_logged"`
	ErrorsSuppressed uint64                           `json:"errors_suppressed"`
	ClockError       string                           `json:"clock_error,omitempty"`
}

// Stats returns a snapshot of runtime counters.
func (r *Runtime) Stats() Stats {
	r.mu.Lock()
	state, bus, startedAt, bridges := r.state, r.bus, r.startedAt, len(r.bridged)
	r.mu.Unlock()

	s := Stats{
		ID:       r.id,
		State:    state.String(),
		Ticks:    r.ticks.Load(),
		Handlers: make(map[string]component.RunnerStats),
		Bridges:  bridges,
		Bus:      bus.Stats(),
		Pool:     r.exec.Stats(),
	}
	if state == stateRunning {
		s.Uptime = time.Since(startedAt)
	}
	for _, runner := range r.handlers.Runners() {
		s.Handlers[runner.ID()] = runner.Stats()
	}
	if r.errLog != nil {
		s.ErrorsLogged = r.errLog.logged.Load()
		s.ErrorsSuppressed = r.errLog.suppressed.Load()
	}
	if err := r.ClockErr(); err != nil {
		s.ClockError = err.Error()
	}
	return s
}
