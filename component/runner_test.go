package component

import (
	"context"
	stderrors "errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tatolab/streamlib-sub000/clock"
	"github.com/tatolab/streamlib-sub000/errors"
	"github.com/tatolab/streamlib-sub000/eventbus"
	"github.com/tatolab/streamlib-sub000/metric"
)

// stub is a configurable handler for runner tests.
type stub struct {
	Base
	process func(tick clock.TimedTick) error
	stop    time.Duration

	mu      sync.Mutex
	started int
	stopped int
	frames  []uint64
}

func newStub(id string) *stub {
	return &stub{Base: NewBase(id, "stub")}
}

func (p *stub) OnStart(context.Context) error {
	p.mu.Lock()
	p.started++
	p.mu.Unlock()
	return nil
}

func (p *stub) OnStop(ctx context.Context) error {
	if p.stop > 0 {
		select {
		case <-time.After(p.stop):
		case <-ctx.Done():
		}
	}
	p.mu.Lock()
	p.stopped++
	p.mu.Unlock()
	return nil
}

func (p *stub) Process(_ context.Context, tick clock.TimedTick) error {
	p.mu.Lock()
	p.frames = append(p.frames, tick.FrameNumber)
	p.mu.Unlock()
	if p.process != nil {
		return p.process(tick)
	}
	return nil
}

func (p *stub) counts() (started, stopped, frames int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.started, p.stopped, len(p.frames)
}

func publishTicks(bus *eventbus.Bus, from, n uint64) {
	for i := from; i < from+n; i++ {
		bus.Publish(eventbus.TickEvent{Tick: clock.TimedTick{FrameNumber: i, ClockID: "test"}})
	}
}

func TestStandardRunnerTests_Stub(t *testing.T) {
	StandardRunnerTests(t, func() Handler { return newStub("") })
}

func TestNewRunner_Nil(t *testing.T) {
	_, err := NewRunner(nil)
	assert.ErrorIs(t, err, errors.ErrNilHandler)
}

func TestRunner_HooksRunOnce(t *testing.T) {
	p := newStub("p")
	r, err := NewRunner(p)
	require.NoError(t, err)
	assert.Equal(t, "p", r.ID())
	assert.Same(t, p, r.Handler())

	bus := eventbus.New()
	require.NoError(t, r.Activate(context.Background(), bus, RunOptions{}))
	publishTicks(bus, 0, 3)

	require.Eventually(t, func() bool {
		_, _, frames := p.counts()
		return frames == 3
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, r.Deactivate(time.Second))
	started, stopped, _ := p.counts()
	assert.Equal(t, 1, started)
	assert.Equal(t, 1, stopped)
	assert.Equal(t, []uint64{0, 1, 2}, p.frames)

	select {
	case <-r.Done():
	default:
		t.Fatal("run-loop still running after Deactivate")
	}
}

func TestRunner_ErrorsArePublishedNotPropagated(t *testing.T) {
	boom := stderrors.New("decode failed")
	p := newStub("failing")
	p.process = func(tick clock.TimedTick) error {
		if tick.FrameNumber == 1 {
			panic("corrupt frame")
		}
		return boom
	}

	bus := eventbus.New()
	errs, err := bus.Subscribe(eventbus.KindError)
	require.NoError(t, err)

	r, err := NewRunner(p)
	require.NoError(t, err)
	require.NoError(t, r.Activate(context.Background(), bus, RunOptions{}))
	publishTicks(bus, 0, 3)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	var events []eventbus.ErrorEvent
	for len(events) < 3 {
		ev, err := errs.Next(ctx)
		require.NoError(t, err)
		events = append(events, ev.(eventbus.ErrorEvent))
	}

	assert.Equal(t, "failing", events[0].HandlerID)
	assert.ErrorIs(t, events[0].Err, boom)
	assert.Equal(t, uint64(0), events[0].Tick.FrameNumber)
	assert.Contains(t, events[1].Err.Error(), "corrupt frame")
	assert.True(t, errors.IsFatal(events[1].Err))
	assert.Equal(t, uint64(2), events[2].Tick.FrameNumber)

	assert.Equal(t, StateRunning, r.State())
	assert.Equal(t, uint64(3), r.Stats().Failed)
	require.NoError(t, r.Deactivate(time.Second))
}

func TestRunner_LifecycleEvents(t *testing.T) {
	bus := eventbus.New()
	lc, err := bus.Subscribe(eventbus.KindLifecycle)
	require.NoError(t, err)

	r, err := NewRunner(newStub("lc"))
	require.NoError(t, err)
	require.NoError(t, r.Activate(context.Background(), bus, RunOptions{}))
	require.NoError(t, r.Deactivate(time.Second))

	var got []string
	for lc.Len() > 0 {
		ev := (<-lc.C()).(eventbus.LifecycleEvent)
		assert.Equal(t, "lc", ev.HandlerID)
		got = append(got, ev.From+">"+ev.To)
	}
	assert.Equal(t, []string{
		"inert>activated",
		"activated>running",
		"running>deactivating",
		"deactivating>stopped",
	}, got)
}

func TestRunner_ShutdownGrace(t *testing.T) {
	p := newStub("slow")
	p.stop = 5 * time.Second

	r, err := NewRunner(p)
	require.NoError(t, err)
	require.NoError(t, r.Activate(context.Background(), eventbus.New(), RunOptions{}))

	grace := 100 * time.Millisecond
	start := time.Now()
	err = r.Deactivate(grace)
	elapsed := time.Since(start)

	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrShutdownTimeout)
	assert.True(t, errors.IsTransient(err))
	assert.Less(t, elapsed, grace+200*time.Millisecond)
	assert.Equal(t, StateStopped, r.State())

	// the abandoned OnStop sees its context cancelled and returns
	require.Eventually(t, func() bool {
		_, stopped, _ := p.counts()
		return stopped == 1
	}, time.Second, 5*time.Millisecond)
}

func TestRunner_ParentContextCancelStopsLoop(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	r, err := NewRunner(newStub("ctx"))
	require.NoError(t, err)
	require.NoError(t, r.Activate(ctx, eventbus.New(), RunOptions{}))

	cancel()
	select {
	case <-r.Done():
	case <-time.After(time.Second):
		t.Fatal("run-loop ignored parent cancellation")
	}
	assert.Equal(t, StateStopped, r.State())
}

func TestRunner_ActivateOnClearedBus(t *testing.T) {
	bus := eventbus.New()
	bus.Clear()

	r, err := NewRunner(newStub("late"))
	require.NoError(t, err)
	err = r.Activate(context.Background(), bus, RunOptions{})
	assert.ErrorIs(t, err, errors.ErrBusClosed)
	assert.Equal(t, StateStopped, r.State())
}

// gate is an executor that runs jobs on demand.
type gate struct {
	mu     sync.Mutex
	jobs   []func()
	reject atomic.Bool
}

func (g *gate) Execute(job func()) error {
	if g.reject.Load() {
		return stderrors.New("queue full")
	}
	g.mu.Lock()
	g.jobs = append(g.jobs, job)
	g.mu.Unlock()
	return nil
}

func (g *gate) runAll() {
	g.mu.Lock()
	jobs := g.jobs
	g.jobs = nil
	g.mu.Unlock()
	for _, job := range jobs {
		job()
	}
}

func (g *gate) pending() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.jobs)
}

func TestRunner_ExecutorSkipsWhileBusy(t *testing.T) {
	p := newStub("pooled")
	exec := &gate{}
	registry := metric.NewMetricsRegistry()

	r, err := NewRunner(p, WithRunnerMetrics(registry.CoreMetrics()))
	require.NoError(t, err)
	bus := eventbus.New()
	require.NoError(t, r.Activate(context.Background(), bus, RunOptions{Executor: exec}))

	// first tick is queued, the next two arrive while it is in flight
	publishTicks(bus, 0, 3)
	require.Eventually(t, func() bool { return r.Stats().Skipped == 2 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, exec.pending())

	exec.runAll()
	publishTicks(bus, 3, 1)
	require.Eventually(t, func() bool { return exec.pending() == 1 }, time.Second, 5*time.Millisecond)
	exec.runAll()

	exec.reject.Store(true)
	publishTicks(bus, 4, 1)
	require.Eventually(t, func() bool { return r.Stats().Skipped == 3 }, time.Second, 5*time.Millisecond)

	require.NoError(t, r.Deactivate(time.Second))
	assert.Equal(t, []uint64{0, 3}, p.frames)
	assert.Equal(t, 3.0, testutil.ToFloat64(registry.CoreMetrics().TicksSkipped.WithLabelValues("pooled")))
	assert.Equal(t, float64(StateStopped), testutil.ToFloat64(registry.CoreMetrics().HandlerState.WithLabelValues("pooled")))
}

func TestRunner_SetupRunsOnLoop(t *testing.T) {
	var calls atomic.Int32
	r, err := NewRunner(newStub("setup"))
	require.NoError(t, err)

	opts := RunOptions{Setup: func() error {
		calls.Add(1)
		return stderrors.New("affinity not permitted")
	}}
	require.NoError(t, r.Activate(context.Background(), eventbus.New(), opts))
	require.NoError(t, r.Deactivate(time.Second))
	assert.Equal(t, int32(1), calls.Load())
}

func TestRegistry(t *testing.T) {
	reg := NewRegistry()

	a := newStub("a")
	out, err := NewOutput[int]("out", KindData)
	require.NoError(t, err)
	require.NoError(t, a.Ports().AddOutput(out))
	in := NewInput[int]("in", KindData)
	require.NoError(t, a.Ports().AddInput(in))

	ra, err := NewRunner(a)
	require.NoError(t, err)
	require.NoError(t, reg.Register(ra))

	t.Run("duplicate id", func(t *testing.T) {
		rb, err := NewRunner(newStub("a"))
		require.NoError(t, err)
		assert.ErrorIs(t, reg.Register(rb), errors.ErrDuplicateHandler)
	})

	t.Run("same instance twice", func(t *testing.T) {
		again, err := NewRunner(a)
		require.NoError(t, err)
		assert.ErrorIs(t, reg.Register(again), errors.ErrDuplicateHandler)
	})

	t.Run("shared port", func(t *testing.T) {
		c := newStub("c")
		require.NoError(t, c.Ports().AddOutput(out))
		rc, err := NewRunner(c)
		require.NoError(t, err)
		assert.True(t, errors.IsInvalid(reg.Register(rc)))
	})

	owner, ok := reg.OutputOwner(out)
	assert.True(t, ok)
	assert.Equal(t, "a", owner)
	owner, ok = reg.InputOwner(in)
	assert.True(t, ok)
	assert.Equal(t, "a", owner)

	d := newStub("d")
	rd, err := NewRunner(d)
	require.NoError(t, err)
	require.NoError(t, reg.Register(rd))

	ids := []string{}
	for _, r := range reg.Runners() {
		ids = append(ids, r.ID())
	}
	assert.Equal(t, []string{"a", "d"}, ids)
	assert.Equal(t, 2, reg.Len())

	reg.Unregister("a")
	_, ok = reg.Get("a")
	assert.False(t, ok)
	_, ok = reg.OutputOwner(out)
	assert.False(t, ok)
	got, ok := reg.Get("d")
	require.True(t, ok)
	assert.Same(t, rd, got)
}

func TestRunner_HandlerOwnedByOneRunner(t *testing.T) {
	h := newStub("shared")

	first, err := NewRunner(h)
	require.NoError(t, err)
	second, err := NewRunner(h)
	require.NoError(t, err)

	require.NoError(t, first.Activate(context.Background(), eventbus.New(), RunOptions{}))
	err = second.Activate(context.Background(), eventbus.New(), RunOptions{})
	assert.ErrorIs(t, err, errors.ErrAlreadyActivated)
	assert.True(t, errors.IsInvalid(err))
	assert.Equal(t, StateInert, second.State())

	require.NoError(t, first.Deactivate(time.Second))
	err = second.Activate(context.Background(), eventbus.New(), RunOptions{})
	assert.ErrorIs(t, err, errors.ErrAlreadyActivated, "a stopped handler stays owned")

	started, _, _ := h.counts()
	assert.Equal(t, 1, started)
}

func TestRegistry_OwnershipAcrossRegistries(t *testing.T) {
	h := newStub("h")
	regA, regB := NewRegistry(), NewRegistry()

	ra, err := NewRunner(h)
	require.NoError(t, err)
	require.NoError(t, regA.Register(ra))

	rb, err := NewRunner(h)
	require.NoError(t, err)
	err = regB.Register(rb)
	assert.ErrorIs(t, err, errors.ErrAlreadyActivated)
	assert.Equal(t, 0, regB.Len())

	// an inert runner gives the handler back when unregistered
	regA.Unregister("h")
	require.NoError(t, regB.Register(rb))
	require.NoError(t, rb.Activate(context.Background(), eventbus.New(), RunOptions{}))
	assert.ErrorIs(t, ra.Activate(context.Background(), eventbus.New(), RunOptions{}), errors.ErrAlreadyActivated)
	require.NoError(t, rb.Deactivate(time.Second))
}

func TestNewBase_GeneratesID(t *testing.T) {
	b := NewBase("", "camera")
	assert.Regexp(t, `^camera-[0-9a-f]{8}$`, b.ID())
	assert.NotNil(t, b.Ports())
	assert.Regexp(t, `^handler-`, NewBase("", "").ID())
	assert.Equal(t, "fixed", NewBase("fixed", "camera").ID())
}
