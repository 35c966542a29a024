package engine_test

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/tatolab/streamlib-sub000/bridge"
	"github.com/tatolab/streamlib-sub000/clock"
	"github.com/tatolab/streamlib-sub000/component"
	"github.com/tatolab/streamlib-sub000/config"
	"github.com/tatolab/streamlib-sub000/engine"
	"github.com/tatolab/streamlib-sub000/errors"
	"github.com/tatolab/streamlib-sub000/eventbus"
	"github.com/tatolab/streamlib-sub000/health"
	"github.com/tatolab/streamlib-sub000/journal"
	"github.com/tatolab/streamlib-sub000/metric"
	"github.com/tatolab/streamlib-sub000/stream"
	tu "github.com/tatolab/streamlib-sub000/testutil"
)

const waitTimeout = 3 * time.Second

type RuntimeSuite struct {
	suite.Suite
	cfg    config.Runtime
	clk    *clock.Manual
	logger *slog.Logger
	rt     *engine.Runtime
	ctx    context.Context
	cancel context.CancelFunc
}

func (s *RuntimeSuite) SetupTest() {
	s.cfg = config.Default()
	s.cfg.GracePeriod = 500 * time.Millisecond
	s.clk = clock.NewManual("test", 30)
	s.logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	s.ctx, s.cancel = context.WithTimeout(context.Background(), 30*time.Second)
	s.rt = s.newRuntime()
}

func (s *RuntimeSuite) TearDownTest() {
	if s.rt != nil {
		_ = s.rt.Stop()
	}
	s.cancel()
}

func (s *RuntimeSuite) newRuntime(opts ...engine.Option) *engine.Runtime {
	opts = append([]engine.Option{engine.WithClock(s.clk), engine.WithLogger(s.logger)}, opts...)
	rt, err := engine.New(s.cfg, opts...)
	s.Require().NoError(err)
	return rt
}

func (s *RuntimeSuite) replaceRuntime(opts ...engine.Option) {
	_ = s.rt.Stop()
	s.rt = s.newRuntime(opts...)
}

func (s *RuntimeSuite) generatorAndSink(out, in component.Capability) (*tu.Generator, *tu.Sink) {
	gen, err := tu.NewGenerator("gen", 4, 2, out)
	s.Require().NoError(err)
	sink, err := tu.NewSink("sink", in)
	s.Require().NoError(err)
	s.Require().NoError(s.rt.Add(gen))
	s.Require().NoError(s.rt.Add(sink))
	return gen, sink
}

func (s *RuntimeSuite) waitFor(cond func() bool, msg string) {
	s.Require().True(tu.WaitFor(waitTimeout, 5*time.Millisecond, cond), msg)
}

// stepUntil releases ticks one at a time until cond holds.
func (s *RuntimeSuite) stepUntil(cond func() bool, msg string) {
	deadline := time.Now().Add(waitTimeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		s.clk.Step()
		time.Sleep(5 * time.Millisecond)
	}
	s.FailNow(msg)
}

func (s *RuntimeSuite) TestDirectLink() {
	_, sink := s.generatorAndSink(component.CPU, component.CPU)
	s.Require().NoError(s.rt.Connect(s.mustOutput("gen", "video"), sink.In))
	s.Empty(s.rt.Bridges())

	s.Require().NoError(s.rt.Start(s.ctx))
	s.stepUntil(func() bool { return len(sink.Received()) >= 3 }, "sink should receive frames")

	graph := s.rt.Graph()
	s.Len(graph.Nodes, 2)
	s.Require().Len(graph.Edges, 1)
	s.False(graph.Edges[0].Bridged)
	s.Equal("cpu", graph.Edges[0].Capability)
}

func (s *RuntimeSuite) TestBridgeIsTransparent() {
	gen, sink := s.generatorAndSink(component.GPU, component.CPU)
	s.Require().NoError(s.rt.Connect(gen.Out, sink.In))

	bridges := s.rt.Bridges()
	s.Require().Len(bridges, 1)
	for id, pair := range bridges {
		s.Equal(bridge.Pair{From: component.GPU, To: component.CPU}, pair)
		state, ok := s.rt.State(id)
		s.True(ok)
		s.Contains([]component.State{component.StateActivated, component.StateRunning}, state)
	}

	graph := s.rt.Graph()
	s.Len(graph.Nodes, 3)
	s.Len(graph.Edges, 2)
	for _, e := range graph.Edges {
		s.True(e.Bridged)
	}

	s.Require().NoError(s.rt.Start(s.ctx))
	s.stepUntil(func() bool { return len(sink.Received()) >= 5 }, "frames should cross the bridge")

	var last uint64
	for i, f := range sink.Received() {
		s.True(f.Equal(tu.NewFrame(4, 2, f.Seq)), "frame %s altered by bridge", f)
		if i > 0 {
			s.Greater(f.Seq, last)
		}
		last = f.Seq
	}
}

func (s *RuntimeSuite) TestConnectRejectsKindMismatch() {
	gen, err := tu.NewGenerator("gen", 4, 2)
	s.Require().NoError(err)
	audio := tu.NewMockHandler("audio")
	in := component.NewInput[tu.Frame]("audio", component.KindAudio, component.CPU)
	s.Require().NoError(audio.Ports().AddInput(in))
	s.Require().NoError(s.rt.Add(gen))
	s.Require().NoError(s.rt.Add(audio))

	err = s.rt.Connect(gen.Out, in)
	s.ErrorIs(err, errors.ErrPortTypeMismatch)
	s.True(errors.IsInvalid(err))
}

func (s *RuntimeSuite) TestConnectRequiresAddedHandlers() {
	gen, err := tu.NewGenerator("gen", 4, 2)
	s.Require().NoError(err)
	sink, err := tu.NewSink("sink")
	s.Require().NoError(err)
	s.Require().NoError(s.rt.Add(gen))

	s.ErrorIs(s.rt.Connect(gen.Out, sink.In), errors.ErrPortNotFound)
	s.ErrorIs(s.rt.Connect(nil, sink.In), errors.ErrPortNotFound)
}

func (s *RuntimeSuite) TestConnectRejectsSecondUpstream() {
	gen, sink := s.generatorAndSink(component.CPU, component.CPU)
	other, err := tu.NewGenerator("other", 4, 2)
	s.Require().NoError(err)
	s.Require().NoError(s.rt.Add(other))

	s.Require().NoError(s.rt.Connect(gen.Out, sink.In))
	s.ErrorIs(s.rt.Connect(other.Out, sink.In), errors.ErrAlreadyConnected)
}

func (s *RuntimeSuite) TestConnectWithBridgingDisabled() {
	s.cfg.AutoBridge = false
	s.replaceRuntime()

	gen, sink := s.generatorAndSink(component.GPU, component.CPU)
	err := s.rt.Connect(gen.Out, sink.In)
	s.ErrorIs(err, errors.ErrBridgingDisabled)
	s.False(sink.In.Connected())
	s.Len(s.rt.Graph().Nodes, 2)
}

func (s *RuntimeSuite) TestConnectWithoutRegisteredBridge() {
	s.replaceRuntime(engine.WithBridges(bridge.NewRegistry()))

	gen, sink := s.generatorAndSink(component.GPU, component.CPU)
	s.ErrorIs(s.rt.Connect(gen.Out, sink.In), errors.ErrNoBridge)
	s.Empty(s.rt.Bridges())
}

func (s *RuntimeSuite) TestFanOutEdgesCarryTheirOwnCapability() {
	gen, err := tu.NewGenerator("gen", 4, 2, component.GPU, component.CPU)
	s.Require().NoError(err)
	gpuSink, err := tu.NewSink("gpu-sink", component.GPU)
	s.Require().NoError(err)
	cpuSink, err := tu.NewSink("cpu-sink", component.CPU)
	s.Require().NoError(err)
	for _, h := range []component.Handler{gen, gpuSink, cpuSink} {
		s.Require().NoError(s.rt.Add(h))
	}

	s.Require().NoError(s.rt.Connect(gen.Out, gpuSink.In))
	s.Require().NoError(s.rt.Connect(gen.Out, cpuSink.In))
	s.Empty(s.rt.Bridges())

	graph := s.rt.Graph()
	s.Require().Len(graph.Edges, 2)
	caps := map[string]string{}
	for _, e := range graph.Edges {
		s.False(e.Bridged)
		caps[e.To.HandlerID] = e.Capability
	}
	s.Equal(map[string]string{"gpu-sink": "gpu", "cpu-sink": "cpu"}, caps)

	for _, n := range graph.Nodes {
		if n.ID == "gen" {
			s.Require().Len(n.Outputs, 1)
			s.Equal([]string{"gpu", "cpu"}, n.Outputs[0].Links)
			s.Empty(n.Outputs[0].Negotiated)
		}
	}
}

// mismatchedBridge is a faulty bridge whose output element type differs from its source.
type mismatchedBridge struct {
	*tu.MockHandler
	in  component.Input
	out component.Output
}

func (b *mismatchedBridge) In() component.Input   { return b.in }
func (b *mismatchedBridge) Out() component.Output { return b.out }

func (s *RuntimeSuite) TestFailedBridgeIsRolledBack() {
	s.cfg.GracePeriod = time.Second
	var built *mismatchedBridge
	bridges := bridge.NewRegistry()
	s.Require().NoError(bridges.Register(component.GPU, component.CPU,
		func(src component.Output, from, to component.Capability) (bridge.Bridge, error) {
			in, _, err := src.Mirror(from, to)
			if err != nil {
				return nil, err
			}
			out, err := component.NewOutput[int]("out", src.Kind(), component.WithCapabilities(to))
			if err != nil {
				return nil, err
			}
			b := &mismatchedBridge{MockHandler: tu.NewMockHandler("faulty-bridge"), in: in, out: out}
			b.StopFunc = func(context.Context) error {
				time.Sleep(2 * time.Second)
				return nil
			}
			if err := b.Ports().AddInput(in); err != nil {
				return nil, err
			}
			if err := b.Ports().AddOutput(out); err != nil {
				return nil, err
			}
			built = b
			return b, nil
		}))
	s.replaceRuntime(engine.WithBridges(bridges))

	gen, sink := s.generatorAndSink(component.GPU, component.CPU)

	start := time.Now()
	err := s.rt.Connect(gen.Out, sink.In)
	s.Less(time.Since(start), 500*time.Millisecond, "rollback must not wait for the bridge to stop")
	s.ErrorIs(err, errors.ErrElementMismatch)

	s.Require().NotNil(built)
	s.Equal(0, gen.Out.Connections())
	s.Empty(gen.Out.Links())
	s.False(built.In().Connected())
	s.False(sink.In.Connected())
	s.Empty(s.rt.Bridges())
	s.Len(s.rt.Graph().Nodes, 2)
	s.Empty(s.rt.Graph().Edges)

	start = time.Now()
	s.Require().NoError(s.rt.Add(tu.NewMockHandler("after")))
	s.Less(time.Since(start), 500*time.Millisecond, "runtime stays usable during rollback")

	s.waitFor(func() bool {
		_, _, stops := built.Calls()
		return stops == 1
	}, "discarded bridge should still be stopped")
}

func (s *RuntimeSuite) TestErrorIsolation() {
	gen, sink := s.generatorAndSink(component.CPU, component.CPU)
	s.Require().NoError(s.rt.Connect(gen.Out, sink.In))
	failing := tu.NewFailing("failing")
	s.Require().NoError(s.rt.Add(failing))

	rec, err := tu.NewEventRecorder(s.rt.Bus(), eventbus.KindError)
	s.Require().NoError(err)
	defer rec.Stop()

	s.Require().NoError(s.rt.Start(s.ctx))
	s.stepUntil(func() bool {
		return len(rec.Errors()) >= 5 && len(sink.Received()) >= 5
	}, "errors and frames should both flow")

	for _, e := range rec.Errors() {
		s.Equal("failing", e.HandlerID)
	}
	state, _ := s.rt.State("failing")
	s.Equal(component.StateRunning, state)
	state, _ = s.rt.State("sink")
	s.Equal(component.StateRunning, state)

	s.waitFor(func() bool { return s.rt.Stats().ErrorsLogged > 0 }, "errors should be logged")
}

func (s *RuntimeSuite) TestPanicIsContained() {
	failing := tu.NewFailing("panicky")
	failing.Panic = true
	mock := tu.NewMockHandler("steady")
	s.Require().NoError(s.rt.Add(failing))
	s.Require().NoError(s.rt.Add(mock))

	rec, err := tu.NewEventRecorder(s.rt.Bus(), eventbus.KindError)
	s.Require().NoError(err)
	defer rec.Stop()

	s.Require().NoError(s.rt.Start(s.ctx))
	s.stepUntil(func() bool { return len(rec.Errors()) >= 2 }, "panics should surface as errors")

	s.True(errors.IsFatal(rec.Errors()[0].Err))
	_, process, _ := mock.Calls()
	s.Positive(process)
}

func (s *RuntimeSuite) TestShutdownGracePeriod() {
	s.cfg.GracePeriod = 100 * time.Millisecond
	s.replaceRuntime()

	slow := tu.NewSlowStop("slow", 10*time.Second)
	quick := tu.NewMockHandler("quick")
	s.Require().NoError(s.rt.Add(slow))
	s.Require().NoError(s.rt.Add(quick))
	s.Require().NoError(s.rt.Start(s.ctx))

	start := time.Now()
	err := s.rt.Stop()
	elapsed := time.Since(start)

	s.ErrorIs(err, errors.ErrShutdownTimeout)
	s.Less(elapsed, time.Second)

	state, _ := s.rt.State("quick")
	s.Equal(component.StateStopped, state)
	_, _, stops := quick.Calls()
	s.Equal(1, stops)

	select {
	case <-slow.Stopped():
	case <-time.After(waitTimeout):
		s.Fail("slow handler's stop context should be cancelled")
	}

	s.NoError(s.rt.Stop(), "stop is idempotent")
	s.True(s.rt.Bus().Closed())
}

func (s *RuntimeSuite) TestShutdownGracePeriodCoversPooledWork() {
	s.cfg.GracePeriod = 200 * time.Millisecond
	s.replaceRuntime()

	entered := make(chan struct{})
	var once sync.Once
	pooled := tu.NewMockHandler("pooled")
	pooled.ProcessFunc = func(context.Context, clock.TimedTick) error {
		once.Do(func() { close(entered) })
		time.Sleep(3 * time.Second)
		return nil
	}
	s.Require().NoError(s.rt.Add(pooled, stream.WithLane(stream.LanePooled)))
	s.Require().NoError(s.rt.Start(s.ctx))

	s.stepUntil(func() bool {
		select {
		case <-entered:
			return true
		default:
			return false
		}
	}, "pooled process call should be in flight")

	start := time.Now()
	err := s.rt.Stop()
	elapsed := time.Since(start)

	s.ErrorIs(err, errors.ErrShutdownTimeout)
	s.GreaterOrEqual(elapsed, s.cfg.GracePeriod)
	s.Less(elapsed, s.cfg.GracePeriod+150*time.Millisecond, "pool drain shares the grace period")
}

func (s *RuntimeSuite) TestLifecycleErrors() {
	mock := tu.NewMockHandler("one")
	s.Require().NoError(s.rt.Add(mock))

	start, _, _ := mock.Calls()
	s.Equal(1, start, "OnStart runs when the handler is added")

	dup := tu.NewMockHandler("one")
	s.ErrorIs(s.rt.Add(dup), errors.ErrDuplicateHandler)
	s.ErrorIs(s.rt.AddStream(nil), errors.ErrNilHandler)

	s.Require().NoError(s.rt.Start(s.ctx))
	s.ErrorIs(s.rt.Start(s.ctx), errors.ErrAlreadyStarted)

	late := tu.NewMockHandler("late")
	s.Require().NoError(s.rt.Add(late))
	s.stepUntil(func() bool {
		_, n, _ := late.Calls()
		return n > 0
	}, "handler added while running should receive ticks")

	s.Require().NoError(s.rt.Stop())
	s.ErrorIs(s.rt.Start(s.ctx), errors.ErrAlreadyStopped)
	s.ErrorIs(s.rt.Add(tu.NewMockHandler("after")), errors.ErrAlreadyStopped)
	s.Equal("stopped", s.rt.Stats().State)
}

func (s *RuntimeSuite) TestHandlerBelongsToOneRuntime() {
	mock := tu.NewMockHandler("shared")
	s.Require().NoError(s.rt.Add(mock))

	other := s.newRuntime()
	defer other.Stop()

	err := other.Add(mock)
	s.ErrorIs(err, errors.ErrAlreadyActivated)
	s.True(errors.IsInvalid(err))
	s.Empty(other.Graph().Nodes)

	s.Require().NoError(s.rt.Stop())
	s.ErrorIs(other.Add(mock), errors.ErrAlreadyActivated, "a stopped handler cannot move runtimes")

	start, _, _ := mock.Calls()
	s.Equal(1, start)
}

func (s *RuntimeSuite) TestLanes() {
	pooled := tu.NewMockHandler("pooled")
	dedicated := tu.NewMockHandler("dedicated")
	shared := tu.NewMockHandler("shared")
	s.Require().NoError(s.rt.Add(pooled, stream.WithLane(stream.LanePooled)))
	s.Require().NoError(s.rt.Add(dedicated, stream.WithLane(stream.LaneDedicated)))
	s.Require().NoError(s.rt.Add(shared))

	s.Require().NoError(s.rt.Start(s.ctx))
	s.stepUntil(func() bool {
		_, p, _ := pooled.Calls()
		_, d, _ := dedicated.Calls()
		_, sh, _ := shared.Calls()
		return p >= 3 && d >= 3 && sh >= 3
	}, "every lane should process ticks")

	s.Positive(s.rt.Stats().Pool.Processed)

	lanes := map[string]string{}
	for _, n := range s.rt.Graph().Nodes {
		lanes[n.ID] = n.Lane
	}
	s.Equal(map[string]string{"pooled": "pooled", "dedicated": "dedicated", "shared": "shared"}, lanes)
}

func (s *RuntimeSuite) TestTicksCarryFrameNumbers() {
	mock := tu.NewMockHandler("counter")
	s.Require().NoError(s.rt.Add(mock))
	s.Require().NoError(s.rt.Start(s.ctx))

	s.clk.StepN(5)
	s.waitFor(func() bool { return len(mock.ReceivedTicks()) == 5 }, "all five ticks should arrive")

	for i, tick := range mock.ReceivedTicks() {
		s.Equal(uint64(i), tick.FrameNumber)
		s.Equal("test", tick.ClockID)
	}
	s.Equal(uint64(5), s.rt.Stats().Ticks)
}

func (s *RuntimeSuite) TestValidate() {
	_, _ = s.generatorAndSink(component.CPU, component.CPU)

	result := s.rt.Validate()
	s.Equal(engine.StatusWarnings, result.Status)

	types := map[string]bool{}
	for _, w := range result.Warnings {
		types[w.Type] = true
	}
	s.True(types["unconnected_input"])
	s.True(types["disconnected_handler"])
	s.Empty(result.Errors)
}

func (s *RuntimeSuite) TestSinksObserveRun() {
	watcher := health.NewWatcher(health.NewMonitor(), health.WithThreshold(3))
	j, err := journal.Open(filepath.Join(s.T().TempDir(), "run.db"))
	s.Require().NoError(err)

	s.replaceRuntime(engine.WithSinks(watcher, j))

	failing := tu.NewFailing("failing")
	s.Require().NoError(s.rt.Add(failing))
	s.Require().NoError(s.rt.Start(s.ctx))

	s.stepUntil(func() bool {
		st, ok := watcher.Monitor().Get("failing")
		return ok && st.Unhealthy()
	}, "repeated errors should make the handler unhealthy")

	s.waitFor(func() bool {
		recs, err := j.Errors(s.ctx, "failing", 0)
		return err == nil && len(recs) >= 3
	}, "errors should be journaled")

	s.Require().NoError(s.rt.Stop())
	watcher.Wait()

	s.waitFor(func() bool {
		lifecycle, err := j.Lifecycle(s.ctx, "failing")
		return err == nil && len(lifecycle) > 0 && lifecycle[0].To == "activated"
	}, "lifecycle transitions should be journaled")
	s.NoError(j.Close())
}

func TestRuntimeSuite(t *testing.T) {
	suite.Run(t, new(RuntimeSuite))
}

func (s *RuntimeSuite) mustOutput(handlerID, port string) component.Output {
	h, ok := s.rt.Handler(handlerID)
	s.Require().True(ok)
	out, ok := h.Ports().Output(port)
	s.Require().True(ok)
	return out
}

func TestNew_InvalidConfig(t *testing.T) {
	cfg := config.Default()
	cfg.FPS = 0

	_, err := engine.New(cfg)
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrInvalidConfig)
}

func TestRuntime_Pacing(t *testing.T) {
	if testing.Short() {
		t.Skip("real-time pacing test")
	}

	cfg := config.Default()
	cfg.FPS = 10
	rt, err := engine.New(cfg)
	require.NoError(t, err)
	defer rt.Stop()

	mock := tu.NewMockHandler("paced")
	require.NoError(t, rt.Add(mock))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, rt.Start(ctx))

	require.True(t, tu.WaitFor(5*time.Second, 10*time.Millisecond, func() bool {
		return len(mock.ReceivedTicks()) >= 21
	}))

	ticks := mock.ReceivedTicks()
	for i := 1; i < len(ticks); i++ {
		assert.Greater(t, ticks[i].FrameNumber, ticks[i-1].FrameNumber)
	}
	span := ticks[20].Timestamp - ticks[0].Timestamp
	assert.InDelta(t, 2.0, span, 0.1, "20 periods at 10 fps should span two seconds")
}

func TestRuntime_SynchronizedClockFallsBack(t *testing.T) {
	cfg := config.Default()
	cfg.Clock.Kind = config.ClockPTP
	cfg.FPS = 100

	rt, err := engine.New(cfg)
	require.NoError(t, err)
	defer rt.Stop()

	mock := tu.NewMockHandler("ptp")
	require.NoError(t, rt.Add(mock))
	require.NoError(t, rt.Start(context.Background()))

	assert.True(t, tu.WaitFor(2*time.Second, 10*time.Millisecond, func() bool {
		return len(mock.ReceivedTicks()) >= 3
	}), "an unsynchronized clock should still tick")

	syncer, ok := rt.Clock().(clock.Syncer)
	require.True(t, ok)
	assert.False(t, syncer.Synchronized())
}

func TestRuntime_Metrics(t *testing.T) {
	registry := metric.NewMetricsRegistry()
	clk := clock.NewManual("metrics", 30)

	rt, err := engine.New(config.Default(), engine.WithClock(clk), engine.WithMetrics(registry))
	require.NoError(t, err)

	gen, err := tu.NewGenerator("gen", 2, 2, component.GPU)
	require.NoError(t, err)
	sink, err := tu.NewSink("sink", component.CPU)
	require.NoError(t, err)
	require.NoError(t, rt.Add(gen))
	require.NoError(t, rt.Add(sink))
	require.NoError(t, rt.Connect(gen.Out, sink.In))
	require.NoError(t, rt.Start(context.Background()))

	clk.StepN(3)
	require.True(t, tu.WaitFor(waitTimeout, 5*time.Millisecond, func() bool {
		return rt.Stats().Ticks == 3
	}))
	require.NoError(t, rt.Stop())

	core := registry.CoreMetrics()
	assert.Equal(t, 3.0, testutil.ToFloat64(core.TicksPublished.WithLabelValues("metrics")))
	assert.Equal(t, 1.0, testutil.ToFloat64(core.BridgesInserted.WithLabelValues("gpu", "cpu")))
}

// failingClock ticks like its Manual clock until failAfter ticks, then errors.
type failingClock struct {
	*clock.Manual
	failAfter int64
	calls     atomic.Int64
}

func (c *failingClock) NextTick(ctx context.Context) (clock.TimedTick, error) {
	if c.calls.Add(1) > c.failAfter {
		return clock.TimedTick{}, errors.ErrClockUnavailable
	}
	return c.Manual.NextTick(ctx)
}

func TestRuntime_ClockFailure(t *testing.T) {
	clk := &failingClock{Manual: clock.NewManual("flaky", 30), failAfter: 3}
	rt, err := engine.New(config.Default(), engine.WithClock(clk))
	require.NoError(t, err)

	mock := tu.NewMockHandler("steady")
	require.NoError(t, rt.Add(mock))
	rec, err := tu.NewEventRecorder(rt.Bus(), eventbus.KindError)
	require.NoError(t, err)
	defer rec.Stop()

	assert.NoError(t, rt.ClockErr())
	require.NoError(t, rt.Start(context.Background()))
	clk.StepN(3)

	require.True(t, tu.WaitFor(waitTimeout, 5*time.Millisecond, func() bool {
		return rt.ClockErr() != nil && len(rec.Errors()) > 0
	}), "clock failure should be recorded and published")

	clockErr := rt.ClockErr()
	assert.True(t, errors.IsFatal(clockErr))
	assert.ErrorIs(t, clockErr, errors.ErrClockUnavailable)

	ev := rec.Errors()[0]
	assert.Equal(t, "clock:flaky", ev.HandlerID)
	assert.ErrorIs(t, ev.Err, errors.ErrClockUnavailable)

	require.True(t, tu.WaitFor(waitTimeout, 5*time.Millisecond, func() bool {
		return len(mock.ReceivedTicks()) == 3
	}), "ticks before the failure should be delivered")
	assert.Equal(t, uint64(3), rt.Stats().Ticks)
	assert.NotEmpty(t, rt.Stats().ClockError)

	state, ok := rt.State("steady")
	require.True(t, ok)
	assert.Equal(t, component.StateRunning, state, "handlers outlive the clock loop")

	assert.NoError(t, rt.Stop())
	_, _, stops := mock.Calls()
	assert.Equal(t, 1, stops)
}

func TestRuntime_ConcurrentAdd(t *testing.T) {
	rt, err := engine.New(config.Default(), engine.WithClock(clock.NewManual("c", 30)))
	require.NoError(t, err)
	defer rt.Stop()

	var wg sync.WaitGroup
	errs := make(chan error, 16)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- rt.Add(tu.NewMockHandler(""))
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		assert.NoError(t, err)
	}
	assert.Len(t, rt.Graph().Nodes, 16)
}
