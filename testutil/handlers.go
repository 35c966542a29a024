package testutil

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tatolab/streamlib-sub000/clock"
	"github.com/tatolab/streamlib-sub000/component"
)

// Generator writes a new Frame to its "video" output on every tick.
type Generator struct {
	component.Base
	Out *component.OutputPort[Frame]

	width, height int
	written       atomic.Uint64
}

// NewGenerator creates a generator of width x height frames whose output
// offers caps (cpu when empty).
func NewGenerator(id string, width, height int, caps ...component.Capability) (*Generator, error) {
	out, err := component.NewOutput[Frame]("video", component.KindVideo, component.WithCapabilities(caps...))
	if err != nil {
		return nil, err
	}
	g := &Generator{Base: component.NewBase(id, "generator"), Out: out, width: width, height: height}
	if err := g.Ports().AddOutput(out); err != nil {
		return nil, err
	}
	return g, nil
}

// Process implements component.Handler.
func (g *Generator) Process(_ context.Context, tick clock.TimedTick) error {
	g.Out.Write(NewFrame(g.width, g.height, tick.FrameNumber))
	g.written.Add(1)
	return nil
}

// Written returns the number of frames written.
func (g *Generator) Written() uint64 { return g.written.Load() }

// Sink reads the latest Frame from its "video" input on every tick and
// records frames it has not seen before.
type Sink struct {
	component.Base
	In *component.InputPort[Frame]

	mu       sync.Mutex
	received []Frame
	misses   int
}

// NewSink creates a sink whose input accepts caps (cpu when empty).
func NewSink(id string, caps ...component.Capability) (*Sink, error) {
	in := component.NewInput[Frame]("video", component.KindVideo, caps...)
	s := &Sink{Base: component.NewBase(id, "sink"), In: in}
	if err := s.Ports().AddInput(in); err != nil {
		return nil, err
	}
	return s, nil
}

// Process implements component.Handler.
func (s *Sink) Process(context.Context, clock.TimedTick) error {
	f, ok := s.In.Read()

	s.mu.Lock()
	defer s.mu.Unlock()
	if !ok {
		s.misses++
		return nil
	}
	if n := len(s.received); n > 0 && s.received[n-1].Seq == f.Seq {
		return nil
	}
	s.received = append(s.received, f)
	return nil
}

// Received returns a copy of the distinct frames read so far.
func (s *Sink) Received() []Frame {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Frame(nil), s.received...)
}

// Last returns the most recently recorded frame.
func (s *Sink) Last() (Frame, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.received) == 0 {
		return Frame{}, false
	}
	return s.received[len(s.received)-1], true
}

// Misses returns how many ticks found no data upstream.
func (s *Sink) Misses() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.misses
}

// Failing returns an error from Process on every Every-th tick, or panics
// when Panic is set.
type Failing struct {
	component.Base
	Every int
	Panic bool

	calls atomic.Uint64
}

// NewFailing creates a handler failing on every tick.
func NewFailing(id string) *Failing {
	return &Failing{Base: component.NewBase(id, "failing"), Every: 1}
}

// Process implements component.Handler.
func (f *Failing) Process(_ context.Context, tick clock.TimedTick) error {
	n := f.calls.Add(1)
	if f.Every > 1 && n%uint64(f.Every) != 0 {
		return nil
	}
	if f.Panic {
		panic(fmt.Sprintf("failing handler at frame %d", tick.FrameNumber))
	}
	return fmt.Errorf("failing handler at frame %d", tick.FrameNumber)
}

// Calls returns the number of Process calls.
func (f *Failing) Calls() uint64 { return f.calls.Load() }

// SlowStop takes Delay to return from OnStop unless its context is cancelled.
type SlowStop struct {
	component.Base
	Delay time.Duration

	stopped chan struct{}
	once    sync.Once
}

// NewSlowStop creates a handler whose OnStop takes delay.
func NewSlowStop(id string, delay time.Duration) *SlowStop {
	return &SlowStop{Base: component.NewBase(id, "slow"), Delay: delay, stopped: make(chan struct{})}
}

// Process implements component.Handler.
func (s *SlowStop) Process(context.Context, clock.TimedTick) error { return nil }

// OnStop implements component.Stopper.
func (s *SlowStop) OnStop(ctx context.Context) error {
	defer s.once.Do(func() { close(s.stopped) })

	timer := time.NewTimer(s.Delay)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stopped is closed when OnStop returns.
func (s *SlowStop) Stopped() <-chan struct{} { return s.stopped }
