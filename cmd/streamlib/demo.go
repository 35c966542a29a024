package main

import (
	"context"
	"log/slog"
	"sync"

	"github.com/tatolab/streamlib-sub000/clock"
	"github.com/tatolab/streamlib-sub000/component"
	"github.com/tatolab/streamlib-sub000/engine"
	"github.com/tatolab/streamlib-sub000/stream"
)

// picture is an RGB frame.
type picture struct {
	Width  int
	Height int
	Frame  uint64
	Pixels []byte
}

// patternSource renders a scrolling gradient on every tick.
type patternSource struct {
	component.Base
	Out *component.OutputPort[picture]

	width, height int
}

func newPatternSource(width, height, slots int) (*patternSource, error) {
	out, err := component.NewOutput[picture]("video", component.KindVideo,
		component.WithCapabilities(component.CPU), component.WithSlots(slots))
	if err != nil {
		return nil, err
	}
	s := &patternSource{Base: component.NewBase("pattern", ""), Out: out, width: width, height: height}
	if err := s.Ports().AddOutput(out); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *patternSource) Process(_ context.Context, tick clock.TimedTick) error {
	pixels := make([]byte, s.width*s.height*3)
	shift := int(tick.FrameNumber % uint64(s.width))
	for y := 0; y < s.height; y++ {
		for x := 0; x < s.width; x++ {
			v := byte(((x + shift) % s.width) * 255 / s.width)
			i := (y*s.width + x) * 3
			pixels[i] = v
			pixels[i+1] = byte(y * 255 / s.height)
			pixels[i+2] = 255 - v
		}
	}
	s.Out.Write(picture{Width: s.width, Height: s.height, Frame: tick.FrameNumber, Pixels: pixels})
	return nil
}

// grayscale converts each new upstream picture to luma.
type grayscale struct {
	component.Base
	In  *component.InputPort[picture]
	Out *component.OutputPort[picture]

	last uint64
	seen bool
}

func newGrayscale(slots int) (*grayscale, error) {
	out, err := component.NewOutput[picture]("video", component.KindVideo,
		component.WithCapabilities(component.CPU), component.WithSlots(slots))
	if err != nil {
		return nil, err
	}
	g := &grayscale{
		Base: component.NewBase("grayscale", ""),
		In:   component.NewInput[picture]("video", component.KindVideo, component.CPU),
		Out:  out,
	}
	if err := g.Ports().AddInput(g.In); err != nil {
		return nil, err
	}
	if err := g.Ports().AddOutput(out); err != nil {
		return nil, err
	}
	return g, nil
}

func (g *grayscale) Process(context.Context, clock.TimedTick) error {
	p, ok := g.In.Read()
	if !ok || (g.seen && p.Frame == g.last) {
		return nil
	}
	g.last, g.seen = p.Frame, true

	gray := make([]byte, len(p.Pixels))
	for i := 0; i+2 < len(p.Pixels); i += 3 {
		// ITU-R BT.601 luma
		y := byte((299*int(p.Pixels[i]) + 587*int(p.Pixels[i+1]) + 114*int(p.Pixels[i+2])) / 1000)
		gray[i], gray[i+1], gray[i+2] = y, y, y
	}
	g.Out.Write(picture{Width: p.Width, Height: p.Height, Frame: p.Frame, Pixels: gray})
	return nil
}

// preview stands in for a display. It accepts gpu data only, so the
// runtime bridges the cpu pipeline into it.
type preview struct {
	component.Base
	In *component.InputPort[picture]

	logger *slog.Logger

	mu     sync.Mutex
	frames uint64
	last   uint64
	maxLag uint64
}

func newPreview(logger *slog.Logger) (*preview, error) {
	p := &preview{
		Base:   component.NewBase("preview", ""),
		In:     component.NewInput[picture]("video", component.KindVideo, component.GPU),
		logger: logger.With("handler", "preview"),
	}
	if err := p.Ports().AddInput(p.In); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *preview) Process(_ context.Context, tick clock.TimedTick) error {
	pic, ok := p.In.Read()
	if !ok {
		return nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.frames > 0 && pic.Frame == p.last {
		return nil
	}
	p.frames++
	p.last = pic.Frame
	if tick.FrameNumber >= pic.Frame {
		p.maxLag = max(p.maxLag, tick.FrameNumber-pic.Frame)
	}
	if p.frames%100 == 0 {
		p.logger.Debug("preview", "frames", p.frames, "frame", pic.Frame, "tick", tick.FrameNumber)
	}
	return nil
}

func (p *preview) OnStop(context.Context) error {
	frames, lag := p.stats()
	p.logger.Info("preview finished", "frames", frames, "max_lag_ticks", lag)
	return nil
}

func (p *preview) stats() (frames, maxLag uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.frames, p.maxLag
}

// demoOptions shape the demo pipeline.
type demoOptions struct {
	Width  int
	Height int
	PinCPU int
}

type pipeline struct {
	source  *patternSource
	filter  *grayscale
	preview *preview
}

// buildPipeline adds pattern -> grayscale -> preview to rt. The filter runs
// on the worker pool and the preview on its own OS thread.
func buildPipeline(rt *engine.Runtime, opts demoOptions, logger *slog.Logger) (*pipeline, error) {
	slots := rt.Config().RingSlots

	source, err := newPatternSource(opts.Width, opts.Height, slots)
	if err != nil {
		return nil, err
	}
	filter, err := newGrayscale(slots)
	if err != nil {
		return nil, err
	}
	view, err := newPreview(logger)
	if err != nil {
		return nil, err
	}

	if err := rt.Add(source); err != nil {
		return nil, err
	}
	if err := rt.Add(filter, stream.WithLane(stream.LanePooled)); err != nil {
		return nil, err
	}
	laneOpt := stream.WithLane(stream.LaneDedicated)
	if opts.PinCPU != stream.NoCPU {
		laneOpt = stream.WithCPU(opts.PinCPU)
	}
	if err := rt.Add(view, laneOpt); err != nil {
		return nil, err
	}

	if err := rt.Connect(source.Out, filter.In); err != nil {
		return nil, err
	}
	if err := rt.Connect(filter.Out, view.In); err != nil {
		return nil, err
	}
	return &pipeline{source: source, filter: filter, preview: view}, nil
}
