package stream

import (
	"fmt"
	"runtime"

	"github.com/tatolab/streamlib-sub000/component"
	"github.com/tatolab/streamlib-sub000/errors"
)

// Lane selects where a handler's run-loop executes.
type Lane int

const (
	// LaneShared runs the run-loop as an ordinary goroutine.
	LaneShared Lane = iota
	// LanePooled hands each Process call to the runtime's bounded worker pool.
	LanePooled
	// LaneDedicated locks the run-loop to its own OS thread.
	LaneDedicated
)

// NoCPU leaves a dedicated lane unpinned.
const NoCPU = -1

func (l Lane) String() string {
	switch l {
	case LaneShared:
		return "shared"
	case LanePooled:
		return "pooled"
	case LaneDedicated:
		return "dedicated"
	default:
		return fmt.Sprintf("lane(%d)", int(l))
	}
}

// ParseLane parses a lane name as written in configuration.
func ParseLane(s string) (Lane, error) {
	switch s {
	case "", "shared":
		return LaneShared, nil
	case "pooled":
		return LanePooled, nil
	case "dedicated":
		return LaneDedicated, nil
	default:
		return LaneShared, errors.WrapInvalid(
			fmt.Errorf("%w: unknown lane %q", errors.ErrInvalidConfig, s), "stream", "ParseLane", "lane lookup")
	}
}

// Stream is a handler together with its execution lane. It is consumed
// once by Runtime.AddStream.
type Stream struct {
	Handler component.Handler
	Lane    Lane
	// CPU pins a dedicated lane to one core; NoCPU disables pinning.
	CPU int
}

// Option configures a Stream.
type Option func(*Stream)

// WithLane selects the execution lane.
func WithLane(l Lane) Option {
	return func(s *Stream) { s.Lane = l }
}

// WithCPU pins a dedicated lane to cpu. It implies LaneDedicated.
func WithCPU(cpu int) Option {
	return func(s *Stream) {
		s.Lane = LaneDedicated
		s.CPU = cpu
	}
}

// New wraps h in a shared-lane stream.
func New(h component.Handler, opts ...Option) (*Stream, error) {
	if h == nil {
		return nil, errors.WrapInvalid(errors.ErrNilHandler, "stream", "New", "handler validation")
	}
	s := &Stream{Handler: h, Lane: LaneShared, CPU: NoCPU}
	for _, opt := range opts {
		opt(s)
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

// Validate checks the lane and CPU selection.
func (s *Stream) Validate() error {
	if s.Handler == nil {
		return errors.WrapInvalid(errors.ErrNilHandler, "stream", "Validate", "handler validation")
	}
	if s.Lane < LaneShared || s.Lane > LaneDedicated {
		return errors.WrapInvalid(
			fmt.Errorf("%w: %s", errors.ErrInvalidConfig, s.Lane), "stream", "Validate", "lane validation")
	}
	if s.CPU < NoCPU || s.CPU >= runtime.NumCPU() {
		return errors.WrapInvalid(
			fmt.Errorf("%w: cpu %d out of range [0,%d)", errors.ErrInvalidConfig, s.CPU, runtime.NumCPU()),
			"stream", "Validate", "cpu validation")
	}
	if s.CPU != NoCPU && s.Lane != LaneDedicated {
		return errors.WrapInvalid(
			fmt.Errorf("%w: cpu pinning requires the dedicated lane", errors.ErrInvalidConfig),
			"stream", "Validate", "cpu validation")
	}
	return nil
}

// RunOptions translates the lane into run-loop options. exec backs the
// pooled lane and is ignored by the others.
func (s *Stream) RunOptions(exec component.Executor) component.RunOptions {
	switch s.Lane {
	case LanePooled:
		return component.RunOptions{Executor: exec}
	case LaneDedicated:
		cpu := s.CPU
		return component.RunOptions{Setup: func() error {
			runtime.LockOSThread()
			if cpu == NoCPU {
				return nil
			}
			return pin(cpu)
		}}
	default:
		return component.RunOptions{}
	}
}
