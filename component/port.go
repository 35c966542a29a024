package component

import (
	"fmt"
	"reflect"
	"sync"

	"github.com/tatolab/streamlib-sub000/errors"
	"github.com/tatolab/streamlib-sub000/metric"
	"github.com/tatolab/streamlib-sub000/pkg/buffer"
)

// DefaultSlots is the ring size of an output port unless overridden.
const DefaultSlots = 3

// Output is the type-erased view of an OutputPort used for graph wiring.
type Output interface {
	Name() string
	Kind() Kind
	Capabilities() Capabilities
	ElemType() reflect.Type
	// Links returns the negotiated capability of each connection in link
	// order. A fan-out output can carry a different capability per input.
	Links() []Capability
	Connections() int
	// ReadValue returns the latest value as an any.
	ReadValue() (any, bool)
	// WriteValue writes v, which must have the port's element type.
	WriteValue(v any) error
	// Mirror creates a connected-capable input/output pair with this port's
	// element type, kind and ring size. Bridges use it to stay type-preserving.
	Mirror(from, to Capability) (Input, Output, error)

	linked(c Capability)
	unlinked(c Capability)
}

// Input is the type-erased view of an InputPort.
type Input interface {
	Name() string
	Kind() Kind
	Accepts() Capabilities
	ElemType() reflect.Type
	Negotiated() Capability
	Connected() bool
	Upstream() Output
	ReadValue() (any, bool)

	link(out Output, c Capability) error
	unlink(out Output) (Capability, bool)
}

// outputOptions configures NewOutput.
type outputOptions struct {
	caps     []Capability
	slots    int
	registry *metric.MetricsRegistry
	prefix   string
}

// OutputOption configures an output port.
type OutputOption func(*outputOptions)

// WithCapabilities sets the produced capabilities in preference order.
// Defaults to CPU.
func WithCapabilities(caps ...Capability) OutputOption {
	return func(o *outputOptions) { o.caps = caps }
}

// WithSlots sets the ring size. Defaults to DefaultSlots.
func WithSlots(n int) OutputOption {
	return func(o *outputOptions) { o.slots = n }
}

// WithRingMetrics exports the ring counters under prefix.
func WithRingMetrics(registry *metric.MetricsRegistry, prefix string) OutputOption {
	return func(o *outputOptions) {
		o.registry = registry
		o.prefix = prefix
	}
}

// OutputPort owns the ring buffer its handler writes into.
type OutputPort[T any] struct {
	name string
	kind Kind
	caps Capabilities
	ring *buffer.RingBuffer[T]

	mu    sync.RWMutex
	links []Capability
}

// NewOutput creates an output port and its ring buffer.
func NewOutput[T any](name string, kind Kind, opts ...OutputOption) (*OutputPort[T], error) {
	o := outputOptions{slots: DefaultSlots}
	for _, opt := range opts {
		opt(&o)
	}

	var ringOpts []buffer.Option[T]
	if o.registry != nil {
		ringOpts = append(ringOpts, buffer.WithMetrics[T](o.registry, o.prefix))
	}
	ring, err := buffer.NewRingBuffer[T](o.slots, ringOpts...)
	if err != nil {
		return nil, errors.Wrap(err, "OutputPort", "NewOutput", fmt.Sprintf("ring for %s", name))
	}

	return &OutputPort[T]{
		name: name,
		kind: kind,
		caps: normalizeCapabilities(o.caps),
		ring: ring,
	}, nil
}

// Write publishes v to every connected input. It never blocks.
func (p *OutputPort[T]) Write(v T) { p.ring.Write(v) }

// ReadLatest returns the most recent value written to this port.
func (p *OutputPort[T]) ReadLatest() (T, bool) { return p.ring.ReadLatest() }

// Ring exposes the underlying buffer.
func (p *OutputPort[T]) Ring() *buffer.RingBuffer[T] { return p.ring }

func (p *OutputPort[T]) Name() string               { return p.name }
func (p *OutputPort[T]) Kind() Kind                 { return p.kind }
func (p *OutputPort[T]) Capabilities() Capabilities { return append(Capabilities(nil), p.caps...) }
func (p *OutputPort[T]) ElemType() reflect.Type     { return reflect.TypeOf((*T)(nil)).Elem() }

func (p *OutputPort[T]) Links() []Capability {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return append([]Capability(nil), p.links...)
}

func (p *OutputPort[T]) Connections() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.links)
}

func (p *OutputPort[T]) ReadValue() (any, bool) {
	v, ok := p.ring.ReadLatest()
	if !ok {
		return nil, false
	}
	return v, true
}

func (p *OutputPort[T]) WriteValue(v any) error {
	tv, ok := v.(T)
	if !ok {
		return errors.WrapInvalid(
			fmt.Errorf("%w: port %s carries %v, got %T", errors.ErrElementMismatch, p.name, p.ElemType(), v),
			"OutputPort", "WriteValue", "element type check")
	}
	p.ring.Write(tv)
	return nil
}

func (p *OutputPort[T]) Mirror(from, to Capability) (Input, Output, error) {
	in := NewInput[T]("in", p.kind, from)
	out, err := NewOutput[T]("out", p.kind, WithCapabilities(to), WithSlots(p.ring.Slots()))
	if err != nil {
		return nil, nil, err
	}
	return in, out, nil
}

func (p *OutputPort[T]) linked(c Capability) {
	p.mu.Lock()
	p.links = append(p.links, c)
	p.mu.Unlock()
}

// unlinked drops the most recent connection negotiated as c.
func (p *OutputPort[T]) unlinked(c Capability) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i := len(p.links) - 1; i >= 0; i-- {
		if p.links[i] == c {
			p.links = append(p.links[:i], p.links[i+1:]...)
			return
		}
	}
}

// InputPort reads the latest value of its upstream output.
type InputPort[T any] struct {
	name    string
	kind    Kind
	accepts Capabilities

	mu         sync.RWMutex
	upstream   *OutputPort[T]
	negotiated Capability
}

// NewInput creates an unconnected input port. With no capabilities it accepts CPU.
func NewInput[T any](name string, kind Kind, accepts ...Capability) *InputPort[T] {
	return &InputPort[T]{
		name:    name,
		kind:    kind,
		accepts: normalizeCapabilities(accepts),
	}
}

// Read returns the newest value from the upstream ring. Unconnected ports
// and empty rings return false. Reads never consume.
func (p *InputPort[T]) Read() (T, bool) {
	p.mu.RLock()
	up := p.upstream
	p.mu.RUnlock()

	if up == nil {
		var zero T
		return zero, false
	}
	return up.ring.ReadLatest()
}

func (p *InputPort[T]) Name() string           { return p.name }
func (p *InputPort[T]) Kind() Kind             { return p.kind }
func (p *InputPort[T]) Accepts() Capabilities  { return append(Capabilities(nil), p.accepts...) }
func (p *InputPort[T]) ElemType() reflect.Type { return reflect.TypeOf((*T)(nil)).Elem() }

func (p *InputPort[T]) Negotiated() Capability {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.negotiated
}

func (p *InputPort[T]) Connected() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.upstream != nil
}

func (p *InputPort[T]) Upstream() Output {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.upstream == nil {
		return nil
	}
	return p.upstream
}

func (p *InputPort[T]) ReadValue() (any, bool) {
	v, ok := p.Read()
	if !ok {
		return nil, false
	}
	return v, true
}

func (p *InputPort[T]) link(out Output, c Capability) error {
	typed, ok := out.(*OutputPort[T])
	if !ok {
		return errors.WrapInvalid(
			fmt.Errorf("%w: %s carries %v, %s expects %v",
				errors.ErrElementMismatch, out.Name(), out.ElemType(), p.name, p.ElemType()),
			"InputPort", "link", "element type check")
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.upstream != nil {
		return errors.WrapInvalid(
			fmt.Errorf("%w: %s", errors.ErrAlreadyConnected, p.name), "InputPort", "link", "upstream check")
	}
	p.upstream = typed
	p.negotiated = c
	return nil
}

func (p *InputPort[T]) unlink(out Output) (Capability, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.upstream == nil || Output(p.upstream) != out {
		return "", false
	}
	c := p.negotiated
	p.upstream = nil
	p.negotiated = ""
	return c, true
}

// Link connects out to in with the given negotiated capability. The input
// keeps a non-owning reference to the output's ring.
func Link(out Output, in Input, c Capability) error {
	if out == nil || in == nil {
		return errors.WrapInvalid(errors.ErrPortNotFound, "component", "Link", "port validation")
	}
	if out.Kind() != in.Kind() {
		return errors.WrapInvalid(
			fmt.Errorf("%w: %s is %s, %s is %s", errors.ErrPortTypeMismatch, out.Name(), out.Kind(), in.Name(), in.Kind()),
			"component", "Link", "kind check")
	}
	if out.ElemType() != in.ElemType() {
		return errors.WrapInvalid(
			fmt.Errorf("%w: %v vs %v", errors.ErrElementMismatch, out.ElemType(), in.ElemType()),
			"component", "Link", "element type check")
	}
	if err := in.link(out, c); err != nil {
		return err
	}
	out.linked(c)
	return nil
}

// Unlink undoes Link(out, in). It reports false when in is not connected to out.
func Unlink(out Output, in Input) bool {
	if out == nil || in == nil {
		return false
	}
	c, ok := in.unlink(out)
	if !ok {
		return false
	}
	out.unlinked(c)
	return true
}
