package component

import (
	"fmt"
	"sync/atomic"

	"github.com/tatolab/streamlib-sub000/errors"
)

// Ports is a handler's statically declared port map: ordered name to port,
// separately for inputs and outputs. Handlers build it at construction.
type Ports struct {
	inputs  []Input
	outputs []Output
	inIdx   map[string]int
	outIdx  map[string]int

	// owner is the one runner, in any runtime, allowed to activate the handler.
	owner atomic.Pointer[Runner]
}

// NewPorts creates an empty port map.
func NewPorts() *Ports {
	return &Ports{
		inIdx:  make(map[string]int),
		outIdx: make(map[string]int),
	}
}

// AddInput declares inputs in order. Names must be unique among inputs.
func (p *Ports) AddInput(inputs ...Input) error {
	for _, in := range inputs {
		if in == nil {
			return errors.WrapInvalid(errors.ErrPortNotFound, "Ports", "AddInput", "nil port")
		}
		if _, exists := p.inIdx[in.Name()]; exists {
			return errors.WrapInvalid(fmt.Errorf("duplicate input %q", in.Name()), "Ports", "AddInput", "name check")
		}
		p.inIdx[in.Name()] = len(p.inputs)
		p.inputs = append(p.inputs, in)
	}
	return nil
}

// AddOutput declares outputs in order. Names must be unique among outputs.
func (p *Ports) AddOutput(outputs ...Output) error {
	for _, out := range outputs {
		if out == nil {
			return errors.WrapInvalid(errors.ErrPortNotFound, "Ports", "AddOutput", "nil port")
		}
		if _, exists := p.outIdx[out.Name()]; exists {
			return errors.WrapInvalid(fmt.Errorf("duplicate output %q", out.Name()), "Ports", "AddOutput", "name check")
		}
		p.outIdx[out.Name()] = len(p.outputs)
		p.outputs = append(p.outputs, out)
	}
	return nil
}

// Input returns the named input.
func (p *Ports) Input(name string) (Input, bool) {
	i, ok := p.inIdx[name]
	if !ok {
		return nil, false
	}
	return p.inputs[i], true
}

// Output returns the named output.
func (p *Ports) Output(name string) (Output, bool) {
	i, ok := p.outIdx[name]
	if !ok {
		return nil, false
	}
	return p.outputs[i], true
}

// Inputs returns the inputs in declaration order.
func (p *Ports) Inputs() []Input {
	return append([]Input(nil), p.inputs...)
}

// Outputs returns the outputs in declaration order.
func (p *Ports) Outputs() []Output {
	return append([]Output(nil), p.outputs...)
}

// HasInput reports whether in belongs to this map.
func (p *Ports) HasInput(in Input) bool {
	i, ok := p.inIdx[in.Name()]
	return ok && p.inputs[i] == in
}

// HasOutput reports whether out belongs to this map.
func (p *Ports) HasOutput(out Output) bool {
	i, ok := p.outIdx[out.Name()]
	return ok && p.outputs[i] == out
}
