package bridge

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/tatolab/streamlib-sub000/clock"
	"github.com/tatolab/streamlib-sub000/component"
	"github.com/tatolab/streamlib-sub000/errors"
)

// ConvertFunc moves one value between capabilities, e.g. uploading a CPU
// frame into a GPU texture. The result must keep the port's element type.
type ConvertFunc func(v any) (any, error)

// Transfer is the generic bridge handler. On every tick it reads the latest
// value from its input and writes it, optionally converted, to its output.
type Transfer struct {
	component.Base
	pair    Pair
	in      component.Input
	out     component.Output
	convert ConvertFunc

	transferred atomic.Uint64
}

// NewTransfer builds a Transfer for data leaving src. A nil convert passes
// values through unchanged.
func NewTransfer(src component.Output, from, to component.Capability, convert ConvertFunc) (*Transfer, error) {
	if src == nil {
		return nil, errors.WrapInvalid(errors.ErrPortNotFound, "Transfer", "NewTransfer", "source validation")
	}
	in, out, err := src.Mirror(from, to)
	if err != nil {
		return nil, errors.Wrap(err, "Transfer", "NewTransfer", "mirror ports")
	}

	t := &Transfer{
		Base:    component.NewBase("", fmt.Sprintf("bridge-%s-%s", from, to)),
		pair:    Pair{From: from, To: to},
		in:      in,
		out:     out,
		convert: convert,
	}
	if err := t.Ports().AddInput(in); err != nil {
		return nil, err
	}
	if err := t.Ports().AddOutput(out); err != nil {
		return nil, err
	}
	return t, nil
}

// Passthrough returns a factory for type- and value-preserving transfers.
func Passthrough() Factory {
	return Converting(nil)
}

// Converting returns a factory whose transfers apply convert.
func Converting(convert ConvertFunc) Factory {
	return func(src component.Output, from, to component.Capability) (Bridge, error) {
		t, err := NewTransfer(src, from, to, convert)
		if err != nil {
			return nil, err
		}
		return t, nil
	}
}

// In implements Bridge.
func (t *Transfer) In() component.Input { return t.in }

// Out implements Bridge.
func (t *Transfer) Out() component.Output { return t.out }

// Pair returns the capability pair this transfer serves.
func (t *Transfer) Pair() Pair { return t.pair }

// Transferred returns how many values have been written downstream.
func (t *Transfer) Transferred() uint64 { return t.transferred.Load() }

// Process implements component.Handler.
func (t *Transfer) Process(_ context.Context, _ clock.TimedTick) error {
	v, ok := t.in.ReadValue()
	if !ok {
		return nil
	}

	if t.convert != nil {
		converted, err := t.convert(v)
		if err != nil {
			return errors.Wrap(err, "Transfer", "Process", fmt.Sprintf("convert %s", t.pair))
		}
		v = converted
	}

	if err := t.out.WriteValue(v); err != nil {
		return err
	}
	t.transferred.Add(1)
	return nil
}
