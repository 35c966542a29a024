package eventbus

import (
	"time"

	"github.com/tatolab/streamlib-sub000/clock"
)

// Kind identifies a class of events. Subscribers register per kind.
type Kind string

const (
	KindTick      Kind = "tick"
	KindError     Kind = "error"
	KindLifecycle Kind = "lifecycle"
)

// Event is anything published on the bus.
type Event interface {
	Kind() Kind
}

// TickEvent broadcasts one clock tick to every handler run-loop.
type TickEvent struct {
	Tick clock.TimedTick
}

// Kind implements Event.
func (TickEvent) Kind() Kind { return KindTick }

// ErrorEvent reports a failed Process call. It is published instead of
// propagating the error, so one failing tick never stops a handler.
type ErrorEvent struct {
	HandlerID string
	Err       error
	Tick      clock.TimedTick
}

// Kind implements Event.
func (ErrorEvent) Kind() Kind { return KindError }

// LifecycleEvent records a handler state transition.
type LifecycleEvent struct {
	HandlerID string
	From      string
	To        string
	At        time.Time
}

// Kind implements Event.
func (LifecycleEvent) Kind() Kind { return KindLifecycle }
