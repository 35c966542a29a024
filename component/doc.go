// Package component defines handlers, their typed ports and the run-loop that
// drives them.
//
// # Overview
//
// A Handler is a processing unit with a statically declared port map. Its
// Process method is called once for every clock tick it receives. Handlers
// never call each other; they exchange data only through ports.
//
// # Ports
//
// An OutputPort[T] owns a buffer.RingBuffer[T]. Writing never blocks and
// always replaces the oldest slot. An InputPort[T] holds a non-owning
// reference to the ring of the output it is linked to and reads the newest
// value, so a slow reader skips frames instead of queueing them.
//
// Ports declare a Kind ("video", "audio", "data") and an ordered set of
// Capabilities naming where their data lives ("cpu", "gpu", or any name a
// backend registers). Negotiate picks the first capability, in the output's
// order, that the input accepts. When the sets are disjoint a bridge handler
// is inserted by the runtime; see package bridge.
//
//	type Scaler struct {
//		component.Base
//		in  *component.InputPort[Frame]
//		out *component.OutputPort[Frame]
//	}
//
//	func NewScaler(id string) (*Scaler, error) {
//		s := &Scaler{Base: component.NewBase(id, "scaler")}
//		s.in = component.NewInput[Frame]("video", component.KindVideo, component.CPU)
//		out, err := component.NewOutput[Frame]("video", component.KindVideo)
//		if err != nil {
//			return nil, err
//		}
//		s.out = out
//		if err := s.Ports().AddInput(s.in); err != nil {
//			return nil, err
//		}
//		return s, s.Ports().AddOutput(s.out)
//	}
//
// # Lifecycle
//
// A Runner keeps the handler's State:
//
//	Inert -> Activated -> Running -> Deactivating -> Stopped
//
// Activate subscribes to tick events and starts the run-loop. The run-loop
// calls OnStart once (Starter), then Process for every tick. Errors and
// panics from Process are published as eventbus.ErrorEvent and never stop
// the handler. Deactivate cancels the loop and waits a bounded grace period;
// then OnStop (Stopper) has run, or the loop is abandoned and
// errors.ErrShutdownTimeout is returned. Every transition is published as an
// eventbus.LifecycleEvent.
//
// RunOptions select the execution lane: inline on the run-loop goroutine,
// through an Executor such as a worker pool, or on a goroutine prepared by a
// Setup function (for example locked to an OS thread).
//
// # Registry
//
// Registry indexes a runtime's runners by handler ID and records which
// handler owns each port, which the runtime uses to build its graph.
package component
