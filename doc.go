// Package streamlib is a real-time media dataflow runtime.
//
// A graph of handlers is driven by one clock. On every tick each handler
// reads the latest value from its input ports, does its work and writes to
// its output ports. Ports never queue: a slow consumer sees the freshest
// frame and skips the ones it missed.
//
// # Packages
//
//   - clock: free-running, PTP and genlock tick sources
//   - pkg/buffer: the latest-read ring buffer behind output ports
//   - component: the Handler contract, typed ports, capability negotiation
//     and the per-handler run-loop
//   - bridge: handlers that move data between capabilities such as cpu and gpu
//   - eventbus: drop-on-full fan-out of tick, error and lifecycle events
//   - stream: execution lanes (shared, pooled, dedicated with CPU pinning)
//   - engine: the Runtime that wires all of the above together
//   - resource: shared handles such as device contexts, owned by the runtime
//   - config, errors, metric, health, journal: configuration, error
//     classification, Prometheus metrics, health derivation and a SQLite
//     event journal
//
// # Example
//
//	rt, err := engine.New(config.Default())
//	if err != nil {
//		return err
//	}
//	_ = rt.Add(camera)
//	_ = rt.Add(display, stream.WithLane(stream.LaneDedicated))
//	if err := rt.Connect(camera.Out, display.In); err != nil {
//		return err
//	}
//	if err := rt.Start(ctx); err != nil {
//		return err
//	}
//	<-ctx.Done()
//	return rt.Stop()
package streamlib
