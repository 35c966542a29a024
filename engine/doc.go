// Package engine runs a graph of handlers from a single clock.
//
// # Overview
//
// A Runtime owns the clock, the event bus, the worker pool behind pooled
// lanes, the bridge registry and the resource context. Handlers are added
// wrapped in a stream.Stream that selects their execution lane, then wired
// with Connect:
//
//	rt, _ := engine.New(config.Default())
//	_ = rt.Add(camera)
//	_ = rt.Add(display, stream.WithLane(stream.LaneDedicated))
//	_ = rt.Connect(camera.Out, display.In)
//	_ = rt.Start(ctx)
//	defer rt.Stop()
//
// # Architecture
//
//	┌──────────┐  TickEvent   ┌──────────────┐
//	│  Clock   │ ───────────> │  Event bus   │ ──> errorLog, health, journal
//	└──────────┘              └──────┬───────┘
//	                                 │ one subscription per handler
//	            ┌────────────────────┼────────────────────┐
//	            ▼                    ▼                    ▼
//	       shared lane          pooled lane         dedicated lane
//	       (goroutine)         (worker pool)     (locked OS thread)
//
// Every handler processes every tick it receives. Ports are latest-read,
// so a slow consumer sees the most recent frame and never queues stale data.
//
// # Connecting ports
//
// Connect links an output to an input of the same kind and element type.
// When the capability sets intersect the ports are linked directly. When
// they are disjoint and auto-bridging is enabled, a bridge handler from the
// bridge registry is inserted between them; it appears in Graph as a node
// flagged Bridge and in Bridges.
//
// # Lifecycle
//
// A Runtime runs once. AddStream activates a handler immediately: its
// OnStart hook runs and its run-loop waits for ticks. Start locks the clock
// (falling back to free-running when a sync source is unavailable) and
// begins publishing ticks. Stop cancels the clock loop, deactivates every
// handler concurrently within the grace period, then clears the bus, drains
// the worker pool and closes the resource context.
//
// Handler errors never stop the graph. They are published as ErrorEvents
// and written to the log at a bounded rate.
package engine
