// Package health tracks the health of handlers in a running pipeline.
//
// A Monitor stores the latest Status per handler. A Watcher fills it from
// the event bus: lifecycle events set the handler's state, error events
// count against it within a sliding window. Levels are healthy, degraded
// and unhealthy; Aggregate reports the worst level across handlers.
//
//	monitor := health.NewMonitor()
//	watcher := health.NewWatcher(monitor, health.WithThreshold(5))
//	rt, err := engine.New(cfg, engine.WithSinks(watcher))
//
// Error messages are sanitized before they are stored, since they may carry
// file paths or addresses.
package health
