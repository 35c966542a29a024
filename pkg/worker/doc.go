// Package worker provides a generic bounded worker pool.
//
// A Pool runs a fixed number of goroutines over a bounded queue. Submit
// never blocks; when the queue is full the item is rejected with
// ErrQueueFull and counted as dropped. This mirrors the event bus policy:
// under load, work is shed rather than queued without bound.
//
// Executor adapts a Pool of func() jobs to the component.Executor
// interface used by the pooled lane:
//
//	exec, err := worker.NewExecutor(4, 64,
//		worker.WithMetricsRegistry[func()](registry, "runtime"))
//	if err != nil {
//		return err
//	}
//	if err := exec.Start(ctx); err != nil {
//		return err
//	}
//	defer exec.Stop(time.Second)
//
// Statistics are always collected (Stats); Prometheus metrics are
// exported only when a registry is supplied.
package worker
