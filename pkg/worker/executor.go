package worker

import (
	"context"
	"time"
)

// Executor runs func() jobs on a Pool. It satisfies component.Executor and
// backs the pooled lane: one Executor is shared by every pooled handler of
// a runtime.
type Executor struct {
	pool *Pool[func()]
}

// NewExecutor creates an executor over a pool of the given size.
func NewExecutor(workers, queueSize int, opts ...Option[func()]) (*Executor, error) {
	pool, err := NewPool(workers, queueSize, runJob, opts...)
	if err != nil {
		return nil, err
	}
	return &Executor{pool: pool}, nil
}

func runJob(_ context.Context, job func()) error {
	job()
	return nil
}

// Execute queues job. It returns ErrQueueFull instead of blocking.
func (e *Executor) Execute(job func()) error {
	return e.pool.Submit(job)
}

// Start launches the workers.
func (e *Executor) Start(ctx context.Context) error {
	return e.pool.Start(ctx)
}

// Stop drains queued jobs, waiting at most timeout.
func (e *Executor) Stop(timeout time.Duration) error {
	return e.pool.Stop(timeout)
}

// Stats returns the underlying pool statistics.
func (e *Executor) Stats() PoolStats {
	return e.pool.Stats()
}
