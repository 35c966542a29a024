// Package stream pairs a handler with the lane its run-loop executes on.
//
// Every lane consumes ticks from the event bus; lanes differ only in where
// Process runs. The shared lane is a plain goroutine. The pooled lane
// submits each Process call to the runtime's bounded worker pool and skips
// a tick when the pool is saturated or the previous call has not returned.
// The dedicated lane locks the run-loop goroutine to an OS thread and, on
// Linux, can pin that thread to a CPU.
package stream
