//go:build !linux

package stream

import "runtime"

// pin is a no-op where sched_setaffinity is unavailable.
func pin(int) error { return nil }

// Pinned reports every CPU; affinity is not observable on this platform.
func Pinned() ([]int, error) {
	cpus := make([]int, runtime.NumCPU())
	for i := range cpus {
		cpus[i] = i
	}
	return cpus, nil
}
