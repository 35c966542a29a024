//go:build linux

package stream

import (
	"fmt"

	"golang.org/x/sys/unix"

	"github.com/tatolab/streamlib-sub000/errors"
)

// pin restricts the calling OS thread to cpu. The caller must hold the
// thread with runtime.LockOSThread.
func pin(cpu int) error {
	var set unix.CPUSet
	set.Zero()
	set.Set(cpu)
	if err := unix.SchedSetaffinity(0, &set); err != nil {
		return errors.WrapTransient(fmt.Errorf("cpu %d: %w", cpu, err), "stream", "pin", "sched_setaffinity")
	}
	return nil
}

// Pinned reports the CPUs the calling thread may run on.
func Pinned() ([]int, error) {
	var set unix.CPUSet
	if err := unix.SchedGetaffinity(0, &set); err != nil {
		return nil, errors.Wrap(err, "stream", "Pinned", "sched_getaffinity")
	}
	var cpus []int
	for cpu := 0; cpu < 1024 && len(cpus) < set.Count(); cpu++ {
		if set.IsSet(cpu) {
			cpus = append(cpus, cpu)
		}
	}
	return cpus, nil
}
