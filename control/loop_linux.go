//go:build linux

package control

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// applyRealtimeScheduling switches the calling OS thread to SCHED_FIFO at
// priority. The calling goroutine must be locked to its OS thread
// (runtime.LockOSThread) for this to stick; Loop.run does so before
// calling it.
func applyRealtimeScheduling(priority int) error {
	if priority <= 0 {
		priority = 80
	}
	err := unix.SchedSetscheduler(0, unix.SCHED_FIFO, &unix.SchedParam{Priority: int32(priority)})
	if err != nil {
		return fmt.Errorf("sched_setscheduler(SCHED_FIFO, %d): %w", priority, err)
	}
	return nil
}

// pinToCPU restricts the calling OS thread's affinity to a single core.
func pinToCPU(cpu int) error {
	var set unix.CPUSet
	set.Zero()
	set.Set(cpu)
	if err := unix.SchedSetaffinity(0, &set); err != nil {
		return fmt.Errorf("sched_setaffinity(cpu=%d): %w", cpu, err)
	}
	return nil
}
