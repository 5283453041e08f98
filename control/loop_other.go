//go:build !linux

package control

import "fmt"

func applyRealtimeScheduling(priority int) error {
	return fmt.Errorf("real-time scheduling is not supported on this platform")
}

func pinToCPU(cpu int) error {
	return fmt.Errorf("cpu affinity is not supported on this platform")
}
