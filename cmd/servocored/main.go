// command servocored runs the actuator control core standalone: it opens
// a serial bus, scans for actuators, enables torque on whatever
// responds, and drives the fixed-rate control loop until interrupted.
package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/KimMachineGun/automemlimit/memlimit"
	"go.uber.org/automaxprocs/maxprocs"

	"zbot.dev/servocore"
	"zbot.dev/servocore/actuator"
)

var (
	device           = flag.String("device", "/dev/ttyUSB0", "serial device")
	baud             = flag.Int("baud", 1_000_000, "bus baud rate")
	rate             = flag.Float64("rate", 50, "control loop rate in Hz")
	scanLow          = flag.Int("scan-low", 1, "lowest id to probe during startup scan")
	scanHigh         = flag.Int("scan-high", 20, "highest id to probe during startup scan")
	realTime         = flag.Bool("realtime", false, "request SCHED_FIFO priority for the control loop")
	rtPriority       = flag.Int("realtime-priority", 80, "SCHED_FIFO priority, 1-99")
	cpuPin           = flag.Int("cpu", -1, "pin the control loop to this CPU core, -1 disables")
	flightLog        = flag.String("flight-log", "", "path to append CBOR flight-recorder output, empty disables")
	gracePeriod      = flag.Duration("grace-period", 2*time.Second, "suppress all bus reads/writes for this long after any actuator is reconfigured")
	errorResetPeriod = flag.Duration("error-reset-period", 5*time.Second, "a continuous run of successful reads this long resets an actuator's error count")
)

func main() {
	if _, err := maxprocs.Set(); err != nil {
		fmt.Fprintf(os.Stderr, "servocored: automaxprocs: %v\n", err)
	}
	if _, err := memlimit.SetGoMemLimitWithOpts(); err != nil {
		fmt.Fprintf(os.Stderr, "servocored: automemlimit: %v\n", err)
	}
	flag.Parse()
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "servocored: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	opts := []servocore.Option{
		servocore.WithBaud(*baud),
		servocore.WithRate(*rate),
		servocore.WithGracePeriod(*gracePeriod),
		servocore.WithErrorResetPeriod(*errorResetPeriod),
	}
	if *realTime {
		opts = append(opts, servocore.WithRealTimeScheduling(*rtPriority))
	}
	if *cpuPin >= 0 {
		opts = append(opts, servocore.WithCPUAffinity(*cpuPin))
	}
	if *flightLog != "" {
		f, err := os.OpenFile(*flightLog, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return fmt.Errorf("open flight log: %w", err)
		}
		defer f.Close()
		opts = append(opts, servocore.WithFlightRecorder(f))
	}

	core, err := servocore.Open(*device, opts...)
	if err != nil {
		return fmt.Errorf("open %s: %w", *device, err)
	}
	defer core.Close()

	ids := make([]byte, 0, *scanHigh-*scanLow+1)
	for id := *scanLow; id <= *scanHigh; id++ {
		ids = append(ids, byte(id))
	}
	found, err := core.Scan(ids)
	if err != nil {
		return fmt.Errorf("scan: %w", err)
	}
	enabled := true
	for _, d := range found {
		core.Add(d.ID)
		if _, err := core.Configure(d.ID, actuator.Config{TorqueEnabled: &enabled}); err != nil {
			fmt.Fprintf(os.Stderr, "servocored: enable torque on %d: %v\n", d.ID, err)
		}
	}

	if err := core.Start(); err != nil {
		return fmt.Errorf("start: %w", err)
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	<-sig

	core.Stop()
	return nil
}
