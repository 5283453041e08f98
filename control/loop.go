// Package control implements the fixed-rate scheduler that drives one
// Ticker at a configured frequency, independent of what the ticker
// actually does. It knows nothing about servos or buses.
package control

import (
	"runtime"
	"sync"
	"sync/atomic"
	"time"
)

// Ticker is anything the Loop can drive at a fixed rate. actuator.Manager
// implements it.
type Ticker interface {
	Tick(now time.Time) error
}

// Logger is the narrow structured-logging surface this package depends
// on.
type Logger interface {
	Info(msg string, kv ...any)
	Error(msg string, kv ...any)
}

// NopLogger discards everything.
type NopLogger struct{}

func (NopLogger) Info(string, ...any)  {}
func (NopLogger) Error(string, ...any) {}

// Options configure a Loop's rate and real-time scheduling behaviour.
type Options struct {
	Rate float64 // Hz; must be > 0

	// RealTime requests SCHED_FIFO priority on platforms that support
	// it. Failure to apply it is logged through Logger.Error (Logger has
	// no warning level) and the loop proceeds under the default scheduler.
	RealTime         bool
	RealTimePriority int // 1-99, meaningful only when RealTime is set

	// CPUAffinity pins the loop goroutine's OS thread to a single CPU
	// core when >= 0.
	CPUAffinity int

	Logger Logger
}

// Loop runs Ticker.Tick once per period on a dedicated goroutine, using a
// monotonic deadline (no drift from jitter) and resetting the deadline
// on overrun rather than attempting to catch up.
type Loop struct {
	ticker Ticker
	period time.Duration
	opts   Options
	log    Logger

	stopCh  chan struct{}
	doneCh  chan struct{}
	running atomic.Bool
	once    sync.Once
}

// NewLoop constructs a Loop around ticker at opts.Rate Hz.
func NewLoop(ticker Ticker, opts Options) *Loop {
	if opts.Logger == nil {
		opts.Logger = NopLogger{}
	}
	return &Loop{
		ticker: ticker,
		period: time.Duration(float64(time.Second) / opts.Rate),
		opts:   opts,
		log:    opts.Logger,
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
}

// Start launches the scheduling goroutine. It is safe to call once;
// subsequent calls are no-ops.
func (l *Loop) Start() {
	if !l.running.CompareAndSwap(false, true) {
		return
	}
	go l.run()
}

// Stop signals the loop to exit and blocks until it has.
func (l *Loop) Stop() {
	if !l.running.Load() {
		return
	}
	l.once.Do(func() { close(l.stopCh) })
	<-l.doneCh
}

func (l *Loop) run() {
	defer close(l.doneCh)

	if l.opts.RealTime || l.opts.CPUAffinity >= 0 {
		// scheduling policy and affinity are per-OS-thread attributes;
		// pin this goroutine before applying either.
		runtime.LockOSThread()
	}
	if l.opts.RealTime {
		if err := applyRealtimeScheduling(l.opts.RealTimePriority); err != nil {
			l.log.Error("failed to apply real-time scheduling, continuing under default scheduler", "err", err)
		}
	}
	if l.opts.CPUAffinity >= 0 {
		if err := pinToCPU(l.opts.CPUAffinity); err != nil {
			l.log.Error("failed to pin control loop to cpu, continuing unpinned", "cpu", l.opts.CPUAffinity, "err", err)
		}
	}

	deadline := time.Now().Add(l.period)
	for {
		select {
		case <-l.stopCh:
			return
		default:
		}

		if err := l.ticker.Tick(time.Now()); err != nil {
			l.log.Error("tick failed", "err", err)
		}

		remaining := time.Until(deadline)
		if remaining < 0 {
			l.log.Error("control loop overrun", "by", -remaining)
			deadline = time.Now().Add(l.period)
			continue
		}

		if !l.sleepUntil(deadline) {
			return
		}
		deadline = deadline.Add(l.period)
	}
}

// sleepUntil hybrid-sleeps until deadline: a channel-based sleep while
// more than 1ms remains, then a short busy-wait for the final,
// schedule-jitter-sensitive stretch. It returns false if stopCh fired
// while waiting.
func (l *Loop) sleepUntil(deadline time.Time) bool {
	const busyWaitThreshold = time.Millisecond
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return true
		}
		if remaining > busyWaitThreshold {
			t := time.NewTimer(remaining - busyWaitThreshold)
			select {
			case <-l.stopCh:
				t.Stop()
				return false
			case <-t.C:
			}
			continue
		}
		for time.Now().Before(deadline) {
		}
		return true
	}
}
