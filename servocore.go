// Package servocore is the public façade over the SCServo actuator
// control core: bus handling (package scservo), actuator membership and
// fault tracking (package actuator), and the fixed-rate scheduler
// (package control), combined into the single thread-safe Core type.
package servocore

import (
	"fmt"
	"io"
	"time"

	"github.com/joeycumines/izerolog"
	"github.com/joeycumines/logiface"

	"zbot.dev/servocore/actuator"
	"zbot.dev/servocore/control"
	"zbot.dev/servocore/scservo"
)

// Option configures a Core at construction time.
type Option func(*config)

type config struct {
	baud             int
	endian           scservo.Endianness
	rate             float64
	gracePeriod      time.Duration // 0 disables post-Configure suppression
	maxReadErrors    int
	errorResetPeriod time.Duration
	realTime         bool
	realTimePriority int
	cpuAffinity      int
	logger           *logiface.Logger[*izerolog.Event]
	recorderWriter   io.Writer
}

// WithBaud sets the serial baud rate. Default 1,000,000.
func WithBaud(baud int) Option { return func(c *config) { c.baud = baud } }

// WithEndianness selects STS/SMS little-endian or SCS big-endian
// register packing. Default LittleEndian.
func WithEndianness(e scservo.Endianness) Option { return func(c *config) { c.endian = e } }

// WithRate sets the control loop frequency in Hz. Default 50.
func WithRate(hz float64) Option { return func(c *config) { c.rate = hz } }

// WithMaxReadErrors overrides the eviction threshold on an actuator's
// read-failure counter (failures since the counter last reset). Default 10.
func WithMaxReadErrors(n int) Option { return func(c *config) { c.maxReadErrors = n } }

// WithGracePeriod overrides how long, after any Configure call, the
// control loop suppresses sync-read/sync-write for the affected bus.
// Default 2s.
func WithGracePeriod(d time.Duration) Option { return func(c *config) { c.gracePeriod = d } }

// WithErrorResetPeriod overrides how long after an actuator's last read
// failure a successful read resets its read-failure counter to zero.
// Default 5s.
func WithErrorResetPeriod(d time.Duration) Option {
	return func(c *config) { c.errorResetPeriod = d }
}

// WithRealTimeScheduling requests SCHED_FIFO at priority for the control
// loop's OS thread, on platforms that support it. A priority <= 0 is
// replaced by 80; a priority the platform rejects makes the request fail.
// Failure to apply it is logged, not fatal.
func WithRealTimeScheduling(priority int) Option {
	return func(c *config) {
		c.realTime = true
		c.realTimePriority = priority
	}
}

// WithCPUAffinity pins the control loop's OS thread to cpu.
func WithCPUAffinity(cpu int) Option { return func(c *config) { c.cpuAffinity = cpu } }

// WithLogger injects a pre-configured izerolog-backed logger, replacing
// the package default (a console writer at info level). There is no
// process-wide logging singleton: every Core owns its own handle.
func WithLogger(l *logiface.Logger[*izerolog.Event]) Option {
	return func(c *config) { c.logger = l }
}

// WithFlightRecorder enables the best-effort CBOR flight recorder,
// appending FlightRecords for register dumps, faults, and evictions to
// w.
func WithFlightRecorder(w io.Writer) Option {
	return func(c *config) { c.recorderWriter = w }
}

func defaultConfig() config {
	return config{
		baud:             1_000_000,
		endian:           scservo.LittleEndian,
		rate:             50,
		gracePeriod:      2 * time.Second,
		maxReadErrors:    10,
		errorResetPeriod: 5 * time.Second,
		cpuAffinity:      -1,
	}
}

// Core is the public entry point: open a port, build a Manager and a
// Loop around it, and expose the actuator operations with no further
// locking required from callers. The Manager already owns the
// fine-grained locks that guard bus access and shared state.
type Core struct {
	port    *scservo.Port
	handler *scservo.Handler
	mgr     *actuator.Manager
	loop    *control.Loop
	log     kvLogger
}

// Open opens device at the configured baud rate and builds a Core ready
// to Scan/Start.
func Open(device string, opts ...Option) (*Core, error) {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.logger == nil {
		cfg.logger = newZerologLogger()
	}
	log := newKVLogger(cfg.logger)

	port, err := scservo.Open(device, cfg.baud)
	if err != nil {
		return nil, fmt.Errorf("servocore: open %s: %w", device, err)
	}
	handler := scservo.NewHandler(port, cfg.baud, cfg.endian)

	var recorder *actuator.Recorder
	if cfg.recorderWriter != nil {
		recorder = actuator.NewRecorder(cfg.recorderWriter)
	}

	mgrOpts := actuator.DefaultOptions()
	mgrOpts.Rate = cfg.rate
	mgrOpts.GracePeriod = cfg.gracePeriod
	mgrOpts.MaxReadErrors = cfg.maxReadErrors
	mgrOpts.ErrorResetPeriod = cfg.errorResetPeriod
	mgrOpts.Logger = log
	mgrOpts.Recorder = recorder
	mgr := actuator.NewManager(handler, mgrOpts)

	loop := control.NewLoop(mgr, control.Options{
		Rate:             cfg.rate,
		RealTime:         cfg.realTime,
		RealTimePriority: cfg.realTimePriority,
		CPUAffinity:      cfg.cpuAffinity,
		Logger:           log,
	})

	return &Core{port: port, handler: handler, mgr: mgr, loop: loop, log: log}, nil
}

// Start launches the fixed-rate control loop. It fails with
// scservo.ErrNoActuatorsFound if no actuator has been Added yet: a
// control loop with nothing to drive indicates a startup scan that
// never found a servo.
func (c *Core) Start() error {
	if c.mgr.Count() == 0 {
		return scservo.ErrNoActuatorsFound
	}
	c.loop.Start()
	return nil
}

// Stop halts the control loop and blocks until it has exited.
func (c *Core) Stop() { c.loop.Stop() }

// Close stops the loop (if running) and closes the underlying serial
// port.
func (c *Core) Close() error {
	c.loop.Stop()
	return c.port.Close()
}

// Scan pings every id in ids, returning those that answered along with
// their model.
func (c *Core) Scan(ids []byte) ([]actuator.Discovered, error) { return c.mgr.Scan(ids) }

// Add registers id for management by the control loop.
func (c *Core) Add(id byte) { c.mgr.Add(id) }

// Remove deregisters id.
func (c *Core) Remove(id byte) { c.mgr.Remove(id) }

// Configure applies register-level configuration to id.
func (c *Core) Configure(id byte, cfg actuator.Config) (bool, error) { return c.mgr.Configure(id, cfg) }

// SetTargets stages target positions (degrees) for the next control loop
// tick.
func (c *Core) SetTargets(targets map[byte]float64) { c.mgr.SetTargets(targets) }

// GetPosition returns id's most recently read present position in
// degrees.
func (c *Core) GetPosition(id byte) (float64, bool) { return c.mgr.GetPosition(id) }

// GetTorqueEnabled reports whether id currently has torque enabled.
func (c *Core) GetTorqueEnabled(id byte) bool { return c.mgr.GetTorqueEnabled(id) }

// GetFaults returns id's most recent fault summary, if any.
func (c *Core) GetFaults(id byte) (actuator.FaultInfo, bool) { return c.mgr.GetFaults(id) }

// SetZeroPosition recalibrates id's home position.
func (c *Core) SetZeroPosition(id byte) error { return c.mgr.SetZeroPosition(id) }

// DumpParameters reads every known register from id.
func (c *Core) DumpParameters(id byte) (map[string]int64, error) { return c.mgr.DumpParameters(id) }

// ChangeID reassigns a servo's bus id.
func (c *Core) ChangeID(oldID, newID byte) error { return c.mgr.ChangeID(oldID, newID) }

// ChangeBaudrate writes a new baudrate index to id's EEPROM.
func (c *Core) ChangeBaudrate(id byte, baudIndex int) error { return c.mgr.ChangeBaudrate(id, baudIndex) }
