package scservo

import (
	"time"

	"github.com/tarm/serial"
)

const (
	// latencyUS is the fixed USB/UART latency budget added to every
	// computed packet timeout.
	latencyUS = 40
	// maxBusyUS is the hard ceiling on any single packet timeout: a
	// stalled bus must never be allowed to starve the control cadence.
	maxBusyUS = 8_000
	// minTimeoutUS is the floor below which a computed timeout is
	// clamped, to avoid a spuriously tight deadline on fast baud rates.
	minTimeoutUS = 1_000
)

// Port owns a half-duplex serial tty and the timing-critical packet
// deadline used to bound a single request/response exchange. It wraps
// tarm/serial for the OS-level open/baud/flush and adds the
// microsecond-resolution timeout math the protocol layer depends on.
type Port struct {
	baud   int
	ser    *serial.Port
	start  time.Time
	budget time.Duration
}

// Open opens device at baud, configuring 8N1 with a non-blocking read
// timeout, and flushes any stale input sitting in the driver buffer.
func Open(device string, baud int) (*Port, error) {
	cfg := &serial.Config{
		Name:        device,
		Baud:        baud,
		ReadTimeout: time.Millisecond,
	}
	ser, err := serial.OpenPort(cfg)
	if err != nil {
		return nil, err
	}
	p := &Port{baud: baud, ser: ser}
	if err := p.Flush(); err != nil {
		ser.Close()
		return nil, err
	}
	return p, nil
}

// Close releases the underlying tty.
func (p *Port) Close() error {
	return p.ser.Close()
}

// Flush discards any input already buffered by the driver, matching the
// "flushes input" requirement of a fresh port open.
func (p *Port) Flush() error {
	return p.ser.Flush()
}

// Baud reports the configured baud rate.
func (p *Port) Baud() int {
	return p.baud
}

// Read returns up to len(buf) bytes without blocking for more than the
// port's own short read timeout; it may return 0 bytes and a nil error.
func (p *Port) Read(buf []byte) (int, error) {
	return p.ser.Read(buf)
}

// Write writes buf in full or returns an error.
func (p *Port) Write(buf []byte) (int, error) {
	return p.ser.Write(buf)
}

// SetPacketTimeout records a deadline sized for an expected reply of
// expectedBytes bytes at the port's baud rate, plus fixed latency and any
// caller-supplied extra slack (used for EEPROM-region writes, which need
// time for the servo's flash cycle to settle). The computed timeout is
// clamped to [minTimeoutUS, maxBusyUS] before the extra slack is added, so
// the ceiling only bounds ordinary traffic and not a deliberate EEPROM
// grace period.
func (p *Port) SetPacketTimeout(expectedBytes int, extraUS time.Duration) {
	p.start = time.Now()
	bitTimeUS := 1_000_000.0 / float64(p.baud)
	timeoutUS := float64(expectedBytes) * 10.0 * bitTimeUS
	timeoutUS += latencyUS
	if timeoutUS < minTimeoutUS {
		timeoutUS = minTimeoutUS
	} else if timeoutUS > maxBusyUS {
		timeoutUS = maxBusyUS
	}
	p.budget = time.Duration(timeoutUS)*time.Microsecond + extraUS
}

// IsPacketTimeout reports whether the deadline set by SetPacketTimeout has
// elapsed.
func (p *Port) IsPacketTimeout() bool {
	return time.Since(p.start) > p.budget
}
