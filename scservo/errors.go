// Package scservo implements the SCServo/Dynamixel v1 wire protocol used by
// Feetech STS/SMS/SCS-family serial-bus smart servos: frame encode/decode,
// single-register read/write, and the broadcast sync-read/sync-write bulk
// operations.
package scservo

import "errors"

// Sentinel errors corresponding to the protocol-level error taxonomy. The
// codec never panics or throws across its boundary; every failure mode is
// one of these, optionally wrapped with context via fmt.Errorf("...: %w").
var (
	// ErrBusBusy means the port was already mid-transaction when a new one
	// was attempted.
	ErrBusBusy = errors.New("scservo: bus busy")
	// ErrTxFailed means the transmit write did not send the full packet.
	ErrTxFailed = errors.New("scservo: transmit failed")
	// ErrTxError means the outgoing packet failed a sanity check before
	// transmission (e.g. oversized payload).
	ErrTxError = errors.New("scservo: malformed outgoing packet")
	// ErrRxTimeout means no bytes arrived within the computed timeout
	// window.
	ErrRxTimeout = errors.New("scservo: receive timeout")
	// ErrRxCorrupt means bytes arrived but failed checksum, header
	// resync, or inter-byte gap checks.
	ErrRxCorrupt = errors.New("scservo: corrupt status packet")
	// ErrNotAvailable means the operation is not valid in this context,
	// e.g. issuing a unicast read against the broadcast id.
	ErrNotAvailable = errors.New("scservo: operation not available")
	// ErrUnknownRegister means a register helper was given an address not
	// present in the register table.
	ErrUnknownRegister = errors.New("scservo: unknown register")
	// ErrNoActuatorsFound means an initial scan found no responding ids.
	ErrNoActuatorsFound = errors.New("scservo: no actuators found")
	// ErrConfigOutOfRange means a configuration value fell outside its
	// register's valid range.
	ErrConfigOutOfRange = errors.New("scservo: configuration value out of range")
)
