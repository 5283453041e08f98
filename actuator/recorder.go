package actuator

import (
	"io"
	"sync"
	"time"

	"github.com/fxamacker/cbor/v2"
)

// FlightRecordKind distinguishes the events a Recorder persists.
type FlightRecordKind string

const (
	FlightRecordDump     FlightRecordKind = "dump"
	FlightRecordFault    FlightRecordKind = "fault"
	FlightRecordEviction FlightRecordKind = "eviction"
)

// FlightRecord is one append-only CBOR-encoded entry in the flight
// recorder stream.
type FlightRecord struct {
	TimestampUnixNano int64            `cbor:"ts"`
	ActuatorID        byte             `cbor:"id"`
	Kind              FlightRecordKind `cbor:"kind"`
	Registers         map[string]int64 `cbor:"registers,omitempty"`
	FaultMessage      string           `cbor:"fault_message,omitempty"`
	FaultTotal        int              `cbor:"fault_total,omitempty"`
}

// Recorder appends FlightRecords as a CBOR stream to an underlying
// writer. Writes are best-effort: an encode or I/O error is swallowed,
// since a diagnostics sink must never be allowed to stall the control
// loop.
type Recorder struct {
	mu  sync.Mutex
	enc *cbor.Encoder
}

// NewRecorder wraps w, ready to append FlightRecords to it.
func NewRecorder(w io.Writer) *Recorder {
	return &Recorder{enc: cbor.NewEncoder(w)}
}

func (r *Recorder) write(rec FlightRecord) {
	r.mu.Lock()
	defer r.mu.Unlock()
	_ = r.enc.Encode(rec)
}

// RecordDump appends a full register-dump snapshot for id.
func (r *Recorder) RecordDump(id byte, registers map[string]int64) {
	r.write(FlightRecord{
		TimestampUnixNano: time.Now().UnixNano(),
		ActuatorID:        id,
		Kind:              FlightRecordDump,
		Registers:         registers,
	})
}

// RecordFault appends a fault event for id.
func (r *Recorder) RecordFault(id byte, fault FaultInfo) {
	r.write(FlightRecord{
		TimestampUnixNano: time.Now().UnixNano(),
		ActuatorID:        id,
		Kind:              FlightRecordFault,
		FaultMessage:      fault.LastMessage,
		FaultTotal:        fault.TotalCount,
	})
}

// RecordEviction appends an eviction event for id, carrying its final
// fault summary.
func (r *Recorder) RecordEviction(id byte, fault FaultInfo) {
	r.write(FlightRecord{
		TimestampUnixNano: time.Now().UnixNano(),
		ActuatorID:        id,
		Kind:              FlightRecordEviction,
		FaultMessage:      fault.LastMessage,
		FaultTotal:        fault.TotalCount,
	})
}
