// Package actuator implements the actuator manager: membership, per-id
// fault tracking, double-buffered present-state, atomic batched commands,
// and register-level configuration for a fleet of SCServo actuators
// sharing one serial bus.
package actuator

import (
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"zbot.dev/servocore/scservo"
)

// Config is the set of optional per-actuator parameters Configure may
// apply; only fields that are non-nil (or, for ZeroPosition, true) are
// written.
type Config struct {
	KP            *int
	KD            *int
	Acceleration  *float64 // degrees/s^2-ish teacher unit; 0 disables acceleration limiting
	TorqueEnabled *bool
	ZeroPosition  bool
}

// FaultInfo is the most recent fault summary for one actuator.
type FaultInfo struct {
	LastMessage string
	TotalCount  int
	LastTime    time.Time
}

// Discovered is one result of a bus Scan.
type Discovered struct {
	ID    byte
	Model string
}

type actuatorState struct {
	presentPositionCounts       int
	lastCommandedPositionCounts int
	torqueEnabled               bool
	isCommanded                 bool
	readErrorCount              int
	lastErrorTime               time.Time
	lastValidReadTime           time.Time
	fault                       FaultInfo
}

// Options configure a Manager's timing knobs.
type Options struct {
	Rate             float64 // Hz, informational only: the loop owns the clock
	GracePeriod      time.Duration
	MaxReadErrors    int
	ErrorResetPeriod time.Duration
	SyncReadMaxAge   time.Duration
	Logger           Logger
	Recorder         *Recorder
}

// DefaultOptions returns the default timing knobs.
func DefaultOptions() Options {
	return Options{
		Rate:             50,
		GracePeriod:      2 * time.Second,
		MaxReadErrors:    10,
		ErrorResetPeriod: 5 * time.Second,
		SyncReadMaxAge:   50 * time.Millisecond,
		Logger:           NopLogger{},
	}
}

// Manager owns actuator membership, fault tracking, the double-buffered
// present-state, the pending command batch, and the three fine-grained
// locks that guard them.
type Manager struct {
	h        *scservo.Handler
	reader   *scservo.GroupSyncReader
	writer   *scservo.GroupSyncWriter
	log      Logger
	rec      *Recorder
	faultLog faultLogLimiter

	opts Options

	// controlMu guards the serial bus and all membership/state maps
	// below. Held by Tick for the whole I/O stanza, and by
	// Configure/Scan/Add/SetZeroPosition/ChangeID/ChangeBaudrate.
	controlMu sync.Mutex
	actuators map[byte]*actuatorState

	// positionsMu guards only the active-buffer pointer swap.
	positionsMu sync.Mutex
	bufA, bufB  map[byte]int
	activeIsA   bool
	active      map[byte]int // aliases bufA or bufB

	// targetMu guards the pending command batch.
	targetMu     sync.Mutex
	pendingBatch map[byte]int

	lastConfigNano atomic.Int64
}

// NewManager constructs a Manager around handler h, building the
// sync-read/sync-write groups for PresentPosition/GoalPosition.
func NewManager(h *scservo.Handler, opts Options) *Manager {
	if opts.Logger == nil {
		opts.Logger = NopLogger{}
	}
	reader := scservo.NewGroupSyncReader(h, scservo.RegPresentPosition.Address, scservo.RegPresentPosition.Size)
	if opts.SyncReadMaxAge > 0 {
		reader.MaxAge = opts.SyncReadMaxAge
	}
	writer := scservo.NewGroupSyncWriter(h, scservo.RegGoalPosition.Address, scservo.RegGoalPosition.Size)
	return &Manager{
		h:            h,
		reader:       reader,
		writer:       writer,
		log:          opts.Logger,
		rec:          opts.Recorder,
		faultLog:     newFaultLogLimiter(),
		opts:         opts,
		actuators:    make(map[byte]*actuatorState),
		bufA:         make(map[byte]int),
		bufB:         make(map[byte]int),
		pendingBatch: make(map[byte]int),
	}
}

// Scan pings every id in ids and, for those that reply, reads back their
// model number. It does not mutate actuator membership.
func (m *Manager) Scan(ids []byte) ([]Discovered, error) {
	m.controlMu.Lock()
	defer m.controlMu.Unlock()

	var found []Discovered
	for _, id := range ids {
		model, err := m.h.Ping(id)
		if err != nil {
			continue
		}
		found = append(found, Discovered{ID: id, Model: scservo.ModelName(model)})
	}
	m.log.Info("scan complete", "found", len(found))
	return found, nil
}

// Add registers id, initialising both present-state buffers to 0 and
// enrolling it as a sync-read participant. It is idempotent.
func (m *Manager) Add(id byte) {
	m.controlMu.Lock()
	defer m.controlMu.Unlock()
	m.addLocked(id)
}

func (m *Manager) addLocked(id byte) {
	if _, ok := m.actuators[id]; ok {
		return
	}
	m.actuators[id] = &actuatorState{}
	m.reader.Add(id)
	m.positionsMu.Lock()
	m.bufA[id] = 0
	m.bufB[id] = 0
	if m.active == nil {
		m.active = m.bufA
		m.activeIsA = true
	}
	m.positionsMu.Unlock()
}

// removeLocked purges id from every per-id map. Callers must hold
// controlMu.
func (m *Manager) removeLocked(id byte) {
	delete(m.actuators, id)
	m.reader.Remove(id)
	m.positionsMu.Lock()
	delete(m.bufA, id)
	delete(m.bufB, id)
	m.positionsMu.Unlock()
	m.targetMu.Lock()
	delete(m.pendingBatch, id)
	m.targetMu.Unlock()
}

// Remove explicitly deregisters id.
func (m *Manager) Remove(id byte) {
	m.controlMu.Lock()
	defer m.controlMu.Unlock()
	m.removeLocked(id)
}

// recordFault runs on the per-tick hot path (readPositionsLocked, under
// controlMu inside Tick): it only updates in-memory bookkeeping and, at
// most, emits a throttled log line. It never touches the recorder: a
// stuck actuator fails its read every tick, and a synchronous CBOR
// encode plus io.Writer.Write per failure would stall the control loop.
// Flight records for faults are instead emitted from GetFaults, a
// Public-API path outside the control loop.
func (m *Manager) recordFault(id byte, message string) {
	st, ok := m.actuators[id]
	if !ok {
		return
	}
	now := time.Now()
	st.fault.LastMessage = message
	st.fault.TotalCount++
	st.fault.LastTime = now
	if m.faultLog.allow(id) {
		m.log.Error("actuator fault", "id", id, "message", message, "total", st.fault.TotalCount)
	}
}

// Count reports the number of actuators currently under management.
func (m *Manager) Count() int {
	m.controlMu.Lock()
	defer m.controlMu.Unlock()
	return len(m.actuators)
}

// GetFaults returns the most recent fault summary for id, if any is on
// record, and appends a flight record of the query.
func (m *Manager) GetFaults(id byte) (FaultInfo, bool) {
	m.controlMu.Lock()
	defer m.controlMu.Unlock()
	st, ok := m.actuators[id]
	if !ok || st.fault.TotalCount == 0 {
		return FaultInfo{}, false
	}
	if m.rec != nil {
		m.rec.RecordFault(id, st.fault)
	}
	return st.fault, true
}

// SetTargets atomically stages target positions (in degrees) for the next
// tick to drain. Submissions never partially apply: a caller's whole
// batch lands in pendingBatch together, merged (later submissions
// overwrite earlier ones for the same id) under a single critical
// section.
func (m *Manager) SetTargets(targets map[byte]float64) {
	m.targetMu.Lock()
	defer m.targetMu.Unlock()
	for id, degrees := range targets {
		m.pendingBatch[id] = scservo.DegreesToCounts(degrees)
	}
}

// GetPosition returns id's most recently published present position in
// degrees, reading through the active buffer under positionsMu.
func (m *Manager) GetPosition(id byte) (float64, bool) {
	m.positionsMu.Lock()
	counts, ok := m.active[id]
	m.positionsMu.Unlock()
	if !ok {
		return 0, false
	}
	return scservo.CountsToDegrees(counts), true
}

// GetTorqueEnabled reports whether id currently has torque enabled.
func (m *Manager) GetTorqueEnabled(id byte) bool {
	m.controlMu.Lock()
	defer m.controlMu.Unlock()
	st, ok := m.actuators[id]
	return ok && st.torqueEnabled
}

// writeRegRetry writes value to reg on id, retrying up to 3 times on
// failure. Callers must hold controlMu.
func (m *Manager) writeRegRetry(id byte, reg scservo.Register, value int64) bool {
	data := m.h.EncodeRegisterValue(reg, value)
	var lastErr error
	for attempt := 0; attempt < 3; attempt++ {
		if err := m.h.WriteTxRx(id, reg.Address, data); err == nil {
			return true
		} else {
			lastErr = err
		}
	}
	m.log.Error("register write failed after retries", "id", id, "register", reg.Name, "err", lastErr)
	return false
}

// Configure applies cfg's non-nil fields to id under the control lock,
// setting lastConfigNano before issuing any writes so the control loop's
// grace suppression engages immediately.
func (m *Manager) Configure(id byte, cfg Config) (bool, error) {
	m.lastConfigNano.Store(time.Now().UnixNano())

	m.controlMu.Lock()
	defer m.controlMu.Unlock()

	st, ok := m.actuators[id]
	if !ok {
		return false, fmt.Errorf("actuator %d: %w", id, scservo.ErrNotAvailable)
	}

	success := true
	if cfg.KP != nil {
		if *cfg.KP < 0 || *cfg.KP > 255 {
			return false, fmt.Errorf("kp=%d: %w", *cfg.KP, scservo.ErrConfigOutOfRange)
		}
		success = success && m.writeRegRetry(id, scservo.RegPCoefficient, int64(*cfg.KP))
	}
	if cfg.KD != nil {
		if *cfg.KD < 0 || *cfg.KD > 255 {
			return false, fmt.Errorf("kd=%d: %w", *cfg.KD, scservo.ErrConfigOutOfRange)
		}
		success = success && m.writeRegRetry(id, scservo.RegDCoefficient, int64(*cfg.KD))
	}
	if cfg.Acceleration != nil {
		acc := *cfg.Acceleration
		if acc != 0 {
			acc = float64(scservo.DegreesToCounts(acc)) / 100.0
		}
		accInt := int(acc)
		if accInt < 0 || accInt > 255 {
			return false, fmt.Errorf("acceleration=%d: %w", accInt, scservo.ErrConfigOutOfRange)
		}
		success = success && m.writeRegRetry(id, scservo.RegAcceleration, int64(accInt))
	}
	if cfg.TorqueEnabled != nil {
		enabled := *cfg.TorqueEnabled
		v := int64(0)
		if enabled {
			v = 1
		}
		success = success && m.writeRegRetry(id, scservo.RegTorqueEnable, v)
		st.torqueEnabled = enabled
	}
	if cfg.ZeroPosition {
		if err := m.setZeroPositionLocked(id); err != nil {
			success = false
		}
	}

	if success {
		m.log.Info("actuator configured", "id", id)
	} else {
		m.log.Error("actuator configuration incomplete", "id", id)
	}
	return success, nil
}

// SetZeroPosition recalibrates id's home position: unlock EEPROM, set the
// full angle range, position mode, the manufacturer-specific
// calibrate-to-middle torque flag 0x80, then lock EEPROM and zero the
// commanded/present state. The 0x80 literal is preserved verbatim: it is
// not a boolean torque-enable value.
func (m *Manager) SetZeroPosition(id byte) error {
	m.controlMu.Lock()
	defer m.controlMu.Unlock()
	return m.setZeroPositionLocked(id)
}

func (m *Manager) setZeroPositionLocked(id byte) error {
	if _, ok := m.actuators[id]; !ok {
		return fmt.Errorf("actuator %d: %w", id, scservo.ErrNotAvailable)
	}
	if !m.writeRegRetry(id, scservo.RegLock, 0) {
		return fmt.Errorf("actuator %d: unlock eeprom: %w", id, scservo.ErrTxFailed)
	}
	ok := m.writeRegRetry(id, scservo.RegMinAngleLimit, 0x0000)
	ok = m.writeRegRetry(id, scservo.RegMaxAngleLimit, 0x0FFF) && ok
	ok = m.writeRegRetry(id, scservo.RegMode, 0) && ok
	ok = m.writeRegRetry(id, scservo.RegTorqueEnable, 0x80) && ok
	if !m.writeRegRetry(id, scservo.RegLock, 1) {
		ok = false
	}
	if !ok {
		return fmt.Errorf("actuator %d: zero-position sequence: %w", id, scservo.ErrTxFailed)
	}

	st := m.actuators[id]
	st.lastCommandedPositionCounts = scservo.DegreesToCounts(0)
	m.positionsMu.Lock()
	m.bufA[id] = 0
	m.bufB[id] = 0
	m.positionsMu.Unlock()
	return nil
}

// DumpParameters reads every register in scservo.RegisterTable from id,
// returning a name->value snapshot. It is a diagnostic operation and
// acquires the control lock for its whole duration.
func (m *Manager) DumpParameters(id byte) (map[string]int64, error) {
	m.controlMu.Lock()
	defer m.controlMu.Unlock()

	out := make(map[string]int64, len(scservo.RegisterTable))
	for _, reg := range scservo.RegisterTable {
		raw, err := m.h.ReadTxRx(id, reg.Address, reg.Size)
		if err != nil {
			m.log.Error("dump register failed", "id", id, "register", reg.Name, "err", err)
			continue
		}
		out[reg.Name] = m.h.DecodeRegisterValue(reg, raw)
	}
	if m.rec != nil {
		m.rec.RecordDump(id, out)
	}
	return out, nil
}

// ChangeID reassigns a servo's bus id via the EEPROM ID register.
func (m *Manager) ChangeID(oldID, newID byte) error {
	m.controlMu.Lock()
	defer m.controlMu.Unlock()
	if !m.writeRegRetry(oldID, scservo.RegLock, 0) {
		return fmt.Errorf("unlock eeprom: %w", scservo.ErrTxFailed)
	}
	ok := m.writeRegRetry(oldID, scservo.RegID, int64(newID))
	if !m.writeRegRetry(newID, scservo.RegLock, 1) {
		ok = false
	}
	if !ok {
		return fmt.Errorf("change id %d->%d: %w", oldID, newID, scservo.ErrTxFailed)
	}
	if st, found := m.actuators[oldID]; found {
		delete(m.actuators, oldID)
		m.actuators[newID] = st
		m.reader.Remove(oldID)
		m.reader.Add(newID)
	}
	return nil
}

// ChangeBaudrate writes a new baudrate index to id's EEPROM Baudrate
// register.
func (m *Manager) ChangeBaudrate(id byte, baudIndex int) error {
	m.controlMu.Lock()
	defer m.controlMu.Unlock()
	if !m.writeRegRetry(id, scservo.RegLock, 0) {
		return fmt.Errorf("unlock eeprom: %w", scservo.ErrTxFailed)
	}
	ok := m.writeRegRetry(id, scservo.RegBaudrate, int64(baudIndex))
	if !m.writeRegRetry(id, scservo.RegLock, 1) {
		ok = false
	}
	if !ok {
		return fmt.Errorf("change baudrate id %d: %w", id, scservo.ErrTxFailed)
	}
	return nil
}

// sortedIDs returns the keys of set in ascending order.
func sortedIDs[V any](set map[byte]V) []byte {
	out := make([]byte, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Tick implements control.Ticker. It is the entire per-cycle I/O stanza:
// grace suppression, sync-read, buffer swap, command-batch drain, and
// sync-write, in that order, once per call, under controlMu for the
// whole stanza.
func (m *Manager) Tick(now time.Time) error {
	last := m.lastConfigNano.Load()
	if last != 0 && now.Sub(time.Unix(0, last)) < m.opts.GracePeriod {
		return nil
	}

	m.controlMu.Lock()
	defer m.controlMu.Unlock()

	if len(m.actuators) == 0 {
		return nil
	}

	m.readPositionsLocked(now)
	m.writePositionsLocked()
	return nil
}

// readPositionsLocked performs one sync-read cycle and publishes results
// to the inactive buffer, swapping it in exactly once after every
// participant has been processed, rather than once per id.
func (m *Manager) readPositionsLocked(now time.Time) {
	ids := sortedIDs(m.actuators)

	if err := m.reader.TxRx(); err != nil {
		m.log.Error("group sync read failed", "err", err)
	}

	m.positionsMu.Lock()
	inactive := m.bufB
	if !m.activeIsA {
		inactive = m.bufA
	}
	current := m.active
	m.positionsMu.Unlock()
	for id, v := range current {
		inactive[id] = v
	}

	var evicted []byte
	for _, id := range ids {
		st := m.actuators[id]
		avail := m.reader.IsAvailable(id, scservo.RegPresentPosition.Address, scservo.RegPresentPosition.Size)
		if avail && m.reader.Error(id) == 0 {
			counts := int(m.reader.Get(id, scservo.RegPresentPosition.Address, scservo.RegPresentPosition.Size))
			inactive[id] = counts
			st.presentPositionCounts = counts
			st.lastValidReadTime = now
			if now.Sub(st.lastErrorTime) >= m.opts.ErrorResetPeriod {
				st.readErrorCount = 0
			}
		} else {
			st.readErrorCount++
			st.lastErrorTime = now
			m.recordFault(id, "failed to read present position")
			if st.readErrorCount >= m.opts.MaxReadErrors {
				evicted = append(evicted, id)
			}
		}
	}

	m.positionsMu.Lock()
	m.active = inactive
	m.activeIsA = !m.activeIsA
	m.positionsMu.Unlock()

	for _, id := range evicted {
		m.log.Error("evicting actuator after repeated read failures", "id", id)
		if m.rec != nil {
			if st, ok := m.actuators[id]; ok {
				m.rec.RecordEviction(id, st.fault)
			}
		}
		m.removeLocked(id)
	}
}

// writePositionsLocked drains the pending command batch and transmits a
// sync-write to (torque-enabled ∩ commanded) actuators still present in
// actuators.
func (m *Manager) writePositionsLocked() {
	m.targetMu.Lock()
	batch := m.pendingBatch
	m.pendingBatch = make(map[byte]int)
	m.targetMu.Unlock()

	for id, counts := range batch {
		st, ok := m.actuators[id]
		if !ok {
			continue // dropped silently: no longer a known actuator
		}
		st.lastCommandedPositionCounts = counts
		st.isCommanded = true
	}

	var writeIDs []byte
	for _, id := range sortedIDs(m.actuators) {
		st := m.actuators[id]
		if st.torqueEnabled && st.isCommanded {
			writeIDs = append(writeIDs, id)
		}
	}
	if len(writeIDs) == 0 {
		return
	}

	m.writer.Clear()
	for _, id := range writeIDs {
		st := m.actuators[id]
		payload := m.h.EncodeRegisterValue(scservo.RegGoalPosition, int64(st.lastCommandedPositionCounts))
		m.writer.AddParam(id, payload)
	}
	if err := m.writer.Tx(); err != nil {
		m.log.Error("group sync write failed", "err", err)
	}
}
