package scservo

import (
	"sort"
	"time"
)

// GroupSyncReader holds the participant set and per-participant
// latest-read buffers for a fixed (startAddress, dataLength) window.
// Samples older than MaxAge are treated as absent by IsAvailable.
type GroupSyncReader struct {
	h             *Handler
	startAddress  byte
	dataLength    int
	MaxAge        time.Duration
	participants  map[byte]struct{}
	frames        map[byte][]byte // raw [error, payload...] per id
	stamps        map[byte]time.Time
	order         []byte
	orderDirty    bool
}

// NewGroupSyncReader constructs a reader for dataLength bytes starting at
// startAddress (e.g. PresentPosition, 2), with a default 50ms freshness
// window.
func NewGroupSyncReader(h *Handler, startAddress byte, dataLength int) *GroupSyncReader {
	return &GroupSyncReader{
		h:            h,
		startAddress: startAddress,
		dataLength:   dataLength,
		MaxAge:       50 * time.Millisecond,
		participants: make(map[byte]struct{}),
		frames:       make(map[byte][]byte),
		stamps:       make(map[byte]time.Time),
	}
}

// Add enrolls id as a sync-read participant. The cached participant list
// is rebuilt lazily on the next Tx.
func (g *GroupSyncReader) Add(id byte) {
	if _, ok := g.participants[id]; ok {
		return
	}
	g.participants[id] = struct{}{}
	g.orderDirty = true
}

// Remove drops id from the participant list and discards its previously
// captured sample, so IsAvailable reports false for it afterwards.
func (g *GroupSyncReader) Remove(id byte) {
	if _, ok := g.participants[id]; !ok {
		return
	}
	delete(g.participants, id)
	delete(g.frames, id)
	delete(g.stamps, id)
	g.orderDirty = true
}

// Clear removes every participant.
func (g *GroupSyncReader) Clear() {
	g.participants = make(map[byte]struct{})
	g.frames = make(map[byte][]byte)
	g.stamps = make(map[byte]time.Time)
	g.orderDirty = true
}

func (g *GroupSyncReader) rebuildOrder() {
	g.order = g.order[:0]
	for id := range g.participants {
		g.order = append(g.order, id)
	}
	sort.Slice(g.order, func(i, j int) bool { return g.order[i] < g.order[j] })
	g.orderDirty = false
}

// Participants returns the current participant ids in ascending order.
func (g *GroupSyncReader) Participants() []byte {
	if g.orderDirty {
		g.rebuildOrder()
	}
	out := make([]byte, len(g.order))
	copy(out, g.order)
	return out
}

// TxRx issues a SYNC_READ against the current participant list and parses
// the resulting status-packet stream. Per-id checksum failures do not
// abort the call: the prior buffer for that id is kept, and the overall
// result is reported as failed via the returned error (which is nil only
// if every participant's sample was captured cleanly).
func (g *GroupSyncReader) TxRx() error {
	if len(g.participants) == 0 {
		return ErrNotAvailable
	}
	if g.orderDirty {
		g.rebuildOrder()
	}
	if err := g.h.SyncReadTx(g.startAddress, g.dataLength, g.order); err != nil {
		return err
	}
	rx, err := g.h.SyncReadRx(g.dataLength, len(g.order))
	if err != nil && len(rx) == 0 {
		return err
	}

	now := time.Now()
	anyFailed := err != nil
	for _, id := range g.order {
		frame, ferr := extractFrame(rx, id, g.dataLength)
		if ferr != nil {
			anyFailed = true
			continue
		}
		g.frames[id] = frame
		g.stamps[id] = now
	}
	if anyFailed {
		return ErrRxCorrupt
	}
	return nil
}

// extractFrame walks rx locating the subframe `FF FF id LEN ERR
// payload... CHK` for id, verifying its checksum, and returns
// [ERR, payload...].
func extractFrame(rx []byte, id byte, dataLength int) ([]byte, error) {
	for i := 0; i+6+dataLength <= len(rx); i++ {
		if rx[i] != hdrByte || rx[i+1] != hdrByte || rx[i+2] != id {
			continue
		}
		length := int(rx[i+3])
		if length != dataLength+2 {
			continue
		}
		end := i + 4 + length
		if end > len(rx) {
			return nil, ErrRxCorrupt
		}
		sum := checksum(rx[i+2 : end-1])
		if sum != rx[end-1] {
			return nil, ErrRxCorrupt
		}
		return rx[i+4 : end-1], nil // [ERR, payload...]
	}
	return nil, ErrRxCorrupt
}

// IsAvailable reports whether id's captured sample covers
// [address, address+length), and is younger than MaxAge.
func (g *GroupSyncReader) IsAvailable(id byte, address byte, length int) bool {
	frame, ok := g.frames[id]
	if !ok {
		return false
	}
	if address < g.startAddress || int(address)+length > int(g.startAddress)+g.dataLength {
		return false
	}
	if len(frame) < length+1 {
		return false
	}
	stamp, ok := g.stamps[id]
	if !ok || time.Since(stamp) > g.MaxAge {
		return false
	}
	return true
}

// Error returns the status-packet error byte captured for id, or 0 if
// none is available.
func (g *GroupSyncReader) Error(id byte) byte {
	frame, ok := g.frames[id]
	if !ok || len(frame) == 0 {
		return 0
	}
	return frame[0]
}

// Get decodes the little/big-endian value for [address, address+length)
// from id's captured frame. Callers must check IsAvailable first.
func (g *GroupSyncReader) Get(id byte, address byte, length int) uint32 {
	frame := g.frames[id]
	off := int(address-g.startAddress) + 1 // skip ERR byte
	switch length {
	case 1:
		return uint32(frame[off])
	case 2:
		return uint32(g.h.MakeWord(frame[off], frame[off+1]))
	default:
		lo := g.h.MakeWord(frame[off], frame[off+1])
		hi := g.h.MakeWord(frame[off+2], frame[off+3])
		return uint32(lo) | uint32(hi)<<16
	}
}

// GroupSyncWriter accumulates a broadcast SYNC_WRITE payload for a fixed
// (startAddress, dataLength) window.
type GroupSyncWriter struct {
	h            *Handler
	startAddress byte
	dataLength   int
	entries      []SyncWriteEntry
}

// NewGroupSyncWriter constructs a writer for dataLength bytes starting at
// startAddress (e.g. GoalPosition, 2).
func NewGroupSyncWriter(h *Handler, startAddress byte, dataLength int) *GroupSyncWriter {
	return &GroupSyncWriter{h: h, startAddress: startAddress, dataLength: dataLength}
}

// Clear discards any staged entries.
func (g *GroupSyncWriter) Clear() {
	g.entries = g.entries[:0]
}

// AddParam stages payload for id. Callers are responsible for supplying
// ids in ascending order to keep emitted frames deterministic and
// traceable.
func (g *GroupSyncWriter) AddParam(id byte, payload []byte) {
	g.entries = append(g.entries, SyncWriteEntry{ID: id, Data: payload})
}

// Tx emits the accumulated SYNC_WRITE frame as a broadcast with no
// expected reply. It is a no-op if nothing was staged.
func (g *GroupSyncWriter) Tx() error {
	if len(g.entries) == 0 {
		return nil
	}
	return g.h.SyncWriteTx(g.startAddress, g.dataLength, g.entries)
}
