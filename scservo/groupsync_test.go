package scservo

import (
	"testing"
	"time"
)

func TestExtractFrameFindsRequestedID(t *testing.T) {
	f1 := buildStatus(1, 0, []byte{0x10, 0x00})
	f2 := buildStatus(2, 0, []byte{0x20, 0x00})
	rx := append(append([]byte{}, f1...), f2...)

	frame, err := extractFrame(rx, 2, 2)
	if err != nil {
		t.Fatalf("extractFrame: %v", err)
	}
	if frame[0] != 0 || frame[1] != 0x20 || frame[2] != 0x00 {
		t.Errorf("frame = %v, want [0 0x20 0x00]", frame)
	}
}

func TestExtractFrameRejectsBadChecksum(t *testing.T) {
	f1 := buildStatus(1, 0, []byte{0x10, 0x00})
	f1[len(f1)-1] ^= 0xFF // corrupt checksum
	if _, err := extractFrame(f1, 1, 2); err != ErrRxCorrupt {
		t.Errorf("err = %v, want ErrRxCorrupt", err)
	}
}

func TestGroupSyncReaderTxRx(t *testing.T) {
	f1 := buildStatus(1, 0, []byte{0x01, 0x00})
	f2 := buildStatus(2, 0, []byte{0x02, 0x00})
	rx := append(append([]byte{}, f1...), f2...)

	ft := &fakeTransport{rx: rx}
	h := NewHandler(ft, 1_000_000, LittleEndian)
	reader := NewGroupSyncReader(h, 56, 2)
	reader.Add(2)
	reader.Add(1)

	if err := reader.TxRx(); err != nil {
		t.Fatalf("TxRx: %v", err)
	}
	if !reader.IsAvailable(1, 56, 2) || !reader.IsAvailable(2, 56, 2) {
		t.Fatal("expected both participants available")
	}
	if got := reader.Get(1, 56, 2); got != 1 {
		t.Errorf("id 1 = %d, want 1", got)
	}
	if got := reader.Get(2, 56, 2); got != 2 {
		t.Errorf("id 2 = %d, want 2", got)
	}
	if ids := reader.Participants(); len(ids) != 2 || ids[0] != 1 || ids[1] != 2 {
		t.Errorf("Participants() = %v, want [1 2] ascending", ids)
	}
}

func TestGroupSyncReaderMaxAgeExpiry(t *testing.T) {
	f1 := buildStatus(1, 0, []byte{0x01, 0x00})
	ft := &fakeTransport{rx: f1}
	h := NewHandler(ft, 1_000_000, LittleEndian)
	reader := NewGroupSyncReader(h, 56, 2)
	reader.MaxAge = time.Millisecond
	reader.Add(1)

	if err := reader.TxRx(); err != nil {
		t.Fatalf("TxRx: %v", err)
	}
	time.Sleep(5 * time.Millisecond)
	if reader.IsAvailable(1, 56, 2) {
		t.Error("expected sample to be stale past MaxAge")
	}
}

func TestGroupSyncWriterTx(t *testing.T) {
	ft := &fakeTransport{}
	h := NewHandler(ft, 1_000_000, LittleEndian)
	writer := NewGroupSyncWriter(h, 42, 2)

	writer.AddParam(1, []byte{0x10, 0x00})
	writer.AddParam(2, []byte{0x20, 0x00})
	if err := writer.Tx(); err != nil {
		t.Fatalf("Tx: %v", err)
	}
	if len(ft.writes) != 1 {
		t.Fatalf("expected a single broadcast frame, got %d", len(ft.writes))
	}
	frame := ft.writes[0]
	if frame[idxID] != BroadcastID {
		t.Errorf("frame id = 0x%02x, want broadcast", frame[idxID])
	}

	writer.Clear()
	if err := writer.Tx(); err != nil {
		t.Fatalf("Tx after Clear: %v", err)
	}
	if len(ft.writes) != 1 {
		t.Error("Tx after Clear with no staged entries should not transmit")
	}
}
