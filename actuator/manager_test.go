package actuator

import (
	"bytes"
	"math"
	"testing"
	"time"

	"github.com/fxamacker/cbor/v2"

	"zbot.dev/servocore/scservo"
)

func newTestManager(bus *simBus, opts Options) (*Manager, *scservo.Handler) {
	h := scservo.NewHandler(bus, 1_000_000, scservo.LittleEndian)
	if opts.Logger == nil {
		opts.Logger = NopLogger{}
	}
	return NewManager(h, opts), h
}

func TestScanDiscoversRespondingActuators(t *testing.T) {
	bus := newSimBus()
	bus.addServo(1, 2048)
	bus.addServo(2, 2048)
	mgr, _ := newTestManager(bus, DefaultOptions())

	found, err := mgr.Scan([]byte{1, 2, 3})
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if len(found) != 2 {
		t.Fatalf("found %d actuators, want 2: %v", len(found), found)
	}
	for _, d := range found {
		if d.Model != "STS3215" {
			t.Errorf("id %d model = %q, want STS3215", d.ID, d.Model)
		}
	}
}

func TestTickPublishesPresentPosition(t *testing.T) {
	bus := newSimBus()
	bus.addServo(9, 2048) // 2048 counts ~ +0.04 degrees, near 0

	opts := DefaultOptions()
	opts.GracePeriod = 0
	mgr, _ := newTestManager(bus, opts)
	mgr.Add(9)

	if err := mgr.Tick(time.Now()); err != nil {
		t.Fatalf("Tick: %v", err)
	}
	got, ok := mgr.GetPosition(9)
	if !ok {
		t.Fatal("expected a position after a successful tick")
	}
	if math.Abs(got) > 1 {
		t.Errorf("position = %v degrees, want near 0", got)
	}
}

func TestConfigureSuppressesTicksDuringGracePeriod(t *testing.T) {
	bus := newSimBus()
	bus.addServo(3, 4095) // near +180 degrees

	opts := DefaultOptions()
	opts.GracePeriod = time.Hour
	mgr, _ := newTestManager(bus, opts)
	mgr.Add(3)

	enabled := true
	if _, err := mgr.Configure(3, Config{TorqueEnabled: &enabled}); err != nil {
		t.Fatalf("Configure: %v", err)
	}
	if err := mgr.Tick(time.Now()); err != nil {
		t.Fatalf("Tick: %v", err)
	}
	got, ok := mgr.GetPosition(3)
	if !ok {
		t.Fatal("expected buffer entry to still exist")
	}
	if got != -180 {
		t.Errorf("position = %v, want the untouched initial value -180 (grace period should have suppressed the read)", got)
	}
}

func TestTickEvictsAfterMaxReadErrors(t *testing.T) {
	bus := newSimBus()
	bus.addServo(5, 2048)
	bus.servos[5].fail = true

	opts := DefaultOptions()
	opts.GracePeriod = 0
	opts.MaxReadErrors = 3
	mgr, _ := newTestManager(bus, opts)
	mgr.Add(5)

	for i := 0; i < 3; i++ {
		if err := mgr.Tick(time.Now()); err != nil {
			t.Fatalf("Tick %d: %v", i, err)
		}
	}
	if _, ok := mgr.GetPosition(5); ok {
		t.Error("expected actuator 5 to have been evicted after repeated read failures")
	}
}

func TestSetTargetsDrivesSyncWrite(t *testing.T) {
	bus := newSimBus()
	bus.addServo(4, 2048)

	opts := DefaultOptions()
	opts.GracePeriod = 0
	mgr, _ := newTestManager(bus, opts)
	mgr.Add(4)

	enabled := true
	if _, err := mgr.Configure(4, Config{TorqueEnabled: &enabled}); err != nil {
		t.Fatalf("Configure: %v", err)
	}
	mgr.SetTargets(map[byte]float64{4: 90})

	if err := mgr.Tick(time.Now()); err != nil {
		t.Fatalf("Tick: %v", err)
	}
	want := uint16(scservo.DegreesToCounts(90))
	if got := bus.lastSyncWrite[4]; got != want {
		t.Errorf("sync-write goal position = %d, want %d", got, want)
	}
}

func countFlightRecords(t *testing.T, buf *bytes.Buffer) int {
	t.Helper()
	dec := cbor.NewDecoder(bytes.NewReader(buf.Bytes()))
	n := 0
	for {
		var rec FlightRecord
		if err := dec.Decode(&rec); err != nil {
			break
		}
		n++
	}
	return n
}

func TestFaultsDoNotReachRecorderFromTick(t *testing.T) {
	bus := newSimBus()
	bus.addServo(7, 2048)
	bus.servos[7].fail = true

	var recBuf bytes.Buffer
	opts := DefaultOptions()
	opts.GracePeriod = 0
	opts.MaxReadErrors = 1000 // avoid eviction, which also writes the recorder
	opts.Recorder = NewRecorder(&recBuf)
	mgr, _ := newTestManager(bus, opts)
	mgr.Add(7)

	for i := 0; i < 5; i++ {
		if err := mgr.Tick(time.Now()); err != nil {
			t.Fatalf("Tick %d: %v", i, err)
		}
	}
	if got := countFlightRecords(t, &recBuf); got != 0 {
		t.Errorf("flight records after 5 failed ticks = %d, want 0 (fault recording must not run on the hot path)", got)
	}

	if _, ok := mgr.GetFaults(7); !ok {
		t.Fatal("expected a fault on record for id 7")
	}
	if got := countFlightRecords(t, &recBuf); got != 1 {
		t.Errorf("flight records after GetFaults = %d, want 1", got)
	}
}

func TestSetTargetsDropsUnknownIDsSilently(t *testing.T) {
	bus := newSimBus()
	bus.addServo(1, 2048) // keeps the actuator set non-empty so Tick actually drains the batch
	opts := DefaultOptions()
	opts.GracePeriod = 0
	mgr, _ := newTestManager(bus, opts)
	mgr.Add(1)

	mgr.SetTargets(map[byte]float64{42: 10})
	if err := mgr.Tick(time.Now()); err != nil {
		t.Fatalf("Tick: %v", err)
	}
	if _, ok := bus.lastSyncWrite[42]; ok {
		t.Error("expected target for an unknown actuator to be dropped silently")
	}
}
