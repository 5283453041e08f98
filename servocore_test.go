package servocore

import (
	"bytes"
	"errors"
	"testing"
	"time"

	"zbot.dev/servocore/actuator"
	"zbot.dev/servocore/control"
	"zbot.dev/servocore/scservo"
)

// noTransport never returns any bytes; it stands in for a serial port
// when a test only needs a Handler to exist, not to exchange frames.
type noTransport struct{}

func (noTransport) Read([]byte) (int, error)            { return 0, errors.New("no transport") }
func (noTransport) Write([]byte) (int, error)           { return 0, errors.New("no transport") }
func (noTransport) Flush() error                        { return nil }
func (noTransport) SetPacketTimeout(int, time.Duration) {}
func (noTransport) IsPacketTimeout() bool               { return true }

func TestDefaultConfig(t *testing.T) {
	cfg := defaultConfig()
	if cfg.baud != 1_000_000 {
		t.Errorf("baud = %d, want 1000000", cfg.baud)
	}
	if cfg.rate != 50 {
		t.Errorf("rate = %v, want 50", cfg.rate)
	}
	if cfg.endian != scservo.LittleEndian {
		t.Errorf("endian = %v, want LittleEndian", cfg.endian)
	}
	if cfg.cpuAffinity != -1 {
		t.Errorf("cpuAffinity = %d, want -1 (disabled)", cfg.cpuAffinity)
	}
	if cfg.gracePeriod != 2*time.Second {
		t.Errorf("gracePeriod = %v, want 2s", cfg.gracePeriod)
	}
	if cfg.errorResetPeriod != 5*time.Second {
		t.Errorf("errorResetPeriod = %v, want 5s", cfg.errorResetPeriod)
	}
}

func TestOptionsOverrideDefaults(t *testing.T) {
	cfg := defaultConfig()
	opts := []Option{
		WithBaud(115_200),
		WithRate(100),
		WithEndianness(scservo.BigEndian),
		WithMaxReadErrors(5),
		WithRealTimeScheduling(90),
		WithCPUAffinity(2),
		WithGracePeriod(250 * time.Millisecond),
		WithErrorResetPeriod(time.Second),
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.baud != 115_200 {
		t.Errorf("baud = %d, want 115200", cfg.baud)
	}
	if cfg.rate != 100 {
		t.Errorf("rate = %v, want 100", cfg.rate)
	}
	if cfg.endian != scservo.BigEndian {
		t.Errorf("endian = %v, want BigEndian", cfg.endian)
	}
	if cfg.maxReadErrors != 5 {
		t.Errorf("maxReadErrors = %d, want 5", cfg.maxReadErrors)
	}
	if !cfg.realTime || cfg.realTimePriority != 90 {
		t.Errorf("realTime = %v/%d, want true/90", cfg.realTime, cfg.realTimePriority)
	}
	if cfg.cpuAffinity != 2 {
		t.Errorf("cpuAffinity = %d, want 2", cfg.cpuAffinity)
	}
	if cfg.gracePeriod != 250*time.Millisecond {
		t.Errorf("gracePeriod = %v, want 250ms", cfg.gracePeriod)
	}
	if cfg.errorResetPeriod != time.Second {
		t.Errorf("errorResetPeriod = %v, want 1s", cfg.errorResetPeriod)
	}
}

func TestWithFlightRecorderSetsWriter(t *testing.T) {
	cfg := defaultConfig()
	var buf bytes.Buffer
	WithFlightRecorder(&buf)(&cfg)
	if cfg.recorderWriter == nil {
		t.Error("expected recorderWriter to be set")
	}
}

func TestStartFailsWithoutActuators(t *testing.T) {
	handler := scservo.NewHandler(noTransport{}, 1_000_000, scservo.LittleEndian)
	mgr := actuator.NewManager(handler, actuator.DefaultOptions())
	core := &Core{
		handler: handler,
		mgr:     mgr,
		loop:    control.NewLoop(mgr, control.Options{Rate: 50, CPUAffinity: -1}),
		log:     newKVLogger(newZerologLogger()),
	}

	err := core.Start()
	if !errors.Is(err, scservo.ErrNoActuatorsFound) {
		t.Fatalf("Start() err = %v, want ErrNoActuatorsFound", err)
	}

	core.mgr.Add(1)
	if err := core.Start(); err != nil {
		t.Fatalf("Start() after Add = %v, want nil", err)
	}
	core.Stop()
}
