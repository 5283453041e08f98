package actuator

// Logger is the narrow structured-logging surface the actuator package
// depends on. Package servocore adapts a configured
// logiface.Logger[*izerolog.Event] to it (kvLogger), keeping this package
// free of any logging-backend import: there is no process-wide logging
// singleton.
type Logger interface {
	Info(msg string, kv ...any)
	Error(msg string, kv ...any)
}

// NopLogger discards everything. It is the Manager default when no
// Logger option is supplied.
type NopLogger struct{}

func (NopLogger) Info(string, ...any)  {}
func (NopLogger) Error(string, ...any) {}
