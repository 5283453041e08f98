package servocore

import (
	"github.com/joeycumines/izerolog"
	"github.com/joeycumines/logiface"
	"github.com/rs/zerolog"
)

// kvLogger adapts a *logiface.Logger[*izerolog.Event] to the narrow
// Info/Error(msg string, kv ...any) surface the actuator and control
// packages depend on, keeping them free of any logging-backend import.
type kvLogger struct {
	l *logiface.Logger[*izerolog.Event]
}

func newKVLogger(l *logiface.Logger[*izerolog.Event]) kvLogger {
	return kvLogger{l: l}
}

func (k kvLogger) Info(msg string, kv ...any) {
	b := k.l.Info()
	applyFields(b, kv)
	b.Log(msg)
}

func (k kvLogger) Error(msg string, kv ...any) {
	b := k.l.Err()
	applyFields(b, kv)
	b.Log(msg)
}

func applyFields(b *logiface.Builder[*izerolog.Event], kv []any) {
	for i := 0; i+1 < len(kv); i += 2 {
		key, ok := kv[i].(string)
		if !ok {
			continue
		}
		b.Field(key, kv[i+1])
	}
}

// newZerologLogger builds the default izerolog-backed logiface.Logger:
// console-writer output at info level, matching a development-friendly
// default. Callers that want JSON-to-file output or a different level
// should construct their own *logiface.Logger[*izerolog.Event] and pass
// it to WithLogger instead of relying on this default.
func newZerologLogger() *logiface.Logger[*izerolog.Event] {
	z := zerolog.New(zerolog.NewConsoleWriter()).With().Timestamp().Logger()
	return izerolog.L.New(
		izerolog.L.WithZerolog(z),
		izerolog.L.WithLevel(izerolog.L.LevelInformational()),
	)
}
