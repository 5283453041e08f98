package actuator

import (
	"time"

	"github.com/joeycumines/go-catrate"
)

// faultLogLimiter throttles repeated fault LOG LINES per actuator id. It
// never touches the authoritative readErrorCount bookkeeping in
// actuatorState; it only decides whether a given fault gets written to
// the log.
type faultLogLimiter struct {
	limiter *catrate.Limiter
}

func newFaultLogLimiter() faultLogLimiter {
	return faultLogLimiter{
		limiter: catrate.NewLimiter(map[time.Duration]int{
			5 * time.Second: 1,
		}),
	}
}

// allow reports whether a fault log line for id should be emitted now.
func (f faultLogLimiter) allow(id byte) bool {
	_, ok := f.limiter.Allow(id)
	return ok
}
