package monitoring

import (
	"log"
	"sync/atomic"
)

// Logf is the package-level diagnostic logger. It defaults to log.Printf and
// may be swapped with SetLogger so tests can capture or mute output.
var Logf func(format string, v ...any) = log.Printf

// SetLogger replaces the logger. Passing nil installs a no-op logger.
func SetLogger(f func(format string, v ...any)) {
	if f == nil {
		Logf = func(string, ...any) {}
		return
	}
	Logf = f
}

// EveryN logs only every n-th call. Hot paths (ingest decode, skipped ticks)
// use it to keep a misbehaving source from flooding the log.
type EveryN struct {
	n       uint64
	counter atomic.Uint64
}

func NewEveryN(n int) *EveryN {
	if n < 1 {
		n = 1
	}
	return &EveryN{n: uint64(n)}
}

func (e *EveryN) Logf(format string, v ...any) {
	if e.counter.Add(1)%e.n == 0 {
		Logf(format, v...)
	}
}
