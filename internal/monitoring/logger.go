// Package monitoring holds the process-wide diagnostic logger used by the
// map packages. Production code writes through Logf/Warnf; tests mute or
// capture output with SetLogger.
package monitoring

import (
	"fmt"
	"log"
	"sync/atomic"
)

// Logf is the package-level diagnostic logger. It defaults to log.Printf but may
// be replaced by SetLogger. Tests or production code can redirect or mute it.
var Logf func(format string, v ...interface{}) = log.Printf

// warnCount counts Warnf calls so startup code can report how many
// configuration values were coerced.
var warnCount atomic.Int64

// SetLogger replaces the package logger. Passing nil will set a no-op logger.
func SetLogger(f func(format string, v ...interface{})) {
	if f == nil {
		Logf = func(string, ...interface{}) {}
		return
	}
	Logf = f
}

// Warnf logs a recoverable condition with a WARN prefix.
func Warnf(format string, v ...interface{}) {
	warnCount.Add(1)
	Logf("WARN %s", fmt.Sprintf(format, v...))
}

// WarnCount returns the number of warnings emitted since process start
// (or since the last ResetWarnCount).
func WarnCount() int64 {
	return warnCount.Load()
}

// ResetWarnCount zeroes the warning counter.
func ResetWarnCount() {
	warnCount.Store(0)
}
