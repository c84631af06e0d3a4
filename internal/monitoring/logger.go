// Package monitoring carries the process-wide diagnostic logging contract.
// Engine packages log through Logf so embedders can redirect or mute the
// stream without threading a logger through every constructor.
package monitoring

import "log"

// Logf is the package-level diagnostic logger. It defaults to log.Printf but
// may be replaced by SetLogger. Tests or production code can redirect or mute
// it.
var Logf func(format string, v ...interface{}) = log.Printf

// SetLogger replaces the package logger. Passing nil will set a no-op logger.
func SetLogger(f func(format string, v ...interface{})) {
	if f == nil {
		Logf = func(string, ...interface{}) {}
		return
	}
	Logf = f
}

// Scoped returns a logger that prefixes every message with a subsystem tag.
// It reads Logf at call time, so SetLogger keeps working after scoped
// loggers have been handed out.
func Scoped(prefix string) func(format string, v ...interface{}) {
	return func(format string, v ...interface{}) {
		Logf(prefix+": "+format, v...)
	}
}
