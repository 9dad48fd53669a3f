// Package monitoring is the diagnostic log surface shared by the robot's
// subsystem tasks (lidar decoder, drivetrain task, control loop, pose
// graph persistence). Subsystems report only two severities: recoverable
// conditions (Warnf) and subsystem failures (Errorf). Nothing here ever
// aborts the process; fatal invariant violations go through slamerrors.
package monitoring

import "log"

// logf is the sink every diagnostic line is written through. It defaults
// to log.Printf so robotd's output interleaves with its own startup and
// shutdown lines.
var logf func(format string, v ...interface{}) = log.Printf

// SetLogger redirects the diagnostic sink, e.g. to a test capture buffer.
// Passing nil silences the package entirely.
func SetLogger(f func(format string, v ...interface{})) {
	if f == nil {
		logf = func(string, ...interface{}) {}
		return
	}
	logf = f
}

// Warnf logs a recoverable condition: a lidar resync, a serial reconnect,
// a control-loop overrun. The owning task carries on.
func Warnf(format string, v ...interface{}) {
	logf("WARN "+format, v...)
}

// Errorf logs a subsystem-level failure: a handshake exhausted, a
// factorisation failed, a telemetry write rejected. Callers decide
// whether to retry or degrade; the process keeps running either way.
func Errorf(format string, v ...interface{}) {
	logf("ERROR "+format, v...)
}
