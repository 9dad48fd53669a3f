// Package slamerrors defines the error taxonomy shared across the SLAM and
// motion-control core: which failures are recoverable at a task boundary,
// which are returned as explicit absences to the caller, and which are
// fatal invariant violations.
package slamerrors

import "fmt"

// ProtocolError indicates a malformed wire frame from a hardware device —
// a lidar sync/checksum mismatch or an MCU handshake timeout. Recoverable
// by resyncing or restarting the owning task.
type ProtocolError struct {
	Device string
	Reason string
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("protocol error on %s: %s", e.Device, e.Reason)
}

// NewProtocolError builds a ProtocolError for the named device.
func NewProtocolError(device, reason string) *ProtocolError {
	return &ProtocolError{Device: device, Reason: reason}
}

// IoError wraps a serial open/read/write failure. Recovered by reopening
// the port with backoff; never unwinds past the owning task.
type IoError struct {
	Device string
	Err    error
}

func (e *IoError) Error() string {
	return fmt.Sprintf("io error on %s: %v", e.Device, e.Err)
}

func (e *IoError) Unwrap() error { return e.Err }

// NewIoError wraps err as an IoError for the named device.
func NewIoError(device string, err error) *IoError {
	return &IoError{Device: device, Err: err}
}

// ErrBufferMiss is returned by the time-interpolatable buffer when it is
// empty (a non-empty buffer clamps out-of-range times to its ends), and by
// the pose estimator when a sample is requested at a time outside its
// odometry buffer's retained window. It is an explicit absence, not a bug:
// callers decide whether to ignore the associated measurement.
var ErrBufferMiss = fmt.Errorf("no sample covers the requested time")

// NumericError indicates a numeric solve failed to converge or produced a
// singular system — a Cholesky factorisation failure or a singular ICP
// Hessian. Callers should fall back to the last-known estimate and log;
// this is not fatal.
type NumericError struct {
	Op     string
	Reason string
}

func (e *NumericError) Error() string {
	return fmt.Sprintf("numeric failure in %s: %s", e.Op, e.Reason)
}

// NewNumericError builds a NumericError for the named operation.
func NewNumericError(op, reason string) *NumericError {
	return &NumericError{Op: op, Reason: reason}
}

// InvariantViolation indicates the system reached a state its invariants
// forbid — a sample timestamp moving backward, or a pose reset to a time
// in the past. These are fatal: the caller should panic rather than try
// to continue with corrupted state.
type InvariantViolation struct {
	Invariant string
}

func (e *InvariantViolation) Error() string {
	return fmt.Sprintf("invariant violated: %s", e.Invariant)
}

// Fatal panics with an InvariantViolation. The system is misconfigured and
// cannot safely continue.
func Fatal(invariant string) {
	panic(&InvariantViolation{Invariant: invariant})
}
