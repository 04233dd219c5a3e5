// Package xerrors defines the error taxonomy shared by every pipeline
// component: transport failures, host-side I/O, on-device verification,
// timeouts, user cancellation, malformed protocol artifacts, and the
// fatal class reserved for broken invariants.
package xerrors

import "errors"

var (
	// ErrTransport wraps a failed invocation of the external adb tool.
	ErrTransport = errors.New("transport error")
	// ErrIO wraps a host-side file or archive access failure.
	ErrIO = errors.New("io error")
	// ErrVerification wraps a size or count mismatch discovered on a device.
	ErrVerification = errors.New("verification error")
	// ErrTimeout wraps a reassembly marker poll that exceeded its deadline.
	ErrTimeout = errors.New("timeout error")
	// ErrCancelled wraps a user-initiated abort.
	ErrCancelled = errors.New("cancelled")
	// ErrProtocol wraps a malformed manifest or missing reassembly artifact.
	ErrProtocol = errors.New("protocol error")
	// ErrFatal indicates a broken invariant, e.g. re-verification recursion
	// depth exceeded. The run fails for that device only.
	ErrFatal = errors.New("fatal error")
)
