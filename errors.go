package vcam

import "errors"

// Status errors returned synchronously from session and provider calls.
// Failures discovered after a call has returned are reported through
// Callback.Notify instead.
var (
	// ErrIllegalArgument means the request shape is malformed; the
	// call had no side effects.
	ErrIllegalArgument = errors.New("illegal argument")
	// ErrInternal covers metadata queue failures and enqueue failures
	// outside teardown.
	ErrInternal = errors.New("internal error")
	// ErrUnsupported is returned for reprocessing requests and other
	// operations this HAL does not implement.
	ErrUnsupported = errors.New("operation not supported")
	// ErrCameraDisconnected means the backend channel is gone.
	ErrCameraDisconnected = errors.New("camera disconnected")
	// ErrCameraInUse is returned when a device already has an open
	// session.
	ErrCameraInUse = errors.New("camera in use")
)
