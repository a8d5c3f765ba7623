package scripting

import "errors"

// Runtime session errors.
var (
	// ErrSessionClosed is returned when using a closed session.
	ErrSessionClosed = errors.New("runtime session is closed")

	// ErrExecutorClosed is returned when using a closed executor.
	ErrExecutorClosed = errors.New("runtime executor is closed")

	// ErrQueueFull is returned when an async invocation cannot be queued.
	ErrQueueFull = errors.New("runtime executor queue full")
)
