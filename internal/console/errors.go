package console

import "errors"

// Console errors.
var (
	// ErrNilOutput indicates the host was configured without an output stream.
	ErrNilOutput = errors.New("nil output stream")
	// ErrNilFactory indicates the host was configured without a session factory.
	ErrNilFactory = errors.New("nil session factory")
	// ErrNilStore indicates the host was configured without a workspace store.
	ErrNilStore = errors.New("nil workspace store")
	// ErrNilRegistry indicates the host was configured without a source registry.
	ErrNilRegistry = errors.New("nil source registry")
	// ErrEmptyCommand indicates an empty or whitespace-only command line.
	ErrEmptyCommand = errors.New("empty command")
	// ErrNotReady indicates the host has not been initialized yet.
	ErrNotReady = errors.New("console not initialized")
	// ErrInitFailed indicates initialization failed; the console cannot
	// execute commands.
	ErrInitFailed = errors.New("console initialization failed")
	// ErrClosed indicates the host has been closed.
	ErrClosed = errors.New("console closed")
	// ErrUnknownProject indicates the named project is not in the workspace.
	ErrUnknownProject = errors.New("unknown project")
)
