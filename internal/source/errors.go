package source

import "errors"

// Source registry errors.
var (
	// ErrNilProvider is returned when a registry is built without a provider.
	ErrNilProvider = errors.New("source provider is nil")

	// ErrUnknownSource is returned when the named source is not in the
	// enabled source list.
	ErrUnknownSource = errors.New("source not found in enabled source list")

	// ErrNilCallback is returned when a watcher is built without a callback.
	ErrNilCallback = errors.New("watcher callback is nil")
)
