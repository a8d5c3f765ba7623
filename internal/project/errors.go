package project

import "errors"

// Workspace store errors.
var (
	// ErrNoWorkspace is returned when an operation requires an open workspace.
	ErrNoWorkspace = errors.New("no workspace is open")

	// ErrInvalidManifest is returned when the workspace manifest cannot be parsed.
	ErrInvalidManifest = errors.New("invalid workspace manifest")

	// ErrProjectNotFound is returned when the named project is not in the workspace.
	ErrProjectNotFound = errors.New("project not found")

	// ErrProjectExists is returned when adding a project whose name is taken.
	ErrProjectExists = errors.New("project already exists")
)
