// Package project provides the workspace model the console engine runs
// against: open projects, installed package references with dependency
// edges, and workspace lifecycle notifications.
package project

import "context"

// PackageRef identifies an installed package within a project together
// with its dependency edges to other packages in the same project.
type PackageRef struct {
	Name    string
	Version string

	// DependsOn lists the names of packages in the same project that
	// must be set up before this one.
	DependsOn []string
}

// Key returns the name@version identity used for once-per-session
// tracking of setup scripts.
func (p PackageRef) Key() string {
	return p.Name + "@" + p.Version
}

// ProjectInfo describes a single project in the workspace. Integrated
// projects are host-managed and have no installable package folder;
// the init-script sequencer skips them.
type ProjectInfo struct {
	Name       string
	Path       string
	Integrated bool
}

// Store is the authoritative project store the console engine reads.
// Installed packages are recomputed on every read; the console never
// caches them.
type Store interface {
	// IsOpen reports whether a workspace is currently open.
	IsOpen() bool

	// Path returns the workspace root, or "" when no workspace is open.
	Path() string

	// Projects returns the open projects in workspace order.
	Projects() []ProjectInfo

	// InstalledPackages returns the package references installed in the
	// named project.
	InstalledPackages(ctx context.Context, projectName string) ([]PackageRef, error)

	// InstallPath returns the directory the package is installed under,
	// or "" when it cannot be resolved.
	InstallPath(pkg PackageRef) string
}
