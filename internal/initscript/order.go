package initscript

import (
	"github.com/halyard-dev/halyard/internal/project"
)

// dependencyOrder sorts pkgs so every package appears after the
// packages it depends on, keeping the input order among independent
// packages. Dependencies naming packages outside pkgs are ignored.
// Cycles cannot be ordered; the packages stuck in one are appended in
// input order so every script still gets a chance to run.
func dependencyOrder(pkgs []project.PackageRef) []project.PackageRef {
	present := make(map[string]bool, len(pkgs))
	for _, p := range pkgs {
		present[p.Name] = true
	}

	ordered := make([]project.PackageRef, 0, len(pkgs))
	placed := make(map[string]bool, len(pkgs))
	remaining := make([]project.PackageRef, len(pkgs))
	copy(remaining, pkgs)

	for len(remaining) > 0 {
		progressed := false
		next := remaining[:0]
		for _, p := range remaining {
			satisfied := true
			for _, dep := range p.DependsOn {
				if present[dep] && !placed[dep] {
					satisfied = false
					break
				}
			}
			if satisfied {
				ordered = append(ordered, p)
				placed[p.Name] = true
				progressed = true
			} else {
				next = append(next, p)
			}
		}
		remaining = next
		if !progressed {
			ordered = append(ordered, remaining...)
			break
		}
	}
	return ordered
}
