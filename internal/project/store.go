package project

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/tidwall/gjson"
)

// ManifestName is the workspace manifest file name.
const ManifestName = "halyard.json"

// packagesDir is the directory installed packages live under, relative
// to the workspace root.
const packagesDir = "packages"

// ManifestStore is a Store backed by a halyard.json workspace manifest.
//
// Manifest shape:
//
//	{
//	  "projects": [
//	    {
//	      "name": "api",
//	      "path": "api",
//	      "integrated": false,
//	      "packages": [
//	        {"name": "logkit", "version": "1.2.0", "requires": ["strkit"]},
//	        {"name": "strkit", "version": "0.9.1"}
//	      ]
//	    }
//	  ]
//	}
//
// Installed packages live under <workspace>/packages/<name>.<version>/.
// The store emits lifecycle events through the embedded Notify.
type ManifestStore struct {
	Notify

	mu       sync.RWMutex
	root     string
	projects []ProjectInfo
	packages map[string][]PackageRef // project name -> installed refs
}

// NewManifestStore creates an empty store with no workspace open.
func NewManifestStore() *ManifestStore {
	return &ManifestStore{packages: make(map[string][]PackageRef)}
}

// OpenWorkspace loads the manifest under root and emits
// WorkspaceOpened. An already open workspace is closed first.
func (s *ManifestStore) OpenWorkspace(root string) error {
	data, err := os.ReadFile(filepath.Join(root, ManifestName))
	if err != nil {
		return fmt.Errorf("read workspace manifest: %w", err)
	}
	if !gjson.ValidBytes(data) {
		return fmt.Errorf("%s is not valid JSON: %w", ManifestName, ErrInvalidManifest)
	}

	var projects []ProjectInfo
	packages := make(map[string][]PackageRef)
	for _, p := range gjson.GetBytes(data, "projects").Array() {
		info := ProjectInfo{
			Name:       p.Get("name").String(),
			Path:       p.Get("path").String(),
			Integrated: p.Get("integrated").Bool(),
		}
		if info.Name == "" {
			return fmt.Errorf("%s: project with empty name: %w", ManifestName, ErrInvalidManifest)
		}
		if _, dup := packages[info.Name]; dup {
			return fmt.Errorf("%s: duplicate project %q: %w", ManifestName, info.Name, ErrInvalidManifest)
		}

		var refs []PackageRef
		for _, pkg := range p.Get("packages").Array() {
			ref := PackageRef{
				Name:    pkg.Get("name").String(),
				Version: pkg.Get("version").String(),
			}
			for _, dep := range pkg.Get("requires").Array() {
				ref.DependsOn = append(ref.DependsOn, dep.String())
			}
			refs = append(refs, ref)
		}

		projects = append(projects, info)
		packages[info.Name] = refs
	}

	s.mu.Lock()
	wasOpen := s.root != ""
	s.root = root
	s.projects = projects
	s.packages = packages
	s.mu.Unlock()

	if wasOpen {
		s.Emit(Event{Type: WorkspaceClosed})
	}
	s.Emit(Event{Type: WorkspaceOpened})
	return nil
}

// CloseWorkspace drops the loaded workspace and emits WorkspaceClosed.
// Closing with no workspace open is a no-op.
func (s *ManifestStore) CloseWorkspace() {
	s.mu.Lock()
	open := s.root != ""
	s.root = ""
	s.projects = nil
	s.packages = make(map[string][]PackageRef)
	s.mu.Unlock()

	if open {
		s.Emit(Event{Type: WorkspaceClosed})
	}
}

// IsOpen reports whether a workspace is currently open.
func (s *ManifestStore) IsOpen() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.root != ""
}

// Path returns the workspace root, or "" when no workspace is open.
func (s *ManifestStore) Path() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.root
}

// Projects returns the open projects in workspace order.
func (s *ManifestStore) Projects() []ProjectInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]ProjectInfo(nil), s.projects...)
}

// InstalledPackages returns the package references installed in the
// named project.
func (s *ManifestStore) InstalledPackages(ctx context.Context, projectName string) ([]PackageRef, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.root == "" {
		return nil, ErrNoWorkspace
	}
	refs, ok := s.packages[projectName]
	if !ok {
		return nil, fmt.Errorf("project %q: %w", projectName, ErrProjectNotFound)
	}
	return append([]PackageRef(nil), refs...), nil
}

// InstallPath returns the directory the package is installed under.
func (s *ManifestStore) InstallPath(pkg PackageRef) string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.root == "" {
		return ""
	}
	return filepath.Join(s.root, packagesDir, pkg.Name+"."+pkg.Version)
}

// AddProject registers a project at runtime and emits ProjectAdded.
func (s *ManifestStore) AddProject(info ProjectInfo, refs []PackageRef) error {
	s.mu.Lock()
	if s.root == "" {
		s.mu.Unlock()
		return ErrNoWorkspace
	}
	if _, exists := s.packages[info.Name]; exists {
		s.mu.Unlock()
		return fmt.Errorf("project %q: %w", info.Name, ErrProjectExists)
	}
	s.projects = append(s.projects, info)
	s.packages[info.Name] = append([]PackageRef(nil), refs...)
	s.mu.Unlock()

	s.Emit(Event{Type: ProjectAdded, Project: info.Name})
	return nil
}

// RemoveProject drops a project and emits ProjectRemoved.
func (s *ManifestStore) RemoveProject(name string) error {
	s.mu.Lock()
	idx := -1
	for i, p := range s.projects {
		if p.Name == name {
			idx = i
			break
		}
	}
	if idx < 0 {
		s.mu.Unlock()
		return fmt.Errorf("project %q: %w", name, ErrProjectNotFound)
	}
	s.projects = append(s.projects[:idx], s.projects[idx+1:]...)
	delete(s.packages, name)
	s.mu.Unlock()

	s.Emit(Event{Type: ProjectRemoved, Project: name})
	return nil
}

// RenameProject renames a project and emits ProjectRenamed.
func (s *ManifestStore) RenameProject(oldName, newName string) error {
	s.mu.Lock()
	if _, exists := s.packages[newName]; exists {
		s.mu.Unlock()
		return fmt.Errorf("project %q: %w", newName, ErrProjectExists)
	}
	idx := -1
	for i, p := range s.projects {
		if p.Name == oldName {
			idx = i
			break
		}
	}
	if idx < 0 {
		s.mu.Unlock()
		return fmt.Errorf("project %q: %w", oldName, ErrProjectNotFound)
	}
	s.projects[idx].Name = newName
	s.packages[newName] = s.packages[oldName]
	delete(s.packages, oldName)
	s.mu.Unlock()

	s.Emit(Event{Type: ProjectRenamed, Project: newName, OldName: oldName})
	return nil
}

// Ensure ManifestStore implements Store and Notifier.
var (
	_ Store    = (*ManifestStore)(nil)
	_ Notifier = (*ManifestStore)(nil)
)
