// Package initscript runs each installed package's one-time setup
// script when a workspace opens, in dependency order, serialized
// across concurrent triggers.
package initscript

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/halyard-dev/halyard/internal/project"
	"github.com/halyard-dev/halyard/internal/scripting"
)

// ScriptName is the per-package setup script, relative to the
// package's tools directory.
const ScriptName = "init.lua"

// toolsDir is the subdirectory of a package install that carries its
// tooling; it is prepended to the process search path.
const toolsDir = "tools"

// Option configures a Sequencer.
type Option func(*Sequencer)

// WithOutput directs setup reports (script failures and the like) to w.
func WithOutput(w io.Writer) Option {
	return func(s *Sequencer) {
		if w != nil {
			s.out = w
		}
	}
}

// WithLogger sets the sequencer's logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Sequencer) {
		if l != nil {
			s.logger = l
		}
	}
}

// Sequencer computes a dependency-respecting execution order of
// installed packages per project and runs each package's setup script
// exactly once per session. Setup is best effort: a failing script is
// reported and the remaining packages still run.
type Sequencer struct {
	store  project.Store
	exec   *scripting.Executor
	out    io.Writer
	logger *zap.Logger

	// flight admits one pass at a time. Concurrent triggers queue on
	// it and re-check preconditions after acquiring, so a pass always
	// observes workspace state current as of its start.
	flight *semaphore.Weighted

	mu  sync.Mutex
	ran map[string]bool // name@version -> attempted this session

	pathMu sync.Mutex
}

// NewSequencer creates a sequencer over the given store and executor.
func NewSequencer(store project.Store, exec *scripting.Executor, opts ...Option) *Sequencer {
	s := &Sequencer{
		store:  store,
		exec:   exec,
		out:    io.Discard,
		logger: zap.NewNop(),
		flight: semaphore.NewWeighted(1),
		ran:    make(map[string]bool),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run executes pending setup scripts for the open workspace. At most
// one pass runs at a time; concurrent callers block until the lock is
// free and then run their own pass against the then-current workspace
// state. Run returns an error only when the pass itself was aborted
// (cancelled context); individual script failures are reported and
// swallowed.
func (s *Sequencer) Run(ctx context.Context) error {
	if err := s.flight.Acquire(ctx, 1); err != nil {
		return err
	}
	defer s.flight.Release(1)

	// Re-check after waiting: the workspace may have closed while this
	// trigger was queued behind another pass.
	if !s.store.IsOpen() {
		return nil
	}

	for _, proj := range s.store.Projects() {
		if proj.Integrated {
			continue
		}

		pkgs, err := s.store.InstalledPackages(ctx, proj.Name)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			s.report(fmt.Sprintf("cannot resolve packages for project %s: %v", proj.Name, err))
			continue
		}
		if len(pkgs) == 0 {
			continue
		}

		for _, pkg := range dependencyOrder(pkgs) {
			if err := ctx.Err(); err != nil {
				return err
			}
			s.runPackage(ctx, pkg)
		}
	}
	return nil
}

// RunAsync triggers a pass without blocking the caller. Used from
// lifecycle event callbacks, which must not stall the notifier.
func (s *Sequencer) RunAsync() {
	go func() {
		if err := s.Run(context.Background()); err != nil {
			s.logger.Warn("setup pass aborted", zap.Error(err))
		}
	}()
}

// runPackage executes one package's setup script if it has not been
// attempted this session. Failures are reported, never propagated.
func (s *Sequencer) runPackage(ctx context.Context, pkg project.PackageRef) {
	s.mu.Lock()
	if s.ran[pkg.Key()] {
		s.mu.Unlock()
		return
	}
	s.ran[pkg.Key()] = true
	s.mu.Unlock()

	installPath := s.store.InstallPath(pkg)
	if installPath == "" {
		return
	}
	tools := filepath.Join(installPath, toolsDir)
	info, err := os.Stat(tools)
	if err != nil || !info.IsDir() {
		return
	}

	s.prependSearchPath(tools)

	code, err := os.ReadFile(filepath.Join(tools, ScriptName))
	if err != nil {
		if !os.IsNotExist(err) {
			s.report(fmt.Sprintf("cannot read setup script for %s: %v", pkg.Key(), err))
		}
		return
	}

	err = s.exec.Execute(ctx, func(sess *scripting.Session) error {
		_, err := sess.Invoke(ctx, string(code), installPath, tools, pkg.Name, pkg.Version)
		return err
	})
	if err != nil {
		s.report(fmt.Sprintf("setup script for %s failed: %v", pkg.Key(), err))
		s.logger.Error("setup script failed",
			zap.String("package", pkg.Key()),
			zap.Error(err))
		return
	}

	s.logger.Debug("setup script ran", zap.String("package", pkg.Key()))
}

// prependSearchPath puts dir at the front of PATH unless it is already
// listed.
func (s *Sequencer) prependSearchPath(dir string) {
	s.pathMu.Lock()
	defer s.pathMu.Unlock()

	current := os.Getenv("PATH")
	for _, p := range filepath.SplitList(current) {
		if p == dir {
			return
		}
	}
	if current == "" {
		os.Setenv("PATH", dir)
		return
	}
	os.Setenv("PATH", dir+string(os.PathListSeparator)+current)
}

// report writes a setup message to the console output stream.
func (s *Sequencer) report(msg string) {
	fmt.Fprintln(s.out, msg)
}
