package console

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/halyard-dev/halyard/internal/completion"
	"github.com/halyard-dev/halyard/internal/initscript"
	"github.com/halyard-dev/halyard/internal/project"
	"github.com/halyard-dev/halyard/internal/scripting"
	"github.com/halyard-dev/halyard/internal/source"
)

// State is the host lifecycle state.
type State int

// Host states.
const (
	StateUninitialized State = iota
	StateInitializing
	StateReady
	StateInitFailed
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateInitializing:
		return "initializing"
	case StateReady:
		return "ready"
	case StateInitFailed:
		return "init-failed"
	default:
		return "unknown"
	}
}

// SessionFactory creates the scripting session a host runs commands
// in. The session's own output should go to out so script prints land
// in the console.
type SessionFactory func(out io.Writer) (*scripting.Session, error)

// Config carries the host's collaborators. Store, Sources, Factory,
// and Output are required.
type Config struct {
	// Store provides workspace and project state.
	Store project.Store
	// Events delivers workspace lifecycle events. Usually the Store
	// itself; may be nil when no event wiring is wanted.
	Events project.Notifier
	// Sources is the package source registry.
	Sources *source.Registry
	// Factory creates the scripting session during Initialize.
	Factory SessionFactory
	// Output receives command results, script prints, and error reports.
	Output io.Writer
	// Logger receives diagnostics. Defaults to a nop logger.
	Logger *zap.Logger
	// Banner is printed when the console initializes and again on
	// repeated Initialize calls.
	Banner string
	// QueueSize bounds the executor's pending command queue. Zero
	// selects the default.
	QueueSize int
}

// Host is the console session engine. It owns one scripting session,
// serializes all command and completion work through one executor,
// accumulates multi-line input into complete chunks, and tracks the
// active package source and default project that commands run against.
type Host struct {
	store   project.Store
	events  project.Notifier
	sources *source.Registry
	factory SessionFactory
	out     io.Writer
	logger  *zap.Logger
	banner  string
	qsize   int

	mu             sync.Mutex
	state          State
	closed         bool
	session        *scripting.Session
	exec           *scripting.Executor
	seq            *initscript.Sequencer
	comp           *completion.Service
	acc            Accumulator
	defaultProject string
	workingDir     string
	runCancel      context.CancelFunc
	execCancel     context.CancelFunc
	unsubscribe    func()
}

// New creates a host from cfg. The host starts uninitialized; call
// Initialize before executing commands.
func New(cfg Config) (*Host, error) {
	if cfg.Output == nil {
		return nil, ErrNilOutput
	}
	if cfg.Factory == nil {
		return nil, ErrNilFactory
	}
	if cfg.Store == nil {
		return nil, ErrNilStore
	}
	if cfg.Sources == nil {
		return nil, ErrNilRegistry
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Host{
		store:   cfg.Store,
		events:  cfg.Events,
		sources: cfg.Sources,
		factory: cfg.Factory,
		out:     cfg.Output,
		logger:  logger,
		banner:  cfg.Banner,
		qsize:   cfg.QueueSize,
	}, nil
}

// Initialize brings the host to the ready state: it creates the
// scripting session, starts the executor, wires workspace events, and
// runs setup scripts for an already-open workspace. Calling Initialize
// on a ready host only re-prints the banner, and only when showBanner
// is set. A failed initialization is terminal; subsequent calls return
// ErrInitFailed.
func (h *Host) Initialize(ctx context.Context, showBanner bool) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return ErrClosed
	}
	switch h.state {
	case StateReady:
		if showBanner {
			h.printBanner()
		}
		return nil
	case StateInitFailed:
		return ErrInitFailed
	case StateInitializing:
		return nil
	}
	h.state = StateInitializing

	session, err := h.factory(h.out)
	if err != nil {
		h.state = StateInitFailed
		fmt.Fprintf(h.out, "console initialization failed: %v\n", err)
		h.logger.Error("session creation failed", zap.Error(err))
		return fmt.Errorf("%w: %v", ErrInitFailed, err)
	}
	h.session = session

	execCtx, cancel := context.WithCancel(context.Background())
	h.execCancel = cancel
	h.exec = scripting.NewExecutor(session, h.qsize)
	go h.exec.Run(execCtx)

	h.seq = initscript.NewSequencer(h.store, h.exec,
		initscript.WithOutput(h.out),
		initscript.WithLogger(h.logger))
	h.comp = completion.NewService(session, h.exec,
		completion.WithLogger(h.logger))

	if h.events != nil {
		h.unsubscribe = h.events.Subscribe(h.handleEvent)
	}

	if showBanner {
		h.printBanner()
	}
	h.updateWorkingDirLocked()
	h.refreshProjectsLocked()
	h.pushHostContextLocked()

	if h.store.IsOpen() {
		h.seq.RunAsync()
	}

	h.state = StateReady
	h.logger.Info("console ready", zap.String("active_source", h.sources.ActiveSource()))
	return nil
}

// Execute feeds one input line to the host. Incomplete constructs are
// buffered until a later line completes them; dispatched reports
// whether a chunk actually ran. inputs are passed to the chunk as its
// varargs when it dispatches. Script errors are written to the output
// stream, not returned; the returned error covers host state problems
// only.
func (h *Host) Execute(ctx context.Context, line string, inputs ...string) (dispatched bool, err error) {
	if strings.TrimSpace(line) == "" && !h.pending() {
		return false, ErrEmptyCommand
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return false, ErrClosed
	}
	switch h.state {
	case StateUninitialized, StateInitializing:
		h.mu.Unlock()
		return false, ErrNotReady
	case StateInitFailed:
		h.mu.Unlock()
		return false, ErrInitFailed
	}

	chunk, complete := h.acc.AddLine(line)
	if !complete {
		h.mu.Unlock()
		return false, nil
	}

	runCtx, cancel := context.WithCancel(ctx)
	h.runCancel = cancel
	h.pushHostContextLocked()
	exec := h.exec
	h.mu.Unlock()

	defer func() {
		cancel()
		h.mu.Lock()
		if h.runCancel != nil {
			h.runCancel = nil
		}
		h.mu.Unlock()
	}()

	execErr := exec.Execute(runCtx, func(sess *scripting.Session) error {
		_, err := sess.Invoke(runCtx, chunk, inputs...)
		return err
	})
	if execErr != nil {
		fmt.Fprintln(h.out, execErr)
		h.logger.Debug("command failed", zap.Error(execErr))
	}
	return true, nil
}

// Abort cancels the running command, if any, and discards buffered
// multi-line input. Safe to call from a signal handler goroutine.
func (h *Host) Abort() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.runCancel != nil {
		h.runCancel()
	}
	h.acc.Clear()
}

// Prompt returns the prompt matching the accumulator state: the
// continuation prompt while a multi-line construct is pending,
// otherwise the primary prompt.
func (h *Host) Prompt() string {
	if h.pending() {
		return ">> "
	}
	return "PM> "
}

// State returns the host lifecycle state.
func (h *Host) State() State {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

// Completion returns the host's completion service, or nil before
// Initialize.
func (h *Host) Completion() *completion.Service {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.comp
}

// ActiveSource returns the active package source name.
func (h *Host) ActiveSource() string {
	return h.sources.ActiveSource()
}

// SetActiveSource selects the active package source and propagates it
// into the scripting session.
func (h *Host) SetActiveSource(name string) error {
	if err := h.sources.SetActiveSource(name); err != nil {
		return err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.pushHostContextLocked()
	return nil
}

// Sources returns the enabled package source names.
func (h *Host) Sources() []string {
	return h.sources.Sources()
}

// DefaultProject returns the project commands target by default.
// Empty when no workspace is open or the workspace has no projects.
func (h *Host) DefaultProject() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.defaultProject
}

// SetDefaultProject selects the default target project by name,
// case-insensitively, adopting the workspace's spelling. An empty name
// clears the selection.
func (h *Host) SetDefaultProject(name string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if name == "" {
		h.defaultProject = ""
		h.pushHostContextLocked()
		return nil
	}
	for _, p := range h.store.Projects() {
		if strings.EqualFold(p.Name, name) {
			h.defaultProject = p.Name
			h.pushHostContextLocked()
			return nil
		}
	}
	return fmt.Errorf("%w: %s", ErrUnknownProject, name)
}

// Projects returns the names of the workspace's projects.
func (h *Host) Projects() []string {
	projects := h.store.Projects()
	names := make([]string, len(projects))
	for i, p := range projects {
		names[i] = p.Name
	}
	return names
}

// Close shuts the host down: it stops the executor, closes the
// scripting session, and detaches from workspace events. Close is
// idempotent.
func (h *Host) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil
	}
	h.closed = true

	if h.runCancel != nil {
		h.runCancel()
		h.runCancel = nil
	}
	if h.unsubscribe != nil {
		h.unsubscribe()
		h.unsubscribe = nil
	}
	if h.exec != nil {
		h.exec.Close()
	}
	if h.execCancel != nil {
		h.execCancel()
	}
	if h.session != nil {
		h.session.Close()
	}
	h.logger.Info("console closed")
	return nil
}

// handleEvent reacts to workspace lifecycle changes. Runs on the
// notifier's goroutine; heavy work is handed off.
func (h *Host) handleEvent(ev project.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}

	switch ev.Type {
	case project.WorkspaceOpened:
		h.updateWorkingDirLocked()
		h.refreshProjectsLocked()
		h.seq.RunAsync()
	case project.WorkspaceClosed:
		h.defaultProject = ""
		h.updateWorkingDirLocked()
	case project.ProjectAdded:
		h.refreshProjectsLocked()
	case project.ProjectRemoved:
		if strings.EqualFold(ev.Project, h.defaultProject) {
			h.defaultProject = ""
			h.refreshProjectsLocked()
		}
	case project.ProjectRenamed:
		if strings.EqualFold(ev.OldName, h.defaultProject) {
			h.defaultProject = ev.Project
		}
	}
	h.pushHostContextLocked()
}

// refreshProjectsLocked reconciles the default project against the
// workspace: a vanished selection falls back to the first project, an
// empty workspace clears it.
func (h *Host) refreshProjectsLocked() {
	projects := h.store.Projects()
	if len(projects) == 0 {
		h.defaultProject = ""
		return
	}
	for _, p := range projects {
		if strings.EqualFold(p.Name, h.defaultProject) {
			h.defaultProject = p.Name
			return
		}
	}
	h.defaultProject = projects[0].Name
}

// updateWorkingDirLocked points the session's working directory at the
// workspace root, or the user's home directory when none is open.
func (h *Host) updateWorkingDirLocked() {
	if h.store.IsOpen() {
		h.workingDir = h.store.Path()
		return
	}
	home, err := os.UserHomeDir()
	if err != nil {
		home = ""
	}
	h.workingDir = home
}

// pushHostContextLocked propagates the host's current context into
// the scripting session.
func (h *Host) pushHostContextLocked() {
	if h.session == nil {
		return
	}
	h.session.SetHostContext(scripting.HostContext{
		ActiveSource:   h.sources.ActiveSource(),
		DefaultProject: h.defaultProject,
		WorkingDir:     h.workingDir,
	})
}

func (h *Host) printBanner() {
	if h.banner != "" {
		fmt.Fprintln(h.out, h.banner)
	}
}

func (h *Host) pending() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.acc.Pending()
}
