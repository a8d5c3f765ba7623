package console

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/halyard-dev/halyard/internal/initscript"
	"github.com/halyard-dev/halyard/internal/project"
	"github.com/halyard-dev/halyard/internal/scripting"
	"github.com/halyard-dev/halyard/internal/source"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// safeBuffer is a bytes.Buffer safe for cross-goroutine use; the
// executor goroutine writes while tests read.
type safeBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *safeBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *safeBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// fakeStore is an in-memory project.Store with an embedded notifier so
// tests can drive workspace lifecycle events.
type fakeStore struct {
	project.Notify

	mu       sync.Mutex
	root     string
	projects []project.ProjectInfo
	packages map[string][]project.PackageRef
}

func (s *fakeStore) IsOpen() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.root != ""
}

func (s *fakeStore) Path() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.root
}

func (s *fakeStore) Projects() []project.ProjectInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]project.ProjectInfo(nil), s.projects...)
}

func (s *fakeStore) InstalledPackages(ctx context.Context, name string) ([]project.PackageRef, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.packages[name], nil
}

func (s *fakeStore) InstallPath(pkg project.PackageRef) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.root == "" {
		return ""
	}
	return filepath.Join(s.root, "packages", pkg.Name+"."+pkg.Version)
}

func (s *fakeStore) setProjects(projects ...project.ProjectInfo) {
	s.mu.Lock()
	s.projects = projects
	s.mu.Unlock()
}

// memProvider is an in-memory source.Provider.
type memProvider struct {
	sources []source.Source
	active  string
}

func (p *memProvider) Sources() ([]source.Source, error) { return p.sources, nil }
func (p *memProvider) ActiveSource() (string, error)     { return p.active, nil }

func (p *memProvider) SaveActiveSource(n string) error {
	p.active = n
	return nil
}

func testRegistry(t *testing.T, names ...string) *source.Registry {
	t.Helper()
	sources := make([]source.Source, len(names))
	for i, n := range names {
		sources[i] = source.Source{Name: n, Enabled: true}
	}
	r, err := source.NewRegistry(&memProvider{sources: sources})
	if err != nil {
		t.Fatalf("NewRegistry returned error: %v", err)
	}
	return r
}

type hostFixture struct {
	host  *Host
	store *fakeStore
	out   *safeBuffer
}

func newTestHost(t *testing.T, cfg Config) *hostFixture {
	t.Helper()
	f := &hostFixture{
		store: &fakeStore{},
		out:   &safeBuffer{},
	}
	if cfg.Store == nil {
		cfg.Store = f.store
		cfg.Events = f.store
	} else if s, ok := cfg.Store.(*fakeStore); ok {
		f.store = s
	}
	if cfg.Sources == nil {
		cfg.Sources = testRegistry(t, "main", "local")
	}
	if cfg.Output == nil {
		cfg.Output = f.out
	} else if b, ok := cfg.Output.(*safeBuffer); ok {
		f.out = b
	}
	if cfg.Factory == nil {
		cfg.Factory = func(out io.Writer) (*scripting.Session, error) {
			return scripting.NewSession(scripting.WithOutput(out))
		}
	}
	h, err := New(cfg)
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	f.host = h
	t.Cleanup(func() { h.Close() })
	return f
}

// writeSetupScript lays out packages/<name>.<version>/tools/init.lua
// under root.
func writeSetupScript(t *testing.T, root, name, version, script string) {
	t.Helper()
	tools := filepath.Join(root, "packages", name+"."+version, "tools")
	if err := os.MkdirAll(tools, 0o755); err != nil {
		t.Fatalf("mkdir tools: %v", err)
	}
	if err := os.WriteFile(filepath.Join(tools, initscript.ScriptName), []byte(script), 0o644); err != nil {
		t.Fatalf("write script: %v", err)
	}
}

func waitForOutput(t *testing.T, buf *safeBuffer, substr string) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if strings.Contains(buf.String(), substr) {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("Output never contained %q, got %q", substr, buf.String())
}

func TestNewValidation(t *testing.T) {
	store := &fakeStore{}
	registry := testRegistry(t, "main")
	factory := func(out io.Writer) (*scripting.Session, error) {
		return scripting.NewSession(scripting.WithOutput(out))
	}
	out := &safeBuffer{}

	tests := []struct {
		name string
		cfg  Config
		want error
	}{
		{"nil output", Config{Store: store, Sources: registry, Factory: factory}, ErrNilOutput},
		{"nil factory", Config{Store: store, Sources: registry, Output: out}, ErrNilFactory},
		{"nil store", Config{Sources: registry, Factory: factory, Output: out}, ErrNilStore},
		{"nil registry", Config{Store: store, Factory: factory, Output: out}, ErrNilRegistry},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := New(tt.cfg); !errors.Is(err, tt.want) {
				t.Errorf("New = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestHostInitialize(t *testing.T) {
	f := newTestHost(t, Config{Banner: "Halyard console"})

	if got := f.host.State(); got != StateUninitialized {
		t.Errorf("State before Initialize = %v, want uninitialized", got)
	}
	if err := f.host.Initialize(context.Background(), true); err != nil {
		t.Fatalf("Initialize returned error: %v", err)
	}
	if got := f.host.State(); got != StateReady {
		t.Errorf("State = %v, want ready", got)
	}
	if got := strings.Count(f.out.String(), "Halyard console"); got != 1 {
		t.Errorf("Banner printed %d times, want 1", got)
	}

	// Repeat only re-prints the banner.
	if err := f.host.Initialize(context.Background(), true); err != nil {
		t.Fatalf("Second Initialize returned error: %v", err)
	}
	if got := strings.Count(f.out.String(), "Halyard console"); got != 2 {
		t.Errorf("Banner printed %d times after repeat, want 2", got)
	}

	// Suppressed banner.
	if err := f.host.Initialize(context.Background(), false); err != nil {
		t.Fatalf("Third Initialize returned error: %v", err)
	}
	if got := strings.Count(f.out.String(), "Halyard console"); got != 2 {
		t.Errorf("Banner printed %d times after suppressed repeat, want 2", got)
	}
}

func TestHostInitializeFactoryFailure(t *testing.T) {
	boom := errors.New("runtime unavailable")
	f := newTestHost(t, Config{
		Factory: func(io.Writer) (*scripting.Session, error) { return nil, boom },
	})

	err := f.host.Initialize(context.Background(), true)
	if !errors.Is(err, ErrInitFailed) {
		t.Fatalf("Initialize = %v, want ErrInitFailed", err)
	}
	if got := f.host.State(); got != StateInitFailed {
		t.Errorf("State = %v, want init-failed", got)
	}
	if !strings.Contains(f.out.String(), "initialization failed") {
		t.Errorf("Failure should be reported to output, got %q", f.out.String())
	}

	// The failed state is terminal.
	if err := f.host.Initialize(context.Background(), true); !errors.Is(err, ErrInitFailed) {
		t.Errorf("Repeat Initialize = %v, want ErrInitFailed", err)
	}
	if _, err := f.host.Execute(context.Background(), `print("x")`); !errors.Is(err, ErrInitFailed) {
		t.Errorf("Execute = %v, want ErrInitFailed", err)
	}
}

func TestHostExecuteBeforeInitialize(t *testing.T) {
	f := newTestHost(t, Config{})
	if _, err := f.host.Execute(context.Background(), `print("x")`); !errors.Is(err, ErrNotReady) {
		t.Errorf("Execute = %v, want ErrNotReady", err)
	}
}

func TestHostExecuteEmpty(t *testing.T) {
	f := newTestHost(t, Config{})
	if err := f.host.Initialize(context.Background(), true); err != nil {
		t.Fatalf("Initialize returned error: %v", err)
	}
	if _, err := f.host.Execute(context.Background(), "   "); !errors.Is(err, ErrEmptyCommand) {
		t.Errorf("Execute(blank) = %v, want ErrEmptyCommand", err)
	}
}

func TestHostExecute(t *testing.T) {
	f := newTestHost(t, Config{})
	if err := f.host.Initialize(context.Background(), true); err != nil {
		t.Fatalf("Initialize returned error: %v", err)
	}

	dispatched, err := f.host.Execute(context.Background(), `print("hello")`)
	if err != nil {
		t.Fatalf("Execute returned error: %v", err)
	}
	if !dispatched {
		t.Error("Complete chunk should dispatch")
	}
	if !strings.Contains(f.out.String(), "hello") {
		t.Errorf("Output = %q, want hello", f.out.String())
	}
}

func TestHostExecuteInputs(t *testing.T) {
	f := newTestHost(t, Config{})
	if err := f.host.Initialize(context.Background(), true); err != nil {
		t.Fatalf("Initialize returned error: %v", err)
	}

	dispatched, err := f.host.Execute(context.Background(),
		`local a, b = ...; print(a .. "+" .. b)`, "one", "two")
	if err != nil {
		t.Fatalf("Execute returned error: %v", err)
	}
	if !dispatched {
		t.Fatal("Chunk should dispatch")
	}
	if !strings.Contains(f.out.String(), "one+two") {
		t.Errorf("Output = %q, want one+two", f.out.String())
	}
}

func TestHostExecuteMultiLine(t *testing.T) {
	f := newTestHost(t, Config{})
	if err := f.host.Initialize(context.Background(), true); err != nil {
		t.Fatalf("Initialize returned error: %v", err)
	}

	if got := f.host.Prompt(); got != "PM> " {
		t.Errorf("Prompt = %q, want primary", got)
	}

	for _, line := range []string{"if true then", `  print("inside")`} {
		dispatched, err := f.host.Execute(context.Background(), line)
		if err != nil {
			t.Fatalf("Execute(%q) returned error: %v", line, err)
		}
		if dispatched {
			t.Fatalf("Line %q should not dispatch yet", line)
		}
	}
	if got := f.host.Prompt(); got != ">> " {
		t.Errorf("Prompt while pending = %q, want continuation", got)
	}

	dispatched, err := f.host.Execute(context.Background(), "end")
	if err != nil {
		t.Fatalf("Execute(end) returned error: %v", err)
	}
	if !dispatched {
		t.Fatal("Closing line should dispatch the chunk")
	}
	if !strings.Contains(f.out.String(), "inside") {
		t.Errorf("Output = %q, want inside", f.out.String())
	}
	if got := f.host.Prompt(); got != "PM> " {
		t.Errorf("Prompt after dispatch = %q, want primary", got)
	}
}

func TestHostExecuteScriptError(t *testing.T) {
	f := newTestHost(t, Config{})
	if err := f.host.Initialize(context.Background(), true); err != nil {
		t.Fatalf("Initialize returned error: %v", err)
	}

	dispatched, err := f.host.Execute(context.Background(), `error("boom")`)
	if err != nil {
		t.Fatalf("Script failures should not surface as host errors, got %v", err)
	}
	if !dispatched {
		t.Error("Failing chunk still dispatches")
	}
	if !strings.Contains(f.out.String(), "boom") {
		t.Errorf("Output = %q, want the script error", f.out.String())
	}
}

func TestHostAbortClearsPending(t *testing.T) {
	f := newTestHost(t, Config{})
	if err := f.host.Initialize(context.Background(), true); err != nil {
		t.Fatalf("Initialize returned error: %v", err)
	}

	if _, err := f.host.Execute(context.Background(), "function f()"); err != nil {
		t.Fatalf("Execute returned error: %v", err)
	}
	if got := f.host.Prompt(); got != ">> " {
		t.Fatalf("Prompt = %q, want continuation", got)
	}

	f.host.Abort()
	if got := f.host.Prompt(); got != "PM> " {
		t.Errorf("Prompt after Abort = %q, want primary", got)
	}

	// The discarded prefix must not leak into the next command.
	dispatched, err := f.host.Execute(context.Background(), `print("fresh")`)
	if err != nil || !dispatched {
		t.Fatalf("Execute after Abort = (%v, %v), want dispatch", dispatched, err)
	}
	if !strings.Contains(f.out.String(), "fresh") {
		t.Errorf("Output = %q, want fresh", f.out.String())
	}
}

func TestHostContextVisibleToScripts(t *testing.T) {
	store := &fakeStore{root: "/tmp/ws"}
	store.setProjects(project.ProjectInfo{Name: "api"}, project.ProjectInfo{Name: "site"})
	f := newTestHost(t, Config{Store: store, Events: store})
	if err := f.host.Initialize(context.Background(), true); err != nil {
		t.Fatalf("Initialize returned error: %v", err)
	}

	if _, err := f.host.Execute(context.Background(),
		`print(host.active_source .. "|" .. host.default_project .. "|" .. host.working_dir)`); err != nil {
		t.Fatalf("Execute returned error: %v", err)
	}
	if want := "main|api|/tmp/ws"; !strings.Contains(f.out.String(), want) {
		t.Errorf("Output = %q, want %q", f.out.String(), want)
	}
}

func TestHostDefaultProject(t *testing.T) {
	store := &fakeStore{root: "/tmp/ws"}
	store.setProjects(project.ProjectInfo{Name: "api"}, project.ProjectInfo{Name: "site"})
	f := newTestHost(t, Config{Store: store, Events: store})
	if err := f.host.Initialize(context.Background(), true); err != nil {
		t.Fatalf("Initialize returned error: %v", err)
	}

	if got := f.host.DefaultProject(); got != "api" {
		t.Errorf("DefaultProject = %q, want first project", got)
	}

	// Case-insensitive selection adopts the workspace spelling.
	if err := f.host.SetDefaultProject("SITE"); err != nil {
		t.Fatalf("SetDefaultProject returned error: %v", err)
	}
	if got := f.host.DefaultProject(); got != "site" {
		t.Errorf("DefaultProject = %q, want site", got)
	}

	if err := f.host.SetDefaultProject("ghost"); !errors.Is(err, ErrUnknownProject) {
		t.Errorf("SetDefaultProject(ghost) = %v, want ErrUnknownProject", err)
	}

	if err := f.host.SetDefaultProject(""); err != nil {
		t.Fatalf("Clearing selection returned error: %v", err)
	}
	if got := f.host.DefaultProject(); got != "" {
		t.Errorf("DefaultProject = %q, want empty", got)
	}
}

func TestHostProjectEvents(t *testing.T) {
	store := &fakeStore{root: "/tmp/ws"}
	store.setProjects(project.ProjectInfo{Name: "api"}, project.ProjectInfo{Name: "site"})
	f := newTestHost(t, Config{Store: store, Events: store})
	if err := f.host.Initialize(context.Background(), true); err != nil {
		t.Fatalf("Initialize returned error: %v", err)
	}

	// Renaming the default project follows the rename.
	store.setProjects(project.ProjectInfo{Name: "gateway"}, project.ProjectInfo{Name: "site"})
	store.Emit(project.Event{Type: project.ProjectRenamed, Project: "gateway", OldName: "api"})
	if got := f.host.DefaultProject(); got != "gateway" {
		t.Errorf("DefaultProject after rename = %q, want gateway", got)
	}

	// Removing the default project falls back to the first remaining.
	store.setProjects(project.ProjectInfo{Name: "site"})
	store.Emit(project.Event{Type: project.ProjectRemoved, Project: "gateway"})
	if got := f.host.DefaultProject(); got != "site" {
		t.Errorf("DefaultProject after removal = %q, want site", got)
	}

	// Closing the workspace clears the selection.
	store.mu.Lock()
	store.root = ""
	store.projects = nil
	store.mu.Unlock()
	store.Emit(project.Event{Type: project.WorkspaceClosed})
	if got := f.host.DefaultProject(); got != "" {
		t.Errorf("DefaultProject after close = %q, want empty", got)
	}
}

func TestHostWorkspaceOpenedRunsSetupScripts(t *testing.T) {
	root := t.TempDir()
	store := &fakeStore{
		packages: map[string][]project.PackageRef{
			"api": {{Name: "lib", Version: "1.0.0"}},
		},
	}

	f := newTestHost(t, Config{Store: store, Events: store})
	if err := f.host.Initialize(context.Background(), true); err != nil {
		t.Fatalf("Initialize returned error: %v", err)
	}

	writeSetupScript(t, root, "lib", "1.0.0", `print("ran:lib")`)
	store.mu.Lock()
	store.root = root
	store.projects = []project.ProjectInfo{{Name: "api"}}
	store.mu.Unlock()
	store.Emit(project.Event{Type: project.WorkspaceOpened})

	waitForOutput(t, f.out, "ran:lib")
}

func TestHostActiveSource(t *testing.T) {
	f := newTestHost(t, Config{})
	if err := f.host.Initialize(context.Background(), true); err != nil {
		t.Fatalf("Initialize returned error: %v", err)
	}

	if got := f.host.ActiveSource(); got != "main" {
		t.Errorf("ActiveSource = %q, want main", got)
	}
	if err := f.host.SetActiveSource("local"); err != nil {
		t.Fatalf("SetActiveSource returned error: %v", err)
	}
	if got := f.host.ActiveSource(); got != "local" {
		t.Errorf("ActiveSource = %q, want local", got)
	}

	// The change is visible to scripts.
	if _, err := f.host.Execute(context.Background(), `print("src:" .. host.active_source)`); err != nil {
		t.Fatalf("Execute returned error: %v", err)
	}
	if !strings.Contains(f.out.String(), "src:local") {
		t.Errorf("Output = %q, want src:local", f.out.String())
	}
}

func TestHostCompletionService(t *testing.T) {
	f := newTestHost(t, Config{})
	if f.host.Completion() != nil {
		t.Error("Completion before Initialize should be nil")
	}
	if err := f.host.Initialize(context.Background(), true); err != nil {
		t.Fatalf("Initialize returned error: %v", err)
	}
	if f.host.Completion() == nil {
		t.Error("Completion after Initialize should be available")
	}
}

func TestHostClose(t *testing.T) {
	f := newTestHost(t, Config{})
	if err := f.host.Initialize(context.Background(), true); err != nil {
		t.Fatalf("Initialize returned error: %v", err)
	}

	if err := f.host.Close(); err != nil {
		t.Fatalf("Close returned error: %v", err)
	}
	if err := f.host.Close(); err != nil {
		t.Errorf("Second Close returned error: %v", err)
	}

	if _, err := f.host.Execute(context.Background(), `print("x")`); !errors.Is(err, ErrClosed) {
		t.Errorf("Execute after Close = %v, want ErrClosed", err)
	}
	if err := f.host.Initialize(context.Background(), true); !errors.Is(err, ErrClosed) {
		t.Errorf("Initialize after Close = %v, want ErrClosed", err)
	}
}
