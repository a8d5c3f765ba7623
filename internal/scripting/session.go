// Package scripting wraps the embedded Lua runtime in a session the
// console engine drives: mutex-guarded invocation with panic recovery,
// cancellation propagation into the interpreter, and typed host
// context binding.
package scripting

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/google/uuid"
	lua "github.com/yuin/gopher-lua"
	"go.uber.org/zap"
)

// hostGlobal is the name of the global table carrying the typed host
// context (active source, default project, working directory) into
// script code.
const hostGlobal = "host"

// HostContext is the session state the console binds into the runtime
// before each invocation. It replaces ad-hoc per-field globals with a
// single typed struct.
type HostContext struct {
	ActiveSource   string
	DefaultProject string
	WorkingDir     string
}

// Session owns a single Lua interpreter.
//
// The underlying LState is not goroutine-safe. Session serializes all
// access with a mutex, and the console additionally routes invocations
// through an Executor so at most one command runs at a time.
type Session struct {
	mu     sync.Mutex
	L      *lua.LState
	out    io.Writer
	id     string
	logger *zap.Logger
	closed bool

	// cancelMu guards the session-visible cancellation state bound by
	// the completion service.
	cancelMu sync.Mutex
	cancel   context.Context
}

// SessionOption configures a Session.
type SessionOption func(*Session)

// WithOutput directs script output (print and reported errors) to w.
func WithOutput(w io.Writer) SessionOption {
	return func(s *Session) {
		if w != nil {
			s.out = w
		}
	}
}

// WithSessionLogger sets the session's logger.
func WithSessionLogger(l *zap.Logger) SessionOption {
	return func(s *Session) {
		if l != nil {
			s.logger = l
		}
	}
}

// NewSession creates a runtime session with the console's library set
// opened and print redirected to the session output.
func NewSession(opts ...SessionOption) (*Session, error) {
	s := &Session{
		out:    io.Discard,
		id:     uuid.NewString(),
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}

	L := lua.NewState(lua.Options{
		SkipOpenLibs: true, // opened selectively below
	})
	s.L = L

	openLibraries(L)
	L.SetGlobal("print", L.NewFunction(s.luaPrint))

	s.logger.Debug("runtime session created", zap.String("session", s.id))
	return s, nil
}

// openLibraries opens the libraries console commands and package setup
// scripts rely on. debug and package stay closed.
func openLibraries(L *lua.LState) {
	lua.OpenBase(L)
	lua.OpenTable(L)
	lua.OpenString(L)
	lua.OpenMath(L)
	lua.OpenOs(L)
	lua.OpenIo(L)
}

// luaPrint writes print arguments to the session output, tab-joined.
func (s *Session) luaPrint(L *lua.LState) int {
	top := L.GetTop()
	parts := make([]string, 0, top)
	for i := 1; i <= top; i++ {
		parts = append(parts, L.ToStringMeta(L.Get(i)).String())
	}
	fmt.Fprintln(s.out, strings.Join(parts, "\t"))
	return 0
}

// ID returns the session's correlation ID.
func (s *Session) ID() string {
	return s.id
}

// SetHostContext publishes hc as the host global table.
func (s *Session) SetHostContext(hc HostContext) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}

	t := s.L.NewTable()
	s.L.SetField(t, "active_source", lua.LString(hc.ActiveSource))
	s.L.SetField(t, "default_project", lua.LString(hc.DefaultProject))
	s.L.SetField(t, "working_dir", lua.LString(hc.WorkingDir))
	s.L.SetGlobal(hostGlobal, t)
}

// BindCancel publishes ctx as the session-visible cancellation state.
// Invocations made without a context of their own fall back to it.
func (s *Session) BindCancel(ctx context.Context) {
	s.cancelMu.Lock()
	s.cancel = ctx
	s.cancelMu.Unlock()
}

// ClearCancel resets the cancellation state to none.
func (s *Session) ClearCancel() {
	s.cancelMu.Lock()
	s.cancel = nil
	s.cancelMu.Unlock()
}

// BoundCancel returns the currently bound cancellation context, or nil
// when none is bound.
func (s *Session) BoundCancel() context.Context {
	s.cancelMu.Lock()
	defer s.cancelMu.Unlock()
	return s.cancel
}

// Invoke compiles and runs a chunk of script text, passing args as the
// chunk's varargs, and returns the chunk's results converted to Go
// values. Output printed by the chunk goes to the session output. ctx
// governs runtime cancellation for this call; a queued call carries
// its own context, so one caller's cancellation never leaks into
// another's invocation. The bound cancellation context applies only
// when ctx is nil.
func (s *Session) Invoke(ctx context.Context, code string, args ...string) (results []any, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, ErrSessionClosed
	}

	runCtx := ctx
	if runCtx == nil {
		s.cancelMu.Lock()
		runCtx = s.cancel
		s.cancelMu.Unlock()
	}

	if runCtx != nil {
		s.L.SetContext(runCtx)
		defer s.L.RemoveContext()
	}

	defer func() {
		if r := recover(); r != nil {
			results = nil
			err = fmt.Errorf("runtime panic: %v", r)
		}
	}()

	fn, err := s.L.LoadString(code)
	if err != nil {
		return nil, fmt.Errorf("load chunk: %w", err)
	}

	top := s.L.GetTop()
	s.L.Push(fn)
	for _, a := range args {
		s.L.Push(lua.LString(a))
	}
	if err := s.L.PCall(len(args), lua.MultRet, nil); err != nil {
		return nil, err
	}

	n := s.L.GetTop() - top
	out := make([]any, 0, n)
	for i := 1; i <= n; i++ {
		out = append(out, toGoValue(s.L.Get(top+i)))
	}
	s.L.SetTop(top)
	return out, nil
}

// IsClosed reports whether the session has been closed.
func (s *Session) IsClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Close releases the interpreter. After Close all invocations return
// ErrSessionClosed. Safe to call more than once.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.L.Close()
	s.closed = true
	s.logger.Debug("runtime session closed", zap.String("session", s.id))
	return nil
}
