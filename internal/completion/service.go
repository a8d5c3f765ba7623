// Package completion queries the scripting session for tab-completion
// candidates. Setup scripts may install hook functions in the session;
// when no hook is present a query yields no candidates rather than an
// error.
package completion

import (
	"context"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/halyard-dev/halyard/internal/scripting"
)

// expansionScript invokes the general completion hook, if installed.
// Arguments: the full line and the word being completed.
const expansionScript = `
if type(__complete) ~= "function" then return nil end
return __complete(...)
`

// pathExpansionScript invokes the path completion hook, if installed.
// Argument: the path fragment being completed.
const pathExpansionScript = `
if type(__complete_path) ~= "function" then return nil end
return __complete_path(...)
`

// PathExpansion describes a path completion result: the candidate
// paths and the span of the input line they replace.
type PathExpansion struct {
	ReplaceStart  int
	ReplaceLength int
	Paths         []string
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the service's logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// Service answers completion queries through the serialized script
// executor. Queries are best effort: hook errors and cancellation both
// yield no candidates.
type Service struct {
	session *scripting.Session
	exec    *scripting.Executor
	logger  *zap.Logger
}

// NewService creates a completion service over the given session and
// executor.
func NewService(session *scripting.Session, exec *scripting.Executor, opts ...Option) *Service {
	s := &Service{
		session: session,
		exec:    exec,
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Expansions returns completion candidates for the word at the end of
// line. It returns (nil, nil) when no hook is installed, when the hook
// fails, or when ctx is cancelled before the hook finishes.
func (s *Service) Expansions(ctx context.Context, line, lastWord string) ([]string, error) {
	res, err := s.query(ctx, expansionScript, line, lastWord)
	if err != nil {
		s.logger.Debug("completion hook failed", zap.Error(err))
		return nil, nil
	}
	return toStrings(res), nil
}

// PathExpansions returns path completion candidates for the given
// fragment. It returns (nil, nil) when no hook is installed, when the
// hook fails or returns a malformed result, or when ctx is cancelled.
func (s *Service) PathExpansions(ctx context.Context, fragment string) (*PathExpansion, error) {
	res, err := s.query(ctx, pathExpansionScript, fragment)
	if err != nil {
		s.logger.Debug("path completion hook failed", zap.Error(err))
		return nil, nil
	}
	fields, ok := res.(map[string]any)
	if !ok {
		return nil, nil
	}
	exp := &PathExpansion{
		ReplaceStart:  toInt(fields["start"]),
		ReplaceLength: toInt(fields["length"]),
		Paths:         toStrings(fields["paths"]),
	}
	return exp, nil
}

// query runs a hook script on the executor and waits for its first
// result. ctx is bound as the session-visible cancellation state for
// the duration of the query and cleared before query returns
// regardless of outcome; the invocation itself also carries ctx, so
// cancellation reaches the script without affecting other callers.
func (s *Service) query(ctx context.Context, script string, args ...string) (any, error) {
	id := uuid.NewString()
	s.session.BindCancel(ctx)
	defer s.session.ClearCancel()

	type reply struct {
		value any
		err   error
	}
	ch := make(chan reply, 1)

	go func() {
		err := s.exec.Execute(ctx, func(sess *scripting.Session) error {
			vals, err := sess.Invoke(ctx, script, args...)
			if err != nil {
				return err
			}
			var first any
			if len(vals) > 0 {
				first = vals[0]
			}
			ch <- reply{value: first}
			return nil
		})
		if err != nil {
			ch <- reply{err: err}
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Debug("completion query cancelled", zap.String("query", id))
		return nil, nil
	case r := <-ch:
		return r.value, r.err
	}
}

func toStrings(v any) []string {
	items, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(items))
	for _, it := range items {
		if s, ok := it.(string); ok {
			out = append(out, s)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func toInt(v any) int {
	switch n := v.(type) {
	case int64:
		return int(n)
	case float64:
		return int(n)
	}
	return 0
}
