package scripting

import (
	"context"
	"sync"
	"sync/atomic"
)

// call is a queued session operation and its result channel. The
// channel is closed after the result is sent.
type call struct {
	fn     func(*Session) error
	result chan error
}

// Executor serializes session operations through a single worker
// goroutine. The runtime session is not safe for concurrent command
// execution; routing every invocation through the executor gives the
// single-active-command guarantee with a bounded queue instead of
// unbounded goroutine creation.
//
// Usage:
//
//	exec := NewExecutor(session, 0)
//	go exec.Run(ctx)
//	defer exec.Close()
//
//	err := exec.Execute(ctx, func(s *Session) error {
//	    _, err := s.Invoke(ctx, code)
//	    return err
//	})
type Executor struct {
	session *Session
	queue   chan *call
	closed  atomic.Bool
	done    chan struct{}

	closeOnce sync.Once
}

// DefaultQueueSize bounds the executor queue when no size is given.
const DefaultQueueSize = 64

// NewExecutor creates an Executor for the given session. queueSize
// bounds how many operations can be waiting; zero or negative selects
// DefaultQueueSize.
func NewExecutor(session *Session, queueSize int) *Executor {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	return &Executor{
		session: session,
		queue:   make(chan *call, queueSize),
		done:    make(chan struct{}),
	}
}

// Run processes operations from the queue until ctx is cancelled or
// Close is called. Queued operations left behind are drained with an
// error so no caller blocks forever.
func (e *Executor) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			e.drain(ctx.Err())
			return
		case <-e.done:
			e.drain(ErrExecutorClosed)
			return
		case c, ok := <-e.queue:
			if !ok {
				return
			}
			err := c.fn(e.session)
			select {
			case c.result <- err:
			default:
			}
			close(c.result)
		}
	}
}

// drain flushes remaining queued calls with the given error.
func (e *Executor) drain(err error) {
	for {
		select {
		case c, ok := <-e.queue:
			if !ok {
				return
			}
			select {
			case c.result <- err:
			default:
			}
			close(c.result)
		default:
			return
		}
	}
}

// Execute queues fn and blocks until it completes or ctx is cancelled.
// fn runs on the executor goroutine; when ctx is cancelled while the
// call is queued the call still runs, but the caller stops waiting.
func (e *Executor) Execute(ctx context.Context, fn func(*Session) error) error {
	if e.closed.Load() {
		return ErrExecutorClosed
	}

	c := &call{
		fn:     fn,
		result: make(chan error, 1),
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-e.done:
		return ErrExecutorClosed
	case e.queue <- c:
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err, ok := <-c.result:
		if !ok {
			return ErrExecutorClosed
		}
		return err
	}
}

// ExecuteAsync queues fn without waiting for completion. Returns
// ErrQueueFull when the queue is at capacity.
func (e *Executor) ExecuteAsync(fn func(*Session) error) error {
	if e.closed.Load() {
		return ErrExecutorClosed
	}

	c := &call{
		fn:     fn,
		result: make(chan error, 1),
	}

	select {
	case <-e.done:
		return ErrExecutorClosed
	case e.queue <- c:
		go func() {
			<-c.result // drain to avoid leaking the result channel
		}()
		return nil
	default:
		return ErrQueueFull
	}
}

// Close stops the executor. In-flight operations complete with
// ErrExecutorClosed. Safe to call more than once.
func (e *Executor) Close() {
	e.closeOnce.Do(func() {
		e.closed.Store(true)
		close(e.done)
	})
}

// IsClosed reports whether the executor has been closed.
func (e *Executor) IsClosed() bool {
	return e.closed.Load()
}
