package project

import "sync"

// EventType identifies a workspace lifecycle event.
type EventType int

// Workspace lifecycle events.
const (
	// WorkspaceOpened is emitted after a workspace has been loaded.
	WorkspaceOpened EventType = iota

	// WorkspaceClosed is emitted after the workspace has been closed.
	WorkspaceClosed

	// ProjectAdded is emitted when a project joins the workspace.
	ProjectAdded

	// ProjectRenamed is emitted when a project changes name.
	ProjectRenamed

	// ProjectRemoved is emitted when a project leaves the workspace.
	ProjectRemoved
)

// String returns a string representation of the event type.
func (t EventType) String() string {
	switch t {
	case WorkspaceOpened:
		return "workspace-opened"
	case WorkspaceClosed:
		return "workspace-closed"
	case ProjectAdded:
		return "project-added"
	case ProjectRenamed:
		return "project-renamed"
	case ProjectRemoved:
		return "project-removed"
	default:
		return "unknown"
	}
}

// Event is a workspace lifecycle notification.
type Event struct {
	Type EventType

	// Project is the affected project name, if any. For ProjectRenamed
	// it holds the new name.
	Project string

	// OldName holds the previous name for ProjectRenamed.
	OldName string
}

// Handler receives lifecycle events. Handlers must be non-blocking and
// should not call back into the store. Panics in handlers are
// recovered.
type Handler func(Event)

// Notifier delivers workspace lifecycle events to subscribers.
type Notifier interface {
	// Subscribe adds a handler and returns a function that removes it.
	Subscribe(h Handler) (unsubscribe func())
}

// Notify is an embeddable Notifier implementation.
type Notify struct {
	mu       sync.Mutex
	handlers []Handler
}

// Subscribe adds an event handler.
// Returns an unsubscribe function to remove the handler.
func (n *Notify) Subscribe(h Handler) func() {
	if h == nil {
		return func() {} // No-op for nil handlers
	}

	n.mu.Lock()
	n.handlers = append(n.handlers, h)
	index := len(n.handlers) - 1
	n.mu.Unlock()

	return func() {
		n.mu.Lock()
		defer n.mu.Unlock()
		// Set to nil instead of removing to avoid index shifting issues
		if index < len(n.handlers) {
			n.handlers[index] = nil
		}
	}
}

// Emit delivers an event to all subscribers.
// Handlers are called outside the lock and panics are recovered.
func (n *Notify) Emit(ev Event) {
	n.mu.Lock()
	handlers := make([]Handler, len(n.handlers))
	copy(handlers, n.handlers)
	n.mu.Unlock()

	for _, h := range handlers {
		if h == nil {
			continue
		}
		func() {
			defer func() {
				recover() // Ignore panics from handlers
			}()
			h(ev)
		}()
	}
}
