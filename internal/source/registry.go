// Package source maintains the list of enabled package sources and the
// single active source for the console.
package source

import (
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"
)

// Source is a named, URI-bearing package source endpoint.
type Source struct {
	Name    string
	URL     string
	Enabled bool
}

// Provider is the collaborator the registry caches: it owns the
// configured source list and persists the chosen active source.
type Provider interface {
	// Sources returns all configured sources, enabled or not, in order.
	Sources() ([]Source, error)

	// ActiveSource returns the persisted active source name, or "" when
	// none has ever been chosen.
	ActiveSource() (string, error)

	// SaveActiveSource persists the chosen active source.
	SaveActiveSource(name string) error
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithLogger sets the registry's logger.
func WithLogger(l *zap.Logger) RegistryOption {
	return func(r *Registry) {
		if l != nil {
			r.logger = l
		}
	}
}

// Registry is a thin cache over a Provider plus the reconciliation
// logic that keeps the active source consistent with the enabled list.
//
// Invariant: the active source, when set, is always a member of the
// current enabled list; it is "" exactly when the list is empty.
type Registry struct {
	mu       sync.RWMutex
	provider Provider
	enabled  []Source
	active   string
	logger   *zap.Logger
}

// NewRegistry builds a registry, seeds the active source from the
// provider's persisted default, and performs the initial load.
func NewRegistry(p Provider, opts ...RegistryOption) (*Registry, error) {
	if p == nil {
		return nil, ErrNilProvider
	}

	r := &Registry{provider: p, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(r)
	}

	if saved, err := p.ActiveSource(); err == nil {
		r.active = saved
	}
	if err := r.Reload(); err != nil {
		return nil, err
	}
	return r, nil
}

// Reload re-fetches the source list from the provider and reconciles
// the active source against it. Called whenever the registry is told
// the underlying source configuration changed.
func (r *Registry) Reload() error {
	all, err := r.provider.Sources()
	if err != nil {
		return fmt.Errorf("load sources: %w", err)
	}

	enabled := make([]Source, 0, len(all))
	for _, s := range all {
		if s.Enabled {
			enabled = append(enabled, s)
		}
	}

	r.mu.Lock()
	prev := r.active
	next := reconcile(prev, enabled)
	r.enabled = enabled
	r.active = next
	r.mu.Unlock()

	if prev != next {
		r.logger.Info("active source changed",
			zap.String("from", prev),
			zap.String("to", next))
	}
	return nil
}

// reconcile applies the deterministic fallback rules for the active
// source when the enabled source list changes, given the previous
// active name prev:
//
//  1. Empty list: active becomes "".
//  2. prev unset: first source in list order.
//  3. prev still present (case-insensitive): active stays prev.
//  4. prev vanished: first source in list order.
func reconcile(prev string, enabled []Source) string {
	if len(enabled) == 0 {
		return ""
	}
	if prev == "" {
		return enabled[0].Name
	}
	for _, s := range enabled {
		if strings.EqualFold(s.Name, prev) {
			return prev
		}
	}
	return enabled[0].Name
}

// Sources returns the enabled source names in list order.
func (r *Registry) Sources() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.enabled))
	for _, s := range r.enabled {
		names = append(names, s.Name)
	}
	return names
}

// ActiveSource returns the current active source name, or "" when the
// enabled list is empty.
func (r *Registry) ActiveSource() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.active
}

// SetActiveSource makes name the active source and persists it as the
// remembered default. The name must match an enabled source
// (case-insensitive); the source's configured spelling wins.
func (r *Registry) SetActiveSource(name string) error {
	r.mu.Lock()
	found := ""
	for _, s := range r.enabled {
		if strings.EqualFold(s.Name, name) {
			found = s.Name
			break
		}
	}
	if found == "" {
		r.mu.Unlock()
		return fmt.Errorf("%q: %w", name, ErrUnknownSource)
	}
	r.active = found
	r.mu.Unlock()

	if err := r.provider.SaveActiveSource(found); err != nil {
		return fmt.Errorf("persist active source: %w", err)
	}
	return nil
}
