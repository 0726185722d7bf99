package backend

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

// DefaultAlias is the alias used when a caller does not name a backend.
const DefaultAlias = "default"

// Registry maps cache aliases to backends.
type Registry struct {
	mu       sync.RWMutex
	backends map[string]Backend
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{backends: make(map[string]Backend)}
}

// Register binds alias to b, replacing any previous binding.
func (r *Registry) Register(alias string, b Backend) {
	if b == nil {
		panic("backend cannot be nil")
	}
	if alias == "" {
		alias = DefaultAlias
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.backends[alias] = b
}

// Lookup returns the backend registered under alias.
// An empty alias selects DefaultAlias.
func (r *Registry) Lookup(alias string) (Backend, error) {
	if alias == "" {
		alias = DefaultAlias
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.backends[alias]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownAlias, alias)
	}
	return b, nil
}

// Aliases returns the registered aliases in sorted order.
func (r *Registry) Aliases() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.backends))
	for alias := range r.backends {
		out = append(out, alias)
	}
	sort.Strings(out)
	return out
}

// Close closes every registered backend and returns the joined errors.
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	var errs []error
	for alias, b := range r.backends {
		if err := b.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", alias, err))
		}
	}
	return errors.Join(errs...)
}
