package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/Sternrassler/page-cache/pkg/backend"
)

var (
	// ErrCacheMiss indicates the requested key was not found in cache
	ErrCacheMiss = errors.New("cache miss")

	// ErrInvalidEntry indicates the cache entry is invalid or corrupted
	ErrInvalidEntry = errors.New("invalid cache entry")
)

// Manager handles entry storage on top of a backend.
type Manager struct {
	backend backend.Backend
}

// NewManager creates a new cache manager for the given backend.
func NewManager(b backend.Backend) *Manager {
	if b == nil {
		panic("cache backend cannot be nil")
	}
	return &Manager{
		backend: b,
	}
}

// Backend returns the underlying backend.
func (m *Manager) Backend() backend.Backend {
	return m.backend
}

// CAS returns the compare-and-swap view of the backend, if it has one.
func (m *Manager) CAS() (backend.CASBackend, bool) {
	return backend.SupportsCAS(m.backend)
}

// Get retrieves a cache entry by key.
// Returns ErrCacheMiss if the key doesn't exist or entry is expired.
func (m *Manager) Get(ctx context.Context, key string) (*Entry, error) {
	data, err := m.backend.Get(ctx, key)
	if err != nil {
		if errors.Is(err, backend.ErrNotFound) {
			return nil, ErrCacheMiss
		}
		BackendErrors.WithLabelValues("get").Inc()
		return nil, fmt.Errorf("backend get: %w", err)
	}

	var entry Entry
	if err := json.Unmarshal(data, &entry); err != nil {
		BackendErrors.WithLabelValues("get").Inc()
		return nil, fmt.Errorf("%w: %v", ErrInvalidEntry, err)
	}

	// Backends with coarse TTLs may hand out an entry slightly past its expiry.
	if entry.IsExpired() {
		_ = m.Delete(ctx, key)
		return nil, ErrCacheMiss
	}

	return &entry, nil
}

// Set stores a cache entry with TTL based on the entry's Expires field.
func (m *Manager) Set(ctx context.Context, key string, entry *Entry) error {
	if entry == nil {
		return fmt.Errorf("cache entry cannot be nil")
	}

	ttl := entry.TTL()
	if ttl <= 0 {
		// Already expired, don't cache
		return nil
	}

	data, err := json.Marshal(entry)
	if err != nil {
		BackendErrors.WithLabelValues("set").Inc()
		return fmt.Errorf("marshal cache entry: %w", err)
	}

	if err := m.backend.Set(ctx, key, data, ttl); err != nil {
		BackendErrors.WithLabelValues("set").Inc()
		return fmt.Errorf("backend set: %w", err)
	}

	EntrySize.Observe(float64(len(data)))
	return nil
}

// Delete removes a cache entry.
func (m *Manager) Delete(ctx context.Context, key string) error {
	if err := m.backend.Delete(ctx, key); err != nil {
		BackendErrors.WithLabelValues("delete").Inc()
		return fmt.Errorf("backend delete: %w", err)
	}
	return nil
}

// Exists reports whether a value is stored under key.
func (m *Manager) Exists(ctx context.Context, key string) (bool, error) {
	_, err := m.backend.Get(ctx, key)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, backend.ErrNotFound):
		return false, nil
	default:
		BackendErrors.WithLabelValues("get").Inc()
		return false, fmt.Errorf("backend get: %w", err)
	}
}

// GetRaw returns the bytes stored under key, or ErrCacheMiss.
func (m *Manager) GetRaw(ctx context.Context, key string) ([]byte, error) {
	data, err := m.backend.Get(ctx, key)
	if err != nil {
		if errors.Is(err, backend.ErrNotFound) {
			return nil, ErrCacheMiss
		}
		BackendErrors.WithLabelValues("get").Inc()
		return nil, fmt.Errorf("backend get: %w", err)
	}
	return data, nil
}

// SetRaw stores bytes under key.
func (m *Manager) SetRaw(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := m.backend.Set(ctx, key, value, ttl); err != nil {
		BackendErrors.WithLabelValues("set").Inc()
		return fmt.Errorf("backend set: %w", err)
	}
	return nil
}

// Incr increments the counter under key, creating it if needed.
func (m *Manager) Incr(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	n, err := m.backend.Incr(ctx, key, ttl)
	if err != nil {
		BackendErrors.WithLabelValues("incr").Inc()
		return 0, fmt.Errorf("backend incr: %w", err)
	}
	return n, nil
}
