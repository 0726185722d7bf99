// Package backend defines the key-value capability the page cache is built
// on and ships the concrete stores it can run against.
//
// Every backend implements Backend (get, set, delete, increment). Stores that
// can perform optimistic concurrency additionally implement CASBackend, which
// the remembered-URL index uses to avoid lost updates under concurrent writers.
package backend

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned when a key does not exist or has expired.
	ErrNotFound = errors.New("backend: key not found")

	// ErrUnknownAlias is returned by Registry.Lookup for unregistered aliases.
	ErrUnknownAlias = errors.New("backend: unknown cache alias")
)

// Backend abstracts a key-value store with TTL support.
// All operations are safe for concurrent use.
type Backend interface {
	// Get returns the value stored under key, or ErrNotFound.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores value under key. A zero TTL means no expiration.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// Incr atomically increments the integer stored under key and returns
	// the new value. A missing key is created at zero first, with ttl.
	Incr(ctx context.Context, key string, ttl time.Duration) (int64, error)

	// Ping verifies connectivity to the store.
	Ping(ctx context.Context) error

	// Close releases resources held by the backend.
	Close() error
}

// Token is an opaque version marker returned by CASBackend.Gets and consumed
// by CASBackend.CompareAndSwap.
type Token struct {
	v any
}

// CASBackend is implemented by backends supporting compare-and-swap.
type CASBackend interface {
	Backend

	// Gets returns the value under key together with its version token.
	// Returns ErrNotFound if the key is absent.
	Gets(ctx context.Context, key string) ([]byte, Token, error)

	// CompareAndSwap stores value only if key still carries token.
	// It reports false (and no error) when another writer got there first
	// or the key disappeared.
	CompareAndSwap(ctx context.Context, key string, value []byte, token Token, ttl time.Duration) (bool, error)

	// Add stores value only if key is absent.
	Add(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error)
}

// SupportsCAS reports whether b offers compare-and-swap.
func SupportsCAS(b Backend) (CASBackend, bool) {
	cb, ok := b.(CASBackend)
	return cb, ok
}

type plain struct {
	Backend
}

// WithoutCAS hides the compare-and-swap capability of b, forcing callers onto
// the plain read-modify-write path.
func WithoutCAS(b Backend) Backend {
	if p, ok := b.(plain); ok {
		return p
	}
	return plain{Backend: b}
}
