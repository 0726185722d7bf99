package backend

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/bradfitz/gomemcache/memcache"
)

const (
	// memcachedMaxKeyLen is the protocol limit on key length.
	memcachedMaxKeyLen = 250

	// memcachedRelativeLimit is the largest expiration memcached treats as
	// relative. Larger values are interpreted as absolute unix timestamps.
	memcachedRelativeLimit = 30 * 24 * time.Hour
)

// Memcached is a backend on top of gomemcache. It uses the native gets/cas
// commands for compare-and-swap.
type Memcached struct {
	client *memcache.Client
	now    func() time.Time
}

// NewMemcached creates a Memcached backend for the given servers.
func NewMemcached(servers ...string) *Memcached {
	if len(servers) == 0 {
		panic("memcached servers cannot be empty")
	}
	return &Memcached{client: memcache.New(servers...), now: time.Now}
}

// safeKey maps arbitrary keys onto the memcached key alphabet.
func safeKey(key string) string {
	if len(key) <= memcachedMaxKeyLen && legalKey(key) {
		return key
	}
	sum := md5.Sum([]byte(key))
	return "h:" + hex.EncodeToString(sum[:])
}

func legalKey(key string) bool {
	for i := 0; i < len(key); i++ {
		if key[i] <= ' ' || key[i] == 0x7f {
			return false
		}
	}
	return true
}

func (m *Memcached) expiration(ttl time.Duration) int32 {
	if ttl <= 0 {
		return 0
	}
	if ttl < time.Second {
		ttl = time.Second
	}
	if ttl > memcachedRelativeLimit {
		return int32(m.now().Add(ttl).Unix())
	}
	return int32(ttl / time.Second)
}

func (m *Memcached) Get(ctx context.Context, key string) ([]byte, error) {
	it, err := m.client.Get(safeKey(key))
	if err != nil {
		if errors.Is(err, memcache.ErrCacheMiss) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("memcached get: %w", err)
	}
	return it.Value, nil
}

func (m *Memcached) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	err := m.client.Set(&memcache.Item{
		Key:        safeKey(key),
		Value:      value,
		Expiration: m.expiration(ttl),
	})
	if err != nil {
		return fmt.Errorf("memcached set: %w", err)
	}
	return nil
}

func (m *Memcached) Delete(ctx context.Context, key string) error {
	err := m.client.Delete(safeKey(key))
	if err != nil && !errors.Is(err, memcache.ErrCacheMiss) {
		return fmt.Errorf("memcached delete: %w", err)
	}
	return nil
}

func (m *Memcached) Incr(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	k := safeKey(key)
	// incr on a missing key fails, so seed it first. Losing the add race is fine.
	err := m.client.Add(&memcache.Item{Key: k, Value: []byte("0"), Expiration: m.expiration(ttl)})
	if err != nil && !errors.Is(err, memcache.ErrNotStored) {
		return 0, fmt.Errorf("memcached add: %w", err)
	}
	n, err := m.client.Increment(k, 1)
	if err != nil {
		return 0, fmt.Errorf("memcached incr: %w", err)
	}
	return int64(n), nil
}

func (m *Memcached) Gets(ctx context.Context, key string) ([]byte, Token, error) {
	it, err := m.client.Get(safeKey(key))
	if err != nil {
		if errors.Is(err, memcache.ErrCacheMiss) {
			return nil, Token{}, ErrNotFound
		}
		return nil, Token{}, fmt.Errorf("memcached gets: %w", err)
	}
	return it.Value, Token{v: it}, nil
}

func (m *Memcached) CompareAndSwap(ctx context.Context, key string, value []byte, token Token, ttl time.Duration) (bool, error) {
	it, ok := token.v.(*memcache.Item)
	if !ok || it == nil {
		return false, nil
	}
	// The item carries the cas id from Gets; only value and expiry change.
	it.Value = value
	it.Expiration = m.expiration(ttl)
	err := m.client.CompareAndSwap(it)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, memcache.ErrCASConflict),
		errors.Is(err, memcache.ErrNotStored),
		errors.Is(err, memcache.ErrCacheMiss):
		return false, nil
	default:
		return false, fmt.Errorf("memcached cas: %w", err)
	}
}

func (m *Memcached) Add(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	err := m.client.Add(&memcache.Item{
		Key:        safeKey(key),
		Value:      value,
		Expiration: m.expiration(ttl),
	})
	if err != nil {
		if errors.Is(err, memcache.ErrNotStored) {
			return false, nil
		}
		return false, fmt.Errorf("memcached add: %w", err)
	}
	return true, nil
}

func (m *Memcached) Ping(ctx context.Context) error {
	return m.client.Ping()
}

// Close is a no-op; gomemcache recycles idle connections on its own.
func (m *Memcached) Close() error { return nil }

