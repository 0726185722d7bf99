package backend

import (
	"context"
	"strconv"
	"sync"
	"time"
)

// memoryEvictInterval is how often expired keys are swept from a Memory backend.
const memoryEvictInterval = time.Minute

type memoryItem struct {
	value     []byte
	version   uint64
	expiresAt time.Time
}

func (i memoryItem) expired(now time.Time) bool {
	return !i.expiresAt.IsZero() && !now.Before(i.expiresAt)
}

// Memory is an in-process backend. Every write bumps a per-key version, which
// doubles as the CAS token.
type Memory struct {
	mu      sync.Mutex
	items   map[string]memoryItem
	version uint64
	now     func() time.Time

	stop chan struct{}
	once sync.Once
}

// NewMemory creates an in-memory backend and starts its eviction loop.
func NewMemory() *Memory {
	m := &Memory{
		items: make(map[string]memoryItem),
		now:   time.Now,
		stop:  make(chan struct{}),
	}
	go m.evictLoop()
	return m
}

func (m *Memory) evictLoop() {
	ticker := time.NewTicker(memoryEvictInterval)
	defer ticker.Stop()
	for {
		select {
		case <-m.stop:
			return
		case <-ticker.C:
			m.evictExpired()
		}
	}
}

func (m *Memory) evictExpired() {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	for k, it := range m.items {
		if it.expired(now) {
			delete(m.items, k)
		}
	}
}

// lookup returns the live item under key. Caller holds m.mu.
func (m *Memory) lookup(key string) (memoryItem, bool) {
	it, ok := m.items[key]
	if !ok {
		return memoryItem{}, false
	}
	if it.expired(m.now()) {
		delete(m.items, key)
		return memoryItem{}, false
	}
	return it, true
}

// store writes value under key. Caller holds m.mu.
func (m *Memory) store(key string, value []byte, ttl time.Duration) {
	m.version++
	it := memoryItem{
		value:   append([]byte(nil), value...),
		version: m.version,
	}
	if ttl > 0 {
		it.expiresAt = m.now().Add(ttl)
	}
	m.items[key] = it
}

func (m *Memory) Get(ctx context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	it, ok := m.lookup(key)
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte(nil), it.value...), nil
}

func (m *Memory) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.store(key, value, ttl)
	return nil
}

func (m *Memory) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.items, key)
	return nil
}

func (m *Memory) Incr(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var n int64
	it, ok := m.lookup(key)
	if ok {
		parsed, err := strconv.ParseInt(string(it.value), 10, 64)
		if err != nil {
			return 0, err
		}
		n = parsed
	}
	n++

	m.version++
	next := memoryItem{
		value:     []byte(strconv.FormatInt(n, 10)),
		version:   m.version,
		expiresAt: it.expiresAt,
	}
	if !ok && ttl > 0 {
		next.expiresAt = m.now().Add(ttl)
	}
	m.items[key] = next
	return n, nil
}

func (m *Memory) Gets(ctx context.Context, key string) ([]byte, Token, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	it, ok := m.lookup(key)
	if !ok {
		return nil, Token{}, ErrNotFound
	}
	return append([]byte(nil), it.value...), Token{v: it.version}, nil
}

func (m *Memory) CompareAndSwap(ctx context.Context, key string, value []byte, token Token, ttl time.Duration) (bool, error) {
	want, ok := token.v.(uint64)
	if !ok {
		return false, nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	it, ok := m.lookup(key)
	if !ok || it.version != want {
		return false, nil
	}
	m.store(key, value, ttl)
	return true, nil
}

func (m *Memory) Add(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.lookup(key); ok {
		return false, nil
	}
	m.store(key, value, ttl)
	return true, nil
}

func (m *Memory) Ping(ctx context.Context) error { return nil }

// Close stops the eviction loop. The stored data stays readable.
func (m *Memory) Close() error {
	m.once.Do(func() { close(m.stop) })
	return nil
}

// Len returns the number of live keys.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	n := 0
	for _, it := range m.items {
		if !it.expired(now) {
			n++
		}
	}
	return n
}
