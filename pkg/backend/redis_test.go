package backend

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

// setupTestRedis connects to a local Redis on DB 15 and skips when none runs.
// The integration suite covers Redis through testcontainers.
func setupTestRedis(t *testing.T) *redis.Client {
	t.Helper()

	client := redis.NewClient(&redis.Options{
		Addr: "localhost:6379",
		DB:   15, // Use a separate DB for tests
	})

	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("Redis not available for testing: %v", err)
	}
	if err := client.FlushDB(ctx).Err(); err != nil {
		t.Fatalf("Failed to flush test DB: %v", err)
	}

	t.Cleanup(func() {
		client.FlushDB(context.Background())
	})

	return client
}

func TestRedis(t *testing.T) {
	client := setupTestRedis(t)
	b := NewRedis(client, "test:")
	t.Cleanup(func() { b.Close() })
	runBackendSuite(t, b)
}

func TestRedis_Prefix(t *testing.T) {
	client := setupTestRedis(t)
	ctx := context.Background()
	b := NewRedis(client, "ns:")

	if err := b.Set(ctx, "k", []byte("v"), 0); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	raw, err := client.Get(ctx, "ns:k").Result()
	if err != nil {
		t.Fatalf("raw get: %v", err)
	}
	if raw != "v" {
		t.Errorf("raw value = %q, want %q", raw, "v")
	}
}

func TestRedis_IncrSetsTTLOnCreate(t *testing.T) {
	client := setupTestRedis(t)
	ctx := context.Background()
	b := NewRedis(client, "ctr:")

	for want := int64(1); want <= 3; want++ {
		n, err := b.Incr(ctx, "hits", time.Hour)
		if err != nil {
			t.Fatalf("Incr() error = %v", err)
		}
		if n != want {
			t.Errorf("Incr() = %d, want %d", n, want)
		}
	}

	ttl, err := client.PTTL(ctx, "ctr:hits").Result()
	if err != nil {
		t.Fatalf("PTTL: %v", err)
	}
	if ttl <= 0 || ttl > time.Hour {
		t.Errorf("counter TTL = %v, want within (0, 1h]", ttl)
	}

	if _, err := b.Incr(ctx, "plain", 0); err != nil {
		t.Fatalf("Incr() error = %v", err)
	}
	if ttl, _ := client.PTTL(ctx, "ctr:plain").Result(); ttl != -1 {
		t.Errorf("counter without TTL has PTTL %v, want -1", ttl)
	}
}

func TestNewRedis_Panic(t *testing.T) {
	defer func() {
		if r := recover(); r == nil {
			t.Error("NewRedis should panic with nil redis client")
		}
	}()
	NewRedis(nil, "")
}
