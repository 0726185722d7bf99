//go:build integration

package backend

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// startContainer starts image and returns the host:port of the exposed port.
func startContainer(t *testing.T, req testcontainers.ContainerRequest) string {
	t.Helper()
	ctx := context.Background()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Fatalf("Failed to start %s container: %v", req.Image, err)
	}
	t.Cleanup(func() { container.Terminate(context.Background()) })

	endpoint, err := container.Endpoint(ctx, "")
	if err != nil {
		t.Fatalf("Failed to get %s endpoint: %v", req.Image, err)
	}
	return endpoint
}

func TestRedis_Integration(t *testing.T) {
	endpoint := startContainer(t, testcontainers.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForLog("Ready to accept connections"),
	})

	client := redis.NewClient(&redis.Options{Addr: endpoint})
	if err := client.Ping(context.Background()).Err(); err != nil {
		t.Fatalf("Failed to connect to Redis: %v", err)
	}

	b := NewRedis(client, "it:")
	t.Cleanup(func() { b.Close() })
	runBackendSuite(t, b)
}

func TestMemcached_Integration(t *testing.T) {
	endpoint := startContainer(t, testcontainers.ContainerRequest{
		Image:        "memcached:1.6-alpine",
		ExposedPorts: []string{"11211/tcp"},
		WaitingFor:   wait.ForListeningPort("11211/tcp"),
	})

	b := NewMemcached(endpoint)
	if err := b.Ping(context.Background()); err != nil {
		t.Fatalf("Failed to connect to memcached: %v", err)
	}
	runBackendSuite(t, b)
}

func TestPostgres_Integration(t *testing.T) {
	endpoint := startContainer(t, testcontainers.ContainerRequest{
		Image:        "postgres:16-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "pagecache",
			"POSTGRES_PASSWORD": "pagecache",
			"POSTGRES_DB":       "pagecache",
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").WithOccurrence(2),
	})

	dsn := fmt.Sprintf("postgres://pagecache:pagecache@%s/pagecache?sslmode=disable", endpoint)
	b, err := newPostgres(context.Background(), dsn, 50*time.Millisecond)
	if err != nil {
		t.Fatalf("NewPostgres() error = %v", err)
	}
	t.Cleanup(func() { b.Close() })
	runBackendSuite(t, b)

	t.Run("ExpiredRowsReclaimed", func(t *testing.T) {
		ctx := context.Background()
		if _, err := b.pool.Exec(ctx, `DELETE FROM pagecache_kv`); err != nil {
			t.Fatalf("Failed to clear table: %v", err)
		}
		for i := 0; i < 20; i++ {
			if err := b.Set(ctx, fmt.Sprintf("page-%d", i), []byte("x"), time.Millisecond); err != nil {
				t.Fatalf("Set() error = %v", err)
			}
		}
		if err := b.Set(ctx, "live", []byte("x"), time.Hour); err != nil {
			t.Fatalf("Set() error = %v", err)
		}

		deadline := time.Now().Add(5 * time.Second)
		for {
			var n int
			if err := b.pool.QueryRow(ctx, `SELECT COUNT(*) FROM pagecache_kv`).Scan(&n); err != nil {
				t.Fatalf("Failed to count rows: %v", err)
			}
			if n == 1 {
				return
			}
			if time.Now().After(deadline) {
				t.Fatalf("Expected expired rows to be swept, %d rows left", n)
			}
			time.Sleep(50 * time.Millisecond)
		}
	})
}
