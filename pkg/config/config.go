// Package config loads page cache settings from the environment and
// per-route cache options from a YAML file.
package config

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/redis/go-redis/v9"

	"github.com/Sternrassler/page-cache/pkg/backend"
	"github.com/Sternrassler/page-cache/pkg/logging"
	"github.com/Sternrassler/page-cache/pkg/middleware"
)

// ErrInvalidConfig is returned when settings or routes fail validation.
var ErrInvalidConfig = errors.New("invalid configuration")

// Backend kinds.
const (
	BackendMemory    = "memory"
	BackendRedis     = "redis"
	BackendMemcached = "memcached"
	BackendSQLite    = "sqlite"
	BackendPostgres  = "postgres"
)

var backends = []string{BackendMemory, BackendRedis, BackendMemcached, BackendSQLite, BackendPostgres}

// Settings holds process-wide configuration.
type Settings struct {
	// Backend selects the storage behind the default cache alias
	Backend string `env:"PAGECACHE_BACKEND" envDefault:"memory"`

	RedisAddr        string   `env:"PAGECACHE_REDIS_ADDR" envDefault:"localhost:6379"`
	RedisPrefix      string   `env:"PAGECACHE_REDIS_PREFIX"`
	MemcachedServers []string `env:"PAGECACHE_MEMCACHED_SERVERS" envSeparator:"," envDefault:"localhost:11211"`

	// SQLitePath is the database file; empty means in-memory
	SQLitePath  string `env:"PAGECACHE_SQLITE_PATH"`
	PostgresDSN string `env:"PAGECACHE_POSTGRES_DSN"`

	// DefaultTimeout of 0 disables the fallback: pages without max-age or a
	// route timeout are not cached
	DefaultTimeout         time.Duration `env:"PAGECACHE_DEFAULT_TIMEOUT" envDefault:"600s"`
	RememberAllURLs        bool          `env:"PAGECACHE_REMEMBER_ALL_URLS"`
	RememberStatsAllURLs   bool          `env:"PAGECACHE_REMEMBER_STATS_ALL_URLS"`
	UseCAS                 bool          `env:"PAGECACHE_USE_CAS" envDefault:"true"`
	CompressRememberedURLs bool          `env:"PAGECACHE_COMPRESS_REMEMBERED_URLS"`

	// RoutesFile is an optional YAML file with per-route options
	RoutesFile string `env:"PAGECACHE_ROUTES_FILE"`

	Port      string `env:"PORT" envDefault:"8080"`
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogPretty bool   `env:"LOG_PRETTY"`
}

// Load parses settings from the process environment and validates them.
func Load() (Settings, error) {
	return parse(env.Options{})
}

// LoadFrom parses settings from the given variables instead of the process
// environment.
func LoadFrom(environ map[string]string) (Settings, error) {
	return parse(env.Options{Environment: environ})
}

func parse(opts env.Options) (Settings, error) {
	var s Settings
	if err := env.ParseWithOptions(&s, opts); err != nil {
		return s, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if err := s.Validate(); err != nil {
		return s, err
	}
	return s, nil
}

// Validate checks the settings for consistency.
func (s Settings) Validate() error {
	var errs []error
	if !slices.Contains(backends, s.Backend) {
		errs = append(errs, fmt.Errorf("unknown backend %q", s.Backend))
	}
	switch s.Backend {
	case BackendRedis:
		if s.RedisAddr == "" {
			errs = append(errs, errors.New("PAGECACHE_REDIS_ADDR is required for the redis backend"))
		}
	case BackendMemcached:
		if len(s.MemcachedServers) == 0 {
			errs = append(errs, errors.New("PAGECACHE_MEMCACHED_SERVERS is required for the memcached backend"))
		}
	case BackendPostgres:
		if s.PostgresDSN == "" {
			errs = append(errs, errors.New("PAGECACHE_POSTGRES_DSN is required for the postgres backend"))
		}
	}
	if s.DefaultTimeout < 0 {
		errs = append(errs, fmt.Errorf("PAGECACHE_DEFAULT_TIMEOUT must not be negative, got %s", s.DefaultTimeout))
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(errs...))
	}
	return nil
}

// Logging returns the logger configuration.
func (s Settings) Logging() logging.Config {
	cfg := logging.DefaultConfig()
	cfg.Level = logging.LogLevel(s.LogLevel)
	cfg.Pretty = s.LogPretty
	return cfg
}

// MiddlewareOptions returns the base options every route starts from.
func (s Settings) MiddlewareOptions() middleware.Options {
	opts := middleware.DefaultOptions()
	opts.DefaultTimeout = s.DefaultTimeout
	if s.DefaultTimeout == 0 {
		opts.DefaultTimeout = middleware.NoDefaultTimeout
	}
	opts.RememberAllURLs = s.RememberAllURLs
	opts.RememberStatsAllURLs = s.RememberStatsAllURLs
	opts.UseCAS = s.UseCAS
	opts.CompressIndex = s.CompressRememberedURLs
	return opts
}

// OpenBackend connects to the configured backend and checks that it answers.
func OpenBackend(ctx context.Context, s Settings) (backend.Backend, error) {
	var (
		b   backend.Backend
		err error
	)
	switch s.Backend {
	case BackendMemory:
		return backend.NewMemory(), nil
	case BackendRedis:
		b = backend.NewRedis(redis.NewClient(&redis.Options{Addr: s.RedisAddr}), s.RedisPrefix)
	case BackendMemcached:
		b = backend.NewMemcached(s.MemcachedServers...)
	case BackendSQLite:
		b, err = backend.NewSQLite(ctx, s.SQLitePath)
	case BackendPostgres:
		b, err = backend.NewPostgres(ctx, s.PostgresDSN)
	default:
		return nil, fmt.Errorf("%w: unknown backend %q", ErrInvalidConfig, s.Backend)
	}
	if err != nil {
		return nil, fmt.Errorf("open %s backend: %w", s.Backend, err)
	}

	if err := b.Ping(ctx); err != nil {
		b.Close()
		return nil, fmt.Errorf("ping %s backend: %w", s.Backend, err)
	}
	return b, nil
}

// OpenRegistry opens the configured backend and registers it under the
// default alias.
func OpenRegistry(ctx context.Context, s Settings) (*backend.Registry, error) {
	b, err := OpenBackend(ctx, s)
	if err != nil {
		return nil, err
	}
	reg := backend.NewRegistry()
	reg.Register(backend.DefaultAlias, b)
	return reg, nil
}
