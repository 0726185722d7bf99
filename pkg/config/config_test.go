package config

import (
	"context"
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sternrassler/page-cache/pkg/backend"
	"github.com/Sternrassler/page-cache/pkg/cachekey"
	"github.com/Sternrassler/page-cache/pkg/logging"
	"github.com/Sternrassler/page-cache/pkg/middleware"
)

func TestLoadFrom_Defaults(t *testing.T) {
	s, err := LoadFrom(map[string]string{})
	require.NoError(t, err)

	assert.Equal(t, BackendMemory, s.Backend)
	assert.Equal(t, "localhost:6379", s.RedisAddr)
	assert.Equal(t, []string{"localhost:11211"}, s.MemcachedServers)
	assert.Equal(t, 600*time.Second, s.DefaultTimeout)
	assert.True(t, s.UseCAS)
	assert.False(t, s.RememberAllURLs)
	assert.False(t, s.CompressRememberedURLs)
	assert.Equal(t, "8080", s.Port)
	assert.Equal(t, "info", s.LogLevel)
}

func TestLoadFrom_Overrides(t *testing.T) {
	s, err := LoadFrom(map[string]string{
		"PAGECACHE_BACKEND":                  "memcached",
		"PAGECACHE_MEMCACHED_SERVERS":        "mc1:11211,mc2:11211",
		"PAGECACHE_DEFAULT_TIMEOUT":          "5m",
		"PAGECACHE_REMEMBER_ALL_URLS":        "true",
		"PAGECACHE_REMEMBER_STATS_ALL_URLS":  "1",
		"PAGECACHE_USE_CAS":                  "false",
		"PAGECACHE_COMPRESS_REMEMBERED_URLS": "true",
		"PORT":                               "9000",
		"LOG_LEVEL":                          "debug",
		"LOG_PRETTY":                         "true",
	})
	require.NoError(t, err)

	assert.Equal(t, BackendMemcached, s.Backend)
	assert.Equal(t, []string{"mc1:11211", "mc2:11211"}, s.MemcachedServers)
	assert.Equal(t, 5*time.Minute, s.DefaultTimeout)
	assert.True(t, s.RememberAllURLs)
	assert.True(t, s.RememberStatsAllURLs)
	assert.False(t, s.UseCAS)
	assert.True(t, s.CompressRememberedURLs)
	assert.Equal(t, "9000", s.Port)

	lc := s.Logging()
	assert.Equal(t, logging.LevelDebug, lc.Level)
	assert.True(t, lc.Pretty)
}

func TestLoadFrom_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		environ map[string]string
	}{
		{"unknown backend", map[string]string{"PAGECACHE_BACKEND": "etcd"}},
		{"postgres without dsn", map[string]string{"PAGECACHE_BACKEND": "postgres"}},
		{"negative timeout", map[string]string{"PAGECACHE_DEFAULT_TIMEOUT": "-5s"}},
		{"bad duration", map[string]string{"PAGECACHE_DEFAULT_TIMEOUT": "soon"}},
		{"bad bool", map[string]string{"PAGECACHE_USE_CAS": "maybe"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadFrom(tt.environ)
			assert.ErrorIs(t, err, ErrInvalidConfig)
		})
	}
}

func TestLoad_ProcessEnvironment(t *testing.T) {
	t.Setenv("PAGECACHE_BACKEND", "sqlite")
	t.Setenv("PAGECACHE_SQLITE_PATH", "/tmp/pages.db")

	s, err := Load()
	require.NoError(t, err)
	assert.Equal(t, BackendSQLite, s.Backend)
	assert.Equal(t, "/tmp/pages.db", s.SQLitePath)
}

func TestMiddlewareOptions(t *testing.T) {
	s := Settings{
		DefaultTimeout:         time.Minute,
		RememberAllURLs:        true,
		UseCAS:                 false,
		CompressRememberedURLs: true,
	}
	opts := s.MiddlewareOptions()

	assert.Equal(t, time.Minute, opts.DefaultTimeout)
	assert.True(t, opts.RememberAllURLs)
	assert.False(t, opts.RememberStatsAllURLs)
	assert.False(t, opts.UseCAS)
	assert.True(t, opts.CompressIndex)
	assert.Equal(t, []string{http.MethodGet}, opts.CacheableMethods)
}

func TestMiddlewareOptions_NoDefaultTimeout(t *testing.T) {
	s, err := LoadFrom(map[string]string{"PAGECACHE_DEFAULT_TIMEOUT": "0s"})
	require.NoError(t, err)
	assert.Equal(t, middleware.NoDefaultTimeout, s.MiddlewareOptions().DefaultTimeout)
}

func TestOpenBackend(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name     string
		settings Settings
	}{
		{"memory", Settings{Backend: BackendMemory}},
		{"sqlite memory", Settings{Backend: BackendSQLite}},
		{"sqlite file", Settings{Backend: BackendSQLite, SQLitePath: filepath.Join(t.TempDir(), "pages.db")}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, err := OpenBackend(ctx, tt.settings)
			require.NoError(t, err)
			defer b.Close()

			require.NoError(t, b.Set(ctx, "k", []byte("v"), time.Minute))
			got, err := b.Get(ctx, "k")
			require.NoError(t, err)
			assert.Equal(t, []byte("v"), got)
		})
	}

	_, err := OpenBackend(ctx, Settings{Backend: "etcd"})
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestOpenRegistry(t *testing.T) {
	reg, err := OpenRegistry(context.Background(), Settings{Backend: BackendMemory})
	require.NoError(t, err)
	defer reg.Close()

	assert.Equal(t, []string{backend.DefaultAlias}, reg.Aliases())
}

const routesYAML = `
routes:
  - path: /articles/
    timeout: 5m
    only_get_keys: [page]
    remember: true
  - path: /search
    forget_get_keys: [utm_source, utm_medium]
    key_prefix: search
    methods: [get, head]
  - path: /static/
    cache_alias: static
    remember_stats: true
`

func TestParseRoutes(t *testing.T) {
	routes, err := ParseRoutes([]byte(routesYAML))
	require.NoError(t, err)
	require.Len(t, routes, 3)

	assert.Equal(t, "/articles/", routes[0].Path)
	assert.Equal(t, 5*time.Minute, routes[0].Timeout)
	assert.Equal(t, []string{"page"}, routes[0].OnlyGetKeys)
	require.NotNil(t, routes[0].Remember)
	assert.True(t, *routes[0].Remember)

	assert.Equal(t, []string{"utm_source", "utm_medium"}, routes[1].ForgetGetKeys)
	assert.Nil(t, routes[1].Remember)
}

func TestParseRoutes_Invalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		is   error
	}{
		{"not yaml", "routes: [", nil},
		{"relative path", "routes:\n  - path: articles\n", nil},
		{"negative timeout", "routes:\n  - path: /a\n    timeout: -1s\n", nil},
		{"duplicate", "routes:\n  - path: /a\n  - path: /a\n", nil},
		{"conflicting filters", "routes:\n  - path: /a\n    only_get_keys: [x]\n    forget_get_keys: [y]\n", cachekey.ErrConflictingFilters},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseRoutes([]byte(tt.yaml))
			require.ErrorIs(t, err, ErrInvalidConfig)
			if tt.is != nil {
				assert.True(t, errors.Is(err, tt.is), "expected %v in %v", tt.is, err)
			}
		})
	}
}

func TestLoadRoutes(t *testing.T) {
	path := filepath.Join(t.TempDir(), "routes.yaml")
	require.NoError(t, os.WriteFile(path, []byte(routesYAML), 0o600))

	routes, err := LoadRoutes(path)
	require.NoError(t, err)
	assert.Len(t, routes, 3)

	_, err = LoadRoutes(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestRouteApply(t *testing.T) {
	routes, err := ParseRoutes([]byte(routesYAML))
	require.NoError(t, err)

	base := middleware.DefaultOptions()
	base.ForgetGetKeys = []string{"session"}
	base.RememberAllURLs = false

	articles := routes[0].Apply(base)
	assert.Equal(t, 5*time.Minute, articles.Timeout)
	assert.Equal(t, []string{"page"}, articles.OnlyGetKeys)
	assert.Nil(t, articles.ForgetGetKeys, "route filter replaces the base filter")
	assert.True(t, articles.RememberAllURLs)

	search := routes[1].Apply(base)
	assert.Equal(t, []string{http.MethodGet, http.MethodHead}, search.CacheableMethods)
	prefix, ok := search.KeyPrefix.Resolve(&http.Request{})
	assert.True(t, ok)
	assert.Equal(t, "search", prefix)
	assert.Zero(t, search.Timeout)

	static := routes[2].Apply(base)
	assert.Equal(t, "static", static.CacheAlias)
	assert.True(t, static.RememberStatsAllURLs)
	assert.Equal(t, []string{"session"}, static.ForgetGetKeys)

	assert.Equal(t, []string{"session"}, base.ForgetGetKeys, "base must not change")
}
