package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/Sternrassler/page-cache/pkg/cachekey"
	"github.com/Sternrassler/page-cache/pkg/middleware"
)

// Route holds the cache options of one route. Unset fields keep the values
// of the base options.
type Route struct {
	Path          string        `yaml:"path"`
	Timeout       time.Duration `yaml:"timeout"`
	KeyPrefix     string        `yaml:"key_prefix"`
	CacheAlias    string        `yaml:"cache_alias"`
	OnlyGetKeys   []string      `yaml:"only_get_keys"`
	ForgetGetKeys []string      `yaml:"forget_get_keys"`
	Remember      *bool         `yaml:"remember"`
	RememberStats *bool         `yaml:"remember_stats"`
	Methods       []string      `yaml:"methods"`
}

type routesFile struct {
	Routes []Route `yaml:"routes"`
}

// LoadRoutes reads and validates a routes file.
//
//	routes:
//	  - path: /articles/
//	    timeout: 5m
//	    only_get_keys: [page]
//	    remember: true
func LoadRoutes(path string) ([]Route, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read routes file: %w", err)
	}
	return ParseRoutes(data)
}

// ParseRoutes decodes and validates routes from YAML.
func ParseRoutes(data []byte) ([]Route, error) {
	var f routesFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("%w: decode routes: %v", ErrInvalidConfig, err)
	}

	seen := make(map[string]bool, len(f.Routes))
	var errs []error
	for i, r := range f.Routes {
		if err := r.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("route %d: %w", i, err))
			continue
		}
		if seen[r.Path] {
			errs = append(errs, fmt.Errorf("route %d: duplicate path %q", i, r.Path))
		}
		seen[r.Path] = true
	}
	if len(errs) > 0 {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(errs...))
	}
	return f.Routes, nil
}

// Validate checks a single route.
func (r Route) Validate() error {
	if !strings.HasPrefix(r.Path, "/") {
		return fmt.Errorf("path %q must start with /", r.Path)
	}
	if r.Timeout < 0 {
		return fmt.Errorf("timeout must not be negative, got %s", r.Timeout)
	}
	filter := cachekey.QueryFilter{Only: r.OnlyGetKeys, Forget: r.ForgetGetKeys}
	return filter.Validate()
}

// Apply returns base with the route's settings applied.
func (r Route) Apply(base middleware.Options) middleware.Options {
	opts := base
	if r.Timeout > 0 {
		opts.Timeout = r.Timeout
	}
	if r.KeyPrefix != "" {
		opts.KeyPrefix = cachekey.StaticPrefix(r.KeyPrefix)
	}
	if r.CacheAlias != "" {
		opts.CacheAlias = r.CacheAlias
	}
	if len(r.OnlyGetKeys) > 0 {
		opts.OnlyGetKeys = r.OnlyGetKeys
		opts.ForgetGetKeys = nil
	}
	if len(r.ForgetGetKeys) > 0 {
		opts.ForgetGetKeys = r.ForgetGetKeys
		opts.OnlyGetKeys = nil
	}
	if r.Remember != nil {
		opts.RememberAllURLs = *r.Remember
	}
	if r.RememberStats != nil {
		opts.RememberStatsAllURLs = *r.RememberStats
	}
	if len(r.Methods) > 0 {
		methods := make([]string, len(r.Methods))
		for i, m := range r.Methods {
			methods[i] = strings.ToUpper(m)
		}
		opts.CacheableMethods = methods
	}
	return opts
}
