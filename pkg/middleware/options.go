package middleware

import (
	"net/http"
	"time"

	"github.com/Sternrassler/page-cache/pkg/cache"
	"github.com/Sternrassler/page-cache/pkg/cachekey"
)

const (
	// DefaultTimeout is used when neither max-age nor a route timeout is set.
	DefaultTimeout = 600 * time.Second

	// NoDefaultTimeout disables the fallback timeout: responses without
	// max-age on routes without Timeout are not stored.
	NoDefaultTimeout time.Duration = -1
)

// Hook transforms a response. Hooks receive their own copy of the response
// and may modify it in place or return a new one.
type Hook func(resp *cache.Response, r *http.Request) *cache.Response

// Options configure one cached route.
type Options struct {
	// Timeout is the route timeout, used when the response has no max-age.
	// Zero means unset.
	Timeout time.Duration

	// DefaultTimeout applies when neither max-age nor Timeout is set.
	// Zero means DefaultTimeout; NoDefaultTimeout turns the fallback off.
	DefaultTimeout time.Duration

	// KeyPrefix is a constant or a per-request function; the function may
	// disable caching for a request
	KeyPrefix cachekey.KeyPrefix

	// CacheAlias selects the backend from the registry
	CacheAlias string

	// OnlyGetKeys and ForgetGetKeys filter the query string; at most one
	// may be set
	OnlyGetKeys   []string
	ForgetGetKeys []string

	// RememberAllURLs records every stored URL in the remembered-URL index
	RememberAllURLs bool

	// RememberStatsAllURLs counts hits and misses per URL
	RememberStatsAllURLs bool

	// PostProcessResponse runs once, just before a response is stored
	PostProcessResponse Hook

	// PostProcessResponseAlways runs on every hit and on every miss that
	// reaches the update phase
	PostProcessResponseAlways Hook

	// CacheableMethods are the request methods whose responses are stored.
	// Empty means GET only.
	CacheableMethods []string

	// UseCAS updates the remembered-URL index with compare-and-swap when the
	// backend supports it
	UseCAS bool

	// CompressIndex stores the remembered-URL index zlib-compressed
	CompressIndex bool
}

// DefaultOptions returns options with the documented defaults.
func DefaultOptions() Options {
	return Options{
		DefaultTimeout:   DefaultTimeout,
		CacheableMethods: []string{http.MethodGet},
		UseCAS:           true,
	}
}

func (o Options) filter() cachekey.QueryFilter {
	return cachekey.QueryFilter{Only: o.OnlyGetKeys, Forget: o.ForgetGetKeys}
}
