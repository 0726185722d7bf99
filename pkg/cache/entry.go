package cache

import (
	"net/http"
	"time"
)

// Entry represents a cached page response.
type Entry struct {
	// StatusCode is the HTTP status code of the cached response
	StatusCode int `json:"status_code"`

	// Headers are the response headers, already patched with the cache timeout
	Headers http.Header `json:"headers"`

	// Body is the response body
	Body []byte `json:"body"`

	// CachedAt is when we cached this response
	CachedAt time.Time `json:"cached_at"`

	// Expires is when the cache entry becomes stale
	Expires time.Time `json:"expires"`
}

// IsExpired returns true if the cache entry has expired.
func (e *Entry) IsExpired() bool {
	return !e.Expires.IsZero() && time.Now().After(e.Expires)
}

// TTL returns the time until expiration.
// Returns 0 if already expired.
func (e *Entry) TTL() time.Duration {
	ttl := time.Until(e.Expires)
	if ttl < 0 {
		return 0
	}
	return ttl
}
