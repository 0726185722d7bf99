package cachekey

import "net/http"

// KeyPrefix is either a constant or a function of the request.
// The zero value is the empty constant prefix.
type KeyPrefix struct {
	static string
	fn     func(*http.Request) (string, bool)
}

// StaticPrefix returns a constant key prefix.
func StaticPrefix(s string) KeyPrefix {
	return KeyPrefix{static: s}
}

// PrefixFunc returns a key prefix computed per request. When fn reports
// false, caching is disabled for that request: no read, no write.
func PrefixFunc(fn func(*http.Request) (string, bool)) KeyPrefix {
	return KeyPrefix{fn: fn}
}

// Resolve returns the prefix for r, or false when caching is disabled.
func (p KeyPrefix) Resolve(r *http.Request) (string, bool) {
	if p.fn == nil {
		return p.static, true
	}
	return p.fn(r)
}
