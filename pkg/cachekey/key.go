// Package cachekey derives deterministic cache keys from HTTP requests.
package cachekey

import (
	"crypto/md5"
	"encoding/hex"
	"net/http"
	"strings"
)

const (
	pageNamespace   = "pagecache.page"
	headerNamespace = "pagecache.headers"
)

// Key identifies one cached page variant.
type Key struct {
	// Method is the request method; GET and HEAD occupy separate slots
	Method string

	// Prefix is the resolved key prefix
	Prefix string

	// URL is the canonical URL (escaped path plus filtered query)
	URL string

	// VaryValues are the request's values for the learned Vary headers,
	// in header-list order
	VaryValues []string
}

// String generates the key string.
// Format: pagecache.page.<METHOD>.<prefix>.<md5(url)>.<md5(vary values)>
//
// Example:
//
//	pagecache.page.GET.v1.5d41402abc4b2a76b9719d911017c592.d41d8cd98f00b204e9800998ecf8427e
func (k Key) String() string {
	h := md5.New()
	for _, v := range k.VaryValues {
		h.Write([]byte(v))
		h.Write([]byte{0})
	}
	return strings.Join([]string{
		pageNamespace,
		strings.ToUpper(k.Method),
		k.Prefix,
		hashString(k.URL),
		hex.EncodeToString(h.Sum(nil)),
	}, ".")
}

// HeaderListKey returns the key under which the learned Vary header names for
// a canonical URL are stored.
func HeaderListKey(prefix, canonicalURL string) string {
	return strings.Join([]string{headerNamespace, prefix, hashString(canonicalURL)}, ".")
}

// Inputs are everything besides the request that a key depends on.
type Inputs struct {
	// Method overrides the request method, for probing another slot
	Method string

	Prefix KeyPrefix
	Filter QueryFilter

	// VaryHeaders are the header names learned from the stored response
	VaryHeaders []string
}

// Derive computes the cache key for r. It reports false when the key prefix
// disables caching for this request.
func Derive(r *http.Request, in Inputs) (Key, bool) {
	prefix, ok := in.Prefix.Resolve(r)
	if !ok {
		return Key{}, false
	}
	method := in.Method
	if method == "" {
		method = r.Method
	}
	return Key{
		Method:     method,
		Prefix:     prefix,
		URL:        CanonicalURL(r, in.Filter),
		VaryValues: VaryValues(r, in.VaryHeaders),
	}, true
}

// VaryValues returns the request's values for the given header names.
// A header that is absent contributes an empty string.
func VaryValues(r *http.Request, names []string) []string {
	if len(names) == 0 {
		return nil
	}
	out := make([]string, len(names))
	for i, name := range names {
		out[i] = strings.Join(r.Header.Values(name), ",")
	}
	return out
}

func hashString(s string) string {
	sum := md5.Sum([]byte(s))
	return hex.EncodeToString(sum[:])
}
