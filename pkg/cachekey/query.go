package cachekey

import (
	"errors"
	"net/http"
	"net/url"
	"slices"
	"strings"
)

// ErrConflictingFilters is returned when both Only and Forget are set.
var ErrConflictingFilters = errors.New("cachekey: only and forget query filters are mutually exclusive")

// QueryFilter selects which query parameters take part in the canonical URL.
// At most one of Only and Forget may be set.
type QueryFilter struct {
	// Only keeps just the listed keys
	Only []string

	// Forget drops the listed keys
	Forget []string
}

// Validate rejects filters with both lists set.
func (f QueryFilter) Validate() error {
	if len(f.Only) > 0 && len(f.Forget) > 0 {
		return ErrConflictingFilters
	}
	return nil
}

// Active reports whether the filter rewrites queries at all.
func (f QueryFilter) Active() bool {
	return len(f.Only) > 0 || len(f.Forget) > 0
}

func (f QueryFilter) keep(key string) bool {
	if len(f.Only) > 0 {
		return slices.Contains(f.Only, key)
	}
	return !slices.Contains(f.Forget, key)
}

type queryParam struct {
	key    string
	values []string
}

// parseOrdered parses a raw query keeping keys in order of first appearance
// and grouping the values of repeated keys. Blank values are kept.
func parseOrdered(raw string) []queryParam {
	var params []queryParam
	index := make(map[string]int)
	for _, pair := range strings.Split(raw, "&") {
		if pair == "" {
			continue
		}
		k, v, _ := strings.Cut(pair, "=")
		k = unescape(k)
		v = unescape(v)
		if i, ok := index[k]; ok {
			params[i].values = append(params[i].values, v)
			continue
		}
		index[k] = len(params)
		params = append(params, queryParam{key: k, values: []string{v}})
	}
	return params
}

func unescape(s string) string {
	if u, err := url.QueryUnescape(s); err == nil {
		return u
	}
	return s
}

// Apply filters a raw query string and re-encodes the result.
// An inactive filter returns raw unchanged.
func (f QueryFilter) Apply(raw string) string {
	if !f.Active() {
		return raw
	}
	var b strings.Builder
	for _, p := range parseOrdered(raw) {
		if !f.keep(p.key) {
			continue
		}
		for _, v := range p.values {
			if b.Len() > 0 {
				b.WriteByte('&')
			}
			b.WriteString(url.QueryEscape(p.key))
			b.WriteByte('=')
			b.WriteString(url.QueryEscape(v))
		}
	}
	return b.String()
}

// CanonicalURL returns the escaped request path plus the filtered query.
// No "?" is appended when the resulting query is empty.
func CanonicalURL(r *http.Request, f QueryFilter) string {
	path := r.URL.EscapedPath()
	qs := f.Apply(r.URL.RawQuery)
	if qs == "" {
		return path
	}
	return path + "?" + qs
}
