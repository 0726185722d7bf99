// Package policy decides whether a rendered response may be cached and for
// how long.
package policy

import (
	"net/http"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/Sternrassler/page-cache/pkg/cache"
)

// Reasons a response is not cacheable. They double as metric labels.
const (
	ReasonMethod     = "method"
	ReasonStatus     = "status"
	ReasonStreaming  = "streaming"
	ReasonCookie     = "cookie"
	ReasonPrivate    = "private"
	ReasonMaxAgeZero = "max_age_zero"
	ReasonNoTimeout  = "no_timeout"
)

// Rules configure the policy for one route.
type Rules struct {
	// Methods are the cacheable request methods. Empty means GET only.
	Methods []string

	// Timeout is the per-route timeout; zero means unset
	Timeout time.Duration

	// DefaultTimeout applies when neither max-age nor Timeout is set
	DefaultTimeout time.Duration
}

func (r Rules) allows(method string) bool {
	if len(r.Methods) == 0 {
		return method == http.MethodGet
	}
	return slices.ContainsFunc(r.Methods, func(m string) bool {
		return strings.EqualFold(m, method)
	})
}

// Decision is the outcome of Evaluate.
type Decision struct {
	Cacheable bool
	Timeout   time.Duration

	// Reason is set when Cacheable is false
	Reason string
}

func reject(reason string) Decision {
	return Decision{Reason: reason}
}

// Evaluate applies the cacheability rules in order:
//
//  1. method must be cacheable, status 200 or 304, and the response not streamed
//  2. a cookie set on a cookie-less request with Vary: Cookie is never cached
//  3. Cache-Control: private is never cached
//  4. timeout is max-age, else the route timeout, else the default timeout
func Evaluate(r *http.Request, resp *cache.Response, rules Rules) Decision {
	if !rules.allows(r.Method) {
		return reject(ReasonMethod)
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNotModified {
		return reject(ReasonStatus)
	}
	if resp.Streaming {
		return reject(ReasonStreaming)
	}

	if len(r.Cookies()) == 0 &&
		len(resp.Header.Values("Set-Cookie")) > 0 &&
		HasVaryHeader(resp.Header, "Cookie") {
		return reject(ReasonCookie)
	}

	cc := ParseCacheControl(strings.Join(resp.Header.Values("Cache-Control"), ","))
	if cc.Has("private") {
		return reject(ReasonPrivate)
	}

	timeout, ok := cc.MaxAge()
	switch {
	case ok && timeout == 0:
		return reject(ReasonMaxAgeZero)
	case !ok && rules.Timeout > 0:
		timeout = rules.Timeout
	case !ok:
		timeout = rules.DefaultTimeout
	}
	if timeout <= 0 {
		return reject(ReasonNoTimeout)
	}
	return Decision{Cacheable: true, Timeout: timeout}
}

// PatchHeaders sets Expires (if absent) and merges max-age into Cache-Control,
// keeping an existing max-age when it is shorter.
func PatchHeaders(h http.Header, timeout time.Duration, now time.Time) {
	if timeout < 0 {
		timeout = 0
	}
	if h.Get("Expires") == "" {
		h.Set("Expires", now.Add(timeout).UTC().Format(http.TimeFormat))
	}

	cc := ParseCacheControl(strings.Join(h.Values("Cache-Control"), ","))
	if existing, ok := cc.MaxAge(); ok && existing < timeout {
		timeout = existing
	}
	cc.Set("max-age", strconv.FormatInt(int64(timeout/time.Second), 10))
	h.Set("Cache-Control", cc.String())
}

// Apply evaluates the response and, when cacheable, patches its headers.
func Apply(r *http.Request, resp *cache.Response, rules Rules, now time.Time) Decision {
	d := Evaluate(r, resp, rules)
	if d.Cacheable {
		if resp.Header == nil {
			resp.Header = make(http.Header)
		}
		PatchHeaders(resp.Header, d.Timeout, now)
	}
	return d
}

// ShouldStore reports whether a cacheable response carries a body worth
// storing. A 304 has nothing to replay.
func ShouldStore(resp *cache.Response, d Decision) bool {
	return d.Cacheable && resp.StatusCode == http.StatusOK
}
