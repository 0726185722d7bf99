package policy

import (
	"strconv"
	"strings"
	"time"
)

// Directive is one Cache-Control directive.
type Directive struct {
	Name     string // lower-case
	Value    string
	HasValue bool
}

// CacheControl is a parsed Cache-Control header. Directive order is kept so
// that re-serializing an unmodified header is stable.
type CacheControl []Directive

// ParseCacheControl parses a Cache-Control header value.
// Directive names are case-insensitive; quoted arguments may contain commas.
func ParseCacheControl(header string) CacheControl {
	var cc CacheControl
	for _, part := range splitDirectives(header) {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		name, value, hasValue := strings.Cut(part, "=")
		d := Directive{Name: strings.ToLower(strings.TrimSpace(name))}
		if hasValue {
			d.HasValue = true
			d.Value = unquote(strings.TrimSpace(value))
		}
		cc = append(cc, d)
	}
	return cc
}

// splitDirectives splits on commas outside of quoted strings.
func splitDirectives(s string) []string {
	var (
		parts   []string
		start   int
		quoted  bool
		escaped bool
	)
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case escaped:
			escaped = false
		case quoted && c == '\\':
			escaped = true
		case c == '"':
			quoted = !quoted
		case c == ',' && !quoted:
			parts = append(parts, s[start:i])
			start = i + 1
		}
	}
	return append(parts, s[start:])
}

func unquote(v string) string {
	if len(v) >= 2 && v[0] == '"' && v[len(v)-1] == '"' {
		if u, err := strconv.Unquote(v); err == nil {
			return u
		}
		return v[1 : len(v)-1]
	}
	return v
}

func (cc CacheControl) index(name string) int {
	name = strings.ToLower(name)
	for i, d := range cc {
		if d.Name == name {
			return i
		}
	}
	return -1
}

// Has reports whether the directive is present.
func (cc CacheControl) Has(name string) bool {
	return cc.index(name) >= 0
}

// Get returns the argument of a directive.
func (cc CacheControl) Get(name string) (string, bool) {
	i := cc.index(name)
	if i < 0 {
		return "", false
	}
	return cc[i].Value, true
}

// MaxAge returns the max-age directive. It reports false when the directive
// is missing or not a non-negative integer.
func (cc CacheControl) MaxAge() (time.Duration, bool) {
	v, ok := cc.Get("max-age")
	if !ok {
		return 0, false
	}
	secs, err := strconv.ParseInt(v, 10, 64)
	if err != nil || secs < 0 {
		return 0, false
	}
	return time.Duration(secs) * time.Second, true
}

// Set adds or replaces a directive. An empty value yields a bare directive.
func (cc *CacheControl) Set(name, value string) {
	d := Directive{Name: strings.ToLower(name), Value: value, HasValue: value != ""}
	if i := cc.index(name); i >= 0 {
		(*cc)[i] = d
		return
	}
	*cc = append(*cc, d)
}

// String renders the header value.
func (cc CacheControl) String() string {
	parts := make([]string, 0, len(cc))
	for _, d := range cc {
		if !d.HasValue {
			parts = append(parts, d.Name)
			continue
		}
		v := d.Value
		if strings.ContainsAny(v, ` ,"=`) {
			v = strconv.Quote(v)
		}
		parts = append(parts, d.Name+"="+v)
	}
	return strings.Join(parts, ", ")
}
