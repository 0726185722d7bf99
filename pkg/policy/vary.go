package policy

import (
	"net/http"
	"strings"
)

// VaryHeaders returns the header names listed in Vary, canonicalized and
// deduplicated, in order. "*" is skipped.
func VaryHeaders(h http.Header) []string {
	var out []string
	seen := make(map[string]bool)
	for _, line := range h.Values("Vary") {
		for _, name := range strings.Split(line, ",") {
			name = strings.TrimSpace(name)
			if name == "" || name == "*" {
				continue
			}
			name = http.CanonicalHeaderKey(name)
			if seen[name] {
				continue
			}
			seen[name] = true
			out = append(out, name)
		}
	}
	return out
}

// HasVaryHeader reports whether Vary lists name.
func HasVaryHeader(h http.Header, name string) bool {
	name = http.CanonicalHeaderKey(name)
	for _, v := range VaryHeaders(h) {
		if v == name {
			return true
		}
	}
	return false
}
