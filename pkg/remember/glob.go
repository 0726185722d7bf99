package remember

import (
	"regexp"
	"strings"
)

// globToRegexp turns a pattern where '*' matches any substring into an
// anchored, case-sensitive regular expression.
func globToRegexp(pattern string) *regexp.Regexp {
	parts := strings.Split(pattern, "*")
	for i, p := range parts {
		parts[i] = regexp.QuoteMeta(p)
	}
	return regexp.MustCompile(`(?s)^` + strings.Join(parts, ".*") + `$`)
}

type matcher []*regexp.Regexp

func compilePatterns(patterns []string) matcher {
	m := make(matcher, 0, len(patterns))
	for _, p := range patterns {
		m = append(m, globToRegexp(p))
	}
	return m
}

// match reports whether url matches any pattern. No patterns match all.
func (m matcher) match(url string) bool {
	if len(m) == 0 {
		return true
	}
	for _, re := range m {
		if re.MatchString(url) {
			return true
		}
	}
	return false
}
