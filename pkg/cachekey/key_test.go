package cachekey

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestQueryFilter_Apply(t *testing.T) {
	tests := []struct {
		name   string
		filter QueryFilter
		raw    string
		want   string
	}{
		{
			name:   "no filter keeps raw query",
			filter: QueryFilter{},
			raw:    "b=2&a=1&a=%7E",
			want:   "b=2&a=1&a=%7E",
		},
		{
			name:   "only keeps listed keys",
			filter: QueryFilter{Only: []string{"page"}},
			raw:    "page=2&other=junk",
			want:   "page=2",
		},
		{
			name:   "forget drops listed keys",
			filter: QueryFilter{Forget: []string{"other"}},
			raw:    "page=2&other=junk",
			want:   "page=2",
		},
		{
			name:   "repeated keys are grouped in first-appearance order",
			filter: QueryFilter{Forget: []string{"x"}},
			raw:    "a=1&b=2&a=3&x=9",
			want:   "a=1&a=3&b=2",
		},
		{
			name:   "blank values are kept",
			filter: QueryFilter{Only: []string{"a", "b"}},
			raw:    "a=&b",
			want:   "a=&b=",
		},
		{
			name:   "values are form encoded",
			filter: QueryFilter{Only: []string{"q"}},
			raw:    "q=hello%20world&q=a%2Bb",
			want:   "q=hello+world&q=a%2Bb",
		},
		{
			name:   "everything filtered out",
			filter: QueryFilter{Only: []string{"missing"}},
			raw:    "a=1",
			want:   "",
		},
		{
			name:   "empty pairs are skipped",
			filter: QueryFilter{Forget: []string{"z"}},
			raw:    "&a=1&&",
			want:   "a=1",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.filter.Apply(tt.raw); got != tt.want {
				t.Errorf("Apply(%q) = %q, want %q", tt.raw, got, tt.want)
			}
		})
	}
}

func TestQueryFilter_Validate(t *testing.T) {
	if err := (QueryFilter{Only: []string{"a"}}).Validate(); err != nil {
		t.Errorf("Validate() only = %v", err)
	}
	if err := (QueryFilter{Forget: []string{"a"}}).Validate(); err != nil {
		t.Errorf("Validate() forget = %v", err)
	}
	err := QueryFilter{Only: []string{"a"}, Forget: []string{"b"}}.Validate()
	if !errors.Is(err, ErrConflictingFilters) {
		t.Errorf("Validate() both = %v, want ErrConflictingFilters", err)
	}
}

func TestCanonicalURL(t *testing.T) {
	tests := []struct {
		name   string
		target string
		filter QueryFilter
		want   string
	}{
		{"path only", "/articles/", QueryFilter{}, "/articles/"},
		{"raw query", "/a?x=1&y=2", QueryFilter{}, "/a?x=1&y=2"},
		{"filtered", "/a?page=2&other=junk", QueryFilter{Only: []string{"page"}}, "/a?page=2"},
		{"filtered to nothing has no question mark", "/a?other=junk", QueryFilter{Forget: []string{"other"}}, "/a"},
		{"escaped path", "/caf%C3%A9/", QueryFilter{}, "/caf%C3%A9/"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, tt.target, nil)
			if got := CanonicalURL(r, tt.filter); got != tt.want {
				t.Errorf("CanonicalURL() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestDerive_Deterministic(t *testing.T) {
	in := Inputs{Prefix: StaticPrefix("v1"), Filter: QueryFilter{Only: []string{"page"}}}

	r1 := httptest.NewRequest(http.MethodGet, "/list?page=2&other=junk", nil)
	r2 := httptest.NewRequest(http.MethodGet, "/list?other=different&page=2", nil)

	k1, ok := Derive(r1, in)
	if !ok {
		t.Fatal("Derive() disabled unexpectedly")
	}
	k2, _ := Derive(r2, in)
	if k1.String() != k2.String() {
		t.Errorf("keys differ: %s vs %s", k1, k2)
	}
	if !strings.HasPrefix(k1.String(), "pagecache.page.GET.v1.") {
		t.Errorf("unexpected key format %s", k1)
	}
}

func TestDerive_MethodSlots(t *testing.T) {
	r := httptest.NewRequest(http.MethodHead, "/x", nil)

	head, _ := Derive(r, Inputs{})
	get, _ := Derive(r, Inputs{Method: http.MethodGet})

	if head.Method != http.MethodHead || get.Method != http.MethodGet {
		t.Fatalf("methods = %s, %s", head.Method, get.Method)
	}
	if head.String() == get.String() {
		t.Error("GET and HEAD must not share a key")
	}
}

func TestDerive_Vary(t *testing.T) {
	in := Inputs{VaryHeaders: []string{"Accept-Language"}}

	en := httptest.NewRequest(http.MethodGet, "/x", nil)
	en.Header.Set("Accept-Language", "en")
	de := httptest.NewRequest(http.MethodGet, "/x", nil)
	de.Header.Set("Accept-Language", "de")

	kEn, _ := Derive(en, in)
	kDe, _ := Derive(de, in)
	if kEn.String() == kDe.String() {
		t.Error("different Vary values must produce different keys")
	}

	// Without learned headers the values do not matter
	kEn2, _ := Derive(en, Inputs{})
	kDe2, _ := Derive(de, Inputs{})
	if kEn2.String() != kDe2.String() {
		t.Error("unlearned headers must not affect the key")
	}
}

func TestDerive_PrefixFunc(t *testing.T) {
	noAuth := PrefixFunc(func(r *http.Request) (string, bool) {
		if r.Header.Get("Authorization") != "" {
			return "", false
		}
		return "anon", true
	})
	anon := httptest.NewRequest(http.MethodGet, "/x", nil)
	key, ok := Derive(anon, Inputs{Prefix: noAuth})
	if !ok {
		t.Fatal("anonymous request should be cacheable")
	}
	if key.Prefix != "anon" {
		t.Errorf("Prefix = %q, want anon", key.Prefix)
	}

	authed := httptest.NewRequest(http.MethodGet, "/x", nil)
	authed.Header.Set("Authorization", "Bearer t")
	if _, ok := Derive(authed, Inputs{Prefix: noAuth}); ok {
		t.Error("prefix func sentinel should disable caching")
	}
}

func TestHeaderListKey(t *testing.T) {
	a := HeaderListKey("p", "/x")
	if a != HeaderListKey("p", "/x") {
		t.Error("HeaderListKey not deterministic")
	}
	if a == HeaderListKey("q", "/x") || a == HeaderListKey("p", "/y") {
		t.Error("HeaderListKey must depend on prefix and URL")
	}
	if !strings.HasPrefix(a, "pagecache.headers.p.") {
		t.Errorf("unexpected header key %s", a)
	}
}
