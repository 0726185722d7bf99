package cache

import (
	"bytes"
	"fmt"
	"net/http"
	"strconv"
	"time"
)

// Response is the response shape the cache consumes and produces.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte

	// Streaming responses were flushed to the client while being produced
	// and are never cached.
	Streaming bool
}

// Clone returns a deep copy of r.
func (r *Response) Clone() *Response {
	if r == nil {
		return nil
	}
	return &Response{
		StatusCode: r.StatusCode,
		Header:     r.Header.Clone(),
		Body:       bytes.Clone(r.Body),
		Streaming:  r.Streaming,
	}
}

// Write sends r to w. Content-Length is recomputed from the body.
func (r *Response) Write(w http.ResponseWriter) error {
	h := w.Header()
	for k, v := range r.Header {
		h[k] = append([]string(nil), v...)
	}
	h.Set("Content-Length", strconv.Itoa(len(r.Body)))
	status := r.StatusCode
	if status == 0 {
		status = http.StatusOK
	}
	w.WriteHeader(status)
	if _, err := w.Write(r.Body); err != nil {
		return fmt.Errorf("write cached body: %w", err)
	}
	return nil
}

// ResponseToEntry converts a response into an Entry living for ttl from now.
func ResponseToEntry(resp *Response, ttl time.Duration, now time.Time) *Entry {
	return &Entry{
		StatusCode: resp.StatusCode,
		Headers:    resp.Header.Clone(),
		Body:       bytes.Clone(resp.Body),
		CachedAt:   now,
		Expires:    now.Add(ttl),
	}
}

// EntryToResponse rebuilds a Response from a cached Entry.
func EntryToResponse(e *Entry) *Response {
	h := e.Headers.Clone()
	if h == nil {
		h = make(http.Header)
	}
	return &Response{
		StatusCode: e.StatusCode,
		Header:     h,
		Body:       bytes.Clone(e.Body),
	}
}
