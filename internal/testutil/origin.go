// Package testutil provides testing utilities for the page cache.
package testutil

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"time"
)

// OriginResponse defines the behavior for a mock origin page.
type OriginResponse struct {
	StatusCode int
	Body       string
	Headers    map[string]string
	Delay      time.Duration
}

// Origin is a configurable application handler that counts renders.
// It plays the part of the page-rendering logic behind the cache.
type Origin struct {
	mu       sync.RWMutex
	handlers map[string]http.HandlerFunc

	// Tracking
	renders     map[string]int
	total       int
	lastRequest http.Header
}

// NewOrigin creates an origin whose default handler renders a small HTML page
// that includes the render number.
func NewOrigin() *Origin {
	return &Origin{
		handlers: make(map[string]http.HandlerFunc),
		renders:  make(map[string]int),
	}
}

// ServeHTTP implements http.Handler.
func (o *Origin) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	o.mu.Lock()
	o.renders[r.URL.Path]++
	o.total++
	n := o.total
	o.lastRequest = r.Header.Clone()
	handler, exists := o.handlers[r.URL.Path]
	o.mu.Unlock()

	if exists {
		handler(w, r)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, "<p>%s rendered #%d</p>", r.URL.RequestURI(), n)
}

// Server starts an httptest server in front of the origin.
func (o *Origin) Server(wrap func(http.Handler) http.Handler) *httptest.Server {
	var h http.Handler = o
	if wrap != nil {
		h = wrap(h)
	}
	return httptest.NewServer(h)
}

// SetHandler sets a custom handler for a specific path.
func (o *Origin) SetHandler(path string, handler http.HandlerFunc) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.handlers[path] = handler
}

// SetResponse configures a fixed response for a path.
func (o *Origin) SetResponse(path string, resp OriginResponse) {
	o.SetHandler(path, func(w http.ResponseWriter, r *http.Request) {
		if resp.Delay > 0 {
			time.Sleep(resp.Delay)
		}
		for key, value := range resp.Headers {
			w.Header().Set(key, value)
		}
		w.WriteHeader(resp.StatusCode)
		if resp.Body != "" {
			w.Write([]byte(resp.Body))
		}
	})
}

// Renders returns how often path was rendered.
func (o *Origin) Renders(path string) int {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.renders[path]
}

// TotalRenders returns the number of requests the origin handled.
func (o *Origin) TotalRenders() int {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.total
}

// LastRequestHeader returns the headers of the most recent request.
func (o *Origin) LastRequestHeader() http.Header {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.lastRequest
}

// Reset clears all tracking counters.
func (o *Origin) Reset() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.renders = make(map[string]int)
	o.total = 0
	o.lastRequest = nil
}

// NewPageResponse creates a plain cacheable 200 response.
func NewPageResponse(body string) OriginResponse {
	return OriginResponse{
		StatusCode: http.StatusOK,
		Body:       body,
		Headers: map[string]string{
			"Content-Type": "text/html; charset=utf-8",
		},
	}
}

// NewPrivateResponse creates a 200 response marked Cache-Control: private.
func NewPrivateResponse(body string) OriginResponse {
	resp := NewPageResponse(body)
	resp.Headers["Cache-Control"] = "private"
	return resp
}

// NewSessionResponse creates a 200 response that sets a cookie and varies on it.
func NewSessionResponse(body string) OriginResponse {
	resp := NewPageResponse(body)
	resp.Headers["Set-Cookie"] = "sessionid=abc123; Path=/"
	resp.Headers["Vary"] = "Cookie"
	return resp
}

// NewServerErrorResponse creates a 500 Internal Server Error response.
func NewServerErrorResponse() OriginResponse {
	return OriginResponse{
		StatusCode: http.StatusInternalServerError,
		Body:       "internal server error",
		Headers: map[string]string{
			"Content-Type": "text/plain; charset=utf-8",
		},
	}
}

// NewStreamingHandler creates a handler that flushes each chunk.
func NewStreamingHandler(chunks ...string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		flusher, _ := w.(http.Flusher)
		for _, c := range chunks {
			w.Write([]byte(c))
			if flusher != nil {
				flusher.Flush()
			}
		}
	}
}
