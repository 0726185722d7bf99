package cache

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestResponseToEntry_RoundTrip(t *testing.T) {
	now := time.Now()
	resp := &Response{
		StatusCode: http.StatusOK,
		Header:     http.Header{"X-Test": []string{"1"}},
		Body:       []byte("payload"),
	}

	entry := ResponseToEntry(resp, 10*time.Minute, now)
	if !entry.Expires.Equal(now.Add(10 * time.Minute)) {
		t.Errorf("Expires = %v, want %v", entry.Expires, now.Add(10*time.Minute))
	}
	if !entry.CachedAt.Equal(now) {
		t.Errorf("CachedAt = %v, want %v", entry.CachedAt, now)
	}

	// Mutating the response must not leak into the entry
	resp.Body[0] = 'P'
	resp.Header.Set("X-Test", "2")

	back := EntryToResponse(entry)
	if string(back.Body) != "payload" {
		t.Errorf("Body = %q, want %q", back.Body, "payload")
	}
	if back.Header.Get("X-Test") != "1" {
		t.Errorf("X-Test = %q, want %q", back.Header.Get("X-Test"), "1")
	}
	if back.Streaming {
		t.Error("restored response must not be streaming")
	}
}

func TestEntryToResponse_NilHeaders(t *testing.T) {
	back := EntryToResponse(&Entry{StatusCode: http.StatusOK})
	if back.Header == nil {
		t.Fatal("Header should never be nil")
	}
}

func TestResponse_Write(t *testing.T) {
	resp := &Response{
		StatusCode: http.StatusAccepted,
		Header:     http.Header{"Content-Type": []string{"text/plain"}},
		Body:       []byte("abc"),
	}

	rec := httptest.NewRecorder()
	if err := resp.Write(rec); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if rec.Code != http.StatusAccepted {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusAccepted)
	}
	if rec.Header().Get("Content-Length") != "3" {
		t.Errorf("Content-Length = %q, want 3", rec.Header().Get("Content-Length"))
	}
	if !bytes.Equal(rec.Body.Bytes(), []byte("abc")) {
		t.Errorf("body = %q", rec.Body.String())
	}
}

func TestResponse_Clone(t *testing.T) {
	var nilResp *Response
	if nilResp.Clone() != nil {
		t.Error("Clone of nil should be nil")
	}

	orig := &Response{StatusCode: 200, Header: http.Header{"A": {"1"}}, Body: []byte("x"), Streaming: true}
	c := orig.Clone()
	c.Header.Set("A", "2")
	c.Body[0] = 'y'
	if orig.Header.Get("A") != "1" || string(orig.Body) != "x" {
		t.Error("Clone shares state with the original")
	}
	if !c.Streaming {
		t.Error("Clone dropped the streaming flag")
	}
}
