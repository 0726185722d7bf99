package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestRecorder_Buffers(t *testing.T) {
	w := httptest.NewRecorder()
	rec := newRecorder(w)

	rec.Header().Set("Content-Type", "text/plain")
	rec.WriteHeader(http.StatusAccepted)
	rec.WriteHeader(http.StatusTeapot)
	rec.Write([]byte("hello "))
	rec.Write([]byte("world"))

	if w.Body.Len() != 0 {
		t.Fatalf("underlying writer received %q before the update phase", w.Body.String())
	}

	resp := rec.response()
	if resp.StatusCode != http.StatusAccepted {
		t.Errorf("StatusCode = %d, want %d", resp.StatusCode, http.StatusAccepted)
	}
	if string(resp.Body) != "hello world" {
		t.Errorf("Body = %q", resp.Body)
	}
	if resp.Header.Get("Content-Type") != "text/plain" {
		t.Errorf("Content-Type = %q", resp.Header.Get("Content-Type"))
	}
	if resp.Streaming {
		t.Error("buffered response reported as streaming")
	}
}

func TestRecorder_ImplicitStatus(t *testing.T) {
	rec := newRecorder(httptest.NewRecorder())
	if got := rec.response().StatusCode; got != http.StatusOK {
		t.Errorf("empty response StatusCode = %d, want 200", got)
	}

	rec.Write([]byte("x"))
	if got := rec.response().StatusCode; got != http.StatusOK {
		t.Errorf("StatusCode after Write = %d, want 200", got)
	}
}

func TestRecorder_FlushSwitchesToStreaming(t *testing.T) {
	w := httptest.NewRecorder()
	rec := newRecorder(w)

	rec.Header().Set("X-Chunk", "1")
	rec.Write([]byte("first"))
	rec.Flush()
	rec.Write([]byte("second"))

	if !w.Flushed {
		t.Error("underlying writer was not flushed")
	}
	if w.Body.String() != "firstsecond" {
		t.Errorf("Body = %q, want %q", w.Body.String(), "firstsecond")
	}
	if w.Header().Get("X-Chunk") != "1" {
		t.Error("buffered headers were not copied on flush")
	}
	if !rec.response().Streaming {
		t.Error("flushed response not marked as streaming")
	}
}

func TestRecorder_ResponseController(t *testing.T) {
	w := httptest.NewRecorder()
	rec := newRecorder(w)

	if err := http.NewResponseController(rec).Flush(); err != nil {
		t.Fatalf("Flush via ResponseController: %v", err)
	}
	if !rec.streaming {
		t.Error("recorder not streaming after controller flush")
	}
}
