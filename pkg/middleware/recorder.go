package middleware

import (
	"bytes"
	"net/http"

	"github.com/Sternrassler/page-cache/pkg/cache"
)

// recorder buffers a handler's response so the update phase can inspect it.
// A handler that flushes turns the recorder into a pass-through writer; the
// response is then streaming and never cached.
type recorder struct {
	w           http.ResponseWriter
	header      http.Header
	status      int
	body        bytes.Buffer
	wroteHeader bool
	streaming   bool
}

func newRecorder(w http.ResponseWriter) *recorder {
	return &recorder{w: w, header: make(http.Header)}
}

func (rec *recorder) Header() http.Header {
	if rec.streaming {
		return rec.w.Header()
	}
	return rec.header
}

func (rec *recorder) WriteHeader(code int) {
	if rec.wroteHeader {
		return
	}
	rec.wroteHeader = true
	rec.status = code
	if rec.streaming {
		rec.w.WriteHeader(code)
	}
}

func (rec *recorder) Write(b []byte) (int, error) {
	if !rec.wroteHeader {
		rec.WriteHeader(http.StatusOK)
	}
	if rec.streaming {
		return rec.w.Write(b)
	}
	return rec.body.Write(b)
}

// Flush sends everything buffered so far and switches to pass-through.
func (rec *recorder) Flush() {
	if !rec.streaming {
		rec.streaming = true
		h := rec.w.Header()
		for k, v := range rec.header {
			h[k] = v
		}
		if !rec.wroteHeader {
			rec.wroteHeader = true
			rec.status = http.StatusOK
		}
		rec.w.WriteHeader(rec.status)
		if rec.body.Len() > 0 {
			_, _ = rec.w.Write(rec.body.Bytes())
			rec.body.Reset()
		}
	}
	if f, ok := rec.w.(http.Flusher); ok {
		f.Flush()
	}
}

// Unwrap lets http.ResponseController reach the underlying writer.
func (rec *recorder) Unwrap() http.ResponseWriter {
	return rec.w
}

func (rec *recorder) response() *cache.Response {
	status := rec.status
	if status == 0 {
		status = http.StatusOK
	}
	return &cache.Response{
		StatusCode: status,
		Header:     rec.header,
		Body:       rec.body.Bytes(),
		Streaming:  rec.streaming,
	}
}
