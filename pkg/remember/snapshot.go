package remember

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/klauspost/compress/zlib"
)

// Entry is what the index remembers about one URL.
type Entry struct {
	CacheKey  string `json:"cache_key"`
	ExpiresAt int64  `json:"expires_at"` // unix seconds
}

// Expired reports whether the entry's expiry is strictly in the past.
func (e Entry) Expired(now time.Time) bool {
	return e.ExpiresAt < now.Unix()
}

// Snapshot is the decoded index: canonical URL to entry.
type Snapshot map[string]Entry

// Prune removes expired entries and returns how many were removed.
func (s Snapshot) Prune(now time.Time) int {
	n := 0
	for url, e := range s {
		if e.Expired(now) {
			delete(s, url)
			n++
		}
	}
	return n
}

// URLs returns the remembered URLs in sorted order.
func (s Snapshot) URLs() []string {
	urls := make([]string, 0, len(s))
	for url := range s {
		urls = append(urls, url)
	}
	sort.Strings(urls)
	return urls
}

// zlibHeader is the first byte of a default zlib stream. JSON objects start
// with '{', so the two encodings cannot be confused.
const zlibHeader = 0x78

func encodeSnapshot(s Snapshot, compress bool) ([]byte, error) {
	data, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("marshal index: %w", err)
	}
	if !compress {
		return data, nil
	}

	var buf bytes.Buffer
	zw := zlib.NewWriter(&buf)
	if _, err := zw.Write(data); err != nil {
		return nil, fmt.Errorf("compress index: %w", err)
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("compress index: %w", err)
	}
	return buf.Bytes(), nil
}

// decodeSnapshot accepts both compressed and plain encodings.
func decodeSnapshot(data []byte) (Snapshot, error) {
	if len(data) == 0 {
		return Snapshot{}, nil
	}
	if data[0] == zlibHeader {
		zr, err := zlib.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("decompress index: %w", err)
		}
		defer zr.Close()
		if data, err = io.ReadAll(zr); err != nil {
			return nil, fmt.Errorf("decompress index: %w", err)
		}
	}

	s := Snapshot{}
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("unmarshal index: %w", err)
	}
	return s, nil
}
