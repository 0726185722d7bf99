// Package remember keeps a secondary index of cached URLs so that pages can
// be listed, inspected and purged by URL pattern.
//
// The index is a single backend value mapping canonical URL to the cache key
// and expiry of its stored page. Writers update it with compare-and-swap when
// the backend supports it; otherwise concurrent inserts may overwrite each
// other (last write wins).
package remember

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"iter"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/Sternrassler/page-cache/pkg/backend"
	"github.com/Sternrassler/page-cache/pkg/cache"
)

const (
	// IndexKey is the backend key holding the encoded index.
	IndexKey = "pagecache:remembered-urls"

	// LongTime is the TTL of the index and of the hit/miss counters.
	LongTime = 30 * 24 * time.Hour

	// MaxCASAttempts bounds the compare-and-swap retry loop.
	MaxCASAttempts = 100
)

// Stats are the hit and miss counts of one URL.
type Stats struct {
	Hits   int64 `json:"hits"`
	Misses int64 `json:"misses"`
}

// Match is one URL yielded by FindMatching or FindAndPurge.
type Match struct {
	URL      string `json:"url"`
	CacheKey string `json:"cache_key"`

	// Stats is nil when neither counter exists
	Stats *Stats `json:"stats"`
}

// Options configure an Index.
type Options struct {
	// UseCAS enables the compare-and-swap update loop on capable backends
	UseCAS bool

	// Compress stores the index zlib-compressed
	Compress bool

	// Now overrides the clock (tests)
	Now func() time.Time

	Logger zerolog.Logger
}

// Index is the remembered-URL index.
type Index struct {
	m        *cache.Manager
	cas      backend.CASBackend
	compress bool
	now      func() time.Time
	logger   zerolog.Logger
}

// New creates an index over m.
func New(m *cache.Manager, opts Options) *Index {
	if m == nil {
		panic("cache manager cannot be nil")
	}
	ix := &Index{
		m:        m,
		compress: opts.Compress,
		now:      opts.Now,
		logger:   opts.Logger,
	}
	if ix.now == nil {
		ix.now = time.Now
	}
	if opts.UseCAS {
		ix.cas, _ = m.CAS()
	}
	return ix
}

// UsesCAS reports whether updates go through compare-and-swap.
func (ix *Index) UsesCAS() bool {
	return ix.cas != nil
}

// HitsKey returns the backend key of the hit counter for url.
func HitsKey(url string) string {
	return counterKey(url, "__hits")
}

// MissesKey returns the backend key of the miss counter for url.
func MissesKey(url string) string {
	return counterKey(url, "__misses")
}

func counterKey(url, suffix string) string {
	sum := md5.Sum([]byte(url + suffix))
	return hex.EncodeToString(sum[:])
}

// Load reads and decodes the current index. A missing or unreadable index is
// returned as empty.
func (ix *Index) Load(ctx context.Context) (Snapshot, error) {
	data, err := ix.m.GetRaw(ctx, IndexKey)
	if err != nil {
		if errors.Is(err, cache.ErrCacheMiss) {
			return Snapshot{}, nil
		}
		return nil, err
	}
	return ix.decode(data), nil
}

func (ix *Index) decode(data []byte) Snapshot {
	s, err := decodeSnapshot(data)
	if err != nil {
		ix.logger.Warn().Err(err).Msg("Discarding malformed remembered-URL index")
		return Snapshot{}
	}
	return s
}

// Remember records that url is cached under cacheKey for ttl from now.
// Re-remembering the same key never moves its expiry backwards.
func (ix *Index) Remember(ctx context.Context, url, cacheKey string, ttl time.Duration) error {
	expiresAt := ix.now().Add(ttl).Unix()
	return ix.update(ctx, func(s Snapshot) {
		if prev, ok := s[url]; ok && prev.CacheKey == cacheKey && prev.ExpiresAt > expiresAt {
			expiresAt = prev.ExpiresAt
		}
		s[url] = Entry{CacheKey: cacheKey, ExpiresAt: expiresAt}
	})
}

// update applies mutate to the stored index, pruning expired entries.
func (ix *Index) update(ctx context.Context, mutate func(Snapshot)) error {
	if ix.cas != nil {
		done, err := ix.updateCAS(ctx, mutate)
		if err != nil || done {
			return err
		}
		CASExhausted.Inc()
		ix.logger.Error().
			Int("attempts", MaxCASAttempts).
			Msg("Failed to update remembered-URL index with CAS, falling back to plain set")
	}
	return ix.updatePlain(ctx, mutate)
}

func (ix *Index) next(current Snapshot, mutate func(Snapshot)) ([]byte, int, error) {
	mutate(current)
	current.Prune(ix.now())
	data, err := encodeSnapshot(current, ix.compress)
	return data, len(current), err
}

// updateCAS reports false when every attempt lost to a concurrent writer.
func (ix *Index) updateCAS(ctx context.Context, mutate func(Snapshot)) (bool, error) {
	for attempt := 0; attempt < MaxCASAttempts; attempt++ {
		raw, token, err := ix.cas.Gets(ctx, IndexKey)
		if err != nil && !errors.Is(err, backend.ErrNotFound) {
			cache.BackendErrors.WithLabelValues("cas").Inc()
			return false, fmt.Errorf("read index: %w", err)
		}
		missing := err != nil

		current := Snapshot{}
		if !missing {
			current = ix.decode(raw)
		}
		data, size, err := ix.next(current, mutate)
		if err != nil {
			return false, err
		}

		var stored bool
		if missing {
			stored, err = ix.cas.Add(ctx, IndexKey, data, LongTime)
		} else {
			stored, err = ix.cas.CompareAndSwap(ctx, IndexKey, data, token, LongTime)
		}
		if err != nil {
			cache.BackendErrors.WithLabelValues("cas").Inc()
			return false, fmt.Errorf("write index: %w", err)
		}
		if stored {
			RememberedURLs.Set(float64(size))
			return true, nil
		}
		CASRetries.Inc()
		ix.logger.Debug().Int("attempt", attempt+1).Msg("Remembered-URL index changed concurrently, retrying")
	}
	return false, nil
}

func (ix *Index) updatePlain(ctx context.Context, mutate func(Snapshot)) error {
	current, err := ix.Load(ctx)
	if err != nil {
		return fmt.Errorf("read index: %w", err)
	}
	data, size, err := ix.next(current, mutate)
	if err != nil {
		return err
	}
	if err := ix.m.SetRaw(ctx, IndexKey, data, LongTime); err != nil {
		return fmt.Errorf("write index: %w", err)
	}
	RememberedURLs.Set(float64(size))
	return nil
}

// FindMatching yields remembered URLs matching any of patterns, in sorted
// order. '*' matches any substring; no patterns match everything. Expired
// entries and entries whose page has vanished from the cache are skipped and
// removed from the index once iteration ends.
func (ix *Index) FindMatching(ctx context.Context, patterns []string) iter.Seq[Match] {
	return ix.find(ctx, patterns, false)
}

// FindAndPurge is FindMatching that also deletes each yielded page, its
// counters and its index entry.
func (ix *Index) FindAndPurge(ctx context.Context, patterns []string) iter.Seq[Match] {
	return ix.find(ctx, patterns, true)
}

func (ix *Index) find(ctx context.Context, patterns []string, purge bool) iter.Seq[Match] {
	return func(yield func(Match) bool) {
		snap, err := ix.Load(ctx)
		if err != nil {
			ix.logger.Warn().Err(err).Msg("Failed to load remembered-URL index")
			return
		}

		now := ix.now()
		stale := false
		for _, e := range snap {
			if e.Expired(now) {
				stale = true
				break
			}
		}

		var drop []string
		defer func() {
			switch {
			case len(drop) > 0:
				if err := ix.forget(ctx, drop); err != nil {
					ix.logger.Warn().Err(err).Int("urls", len(drop)).Msg("Failed to drop URLs from index")
				}
			case stale:
				// rewriting the index prunes expired entries
				if err := ix.update(ctx, func(Snapshot) {}); err != nil {
					ix.logger.Warn().Err(err).Msg("Failed to prune remembered-URL index")
				}
			}
		}()

		m := compilePatterns(patterns)
		for _, url := range snap.URLs() {
			if !m.match(url) {
				continue
			}
			e := snap[url]
			if e.Expired(now) {
				continue
			}

			ok, err := ix.m.Exists(ctx, e.CacheKey)
			if err != nil {
				ix.logger.Warn().Err(err).Str("url", url).Msg("Failed to check cached page")
				continue
			}
			if !ok {
				drop = append(drop, url)
				continue
			}

			if purge {
				if err := ix.m.Delete(ctx, e.CacheKey); err != nil {
					ix.logger.Warn().Err(err).Str("url", url).Msg("Failed to purge cached page")
					continue
				}
				drop = append(drop, url)
			}

			if !yield(Match{URL: url, CacheKey: e.CacheKey, Stats: ix.Stats(ctx, url)}) {
				return
			}
		}
	}
}

// Purge deletes the cached pages, counters and index entries of the given
// exact URLs. Unknown URLs are ignored.
func (ix *Index) Purge(ctx context.Context, urls []string) error {
	snap, err := ix.Load(ctx)
	if err != nil {
		return err
	}
	var errs []error
	for _, url := range urls {
		if e, ok := snap[url]; ok {
			if err := ix.m.Delete(ctx, e.CacheKey); err != nil {
				errs = append(errs, err)
			}
		}
	}
	if err := ix.forget(ctx, urls); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// forget removes urls from the index and deletes their counters.
func (ix *Index) forget(ctx context.Context, urls []string) error {
	err := ix.update(ctx, func(s Snapshot) {
		for _, url := range urls {
			delete(s, url)
		}
	})
	for _, url := range urls {
		_ = ix.m.Delete(ctx, HitsKey(url))
		_ = ix.m.Delete(ctx, MissesKey(url))
	}
	return err
}

// Stats returns the hit and miss counts of url, or nil if neither exists.
func (ix *Index) Stats(ctx context.Context, url string) *Stats {
	hits, okHits := ix.counter(ctx, HitsKey(url))
	misses, okMisses := ix.counter(ctx, MissesKey(url))
	if !okHits && !okMisses {
		return nil
	}
	return &Stats{Hits: hits, Misses: misses}
}

func (ix *Index) counter(ctx context.Context, key string) (int64, bool) {
	raw, err := ix.m.GetRaw(ctx, key)
	if err != nil {
		return 0, false
	}
	n, err := strconv.ParseInt(strings.TrimSpace(string(raw)), 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

// RecordHit increments the hit counter of url.
func (ix *Index) RecordHit(ctx context.Context, url string) error {
	_, err := ix.m.Incr(ctx, HitsKey(url), LongTime)
	return err
}

// RecordMiss increments the miss counter of url.
func (ix *Index) RecordMiss(ctx context.Context, url string) error {
	_, err := ix.m.Incr(ctx, MissesKey(url), LongTime)
	return err
}
