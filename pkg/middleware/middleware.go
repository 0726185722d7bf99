// Package middleware caches rendered pages around an http.Handler.
//
// A request passes through two phases. The fetch phase derives the cache key
// and serves a stored response when there is one. On a miss the handler runs
// and the update phase evaluates the cacheability policy, stores the response
// and optionally remembers its URL.
package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/Sternrassler/page-cache/pkg/backend"
	"github.com/Sternrassler/page-cache/pkg/cache"
	"github.com/Sternrassler/page-cache/pkg/cachekey"
	"github.com/Sternrassler/page-cache/pkg/policy"
	"github.com/Sternrassler/page-cache/pkg/remember"
)

const tracerName = "github.com/Sternrassler/page-cache/pkg/middleware"

// Cache status header values.
const (
	HeaderCache = "X-Cache"
	CacheHit    = "HIT"
	CacheMiss   = "MISS"
)

// Span attribute keys.
var (
	AttrURL    = attribute.Key("pagecache.url")
	AttrHit    = attribute.Key("pagecache.hit")
	AttrBypass = attribute.Key("pagecache.bypass")
	AttrStored = attribute.Key("pagecache.stored")
	AttrReason = attribute.Key("pagecache.reason")
)

// FetchResult is the per-request outcome of the fetch phase. It is handed to
// the update phase instead of being stored on the request.
type FetchResult struct {
	// NeedsStore is set on a miss that should go through the update phase
	NeedsStore bool

	// Hit is set when a stored response was returned
	Hit bool

	// Bypass names why the cache was skipped, if it was
	Bypass string

	// Prefix and URL are the resolved key prefix and canonical URL
	Prefix string
	URL    string
}

// Middleware is a page cache for one route configuration.
type Middleware struct {
	opts    Options
	filter  cachekey.QueryFilter
	rules   policy.Rules
	manager *cache.Manager
	index   *remember.Index
	logger  zerolog.Logger
	tracer  trace.Tracer
	now     func() time.Time
}

// New creates a middleware. The backend is looked up in reg by
// opts.CacheAlias. Conflicting query filters are rejected.
func New(opts Options, reg *backend.Registry, logger zerolog.Logger) (*Middleware, error) {
	filter := opts.filter()
	if err := filter.Validate(); err != nil {
		return nil, err
	}
	if reg == nil {
		return nil, fmt.Errorf("backend registry cannot be nil")
	}
	b, err := reg.Lookup(opts.CacheAlias)
	if err != nil {
		return nil, err
	}
	switch {
	case opts.DefaultTimeout == 0:
		opts.DefaultTimeout = DefaultTimeout
	case opts.DefaultTimeout < 0:
		opts.DefaultTimeout = 0
	}

	manager := cache.NewManager(b)
	return &Middleware{
		opts:   opts,
		filter: filter,
		rules: policy.Rules{
			Methods:        opts.CacheableMethods,
			Timeout:        opts.Timeout,
			DefaultTimeout: opts.DefaultTimeout,
		},
		manager: manager,
		index: remember.New(manager, remember.Options{
			UseCAS:   opts.UseCAS,
			Compress: opts.CompressIndex,
			Logger:   logger,
		}),
		logger: logger,
		tracer: otel.Tracer(tracerName),
		now:    time.Now,
	}, nil
}

// Index returns the remembered-URL index of the middleware's backend.
func (m *Middleware) Index() *remember.Index {
	return m.index
}

// Handler wraps next with the fetch and update phases.
func (m *Middleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cached, res := m.FetchFromCache(r)
		if cached != nil {
			cached.Header.Set(HeaderCache, CacheHit)
			if err := cached.Write(w); err != nil {
				m.logger.Debug().Err(err).Str("url", res.URL).Msg("Failed to write cached response")
			}
			return
		}
		if !res.NeedsStore {
			next.ServeHTTP(w, r)
			return
		}

		rec := newRecorder(w)
		next.ServeHTTP(rec, r)
		if rec.streaming {
			NotCacheable.WithLabelValues(policy.ReasonStreaming).Inc()
			return
		}

		resp := m.UpdateCache(r, res, rec.response())
		if resp.Header == nil {
			resp.Header = make(http.Header)
		}
		resp.Header.Set(HeaderCache, CacheMiss)
		if err := resp.Write(w); err != nil {
			m.logger.Debug().Err(err).Str("url", res.URL).Msg("Failed to write response")
		}
	})
}

// FetchFromCache looks r up in the cache. It returns the cached response on a
// hit, and nil otherwise.
func (m *Middleware) FetchFromCache(r *http.Request) (*cache.Response, FetchResult) {
	ctx, span := m.tracer.Start(r.Context(), "pagecache.fetch",
		trace.WithSpanKind(trace.SpanKindInternal))
	defer span.End()

	resp, res := m.fetch(ctx, r)
	span.SetAttributes(AttrURL.String(res.URL), AttrHit.Bool(res.Hit))
	if res.Bypass != "" {
		span.SetAttributes(AttrBypass.String(res.Bypass))
	}

	if m.opts.RememberStatsAllURLs {
		m.recordStats(ctx, res)
	}
	return resp, res
}

func (m *Middleware) fetch(ctx context.Context, r *http.Request) (*cache.Response, FetchResult) {
	res := FetchResult{URL: cachekey.CanonicalURL(r, m.filter)}
	log := m.logger.With().Str("method", r.Method).Str("url", res.URL).Logger()

	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		res.Bypass = bypassMethod
		Bypass.WithLabelValues(bypassMethod).Inc()
		return nil, res
	}

	prefix, ok := m.opts.KeyPrefix.Resolve(r)
	if !ok {
		res.Bypass = bypassPrefix
		Bypass.WithLabelValues(bypassPrefix).Inc()
		log.Debug().Msg("Key prefix disabled caching")
		return nil, res
	}
	res.Prefix = prefix
	res.NeedsStore = true

	varyHeaders, err := m.learnedHeaders(ctx, prefix, res.URL)
	if err != nil {
		if errors.Is(err, cache.ErrCacheMiss) {
			Misses.WithLabelValues(missUnlearned).Inc()
			log.Debug().Msg("Cache miss, no learned headers")
		} else {
			Misses.WithLabelValues(missBackendError).Inc()
			log.Warn().Err(err).Msg("Failed to read learned headers")
		}
		return nil, res
	}

	methods := []string{http.MethodGet}
	if r.Method == http.MethodHead {
		methods = append(methods, http.MethodHead)
	}

	varyValues := cachekey.VaryValues(r, varyHeaders)
	backendFailed := false
	for _, method := range methods {
		key := cachekey.Key{Method: method, Prefix: prefix, URL: res.URL, VaryValues: varyValues}.String()
		entry, err := m.manager.Get(ctx, key)
		if err != nil {
			if !errors.Is(err, cache.ErrCacheMiss) {
				backendFailed = true
				log.Warn().Err(err).Str("key", key).Msg("Cache read failed, treating as miss")
			}
			continue
		}

		res.NeedsStore = false
		res.Hit = true
		Hits.WithLabelValues(r.Method).Inc()
		log.Debug().Str("key", key).Msg("Cache hit")

		resp := cache.EntryToResponse(entry)
		if m.opts.PostProcessResponseAlways != nil {
			resp = m.opts.PostProcessResponseAlways(resp, r)
		}
		return resp, res
	}

	if backendFailed {
		Misses.WithLabelValues(missBackendError).Inc()
	} else {
		Misses.WithLabelValues(missNotFound).Inc()
	}
	log.Debug().Msg("Cache miss")
	return nil, res
}

func (m *Middleware) learnedHeaders(ctx context.Context, prefix, url string) ([]string, error) {
	raw, err := m.manager.GetRaw(ctx, cachekey.HeaderListKey(prefix, url))
	if err != nil {
		return nil, err
	}
	var headers []string
	if err := json.Unmarshal(raw, &headers); err != nil {
		return nil, fmt.Errorf("%w: %v", cache.ErrInvalidEntry, err)
	}
	return headers, nil
}

func (m *Middleware) recordStats(ctx context.Context, res FetchResult) {
	var err error
	if res.Hit {
		err = m.index.RecordHit(ctx, res.URL)
	} else {
		err = m.index.RecordMiss(ctx, res.URL)
	}
	if err != nil {
		m.logger.Warn().Err(err).Str("url", res.URL).Msg("Failed to record cache stats")
	}
}

// UpdateCache runs the update phase for a response produced after a miss.
// It returns the response to send, which may have been changed by hooks.
// Nothing happens unless res asks for a store.
func (m *Middleware) UpdateCache(r *http.Request, res FetchResult, resp *cache.Response) *cache.Response {
	if !res.NeedsStore {
		return resp
	}

	ctx, span := m.tracer.Start(r.Context(), "pagecache.update",
		trace.WithSpanKind(trace.SpanKindInternal))
	defer span.End()
	span.SetAttributes(AttrURL.String(res.URL))

	now := m.now()
	d := policy.Apply(r, resp, m.rules, now)
	if !d.Cacheable {
		NotCacheable.WithLabelValues(d.Reason).Inc()
		span.SetAttributes(AttrStored.Bool(false), AttrReason.String(d.Reason))
		m.logger.Debug().Str("url", res.URL).Str("reason", d.Reason).Msg("Response not cacheable")
		return m.always(resp, r)
	}

	stored := false
	if policy.ShouldStore(resp, d) {
		if m.opts.PostProcessResponse != nil {
			resp = m.opts.PostProcessResponse(resp, r)
		}
		stored = m.store(context.WithoutCancel(ctx), r, resp, d.Timeout, now)
	}
	span.SetAttributes(AttrStored.Bool(stored))

	return m.always(resp, r)
}

func (m *Middleware) always(resp *cache.Response, r *http.Request) *cache.Response {
	if m.opts.PostProcessResponseAlways == nil {
		return resp
	}
	return m.opts.PostProcessResponseAlways(resp, r)
}

// store learns the response's Vary headers, re-derives the key and writes
// the entry. ctx is detached from the request so a client that goes away
// does not abort the write.
func (m *Middleware) store(ctx context.Context, r *http.Request, resp *cache.Response, timeout time.Duration, now time.Time) bool {
	varyHeaders := policy.VaryHeaders(resp.Header)
	if varyHeaders == nil {
		varyHeaders = []string{}
	}
	key, ok := cachekey.Derive(r, cachekey.Inputs{
		Prefix:      m.opts.KeyPrefix,
		Filter:      m.filter,
		VaryHeaders: varyHeaders,
	})
	if !ok {
		return false
	}
	log := m.logger.With().Str("url", key.URL).Logger()

	headerList, err := json.Marshal(varyHeaders)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to encode learned headers")
		return false
	}
	if err := m.manager.SetRaw(ctx, cachekey.HeaderListKey(key.Prefix, key.URL), headerList, timeout); err != nil {
		log.Warn().Err(err).Msg("Failed to store learned headers")
		return false
	}

	cacheKey := key.String()
	if err := m.manager.Set(ctx, cacheKey, cache.ResponseToEntry(resp, timeout, now)); err != nil {
		log.Warn().Err(err).Str("key", cacheKey).Msg("Failed to store response")
		return false
	}
	Stores.Inc()
	log.Debug().Str("key", cacheKey).Dur("ttl", timeout).Msg("Stored response")

	if m.opts.RememberAllURLs {
		if err := m.index.Remember(ctx, key.URL, cacheKey, timeout); err != nil {
			log.Warn().Err(err).Msg("Failed to remember URL")
		}
	}
	return true
}

// CachePage wraps a handler function with a page cache built from opts.
func CachePage(opts Options, reg *backend.Registry, logger zerolog.Logger, h http.HandlerFunc) (http.Handler, error) {
	m, err := New(opts, reg, logger)
	if err != nil {
		return nil, err
	}
	return m.Handler(h), nil
}
