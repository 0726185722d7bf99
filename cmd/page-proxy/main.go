package main

import (
	"context"
	"errors"
	"fmt"
	"html"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"

	"github.com/Sternrassler/page-cache/pkg/admin"
	"github.com/Sternrassler/page-cache/pkg/backend"
	"github.com/Sternrassler/page-cache/pkg/cache"
	"github.com/Sternrassler/page-cache/pkg/cachekey"
	"github.com/Sternrassler/page-cache/pkg/config"
	"github.com/Sternrassler/page-cache/pkg/logging"
	"github.com/Sternrassler/page-cache/pkg/metrics"
	"github.com/Sternrassler/page-cache/pkg/middleware"
	"github.com/Sternrassler/page-cache/pkg/remember"
)

func main() {
	settings, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	lc := settings.Logging()
	lc.Service = "page-proxy"
	logging.Setup(lc)
	logger := logging.NewLogger(logging.ComponentServer)

	var routes []config.Route
	if settings.RoutesFile != "" {
		routes, err = config.LoadRoutes(settings.RoutesFile)
		if err != nil {
			logger.Fatal().Err(err).Str("file", settings.RoutesFile).Msg("Failed to load routes")
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	reg, err := config.OpenRegistry(ctx, settings)
	if err != nil {
		logger.Fatal().Err(err).Str("backend", settings.Backend).Msg("Failed to open cache backend")
	}
	defer reg.Close()
	logger.Info().Str("backend", settings.Backend).Msg("Connected to cache backend")

	handler, err := newServer(settings, reg, routes, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to build server")
	}

	srv := &http.Server{
		Addr:              ":" + settings.Port,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warn().Err(err).Msg("Shutdown did not complete")
		}
	}()

	logger.Info().Str("addr", srv.Addr).Int("routes", len(routes)).Msg("Starting page cache demo server")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatal().Err(err).Msg("Server failed")
	}
	logger.Info().Msg("Server stopped")
}

// newServer builds the router: cached demo pages, the admin surface under
// /_cache, /metrics and /health.
func newServer(s config.Settings, reg *backend.Registry, routes []config.Route, logger zerolog.Logger) (http.Handler, error) {
	base := s.MiddlewareOptions()

	r := chi.NewRouter()
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(hlog.NewHandler(logger))
	r.Use(hlog.RemoteAddrHandler("ip"))
	r.Use(hlog.AccessHandler(func(r *http.Request, status, size int, duration time.Duration) {
		hlog.FromRequest(r).Info().
			Str("method", r.Method).
			Stringer("url", r.URL).
			Int("status", status).
			Int("size", size).
			Dur("duration", duration).
			Msg("Request")
	}))

	b, err := reg.Lookup(backend.DefaultAlias)
	if err != nil {
		return nil, err
	}

	r.Get("/health", healthHandler)
	r.Get("/ready", readyHandler(b))
	r.Handle("/metrics", metrics.Handler())
	index := remember.New(cache.NewManager(b), remember.Options{
		UseCAS:   base.UseCAS,
		Compress: base.CompressIndex,
		Logger:   logging.NewLogger(logging.ComponentIndex),
	})
	r.Mount("/_cache", admin.Router(index, logging.NewLogger(logging.ComponentAdmin)))

	if len(routes) == 0 {
		routes = demoRoutes()
	}
	for _, route := range routes {
		opts := route.Apply(base)
		if route.Path == "/account" {
			opts.KeyPrefix = cachekey.PrefixFunc(anonymousOnly)
		}
		m, err := middleware.New(opts, reg, logging.NewRouteLogger(route.Path))
		if err != nil {
			return nil, fmt.Errorf("route %s: %w", route.Path, err)
		}
		r.Handle(route.Path, m.Handler(http.HandlerFunc(pageHandler)))
		if route.Path != "/" && route.Path[len(route.Path)-1] == '/' {
			r.Handle(route.Path+"*", m.Handler(http.HandlerFunc(pageHandler)))
		}
	}
	return r, nil
}

func demoRoutes() []config.Route {
	on := true
	return []config.Route{
		{Path: "/", Timeout: time.Minute},
		{Path: "/articles/", OnlyGetKeys: []string{"page"}, Remember: &on},
		{Path: "/search", ForgetGetKeys: []string{"utm_source", "utm_medium", "utm_campaign"}},
		{Path: "/account", Timeout: 30 * time.Second},
	}
}

// anonymousOnly disables caching for requests that carry credentials.
func anonymousOnly(r *http.Request) (string, bool) {
	if r.Header.Get("Authorization") != "" {
		return "", false
	}
	return "anon", true
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, "OK")
}

// readyHandler reports whether the cache backend answers.
func readyHandler(b backend.Backend) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		if err := b.Ping(ctx); err != nil {
			hlog.FromRequest(r).Warn().Err(err).Msg("Cache backend not ready")
			http.Error(w, "cache backend unavailable", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		fmt.Fprintf(w, "OK")
	}
}

// pageHandler renders a small page that shows when it was rendered.
func pageHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	fmt.Fprintf(w, "<!doctype html><title>%s</title><p>%s rendered at %s</p>",
		html.EscapeString(r.URL.Path),
		html.EscapeString(r.URL.RequestURI()),
		time.Now().UTC().Format(time.RFC3339Nano))
}
