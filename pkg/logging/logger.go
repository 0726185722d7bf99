// Package logging provides structured logging configuration using zerolog.
package logging

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// LogLevel represents the logging level.
type LogLevel string

const (
	// LevelDebug logs debug messages and above.
	LevelDebug LogLevel = "debug"

	// LevelInfo logs info messages and above.
	LevelInfo LogLevel = "info"

	// LevelWarn logs warning messages and above.
	LevelWarn LogLevel = "warn"

	// LevelError logs error messages only.
	LevelError LogLevel = "error"

	// LevelDisabled turns logging off.
	LevelDisabled LogLevel = "disabled"
)

// Component names used with NewLogger.
const (
	ComponentMiddleware = "pagecache"
	ComponentIndex      = "remember"
	ComponentAdmin      = "admin"
	ComponentServer     = "server"
	ComponentCLI        = "fancy-urls"
)

// Config holds logger configuration.
type Config struct {
	// Level is the minimum log level to output.
	Level LogLevel

	// Pretty enables human-readable console output (default: false for JSON).
	Pretty bool

	// Output is the writer to output logs to (default: os.Stderr).
	Output io.Writer

	// Service names the process (page-proxy, fancy-urls) and is attached
	// to every entry when set.
	Service string
}

// DefaultConfig returns a default logger configuration.
func DefaultConfig() Config {
	return Config{
		Level:  LevelInfo,
		Pretty: false,
		Output: os.Stderr,
	}
}

// Setup configures the global zerolog logger. Loggers created with NewLogger
// afterwards inherit its output, level and service field.
func Setup(cfg Config) zerolog.Logger {
	zerolog.SetGlobalLevel(parseLevel(cfg.Level))

	output := cfg.Output
	if output == nil {
		output = os.Stderr
	}
	if cfg.Pretty {
		output = zerolog.ConsoleWriter{Out: output, TimeFormat: time.TimeOnly}
	}

	ctx := zerolog.New(output).With().Timestamp()
	if cfg.Service != "" {
		ctx = ctx.Str("service", cfg.Service)
	}
	logger := ctx.Logger()
	log.Logger = logger

	return logger
}

// parseLevel converts LogLevel to zerolog.Level.
func parseLevel(level LogLevel) zerolog.Level {
	switch strings.ToLower(string(level)) {
	case "debug":
		return zerolog.DebugLevel
	case "info":
		return zerolog.InfoLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	case "disabled", "off":
		return zerolog.Disabled
	default:
		return zerolog.InfoLevel
	}
}

// NewLogger creates a new logger with the given component name.
func NewLogger(component string) zerolog.Logger {
	return log.With().Str("component", component).Logger()
}

// NewRouteLogger is the middleware logger for one cached route.
func NewRouteLogger(route string) zerolog.Logger {
	return log.With().Str("component", ComponentMiddleware).Str("route", route).Logger()
}

// Log Level Guidelines:
//
// Debug: Per-request cache decisions
//   - Hit/miss, cache key, TTL
//   - Why a response was not cacheable
//   - Key prefix disabling the cache
//
// Info: Normal operation events
//   - Server startup/shutdown
//   - Backend connected
//   - Admin purges
//
// Warn: Problems that degrade to a cache miss
//   - Backend read/write failures
//   - Malformed index or entry
//   - Failed hit/miss counter updates
//
// Error: Conditions requiring attention
//   - CAS retries exhausted on the remembered-URL index
//   - Configuration errors
//
// Context Fields:
//   - service: Process name, set by Setup
//   - component: Emitting package
//   - route: Cached route pattern (middleware only)
//   - method: Request method
//   - url: Canonical (filtered) request URL
//   - key: Backend cache key
//   - ttl: Cache entry TTL
//   - reason: Why a response was not cached
