package logging

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

// entries decodes the JSON lines written to buf.
func entries(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var out []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var e map[string]any
		if err := json.Unmarshal([]byte(line), &e); err != nil {
			t.Fatalf("Failed to decode log line %q: %v", line, err)
		}
		out = append(out, e)
	}
	return out
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Level != LevelInfo || cfg.Pretty || cfg.Service != "" {
		t.Errorf("Unexpected default config %+v", cfg)
	}
}

func TestSetup_Levels(t *testing.T) {
	tests := []struct {
		level LogLevel
		want  []string // messages that pass the filter
	}{
		{LevelDebug, []string{"debug", "info", "warn", "error"}},
		{LevelInfo, []string{"info", "warn", "error"}},
		{LevelWarn, []string{"warn", "error"}},
		{LevelError, []string{"error"}},
		{LevelDisabled, nil},
	}

	for _, tt := range tests {
		t.Run(string(tt.level), func(t *testing.T) {
			buf := &bytes.Buffer{}
			logger := Setup(Config{Level: tt.level, Output: buf})

			logger.Debug().Msg("debug")
			logger.Info().Msg("info")
			logger.Warn().Msg("warn")
			logger.Error().Msg("error")

			var got []string
			for _, e := range entries(t, buf) {
				got = append(got, e["message"].(string))
			}
			if strings.Join(got, ",") != strings.Join(tt.want, ",") {
				t.Errorf("Level %s logged %v, want %v", tt.level, got, tt.want)
			}
		})
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input    LogLevel
		expected zerolog.Level
	}{
		{LevelDebug, zerolog.DebugLevel},
		{"INFO", zerolog.InfoLevel},
		{"WARNING", zerolog.WarnLevel},
		{LevelError, zerolog.ErrorLevel},
		{"off", zerolog.Disabled},
		{"invalid", zerolog.InfoLevel}, // Should default to Info
	}

	for _, tt := range tests {
		t.Run(string(tt.input), func(t *testing.T) {
			if result := parseLevel(tt.input); result != tt.expected {
				t.Errorf("parseLevel(%q) = %v, want %v", tt.input, result, tt.expected)
			}
		})
	}
}

func TestNewLogger_Fields(t *testing.T) {
	buf := &bytes.Buffer{}
	Setup(Config{Level: LevelInfo, Output: buf, Service: "page-proxy"})

	indexLogger := NewLogger(ComponentIndex)
	indexLogger.Info().Msg("indexed")
	routeLogger := NewRouteLogger("/articles/")
	routeLogger.Info().Str("url", "/articles/?page=2").Msg("stored")

	got := entries(t, buf)
	if len(got) != 2 {
		t.Fatalf("Expected 2 entries, got %d", len(got))
	}
	for _, e := range got {
		if e["service"] != "page-proxy" {
			t.Errorf("Expected service field on %v", e)
		}
	}
	if got[0]["component"] != ComponentIndex {
		t.Errorf("component = %v, want %s", got[0]["component"], ComponentIndex)
	}
	if got[1]["component"] != ComponentMiddleware || got[1]["route"] != "/articles/" {
		t.Errorf("Unexpected route logger fields %v", got[1])
	}
}

func TestSetup_NoService(t *testing.T) {
	buf := &bytes.Buffer{}
	Setup(Config{Level: LevelInfo, Output: buf})
	cliLogger := NewLogger(ComponentCLI)
	cliLogger.Info().Msg("listed")

	if _, ok := entries(t, buf)[0]["service"]; ok {
		t.Error("Expected no service field when Service is empty")
	}
}

func TestSetup_Pretty(t *testing.T) {
	buf := &bytes.Buffer{}
	logger := Setup(Config{Level: LevelInfo, Pretty: true, Output: buf})
	logger.Info().Msg("console message")

	output := buf.String()
	if strings.HasPrefix(output, "{") {
		t.Errorf("Expected console output, got JSON %q", output)
	}
	if !strings.Contains(output, "console message") {
		t.Errorf("Expected output to contain 'console message', got %q", output)
	}
}

func TestSetup_NilOutput(t *testing.T) {
	defer Setup(Config{Level: LevelInfo, Output: &bytes.Buffer{}})

	// Must not panic; falls back to stderr
	Setup(Config{Level: LevelDisabled})
}
