package logging

import (
	"bytes"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Level != LevelInfo {
		t.Errorf("Expected default level to be Info, got %s", cfg.Level)
	}
	if cfg.Pretty {
		t.Error("Expected default pretty to be false")
	}
}

func TestSetup(t *testing.T) {
	tests := []struct {
		level LogLevel
		emit  func(zerolog.Logger, string)
	}{
		{LevelDebug, func(l zerolog.Logger, msg string) { l.Debug().Msg(msg) }},
		{LevelInfo, func(l zerolog.Logger, msg string) { l.Info().Msg(msg) }},
		{LevelWarn, func(l zerolog.Logger, msg string) { l.Warn().Msg(msg) }},
		{LevelError, func(l zerolog.Logger, msg string) { l.Error().Msg(msg) }},
	}

	for _, tt := range tests {
		t.Run(string(tt.level), func(t *testing.T) {
			buf := &bytes.Buffer{}
			logger := Setup(Config{Level: tt.level, Output: buf})

			msg := "page fetched at " + string(tt.level)
			tt.emit(logger, msg)

			if !strings.Contains(buf.String(), msg) {
				t.Errorf("Expected output to contain %q, got %q", msg, buf.String())
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
		{LevelInfo, zerolog.InfoLevel},
		{LevelWarn, zerolog.WarnLevel},
		{"WARNING", zerolog.WarnLevel},
		{LevelError, zerolog.ErrorLevel},
		{"invalid", zerolog.InfoLevel},
	}

	for _, tt := range tests {
		t.Run(string(tt.input), func(t *testing.T) {
			if result := parseLevel(tt.input); result != tt.expected {
				t.Errorf("parseLevel(%q) = %v, want %v", tt.input, result, tt.expected)
			}
		})
	}
}

func TestForVendor(t *testing.T) {
	buf := &bytes.Buffer{}
	Setup(Config{Level: LevelInfo, Output: buf})

	logger := ForVendor("batch-fetcher", "metrika")
	logger.Info().Int("page", 3).Msg("Batch fetch complete")

	output := buf.String()
	for _, want := range []string{`"component":"batch-fetcher"`, `"vendor":"metrika"`, `"page":3`} {
		if !strings.Contains(output, want) {
			t.Errorf("Expected output to contain %s, got %q", want, output)
		}
	}
}

func TestFromEnv(t *testing.T) {
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("LOG_PRETTY", "true")

	cfg := FromEnv()
	if cfg.Level != LevelDebug {
		t.Errorf("Level = %s, want debug", cfg.Level)
	}
	if !cfg.Pretty {
		t.Error("Pretty = false, want true")
	}

	t.Setenv("LOG_LEVEL", "")
	t.Setenv("LOG_PRETTY", "no")
	cfg = FromEnv()
	if cfg.Level != LevelInfo || cfg.Pretty {
		t.Errorf("FromEnv() = %+v, want defaults", cfg)
	}
}

func TestLogLevelFiltering(t *testing.T) {
	buf := &bytes.Buffer{}
	Setup(Config{Level: LevelWarn, Output: buf})

	logger := NewLogger("test")
	logger.Debug().Msg("debug message")
	logger.Info().Msg("info message")
	logger.Warn().Msg("warn message")
	logger.Error().Msg("error message")

	output := buf.String()
	if strings.Contains(output, "debug message") || strings.Contains(output, "info message") {
		t.Error("messages below Warn should be filtered out")
	}
	if !strings.Contains(output, "warn message") || !strings.Contains(output, "error message") {
		t.Error("messages at Warn and above should be included")
	}
}
