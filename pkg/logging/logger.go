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
)

// Config holds logger configuration.
type Config struct {
	// Level is the minimum log level to output.
	Level LogLevel

	// Pretty enables human-readable console output (default: false for JSON).
	Pretty bool

	// Output is the writer to output logs to (default: os.Stderr).
	Output io.Writer
}

// DefaultConfig returns a default logger configuration.
func DefaultConfig() Config {
	return Config{
		Level:  LevelInfo,
		Pretty: false,
		Output: os.Stderr,
	}
}

// Setup configures the global zerolog logger and returns it. A nil Output
// writes to stderr, which keeps stdout free for fetched pages.
func Setup(cfg Config) zerolog.Logger {
	zerolog.SetGlobalLevel(parseLevel(cfg.Level))

	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}
	if cfg.Pretty {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.TimeOnly}
	}

	log.Logger = zerolog.New(out).With().Timestamp().Logger()
	return log.Logger
}

// parseLevel maps a LogLevel to zerolog, falling back to info for unknown
// values. "warning" is accepted as an alias of warn.
func parseLevel(level LogLevel) zerolog.Level {
	name := strings.ToLower(strings.TrimSpace(string(level)))
	if name == "warning" {
		name = string(LevelWarn)
	}
	switch l, err := zerolog.ParseLevel(name); {
	case err != nil, name == "", l < zerolog.DebugLevel, l > zerolog.ErrorLevel:
		return zerolog.InfoLevel
	default:
		return l
	}
}

// NewLogger creates a new logger with the given component name.
func NewLogger(component string) zerolog.Logger {
	return log.With().Str("component", component).Logger()
}

// ForVendor derives a component logger tagged with the vendor name.
func ForVendor(component, vendor string) zerolog.Logger {
	return NewLogger(component).With().Str("vendor", vendor).Logger()
}

// FromEnv builds a Config from LOG_LEVEL and LOG_PRETTY.
func FromEnv() Config {
	cfg := DefaultConfig()
	if level := os.Getenv("LOG_LEVEL"); level != "" {
		cfg.Level = LogLevel(level)
	}
	switch strings.ToLower(os.Getenv("LOG_PRETTY")) {
	case "1", "true", "yes":
		cfg.Pretty = true
	}
	return cfg
}

// Log Level Guidelines:
//
// Debug: Detailed information for debugging
//   - Each attempt and its status
//   - Queued report polls and their delay
//   - Cache hits and quota state updates
//   - Sub-batch dispatch
//
// Info: Normal operation events
//   - Batch start and completion with outcome counts
//   - Metrics server startup/shutdown
//
// Warn: Warning conditions that don't prevent operation
//   - Transient failures being retried
//   - Pages ending fatal or exhausted
//   - Quota throttling
//   - Cache and limiter errors (fetch continues)
//
// Error: Error conditions requiring attention
//   - Critical quota blocks
//   - Configuration errors
//
// Context Fields:
//   - component: emitting package (fetcher, batch-fetcher, cli)
//   - vendor: loader name (redmine, metrika, callibri, direct)
//   - page: page ID within the batch
//   - status: HTTP status code
//   - attempt: attempt number for the page
//   - delay: sleep before the next attempt
//   - error_class: client, server, rate_limit, network, timeout, processing
//   - sub_batch: sub-batch index
//   - outcome: success, retries_exhausted, fatal
//   - duration: elapsed time
