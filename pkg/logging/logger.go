// Package logging provides structured logging configuration using zerolog.
package logging

import (
	"io"
	"os"
	"strings"

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

// Setup configures the global zerolog logger.
func Setup(cfg Config) zerolog.Logger {
	zerolog.SetGlobalLevel(parseLevel(cfg.Level))

	var output io.Writer = cfg.Output
	if output == nil {
		output = os.Stderr
	}
	if cfg.Pretty {
		output = zerolog.ConsoleWriter{Out: output}
	}

	logger := zerolog.New(output).With().Timestamp().Logger()
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
	default:
		return zerolog.InfoLevel
	}
}

// NewLogger creates a new logger with the given component name.
func NewLogger(component string) zerolog.Logger {
	return log.With().Str("component", component).Logger()
}

// Log Level Guidelines:
//
// Debug: Detailed information for debugging
//   - Per-page fetch flow (page number, totals, retry delays)
//   - Cache operations (hit/miss, key, TTL)
//   - Governor waits (burst gate, token bucket refills)
//
// Info: Normal operation events
//   - Harvest run start/finish with summary counts
//   - Collection fetch milestones (pages done, batches done)
//
// Warn: Degraded conditions that don't stop the run
//   - Rate limit backoff in progress
//   - Retry attempts for server/network errors
//   - Page or item given up after retries (partial result kept)
//   - Cache errors (fallback to direct request)
//
// Error: Conditions requiring attention
//   - Configuration errors (abort the run)
//   - Run cancelled mid-harvest
//
// Context Fields:
//   - endpoint: API endpoint path
//   - page: page number within a paginated walk
//   - status: HTTP status code
//   - error_class: classification (client, server, rate_limit, network)
//   - attempt: retry attempt number
//   - backoff: backoff duration before the next attempt
//   - tokens: tokens remaining in the budget bucket
