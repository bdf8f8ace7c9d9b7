// Package logging provides structured logging configuration using zerolog.
package logging

import (
	"fmt"
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
	Level LogLevel `yaml:"level"`

	// Pretty enables human-readable console output (default: false for JSON).
	Pretty bool `yaml:"pretty"`

	// Output is the writer to output logs to (default: os.Stderr).
	Output io.Writer `yaml:"-"`
}

// DefaultConfig returns a default logger configuration.
func DefaultConfig() Config {
	return Config{
		Level:  LevelInfo,
		Pretty: false,
		Output: os.Stderr,
	}
}

// Validate reports an unknown level. An empty level means info.
func (c Config) Validate() error {
	if c.Level == "" {
		return nil
	}
	if _, ok := lookupLevel(c.Level); !ok {
		return fmt.Errorf("unknown log level %q", c.Level)
	}
	return nil
}

// Setup configures the global zerolog logger.
func Setup(cfg Config) zerolog.Logger {
	zerolog.SetGlobalLevel(parseLevel(cfg.Level))

	output := cfg.Output
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

// parseLevel converts LogLevel to zerolog.Level, defaulting to info.
func parseLevel(level LogLevel) zerolog.Level {
	if l, ok := lookupLevel(level); ok {
		return l
	}
	return zerolog.InfoLevel
}

func lookupLevel(level LogLevel) (zerolog.Level, bool) {
	switch strings.ToLower(string(level)) {
	case "debug":
		return zerolog.DebugLevel, true
	case "info":
		return zerolog.InfoLevel, true
	case "warn", "warning":
		return zerolog.WarnLevel, true
	case "error":
		return zerolog.ErrorLevel, true
	default:
		return zerolog.NoLevel, false
	}
}

// NewLogger creates a new logger with the given component name.
func NewLogger(component string) zerolog.Logger {
	return log.With().Str("component", component).Logger()
}

// Log Level Guidelines:
//
// Debug: Detailed information for debugging
//   - Cache hit/miss per key, results dropped after an invalidation
//   - Batch plans and chunk boundaries
//   - Each remote request with status and duration
//
// Info: Normal operation events
//   - Operations that succeeded after retrying
//   - Chunked processing start/finish
//   - Rate limiter pauses requested by the remote
//   - Server startup/shutdown
//
// Warn: Warning conditions that don't prevent operation
//   - Retry attempts cancelled during backoff
//   - Cache backend errors (treated as misses)
//   - Circuit breaker state changes
//   - Network failures of a single attempt
//
// Error: Error conditions requiring attention
//   - Retry attempts exhausted
//   - Configuration errors
//
// Context Fields:
//   - component: emitting component
//   - spreadsheet: spreadsheet identifier
//   - range: A1 range
//   - key: cache key
//   - error_class: retry classification (timeout, rate_limit, server, ...)
//   - attempt / backoff: retry progress
//   - request_id: X-Request-ID sent to the remote
//   - duration: elapsed time
