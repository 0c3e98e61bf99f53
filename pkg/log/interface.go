// Package log provides a structured logging interface for regselect pipeline runs.
//
// The interface is deliberately minimal and slog-compatible so that components
// can be handed a slog-backed logger, a zerolog-backed logger for the CLI, a
// TestLogger in tests, or Nop() when logging is not wanted. Absence of a logger
// never changes pipeline behavior.
//
// Example usage:
//
//	logger := log.NewZerologLogger(os.Stderr, log.LevelInfo, true).With(
//	    log.ComponentKey, "model_selector",
//	)
//	logger.Info("candidate scored",
//	    log.ModelNameKey, "Random Forest",
//	    log.R2ScoreKey, 0.84,
//	)

package log

import (
	"context"
)

// Logger defines a structured logging interface compatible with Go's log/slog.
type Logger interface {
	// Debug logs a debug-level message with optional key-value pairs.
	Debug(msg string, fields ...any)

	// Info logs an info-level message with optional key-value pairs.
	Info(msg string, fields ...any)

	// Warn logs a warning-level message with optional key-value pairs.
	Warn(msg string, fields ...any)

	// Error logs an error-level message. If the first field is an error it is
	// attached under ErrAttrKey, together with its stack trace when available.
	//
	// Example:
	//   logger.Error("Model selection failed",
	//       err,
	//       log.OperationKey, log.OperationSelect,
	//   )
	Error(msg string, fields ...any)

	// With returns a new Logger with the given fields pre-populated.
	With(fields ...any) Logger

	// Enabled reports whether the logger emits log records at the given level.
	Enabled(ctx context.Context, level Level) bool
}

// Level represents a logging level, compatible with slog.Level.
type Level int

// Standard logging levels, values are compatible with slog.Level.
const (
	LevelDebug Level = -4
	LevelInfo  Level = 0
	LevelWarn  Level = 4
	LevelError Level = 8
)

// String returns the string representation of the log level.
func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}
