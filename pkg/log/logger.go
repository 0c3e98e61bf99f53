package log

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"

	scierrors "github.com/YuminosukeSato/regselect/pkg/errors"
)

const (
	ErrAttrKey        = "error"
	StacktraceAttrKey = "stacktrace"
)

// ErrAttr is a wrapper to pass err to slog.
func ErrAttr(err error) slog.Attr {
	return slog.Any(ErrAttrKey, err)
}

// ParseLevel converts a textual level ("debug", "info", "warn", "error") into a Level.
func ParseLevel(level string) (Level, error) {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return LevelDebug, nil
	case "", "info":
		return LevelInfo, nil
	case "warn", "warning":
		return LevelWarn, nil
	case "error":
		return LevelError, nil
	default:
		return LevelInfo, fmt.Errorf("invalid log level: %s", level)
	}
}

// Output formats accepted by New.
const (
	FormatConsole = "console"
	FormatJSON    = "json"
	FormatSlog    = "slog"
)

// New builds the logger for the given output format. "console" and "json" use
// zerolog and also receive pkg/errors warnings; "slog" writes JSON through
// log/slog with stack trace extraction.
func New(format string, level Level, w io.Writer) (Logger, error) {
	if w == nil {
		w = os.Stderr
	}
	switch format {
	case FormatConsole, "", FormatJSON:
		zl := NewZerologLogger(w, level, format != FormatJSON).(*zerologLogger)
		RouteWarnings(zl.z)
		return zl, nil
	case FormatSlog:
		handler := slog.NewJSONHandler(w, &slog.HandlerOptions{Level: slog.Level(level)})
		return NewSlogLogger(WrapByErrFmtHandler(handler)), nil
	default:
		return nil, fmt.Errorf("invalid log format: %s", format)
	}
}

// ===========================================================================
// slog backend
// ===========================================================================

type slogLogger struct {
	l *slog.Logger
}

// NewSlogLogger returns a Logger backed by log/slog. The handler is wrapped with
// ErrFmtHandler.
func NewSlogLogger(handler slog.Handler) Logger {
	return &slogLogger{l: slog.New(WrapByErrFmtHandler(handler))}
}

func (s *slogLogger) Debug(msg string, fields ...any) { s.l.Debug(msg, fields...) }
func (s *slogLogger) Info(msg string, fields ...any) { s.l.Info(msg, fields...) }
func (s *slogLogger) Warn(msg string, fields ...any) { s.l.Warn(msg, fields...) }

func (s *slogLogger) Error(msg string, fields ...any) {
	if len(fields) > 0 {
		if err, ok := fields[0].(error); ok {
			fields = append([]any{ErrAttr(err)}, fields[1:]...)
		}
	}
	s.l.Error(msg, fields...)
}

func (s *slogLogger) With(fields ...any) Logger {
	return &slogLogger{l: s.l.With(fields...)}
}

func (s *slogLogger) Enabled(ctx context.Context, level Level) bool {
	return s.l.Enabled(ctx, slog.Level(level))
}

// ===========================================================================
// zerolog backend
// ===========================================================================

type zerologLogger struct {
	z zerolog.Logger
}

// NewZerologLogger returns a Logger backed by zerolog. When console is true the
// output is human readable, otherwise one JSON object per line.
func NewZerologLogger(w io.Writer, level Level, console bool) Logger {
	if console {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	}
	z := zerolog.New(w).With().Timestamp().Logger().Level(toZerologLevel(level))
	return &zerologLogger{z: z}
}

func toZerologLevel(level Level) zerolog.Level {
	switch {
	case level <= LevelDebug:
		return zerolog.DebugLevel
	case level <= LevelInfo:
		return zerolog.InfoLevel
	case level <= LevelWarn:
		return zerolog.WarnLevel
	default:
		return zerolog.ErrorLevel
	}
}

func (zl *zerologLogger) Debug(msg string, fields ...any) {
	appendFields(zl.z.Debug(), fields).Msg(msg)
}

func (zl *zerologLogger) Info(msg string, fields ...any) {
	appendFields(zl.z.Info(), fields).Msg(msg)
}

func (zl *zerologLogger) Warn(msg string, fields ...any) {
	appendFields(zl.z.Warn(), fields).Msg(msg)
}

func (zl *zerologLogger) Error(msg string, fields ...any) {
	event := zl.z.Error()
	if len(fields) > 0 {
		if err, ok := fields[0].(error); ok {
			event = event.Err(err)
			if st := extractStacktrace(err); st != "" {
				event = event.Str(StacktraceAttrKey, st)
			}
			fields = fields[1:]
		}
	}
	appendFields(event, fields).Msg(msg)
}

func (zl *zerologLogger) With(fields ...any) Logger {
	ctx := zl.z.With()
	for i := 0; i+1 < len(fields); i += 2 {
		key := fmt.Sprintf("%v", fields[i])
		switch v := fields[i+1].(type) {
		case error:
			ctx = ctx.AnErr(key, v)
		default:
			ctx = ctx.Interface(key, v)
		}
	}
	return &zerologLogger{z: ctx.Logger()}
}

func (zl *zerologLogger) Enabled(_ context.Context, level Level) bool {
	return toZerologLevel(level) >= zl.z.GetLevel()
}

func appendFields(event *zerolog.Event, fields []any) *zerolog.Event {
	if event == nil {
		return nil
	}
	for i := 0; i+1 < len(fields); i += 2 {
		key := fmt.Sprintf("%v", fields[i])
		switch v := fields[i+1].(type) {
		case zerolog.LogObjectMarshaler:
			event = event.Object(key, v)
		case error:
			event = event.AnErr(key, v)
		case string:
			event = event.Str(key, v)
		case []string:
			event = event.Strs(key, v)
		case int:
			event = event.Int(key, v)
		case int64:
			event = event.Int64(key, v)
		case float64:
			event = event.Float64(key, v)
		case bool:
			event = event.Bool(key, v)
		case time.Duration:
			event = event.Dur(key, v)
		default:
			event = event.Interface(key, v)
		}
	}
	return event
}

// RouteWarnings sends pkg/errors warnings through the given zerolog logger.
func RouteWarnings(z zerolog.Logger) {
	scierrors.SetZerologWarnFunc(func(w error) {
		event := z.Warn()
		if m, ok := w.(zerolog.LogObjectMarshaler); ok {
			event = event.Object("warning", m)
		}
		event.Msg(w.Error())
	})
}

// ===========================================================================
// no-op backend
// ===========================================================================

type nopLogger struct{}

// Nop returns a Logger that discards everything.
func Nop() Logger { return nopLogger{} }

// OrNop returns l, or Nop() when l is nil.
func OrNop(l Logger) Logger {
	if l == nil {
		return Nop()
	}
	return l
}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Info(string, ...any) {}
func (nopLogger) Warn(string, ...any) {}
func (nopLogger) Error(string, ...any) {}
func (n nopLogger) With(...any) Logger { return n }
func (nopLogger) Enabled(context.Context, Level) bool { return false }
