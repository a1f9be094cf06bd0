package logging

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
)

type requestIDKey struct{}

// WithRequestID stores a request ID in ctx so loggers built from it can tag
// their lines.
func WithRequestID(ctx context.Context, rid string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, rid)
}

// RequestID extracts the request ID from ctx, or "" when none is set
func RequestID(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if rid, ok := ctx.Value(requestIDKey{}).(string); ok {
		return rid
	}
	return ""
}

// Setup installs the process-wide slog handler. Production uses JSON lines,
// everything else the text handler.
func Setup(env, level string) {
	opts := &slog.HandlerOptions{Level: parseLevel(level)}
	var h slog.Handler
	if env == "production" {
		h = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		h = slog.NewTextHandler(os.Stdout, opts)
	}
	slog.SetDefault(slog.New(h))
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Logger provides structured logging for services
type Logger struct {
	requestID string
	base      *slog.Logger
}

// NewLogger creates a logger with request context
func NewLogger(ctx context.Context) *Logger {
	requestID := RequestID(ctx)
	if requestID == "" {
		requestID = "unknown"
	}
	return &Logger{requestID: requestID, base: slog.Default()}
}

// With returns a logger that adds the given attributes to every line
func (l *Logger) With(args ...any) *Logger {
	return &Logger{requestID: l.requestID, base: l.base.With(args...)}
}

// LogError logs an error with context
func (l *Logger) LogError(operation string, err error) {
	l.base.Error("operation failed", "request_id", l.requestID, "operation", operation, "error", err)
}

// LogErrorf logs a formatted error with context
func (l *Logger) LogErrorf(operation string, format string, args ...any) {
	l.base.Error(fmt.Sprintf(format, args...), "request_id", l.requestID, "operation", operation)
}

// LogInfof logs a formatted info message with context
func (l *Logger) LogInfof(operation string, format string, args ...any) {
	l.base.Info(fmt.Sprintf(format, args...), "request_id", l.requestID, "operation", operation)
}

// LogWarnf logs a formatted warning with context
func (l *Logger) LogWarnf(operation string, format string, args ...any) {
	l.base.Warn(fmt.Sprintf(format, args...), "request_id", l.requestID, "operation", operation)
}
