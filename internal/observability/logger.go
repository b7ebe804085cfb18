// Package observability provides logging helpers for vidpace.
package observability

import (
	"context"
	"io"
	"log/slog"
	"os"
	"regexp"
	"strings"
	"sync/atomic"
	"time"

	"github.com/jmylchreest/vidpace/internal/config"
	"github.com/m-mizutani/masq"
)

// LevelTrace is below debug and is used for per-frame output.
const LevelTrace = slog.Level(-8)

const redacted = "[REDACTED]"

// contextKey is a type for context keys to avoid collisions.
type contextKey string

const (
	// RequestIDKey is the context key for request IDs.
	RequestIDKey contextKey = "request_id"
	// loggerKey is the context key for the logger.
	loggerKey contextKey = "logger"
)

var (
	// levelVar is shared by every logger built here so SetLogLevel applies globally.
	levelVar = new(slog.LevelVar)

	requestLogging atomic.Bool

	sensitiveKeys = map[string]bool{
		"password":   true,
		"passwd":     true,
		"secret":     true,
		"token":      true,
		"apikey":     true,
		"api_key":    true,
		"credential": true,
		"dsn":        true,
	}

	sensitiveParam = regexp.MustCompile(`(?i)\b(password|passwd|secret|token|apikey|api_key|credential)=([^&\s"]*)`)
	userinfo       = regexp.MustCompile(`(\w+://[^:/@\s]+:)([^@\s]+)(@)`)
)

func init() {
	requestLogging.Store(true)
}

// NewLogger creates a new slog.Logger based on the provided configuration.
func NewLogger(cfg config.LoggingConfig) *slog.Logger {
	return NewLoggerWithWriter(cfg, os.Stdout)
}

// NewLoggerWithWriter creates a new slog.Logger that writes to the provided writer.
// Sensitive attributes (passwords, tokens, credentials in URLs and structs
// tagged `masq:"secret"`) are redacted before they reach the handler.
func NewLoggerWithWriter(cfg config.LoggingConfig, w io.Writer) *slog.Logger {
	levelVar.Set(parseLevel(cfg.Level))

	mask := masq.New(
		masq.WithTag("secret"),
		masq.WithFieldName("Password"),
		masq.WithFieldName("DSN"),
		masq.WithRedactMessage(redacted),
	)

	opts := &slog.HandlerOptions{
		Level:     levelVar,
		AddSource: cfg.AddSource,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			switch {
			case a.Key == slog.TimeKey && cfg.TimeFormat != "":
				if t, ok := a.Value.Any().(time.Time); ok {
					return slog.String(slog.TimeKey, t.Format(cfg.TimeFormat))
				}
				return a
			case a.Key == slog.LevelKey:
				if lvl, ok := a.Value.Any().(slog.Level); ok && lvl <= LevelTrace {
					return slog.String(slog.LevelKey, "TRACE")
				}
				return a
			case sensitiveKeys[strings.ToLower(a.Key)]:
				return slog.String(a.Key, redacted)
			case a.Value.Kind() == slog.KindString:
				return slog.String(a.Key, RedactURL(a.Value.String()))
			}
			return mask(groups, a)
		},
	}

	var handler slog.Handler
	switch cfg.Format {
	case "text":
		handler = slog.NewTextHandler(w, opts)
	default:
		handler = slog.NewJSONHandler(w, opts)
	}

	return slog.New(handler)
}

// RedactURL masks credentials carried in query parameters or userinfo.
func RedactURL(s string) string {
	if !strings.Contains(s, "=") && !strings.Contains(s, "@") {
		return s
	}
	s = sensitiveParam.ReplaceAllString(s, "${1}="+redacted)
	return userinfo.ReplaceAllString(s, "${1}"+redacted+"${3}")
}

// parseLevel converts a string log level to slog.Level.
func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "trace":
		return LevelTrace
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// SetLogLevel changes the level of every logger built by this package.
func SetLogLevel(level string) {
	levelVar.Set(parseLevel(level))
}

// LogLevel returns the current level as a lowercase string.
func LogLevel() string {
	if levelVar.Level() <= LevelTrace {
		return "trace"
	}
	return strings.ToLower(levelVar.Level().String())
}

// SetRequestLogging toggles per-request HTTP logging.
func SetRequestLogging(enabled bool) {
	requestLogging.Store(enabled)
}

// IsRequestLoggingEnabled reports whether HTTP requests should be logged.
func IsRequestLoggingEnabled() bool {
	return requestLogging.Load()
}

// WithApp tags the logger with the application name and version.
func WithApp(logger *slog.Logger, name, version string) *slog.Logger {
	return logger.With(slog.String("app", name), slog.String("version", version))
}

// WithRequestID adds a request ID to the logger.
func WithRequestID(logger *slog.Logger, requestID string) *slog.Logger {
	return logger.With(slog.String("request_id", requestID))
}

// WithComponent adds a component name to the logger for identifying the source.
func WithComponent(logger *slog.Logger, component string) *slog.Logger {
	return logger.With(slog.String("component", component))
}

// WithStream adds the stream name to the logger.
func WithStream(logger *slog.Logger, stream string) *slog.Logger {
	return logger.With(slog.String("stream", stream))
}

// WithError adds an error to the logger attributes.
func WithError(logger *slog.Logger, err error) *slog.Logger {
	if err == nil {
		return logger
	}
	return logger.With(slog.String("error", err.Error()))
}

// LoggerFromContext extracts a logger from the context.
// If no logger is found, returns the default logger.
func LoggerFromContext(ctx context.Context) *slog.Logger {
	if logger, ok := ctx.Value(loggerKey).(*slog.Logger); ok {
		return logger
	}
	return slog.Default()
}

// ContextWithLogger adds a logger to the context.
func ContextWithLogger(ctx context.Context, logger *slog.Logger) context.Context {
	return context.WithValue(ctx, loggerKey, logger)
}

// RequestIDFromContext extracts a request ID from the context.
func RequestIDFromContext(ctx context.Context) string {
	if id, ok := ctx.Value(RequestIDKey).(string); ok {
		return id
	}
	return ""
}

// ContextWithRequestID adds a request ID to the context.
func ContextWithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, RequestIDKey, requestID)
}

// SetDefault sets the provided logger as the default slog logger.
func SetDefault(logger *slog.Logger) {
	slog.SetDefault(logger)
}

// TimedOperationWithError logs the start and end of an operation. errPtr is
// read when the returned function runs so errors assigned later are reported.
//
//	var err error
//	done := observability.TimedOperationWithError(ctx, logger, "persist_run", &err)
//	defer done()
//
//nolint:gocritic // errPtr must be a pointer to capture errors set after this call
func TimedOperationWithError(ctx context.Context, logger *slog.Logger, operation string, errPtr *error) func() {
	start := time.Now()
	logger.DebugContext(ctx, "operation started", slog.String("operation", operation))

	return func() {
		duration := time.Since(start)
		if errPtr != nil && *errPtr != nil {
			logger.ErrorContext(ctx, "operation failed",
				slog.String("operation", operation),
				slog.Duration("duration", duration),
				slog.String("error", (*errPtr).Error()),
			)
			return
		}
		logger.InfoContext(ctx, "operation completed",
			slog.String("operation", operation),
			slog.Duration("duration", duration),
		)
	}
}
