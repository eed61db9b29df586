package logger

import (
	"context"
	"io"
	"log/slog"
	"os"

	"github.com/go-chi/chi/v5/middleware"
)

type ctxKey int

const (
	runIDKey ctxKey = iota
	jobKey
)

var defaultLogger = slog.Default()

// Init initializes the global logger
func Init(level, format string) {
	InitWithWriter(os.Stdout, level, format)
}

// InitWithWriter initializes the global logger writing to w.
func InitWithWriter(w io.Writer, level, format string) {
	var handler slog.Handler

	opts := &slog.HandlerOptions{
		Level:     parseLevel(level),
		AddSource: true,
	}

	switch format {
	case "json":
		handler = slog.NewJSONHandler(w, opts)
	default:
		handler = slog.NewTextHandler(w, opts)
	}

	defaultLogger = slog.New(handler)
	slog.SetDefault(defaultLogger)
}

// parseLevel converts string level to slog.Level
func parseLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// WithRun tags ctx with a batch run identifier and job name.
func WithRun(ctx context.Context, job, runID string) context.Context {
	ctx = context.WithValue(ctx, jobKey, job)
	return context.WithValue(ctx, runIDKey, runID)
}

// RunID returns the run identifier stored by WithRun, if any.
func RunID(ctx context.Context) string {
	id, _ := ctx.Value(runIDKey).(string)
	return id
}

// WithContext returns a logger carrying the request or run identifiers found in ctx.
func WithContext(ctx context.Context) *slog.Logger {
	l := defaultLogger
	if reqID := middleware.GetReqID(ctx); reqID != "" {
		l = l.With("request_id", reqID)
	}
	if job, ok := ctx.Value(jobKey).(string); ok {
		l = l.With("job", job)
	}
	if runID := RunID(ctx); runID != "" {
		l = l.With("run_id", runID)
	}
	return l
}

// WithComponent returns a logger scoped to a named component.
func WithComponent(name string) *slog.Logger {
	return defaultLogger.With("component", name)
}

// Info logs an info message
func Info(msg string, args ...any) {
	defaultLogger.Info(msg, args...)
}

// Error logs an error message
func Error(msg string, args ...any) {
	defaultLogger.Error(msg, args...)
}

// Warn logs a warning message
func Warn(msg string, args ...any) {
	defaultLogger.Warn(msg, args...)
}

// Debug logs a debug message
func Debug(msg string, args ...any) {
	defaultLogger.Debug(msg, args...)
}

// Fatal logs a fatal message and exits
func Fatal(msg string, args ...any) {
	defaultLogger.Error(msg, args...)
	os.Exit(1)
}
