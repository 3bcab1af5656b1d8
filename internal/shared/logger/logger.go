package logger

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/lmittmann/tint"

	"github.com/tetrixdev/vps-setup/internal/shared/errors"
)

// Logger wraps slog.Logger with domain-specific helpers while staying thin
type Logger struct {
	*slog.Logger
	config Config
}

// LogLevel represents the logging level
type LogLevel string

const (
	LevelDebug LogLevel = "debug"
	LevelInfo  LogLevel = "info"
	LevelWarn  LogLevel = "warn"
	LevelError LogLevel = "error"
)

// OutputFormat represents the log output format
type OutputFormat string

const (
	FormatJSON OutputFormat = "json"
	FormatText OutputFormat = "text"
)

// Config holds configuration for the logger
type Config struct {
	Level      LogLevel     `mapstructure:"level" yaml:"level"`
	Format     OutputFormat `mapstructure:"format" yaml:"format"`
	Component  string       `mapstructure:"component" yaml:"component"`
	Version    string       `mapstructure:"version" yaml:"version"`
	TimeFormat string       `mapstructure:"time_format" yaml:"time_format"`
	NoColor    bool         `mapstructure:"no_color" yaml:"no_color"`
}

// DefaultConfig returns a sensible default configuration
func DefaultConfig() Config {
	return Config{
		Level:      LevelInfo,
		Format:     FormatText,
		Component:  "vps-setup",
		Version:    "unknown",
		TimeFormat: time.Kitchen,
	}
}

// New creates a new logger with the provided configuration
func New(config Config) *Logger {
	level := parseLogLevel(config.Level)
	handler := createHandler(config, level)

	return &Logger{
		Logger: slog.New(handler),
		config: config,
	}
}

// Context keys for structured logging
type contextKey string

const (
	RunIDKey     contextKey = "run_id"
	OperationKey contextKey = "operation"
	StepKey      contextKey = "step"
)

// With returns a new logger with additional attributes
func (l *Logger) With(args ...any) *Logger {
	return &Logger{
		Logger: l.Logger.With(args...),
		config: l.config,
	}
}

// WithComponent returns a logger scoped to a sub-component
func (l *Logger) WithComponent(name string) *Logger {
	cfg := l.config
	cfg.Component = name
	return &Logger{
		Logger: l.Logger.With(slog.String("component", name)),
		config: cfg,
	}
}

// WithContext extracts logging context and returns a scoped logger
func (l *Logger) WithContext(ctx context.Context) *Logger {
	var attrs []any
	for _, key := range []contextKey{RunIDKey, OperationKey, StepKey} {
		if val, ok := ctx.Value(key).(string); ok && val != "" {
			attrs = append(attrs, slog.String(string(key), val))
		}
	}
	if len(attrs) == 0 {
		return l
	}

	return &Logger{
		Logger: l.Logger.With(attrs...),
		config: l.config,
	}
}

// Unwrap returns the underlying slog.Logger for direct access
func (l *Logger) Unwrap() *slog.Logger {
	return l.Logger
}

// ErrorCtx logs an error with automatic context enrichment, extracting
// domain error details when available.
func (l *Logger) ErrorCtx(ctx context.Context, msg string, err error, args ...any) {
	attrs := []any{slog.String("error", err.Error())}

	if errors.IsDomainError(err) {
		attrs = append(attrs,
			slog.String("error_domain", errors.GetErrorDomain(err)),
			slog.String("error_code", errors.GetErrorCode(err)),
		)
	}

	attrs = append(attrs, args...)
	l.WithContext(ctx).Error(msg, attrs...)
}

// InfoContext logs at Info level with context
func (l *Logger) InfoContext(ctx context.Context, msg string, args ...any) {
	l.WithContext(ctx).Info(msg, args...)
}

// DebugContext logs at Debug level with context
func (l *Logger) DebugContext(ctx context.Context, msg string, args ...any) {
	l.WithContext(ctx).Debug(msg, args...)
}

// WarnContext logs at Warn level with context
func (l *Logger) WarnContext(ctx context.Context, msg string, args ...any) {
	l.WithContext(ctx).Warn(msg, args...)
}

func parseLogLevel(level LogLevel) slog.Level {
	switch level {
	case LevelDebug:
		return slog.LevelDebug
	case LevelInfo:
		return slog.LevelInfo
	case LevelWarn:
		return slog.LevelWarn
	case LevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func createHandler(config Config, level slog.Level) slog.Handler {
	switch config.Format {
	case FormatText:
		return tint.NewHandler(os.Stderr, &tint.Options{
			Level:      level,
			TimeFormat: config.TimeFormat,
			NoColor:    config.NoColor,
		})
	default:
		return slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	}
}

// Context helper functions

func WithRunID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, RunIDKey, id)
}

func WithOperation(ctx context.Context, operation string) context.Context {
	return context.WithValue(ctx, OperationKey, operation)
}

func WithStep(ctx context.Context, step string) context.Context {
	return context.WithValue(ctx, StepKey, step)
}

func GetRunID(ctx context.Context) string {
	if val, ok := ctx.Value(RunIDKey).(string); ok {
		return val
	}
	return ""
}
