package logger

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"
)

type Config struct {
	Level         slog.Level
	LogFile       string
	LogToStderr   bool
	AlsoLogStderr bool
	Format        string // "json" or "text"
}

// SetupLogger creates a configured slog logger
func SetupLogger(cfg Config) (*slog.Logger, error) {
	var writers []io.Writer

	if cfg.LogFile != "" {
		dir := filepath.Dir(cfg.LogFile)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}

		file, err := os.OpenFile(cfg.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, err
		}
		writers = append(writers, file)
	}

	if cfg.LogToStderr || cfg.AlsoLogStderr || len(writers) == 0 {
		writers = append(writers, os.Stderr)
	}

	var handler slog.Handler
	writer := io.MultiWriter(writers...)

	opts := &slog.HandlerOptions{
		Level:     cfg.Level,
		AddSource: true,
	}

	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(writer, opts)
	} else {
		handler = slog.NewTextHandler(writer, opts)
	}

	return slog.New(handler), nil
}

// ParseLevel converts a string to slog.Level
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
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

type ctxKey struct{}

// NewContext returns a context carrying the given logger
func NewContext(ctx context.Context, l *slog.Logger) context.Context {
	return context.WithValue(ctx, ctxKey{}, l)
}

// FromContext returns the request logger, falling back to the default logger
func FromContext(ctx context.Context) *slog.Logger {
	if l, ok := ctx.Value(ctxKey{}).(*slog.Logger); ok && l != nil {
		return l
	}
	return slog.Default()
}

func WithCommand(logger *slog.Logger, cmd string) *slog.Logger {
	return logger.With("command", cmd)
}

func WithRequest(logger *slog.Logger, requestID string) *slog.Logger {
	return logger.With("request_id", requestID)
}

func WithHTTPRequest(logger *slog.Logger, method, path string) *slog.Logger {
	return logger.With("http_method", method, "http_path", path)
}

func WithDuration(logger *slog.Logger, duration time.Duration) *slog.Logger {
	return logger.With("duration_ms", duration.Milliseconds())
}

// Flow-specific convenience functions
func WithFlow(logger *slog.Logger, audience, provider string) *slog.Logger {
	return logger.With("audience", audience, "provider", provider)
}

func WithAccount(logger *slog.Logger, accountID int64) *slog.Logger {
	return logger.With("account_id", accountID)
}
