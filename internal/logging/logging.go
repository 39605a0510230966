// Package logging provides the context-scoped structured logging helpers
// used throughout the core: a component/agent-tagged slog.Logger threaded via
// context.Context, and a process-wide level override read from the
// environment.
package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// LogLevelEnvVar is the environment variable lifecycle processes and hook
// processes both honor to override the default log level.
const LogLevelEnvVar = "KHOREGOS_LOG_LEVEL"

type ctxKey int

const (
	componentKey ctxKey = iota
	agentKey
)

var (
	mu        sync.Mutex
	base      = slog.New(slog.NewTextHandler(os.Stderr, nil))
	closer    io.Closer
	levelFunc func() string
)

// SetLogLevelGetter lets a caller (typically the CLI's config layer) supply a
// dynamic level override, checked on every Init call instead of only at
// process start.
func SetLogLevelGetter(f func() string) {
	mu.Lock()
	defer mu.Unlock()
	levelFunc = f
}

// Init (re)configures the base logger. An empty path logs to stderr; a
// non-empty path opens (creating parent directories) a log file and logs
// there instead. Returns a cleanup error only if the file could not be
// opened — logging to stderr never fails.
func Init(path string) error {
	mu.Lock()
	defer mu.Unlock()

	level := resolveLevel()

	var w io.Writer = os.Stderr
	if path != "" {
		if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
			return fmt.Errorf("logging: create log directory: %w", err)
		}
		f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
		if err != nil {
			return fmt.Errorf("logging: open %s: %w", path, err)
		}
		w = f
		closer = f
	}

	base = slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level}))
	return nil
}

// Close releases any file opened by Init. Safe to call when Init logged to
// stderr (no-op).
func Close() {
	mu.Lock()
	defer mu.Unlock()
	if closer != nil {
		_ = closer.Close()
		closer = nil
	}
}

func resolveLevel() slog.Level {
	raw := os.Getenv(LogLevelEnvVar)
	if levelFunc != nil {
		if v := levelFunc(); v != "" {
			raw = v
		}
	}
	switch raw {
	case "DEBUG", "debug":
		return slog.LevelDebug
	case "WARN", "warn":
		return slog.LevelWarn
	case "ERROR", "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// WithComponent tags ctx with a component name, surfaced on every log line
// recorded through it.
func WithComponent(ctx context.Context, component string) context.Context {
	return context.WithValue(ctx, componentKey, component)
}

// WithAgent tags ctx with an agent name.
func WithAgent(ctx context.Context, agent string) context.Context {
	return context.WithValue(ctx, agentKey, agent)
}

func logger(ctx context.Context) *slog.Logger {
	mu.Lock()
	l := base
	mu.Unlock()

	if c, ok := ctx.Value(componentKey).(string); ok && c != "" {
		l = l.With(slog.String("component", c))
	}
	if a, ok := ctx.Value(agentKey).(string); ok && a != "" {
		l = l.With(slog.String("agent", a))
	}
	return l
}

// Debug logs at debug level with the component/agent tags carried by ctx.
func Debug(ctx context.Context, msg string, attrs ...slog.Attr) {
	logger(ctx).LogAttrs(ctx, slog.LevelDebug, msg, attrs...)
}

// Info logs at info level.
func Info(ctx context.Context, msg string, attrs ...slog.Attr) {
	logger(ctx).LogAttrs(ctx, slog.LevelInfo, msg, attrs...)
}

// Warn logs at warn level.
func Warn(ctx context.Context, msg string, attrs ...slog.Attr) {
	logger(ctx).LogAttrs(ctx, slog.LevelWarn, msg, attrs...)
}

// Error logs at error level.
func Error(ctx context.Context, msg string, attrs ...slog.Attr) {
	logger(ctx).LogAttrs(ctx, slog.LevelError, msg, attrs...)
}

// LogDuration logs msg at level with a duration_ms attribute computed from
// start, plus any extra attrs.
func LogDuration(ctx context.Context, level slog.Level, msg string, start time.Time, attrs ...slog.Attr) {
	all := append([]slog.Attr{slog.Int64("duration_ms", time.Since(start).Milliseconds())}, attrs...)
	logger(ctx).LogAttrs(ctx, level, msg, all...)
}
