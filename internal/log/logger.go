package log

import (
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"

	"golang.org/x/term"
)

var (
	once   sync.Once
	logger *slog.Logger
)

// Setup initializes the global logger. Logs always go to stderr so a report
// streamed to stdout is never interleaved with log records.
// logic: default to INFO. If level is invalid, fallback to INFO.
func Setup(level, format string) {
	SetupWriter(os.Stderr, level, format)
}

// SetupWriter is Setup with an explicit destination.
func SetupWriter(w io.Writer, level, format string) {
	once.Do(func() {
		opts := &slog.HandlerOptions{
			Level: ParseLevel(level),
		}

		var handler slog.Handler
		switch resolveFormat(w, format) {
		case "text":
			handler = slog.NewTextHandler(w, opts)
		default:
			handler = slog.NewJSONHandler(w, opts)
		}
		logger = slog.New(handler)
		slog.SetDefault(logger)
	})
}

// ParseLevel maps a level name to a slog level.
func ParseLevel(level string) slog.Level {
	switch strings.ToUpper(level) {
	case "DEBUG":
		return slog.LevelDebug
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// resolveFormat turns "auto" into text for terminals and json otherwise.
func resolveFormat(w io.Writer, format string) string {
	switch strings.ToLower(format) {
	case "json":
		return "json"
	case "text":
		return "text"
	}
	if IsTerminal(w) {
		return "text"
	}
	return "json"
}

// IsTerminal reports whether w is an interactive terminal.
func IsTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return term.IsTerminal(int(f.Fd()))
}

// Get returns the configured logger, or a default one if Setup hasn't been called.
func Get() *slog.Logger {
	if logger == nil {
		Setup("INFO", "json")
	}
	return logger
}

// WithComponent returns a logger with the component field set.
func WithComponent(name string) *slog.Logger {
	return Get().With(slog.String("component", name))
}

// WithFeature returns a logger with the feature field set.
func WithFeature(name string) *slog.Logger {
	return Get().With(slog.String("feature", name))
}

// WithDaemon returns a logger with the daemon field set.
func WithDaemon(name string) *slog.Logger {
	return Get().With(slog.String("daemon", name))
}

// WithSession returns a logger with the session_id field set.
func WithSession(id string) *slog.Logger {
	return Get().With(slog.String("session_id", id))
}

// Info logs at INFO level.
func Info(msg string, args ...any) {
	Get().Info(msg, args...)
}

// Debug logs at DEBUG level.
func Debug(msg string, args ...any) {
	Get().Debug(msg, args...)
}

// Warn logs at WARN level.
func Warn(msg string, args ...any) {
	Get().Warn(msg, args...)
}

// Error logs at ERROR level.
func Error(msg string, args ...any) {
	Get().Error(msg, args...)
}
