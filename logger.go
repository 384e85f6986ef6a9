package vectorstore

import (
	"log/slog"
	"os"
)

// Logger wraps slog.Logger with control-plane specific context.
// This provides structured logging with consistent field names.
type Logger struct {
	*slog.Logger
}

// NewLogger creates a new Logger with the given handler.
// If handler is nil, uses default text handler to stderr.
func NewLogger(handler slog.Handler) *Logger {
	if handler == nil {
		handler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: slog.LevelInfo,
		})
	}
	return &Logger{
		Logger: slog.New(handler),
	}
}

// NewJSONLogger creates a Logger that outputs JSON-formatted logs.
// level sets the minimum log level (e.g., slog.LevelDebug, slog.LevelInfo).
func NewJSONLogger(level slog.Level) *Logger {
	handler := slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	})
	return &Logger{
		Logger: slog.New(handler),
	}
}

// NewTextLogger creates a Logger that outputs human-readable text logs.
func NewTextLogger(level slog.Level) *Logger {
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	})
	return &Logger{
		Logger: slog.New(handler),
	}
}

// NoopLogger creates a Logger that discards all log output.
// Use this to disable logging entirely.
func NoopLogger() *Logger {
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.Level(1000), // Unreachable level
	})
	return &Logger{
		Logger: slog.New(handler),
	}
}

// WithActor adds an actor name field to the logger.
func (l *Logger) WithActor(name string) *Logger {
	return &Logger{
		Logger: l.Logger.With("actor", name),
	}
}

// WithIndex adds an index id field to the logger.
func (l *Logger) WithIndex(id IndexId) *Logger {
	return &Logger{
		Logger: l.Logger.With("index", id.String()),
	}
}

// WithTable adds a table field to the logger.
func (l *Logger) WithTable(table TableName) *Logger {
	return &Logger{
		Logger: l.Logger.With("table", table.String()),
	}
}

// WithDimension adds a dimension field to the logger.
func (l *Logger) WithDimension(dim Dimensions) *Logger {
	return &Logger{
		Logger: l.Logger.With("dimension", int(dim)),
	}
}
