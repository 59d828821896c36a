// Package logging wraps log/slog with the structured fields the
// training driver attaches to every epoch and file operation.
package logging

import (
	"context"
	"log/slog"
	"os"
)

// Logger wraps slog.Logger with a handful of training-specific
// convenience methods.
type Logger struct {
	*slog.Logger
}

// New creates a Logger with the given handler. A nil handler defaults
// to a text handler at Info level writing to stderr.
func New(handler slog.Handler) *Logger {
	if handler == nil {
		handler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo})
	}
	return &Logger{Logger: slog.New(handler)}
}

// NewJSON creates a Logger that emits JSON records at the given level.
func NewJSON(level slog.Level) *Logger {
	return &Logger{Logger: slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))}
}

// NewText creates a Logger that emits human-readable text records at
// the given level.
func NewText(level slog.Level) *Logger {
	return &Logger{Logger: slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))}
}

// Noop creates a Logger that discards all output.
func Noop() *Logger {
	return &Logger{Logger: slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.Level(1000)}))}
}

// LogEpoch records one epoch's convergence metrics.
func (l *Logger) LogEpoch(ctx context.Context, epoch int, radiusMin, radiusMax, quantization, topographic, gap, diffusion float32) {
	l.InfoContext(ctx, "epoch completed",
		"epoch", epoch,
		"radius_min", radiusMin,
		"radius_max", radiusMax,
		"quantization_error", quantization,
		"topographic_error", topographic,
		"gap_error", gap,
		"diffusion_error", diffusion,
	)
}

// LogSave records a successful or failed artifact save.
func (l *Logger) LogSave(ctx context.Context, path string, err error) {
	if err != nil {
		l.ErrorContext(ctx, "save failed", "path", path, "error", err)
		return
	}
	l.InfoContext(ctx, "saved artifact", "path", path)
}

// LogLoad records a successful or failed artifact load.
func (l *Logger) LogLoad(ctx context.Context, path string, err error) {
	if err != nil {
		l.ErrorContext(ctx, "load failed", "path", path, "error", err)
		return
	}
	l.InfoContext(ctx, "loaded artifact", "path", path)
}
