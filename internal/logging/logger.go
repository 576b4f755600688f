// Package logging provides the process-wide structured logger used by
// every component of the engine.
package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Log is the process-wide logger. Set by Init/InitWithConfig.
var Log *slog.Logger

// Config configures the logger.
type Config struct {
	Level      string
	Format     string // json, text
	Output     string // stdout, stderr, file
	FilePath   string
	MaxSize    int // MB
	MaxBackups int
	MaxAge     int // days
	Compress   bool
}

// Init initializes the logger with the given level, JSON format, stdout.
func Init(level string) {
	InitWithConfig(Config{
		Level:  level,
		Format: "json",
		Output: "stdout",
	})
}

// InitWithConfig initializes the logger with a full configuration.
func InitWithConfig(cfg Config) {
	var lvl slog.Level
	switch cfg.Level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}

	var writer io.Writer
	switch cfg.Output {
	case "stderr":
		writer = os.Stderr
	case "file":
		if cfg.FilePath == "" {
			cfg.FilePath = "logs/engine.log"
		}
		dir := filepath.Dir(cfg.FilePath)
		if err := os.MkdirAll(dir, 0755); err != nil {
			writer = os.Stdout
		} else {
			writer = &lumberjack.Logger{
				Filename:   cfg.FilePath,
				MaxSize:    cfg.MaxSize,
				MaxBackups: cfg.MaxBackups,
				MaxAge:     cfg.MaxAge,
				Compress:   cfg.Compress,
			}
		}
	default:
		writer = os.Stdout
	}

	opts := &slog.HandlerOptions{
		Level:     lvl,
		AddSource: lvl == slog.LevelDebug,
	}

	var handler slog.Handler
	switch cfg.Format {
	case "text":
		handler = slog.NewTextHandler(writer, opts)
	default:
		handler = slog.NewJSONHandler(writer, opts)
	}

	Log = slog.New(handler)
}

// WithContext returns the logger annotated with the given args.
func WithContext(ctx context.Context, args ...any) *slog.Logger {
	return Log.With(args...)
}

// WithHost returns the logger scoped to a single host (item) by name.
func WithHost(host string) *slog.Logger {
	return Log.With(slog.String("host", host))
}

// WithProduction returns the logger scoped to a production name.
func WithProduction(production string) *slog.Logger {
	return Log.With(slog.String("production", production))
}

// Debug logs a debug-level message on the process-wide logger.
func Debug(msg string, args ...any) {
	Log.Debug(msg, args...)
}

// Info logs an info-level message on the process-wide logger.
func Info(msg string, args ...any) {
	Log.Info(msg, args...)
}

// Warn logs a warn-level message on the process-wide logger.
func Warn(msg string, args ...any) {
	Log.Warn(msg, args...)
}

// Error logs an error-level message on the process-wide logger.
func Error(msg string, args ...any) {
	Log.Error(msg, args...)
}

// Fatal logs an error-level message then terminates the process.
func Fatal(msg string, args ...any) {
	Log.Error(msg, args...)
	os.Exit(1)
}
