// Package logger sets up structured logging for the lowering engine
package logger

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"golang.org/x/xerrors"
)

// LogLevel represents the logging level
type LogLevel int

const (
	LevelDebug LogLevel = iota
	LevelInfo
	LevelWarn
	LevelError
)

// ParseLevel maps a flag value to a level.
func ParseLevel(s string) (LogLevel, error) {
	switch strings.ToLower(s) {
	case "debug":
		return LevelDebug, nil
	case "info", "":
		return LevelInfo, nil
	case "warn", "warning":
		return LevelWarn, nil
	case "error":
		return LevelError, nil
	}
	return LevelInfo, xerrors.Errorf("unknown log level %q", s)
}

// Config holds logger configuration
type Config struct {
	Level  LogLevel
	Format string // "text" or "json"
	Output io.Writer
}

// DefaultConfig returns the default logger configuration
func DefaultConfig() Config {
	return Config{
		Level:  LevelWarn,
		Format: "text",
		Output: os.Stderr,
	}
}

// New builds a logger from cfg.
func New(cfg Config) *slog.Logger {
	output := cfg.Output
	if output == nil {
		output = os.Stderr
	}
	opts := &slog.HandlerOptions{Level: toSlogLevel(cfg.Level)}

	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(output, opts)
	} else {
		handler = slog.NewTextHandler(output, opts)
	}
	return slog.New(handler)
}

// Init builds a logger from cfg and makes it the process default.
func Init(cfg Config) *slog.Logger {
	l := New(cfg)
	slog.SetDefault(l)
	return l
}

// Nop returns a logger that discards everything.
func Nop() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError + 1}))
}

func toSlogLevel(level LogLevel) slog.Level {
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

// Lowering-specific logging helpers

// LogPhase logs the completion of a lowering phase for one function
func LogPhase(l *slog.Logger, fn, phase string, instructions int) {
	l.Debug("phase complete", "function", fn, "phase", phase, "instructions", instructions)
}

// LogFrame logs a planned frame
func LogFrame(l *slog.Logger, fn string, size int64, leaf bool) {
	l.Debug("frame planned", "function", fn, "size", size, "leaf", leaf)
}

// LogFailure logs a function that could not be lowered
func LogFailure(l *slog.Logger, fn string, err error) {
	l.Error("lowering failed", "function", fn, "error", err)
}
