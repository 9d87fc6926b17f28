package client

import (
	"io"
	"log/slog"
	"os"
)

type LogConfig struct {
	Level  slog.Level
	Format string // "json" or "text"
	Output io.Writer
}

func DefaultLogConfig() LogConfig {
	return LogConfig{Level: slog.LevelDebug, Format: "json", Output: os.Stdout}
}

// SuppressedLogConfig discards everything, for tests.
func SuppressedLogConfig() LogConfig {
	return LogConfig{Level: slog.LevelError, Format: "text", Output: io.Discard}
}

func (lc LogConfig) Logger() *slog.Logger {
	out := lc.Output
	if out == nil {
		out = os.Stdout
	}
	opts := &slog.HandlerOptions{Level: lc.Level}
	if lc.Format == "text" {
		return slog.New(slog.NewTextHandler(out, opts))
	}
	return slog.New(slog.NewJSONHandler(out, opts))
}
