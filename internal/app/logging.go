package app

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

func NewLogger(levelRaw, formatRaw string) *slog.Logger {
	return newLogger(os.Stdout, levelRaw, formatRaw)
}

func newLogger(w io.Writer, levelRaw, formatRaw string) *slog.Logger {
	options := &slog.HandlerOptions{Level: ParseLogLevel(levelRaw)}
	if strings.EqualFold(strings.TrimSpace(formatRaw), "json") {
		return slog.New(slog.NewJSONHandler(w, options))
	}
	return slog.New(slog.NewTextHandler(w, options))
}

func ParseLogLevel(raw string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
