package app

import (
	"log/slog"
	"os"
	"strings"
)

// NewLogger builds the process logger from config. LOG_FORMAT selects json
// or text output, LOG_LEVEL the threshold; source locations are attached
// only at debug level to keep routine records small.
func NewLogger(cfg *Config) *slog.Logger {
	level := slog.LevelInfo
	format := ""
	if cfg != nil {
		level = parseLogLevel(cfg.LogLevel)
		format = cfg.LogFormat
	}
	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: level == slog.LevelDebug,
	}
	if format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}

func parseLogLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
