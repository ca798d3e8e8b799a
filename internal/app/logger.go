package app

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"

	"github.com/romariotrain/vod-pipeline/internal/config"
)

// NewLogger builds the root logger of a binary. Components derive their own
// with With().Str("component", ...).
func NewLogger(service string, cfg config.LogConfig) zerolog.Logger {
	return newLogger(os.Stdout, service, cfg)
}

func newLogger(out io.Writer, service string, cfg config.LogConfig) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	if cfg.Format == "console" {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	}
	return zerolog.New(out).Level(level).With().Timestamp().Str("service", service).Logger()
}
