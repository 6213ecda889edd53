// Package logging builds the zerolog logger shared by every linkmem component.
package logging

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/ZanzyTHEbar/linkmem/linkmem/config"
	"github.com/rs/zerolog"
)

// New creates a logger from configuration writing to stderr.
func New(cfg config.LoggingConfig) zerolog.Logger {
	return NewWithWriter(cfg, os.Stderr)
}

// NewWithWriter creates a logger from configuration writing to w.
// The "console" format renders human-readable lines; anything else emits JSON.
func NewWithWriter(cfg config.LoggingConfig, w io.Writer) zerolog.Logger {
	out := w
	if strings.EqualFold(cfg.Format, "console") {
		out = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	}

	return zerolog.New(out).
		Level(ParseLevel(cfg.Level)).
		With().
		Timestamp().
		Logger()
}

// ParseLevel maps a level name to a zerolog level, defaulting to info.
func ParseLevel(level string) zerolog.Level {
	lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil || lvl == zerolog.NoLevel {
		return zerolog.InfoLevel
	}
	return lvl
}

// Component derives a child logger tagged with the component name.
func Component(logger zerolog.Logger, name string) zerolog.Logger {
	return logger.With().Str("component", name).Logger()
}
