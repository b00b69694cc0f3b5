// Package logging wires up the zerolog logger shared by every component.
package logging

import (
	"os"
	"strings"

	"github.com/rs/zerolog"
)

// New builds the root logger for the process at the given level
// (debug, info, warn, error; anything else falls back to info).
func New(level string) zerolog.Logger {
	zerolog.SetGlobalLevel(parseLevel(level))
	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"}).
		With().
		Timestamp().
		Logger()
}

func parseLevel(level string) zerolog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return zerolog.DebugLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// Component returns a child logger tagged with the given component name.
func Component(l zerolog.Logger, name string) zerolog.Logger {
	return l.With().Str("component", name).Logger()
}
