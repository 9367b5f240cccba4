// Package logger builds the zerolog logger shared by every component.
package logger

import (
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Config holds logger configuration
type Config struct {
	Level  string    // debug, info, warn, error, critical, or a python level number
	Pretty bool      // Enable pretty console output
	Out    io.Writer // Defaults to stderr
	Extra  []io.Writer
}

// New creates a new structured logger
func New(cfg Config) zerolog.Logger {
	zerolog.TimeFieldFormat = time.RFC3339

	out := cfg.Out
	if out == nil {
		out = os.Stderr
	}
	if cfg.Pretty {
		out = zerolog.ConsoleWriter{
			Out:        out,
			TimeFormat: "15:04:05",
		}
	}
	if len(cfg.Extra) > 0 {
		out = zerolog.MultiLevelWriter(append([]io.Writer{out}, cfg.Extra...)...)
	}

	return zerolog.New(out).
		Level(ParseLevel(cfg.Level)).
		With().
		Timestamp().
		Logger()
}

// ParseLevel accepts a level name or a python logging level number.
// Anything unrecognised is info.
func ParseLevel(s string) zerolog.Level {
	s = strings.ToLower(strings.TrimSpace(s))
	if n, err := strconv.Atoi(s); err == nil {
		return FromPython(n)
	}
	switch s {
	case "debug":
		return zerolog.DebugLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	case "critical", "fatal":
		return zerolog.FatalLevel
	default:
		return zerolog.InfoLevel
	}
}

// FromPython maps python logging levels (10, 20, 30, 40, 50) onto zerolog.
func FromPython(level int) zerolog.Level {
	switch {
	case level <= 10:
		return zerolog.DebugLevel
	case level <= 20:
		return zerolog.InfoLevel
	case level <= 30:
		return zerolog.WarnLevel
	case level <= 40:
		return zerolog.ErrorLevel
	default:
		return zerolog.FatalLevel
	}
}

// ToPython maps a level name onto its python number, ok is false for
// unknown names.
func ToPython(name string) (int, bool) {
	switch strings.ToLower(name) {
	case "debug":
		return 10, true
	case "info":
		return 20, true
	case "warn", "warning":
		return 30, true
	case "error":
		return 40, true
	case "critical":
		return 50, true
	default:
		return 0, false
	}
}
