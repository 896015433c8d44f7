// Package logging builds the zerolog logger used by the commands and adapts
// it to the Printf-style Logger the ETL packages accept.
package logging

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Config selects the level and output format.
type Config struct {
	// Level is debug, info, warn or error. Unknown values mean info.
	Level string
	// Format is json or console. Default: console.
	Format string
	// Output defaults to os.Stderr.
	Output io.Writer
}

// New returns a logger for cfg. It does not touch zerolog's global state.
func New(cfg Config) zerolog.Logger {
	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}
	if !strings.EqualFold(cfg.Format, "json") {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339, NoColor: true}
	}
	return zerolog.New(out).Level(ParseLevel(cfg.Level)).With().Timestamp().Logger()
}

// ParseLevel maps a level name to zerolog. Unknown names are info.
func ParseLevel(level string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
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

// Printf adapts a zerolog.Logger to Printf callers. Messages carrying
// "status=error" are logged at error level, the rest at info.
type Printf struct {
	L zerolog.Logger
}

func (p Printf) Printf(format string, v ...any) {
	msg := strings.TrimRight(fmt.Sprintf(format, v...), "\n")
	ev := p.L.Info()
	if strings.Contains(msg, "status=error") {
		ev = p.L.Error()
	}
	ev.Msg(msg)
}
