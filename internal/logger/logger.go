// Package logger configures the global zerolog logger.
package logger

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/torosent/quicperf/internal/config"
)

// Init sets the global level and output format. Logs go to stderr so the run
// report on stdout stays machine-readable.
func Init(lcfg config.LogConfig) {
	InitWriter(lcfg, os.Stderr)
}

// InitWriter is Init with an explicit destination.
func InitWriter(lcfg config.LogConfig, out io.Writer) {
	zerolog.SetGlobalLevel(ParseLevel(lcfg.Level))

	if strings.ToLower(lcfg.Format) == "json" {
		log.Logger = zerolog.New(out).With().Timestamp().Logger()
		return
	}
	// default console
	log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}).
		With().Timestamp().Logger()
}

// ParseLevel maps a level name to a zerolog level. Unknown names mean info.
func ParseLevel(level string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "trace":
		return zerolog.TraceLevel
	case "debug":
		return zerolog.DebugLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	case "fatal":
		return zerolog.FatalLevel
	case "panic":
		return zerolog.PanicLevel
	case "disabled", "off":
		return zerolog.Disabled
	default:
		return zerolog.InfoLevel
	}
}
