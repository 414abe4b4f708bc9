// Package logging configures the global zerolog logger.
package logging

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Setup sets the global level and output. format is "console" for
// human-readable output on stderr or "json" for one object per line.
// Unknown levels fall back to info.
func Setup(level, format string) {
	Configure(os.Stderr, level, format)
}

// Configure is Setup with an explicit writer.
func Configure(w io.Writer, level, format string) {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)

	if format == "json" {
		log.Logger = zerolog.New(w).With().Timestamp().Logger()
		return
	}
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: w, TimeFormat: time.TimeOnly})
}
