// Package logging configures the process-wide zerolog logger, replacing
// the teacher's bare log.Printf calls with structured, leveled logging.
package logging

import (
	"os"
	"time"

	"github.com/rs/zerolog"
)

// New builds a zerolog.Logger writing JSON to stdout in production and a
// colorized console writer when pretty is true (local dev).
func New(level string, pretty bool) zerolog.Logger {
	zerolog.TimeFieldFormat = time.RFC3339

	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}

	var output zerolog.ConsoleWriter
	logger := zerolog.New(os.Stdout).Level(lvl).With().Timestamp().Caller().Logger()
	if pretty {
		output = zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.Kitchen}
		logger = zerolog.New(output).Level(lvl).With().Timestamp().Logger()
	}
	return logger
}
