package logger

import (
	"os"

	"github.com/rs/zerolog"
)

// InitLogger builds the process-wide logger. LOG_LEVEL takes zerolog's
// level names (debug, info, warn, ...); anything unparseable falls back
// to info.
func InitLogger() zerolog.Logger {
	level, err := zerolog.ParseLevel(os.Getenv("LOG_LEVEL"))
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}

	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).
		Level(level).
		With().
		Timestamp().
		Str("service", "crypto-ledger").
		Logger()
}
