// Package logger owns the process-wide zerolog logger.
package logger

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Logger is shared by every package. It is a no-op until Init runs, so
// tests can log without setup.
var Logger = zerolog.Nop()

// Init points the logger at stdout at the given level.
func Init(level string) {
	InitWithWriter(level, os.Stdout)
}

// InitWithWriter points the logger at out. Unknown or empty levels mean
// info. ENV=development switches to human-readable console output.
func InitWithWriter(level string, out io.Writer) {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)

	if os.Getenv("ENV") == "development" {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	}

	Logger = zerolog.New(out).With().
		Timestamp().
		Caller().
		Str("service", "sentinel").
		Logger()

	Logger.Info().Str("level", lvl.String()).Msg("logging configured")
}

// WithComponent tags entries with the emitting subsystem.
func WithComponent(component string) zerolog.Logger {
	return Logger.With().Str("component", component).Logger()
}

// WithRequestID tags entries with an HTTP request ID.
func WithRequestID(requestID string) zerolog.Logger {
	return Logger.With().Str("request_id", requestID).Logger()
}
