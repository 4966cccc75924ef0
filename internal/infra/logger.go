package infra

import (
	"os"
	"time"

	"github.com/rs/zerolog"
)

// NewLogger constructs a zerolog.Logger with sane defaults for the service.
func NewLogger(appEnv string) zerolog.Logger {
	level := zerolog.InfoLevel
	if appEnv == "development" {
		level = zerolog.DebugLevel
	}

	logger := zerolog.New(os.Stdout).
		Level(level).
		With().
		Timestamp().
		Str("service", "skin-refiner-relay").
		Logger()

	if appEnv == "development" {
		logger = logger.Output(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339})
	}

	return logger
}

var nopLogger = zerolog.Nop()

// NopLogger returns a shared logger that discards everything.
func NopLogger() *Logger {
	return &nopLogger
}

// LoggerOrNop returns l, or the discarding logger when l is nil.
func LoggerOrNop(l *Logger) *Logger {
	if l == nil {
		return NopLogger()
	}
	return l
}

// Logger aliases the zerolog.Logger so callers outside the infra package can
// depend on the logging contract without importing the third-party module
// directly.
type Logger = zerolog.Logger
