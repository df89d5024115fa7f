package logger

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

var (
	// Logger is the global logger instance
	Logger = zerolog.New(io.Discard)
)

// Init initializes the global logger
func Init(level string) {
	InitWithWriter(level, nil)
}

// InitWithWriter initializes the global logger writing to out.
// A nil out selects stdout, or a console writer when ENV=development.
func InitWithWriter(level string, out io.Writer) {
	logLevel, err := zerolog.ParseLevel(level)
	if err != nil || level == "" {
		logLevel = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(logLevel)

	if out == nil {
		out = os.Stdout
		if os.Getenv("ENV") == "development" {
			out = zerolog.ConsoleWriter{
				Out:        os.Stdout,
				TimeFormat: time.RFC3339,
			}
		}
	}

	Logger = zerolog.New(out).
		With().
		Timestamp().
		Str("service", "chillerhub").
		Logger()

	Logger.Info().
		Str("level", logLevel.String()).
		Msg("logger initialized")
}

// WithComponent returns a logger with a component field
func WithComponent(component string) *zerolog.Logger {
	l := Logger.With().Str("component", component).Logger()
	return &l
}

// WithRequestID returns a logger with a request ID field
func WithRequestID(requestID string) *zerolog.Logger {
	l := Logger.With().Str("request_id", requestID).Logger()
	return &l
}

// WithOrganization returns a component logger scoped to a tenant
func WithOrganization(component string, orgID int64) *zerolog.Logger {
	l := Logger.With().
		Str("component", component).
		Int64("organization_id", orgID).
		Logger()
	return &l
}

// WithError returns a logger with an error field
func WithError(err error) *zerolog.Logger {
	l := Logger.With().Err(err).Logger()
	return &l
}
