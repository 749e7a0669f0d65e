package di

import (
	"context"
	"os"

	"github.com/rs/zerolog"
)

// ProvideLogger creates a new zerolog.Logger configured for the runtime environment.
// In Lambda (when AWS_LAMBDA_RUNTIME_API is set) or with LOG_FORMAT=json, it uses JSON format.
// In terminal/CLI, it uses console format with pretty printing.
// LOG_LEVEL overrides the default info level.
func ProvideLogger() zerolog.Logger {
	level := zerolog.InfoLevel
	if v, err := zerolog.ParseLevel(os.Getenv("LOG_LEVEL")); err == nil && v != zerolog.NoLevel {
		level = v
	}

	if os.Getenv("AWS_LAMBDA_RUNTIME_API") != "" || os.Getenv("LOG_FORMAT") == "json" {
		return zerolog.New(os.Stdout).
			Level(level).
			With().
			Timestamp().
			Logger()
	}

	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).
		Level(level).
		With().
		Timestamp().
		Logger()
}

// ProvideContext returns a background context carrying logger, so
// constructors can use zerolog.Ctx.
func ProvideContext(logger zerolog.Logger) context.Context {
	return logger.WithContext(context.Background())
}
