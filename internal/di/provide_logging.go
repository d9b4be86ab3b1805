package di

import (
	"os"

	"github.com/rs/zerolog"
)

// ProvideLogger builds the process-wide logger. Lambda invocations emit JSON
// records for CloudWatch; interactive runs get the console writer. LOG_LEVEL
// overrides the default info level.
func ProvideLogger() zerolog.Logger {
	level := zerolog.InfoLevel
	if s := os.Getenv("LOG_LEVEL"); s != "" {
		if parsed, err := zerolog.ParseLevel(s); err == nil && parsed != zerolog.NoLevel {
			level = parsed
		}
	}

	if os.Getenv("AWS_LAMBDA_RUNTIME_API") != "" {
		return zerolog.New(os.Stdout).Level(level).With().Timestamp().Logger()
	}

	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).Level(level).With().Timestamp().Logger()
}
