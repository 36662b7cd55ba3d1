// Package monitoring wires the structured logger and the Prometheus
// metrics every pipeline stage records into.
package monitoring

import (
	"io"
	"os"
	"runtime/debug"
	"time"

	"github.com/rs/zerolog"
	"github.com/wardstone/wardstone/internal/config"
)

// NewLogger builds the root logger from config. Components derive child
// loggers with a component field:
//
//	log := root.With().Str("component", "l4").Logger()
func NewLogger(cfg config.LoggingConfig) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}

	var output io.Writer = os.Stdout
	if cfg.Format == "console" {
		output = zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: time.RFC3339,
		}
	}

	return zerolog.New(output).
		Level(level).
		With().
		Timestamp().
		Str("service", "wardstone").
		Logger()
}

// RecoverPanic logs a recovered panic with its stack and keeps the
// process running. Use in defer blocks of background goroutines.
func RecoverPanic(log zerolog.Logger, where string) {
	if r := recover(); r != nil {
		log.Error().
			Str("goroutine", where).
			Interface("panic_value", r).
			Str("stack_trace", string(debug.Stack())).
			Msg("panic recovered")
	}
}
