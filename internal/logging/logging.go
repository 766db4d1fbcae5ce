// Package logging configures the dispatcher's structured logger and hands
// out per-component child loggers.
package logging

import (
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Log is the global logger instance, configured by Initialize.
var Log zerolog.Logger

// Initialize sets up the global logger. pretty enables a human-readable
// console writer for local development; production deployments want JSON
// (pretty=false) so log shippers can parse fields.
func Initialize(level string, pretty bool, instance string) {
	logLevel, err := zerolog.ParseLevel(level)
	if err != nil {
		logLevel = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(logLevel)

	if pretty {
		log.Logger = log.Output(zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: time.RFC3339,
		})
	} else {
		zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	}

	Log = log.With().
		Str("service", "dispatch").
		Str("instance", instance).
		Logger()

	Log.Info().
		Str("level", logLevel.String()).
		Bool("pretty", pretty).
		Msg("logger initialized")
}

// Get returns the global logger instance.
func Get() *zerolog.Logger {
	return &Log
}

// Component returns a child logger tagged with the given component name.
// Used by the Dispatcher, Listeners, Connectors and middleware to scope log output without threading a logger through every
// constructor.
func Component(name string) *zerolog.Logger {
	l := Log.With().Str("component", name).Logger()
	return &l
}
