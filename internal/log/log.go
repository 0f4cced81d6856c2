// Package log configures the process-wide structured logger and a cheap
// deterministic sampler for the hot decision path.
package log

import (
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/term"
)

// Init configures the global zerolog logger. Pretty console output is used
// on a TTY; JSON lines otherwise, matching the teacher's console-vs-JSON
// split in its CLI entrypoint.
func Init(level string, runID string) {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)

	var out zerolog.Logger
	if term.IsTerminal(int(os.Stdout.Fd())) {
		out = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: "15:04:05"}).With().Timestamp().Logger()
	} else {
		out = zerolog.New(os.Stdout).With().Timestamp().Logger()
	}
	log.Logger = out.With().Str("run_id", runID).Logger()
}

// Component returns a child logger tagged with the owning subsystem, mirroring
// the original's one-namespaced-logger-per-subsystem convention
// (logging_config.get_risk_logger).
func Component(name string) zerolog.Logger {
	return log.With().Str("component", name).Logger()
}
