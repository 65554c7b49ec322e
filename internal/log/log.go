// Package log wires zerolog the way the operator expects: a human-readable
// console writer on an interactive terminal, newline-delimited JSON
// otherwise.
package log

import (
	"os"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/term"
)

// New builds the process-wide logger. Call once from main.
func New() zerolog.Logger {
	zerolog.TimeFieldFormat = time.RFC3339

	if term.IsTerminal(int(os.Stderr.Fd())) {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}).With().Timestamp().Logger()
	}
	return zerolog.New(os.Stderr).With().Timestamp().Logger()
}
