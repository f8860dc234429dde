// Package logging builds the root zerolog.Logger and binds the per-role
// sub-loggers (carrying role and id) that the handlers in internal/role
// attach further structured fields, such as ballot, to.
package logging

import (
	"io"
	"os"

	"github.com/rs/zerolog"
)

// New builds a root logger writing to w at the given level. Console
// calls it with a console writer on os.Stderr.
func New(w io.Writer, level zerolog.Level) zerolog.Logger {
	return zerolog.New(w).Level(level).With().Timestamp().Logger()
}

// Console builds a human-readable root logger for the CLI, mirroring
// zerolog's own recommended console-writer setup.
func Console(level zerolog.Level) zerolog.Logger {
	return New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05.000"}, level)
}

// ForRole binds a sub-logger carrying the role name and numeric id, the
// two fields every handler in internal/role logs against.
func ForRole(base zerolog.Logger, role string, id int) zerolog.Logger {
	return base.With().Str("role", role).Int("id", id).Logger()
}

// ForRun binds a sub-logger carrying the correlating run id, so every log
// line from one topology run can be grepped out of a shared log stream.
func ForRun(base zerolog.Logger, runID string) zerolog.Logger {
	return base.With().Str("run_id", runID).Logger()
}
