// Package logging configures the process-wide structured logger. This is
// the operator-facing log (stderr, leveled, structured); a Job's own Logs
// slice is a separate, user-facing audit trail and is not routed through
// here.
package logging

import (
	"io"
	"os"

	"github.com/rs/zerolog"
)

// New builds a zerolog.Logger writing to w at the given level name
// ("debug", "info", "warn", "error"). An unrecognized level falls back to
// info, matching the teacher's fail-open posture for non-critical config.
func New(w io.Writer, level string) zerolog.Logger {
	if w == nil {
		w = os.Stderr
	}
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	return zerolog.New(w).Level(lvl).With().Timestamp().Logger()
}
