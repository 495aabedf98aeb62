// Package logs builds the process-wide structured logger. Every component
// receives its logger through its constructor; nothing logs through a
// package-level default.
package logs

import (
	"log/slog"
	"os"
	"strings"
)

// FromString maps a level name to a JSON slog handler on stderr. Unknown
// names fall back to info rather than failing startup.
func FromString(level string) *slog.Logger {
	var l slog.Level
	switch strings.ToLower(level) {
	case "debug":
		l = slog.LevelDebug
	case "warn", "warning":
		l = slog.LevelWarn
	case "error":
		l = slog.LevelError
	default:
		l = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: l}))
}
