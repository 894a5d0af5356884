// Package logging builds the slog handler used by the commands.
package logging

import (
	"log/slog"
	"os"
	"time"

	"github.com/lmittmann/tint"
	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"
)

// New returns a tint logger writing to stderr. Color is only used on a terminal and timestamps are dropped under
// systemd, which adds its own.
func New(level slog.Leveler) *slog.Logger {
	underSystemd := os.Getenv("JOURNAL_STREAM") != ""
	return slog.New(tint.NewHandler(colorable.NewColorable(os.Stderr), &tint.Options{
		Level:      level,
		TimeFormat: "15:04:05.000",
		NoColor:    !isatty.IsTerminal(os.Stderr.Fd()),
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if underSystemd && a.Key == slog.TimeKey && len(groups) == 0 {
				return slog.Attr{}
			}
			switch v := a.Value.Any().(type) {
			case time.Duration:
				if v == 0 {
					return slog.Attr{}
				}
			case nil:
				return slog.Attr{}
			}
			return a
		},
	}))
}

// Setup installs New as the default logger and returns the level var so callers can change it later.
func Setup(level slog.Level) *slog.LevelVar {
	ll := &slog.LevelVar{}
	ll.Set(level)
	slog.SetDefault(New(ll))
	return ll
}
