package cli

import (
	"log/slog"
	"os"
)

// configureLogging installs a debug-gated text logger on stderr, the
// same shape the teacher configures for its own parser: level gated by
// an env var (here RUNZ_DEBUG) or the --debug flag, with the timestamp
// stripped from the record for clean CLI output. Never used on
// the hot path of planning/execution when debug is off.
func configureLogging(debug bool) *slog.Logger {
	level := slog.LevelInfo
	if debug || os.Getenv("RUNZ_DEBUG") != "" {
		level = slog.LevelDebug
	}

	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.TimeKey {
				return slog.Attr{}
			}
			return a
		},
	})
	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}
