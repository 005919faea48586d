package cmd

import (
	"io"
	"log/slog"
	"os"

	"github.com/loopfund/community-live/config"
)

// ProvideLogger builds the process logger. The level follows the config file
// and is updated in place when the file changes.
func ProvideLogger(cfg *config.Config) *slog.Logger {
	level := new(slog.LevelVar)
	if l, err := config.ParseLevel(cfg.Log.Level); err == nil {
		level.Set(l)
	}

	logger := slog.New(newHandler(os.Stdout, cfg.Log.Format, level)).With(
		"service", ServiceName,
		"node_id", cfg.Service.NodeID,
	)
	slog.SetDefault(logger)

	// [HOT_RELOAD] Only the level is applied live; other sections need a restart.
	cfg.Watch(logger, func(next *config.Config) {
		l, err := config.ParseLevel(next.Log.Level)
		if err != nil {
			return
		}
		if l != level.Level() {
			logger.Info("LOG_LEVEL_CHANGED", "from", level.Level().String(), "to", l.String())
			level.Set(l)
		}
	})
	return logger
}

func newHandler(w io.Writer, format string, level slog.Leveler) slog.Handler {
	opts := &slog.HandlerOptions{Level: level}
	if format == "text" {
		return slog.NewTextHandler(w, opts)
	}
	return slog.NewJSONHandler(w, opts)
}
