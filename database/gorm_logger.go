package database

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
)

// slogWriter feeds gorm's logger output into slog so SQL warnings and slow
// queries land in the same handler (and log file) as the rest of the run.
type slogWriter struct {
	logger *slog.Logger
	level  slog.Level
}

func newSlogWriter(logger *slog.Logger, level slog.Level) slogWriter {
	if logger == nil {
		logger = slog.Default()
	}
	return slogWriter{logger: logger.With("component", "gorm"), level: level}
}

// Printf satisfies gorm's logger.Writer.
func (w slogWriter) Printf(format string, args ...any) {
	w.logger.Log(context.Background(), w.level, strings.TrimSpace(fmt.Sprintf(format, args...)))
}
