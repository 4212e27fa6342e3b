package sink

import (
	"context"
	"log/slog"

	"futawatch/classify"
)

// Log writes human-readable classification lines through slog. This is
// the default sink; it mirrors what an operator tailing the watcher
// wants to see.
type Log struct {
	logger  *slog.Logger
	verbose bool
}

// NewLog creates a Log sink. If logger is nil, slog.Default() is used.
func NewLog(logger *slog.Logger, verbose bool) *Log {
	if logger == nil {
		logger = slog.Default()
	}
	return &Log{logger: logger, verbose: verbose}
}

func (l *Log) HandleEvent(_ context.Context, ev Event) error {
	l.logger.Info("classified image",
		"post_id", ev.PostID,
		"image", ev.ImageName,
		"summary", ev.Summary)

	if l.verbose {
		l.logger.Debug("classification detail",
			"post_id", ev.PostID,
			"image_url", ev.ImageURL,
			"thread_url", ev.ThreadURL)
		for _, c := range classify.Categories() {
			l.logger.Debug("category score",
				"post_id", ev.PostID, "category", c, "probability", ev.Scores[c])
		}
	}
	return nil
}

func (l *Log) Close() error { return nil }
