package transport

import (
	"context"

	"rfqflow/logging"
)

// LogSender only logs what would have been sent. Used when no bot token is configured.
type LogSender struct {
	logger *logging.Logger
}

func NewLogSender(logger *logging.Logger) *LogSender {
	if logger == nil {
		logger = logging.Discard()
	}
	return &LogSender{logger: logger}
}

func (s *LogSender) Send(ctx context.Context, target, text string, actions []Action) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.logger.InfoContext(ctx, "dry-run send",
		logging.Target(target),
		"chars", len(text),
		"actions", len(actions))
	return nil
}
