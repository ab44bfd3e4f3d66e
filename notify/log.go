package notify

import (
	"context"
	"log/slog"
)

// LogNotifier writes messages to a structured logger instead of sending
// them. Development only: the logged body contains the code or link.
type LogNotifier struct {
	logger *slog.Logger
}

func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) Send(ctx context.Context, msg Message) error {
	if err := msg.validate(); err != nil {
		return err
	}
	n.logger.InfoContext(ctx, "notification issued",
		"kind", string(msg.Kind),
		"to", msg.To,
		"subject", msg.Subject,
		"body", msg.Text,
	)
	return nil
}
