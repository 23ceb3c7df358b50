package notify

import (
	"context"
	"log/slog"
)

// LogSender writes messages to a logger. It is used when no external
// channel is configured.
type LogSender struct {
	log *slog.Logger
}

// NewLogSender creates a LogSender.
func NewLogSender(log *slog.Logger) *LogSender {
	return &LogSender{log: log}
}

// Name returns "log".
func (l *LogSender) Name() string { return "log" }

// Send logs msg at info level.
func (l *LogSender) Send(ctx context.Context, msg Message) error {
	l.log.InfoContext(ctx, msg.Title(),
		"account", msg.AccountID,
		"intent", msg.Record.Intent.String(),
		"record", msg.Record.ID,
		"price", msg.Record.Quote.Price.String())
	return nil
}
