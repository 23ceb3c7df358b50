package notify

import (
	"errors"
	"log/slog"

	"tradedesk/internal/config"
)

// NewGatewayFromConfig builds a Gateway with every configured sender. The
// log sender is always included. The returned close function releases
// sender resources.
func NewGatewayFromConfig(cfg config.NotifyConfig, log *slog.Logger) (*Gateway, func() error, error) {
	senders := []Sender{NewLogSender(log.With("component", "notify"))}
	var closers []func() error

	if cfg.Telegram.BotToken != "" {
		tg, err := NewTelegramSender(cfg.Telegram.BaseURL, cfg.Telegram.BotToken, cfg.Telegram.ChatID)
		if err != nil {
			return nil, nil, err
		}
		senders = append(senders, tg)
	}
	if len(cfg.Kafka.Brokers) > 0 {
		ks, err := NewKafkaSender(cfg.Kafka.Brokers, cfg.Kafka.Topic)
		if err != nil {
			return nil, nil, err
		}
		senders = append(senders, ks)
		closers = append(closers, ks.Close)
	}

	closeAll := func() error {
		var errs []error
		for _, c := range closers {
			errs = append(errs, c())
		}
		return errors.Join(errs...)
	}
	return NewGateway(senders, cfg.MaxRetries, cfg.Backoff, log), closeAll, nil
}
