// Package notify delivers trade outcomes to humans and downstream systems.
// Delivery is best-effort: the package never touches the ledger and its
// failures never undo a settled trade.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"tradedesk/internal/util"
)

// ErrDeliveryFailed is returned when a message could not be delivered
// after all retries.
var ErrDeliveryFailed = errors.New("notification delivery failed")

// Sender delivers a message over one channel.
type Sender interface {
	Name() string
	Send(ctx context.Context, msg Message) error
}

// Gateway fans a message out to its senders, retrying each with
// exponential backoff.
type Gateway struct {
	senders    []Sender
	maxRetries int
	backoff    time.Duration
	log        *slog.Logger
}

// NewGateway creates a Gateway. maxRetries is the number of additional
// attempts per sender after the first one fails.
func NewGateway(senders []Sender, maxRetries int, backoff time.Duration, log *slog.Logger) *Gateway {
	if log == nil {
		log = slog.Default()
	}
	if maxRetries < 0 {
		maxRetries = 0
	}
	return &Gateway{
		senders:    senders,
		maxRetries: maxRetries,
		backoff:    backoff,
		log:        log.With("component", "notify"),
	}
}

// Notify delivers msg to every sender. It returns an error wrapping
// ErrDeliveryFailed if any sender is still failing after its retries or
// ctx ends first.
func (g *Gateway) Notify(ctx context.Context, msg Message) error {
	var errs []error
	for _, s := range g.senders {
		if err := g.deliver(ctx, s, msg); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrDeliveryFailed, errors.Join(errs...))
	}
	return nil
}

func (g *Gateway) deliver(ctx context.Context, s Sender, msg Message) error {
	err := util.Retry(ctx, g.maxRetries+1, g.backoff, func(attempt int) error {
		if err := ctx.Err(); err != nil {
			return util.Permanent(err)
		}
		err := s.Send(ctx, msg)
		if err != nil {
			g.log.Warn("send failed", "sender", s.Name(), "attempt", attempt+1, "error", err)
		}
		return err
	})
	if err != nil {
		g.log.Error("giving up on notification", "sender", s.Name(), "record", msg.Record.ID, "error", err)
		return err
	}
	g.log.Debug("notification sent", "sender", s.Name(), "record", msg.Record.ID)
	return nil
}
