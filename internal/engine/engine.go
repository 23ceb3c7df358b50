// Package engine runs the trade pipeline: quote, settle, notify. Each call
// produces exactly one domain.Outcome and never returns an error.
package engine

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"tradedesk/internal/domain"
	"tradedesk/internal/ledger"
	"tradedesk/internal/market"
	"tradedesk/internal/notify"
)

// Quoter supplies a fresh quote. *market.Gateway satisfies it.
type Quoter interface {
	GetQuote(ctx context.Context, symbol string) (domain.Quote, error)
}

// Ledger settles trades. *ledger.Service and *api.LedgerClient satisfy it.
type Ledger interface {
	Settle(ctx context.Context, accountID string, intent domain.TradeIntent, quote domain.Quote, key string) (domain.TradeRecord, error)
}

// Notifier delivers a settled trade. *notify.Gateway satisfies it.
type Notifier interface {
	Notify(ctx context.Context, msg notify.Message) error
}

// Journal archives settled records. It runs after the outcome is decided
// under Config.JournalTimeout; failures are logged and otherwise ignored.
type Journal interface {
	Record(ctx context.Context, rec domain.TradeRecord) error
}

// Config holds the account the orchestrator trades for and the per-stage
// timeouts.
type Config struct {
	AccountID      string
	QuoteTimeout   time.Duration
	SettleTimeout  time.Duration
	NotifyTimeout  time.Duration
	JournalTimeout time.Duration
}

const (
	// settleAttempts is the first settlement call plus one retry.
	settleAttempts = 2

	defaultJournalTimeout = 5 * time.Second
)

// Orchestrator sequences the market, ledger and notification calls for a
// single account.
type Orchestrator struct {
	cfg      Config
	quoter   Quoter
	ledger   Ledger
	notifier Notifier
	journal  Journal
	newEpoch func() string
	log      *slog.Logger
}

// Option customises an Orchestrator.
type Option func(*Orchestrator)

// WithJournal archives every settled record.
func WithJournal(j Journal) Option {
	return func(o *Orchestrator) { o.journal = j }
}

// WithLogger sets the logger.
func WithLogger(log *slog.Logger) Option {
	return func(o *Orchestrator) { o.log = log }
}

// WithEpochSource overrides how Execute generates attempt epochs.
func WithEpochSource(fn func() string) Option {
	return func(o *Orchestrator) { o.newEpoch = fn }
}

// New creates an Orchestrator wired with the given collaborators.
func New(cfg Config, q Quoter, l Ledger, n Notifier, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		cfg:      cfg,
		quoter:   q,
		ledger:   l,
		notifier: n,
		newEpoch: uuid.NewString,
		log:      slog.Default(),
	}
	for _, opt := range opts {
		opt(o)
	}
	o.log = o.log.With("component", "engine", "account", cfg.AccountID)
	return o
}

// Execute runs one trade attempt with a fresh epoch.
func (o *Orchestrator) Execute(ctx context.Context, intent domain.TradeIntent) domain.Outcome {
	return o.ExecuteWithEpoch(ctx, intent, o.newEpoch())
}

// ExecuteWithEpoch runs one trade attempt. Calls that share an epoch and an
// intent share a settlement key, so a caller resubmitting the same request
// settles at most once.
func (o *Orchestrator) ExecuteWithEpoch(ctx context.Context, intent domain.TradeIntent, epoch string) domain.Outcome {
	log := o.log.With("intent", intent.String(), "symbol", intent.Symbol, "epoch", epoch)
	start := time.Now()

	if err := intent.Validate(); err != nil {
		return o.finish(log, "validate", start, domain.PriceUnavailable("invalid intent: "+err.Error()))
	}

	// Quote.
	quote, err := o.fetchQuote(ctx, intent.Symbol)
	if err != nil {
		if errors.Is(err, market.ErrPriceUnavailable) {
			return o.finish(log, "quote", start, domain.PriceUnavailable(err.Error()))
		}
		return o.finish(log, "quote", start, domain.SystemUnavailable(domain.ComponentMarketGateway, err.Error()))
	}
	log = log.With("price", quote.Price.String(), "source", quote.Source)
	if !quote.MarketOpen {
		return o.finish(log, "quote", start, domain.MarketClosed())
	}

	// Settle.
	key := domain.IdempotencyKey(o.cfg.AccountID, intent, epoch)
	rec, err := o.settle(ctx, log, intent, quote, key)
	if err != nil {
		if errors.Is(err, ledger.ErrInsufficientFunds) {
			return o.finish(log, "settle", start, domain.InsufficientFunds(err.Error()))
		}
		return o.finish(log, "settle", start, domain.SystemUnavailable(domain.ComponentLedgerService, err.Error()))
	}
	log = log.With("record", rec.ID)

	// Notify. The trade stands whatever happens here.
	out := domain.Success(rec)
	if err := o.notify(ctx, rec); err != nil {
		out = domain.NotificationFailed(rec, err.Error())
	}
	out = o.finish(log, "notify", start, out)
	o.archive(ctx, log, rec)
	return out
}

func (o *Orchestrator) fetchQuote(ctx context.Context, symbol string) (domain.Quote, error) {
	qctx, cancel := withTimeout(ctx, o.cfg.QuoteTimeout)
	defer cancel()
	return o.quoter.GetQuote(qctx, symbol)
}

// settle calls the ledger, retrying once with the same key on faults other
// than a business rejection. Caller cancellation stops the retry.
func (o *Orchestrator) settle(ctx context.Context, log *slog.Logger, intent domain.TradeIntent, quote domain.Quote, key string) (domain.TradeRecord, error) {
	var err error
	for attempt := 1; attempt <= settleAttempts; attempt++ {
		if cerr := ctx.Err(); cerr != nil {
			return domain.TradeRecord{}, errors.Join(err, cerr)
		}

		sctx, cancel := withTimeout(ctx, o.cfg.SettleTimeout)
		var rec domain.TradeRecord
		rec, err = o.ledger.Settle(sctx, o.cfg.AccountID, intent, quote, key)
		cancel()
		if err == nil {
			return rec, nil
		}
		if errors.Is(err, ledger.ErrInsufficientFunds) || errors.Is(err, ledger.ErrAccountNotFound) {
			return domain.TradeRecord{}, err
		}
		log.Warn("settlement failed", "attempt", attempt, "error", err)
	}
	return domain.TradeRecord{}, err
}

func (o *Orchestrator) archive(ctx context.Context, log *slog.Logger, rec domain.TradeRecord) {
	if o.journal == nil {
		return
	}
	timeout := o.cfg.JournalTimeout
	if timeout <= 0 {
		timeout = defaultJournalTimeout
	}
	jctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
	defer cancel()
	if err := o.journal.Record(jctx, rec); err != nil {
		log.Warn("journal write failed", "error", err)
	}
}

func (o *Orchestrator) notify(ctx context.Context, rec domain.TradeRecord) error {
	nctx, cancel := withTimeout(ctx, o.cfg.NotifyTimeout)
	defer cancel()
	return o.notifier.Notify(nctx, notify.FromRecord(rec))
}

func (o *Orchestrator) finish(log *slog.Logger, stage string, start time.Time, out domain.Outcome) domain.Outcome {
	attrs := []any{"stage", stage, "outcome", out.Kind, "elapsed", time.Since(start)}
	if out.FailedComponent != "" {
		attrs = append(attrs, "component", out.FailedComponent)
	}
	if out.Reason != "" {
		attrs = append(attrs, "reason", out.Reason)
	}
	switch out.Kind {
	case domain.OutcomeSuccess:
		log.Info("trade executed", attrs...)
	case domain.OutcomeSystemUnavailable, domain.OutcomeNotificationFailed:
		log.Error("trade attempt degraded", attrs...)
	default:
		log.Info("trade not executed", attrs...)
	}
	return out
}

// withTimeout applies d when positive.
func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}
