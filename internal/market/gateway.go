// Package market resolves symbols to tradable quotes using an ordered pair
// of data sources: a primary and exactly one fallback.
package market

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"tradedesk/internal/domain"
)

var (
	// ErrPriceUnavailable means a source answered but had no usable price.
	ErrPriceUnavailable = errors.New("price unavailable")
	// ErrUnreachable means the source could not be reached in time.
	ErrUnreachable = errors.New("market data source unreachable")
)

// Source fetches a quote from one market data provider. Implementations
// return errors wrapping ErrPriceUnavailable for domain rejections; any
// other error is treated as a transport fault.
type Source interface {
	Name() string
	Quote(ctx context.Context, symbol string) (domain.Quote, error)
}

// Gateway queries the primary source and, on any failure, the fallback.
type Gateway struct {
	primary  Source
	fallback Source
	timeout  time.Duration
	now      func() time.Time
	log      *slog.Logger
}

// Option customises a Gateway.
type Option func(*Gateway)

// WithClock overrides the clock used to stamp AsOf.
func WithClock(now func() time.Time) Option {
	return func(g *Gateway) { g.now = now }
}

// WithLogger sets the gateway logger.
func WithLogger(log *slog.Logger) Option {
	return func(g *Gateway) { g.log = log }
}

// NewGateway creates a Gateway. timeout bounds each source attempt
// separately.
func NewGateway(primary, fallback Source, timeout time.Duration, opts ...Option) *Gateway {
	g := &Gateway{
		primary:  primary,
		fallback: fallback,
		timeout:  timeout,
		now:      time.Now,
		log:      slog.Default(),
	}
	for _, opt := range opts {
		opt(g)
	}
	g.log = g.log.With("component", "market")
	return g
}

// GetQuote returns a fresh quote for symbol. A closed market is reported
// through Quote.MarketOpen, not as an error. When both sources fail the
// error wraps ErrPriceUnavailable if either source gave a domain answer,
// otherwise ErrUnreachable. Caller cancellation is returned as-is.
func (g *Gateway) GetQuote(ctx context.Context, symbol string) (domain.Quote, error) {
	q, primaryErr := g.attempt(ctx, g.primary, symbol)
	if primaryErr == nil {
		q.Source = domain.QuoteSourcePrimary
		return q, nil
	}
	if ctx.Err() != nil {
		return domain.Quote{}, ctx.Err()
	}
	g.log.Warn("primary quote failed, trying fallback",
		"symbol", symbol, "source", g.primary.Name(), "error", primaryErr)

	q, fallbackErr := g.attempt(ctx, g.fallback, symbol)
	if fallbackErr == nil {
		q.Source = domain.QuoteSourceFallback
		return q, nil
	}
	if ctx.Err() != nil {
		return domain.Quote{}, ctx.Err()
	}
	g.log.Warn("fallback quote failed",
		"symbol", symbol, "source", g.fallback.Name(), "error", fallbackErr)

	if errors.Is(primaryErr, ErrPriceUnavailable) || errors.Is(fallbackErr, ErrPriceUnavailable) {
		return domain.Quote{}, fmt.Errorf("%s: %w", symbol, errors.Join(ErrPriceUnavailable, primaryErr, fallbackErr))
	}
	return domain.Quote{}, fmt.Errorf("%s: %w", symbol, errors.Join(ErrUnreachable, primaryErr, fallbackErr))
}

func (g *Gateway) attempt(ctx context.Context, src Source, symbol string) (domain.Quote, error) {
	actx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	q, err := src.Quote(actx, symbol)
	if err != nil {
		return domain.Quote{}, fmt.Errorf("%s: %w", src.Name(), err)
	}
	if !q.Price.IsPositive() {
		return domain.Quote{}, fmt.Errorf("%s: non-positive price %s: %w", src.Name(), q.Price, ErrPriceUnavailable)
	}
	q.Symbol = symbol
	q.AsOf = g.now()
	return q, nil
}

// ---------------------------------------------------------------------------
// Decorators
// ---------------------------------------------------------------------------

// AlwaysOpen wraps a source so that every quote reports an open market.
// Used for after-hours paper trading.
type AlwaysOpen struct {
	Source
}

// Quote delegates to the wrapped source and forces MarketOpen.
func (a AlwaysOpen) Quote(ctx context.Context, symbol string) (domain.Quote, error) {
	q, err := a.Source.Quote(ctx, symbol)
	if err != nil {
		return q, err
	}
	q.MarketOpen = true
	return q, nil
}

// callWithContext runs a blocking SDK call on its own goroutine so that the
// caller can give up when ctx ends. The call itself may outlive ctx.
func callWithContext[T any](ctx context.Context, fn func() (T, error)) (T, error) {
	type result struct {
		v   T
		err error
	}
	ch := make(chan result, 1)
	go func() {
		v, err := fn()
		ch <- result{v, err}
	}()
	select {
	case r := <-ch:
		return r.v, r.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}
