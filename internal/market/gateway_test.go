package market

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradedesk/internal/domain"
	"tradedesk/internal/util"
)

func newSources() (*SimulatedSource, *SimulatedSource) {
	prices := map[string]decimal.Decimal{"TSLA": decimal.NewFromInt(150)}
	p := NewSimulatedSource("primary", prices)
	f := NewSimulatedSource("fallback", prices)
	p.SetOpen(true)
	f.SetOpen(true)
	return p, f
}

func newTestGateway(p, f Source, at time.Time) *Gateway {
	return NewGateway(p, f, 50*time.Millisecond, WithClock(func() time.Time { return at }), WithLogger(util.Discard()))
}

func TestGatewayPrimary(t *testing.T) {
	p, f := newSources()
	at := time.Date(2024, 6, 12, 15, 0, 0, 0, time.UTC)
	g := newTestGateway(p, f, at)

	q, err := g.GetQuote(context.Background(), "TSLA")
	require.NoError(t, err)
	assert.Equal(t, domain.QuoteSourcePrimary, q.Source)
	assert.True(t, q.Price.Equal(decimal.NewFromInt(150)))
	assert.True(t, q.MarketOpen)
	assert.Equal(t, at, q.AsOf)
	assert.Equal(t, 0, f.Calls())
}

func TestGatewayFallbackOnError(t *testing.T) {
	p, f := newSources()
	p.SetError(errors.New("connection refused"))
	g := newTestGateway(p, f, time.Now())

	q, err := g.GetQuote(context.Background(), "TSLA")
	require.NoError(t, err)
	assert.Equal(t, domain.QuoteSourceFallback, q.Source)
	assert.Equal(t, 1, p.Calls())
	assert.Equal(t, 1, f.Calls())
}

func TestGatewayFallbackOnTimeout(t *testing.T) {
	p, f := newSources()
	p.SetDelay(time.Second)
	g := newTestGateway(p, f, time.Now())

	q, err := g.GetQuote(context.Background(), "TSLA")
	require.NoError(t, err)
	assert.Equal(t, domain.QuoteSourceFallback, q.Source)
}

func TestGatewayBothTimeOut(t *testing.T) {
	p, f := newSources()
	p.SetDelay(time.Second)
	f.SetDelay(time.Second)
	g := newTestGateway(p, f, time.Now())

	_, err := g.GetQuote(context.Background(), "TSLA")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnreachable)
	assert.NotErrorIs(t, err, ErrPriceUnavailable)
	assert.Equal(t, 1, f.Calls(), "exactly one fallback attempt")
}

func TestGatewayUnknownSymbolIsPriceUnavailable(t *testing.T) {
	p, f := newSources()
	g := newTestGateway(p, f, time.Now())

	_, err := g.GetQuote(context.Background(), "NOPE")
	assert.ErrorIs(t, err, ErrPriceUnavailable)
	assert.NotErrorIs(t, err, ErrUnreachable)
}

func TestGatewayMixedFailureIsPriceUnavailable(t *testing.T) {
	p, f := newSources()
	p.SetError(errors.New("503"))
	f.SetPrice("TSLA", decimal.Zero)
	g := newTestGateway(p, f, time.Now())

	_, err := g.GetQuote(context.Background(), "TSLA")
	assert.ErrorIs(t, err, ErrPriceUnavailable)
}

func TestGatewayClosedMarketIsAQuote(t *testing.T) {
	p, f := newSources()
	p.SetOpen(false)
	g := newTestGateway(p, f, time.Now())

	q, err := g.GetQuote(context.Background(), "TSLA")
	require.NoError(t, err)
	assert.False(t, q.MarketOpen)
	assert.Equal(t, 0, f.Calls())
}

func TestGatewayCallerCancelled(t *testing.T) {
	p, f := newSources()
	p.SetDelay(time.Second)
	g := NewGateway(p, f, time.Minute, WithLogger(util.Discard()))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := g.GetQuote(ctx, "TSLA")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 0, f.Calls())
}

func TestGatewayNeverCaches(t *testing.T) {
	p, f := newSources()
	g := NewGateway(p, f, time.Second, WithLogger(util.Discard()))

	q1, err := g.GetQuote(context.Background(), "TSLA")
	require.NoError(t, err)
	p.SetPrice("TSLA", decimal.NewFromInt(151))
	q2, err := g.GetQuote(context.Background(), "TSLA")
	require.NoError(t, err)

	assert.True(t, q1.Price.Equal(decimal.NewFromInt(150)))
	assert.True(t, q2.Price.Equal(decimal.NewFromInt(151)))
	assert.Equal(t, 2, p.Calls())
}

func TestAlwaysOpen(t *testing.T) {
	p, _ := newSources()
	p.SetOpen(false)

	q, err := AlwaysOpen{p}.Quote(context.Background(), "TSLA")
	require.NoError(t, err)
	assert.True(t, q.MarketOpen)
}
