package market

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/alpacahq/alpaca-trade-api-go/v3/alpaca"
	"github.com/alpacahq/alpaca-trade-api-go/v3/marketdata"
	"github.com/shopspring/decimal"

	"tradedesk/internal/domain"
)

// Compile-time interface check.
var _ Source = (*AlpacaSource)(nil)

// AlpacaSource quotes the latest trade price from the Alpaca market-data
// API and the open/closed status from the Alpaca trading clock.
type AlpacaSource struct {
	data  *marketdata.Client
	trade *alpaca.Client
}

// NewAlpacaSource creates an AlpacaSource. baseURL is the trading API used
// for the clock; dataURL the market-data API. Empty URLs use SDK defaults.
func NewAlpacaSource(apiKey, apiSecret, baseURL, dataURL string) *AlpacaSource {
	dopts := marketdata.ClientOpts{APIKey: apiKey, APISecret: apiSecret}
	if dataURL != "" {
		dopts.BaseURL = dataURL
	}
	return &AlpacaSource{
		data: marketdata.NewClient(dopts),
		trade: alpaca.NewClient(alpaca.ClientOpts{
			APIKey:    apiKey,
			APISecret: apiSecret,
			BaseURL:   baseURL,
		}),
	}
}

// Name returns "alpaca".
func (s *AlpacaSource) Name() string { return "alpaca" }

// Quote fetches the latest trade and the market clock.
func (s *AlpacaSource) Quote(ctx context.Context, symbol string) (domain.Quote, error) {
	trade, err := callWithContext(ctx, func() (*marketdata.Trade, error) {
		return s.data.GetLatestTrade(symbol, marketdata.GetLatestTradeRequest{})
	})
	if err != nil {
		return domain.Quote{}, classifyAlpacaError("latest trade", err)
	}
	if trade == nil || trade.Price <= 0 {
		return domain.Quote{}, fmt.Errorf("no trades for %s: %w", symbol, ErrPriceUnavailable)
	}

	clock, err := callWithContext(ctx, s.trade.GetClock)
	if err != nil {
		return domain.Quote{}, classifyAlpacaError("clock", err)
	}

	return domain.Quote{
		Symbol:     symbol,
		Price:      decimal.NewFromFloat(trade.Price),
		MarketOpen: clock.IsOpen,
	}, nil
}

// classifyAlpacaError maps "unknown symbol" style API rejections to
// ErrPriceUnavailable and leaves everything else as a transport fault.
func classifyAlpacaError(op string, err error) error {
	var apiErr *alpaca.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.StatusCode {
		case http.StatusNotFound, http.StatusUnprocessableEntity, http.StatusBadRequest:
			return fmt.Errorf("%s: %w: %w", op, ErrPriceUnavailable, err)
		}
	}
	return fmt.Errorf("%s: %w", op, err)
}
