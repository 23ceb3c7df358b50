package market

import (
	"context"
	"fmt"
	"net/http"

	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"

	"tradedesk/internal/domain"
	"tradedesk/internal/util"
)

// Compile-time interface check.
var _ Source = (*PolygonSource)(nil)

// PolygonPlan selects which Polygon endpoints are used for prices.
type PolygonPlan string

const (
	// PolygonFree uses the previous-day close (end-of-day data only).
	PolygonFree PolygonPlan = "free"
	// PolygonPaid uses the minute bar from the ticker snapshot.
	PolygonPaid PolygonPlan = "paid"
)

// PolygonSource quotes prices and market status from the Polygon REST API.
type PolygonSource struct {
	client  *resty.Client
	plan    PolygonPlan
	limiter *util.RateLimiter
}

// NewPolygonSource creates a PolygonSource. limiter may be nil; the free
// plan is normally limited to 5 requests per minute.
func NewPolygonSource(baseURL, apiKey string, plan PolygonPlan, limiter *util.RateLimiter) *PolygonSource {
	client := resty.New().
		SetBaseURL(baseURL).
		SetQueryParam("apiKey", apiKey).
		SetHeader("Accept", "application/json")
	return &PolygonSource{client: client, plan: plan, limiter: limiter}
}

// Name returns "polygon".
func (s *PolygonSource) Name() string { return "polygon" }

type polygonMarketStatus struct {
	Market string `json:"market"`
}

type polygonPrevClose struct {
	Status       string `json:"status"`
	ResultsCount int    `json:"resultsCount"`
	Results      []struct {
		Ticker string  `json:"T"`
		Close  float64 `json:"c"`
	} `json:"results"`
}

type polygonSnapshot struct {
	Status string `json:"status"`
	Ticker struct {
		Min struct {
			Close float64 `json:"c"`
		} `json:"min"`
		LastTrade struct {
			Price float64 `json:"p"`
		} `json:"lastTrade"`
	} `json:"ticker"`
}

// Quote fetches the market status and a price for symbol.
func (s *PolygonSource) Quote(ctx context.Context, symbol string) (domain.Quote, error) {
	var status polygonMarketStatus
	if err := s.get(ctx, "/v1/marketstatus/now", nil, &status); err != nil {
		return domain.Quote{}, fmt.Errorf("market status: %w", err)
	}

	price, err := s.price(ctx, symbol)
	if err != nil {
		return domain.Quote{}, err
	}

	return domain.Quote{
		Symbol:     symbol,
		Price:      decimal.NewFromFloat(price),
		MarketOpen: status.Market == "open",
	}, nil
}

func (s *PolygonSource) price(ctx context.Context, symbol string) (float64, error) {
	params := map[string]string{"ticker": symbol}
	if s.plan == PolygonPaid {
		var snap polygonSnapshot
		if err := s.get(ctx, "/v2/snapshot/locale/us/markets/stocks/tickers/{ticker}", params, &snap); err != nil {
			return 0, fmt.Errorf("snapshot: %w", err)
		}
		if p := snap.Ticker.Min.Close; p > 0 {
			return p, nil
		}
		if p := snap.Ticker.LastTrade.Price; p > 0 {
			return p, nil
		}
		return 0, fmt.Errorf("empty snapshot for %s: %w", symbol, ErrPriceUnavailable)
	}

	var prev polygonPrevClose
	if err := s.get(ctx, "/v2/aggs/ticker/{ticker}/prev", params, &prev); err != nil {
		return 0, fmt.Errorf("previous close: %w", err)
	}
	if len(prev.Results) == 0 || prev.Results[0].Close <= 0 {
		return 0, fmt.Errorf("no previous close for %s: %w", symbol, ErrPriceUnavailable)
	}
	return prev.Results[0].Close, nil
}

func (s *PolygonSource) get(ctx context.Context, path string, pathParams map[string]string, out any) error {
	if s.limiter != nil {
		if err := s.limiter.Wait(ctx); err != nil {
			return err
		}
	}

	resp, err := s.client.R().
		SetContext(ctx).
		SetPathParams(pathParams).
		SetResult(out).
		Get(path)
	if err != nil {
		return err
	}
	if resp.IsError() {
		switch resp.StatusCode() {
		case http.StatusNotFound, http.StatusBadRequest:
			return fmt.Errorf("status %d: %w", resp.StatusCode(), ErrPriceUnavailable)
		default:
			return fmt.Errorf("status %d", resp.StatusCode())
		}
	}
	return nil
}
