// Package tradedesk is a Go client for the tradedesk-server HTTP API.
package tradedesk

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"
)

// Quote is the price a trade settled at.
type Quote struct {
	Symbol     string          `json:"symbol"`
	Price      decimal.Decimal `json:"price"`
	MarketOpen bool            `json:"market_open"`
	Source     string          `json:"source"`
	AsOf       time.Time       `json:"as_of"`
}

// Intent is what was asked for.
type Intent struct {
	Symbol   string `json:"symbol"`
	Side     string `json:"side"`
	Quantity int64  `json:"quantity"`
}

// TradeRecord is a settled trade.
type TradeRecord struct {
	ID               string          `json:"id"`
	AccountID        string          `json:"account_id"`
	Intent           Intent          `json:"intent"`
	Quote            Quote           `json:"quote"`
	Amount           decimal.Decimal `json:"amount"`
	ResultingBalance decimal.Decimal `json:"resulting_balance"`
	Timestamp        time.Time       `json:"timestamp"`
}

// Outcome is the result of one trade attempt. Kind is one of success,
// market_closed, price_unavailable, insufficient_funds,
// notification_failed or system_unavailable.
type Outcome struct {
	Kind            string       `json:"kind"`
	Record          *TradeRecord `json:"record,omitempty"`
	FailedComponent string       `json:"failed_component,omitempty"`
	Reason          string       `json:"reason,omitempty"`
	Message         string       `json:"message"`
}

// Settled reports whether the trade took effect.
func (o Outcome) Settled() bool {
	return o.Kind == "success" || o.Kind == "notification_failed"
}

// Position is one holding marked at its last price.
type Position struct {
	Symbol   string          `json:"symbol"`
	Quantity int64           `json:"quantity"`
	Price    decimal.Decimal `json:"price"`
	Value    decimal.Decimal `json:"value"`
}

// Valuation is an account marked to market. Unpriced symbols are left out
// of the totals.
type Valuation struct {
	HoldingsValue  decimal.Decimal `json:"holdings_value"`
	PortfolioValue decimal.Decimal `json:"portfolio_value"`
	ProfitLoss     decimal.Decimal `json:"profit_loss"`
	Positions      []Position      `json:"positions"`
	Unpriced       []string        `json:"unpriced,omitempty"`
	AsOf           time.Time       `json:"as_of"`
}

// Account is a cash and holdings snapshot. Valuation is nil when the
// server does not mark accounts.
type Account struct {
	ID          string           `json:"id"`
	Cash        decimal.Decimal  `json:"cash"`
	InitialCash decimal.Decimal  `json:"initial_cash"`
	Holdings    map[string]int64 `json:"holdings"`
	Valuation   *Valuation       `json:"valuation,omitempty"`
}

// APIError is a non-2xx reply other than a trade outcome.
type APIError struct {
	StatusCode int
	Message    string `json:"error"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("tradedesk: status %d: %s", e.StatusCode, e.Message)
}

// Client provides a Go SDK for interacting with the tradedesk-server API.
type Client struct {
	http *resty.Client
}

// NewClient creates a new tradedesk API client.
func NewClient(baseURL string) *Client {
	return &Client{
		http: resty.New().
			SetBaseURL(baseURL).
			SetTimeout(60*time.Second).
			SetHeader("Accept", "application/json"),
	}
}

// ExecuteTrade submits one trade intent. requestID may be empty; when set,
// resubmitting the same request settles at most once. A system_unavailable
// outcome is returned as an Outcome, not an error.
func (c *Client) ExecuteTrade(ctx context.Context, symbol, side string, quantity int64, requestID string) (*Outcome, error) {
	var out Outcome
	var apiErr APIError
	req := c.http.R().
		SetContext(ctx).
		SetBody(Intent{Symbol: symbol, Side: side, Quantity: quantity}).
		SetResult(&out).
		SetError(&apiErr)
	if requestID != "" {
		req.SetHeader("Idempotency-Key", requestID)
	}
	resp, err := req.Post("/api/trades")
	if err != nil {
		return nil, fmt.Errorf("tradedesk: submitting trade: %w", err)
	}
	// 503 carries an outcome body, which resty routed to the error value.
	if resp.StatusCode() == http.StatusServiceUnavailable {
		if err := json.Unmarshal(resp.Body(), &out); err != nil || out.Kind == "" {
			return nil, &APIError{StatusCode: resp.StatusCode(), Message: string(resp.Body())}
		}
		return &out, nil
	}
	if resp.IsError() {
		apiErr.StatusCode = resp.StatusCode()
		return nil, &apiErr
	}
	return &out, nil
}

// GetAccount retrieves an account snapshot.
func (c *Client) GetAccount(ctx context.Context, accountID string) (*Account, error) {
	var acct Account
	var apiErr APIError
	resp, err := c.http.R().
		SetContext(ctx).
		SetPathParam("id", accountID).
		SetResult(&acct).
		SetError(&apiErr).
		Get("/api/accounts/{id}")
	if err != nil {
		return nil, fmt.Errorf("tradedesk: getting account: %w", err)
	}
	if resp.IsError() {
		apiErr.StatusCode = resp.StatusCode()
		return nil, &apiErr
	}
	return &acct, nil
}

// ListTrades retrieves the newest settled trades, up to limit (0 for the
// server default).
func (c *Client) ListTrades(ctx context.Context, accountID string, limit int) ([]TradeRecord, error) {
	var body struct {
		Trades []TradeRecord `json:"trades"`
	}
	var apiErr APIError
	req := c.http.R().
		SetContext(ctx).
		SetPathParam("id", accountID).
		SetResult(&body).
		SetError(&apiErr)
	if limit > 0 {
		req.SetQueryParam("limit", strconv.Itoa(limit))
	}
	resp, err := req.Get("/api/accounts/{id}/trades")
	if err != nil {
		return nil, fmt.Errorf("tradedesk: listing trades: %w", err)
	}
	if resp.IsError() {
		apiErr.StatusCode = resp.StatusCode()
		return nil, &apiErr
	}
	return body.Trades, nil
}
