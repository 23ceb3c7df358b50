// Package httpapi exposes the trade pipeline, account snapshots and their
// valuations over a JSON REST API.
package httpapi

import (
	"tradedesk/internal/domain"
)

// TradeRequest is the body of POST /api/trades.
type TradeRequest struct {
	Symbol   string `json:"symbol"`
	Side     string `json:"side"`
	Quantity int64  `json:"quantity"`
}

// TradeResponse is the outcome of one trade attempt plus a user-facing
// message.
type TradeResponse struct {
	domain.Outcome
	Message string `json:"message"`
}

// AccountResponse is the body of GET /api/accounts/{id}.
type AccountResponse struct {
	domain.Account
	Valuation *domain.Valuation `json:"valuation,omitempty"`
}

// TradesResponse is the body of GET /api/accounts/{id}/trades.
type TradesResponse struct {
	AccountID string               `json:"account_id"`
	Trades    []domain.TradeRecord `json:"trades"`
}

// ErrorResponse is returned with every non-2xx status.
type ErrorResponse struct {
	Error string `json:"error"`
}
