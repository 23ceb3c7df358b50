// Package domain defines the core types shared by the market, ledger,
// notification and orchestration layers.
package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// ---------------------------------------------------------------------------
// Intents
// ---------------------------------------------------------------------------

// Side is the direction of a trade.
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// ParseSide converts user input such as "BUY" or " sell " into a Side.
func ParseSide(s string) (Side, error) {
	switch Side(strings.ToLower(strings.TrimSpace(s))) {
	case SideBuy:
		return SideBuy, nil
	case SideSell:
		return SideSell, nil
	default:
		return "", fmt.Errorf("unknown side %q", s)
	}
}

// MaxQuantity bounds a single intent. Quantities stay exactly
// representable as float64 on the wire and holdings cannot overflow.
const MaxQuantity int64 = 1_000_000_000

// TradeIntent is a validated request to trade a quantity of one symbol.
type TradeIntent struct {
	Symbol   string `json:"symbol"`
	Side     Side   `json:"side"`
	Quantity int64  `json:"quantity"`
}

// NewTradeIntent normalises the symbol and validates the intent.
func NewTradeIntent(symbol string, side Side, quantity int64) (TradeIntent, error) {
	in := TradeIntent{
		Symbol:   strings.ToUpper(strings.TrimSpace(symbol)),
		Side:     side,
		Quantity: quantity,
	}
	if err := in.Validate(); err != nil {
		return TradeIntent{}, err
	}
	return in, nil
}

// Validate reports whether the intent can be executed at all.
func (in TradeIntent) Validate() error {
	if in.Symbol == "" {
		return fmt.Errorf("symbol is required")
	}
	if in.Side != SideBuy && in.Side != SideSell {
		return fmt.Errorf("unknown side %q", in.Side)
	}
	if in.Quantity <= 0 {
		return fmt.Errorf("quantity must be positive, got %d", in.Quantity)
	}
	if in.Quantity > MaxQuantity {
		return fmt.Errorf("quantity %d exceeds limit %d", in.Quantity, MaxQuantity)
	}
	return nil
}

// String renders the intent as "buy 10 TSLA".
func (in TradeIntent) String() string {
	return fmt.Sprintf("%s %d %s", in.Side, in.Quantity, in.Symbol)
}

// ---------------------------------------------------------------------------
// Quotes
// ---------------------------------------------------------------------------

// QuoteSource identifies which market data slot produced a quote.
type QuoteSource string

const (
	QuoteSourcePrimary  QuoteSource = "primary"
	QuoteSourceFallback QuoteSource = "fallback"
)

// Quote is a tradable price for one symbol, fetched for a single
// orchestration attempt. Quotes are never cached.
type Quote struct {
	Symbol     string          `json:"symbol"`
	Price      decimal.Decimal `json:"price"`
	MarketOpen bool            `json:"market_open"`
	Source     QuoteSource     `json:"source"`
	AsOf       time.Time       `json:"as_of"`
}

// ---------------------------------------------------------------------------
// Accounts and records
// ---------------------------------------------------------------------------

// Account is a snapshot of cash and share holdings. Only the ledger
// mutates the underlying state; callers receive copies. InitialCash is the
// opening deposit and never changes.
type Account struct {
	ID          string           `json:"id"`
	Cash        decimal.Decimal  `json:"cash"`
	InitialCash decimal.Decimal  `json:"initial_cash"`
	Holdings    map[string]int64 `json:"holdings"`
}

// Holding returns the quantity held for symbol, zero if none.
func (a Account) Holding(symbol string) int64 {
	return a.Holdings[symbol]
}

// Clone returns a deep copy of the account.
func (a Account) Clone() Account {
	out := Account{ID: a.ID, Cash: a.Cash, InitialCash: a.InitialCash, Holdings: make(map[string]int64, len(a.Holdings))}
	for sym, qty := range a.Holdings {
		out.Holdings[sym] = qty
	}
	return out
}

// Position is one holding marked at a current price. Price and Value are
// zero when no price could be fetched.
type Position struct {
	Symbol   string          `json:"symbol"`
	Quantity int64           `json:"quantity"`
	Price    decimal.Decimal `json:"price"`
	Value    decimal.Decimal `json:"value"`
}

// Valuation marks an account to market. PortfolioValue is cash plus the
// value of every priced position; ProfitLoss is PortfolioValue less
// InitialCash. Symbols listed in Unpriced are excluded from both.
type Valuation struct {
	AccountID      string          `json:"account_id"`
	Cash           decimal.Decimal `json:"cash"`
	InitialCash    decimal.Decimal `json:"initial_cash"`
	HoldingsValue  decimal.Decimal `json:"holdings_value"`
	PortfolioValue decimal.Decimal `json:"portfolio_value"`
	ProfitLoss     decimal.Decimal `json:"profit_loss"`
	Positions      []Position      `json:"positions"`
	Unpriced       []string        `json:"unpriced,omitempty"`
	AsOf           time.Time       `json:"as_of"`
}

// Complete reports whether every holding was priced.
func (v Valuation) Complete() bool {
	return len(v.Unpriced) == 0
}

// TradeRecord is the immutable journal entry written when a trade settles.
type TradeRecord struct {
	ID               string          `json:"id"`
	AccountID        string          `json:"account_id"`
	Intent           TradeIntent     `json:"intent"`
	Quote            Quote           `json:"quote"`
	Amount           decimal.Decimal `json:"amount"`
	ResultingBalance decimal.Decimal `json:"resulting_balance"`
	Timestamp        time.Time       `json:"timestamp"`
	IdempotencyKey   string          `json:"idempotency_key"`
}

// Notional returns price × quantity for the given intent and quote.
func Notional(in TradeIntent, q Quote) decimal.Decimal {
	return q.Price.Mul(decimal.NewFromInt(in.Quantity))
}

// IdempotencyKey derives the settlement key for one attempt. The same
// (account, intent, epoch) always yields the same key.
func IdempotencyKey(accountID string, in TradeIntent, epoch string) string {
	h := sha256.New()
	for _, part := range []string{accountID, string(in.Side), in.Symbol, strconv.FormatInt(in.Quantity, 10), epoch} {
		h.Write([]byte(part))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}
