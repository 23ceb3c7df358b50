// Package portfolio marks ledger accounts to market.
package portfolio

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"tradedesk/internal/domain"
)

// maxConcurrentQuotes bounds parallel quote fetches for one valuation.
const maxConcurrentQuotes = 4

// Quoter supplies a last price. *market.Gateway satisfies it.
type Quoter interface {
	GetQuote(ctx context.Context, symbol string) (domain.Quote, error)
}

// Valuer prices account holdings through the market gateway.
type Valuer struct {
	quoter Quoter
	now    func() time.Time
	log    *slog.Logger
}

// NewValuer creates a Valuer.
func NewValuer(q Quoter, log *slog.Logger) *Valuer {
	if log == nil {
		log = slog.Default()
	}
	return &Valuer{quoter: q, now: time.Now, log: log.With("component", "portfolio")}
}

// Value marks acct to market. Holdings that cannot be priced are listed in
// Unpriced and left out of the totals; Value itself never fails.
func (v *Valuer) Value(ctx context.Context, acct domain.Account) domain.Valuation {
	symbols := make([]string, 0, len(acct.Holdings))
	for sym, qty := range acct.Holdings {
		if qty > 0 {
			symbols = append(symbols, sym)
		}
	}
	sort.Strings(symbols)

	positions := make([]domain.Position, len(symbols))
	priced := make([]bool, len(symbols))

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrentQuotes)
	for i, sym := range symbols {
		positions[i] = domain.Position{Symbol: sym, Quantity: acct.Holding(sym)}
		g.Go(func() error {
			q, err := v.quoter.GetQuote(gctx, sym)
			if err != nil {
				v.log.Warn("holding not priced", "account", acct.ID, "symbol", sym, "error", err)
				return nil
			}
			mu.Lock()
			defer mu.Unlock()
			positions[i].Price = q.Price
			positions[i].Value = q.Price.Mul(decimal.NewFromInt(positions[i].Quantity))
			priced[i] = true
			return nil
		})
	}
	_ = g.Wait()

	val := domain.Valuation{
		AccountID:     acct.ID,
		Cash:          acct.Cash,
		InitialCash:   acct.InitialCash,
		HoldingsValue: decimal.Zero,
		Positions:     positions,
		AsOf:          v.now().UTC(),
	}
	for i, p := range positions {
		if !priced[i] {
			val.Unpriced = append(val.Unpriced, p.Symbol)
			continue
		}
		val.HoldingsValue = val.HoldingsValue.Add(p.Value)
	}
	val.PortfolioValue = acct.Cash.Add(val.HoldingsValue)
	val.ProfitLoss = val.PortfolioValue.Sub(acct.InitialCash)
	return val
}
