package market

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"tradedesk/internal/domain"
	"tradedesk/internal/util"
)

// Compile-time interface check.
var _ Source = (*SimulatedSource)(nil)

// SimulatedSource serves prices from memory for paper trading and tests.
// Market status follows the US calendar unless forced with SetOpen.
type SimulatedSource struct {
	mu       sync.RWMutex
	name     string
	prices   map[string]decimal.Decimal
	open     *bool
	err      error
	delay    time.Duration
	calendar *util.TradingCalendar
	calls    int
}

// NewSimulatedSource creates a SimulatedSource seeded with prices.
func NewSimulatedSource(name string, prices map[string]decimal.Decimal) *SimulatedSource {
	p := make(map[string]decimal.Decimal, len(prices))
	for sym, v := range prices {
		p[sym] = v
	}
	return &SimulatedSource{name: name, prices: p, calendar: util.NewTradingCalendar()}
}

// Name returns the configured name.
func (s *SimulatedSource) Name() string { return s.name }

// SetPrice sets the price for symbol.
func (s *SimulatedSource) SetPrice(symbol string, price decimal.Decimal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prices[symbol] = price
}

// SetOpen forces the reported market status.
func (s *SimulatedSource) SetOpen(open bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.open = &open
}

// SetError makes every subsequent Quote fail with err (nil clears it).
func (s *SimulatedSource) SetError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
}

// SetDelay makes Quote wait d before answering, honouring ctx.
func (s *SimulatedSource) SetDelay(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.delay = d
}

// Calls returns how many quotes were requested.
func (s *SimulatedSource) Calls() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.calls
}

// Quote returns the seeded price for symbol.
func (s *SimulatedSource) Quote(ctx context.Context, symbol string) (domain.Quote, error) {
	s.mu.Lock()
	s.calls++
	delay, err := s.delay, s.err
	price, ok := s.prices[symbol]
	open := s.open
	s.mu.Unlock()

	if delay > 0 {
		select {
		case <-ctx.Done():
			return domain.Quote{}, ctx.Err()
		case <-time.After(delay):
		}
	}
	if err != nil {
		return domain.Quote{}, err
	}
	if !ok {
		return domain.Quote{}, fmt.Errorf("unknown symbol %s: %w", symbol, ErrPriceUnavailable)
	}

	marketOpen := s.calendar.IsMarketOpen(time.Now())
	if open != nil {
		marketOpen = *open
	}
	return domain.Quote{Symbol: symbol, Price: price, MarketOpen: marketOpen}, nil
}
