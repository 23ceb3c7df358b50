package ledger

import (
	"context"
	"fmt"
	"math/rand"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradedesk/internal/domain"
	"tradedesk/internal/store"
	"tradedesk/internal/util"
)

func quote(symbol string, price int64) domain.Quote {
	return domain.Quote{
		Symbol:     symbol,
		Price:      decimal.NewFromInt(price),
		MarketOpen: true,
		Source:     domain.QuoteSourcePrimary,
		AsOf:       time.Now(),
	}
}

func intent(side domain.Side, symbol string, qty int64) domain.TradeIntent {
	return domain.TradeIntent{Symbol: symbol, Side: side, Quantity: qty}
}

func newService(t *testing.T, cash int64) *Service {
	t.Helper()
	svc := NewService(store.NewMemoryStore(), util.Discard())
	_, err := svc.Open(context.Background(), "alice", decimal.NewFromInt(cash))
	require.NoError(t, err)
	return svc
}

func TestSettleBuy(t *testing.T) {
	// Account{cash=2000}; buy 10 TSLA at 150 -> cash=500, TSLA=10.
	svc := newService(t, 2000)
	ctx := context.Background()

	rec, err := svc.Settle(ctx, "alice", intent(domain.SideBuy, "TSLA", 10), quote("TSLA", 150), "k1")
	require.NoError(t, err)
	assert.True(t, rec.Amount.Equal(decimal.NewFromInt(1500)))
	assert.True(t, rec.ResultingBalance.Equal(decimal.NewFromInt(500)))
	assert.Equal(t, "k1", rec.IdempotencyKey)
	assert.NotEmpty(t, rec.ID)

	acct, err := svc.Account(ctx, "alice")
	require.NoError(t, err)
	assert.True(t, acct.Cash.Equal(decimal.NewFromInt(500)))
	assert.Equal(t, map[string]int64{"TSLA": 10}, acct.Holdings)
}

func TestSettleInsufficientFunds(t *testing.T) {
	svc := newService(t, 100)
	ctx := context.Background()

	_, err := svc.Settle(ctx, "alice", intent(domain.SideBuy, "TSLA", 10), quote("TSLA", 150), "k1")
	assert.ErrorIs(t, err, ErrInsufficientFunds)

	acct, err := svc.Account(ctx, "alice")
	require.NoError(t, err)
	assert.True(t, acct.Cash.Equal(decimal.NewFromInt(100)))
	assert.Empty(t, acct.Holdings)
}

func TestSettleSell(t *testing.T) {
	svc := newService(t, 2000)
	ctx := context.Background()

	_, err := svc.Settle(ctx, "alice", intent(domain.SideBuy, "TSLA", 10), quote("TSLA", 150), "k1")
	require.NoError(t, err)

	_, err = svc.Settle(ctx, "alice", intent(domain.SideSell, "TSLA", 11), quote("TSLA", 160), "k2")
	assert.ErrorIs(t, err, ErrInsufficientFunds)

	rec, err := svc.Settle(ctx, "alice", intent(domain.SideSell, "TSLA", 10), quote("TSLA", 160), "k3")
	require.NoError(t, err)
	assert.True(t, rec.ResultingBalance.Equal(decimal.NewFromInt(2100)))

	acct, err := svc.Account(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, int64(0), acct.Holding("TSLA"))
	assert.True(t, acct.Cash.Equal(decimal.NewFromInt(2100)))

	// Nothing held in a symbol never bought.
	_, err = svc.Settle(ctx, "alice", intent(domain.SideSell, "AAPL", 1), quote("AAPL", 10), "k4")
	assert.ErrorIs(t, err, ErrInsufficientFunds)
}

func TestSettleIdempotent(t *testing.T) {
	svc := newService(t, 2000)
	ctx := context.Background()
	in := intent(domain.SideBuy, "TSLA", 10)

	first, err := svc.Settle(ctx, "alice", in, quote("TSLA", 150), "same")
	require.NoError(t, err)
	// A retry carrying a different quote still returns the original record.
	second, err := svc.Settle(ctx, "alice", in, quote("TSLA", 1), "same")
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.True(t, first.Amount.Equal(second.Amount))

	acct, err := svc.Account(ctx, "alice")
	require.NoError(t, err)
	assert.True(t, acct.Cash.Equal(decimal.NewFromInt(500)))
	assert.Equal(t, int64(10), acct.Holding("TSLA"))

	recs, err := svc.Records(ctx, "alice", 0)
	require.NoError(t, err)
	assert.Len(t, recs, 1)
}

func TestSettleUnknownAccount(t *testing.T) {
	svc := newService(t, 2000)
	_, err := svc.Settle(context.Background(), "bob", intent(domain.SideBuy, "TSLA", 1), quote("TSLA", 1), "k")
	assert.ErrorIs(t, err, ErrAccountNotFound)

	_, err = svc.Account(context.Background(), "bob")
	assert.ErrorIs(t, err, ErrAccountNotFound)
}

func TestSettleRejectsBadInput(t *testing.T) {
	svc := newService(t, 2000)
	ctx := context.Background()

	_, err := svc.Settle(ctx, "alice", intent(domain.SideBuy, "TSLA", 0), quote("TSLA", 1), "k")
	assert.Error(t, err)
	_, err = svc.Settle(ctx, "alice", intent(domain.SideBuy, "TSLA", 1), quote("TSLA", 0), "k")
	assert.Error(t, err)
	_, err = svc.Settle(ctx, "alice", intent(domain.SideBuy, "TSLA", domain.MaxQuantity+1), quote("TSLA", 1), "k")
	assert.ErrorContains(t, err, "exceeds limit")

	acct, err := svc.Account(ctx, "alice")
	require.NoError(t, err)
	assert.True(t, acct.Cash.Equal(decimal.NewFromInt(2000)))
	assert.Empty(t, acct.Holdings)
}

// The opening deposit survives settlements in both stores.
func TestOpenRecordsInitialCash(t *testing.T) {
	sq, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "ledger.db"))
	require.NoError(t, err)
	t.Cleanup(func() { sq.Close() })

	for name, s := range map[string]store.LedgerStore{"memory": store.NewMemoryStore(), "sqlite": sq} {
		t.Run(name, func(t *testing.T) {
			svc := NewService(s, util.Discard())
			ctx := context.Background()
			_, err := svc.Open(ctx, "alice", decimal.NewFromInt(2000))
			require.NoError(t, err)
			_, err = svc.Settle(ctx, "alice", intent(domain.SideBuy, "TSLA", 10), quote("TSLA", 150), "k1")
			require.NoError(t, err)

			acct, err := svc.Account(ctx, "alice")
			require.NoError(t, err)
			assert.True(t, acct.Cash.Equal(decimal.NewFromInt(500)))
			assert.True(t, acct.InitialCash.Equal(decimal.NewFromInt(2000)))
		})
	}
}

// Random buy/sell sequences never drive cash or holdings negative.
func TestNoOverdraftNoShortSale(t *testing.T) {
	svc := newService(t, 5000)
	ctx := context.Background()
	rng := rand.New(rand.NewSource(7))
	symbols := []string{"TSLA", "AAPL", "MSFT"}

	for i := 0; i < 500; i++ {
		side := domain.SideBuy
		if rng.Intn(2) == 0 {
			side = domain.SideSell
		}
		sym := symbols[rng.Intn(len(symbols))]
		_, err := svc.Settle(ctx, "alice",
			intent(side, sym, int64(rng.Intn(20)+1)),
			quote(sym, int64(rng.Intn(300)+1)),
			fmt.Sprintf("k%d", i))
		if err != nil {
			require.ErrorIs(t, err, ErrInsufficientFunds)
		}

		acct, err := svc.Account(ctx, "alice")
		require.NoError(t, err)
		require.False(t, acct.Cash.IsNegative(), "cash went negative at step %d", i)
		for s, q := range acct.Holdings {
			require.GreaterOrEqual(t, q, int64(0), "holding %s negative at step %d", s, i)
		}
	}
}

func TestConcurrentSettlementsSerialise(t *testing.T) {
	backends := map[string]func(t *testing.T) store.LedgerStore{
		"memory": func(*testing.T) store.LedgerStore { return store.NewMemoryStore() },
		"sqlite": func(t *testing.T) store.LedgerStore {
			s, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "ledger.db"))
			require.NoError(t, err)
			t.Cleanup(func() { s.Close() })
			return s
		},
	}
	for name, mk := range backends {
		t.Run(name, func(t *testing.T) {
			svc := NewService(mk(t), util.Discard())
			ctx := context.Background()
			// Cash for exactly 5 of 20 buys.
			_, err := svc.Open(ctx, "alice", decimal.NewFromInt(5*1500))
			require.NoError(t, err)

			var wg sync.WaitGroup
			var ok, rejected atomic.Int32
			for i := 0; i < 20; i++ {
				wg.Add(1)
				go func(i int) {
					defer wg.Done()
					_, err := svc.Settle(ctx, "alice", intent(domain.SideBuy, "TSLA", 10), quote("TSLA", 150), fmt.Sprintf("k%d", i))
					switch {
					case err == nil:
						ok.Add(1)
					case assert.ErrorIs(t, err, ErrInsufficientFunds):
						rejected.Add(1)
					}
				}(i)
			}
			wg.Wait()

			assert.Equal(t, int32(5), ok.Load())
			assert.Equal(t, int32(15), rejected.Load())

			acct, err := svc.Account(ctx, "alice")
			require.NoError(t, err)
			assert.True(t, acct.Cash.IsZero(), "cash = %s", acct.Cash)
			assert.Equal(t, int64(50), acct.Holding("TSLA"))
		})
	}
}

func TestAccountLocksArePerAccount(t *testing.T) {
	locks := newAccountLocks()
	ctx := context.Background()

	unlockA, err := locks.lock(ctx, "a")
	require.NoError(t, err)

	// Another account is not blocked.
	unlockB, err := locks.lock(ctx, "b")
	require.NoError(t, err)
	unlockB()

	// The same account is blocked until released.
	tctx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	_, err = locks.lock(tctx, "a")
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	unlockA()
	unlockA2, err := locks.lock(ctx, "a")
	require.NoError(t, err)
	unlockA2()

	assert.Empty(t, locks.locks)
}
