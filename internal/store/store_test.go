package store

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradedesk/internal/domain"
)

func newSQLite(t *testing.T) LedgerStore {
	t.Helper()
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "ledger.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func newMemory(t *testing.T) LedgerStore {
	return NewMemoryStore()
}

var stores = map[string]func(t *testing.T) LedgerStore{
	"sqlite": newSQLite,
	"memory": newMemory,
}

func sampleRecord(accountID, key string, ts time.Time, balance decimal.Decimal) domain.TradeRecord {
	return domain.TradeRecord{
		ID:        "rec-" + key,
		AccountID: accountID,
		Intent:    domain.TradeIntent{Symbol: "TSLA", Side: domain.SideBuy, Quantity: 10},
		Quote: domain.Quote{
			Symbol:     "TSLA",
			Price:      decimal.NewFromInt(150),
			MarketOpen: true,
			Source:     domain.QuoteSourcePrimary,
			AsOf:       ts,
		},
		Amount:           decimal.NewFromInt(1500),
		ResultingBalance: balance,
		Timestamp:        ts,
		IdempotencyKey:   key,
	}
}

// buyTen debits 1500 and adds 10 TSLA.
func buyTen(key string, ts time.Time) SettleFunc {
	return func(acct domain.Account) (domain.Account, domain.TradeRecord, error) {
		acct.Cash = acct.Cash.Sub(decimal.NewFromInt(1500))
		acct.Holdings["TSLA"] += 10
		return acct, sampleRecord(acct.ID, key, ts, acct.Cash), nil
	}
}

func TestLedgerStores(t *testing.T) {
	for name, mk := range stores {
		t.Run(name, func(t *testing.T) {
			t.Run("OpenAccount", func(t *testing.T) { testOpenAccount(t, mk(t)) })
			t.Run("Settle", func(t *testing.T) { testSettle(t, mk(t)) })
			t.Run("SettleRejected", func(t *testing.T) { testSettleRejected(t, mk(t)) })
			t.Run("ListRecords", func(t *testing.T) { testListRecords(t, mk(t)) })
		})
	}
}

func testOpenAccount(t *testing.T, s LedgerStore) {
	ctx := context.Background()

	_, err := s.GetAccount(ctx, "alice")
	assert.ErrorIs(t, err, ErrNotFound)

	acct, err := s.OpenAccount(ctx, domain.Account{
		ID:       "alice",
		Cash:     decimal.NewFromInt(2000),
		Holdings: map[string]int64{"AAPL": 5},
	})
	require.NoError(t, err)
	assert.True(t, acct.Cash.Equal(decimal.NewFromInt(2000)))
	assert.Equal(t, int64(5), acct.Holding("AAPL"))

	// Re-opening keeps the stored state.
	acct, err = s.OpenAccount(ctx, domain.Account{ID: "alice", Cash: decimal.NewFromInt(1)})
	require.NoError(t, err)
	assert.True(t, acct.Cash.Equal(decimal.NewFromInt(2000)))
}

func testSettle(t *testing.T, s LedgerStore) {
	ctx := context.Background()
	_, err := s.OpenAccount(ctx, domain.Account{ID: "alice", Cash: decimal.NewFromInt(2000), Holdings: map[string]int64{}})
	require.NoError(t, err)

	ts := time.Date(2024, 6, 12, 15, 0, 0, 0, time.UTC)
	rec, replayed, err := s.Settle(ctx, "alice", "k1", buyTen("k1", ts))
	require.NoError(t, err)
	assert.False(t, replayed)
	assert.Equal(t, "k1", rec.IdempotencyKey)

	acct, err := s.GetAccount(ctx, "alice")
	require.NoError(t, err)
	assert.True(t, acct.Cash.Equal(decimal.NewFromInt(500)), "cash = %s", acct.Cash)
	assert.Equal(t, int64(10), acct.Holding("TSLA"))

	// Same key: fn not called, same record returned.
	again, replayed, err := s.Settle(ctx, "alice", "k1", func(domain.Account) (domain.Account, domain.TradeRecord, error) {
		t.Fatal("settle func must not run for a known key")
		return domain.Account{}, domain.TradeRecord{}, nil
	})
	require.NoError(t, err)
	assert.True(t, replayed)
	assert.Equal(t, rec.ID, again.ID)
	assert.True(t, rec.Amount.Equal(again.Amount))
	assert.True(t, rec.ResultingBalance.Equal(again.ResultingBalance))
	assert.True(t, rec.Timestamp.Equal(again.Timestamp))

	acct, err = s.GetAccount(ctx, "alice")
	require.NoError(t, err)
	assert.True(t, acct.Cash.Equal(decimal.NewFromInt(500)))

	_, _, err = s.Settle(ctx, "bob", "k2", buyTen("k2", ts))
	assert.ErrorIs(t, err, ErrNotFound)
}

func testSettleRejected(t *testing.T, s LedgerStore) {
	ctx := context.Background()
	_, err := s.OpenAccount(ctx, domain.Account{ID: "alice", Cash: decimal.NewFromInt(100), Holdings: map[string]int64{}})
	require.NoError(t, err)

	rejected := errors.New("rejected")
	_, _, err = s.Settle(ctx, "alice", "k1", func(acct domain.Account) (domain.Account, domain.TradeRecord, error) {
		return domain.Account{}, domain.TradeRecord{}, rejected
	})
	assert.ErrorIs(t, err, rejected)

	acct, err := s.GetAccount(ctx, "alice")
	require.NoError(t, err)
	assert.True(t, acct.Cash.Equal(decimal.NewFromInt(100)))

	// A rejected key is not remembered.
	recs, err := s.ListRecords(ctx, "alice", 0)
	require.NoError(t, err)
	assert.Empty(t, recs)
}

func testListRecords(t *testing.T, s LedgerStore) {
	ctx := context.Background()
	_, err := s.OpenAccount(ctx, domain.Account{ID: "alice", Cash: decimal.NewFromInt(10000), Holdings: map[string]int64{}})
	require.NoError(t, err)

	base := time.Date(2024, 6, 12, 15, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		key := fmt.Sprintf("k%d", i)
		_, _, err := s.Settle(ctx, "alice", key, buyTen(key, base.Add(time.Duration(i)*time.Minute)))
		require.NoError(t, err)
	}

	recs, err := s.ListRecords(ctx, "alice", 2)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, "k2", recs[0].IdempotencyKey)
	assert.Equal(t, "k1", recs[1].IdempotencyKey)

	all, err := s.ListRecords(ctx, "alice", 0)
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestJournalArchive(t *testing.T) {
	dir := t.TempDir()
	j := NewJournalArchive(dir)
	ctx := context.Background()

	day := time.Date(2024, 6, 12, 15, 0, 0, 0, time.UTC)
	r1 := sampleRecord("alice", "k1", day, decimal.NewFromInt(500))
	r2 := sampleRecord("alice", "k2", day.Add(time.Minute), decimal.NewFromInt(-1000))

	require.NoError(t, j.Record(ctx, r2))
	require.NoError(t, j.Record(ctx, r1))
	// Re-recording the same ID does not duplicate.
	require.NoError(t, j.Record(ctx, r1))

	assert.FileExists(t, filepath.Join(dir, "journal", "alice", "2024-06-12.parquet"))

	got, err := j.ReadDay(ctx, "alice", day)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, r1.ID, got[0].ID)
	assert.Equal(t, r2.ID, got[1].ID)
	assert.True(t, got[0].Quote.Price.Equal(decimal.NewFromInt(150)))
	assert.Equal(t, domain.SideBuy, got[0].Intent.Side)

	none, err := j.ReadDay(ctx, "alice", day.AddDate(0, 0, 1))
	require.NoError(t, err)
	assert.Empty(t, none)
}
