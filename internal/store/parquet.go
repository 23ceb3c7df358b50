package store

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/parquet-go/parquet-go"
	"github.com/shopspring/decimal"

	"tradedesk/internal/domain"
)

// JournalArchive appends settled trade records to daily Parquet files:
//
//	<DataDir>/journal/<ACCOUNT>/<YYYY-MM-DD>.parquet
//
// The SQLite ledger stays the source of truth; the archive is for offline
// analysis.
type JournalArchive struct {
	DataDir string
	mu      sync.Mutex
}

// NewJournalArchive creates a JournalArchive rooted at dataDir.
func NewJournalArchive(dataDir string) *JournalArchive {
	return &JournalArchive{DataDir: dataDir}
}

// JournalRecord is the Parquet schema for a settled trade.
type JournalRecord struct {
	ID               string `parquet:"id"`
	AccountID        string `parquet:"account_id"`
	Symbol           string `parquet:"symbol"`
	Side             string `parquet:"side"`
	Quantity         int64  `parquet:"quantity"`
	Price            string `parquet:"price"`
	Amount           string `parquet:"amount"`
	ResultingBalance string `parquet:"resulting_balance"`
	QuoteSource      string `parquet:"quote_source"`
	Timestamp        int64  `parquet:"timestamp,timestamp(millisecond)"` // Unix ms
	IdempotencyKey   string `parquet:"idempotency_key"`
}

// Record appends rec to its day file, replacing any row with the same ID.
func (j *JournalArchive) Record(_ context.Context, rec domain.TradeRecord) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	path := j.journalPath(rec.AccountID, rec.Timestamp)
	existing, err := readParquetFile[JournalRecord](path)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("reading journal %s: %w", path, err)
	}
	merged := mergeJournalRecords(existing, []JournalRecord{toJournalRecord(rec)})
	if err := writeParquetFile(path, merged); err != nil {
		return fmt.Errorf("writing journal %s: %w", path, err)
	}
	return nil
}

// ReadDay returns the archived records of one account for the day of t
// (UTC), oldest first.
func (j *JournalArchive) ReadDay(_ context.Context, accountID string, t time.Time) ([]domain.TradeRecord, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	rows, err := readParquetFile[JournalRecord](j.journalPath(accountID, t))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	out := make([]domain.TradeRecord, 0, len(rows))
	for _, r := range rows {
		rec, err := fromJournalRecord(r)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

func (j *JournalArchive) journalPath(accountID string, t time.Time) string {
	return filepath.Join(j.DataDir, "journal", accountID, t.UTC().Format("2006-01-02")+".parquet")
}

func toJournalRecord(r domain.TradeRecord) JournalRecord {
	return JournalRecord{
		ID:               r.ID,
		AccountID:        r.AccountID,
		Symbol:           r.Intent.Symbol,
		Side:             string(r.Intent.Side),
		Quantity:         r.Intent.Quantity,
		Price:            r.Quote.Price.String(),
		Amount:           r.Amount.String(),
		ResultingBalance: r.ResultingBalance.String(),
		QuoteSource:      string(r.Quote.Source),
		Timestamp:        r.Timestamp.UnixMilli(),
		IdempotencyKey:   r.IdempotencyKey,
	}
}

func fromJournalRecord(r JournalRecord) (domain.TradeRecord, error) {
	price, err := decimal.NewFromString(r.Price)
	if err != nil {
		return domain.TradeRecord{}, fmt.Errorf("record %s price: %w", r.ID, err)
	}
	amount, err := decimal.NewFromString(r.Amount)
	if err != nil {
		return domain.TradeRecord{}, fmt.Errorf("record %s amount: %w", r.ID, err)
	}
	balance, err := decimal.NewFromString(r.ResultingBalance)
	if err != nil {
		return domain.TradeRecord{}, fmt.Errorf("record %s balance: %w", r.ID, err)
	}
	ts := time.UnixMilli(r.Timestamp).UTC()
	return domain.TradeRecord{
		ID:        r.ID,
		AccountID: r.AccountID,
		Intent:    domain.TradeIntent{Symbol: r.Symbol, Side: domain.Side(r.Side), Quantity: r.Quantity},
		Quote: domain.Quote{
			Symbol:     r.Symbol,
			Price:      price,
			MarketOpen: true,
			Source:     domain.QuoteSource(r.QuoteSource),
		},
		Amount:           amount,
		ResultingBalance: balance,
		Timestamp:        ts,
		IdempotencyKey:   r.IdempotencyKey,
	}, nil
}

// mergeJournalRecords deduplicates by ID, preferring incoming rows. Results
// are sorted by timestamp.
func mergeJournalRecords(existing, incoming []JournalRecord) []JournalRecord {
	seen := make(map[string]JournalRecord, len(existing)+len(incoming))
	for _, r := range existing {
		seen[r.ID] = r
	}
	for _, r := range incoming {
		seen[r.ID] = r
	}
	merged := make([]JournalRecord, 0, len(seen))
	for _, r := range seen {
		merged = append(merged, r)
	}
	sort.Slice(merged, func(i, j int) bool {
		if merged[i].Timestamp != merged[j].Timestamp {
			return merged[i].Timestamp < merged[j].Timestamp
		}
		return merged[i].ID < merged[j].ID
	})
	return merged
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

func writeParquetFile[T any](path string, records []T) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return parquet.WriteFile(path, records)
}

func readParquetFile[T any](path string) ([]T, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, err
	}
	return parquet.ReadFile[T](path)
}
