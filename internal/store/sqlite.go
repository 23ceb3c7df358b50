package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"tradedesk/internal/domain"

	_ "modernc.org/sqlite" // Pure-Go SQLite driver.
)

// Compile-time interface check.
var _ LedgerStore = (*SQLiteStore)(nil)

// SQLiteStore implements LedgerStore backed by a SQLite database. Amounts
// are stored as decimal strings, times as Unix nanoseconds.
type SQLiteStore struct {
	db *sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS accounts (
	id           TEXT PRIMARY KEY,
	cash         TEXT NOT NULL,
	initial_cash TEXT NOT NULL DEFAULT '0',
	created_at   INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS holdings (
	account_id TEXT NOT NULL REFERENCES accounts(id),
	symbol     TEXT NOT NULL,
	quantity   INTEGER NOT NULL CHECK (quantity >= 0),
	PRIMARY KEY (account_id, symbol)
);
CREATE TABLE IF NOT EXISTS trade_records (
	id                TEXT PRIMARY KEY,
	idempotency_key   TEXT NOT NULL UNIQUE,
	account_id        TEXT NOT NULL REFERENCES accounts(id),
	symbol            TEXT NOT NULL,
	side              TEXT NOT NULL,
	quantity          INTEGER NOT NULL,
	price             TEXT NOT NULL,
	market_open       INTEGER NOT NULL,
	quote_source      TEXT NOT NULL,
	quote_as_of       INTEGER NOT NULL,
	amount            TEXT NOT NULL,
	resulting_balance TEXT NOT NULL,
	ts                INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_trade_records_account_ts ON trade_records(account_id, ts);
`

// NewSQLiteStore opens (or creates) a SQLite database at dbPath, applies
// the schema and returns a ready-to-use SQLiteStore.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	dsn := "file:" + dbPath + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	// One writer at a time; settlement transactions never interleave.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("applying schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// ---------------------------------------------------------------------------
// Accounts
// ---------------------------------------------------------------------------

// OpenAccount inserts the account and its holdings if it does not exist.
func (s *SQLiteStore) OpenAccount(ctx context.Context, acct domain.Account) (domain.Account, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.Account{}, err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`INSERT OR IGNORE INTO accounts (id, cash, initial_cash, created_at) VALUES (?, ?, ?, ?)`,
		acct.ID, acct.Cash.String(), acct.InitialCash.String(), time.Now().UnixNano())
	if err != nil {
		return domain.Account{}, fmt.Errorf("inserting account: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 1 {
		for sym, qty := range acct.Holdings {
			if err := upsertHolding(ctx, tx, acct.ID, sym, qty); err != nil {
				return domain.Account{}, err
			}
		}
	}

	out, err := loadAccount(ctx, tx, acct.ID)
	if err != nil {
		return domain.Account{}, err
	}
	return out, tx.Commit()
}

// GetAccount returns the account with its holdings.
func (s *SQLiteStore) GetAccount(ctx context.Context, id string) (domain.Account, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.Account{}, err
	}
	defer tx.Rollback()
	return loadAccount(ctx, tx, id)
}

func loadAccount(ctx context.Context, tx *sql.Tx, id string) (domain.Account, error) {
	var cash, initial string
	err := tx.QueryRowContext(ctx, `SELECT cash, initial_cash FROM accounts WHERE id = ?`, id).Scan(&cash, &initial)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Account{}, fmt.Errorf("account %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return domain.Account{}, fmt.Errorf("loading account %s: %w", id, err)
	}
	c, err := decimal.NewFromString(cash)
	if err != nil {
		return domain.Account{}, fmt.Errorf("parsing cash for %s: %w", id, err)
	}
	ic, err := decimal.NewFromString(initial)
	if err != nil {
		return domain.Account{}, fmt.Errorf("parsing initial cash for %s: %w", id, err)
	}

	acct := domain.Account{ID: id, Cash: c, InitialCash: ic, Holdings: make(map[string]int64)}
	rows, err := tx.QueryContext(ctx,
		`SELECT symbol, quantity FROM holdings WHERE account_id = ? AND quantity > 0`, id)
	if err != nil {
		return domain.Account{}, fmt.Errorf("loading holdings for %s: %w", id, err)
	}
	defer rows.Close()
	for rows.Next() {
		var sym string
		var qty int64
		if err := rows.Scan(&sym, &qty); err != nil {
			return domain.Account{}, err
		}
		acct.Holdings[sym] = qty
	}
	return acct, rows.Err()
}

func upsertHolding(ctx context.Context, tx *sql.Tx, accountID, symbol string, qty int64) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO holdings (account_id, symbol, quantity) VALUES (?, ?, ?)
		 ON CONFLICT(account_id, symbol) DO UPDATE SET quantity = excluded.quantity`,
		accountID, symbol, qty)
	if err != nil {
		return fmt.Errorf("writing holding %s/%s: %w", accountID, symbol, err)
	}
	return nil
}

// ---------------------------------------------------------------------------
// Settlement
// ---------------------------------------------------------------------------

// Settle runs the idempotency lookup, fn, and all writes in one transaction.
func (s *SQLiteStore) Settle(ctx context.Context, accountID, key string, fn SettleFunc) (domain.TradeRecord, bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.TradeRecord{}, false, err
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx, selectRecord+` WHERE idempotency_key = ?`, key)
	existing, err := scanRecord(row)
	switch {
	case err == nil:
		return existing, true, nil
	case !errors.Is(err, sql.ErrNoRows):
		return domain.TradeRecord{}, false, fmt.Errorf("looking up key: %w", err)
	}

	acct, err := loadAccount(ctx, tx, accountID)
	if err != nil {
		return domain.TradeRecord{}, false, err
	}
	next, rec, err := fn(acct.Clone())
	if err != nil {
		return domain.TradeRecord{}, false, err
	}

	if _, err := tx.ExecContext(ctx, `UPDATE accounts SET cash = ? WHERE id = ?`, next.Cash.String(), accountID); err != nil {
		return domain.TradeRecord{}, false, fmt.Errorf("updating cash: %w", err)
	}
	sym := rec.Intent.Symbol
	if next.Holding(sym) != acct.Holding(sym) {
		if err := upsertHolding(ctx, tx, accountID, sym, next.Holding(sym)); err != nil {
			return domain.TradeRecord{}, false, err
		}
	}
	if err := insertRecord(ctx, tx, rec); err != nil {
		return domain.TradeRecord{}, false, err
	}

	if err := tx.Commit(); err != nil {
		return domain.TradeRecord{}, false, fmt.Errorf("committing settlement: %w", err)
	}
	return rec, false, nil
}

// ---------------------------------------------------------------------------
// Trade records
// ---------------------------------------------------------------------------

const selectRecord = `SELECT id, idempotency_key, account_id, symbol, side, quantity, price,
	market_open, quote_source, quote_as_of, amount, resulting_balance, ts FROM trade_records`

func insertRecord(ctx context.Context, tx *sql.Tx, r domain.TradeRecord) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO trade_records (id, idempotency_key, account_id, symbol, side, quantity, price,
			market_open, quote_source, quote_as_of, amount, resulting_balance, ts)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.IdempotencyKey, r.AccountID, r.Intent.Symbol, string(r.Intent.Side), r.Intent.Quantity,
		r.Quote.Price.String(), r.Quote.MarketOpen, string(r.Quote.Source), r.Quote.AsOf.UnixNano(),
		r.Amount.String(), r.ResultingBalance.String(), r.Timestamp.UnixNano())
	if err != nil {
		return fmt.Errorf("inserting trade record: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (domain.TradeRecord, error) {
	var (
		r                      domain.TradeRecord
		side, source           string
		price, amount, balance string
		asOf, ts               int64
	)
	err := row.Scan(&r.ID, &r.IdempotencyKey, &r.AccountID, &r.Intent.Symbol, &side, &r.Intent.Quantity,
		&price, &r.Quote.MarketOpen, &source, &asOf, &amount, &balance, &ts)
	if err != nil {
		return domain.TradeRecord{}, err
	}
	r.Intent.Side = domain.Side(side)
	r.Quote.Symbol = r.Intent.Symbol
	r.Quote.Source = domain.QuoteSource(source)
	r.Quote.AsOf = time.Unix(0, asOf).UTC()
	r.Timestamp = time.Unix(0, ts).UTC()
	if r.Quote.Price, err = decimal.NewFromString(price); err != nil {
		return domain.TradeRecord{}, fmt.Errorf("parsing price: %w", err)
	}
	if r.Amount, err = decimal.NewFromString(amount); err != nil {
		return domain.TradeRecord{}, fmt.Errorf("parsing amount: %w", err)
	}
	if r.ResultingBalance, err = decimal.NewFromString(balance); err != nil {
		return domain.TradeRecord{}, fmt.Errorf("parsing balance: %w", err)
	}
	return r, nil
}

// ListRecords returns the newest records for an account.
func (s *SQLiteStore) ListRecords(ctx context.Context, accountID string, limit int) ([]domain.TradeRecord, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx,
		selectRecord+` WHERE account_id = ? ORDER BY ts DESC, rowid DESC LIMIT ?`, accountID, limit)
	if err != nil {
		return nil, fmt.Errorf("listing records: %w", err)
	}
	defer rows.Close()

	var out []domain.TradeRecord
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
