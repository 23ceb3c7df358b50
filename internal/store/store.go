// Package store defines the persistence contract behind the ledger and
// provides SQLite, in-memory and Parquet journal implementations.
package store

import (
	"context"
	"errors"

	"tradedesk/internal/domain"
)

// ErrNotFound is returned when an account does not exist.
var ErrNotFound = errors.New("not found")

// SettleFunc computes the next account state and the trade record from the
// current account. Returning an error aborts the settlement without writing.
type SettleFunc func(acct domain.Account) (domain.Account, domain.TradeRecord, error)

// LedgerStore persists accounts, holdings and the append-only trade log.
type LedgerStore interface {
	// OpenAccount creates acct if no account with its ID exists and returns
	// the stored account either way.
	OpenAccount(ctx context.Context, acct domain.Account) (domain.Account, error)

	// GetAccount returns a snapshot of the account.
	GetAccount(ctx context.Context, id string) (domain.Account, error)

	// Settle runs fn against the current account and persists its result
	// atomically together with the record. If a record already exists for
	// key, it is returned with replayed=true and fn is not called.
	Settle(ctx context.Context, accountID, key string, fn SettleFunc) (rec domain.TradeRecord, replayed bool, err error)

	// ListRecords returns the newest records for an account, up to limit
	// (all when limit <= 0), newest first.
	ListRecords(ctx context.Context, accountID string, limit int) ([]domain.TradeRecord, error)

	// Close releases resources.
	Close() error
}
