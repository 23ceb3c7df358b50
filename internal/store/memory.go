package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"tradedesk/internal/domain"
)

// Compile-time interface check.
var _ LedgerStore = (*MemoryStore)(nil)

// MemoryStore is an in-process LedgerStore for tests and ephemeral runs.
type MemoryStore struct {
	mu       sync.Mutex
	accounts map[string]domain.Account
	byKey    map[string]domain.TradeRecord
	records  map[string][]domain.TradeRecord
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		accounts: make(map[string]domain.Account),
		byKey:    make(map[string]domain.TradeRecord),
		records:  make(map[string][]domain.TradeRecord),
	}
}

// OpenAccount creates the account if absent.
func (s *MemoryStore) OpenAccount(_ context.Context, acct domain.Account) (domain.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.accounts[acct.ID]; ok {
		return existing.Clone(), nil
	}
	s.accounts[acct.ID] = acct.Clone()
	return acct.Clone(), nil
}

// GetAccount returns a copy of the account.
func (s *MemoryStore) GetAccount(_ context.Context, id string) (domain.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	acct, ok := s.accounts[id]
	if !ok {
		return domain.Account{}, fmt.Errorf("account %s: %w", id, ErrNotFound)
	}
	return acct.Clone(), nil
}

// Settle applies fn under the store lock.
func (s *MemoryStore) Settle(_ context.Context, accountID, key string, fn SettleFunc) (domain.TradeRecord, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if rec, ok := s.byKey[key]; ok {
		return rec, true, nil
	}
	acct, ok := s.accounts[accountID]
	if !ok {
		return domain.TradeRecord{}, false, fmt.Errorf("account %s: %w", accountID, ErrNotFound)
	}

	next, rec, err := fn(acct.Clone())
	if err != nil {
		return domain.TradeRecord{}, false, err
	}
	for sym, qty := range next.Holdings {
		if qty == 0 {
			delete(next.Holdings, sym)
		}
	}
	s.accounts[accountID] = next.Clone()
	s.byKey[key] = rec
	s.records[accountID] = append(s.records[accountID], rec)
	return rec, false, nil
}

// ListRecords returns records newest first.
func (s *MemoryStore) ListRecords(_ context.Context, accountID string, limit int) ([]domain.TradeRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	all := s.records[accountID]
	recs := make([]domain.TradeRecord, 0, len(all))
	for i := len(all) - 1; i >= 0; i-- {
		recs = append(recs, all[i])
	}
	sort.SliceStable(recs, func(i, j int) bool { return recs[i].Timestamp.After(recs[j].Timestamp) })
	if limit > 0 && len(recs) > limit {
		recs = recs[:limit]
	}
	return recs, nil
}

// Close is a no-op.
func (s *MemoryStore) Close() error { return nil }
