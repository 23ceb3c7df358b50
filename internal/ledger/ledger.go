// Package ledger owns account balances and holdings. All mutations go
// through Service.Settle, which serialises per account and is idempotent
// per settlement key.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"tradedesk/internal/domain"
	"tradedesk/internal/store"
)

var (
	// ErrInsufficientFunds covers both a cash shortfall on buys and a
	// holdings shortfall on sells.
	ErrInsufficientFunds = errors.New("insufficient funds")
	// ErrAccountNotFound is returned for unknown account IDs.
	ErrAccountNotFound = errors.New("account not found")
	// ErrUnavailable means the ledger could not be reached. Only remote
	// clients return it.
	ErrUnavailable = errors.New("ledger unavailable")
)

// Service is the single writer for account state.
type Service struct {
	store store.LedgerStore
	locks *accountLocks
	now   func() time.Time
	log   *slog.Logger
}

// NewService creates a Service over the given store.
func NewService(s store.LedgerStore, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{
		store: s,
		locks: newAccountLocks(),
		now:   time.Now,
		log:   log.With("component", "ledger"),
	}
}

// Open creates the account with the given opening cash if it does not
// exist yet and returns its current state.
func (s *Service) Open(ctx context.Context, accountID string, initialCash decimal.Decimal) (domain.Account, error) {
	if initialCash.IsNegative() {
		return domain.Account{}, fmt.Errorf("initial cash %s is negative", initialCash)
	}
	return s.store.OpenAccount(ctx, domain.Account{
		ID:          accountID,
		Cash:        initialCash,
		InitialCash: initialCash,
		Holdings:    map[string]int64{},
	})
}

// Account returns a snapshot of the account.
func (s *Service) Account(ctx context.Context, accountID string) (domain.Account, error) {
	acct, err := s.store.GetAccount(ctx, accountID)
	return acct, mapStoreErr(err)
}

// Records returns the newest settled records for an account.
func (s *Service) Records(ctx context.Context, accountID string, limit int) ([]domain.TradeRecord, error) {
	return s.store.ListRecords(ctx, accountID, limit)
}

// Settle applies the trade to the account. If a record already exists for
// key it is returned unchanged and the account is not touched again.
// A shortfall returns ErrInsufficientFunds and leaves the account as it
// was. Settle never retries.
func (s *Service) Settle(ctx context.Context, accountID string, intent domain.TradeIntent, quote domain.Quote, key string) (domain.TradeRecord, error) {
	if err := intent.Validate(); err != nil {
		return domain.TradeRecord{}, fmt.Errorf("invalid intent: %w", err)
	}
	if !quote.Price.IsPositive() {
		return domain.TradeRecord{}, fmt.Errorf("invalid quote price %s", quote.Price)
	}

	unlock, err := s.locks.lock(ctx, accountID)
	if err != nil {
		return domain.TradeRecord{}, err
	}
	defer unlock()

	amount := domain.Notional(intent, quote)
	rec, replayed, err := s.store.Settle(ctx, accountID, key, func(acct domain.Account) (domain.Account, domain.TradeRecord, error) {
		next, err := apply(acct, intent, amount)
		if err != nil {
			return domain.Account{}, domain.TradeRecord{}, err
		}
		return next, domain.TradeRecord{
			ID:               uuid.NewString(),
			AccountID:        accountID,
			Intent:           intent,
			Quote:            quote,
			Amount:           amount,
			ResultingBalance: next.Cash,
			Timestamp:        s.now().UTC(),
			IdempotencyKey:   key,
		}, nil
	})
	if err != nil {
		if errors.Is(err, ErrInsufficientFunds) {
			s.log.Info("settlement rejected", "account", accountID, "intent", intent.String(), "amount", amount.String())
		}
		return domain.TradeRecord{}, mapStoreErr(err)
	}

	if replayed {
		s.log.Info("settlement replayed", "account", accountID, "record", rec.ID)
	} else {
		s.log.Info("settled", "account", accountID, "record", rec.ID,
			"intent", intent.String(), "amount", amount.String(), "balance", rec.ResultingBalance.String())
	}
	return rec, nil
}

// apply checks funds or holdings and returns the mutated account.
func apply(acct domain.Account, intent domain.TradeIntent, amount decimal.Decimal) (domain.Account, error) {
	if acct.Holdings == nil {
		acct.Holdings = map[string]int64{}
	}
	held := acct.Holding(intent.Symbol)

	switch intent.Side {
	case domain.SideBuy:
		if acct.Cash.LessThan(amount) {
			return domain.Account{}, fmt.Errorf("need %s, have %s: %w", amount, acct.Cash, ErrInsufficientFunds)
		}
		acct.Cash = acct.Cash.Sub(amount)
		acct.Holdings[intent.Symbol] = held + intent.Quantity
	case domain.SideSell:
		if held < intent.Quantity {
			return domain.Account{}, fmt.Errorf("need %d %s, have %d: %w", intent.Quantity, intent.Symbol, held, ErrInsufficientFunds)
		}
		acct.Cash = acct.Cash.Add(amount)
		acct.Holdings[intent.Symbol] = held - intent.Quantity
	default:
		return domain.Account{}, fmt.Errorf("unknown side %q", intent.Side)
	}
	return acct, nil
}

func mapStoreErr(err error) error {
	if errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("%w: %w", ErrAccountNotFound, err)
	}
	return err
}

// ---------------------------------------------------------------------------
// Per-account locking
// ---------------------------------------------------------------------------

// accountLocks hands out one mutex per account. A channel of capacity one
// is used so that waiting honours context cancellation.
type accountLocks struct {
	mu    sync.Mutex
	locks map[string]*accountLock
}

type accountLock struct {
	ch   chan struct{}
	refs int
}

func newAccountLocks() *accountLocks {
	return &accountLocks{locks: make(map[string]*accountLock)}
}

func (l *accountLocks) lock(ctx context.Context, id string) (func(), error) {
	l.mu.Lock()
	al, ok := l.locks[id]
	if !ok {
		al = &accountLock{ch: make(chan struct{}, 1)}
		l.locks[id] = al
	}
	al.refs++
	l.mu.Unlock()

	select {
	case al.ch <- struct{}{}:
		return func() {
			<-al.ch
			l.release(id, al)
		}, nil
	case <-ctx.Done():
		l.release(id, al)
		return nil, ctx.Err()
	}
}

func (l *accountLocks) release(id string, al *accountLock) {
	l.mu.Lock()
	defer l.mu.Unlock()
	al.refs--
	if al.refs == 0 {
		delete(l.locks, id)
	}
}
