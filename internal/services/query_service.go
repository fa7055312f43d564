package services

import (
	"context"
	"fmt"

	"paghetta/internal/core"
	"paghetta/internal/ledger"
)

// QueryService is the read side of the ledger. It never mutates state,
// so callers can hit it concurrently with writes and the scheduler.
type QueryService struct {
	store ledger.Store
}

func NewQueryService(store ledger.Store) *QueryService {
	return &QueryService{store: store}
}

// Account returns a single account with its derived balance
func (s *QueryService) Account(ctx context.Context, accountID int64) (*core.Account, error) {
	acct, err := s.store.Account(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("get account: %w", err)
	}
	return acct, nil
}

// Summaries returns all accounts with their balances, in creation order
func (s *QueryService) Summaries(ctx context.Context) ([]core.Account, error) {
	accounts, err := s.store.Accounts(ctx)
	if err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}
	return accounts, nil
}

// History returns an account's full transaction log, newest first
func (s *QueryService) History(ctx context.Context, accountID int64) ([]core.Transaction, error) {
	txs, err := s.store.Transactions(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("get history: %w", err)
	}
	return txs, nil
}
