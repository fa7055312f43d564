package services

import (
	"context"
	"fmt"
	"log/slog"

	"paghetta/internal/core"
	"paghetta/internal/ledger"
	"paghetta/internal/log"
)

// EventPublisher is the slice of the AMQP client the service needs.
// A nil publisher disables event publishing entirely.
type EventPublisher interface {
	PublishTransactionPosted(ctx context.Context, transactionID, accountID int64) error
	PublishAccountDeleted(ctx context.Context, accountID int64) error
}

// LedgerService orchestrates ledger writes across the store and AMQP
type LedgerService struct {
	store     ledger.Store
	publisher EventPublisher
}

func NewLedgerService(store ledger.Store, publisher EventPublisher) *LedgerService {
	return &LedgerService{
		store:     store,
		publisher: publisher,
	}
}

// CreateAccount opens a new account. A non-zero starting balance is
// recorded as an opening transaction, which is announced like any other
// ledger write.
func (s *LedgerService) CreateAccount(ctx context.Context, acct ledger.NewAccount) (*core.Account, error) {
	created, err := s.store.CreateAccount(ctx, acct)
	if err != nil {
		return nil, fmt.Errorf("create account: %w", err)
	}

	if acct.StartingBalanceCents != 0 {
		txs, err := s.store.Transactions(ctx, created.ID)
		if err == nil && len(txs) > 0 {
			s.publishTransactionPosted(ctx, txs[0].ID, created.ID)
		}
	}

	slog.InfoContext(ctx, "Account created",
		log.FieldComponent, log.ComponentLedger,
		log.FieldAccountID, created.ID,
		"name", created.Name,
		"weekly_allowance_cents", created.WeeklyAllowance.Cents)

	return created, nil
}

// DeleteAccount removes an account and its whole transaction history
func (s *LedgerService) DeleteAccount(ctx context.Context, accountID int64) error {
	if err := s.store.DeleteAccount(ctx, accountID); err != nil {
		return fmt.Errorf("delete account: %w", err)
	}

	if s.publisher != nil {
		if err := s.publisher.PublishAccountDeleted(ctx, accountID); err != nil {
			slog.ErrorContext(ctx, "Failed to publish account deleted event",
				log.FieldComponent, log.ComponentLedger,
				log.FieldAccountID, accountID, "error", err)
			// Don't fail the request - account is deleted locally
		}
	}

	return nil
}

// RecordPurchase debits an account. The amount is how much was spent,
// always positive; the ledger entry is stored negated.
func (s *LedgerService) RecordPurchase(ctx context.Context, accountID, amountCents int64, note string) (*core.Transaction, error) {
	if amountCents <= 0 {
		return nil, fmt.Errorf("purchase amount must be positive: %w", core.ErrInvalidAmount)
	}

	tx, err := s.store.AppendTransaction(ctx, accountID, core.KindPurchase, -amountCents, note)
	if err != nil {
		return nil, fmt.Errorf("record purchase: %w", err)
	}

	s.publishTransactionPosted(ctx, tx.ID, accountID)
	return tx, nil
}

// RecordAdjustment applies a manual correction of either sign
func (s *LedgerService) RecordAdjustment(ctx context.Context, accountID, amountCents int64, note string) (*core.Transaction, error) {
	if note == "" {
		note = "Manual adjustment"
	}

	tx, err := s.store.AppendTransaction(ctx, accountID, core.KindAdjustment, amountCents, note)
	if err != nil {
		return nil, fmt.Errorf("record adjustment: %w", err)
	}

	s.publishTransactionPosted(ctx, tx.ID, accountID)
	return tx, nil
}

// EditWeeklyAllowance changes the rate used for future credits only
func (s *LedgerService) EditWeeklyAllowance(ctx context.Context, accountID, rateCents int64) (*core.Account, error) {
	acct, err := s.store.UpdateWeeklyAllowance(ctx, accountID, rateCents)
	if err != nil {
		return nil, fmt.Errorf("update weekly allowance: %w", err)
	}

	slog.InfoContext(ctx, "Weekly allowance updated",
		log.FieldComponent, log.ComponentLedger,
		log.FieldAccountID, accountID,
		"weekly_allowance_cents", rateCents)

	return acct, nil
}

// CreditAllowance credits one allowance period at the account's current
// rate. The store refuses periods at or below the watermark, so a replay
// comes back as core.ErrPeriodAlreadyPaid.
func (s *LedgerService) CreditAllowance(ctx context.Context, accountID int64, period core.Period) (*core.Transaction, error) {
	tx, err := s.store.CreditAllowance(ctx, accountID, period)
	if err != nil {
		return nil, err
	}

	s.publishTransactionPosted(ctx, tx.ID, accountID)
	return tx, nil
}

func (s *LedgerService) publishTransactionPosted(ctx context.Context, transactionID, accountID int64) {
	if s.publisher == nil {
		return
	}

	if err := s.publisher.PublishTransactionPosted(ctx, transactionID, accountID); err != nil {
		slog.ErrorContext(ctx, "Failed to publish transaction posted event",
			log.FieldComponent, log.ComponentLedger,
			log.FieldTransactionID, transactionID,
			log.FieldAccountID, accountID,
			"error", err)
		// Don't fail the request - the write is durable locally
	}
}

// Close closes both the store and the AMQP connection
func (s *LedgerService) Close() error {
	var errs []error

	if s.store != nil {
		if err := s.store.Close(); err != nil {
			errs = append(errs, fmt.Errorf("store: %w", err))
		}
	}

	if s.publisher != nil {
		if closer, ok := s.publisher.(interface{ Close() error }); ok {
			if err := closer.Close(); err != nil {
				errs = append(errs, fmt.Errorf("amqp: %w", err))
			}
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("close ledger service: %v", errs)
	}

	return nil
}
