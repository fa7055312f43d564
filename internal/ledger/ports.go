// Package ledger defines the storage ports the allowance services depend
// on. Implementations live in internal/storage (SQLite) and
// internal/ledger/memory.
package ledger

import (
	"context"
	"time"

	"paghetta/internal/core"
)

// NewAccount carries the caller-supplied fields for account creation.
// StartingBalanceCents, when non-zero, is recorded as an opening
// transaction so the balance stays derivable from the log alone.
type NewAccount struct {
	Name                 string
	WeeklyAllowanceCents int64
	StartingBalanceCents int64
	AllowanceStartDate   time.Time
}

// Store is the durable keyed storage for accounts and their append-only
// transaction logs. All mutations on one account are serialized by the
// implementation; mutations on different accounts may run in parallel.
// Balance and log never disagree: each append commits both or neither.
type Store interface {
	CreateAccount(ctx context.Context, na NewAccount) (*core.Account, error)
	Account(ctx context.Context, id int64) (*core.Account, error)

	// Accounts lists every account in creation order.
	Accounts(ctx context.Context) ([]core.Account, error)

	// DeleteAccount removes the account and all its transactions as one
	// atomic unit.
	DeleteAccount(ctx context.Context, id int64) error

	// AppendTransaction validates the transaction, assigns id and
	// timestamp, and commits it together with the updated cached balance.
	AppendTransaction(ctx context.Context, accountID int64, kind core.Kind, amountCents int64, note string) (*core.Transaction, error)

	// UpdateWeeklyAllowance changes the current rate. Past allowance
	// transactions are never rewritten.
	UpdateWeeklyAllowance(ctx context.Context, accountID, newRateCents int64) (*core.Account, error)

	// CreditAllowance posts one allowance transaction for the given period
	// at the account's current rate and advances the credited-period
	// watermark, all atomically. A period at or below the watermark returns
	// core.ErrPeriodAlreadyPaid without touching the ledger.
	CreditAllowance(ctx context.Context, accountID int64, period core.Period) (*core.Transaction, error)

	// Transactions returns the account's log, most recent first; ties on
	// timestamp fall back to descending id so insertion order is preserved.
	Transactions(ctx context.Context, accountID int64) ([]core.Transaction, error)

	Close() error
}
