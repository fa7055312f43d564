package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"paghetta/internal/core"
	"paghetta/internal/ledger"
	"paghetta/internal/log"
)

// AllowanceScheduler credits every owed weekly allowance. It derives the
// owed periods from each account's watermark, so running it twice, or
// from several processes at once, never double-credits.
type AllowanceScheduler struct {
	store   ledger.Store
	service *LedgerService
}

func NewAllowanceScheduler(store ledger.Store, service *LedgerService) *AllowanceScheduler {
	return &AllowanceScheduler{
		store:   store,
		service: service,
	}
}

// Run sweeps all accounts and credits the allowance periods that have
// elapsed since each account's watermark. It returns the number of
// credits applied. Accounts with a zero rate are skipped without moving
// their watermark, so a later rate change back-pays the missed weeks.
func (p *AllowanceScheduler) Run(ctx context.Context, now time.Time) (int, error) {
	if p.store == nil || p.service == nil {
		return 0, fmt.Errorf("scheduler not properly initialized")
	}

	accounts, err := p.store.Accounts(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list accounts: %w", err)
	}

	slog.InfoContext(ctx, "Processing weekly allowances",
		log.FieldComponent, log.ComponentScheduler,
		"total_accounts", len(accounts),
		"processing_date", now.Format("2006-01-02"))

	creditedCount := 0

	for _, acct := range accounts {
		if acct.WeeklyAllowance.Cents == 0 {
			continue
		}

		owed := core.PeriodsOwed(acct.AllowanceStartDate, acct.LastAllowancePeriod, now)
		for _, period := range owed {
			tx, err := p.service.CreditAllowance(ctx, acct.ID, period)
			if errors.Is(err, core.ErrPeriodAlreadyPaid) {
				// Another sweep got there first
				continue
			}
			if errors.Is(err, core.ErrAccountNotFound) {
				// Deleted mid-sweep
				break
			}
			if err != nil {
				slog.ErrorContext(ctx, "Failed to credit allowance",
					log.FieldComponent, log.ComponentScheduler,
					log.FieldAccountID, acct.ID,
					log.FieldPeriod, period.String(),
					"error", err)
				break
			}

			creditedCount++
			slog.InfoContext(ctx, "Credited weekly allowance",
				log.FieldComponent, log.ComponentScheduler,
				log.FieldAccountID, acct.ID,
				log.FieldPeriod, period.String(),
				log.FieldAmountCents, tx.Amount.Cents)
		}
	}

	slog.InfoContext(ctx, "Allowance processing complete",
		log.FieldComponent, log.ComponentScheduler,
		"credited", creditedCount,
		"total_checked", len(accounts))

	return creditedCount, nil
}
