package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"paghetta/internal/amqp"
	"paghetta/internal/core"
	"paghetta/internal/log"
	"paghetta/internal/sheets"
	"paghetta/internal/storage"
)

// MirrorWorker copies posted ledger transactions from SQLite to the
// family spreadsheet. The AMQP queue is the fast path; the pending
// mirror_status scan is the backstop for lost messages.
type MirrorWorker struct {
	storage   *storage.SQLiteRepository
	sheets    sheets.TransactionWriter
	batchSize int
}

func NewMirrorWorker(storage *storage.SQLiteRepository, sheets sheets.TransactionWriter, batchSize int) *MirrorWorker {
	return &MirrorWorker{
		storage:   storage,
		sheets:    sheets,
		batchSize: batchSize,
	}
}

// HandleEvent processes one ledger event from AMQP
func (w *MirrorWorker) HandleEvent(ctx context.Context, event *amqp.Event) error {
	switch event.Type {
	case amqp.EventTransactionPosted:
		return w.mirrorTransaction(ctx, event.TransactionID)
	case amqp.EventAccountDeleted:
		// The sheet is an append-only journal; rows for deleted accounts
		// stay as history.
		slog.InfoContext(ctx, "Account deleted, keeping mirrored history",
			log.FieldComponent, log.ComponentWorker,
			log.FieldAccountID, event.AccountID)
		return nil
	default:
		slog.WarnContext(ctx, "Ignoring unknown event type", "type", event.Type)
		return nil
	}
}

// ProcessPending mirrors a batch of transactions that never made it to
// the sheet. This is a backup mechanism in case AMQP messages are lost.
func (w *MirrorWorker) ProcessPending(ctx context.Context) error {
	pending, err := w.storage.PendingMirrorTransactions(ctx, w.batchSize)
	if err != nil {
		return fmt.Errorf("get pending transactions: %w", err)
	}

	if len(pending) == 0 {
		return nil
	}

	slog.InfoContext(ctx, "Processing pending transactions", "count", len(pending))

	for _, tx := range pending {
		if err := w.mirrorTransaction(ctx, tx.ID); err != nil {
			slog.ErrorContext(ctx, "Failed to mirror transaction",
				log.FieldTransactionID, tx.ID, "error", err)
		}
	}

	return nil
}

// StartupSyncCheck mirrors everything left pending before the worker was
// started, with a larger batch than the periodic scan.
func (w *MirrorWorker) StartupSyncCheck(ctx context.Context) error {
	pending, err := w.storage.PendingMirrorTransactions(ctx, w.batchSize*5)
	if err != nil {
		return fmt.Errorf("get pending transactions for startup check: %w", err)
	}

	if len(pending) == 0 {
		slog.InfoContext(ctx, "No pending transactions found on startup")
		return nil
	}

	slog.InfoContext(ctx, "Found pending transactions on startup, processing...",
		"count", len(pending))

	mirrored := 0
	failed := 0
	for _, tx := range pending {
		if err := w.mirrorTransaction(ctx, tx.ID); err != nil {
			slog.ErrorContext(ctx, "Failed to mirror transaction during startup",
				log.FieldTransactionID, tx.ID, "error", err)
			failed++
			continue
		}
		mirrored++
	}

	slog.InfoContext(ctx, "Startup sync completed",
		"total", len(pending),
		"mirrored", mirrored,
		"errors", failed)

	return nil
}

func (w *MirrorWorker) mirrorTransaction(ctx context.Context, id int64) error {
	tx, err := w.storage.Transaction(ctx, id)
	if err != nil {
		return fmt.Errorf("get transaction from storage: %w", err)
	}

	account := fmt.Sprintf("account %d", tx.AccountID)
	acct, err := w.storage.Account(ctx, tx.AccountID)
	if err == nil {
		account = acct.Name
	} else if !errors.Is(err, core.ErrAccountNotFound) {
		return fmt.Errorf("get account from storage: %w", err)
	}

	row := sheets.MirrorRow{
		Date:    tx.Timestamp,
		Account: account,
		Kind:    tx.Kind,
		Amount:  tx.Amount,
		Note:    tx.Note,
	}

	ref, err := w.sheets.Append(ctx, row)
	if err != nil {
		if markErr := w.storage.MarkMirrorError(ctx, id); markErr != nil {
			slog.ErrorContext(ctx, "Failed to mark mirror error",
				log.FieldTransactionID, id, "error", markErr)
		}
		return fmt.Errorf("append to sheets: %w", err)
	}

	if err := w.storage.MarkMirrored(ctx, id); err != nil {
		slog.ErrorContext(ctx, "Failed to mark as mirrored",
			log.FieldTransactionID, id, "error", err)
		// Don't return error here - the mirror actually worked
	}

	slog.InfoContext(ctx, "Successfully mirrored transaction",
		log.FieldComponent, log.ComponentWorker,
		log.FieldTransactionID, id,
		log.FieldSheetsRef, ref,
		"account", account,
		log.FieldAmountCents, tx.Amount.Cents)

	return nil
}
