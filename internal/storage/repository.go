// Package storage implements the SQLite ledger store. The cached balance
// column and the transaction log always commit in the same SQL transaction,
// and every mutation on one account runs under that account's lock.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"paghetta/internal/core"
	"paghetta/internal/ledger"
	"paghetta/internal/log"

	_ "modernc.org/sqlite"
)

// Mirror status values for the sheet-mirror queue.
const (
	MirrorPending = "pending"
	MirrorDone    = "mirrored"
	MirrorError   = "error"
)

type SQLiteRepository struct {
	db *sql.DB

	mu    sync.Mutex
	locks map[int64]*sync.Mutex
}

var _ ledger.Store = (*SQLiteRepository)(nil)

func NewSQLiteRepository(dbPath string) (*SQLiteRepository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := RunMigrations(dbPath); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLiteRepository{
		db:    db,
		locks: make(map[int64]*sync.Mutex),
	}, nil
}

func (r *SQLiteRepository) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

// lockAccount serializes mutations per account; different accounts proceed
// in parallel. The returned func releases the lock.
func (r *SQLiteRepository) lockAccount(id int64) func() {
	r.mu.Lock()
	l, ok := r.locks[id]
	if !ok {
		l = &sync.Mutex{}
		r.locks[id] = l
	}
	r.mu.Unlock()
	l.Lock()
	return l.Unlock
}

func (r *SQLiteRepository) CreateAccount(ctx context.Context, na ledger.NewAccount) (*core.Account, error) {
	if err := core.ValidateName(na.Name); err != nil {
		return nil, err
	}
	if na.WeeklyAllowanceCents < 0 {
		return nil, core.ErrNegativeRate
	}
	if na.StartingBalanceCents < 0 {
		return nil, core.ErrNegativeBalance
	}

	now := time.Now().UTC()
	start := na.AllowanceStartDate
	if start.IsZero() {
		start = now
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin create account: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`INSERT INTO children (name, weekly_allowance_cents, balance_cents, allowance_start_date, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		na.Name, na.WeeklyAllowanceCents, na.StartingBalanceCents, start, now)
	if err != nil {
		return nil, fmt.Errorf("insert child: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("child id: %w", err)
	}

	if na.StartingBalanceCents != 0 {
		_, err = tx.ExecContext(ctx,
			`INSERT INTO transactions (child_id, kind, amount_cents, note, timestamp)
			 VALUES (?, ?, ?, ?, ?)`,
			id, core.KindOpening, na.StartingBalanceCents, "Starting balance", now)
		if err != nil {
			return nil, fmt.Errorf("insert opening transaction: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit create account: %w", err)
	}

	slog.InfoContext(ctx, "Account created",
		log.FieldComponent, log.ComponentStorage,
		log.FieldAccountID, id,
		"name", na.Name,
		"weekly_allowance_cents", na.WeeklyAllowanceCents,
		"starting_balance_cents", na.StartingBalanceCents)

	return &core.Account{
		ID:                 id,
		Name:               na.Name,
		WeeklyAllowance:    core.Money{Cents: na.WeeklyAllowanceCents},
		Balance:            core.Money{Cents: na.StartingBalanceCents},
		AllowanceStartDate: start,
		CreatedAt:          now,
	}, nil
}

func (r *SQLiteRepository) Account(ctx context.Context, id int64) (*core.Account, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT id, name, weekly_allowance_cents, balance_cents, allowance_start_date, last_allowance_period, created_at
		 FROM children WHERE id = ?`, id)
	return scanAccount(row)
}

func (r *SQLiteRepository) Accounts(ctx context.Context) ([]core.Account, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, name, weekly_allowance_cents, balance_cents, allowance_start_date, last_allowance_period, created_at
		 FROM children ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}
	defer rows.Close()

	var out []core.Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate accounts: %w", err)
	}
	return out, nil
}

func (r *SQLiteRepository) DeleteAccount(ctx context.Context, id int64) error {
	unlock := r.lockAccount(id)
	defer unlock()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin delete account: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM transactions WHERE child_id = ?`, id); err != nil {
		return fmt.Errorf("delete transactions: %w", err)
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM children WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete child: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete child rows: %w", err)
	}
	if n == 0 {
		return core.ErrAccountNotFound
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit delete account: %w", err)
	}

	r.mu.Lock()
	delete(r.locks, id)
	r.mu.Unlock()

	slog.InfoContext(ctx, "Account deleted",
		log.FieldComponent, log.ComponentStorage,
		log.FieldAccountID, id)
	return nil
}

func (r *SQLiteRepository) AppendTransaction(ctx context.Context, accountID int64, kind core.Kind, amountCents int64, note string) (*core.Transaction, error) {
	unlock := r.lockAccount(accountID)
	defer unlock()
	return r.appendLocked(ctx, accountID, kind, amountCents, note)
}

func (r *SQLiteRepository) UpdateWeeklyAllowance(ctx context.Context, accountID, newRateCents int64) (*core.Account, error) {
	if newRateCents < 0 {
		return nil, core.ErrNegativeRate
	}

	unlock := r.lockAccount(accountID)
	defer unlock()

	res, err := r.db.ExecContext(ctx,
		`UPDATE children SET weekly_allowance_cents = ? WHERE id = ?`, newRateCents, accountID)
	if err != nil {
		return nil, fmt.Errorf("update weekly allowance: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("update weekly allowance rows: %w", err)
	}
	if n == 0 {
		return nil, core.ErrAccountNotFound
	}

	slog.InfoContext(ctx, "Weekly allowance updated",
		log.FieldComponent, log.ComponentStorage,
		log.FieldAccountID, accountID,
		"rate_cents", newRateCents)

	return r.Account(ctx, accountID)
}

func (r *SQLiteRepository) CreditAllowance(ctx context.Context, accountID int64, period core.Period) (*core.Transaction, error) {
	unlock := r.lockAccount(accountID)
	defer unlock()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin credit allowance: %w", err)
	}
	defer tx.Rollback()

	var rate, balance int64
	var last sql.NullInt64
	err = tx.QueryRowContext(ctx,
		`SELECT weekly_allowance_cents, balance_cents, last_allowance_period FROM children WHERE id = ?`,
		accountID).Scan(&rate, &balance, &last)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, core.ErrAccountNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read account for credit: %w", err)
	}

	if last.Valid && int64(period) <= last.Int64 {
		return nil, core.ErrPeriodAlreadyPaid
	}

	now := time.Now().UTC()
	credit := core.Transaction{
		AccountID: accountID,
		Kind:      core.KindAllowance,
		Amount:    core.Money{Cents: rate},
		Note:      fmt.Sprintf("Weekly allowance %s", period),
		Timestamp: now,
	}
	if err := credit.Validate(); err != nil {
		return nil, err
	}

	res, err := tx.ExecContext(ctx,
		`INSERT INTO transactions (child_id, kind, amount_cents, note, timestamp)
		 VALUES (?, ?, ?, ?, ?)`,
		accountID, credit.Kind, credit.Amount.Cents, credit.Note, now)
	if err != nil {
		return nil, fmt.Errorf("insert allowance transaction: %w", err)
	}
	credit.ID, err = res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("allowance transaction id: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE children SET balance_cents = ?, last_allowance_period = ? WHERE id = ?`,
		balance+rate, int64(period), accountID)
	if err != nil {
		return nil, fmt.Errorf("advance allowance watermark: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit credit allowance: %w", err)
	}

	slog.InfoContext(ctx, "Allowance credited",
		log.FieldComponent, log.ComponentStorage,
		log.FieldAccountID, accountID,
		log.FieldPeriod, period.String(),
		log.FieldAmountCents, rate)

	return &credit, nil
}

func (r *SQLiteRepository) Transactions(ctx context.Context, accountID int64) ([]core.Transaction, error) {
	var exists int64
	err := r.db.QueryRowContext(ctx, `SELECT id FROM children WHERE id = ?`, accountID).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, core.ErrAccountNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("check account: %w", err)
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT id, child_id, kind, amount_cents, note, timestamp
		 FROM transactions WHERE child_id = ?
		 ORDER BY timestamp DESC, id DESC`, accountID)
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	defer rows.Close()

	out := []core.Transaction{}
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *tx)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate transactions: %w", err)
	}
	return out, nil
}

// appendLocked runs the append under an already-held account lock.
func (r *SQLiteRepository) appendLocked(ctx context.Context, accountID int64, kind core.Kind, amountCents int64, note string) (*core.Transaction, error) {
	now := time.Now().UTC()
	txn := core.Transaction{
		AccountID: accountID,
		Kind:      kind,
		Amount:    core.Money{Cents: amountCents},
		Note:      note,
		Timestamp: now,
	}
	if err := txn.Validate(); err != nil {
		return nil, err
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin append: %w", err)
	}
	defer tx.Rollback()

	var balance int64
	err = tx.QueryRowContext(ctx, `SELECT balance_cents FROM children WHERE id = ?`, accountID).Scan(&balance)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, core.ErrAccountNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read balance: %w", err)
	}

	res, err := tx.ExecContext(ctx,
		`INSERT INTO transactions (child_id, kind, amount_cents, note, timestamp)
		 VALUES (?, ?, ?, ?, ?)`,
		accountID, kind, amountCents, note, now)
	if err != nil {
		return nil, fmt.Errorf("insert transaction: %w", err)
	}
	txn.ID, err = res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("transaction id: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE children SET balance_cents = ? WHERE id = ?`, balance+amountCents, accountID)
	if err != nil {
		return nil, fmt.Errorf("update balance: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit append: %w", err)
	}

	slog.InfoContext(ctx, "Transaction appended",
		log.FieldComponent, log.ComponentStorage,
		log.FieldAccountID, accountID,
		log.FieldTransactionID, txn.ID,
		"kind", kind,
		log.FieldAmountCents, amountCents)

	return &txn, nil
}

// Transaction returns a single transaction by id, for the mirror worker.
func (r *SQLiteRepository) Transaction(ctx context.Context, id int64) (*core.Transaction, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT id, child_id, kind, amount_cents, note, timestamp FROM transactions WHERE id = ?`, id)
	tx, err := scanTransaction(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("transaction %d: %w", id, sql.ErrNoRows)
	}
	return tx, err
}

// PendingMirrorTransactions lists transactions not yet mirrored to the
// spreadsheet, oldest first. Backstop for lost AMQP messages.
func (r *SQLiteRepository) PendingMirrorTransactions(ctx context.Context, limit int) ([]core.Transaction, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, child_id, kind, amount_cents, note, timestamp
		 FROM transactions WHERE mirror_status = ?
		 ORDER BY id LIMIT ?`, MirrorPending, limit)
	if err != nil {
		return nil, fmt.Errorf("list pending mirror transactions: %w", err)
	}
	defer rows.Close()

	var out []core.Transaction
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *tx)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate pending mirror transactions: %w", err)
	}
	return out, nil
}

func (r *SQLiteRepository) MarkMirrored(ctx context.Context, id int64) error {
	return r.setMirrorStatus(ctx, id, MirrorDone)
}

func (r *SQLiteRepository) MarkMirrorError(ctx context.Context, id int64) error {
	return r.setMirrorStatus(ctx, id, MirrorError)
}

func (r *SQLiteRepository) setMirrorStatus(ctx context.Context, id int64, status string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE transactions SET mirror_status = ? WHERE id = ?`, status, id)
	if err != nil {
		return fmt.Errorf("set mirror status %s: %w", status, err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAccount(row rowScanner) (*core.Account, error) {
	var a core.Account
	var rate, balance int64
	var last sql.NullInt64
	err := row.Scan(&a.ID, &a.Name, &rate, &balance, &a.AllowanceStartDate, &last, &a.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, core.ErrAccountNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan account: %w", err)
	}
	a.WeeklyAllowance = core.Money{Cents: rate}
	a.Balance = core.Money{Cents: balance}
	if last.Valid {
		p := core.Period(last.Int64)
		a.LastAllowancePeriod = &p
	}
	return &a, nil
}

func scanTransaction(row rowScanner) (*core.Transaction, error) {
	var t core.Transaction
	var kind string
	var amount int64
	err := row.Scan(&t.ID, &t.AccountID, &kind, &amount, &t.Note, &t.Timestamp)
	if err != nil {
		return nil, fmt.Errorf("scan transaction: %w", err)
	}
	t.Kind = core.Kind(kind)
	t.Amount = core.Money{Cents: amount}
	return &t, nil
}
