// Package memory provides an in-memory ledger.Store, used by tests and by
// the memory backend for running without a database file.
package memory

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"paghetta/internal/core"
	"paghetta/internal/ledger"
)

type entry struct {
	mu      sync.Mutex
	acct    core.Account
	log     []core.Transaction
	deleted bool
}

// Store keeps accounts and logs in process memory. The outer mutex guards
// the account index; each account entry carries its own lock so mutations
// on different accounts do not contend. Id counters are atomic so append
// never needs the outer lock while holding an entry lock.
type Store struct {
	mu       sync.RWMutex
	nextAcct atomic.Int64
	nextTx   atomic.Int64
	order    []int64
	accts    map[int64]*entry
}

var _ ledger.Store = (*Store)(nil)

func New() *Store {
	return &Store{accts: make(map[int64]*entry)}
}

func (s *Store) CreateAccount(_ context.Context, na ledger.NewAccount) (*core.Account, error) {
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

	e := &entry{acct: core.Account{
		ID:                 s.nextAcct.Add(1),
		Name:               na.Name,
		WeeklyAllowance:    core.Money{Cents: na.WeeklyAllowanceCents},
		AllowanceStartDate: start,
		CreatedAt:          now,
	}}
	if na.StartingBalanceCents != 0 {
		e.log = append(e.log, core.Transaction{
			ID:        s.nextTx.Add(1),
			AccountID: e.acct.ID,
			Kind:      core.KindOpening,
			Amount:    core.Money{Cents: na.StartingBalanceCents},
			Note:      "Starting balance",
			Timestamp: now,
		})
		e.acct.Balance = core.Money{Cents: na.StartingBalanceCents}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.accts[e.acct.ID] = e
	s.order = append(s.order, e.acct.ID)
	cp := e.acct
	return &cp, nil
}

func (s *Store) Account(_ context.Context, id int64) (*core.Account, error) {
	s.mu.RLock()
	e, ok := s.accts[id]
	s.mu.RUnlock()
	if !ok {
		return nil, core.ErrAccountNotFound
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.deleted {
		return nil, core.ErrAccountNotFound
	}
	cp := e.acct
	return &cp, nil
}

func (s *Store) Accounts(_ context.Context) ([]core.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]core.Account, 0, len(s.order))
	for _, id := range s.order {
		e := s.accts[id]
		e.mu.Lock()
		out = append(out, e.acct)
		e.mu.Unlock()
	}
	return out, nil
}

func (s *Store) DeleteAccount(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.accts[id]
	if !ok {
		return core.ErrAccountNotFound
	}
	// Mark under the entry lock so a mutation that resolved the entry
	// before the delete observes it and fails instead of committing into
	// a detached entry.
	e.mu.Lock()
	e.deleted = true
	e.mu.Unlock()
	delete(s.accts, id)
	for i, v := range s.order {
		if v == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	return nil
}

func (s *Store) AppendTransaction(_ context.Context, accountID int64, kind core.Kind, amountCents int64, note string) (*core.Transaction, error) {
	e, err := s.lookup(accountID)
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return s.append(e, kind, amountCents, note)
}

func (s *Store) UpdateWeeklyAllowance(_ context.Context, accountID, newRateCents int64) (*core.Account, error) {
	if newRateCents < 0 {
		return nil, core.ErrNegativeRate
	}
	e, err := s.lookup(accountID)
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.deleted {
		return nil, core.ErrAccountNotFound
	}
	e.acct.WeeklyAllowance = core.Money{Cents: newRateCents}
	cp := e.acct
	return &cp, nil
}

func (s *Store) CreditAllowance(_ context.Context, accountID int64, period core.Period) (*core.Transaction, error) {
	e, err := s.lookup(accountID)
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if last := e.acct.LastAllowancePeriod; last != nil && period <= *last {
		return nil, core.ErrPeriodAlreadyPaid
	}
	tx, err := s.append(e, core.KindAllowance, e.acct.WeeklyAllowance.Cents, fmt.Sprintf("Weekly allowance %s", period))
	if err != nil {
		return nil, err
	}
	p := period
	e.acct.LastAllowancePeriod = &p
	return tx, nil
}

func (s *Store) Transactions(_ context.Context, accountID int64) ([]core.Transaction, error) {
	e, err := s.lookup(accountID)
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.deleted {
		return nil, core.ErrAccountNotFound
	}
	// Log is append-only, so reversing gives newest first with insertion
	// order preserved among equal timestamps.
	out := make([]core.Transaction, len(e.log))
	for i, tx := range e.log {
		out[len(e.log)-1-i] = tx
	}
	return out, nil
}

func (s *Store) Close() error { return nil }

func (s *Store) lookup(id int64) (*entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.accts[id]
	if !ok {
		return nil, core.ErrAccountNotFound
	}
	return e, nil
}

// append validates and commits one transaction plus the balance update
// under the caller-held entry lock.
func (s *Store) append(e *entry, kind core.Kind, amountCents int64, note string) (*core.Transaction, error) {
	if e.deleted {
		return nil, core.ErrAccountNotFound
	}
	tx := core.Transaction{
		ID:        s.nextTx.Add(1),
		AccountID: e.acct.ID,
		Kind:      kind,
		Amount:    core.Money{Cents: amountCents},
		Note:      note,
		Timestamp: time.Now().UTC(),
	}
	if err := tx.Validate(); err != nil {
		return nil, err
	}
	e.log = append(e.log, tx)
	e.acct.Balance.Cents += amountCents
	cp := tx
	return &cp, nil
}
