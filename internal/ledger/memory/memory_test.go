package memory

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"paghetta/internal/core"
	"paghetta/internal/ledger"
)

func newAccount(t *testing.T, s *Store, name string, rate, opening int64) *core.Account {
	t.Helper()
	acct, err := s.CreateAccount(context.Background(), ledger.NewAccount{
		Name:                 name,
		WeeklyAllowanceCents: rate,
		StartingBalanceCents: opening,
	})
	if err != nil {
		t.Fatalf("CreateAccount: %v", err)
	}
	return acct
}

func TestCreateAccountValidation(t *testing.T) {
	s := New()
	ctx := context.Background()

	tests := []struct {
		name    string
		na      ledger.NewAccount
		wantErr error
	}{
		{name: "empty name", na: ledger.NewAccount{Name: " "}, wantErr: core.ErrEmptyName},
		{name: "negative rate", na: ledger.NewAccount{Name: "Luca", WeeklyAllowanceCents: -1}, wantErr: core.ErrNegativeRate},
		{name: "negative opening", na: ledger.NewAccount{Name: "Luca", StartingBalanceCents: -1}, wantErr: core.ErrNegativeBalance},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := s.CreateAccount(ctx, tt.na); !errors.Is(err, tt.wantErr) {
				t.Errorf("CreateAccount() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestOpeningBalanceIsATransaction(t *testing.T) {
	s := New()
	acct := newAccount(t, s, "Giulia", 1000, 2500)

	if acct.Balance.Cents != 2500 {
		t.Fatalf("balance = %d, want 2500", acct.Balance.Cents)
	}
	txs, err := s.Transactions(context.Background(), acct.ID)
	if err != nil {
		t.Fatalf("Transactions: %v", err)
	}
	if len(txs) != 1 || txs[0].Kind != core.KindOpening || txs[0].Amount.Cents != 2500 {
		t.Fatalf("expected one opening transaction of 2500, got %+v", txs)
	}
}

func TestBalanceEqualsSumOfTransactions(t *testing.T) {
	s := New()
	ctx := context.Background()
	acct := newAccount(t, s, "Giulia", 1000, 500)

	if _, err := s.AppendTransaction(ctx, acct.ID, core.KindPurchase, -750, "gelato"); err != nil {
		t.Fatalf("append purchase: %v", err)
	}
	if _, err := s.AppendTransaction(ctx, acct.ID, core.KindAdjustment, 300, ""); err != nil {
		t.Fatalf("append adjustment: %v", err)
	}

	got, err := s.Account(ctx, acct.ID)
	if err != nil {
		t.Fatalf("Account: %v", err)
	}
	txs, _ := s.Transactions(ctx, acct.ID)
	var sum int64
	for _, tx := range txs {
		sum += tx.Amount.Cents
	}
	if got.Balance.Cents != sum {
		t.Errorf("balance %d diverged from transaction sum %d", got.Balance.Cents, sum)
	}
	if got.Balance.Cents != 50 {
		t.Errorf("balance = %d, want 50", got.Balance.Cents)
	}
}

func TestNegativeBalancePermitted(t *testing.T) {
	s := New()
	ctx := context.Background()
	acct := newAccount(t, s, "Luca", 0, 100)

	if _, err := s.AppendTransaction(ctx, acct.ID, core.KindPurchase, -900, "book"); err != nil {
		t.Fatalf("append purchase: %v", err)
	}
	got, _ := s.Account(ctx, acct.ID)
	if got.Balance.Cents != -800 {
		t.Errorf("balance = %d, want -800 (no floor)", got.Balance.Cents)
	}
}

func TestCreditAllowanceIdempotent(t *testing.T) {
	s := New()
	ctx := context.Background()
	acct := newAccount(t, s, "Giulia", 1000, 0)
	period := core.PeriodOf(time.Now())

	tx, err := s.CreditAllowance(ctx, acct.ID, period)
	if err != nil {
		t.Fatalf("CreditAllowance: %v", err)
	}
	if tx.Kind != core.KindAllowance || tx.Amount.Cents != 1000 {
		t.Fatalf("credit = %+v, want allowance of 1000", tx)
	}
	if _, err := s.CreditAllowance(ctx, acct.ID, period); !errors.Is(err, core.ErrPeriodAlreadyPaid) {
		t.Fatalf("second credit error = %v, want ErrPeriodAlreadyPaid", err)
	}
	txs, _ := s.Transactions(ctx, acct.ID)
	if len(txs) != 1 {
		t.Errorf("log has %d transactions, want 1", len(txs))
	}
	got, _ := s.Account(ctx, acct.ID)
	if got.LastAllowancePeriod == nil || *got.LastAllowancePeriod != period {
		t.Errorf("watermark = %v, want %v", got.LastAllowancePeriod, period)
	}
}

func TestDeleteAccountCascades(t *testing.T) {
	s := New()
	ctx := context.Background()
	acct := newAccount(t, s, "Luca", 500, 100)

	if err := s.DeleteAccount(ctx, acct.ID); err != nil {
		t.Fatalf("DeleteAccount: %v", err)
	}
	if _, err := s.Account(ctx, acct.ID); !errors.Is(err, core.ErrAccountNotFound) {
		t.Errorf("Account after delete = %v, want ErrAccountNotFound", err)
	}
	if _, err := s.Transactions(ctx, acct.ID); !errors.Is(err, core.ErrAccountNotFound) {
		t.Errorf("Transactions after delete = %v, want ErrAccountNotFound", err)
	}
	if err := s.DeleteAccount(ctx, acct.ID); !errors.Is(err, core.ErrAccountNotFound) {
		t.Errorf("double delete = %v, want ErrAccountNotFound", err)
	}
}

func TestDeleteBlocksStaleEntryMutations(t *testing.T) {
	s := New()
	ctx := context.Background()
	acct := newAccount(t, s, "Luca", 500, 100)

	// Simulate a writer that resolved the entry before the delete ran and
	// only takes the entry lock afterwards.
	e, err := s.lookup(acct.ID)
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if err := s.DeleteAccount(ctx, acct.ID); err != nil {
		t.Fatalf("DeleteAccount: %v", err)
	}

	e.mu.Lock()
	_, appendErr := s.append(e, core.KindPurchase, -500, "")
	e.mu.Unlock()
	if !errors.Is(appendErr, core.ErrAccountNotFound) {
		t.Errorf("append on deleted entry = %v, want ErrAccountNotFound", appendErr)
	}
	if len(e.log) != 1 {
		t.Errorf("detached entry gained transactions: log has %d, want 1 (opening only)", len(e.log))
	}

	e.mu.Lock()
	deleted := e.deleted
	e.mu.Unlock()
	if !deleted {
		t.Error("entry not marked deleted")
	}
}

func TestAccountsCreationOrder(t *testing.T) {
	s := New()
	names := []string{"Anna", "Bruno", "Carla"}
	for _, n := range names {
		newAccount(t, s, n, 0, 0)
	}
	accts, err := s.Accounts(context.Background())
	if err != nil {
		t.Fatalf("Accounts: %v", err)
	}
	for i, a := range accts {
		if a.Name != names[i] {
			t.Errorf("accounts[%d] = %q, want %q", i, a.Name, names[i])
		}
	}
}

func TestHistoryNewestFirst(t *testing.T) {
	s := New()
	ctx := context.Background()
	acct := newAccount(t, s, "Giulia", 0, 0)

	for _, amt := range []int64{-100, -200, -300} {
		if _, err := s.AppendTransaction(ctx, acct.ID, core.KindPurchase, amt, ""); err != nil {
			t.Fatalf("append: %v", err)
		}
	}
	txs, _ := s.Transactions(ctx, acct.ID)
	if len(txs) != 3 {
		t.Fatalf("len = %d, want 3", len(txs))
	}
	for i := 1; i < len(txs); i++ {
		if txs[i].ID > txs[i-1].ID {
			t.Errorf("history not newest first: ids %d then %d", txs[i-1].ID, txs[i].ID)
		}
		if txs[i].Timestamp.After(txs[i-1].Timestamp) {
			t.Errorf("history timestamps not descending")
		}
	}
}

func TestConcurrentMutationsNoLostUpdate(t *testing.T) {
	s := New()
	ctx := context.Background()
	acct := newAccount(t, s, "Giulia", 0, 0)

	const n = 50
	var wg sync.WaitGroup
	wg.Add(2 * n)
	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()
			if _, err := s.AppendTransaction(ctx, acct.ID, core.KindPurchase, -500, ""); err != nil {
				t.Errorf("purchase: %v", err)
			}
		}()
		go func() {
			defer wg.Done()
			if _, err := s.AppendTransaction(ctx, acct.ID, core.KindAdjustment, -300, ""); err != nil {
				t.Errorf("adjustment: %v", err)
			}
		}()
	}
	wg.Wait()

	got, _ := s.Account(ctx, acct.ID)
	want := int64(n*-500 + n*-300)
	if got.Balance.Cents != want {
		t.Errorf("balance = %d, want %d", got.Balance.Cents, want)
	}
	txs, _ := s.Transactions(ctx, acct.ID)
	if len(txs) != 2*n {
		t.Errorf("log has %d transactions, want %d", len(txs), 2*n)
	}
}

func TestConcurrentCreditSinglePeriod(t *testing.T) {
	s := New()
	ctx := context.Background()
	acct := newAccount(t, s, "Giulia", 1000, 0)
	period := core.PeriodOf(time.Now())

	var wg sync.WaitGroup
	credited := make(chan struct{}, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := s.CreditAllowance(ctx, acct.ID, period); err == nil {
				credited <- struct{}{}
			}
		}()
	}
	wg.Wait()
	close(credited)

	if n := len(credited); n != 1 {
		t.Errorf("period credited %d times, want exactly 1", n)
	}
}
