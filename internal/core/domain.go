package core

import (
	"errors"
	"strings"
	"time"
)

const (
	KindAllowance  Kind = "allowance"
	KindPurchase   Kind = "purchase"
	KindAdjustment Kind = "adjustment"
	KindOpening    Kind = "opening"
)

type (
	// Kind classifies a ledger transaction.
	Kind string

	// Account is a child's allowance ledger: current settings plus the
	// cached balance derived from the transaction log.
	Account struct {
		ID                  int64
		Name                string
		WeeklyAllowance     Money
		Balance             Money
		AllowanceStartDate  time.Time
		LastAllowancePeriod *Period
		CreatedAt           time.Time
	}

	// Transaction is one immutable signed monetary event in an account's
	// append-only log. Purchases are stored with a negative amount.
	Transaction struct {
		ID        int64
		AccountID int64
		Kind      Kind
		Amount    Money
		Note      string
		Timestamp time.Time
	}
)

var (
	ErrEmptyName         = errors.New("name must not be empty")
	ErrNameTooLong       = errors.New("name too long (max 100 characters)")
	ErrInvalidAmount     = errors.New("invalid amount")
	ErrNegativeRate      = errors.New("weekly allowance must not be negative")
	ErrNegativeBalance   = errors.New("starting balance must not be negative")
	ErrZeroAdjustment    = errors.New("adjustment amount must not be zero")
	ErrNoteTooLong       = errors.New("note too long (max 200 characters)")
	ErrUnknownKind       = errors.New("unknown transaction kind")
	ErrAccountNotFound   = errors.New("account not found")
	ErrPeriodAlreadyPaid = errors.New("allowance period already credited")
)

// IsValid reports whether k is one of the four ledger kinds.
func (k Kind) IsValid() bool {
	switch k {
	case KindAllowance, KindPurchase, KindAdjustment, KindOpening:
		return true
	}
	return false
}

// ValidateName checks the display-name rules shared by account creation.
func ValidateName(name string) error {
	if strings.TrimSpace(name) == "" {
		return ErrEmptyName
	}
	if len(name) > 100 {
		return ErrNameTooLong
	}
	return nil
}

// Validate checks the per-kind amount invariants before a transaction is
// persisted. Purchases must already carry the negated amount.
func (t Transaction) Validate() error {
	if !t.Kind.IsValid() {
		return ErrUnknownKind
	}
	switch t.Kind {
	case KindPurchase:
		if t.Amount.Cents >= 0 {
			return ErrInvalidAmount
		}
	case KindAdjustment:
		if t.Amount.Cents == 0 {
			return ErrZeroAdjustment
		}
	case KindAllowance, KindOpening:
		if t.Amount.Cents < 0 {
			return ErrInvalidAmount
		}
	}
	if len(t.Note) > 200 {
		return ErrNoteTooLong
	}
	return nil
}
