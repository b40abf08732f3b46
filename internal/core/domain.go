package core

import (
	"errors"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

const (
	Income  TransactionKind = "INCOME"
	Expense TransactionKind = "EXPENSE"
	Refund  TransactionKind = "REFUND"
)

const (
	Daily   Frequency = "DAILY"
	Weekly  Frequency = "WEEKLY"
	Monthly Frequency = "MONTHLY"
	Yearly  Frequency = "YEARLY"
)

type (
	TransactionKind string

	Frequency string

	User struct {
		ID       int64
		Username string
		Email    string
	}

	// AutoReload is the optional replenishment configuration of an Account.
	// When Enabled is true every field below must be set and
	// MinimumThreshold must not exceed TargetBalance.
	AutoReload struct {
		Enabled          bool
		TargetBalance    decimal.Decimal
		MinimumThreshold decimal.Decimal
		SourceAccountID  int64
		CheckFrequency   Frequency
		NextCheckDate    Date
	}

	Account struct {
		ID      int64
		UserID  int64
		Name    string
		Balance decimal.Decimal
		Reload  AutoReload
	}

	Transaction struct {
		ID            int64
		UserID        int64
		Amount        decimal.Decimal
		Kind          TransactionKind
		AccountID     int64
		CategoryID    *int64
		SubcategoryID *int64
		TagID         *int64
		// ParentID links a REFUND to the EXPENSE it refunds.
		ParentID    *int64
		Date        Date
		Description string
		CreatedAt   time.Time
		UpdatedAt   time.Time
	}

	// RecurringTemplate is a user-defined rule that periodically spawns
	// a real transaction. REFUND is not a valid template kind.
	RecurringTemplate struct {
		ID            int64
		UserID        int64
		Name          string
		Amount        decimal.Decimal
		Kind          TransactionKind
		Frequency     Frequency
		NextExecution Date
		Active        bool
		AccountID     int64
		CategoryID    *int64
		SubcategoryID *int64
		TagID         *int64
	}

	// Investment is a held security tracked by ISIN. CurrentPrice and
	// LastPriceDate stay zero until the price refresh job first succeeds.
	Investment struct {
		ID            int64
		UserID        int64
		ISIN          string
		Ticker        string
		Name          string
		CurrentPrice  decimal.Decimal
		LastPriceDate Date
	}
)

var (
	ErrInvalidAmount      = errors.New("amount must be positive")
	ErrInvalidKind        = errors.New("invalid transaction kind")
	ErrInvalidFrequency   = errors.New("invalid frequency")
	ErrEmptyName          = errors.New("empty name")
	ErrMissingNextDate    = errors.New("active template requires a next execution date")
	ErrReloadIncomplete   = errors.New("auto-reload enabled but configuration incomplete")
	ErrReloadThreshold    = errors.New("auto-reload minimum threshold exceeds target balance")
	ErrReloadSelfSource   = errors.New("auto-reload source account must differ from the account")
	ErrRefundNeedsParent  = errors.New("refund requires a parent transaction")
	ErrTemplateKindRefund = errors.New("refund is not a valid recurring template kind")
)

func (k TransactionKind) Valid() bool {
	switch k {
	case Income, Expense, Refund:
		return true
	}
	return false
}

// BalanceEffect returns the signed delta a transaction of this kind and
// amount applies to its account: expenses subtract, everything else adds.
func (k TransactionKind) BalanceEffect(amount decimal.Decimal) decimal.Decimal {
	if k == Expense {
		return amount.Neg()
	}
	return amount
}

func (f Frequency) Valid() bool {
	switch f {
	case Daily, Weekly, Monthly, Yearly:
		return true
	}
	return false
}

// ValidCheckFrequency reports whether f is allowed as an auto-reload
// check cadence. Only weekly and monthly checks are supported.
func (f Frequency) ValidCheckFrequency() bool {
	return f == Weekly || f == Monthly
}

func (r AutoReload) Validate() error {
	if !r.Enabled {
		return nil
	}
	if r.SourceAccountID == 0 || r.NextCheckDate.IsZero() {
		return ErrReloadIncomplete
	}
	if !r.CheckFrequency.ValidCheckFrequency() {
		return ErrInvalidFrequency
	}
	if r.MinimumThreshold.GreaterThan(r.TargetBalance) {
		return ErrReloadThreshold
	}
	return nil
}

func (a Account) Validate() error {
	if strings.TrimSpace(a.Name) == "" {
		return ErrEmptyName
	}
	if err := a.Reload.Validate(); err != nil {
		return err
	}
	if a.Reload.Enabled && a.Reload.SourceAccountID == a.ID {
		return ErrReloadSelfSource
	}
	return nil
}

func (t Transaction) Validate() error {
	if !t.Kind.Valid() {
		return ErrInvalidKind
	}
	if !t.Amount.IsPositive() {
		return ErrInvalidAmount
	}
	if t.Kind == Refund && t.ParentID == nil {
		return ErrRefundNeedsParent
	}
	if t.Date.IsZero() {
		return errors.New("transaction date cannot be zero")
	}
	return nil
}

func (rt RecurringTemplate) Validate() error {
	if strings.TrimSpace(rt.Name) == "" {
		return ErrEmptyName
	}
	if rt.Kind == Refund {
		return ErrTemplateKindRefund
	}
	if !rt.Kind.Valid() {
		return ErrInvalidKind
	}
	if !rt.Amount.IsPositive() {
		return ErrInvalidAmount
	}
	if !rt.Frequency.Valid() {
		return ErrInvalidFrequency
	}
	if rt.Active && rt.NextExecution.IsZero() {
		return ErrMissingNextDate
	}
	return nil
}
