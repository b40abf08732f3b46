package services

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/daniele-boerio/calcolatore-spese-BE/internal/core"
)

// Store opens ledger units of work. Each engine run happens inside a
// single Tx so a failed run never leaves balances inconsistent with
// the transactions it emitted.
type Store interface {
	Begin(ctx context.Context) (Tx, error)
}

// Tx is one all-or-nothing ledger unit of work.
type Tx interface {
	// DueTemplates returns active recurring templates with
	// next_execution_date on or before asOf, ordered by id.
	DueTemplates(ctx context.Context, asOf core.Date) ([]core.RecurringTemplate, error)

	// DueReloadAccounts returns accounts with auto-reload enabled and
	// next_check_date on or before asOf, ordered by id.
	DueReloadAccounts(ctx context.Context, asOf core.Date) ([]core.Account, error)

	AccountByID(ctx context.Context, id int64) (core.Account, error)
	InsertTransaction(ctx context.Context, t core.Transaction) (int64, error)
	UpdateAccountBalance(ctx context.Context, id int64, balance decimal.Decimal) error
	SetTemplateNextExecution(ctx context.Context, id int64, next core.Date) error
	SetAccountNextCheck(ctx context.Context, id int64, next core.Date) error

	Commit() error
	Rollback() error
}

// InvestmentStore is the read/write surface of the price refresh job.
// Updates are per item, outside any shared transaction.
type InvestmentStore interface {
	Investments(ctx context.Context) ([]core.Investment, error)
	SetInvestmentPrice(ctx context.Context, id int64, price decimal.Decimal, asOf core.Date) error
}

// EventPublisher notifies downstream consumers about ledger mutations
// made by the engines. A nil publisher disables publishing.
type EventPublisher interface {
	PublishTransactionCreated(ctx context.Context, transactionID int64, origin string) error
}
