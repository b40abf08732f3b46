package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/daniele-boerio/calcolatore-spese-BE/internal/core"
	"github.com/daniele-boerio/calcolatore-spese-BE/internal/log"
)

// Outcomes of one auto-reload check.
const (
	ReloadTransferred        ReloadOutcome = "TRANSFERRED"
	ReloadBalanceOK          ReloadOutcome = "BALANCE_OK"
	ReloadInsufficientSource ReloadOutcome = "INSUFFICIENT_SOURCE"
)

type ReloadOutcome string

// ReloadResult records one checked account. Amount and the transaction
// ids are set only when the outcome is TRANSFERRED.
type ReloadResult struct {
	AccountID           int64
	Outcome             ReloadOutcome
	Amount              decimal.Decimal
	SourceTransactionID int64
	TargetTransactionID int64
	NextCheck           core.Date
}

// ReloadReport describes one auto-reload run.
type ReloadReport struct {
	RunID   string
	AsOf    core.Date
	Checked []ReloadResult
}

// Transferred returns the number of accounts that received funds.
func (r ReloadReport) Transferred() int {
	n := 0
	for _, res := range r.Checked {
		if res.Outcome == ReloadTransferred {
			n++
		}
	}
	return n
}

// AutoReloadEngine tops accounts back up to their target balance from a
// designated source account when the balance drops below the minimum
// threshold. Like the recurrence engine it runs across all users in one
// all-or-nothing store transaction.
type AutoReloadEngine struct {
	store  Store
	events EventPublisher
	now    func() time.Time
}

func NewAutoReloadEngine(store Store, events EventPublisher) *AutoReloadEngine {
	return &AutoReloadEngine{
		store:  store,
		events: events,
		now:    time.Now,
	}
}

// Run checks every auto-reload account due on or before asOf, in id
// order. The next check date always advances one period, whether or not
// a transfer happened, so an underfunded source simply retries on the
// next cycle.
func (e *AutoReloadEngine) Run(ctx context.Context, asOf core.Date) (ReloadReport, error) {
	report := ReloadReport{RunID: uuid.NewString(), AsOf: asOf}

	tx, err := e.store.Begin(ctx)
	if err != nil {
		return report, fmt.Errorf("begin auto-reload run: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			if rbErr := tx.Rollback(); rbErr != nil {
				slog.ErrorContext(ctx, "Failed to roll back auto-reload run",
					log.FieldRunID, report.RunID,
					log.FieldError, rbErr)
			}
		}
	}()

	accounts, err := tx.DueReloadAccounts(ctx, asOf)
	if err != nil {
		return report, fmt.Errorf("load due accounts: %w", err)
	}

	slog.InfoContext(ctx, "Checking auto-reload accounts",
		log.FieldRunID, report.RunID,
		log.FieldDue, len(accounts),
		log.FieldAsOf, asOf.String())

	for _, acct := range accounts {
		result, err := e.check(ctx, tx, acct)
		if err != nil {
			slog.ErrorContext(ctx, "Auto-reload run aborted",
				log.FieldRunID, report.RunID,
				log.FieldAccountID, acct.ID,
				log.FieldError, err)
			return report, fmt.Errorf("account %d: %w", acct.ID, err)
		}
		report.Checked = append(report.Checked, result)
	}

	if err := tx.Commit(); err != nil {
		return report, fmt.Errorf("commit auto-reload run: %w", err)
	}
	committed = true

	for _, res := range report.Checked {
		if res.Outcome != ReloadTransferred {
			continue
		}
		e.publishCreated(ctx, res.SourceTransactionID, "autoreload")
		e.publishCreated(ctx, res.TargetTransactionID, "autoreload")
	}

	slog.InfoContext(ctx, "Auto-reload processing complete",
		log.FieldRunID, report.RunID,
		log.FieldChecked, len(report.Checked),
		log.FieldTransferred, report.Transferred())

	return report, nil
}

func (e *AutoReloadEngine) check(ctx context.Context, tx Tx, acct core.Account) (ReloadResult, error) {
	// Re-read inside the unit of work: an earlier check in this run may
	// have debited this account as another account's reload source, and
	// the snapshot from the due query would overwrite that debit.
	acct, err := tx.AccountByID(ctx, acct.ID)
	if err != nil {
		return ReloadResult{}, fmt.Errorf("load account: %w", err)
	}

	next, err := core.NextDate(acct.Reload.CheckFrequency, acct.Reload.NextCheckDate)
	if err != nil {
		return ReloadResult{}, fmt.Errorf("advance check date: %w", err)
	}
	result := ReloadResult{AccountID: acct.ID, NextCheck: next}

	switch {
	case acct.Balance.GreaterThanOrEqual(acct.Reload.MinimumThreshold):
		result.Outcome = ReloadBalanceOK

	default:
		// Under the data-model invariant the shortfall is always
		// positive here: balance < minimum <= target.
		shortfall := acct.Reload.TargetBalance.Sub(acct.Balance)

		source, err := tx.AccountByID(ctx, acct.Reload.SourceAccountID)
		if err != nil {
			return ReloadResult{}, fmt.Errorf("load source account %d: %w", acct.Reload.SourceAccountID, err)
		}

		if source.Balance.LessThan(shortfall) {
			// Not an error: the transfer is deferred, never partial.
			result.Outcome = ReloadInsufficientSource
			slog.InfoContext(ctx, "Auto-reload skipped, source underfunded",
				log.FieldAccountID, acct.ID,
				log.FieldSourceAccount, source.ID,
				log.FieldShortfall, shortfall.String(),
				log.FieldBalance, source.Balance.String())
		} else {
			sourceTxn, targetTxn, err := e.transfer(ctx, tx, source, acct, shortfall)
			if err != nil {
				return ReloadResult{}, err
			}
			result.Outcome = ReloadTransferred
			result.Amount = shortfall
			result.SourceTransactionID = sourceTxn
			result.TargetTransactionID = targetTxn
		}
	}

	if err := tx.SetAccountNextCheck(ctx, acct.ID, next); err != nil {
		return ReloadResult{}, fmt.Errorf("update next check: %w", err)
	}
	return result, nil
}

// transfer moves amount from source to target as a paired
// expense/income, adjusting both balances symmetrically.
func (e *AutoReloadEngine) transfer(ctx context.Context, tx Tx, source, target core.Account, amount decimal.Decimal) (sourceTxnID, targetTxnID int64, err error) {
	date := core.DateOf(e.now())

	sourceTxnID, err = tx.InsertTransaction(ctx, core.Transaction{
		UserID:      target.UserID,
		Amount:      amount,
		Kind:        core.Expense,
		AccountID:   source.ID,
		Date:        date,
		Description: fmt.Sprintf("Auto-reload to %q", target.Name),
	})
	if err != nil {
		return 0, 0, fmt.Errorf("insert source transaction: %w", err)
	}

	targetTxnID, err = tx.InsertTransaction(ctx, core.Transaction{
		UserID:      target.UserID,
		Amount:      amount,
		Kind:        core.Income,
		AccountID:   target.ID,
		Date:        date,
		Description: fmt.Sprintf("Auto-reload from %q", source.Name),
	})
	if err != nil {
		return 0, 0, fmt.Errorf("insert target transaction: %w", err)
	}

	if err := tx.UpdateAccountBalance(ctx, source.ID, source.Balance.Sub(amount)); err != nil {
		return 0, 0, fmt.Errorf("debit source account %d: %w", source.ID, err)
	}
	if err := tx.UpdateAccountBalance(ctx, target.ID, target.Balance.Add(amount)); err != nil {
		return 0, 0, fmt.Errorf("credit account %d: %w", target.ID, err)
	}

	slog.InfoContext(ctx, "Auto-reload transfer executed",
		log.FieldAccountID, target.ID,
		log.FieldSourceAccount, source.ID,
		log.FieldAmount, amount.String())

	return sourceTxnID, targetTxnID, nil
}

func (e *AutoReloadEngine) publishCreated(ctx context.Context, transactionID int64, origin string) {
	if e.events == nil {
		return
	}
	if err := e.events.PublishTransactionCreated(ctx, transactionID, origin); err != nil {
		slog.ErrorContext(ctx, "Failed to publish transaction event",
			log.FieldTransactionID, transactionID,
			log.FieldOrigin, origin,
			log.FieldError, err)
	}
}
