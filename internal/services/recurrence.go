package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/daniele-boerio/calcolatore-spese-BE/internal/core"
	"github.com/daniele-boerio/calcolatore-spese-BE/internal/log"
)

// RecurrenceEngine materializes due recurring templates into real
// ledger transactions and advances each template's schedule. One run
// covers all users and happens inside a single store transaction: a
// failure on any template rolls back everything already applied in
// the run, because partially applied runs leave balances inconsistent
// with the transactions they emitted.
type RecurrenceEngine struct {
	store  Store
	events EventPublisher
	now    func() time.Time
}

func NewRecurrenceEngine(store Store, events EventPublisher) *RecurrenceEngine {
	return &RecurrenceEngine{
		store:  store,
		events: events,
		now:    time.Now,
	}
}

// FiredTemplate records one template firing and the transaction it produced.
type FiredTemplate struct {
	TemplateID    int64
	TransactionID int64
}

// RecurrenceReport describes one engine run.
type RecurrenceReport struct {
	RunID string
	AsOf  core.Date
	Fired []FiredTemplate
}

// Processed returns the number of templates fired in the run.
func (r RecurrenceReport) Processed() int {
	return len(r.Fired)
}

// Run fires every active template due on or before asOf, in id order.
// A template that is overdue by several periods still fires exactly
// once per run; each missed period catches up on a later run.
func (e *RecurrenceEngine) Run(ctx context.Context, asOf core.Date) (RecurrenceReport, error) {
	report := RecurrenceReport{RunID: uuid.NewString(), AsOf: asOf}

	tx, err := e.store.Begin(ctx)
	if err != nil {
		return report, fmt.Errorf("begin recurrence run: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			if rbErr := tx.Rollback(); rbErr != nil {
				slog.ErrorContext(ctx, "Failed to roll back recurrence run",
					log.FieldRunID, report.RunID,
					log.FieldError, rbErr)
			}
		}
	}()

	templates, err := tx.DueTemplates(ctx, asOf)
	if err != nil {
		return report, fmt.Errorf("load due templates: %w", err)
	}

	slog.InfoContext(ctx, "Processing recurring templates",
		log.FieldRunID, report.RunID,
		log.FieldDue, len(templates),
		log.FieldAsOf, asOf.String())

	for _, tpl := range templates {
		fired, err := e.fire(ctx, tx, tpl)
		if err != nil {
			slog.ErrorContext(ctx, "Recurrence run aborted",
				log.FieldRunID, report.RunID,
				log.FieldTemplateID, tpl.ID,
				log.FieldAccountID, tpl.AccountID,
				log.FieldError, err)
			return report, fmt.Errorf("template %d: %w", tpl.ID, err)
		}
		report.Fired = append(report.Fired, fired)
	}

	if err := tx.Commit(); err != nil {
		return report, fmt.Errorf("commit recurrence run: %w", err)
	}
	committed = true

	for _, fired := range report.Fired {
		e.publishCreated(ctx, fired.TransactionID, "recurrence")
	}

	slog.InfoContext(ctx, "Recurring template processing complete",
		log.FieldRunID, report.RunID,
		log.FieldProcessed, report.Processed())

	return report, nil
}

// fire emits the transaction for one template, applies its balance
// effect and advances the schedule by exactly one period from the
// template's own previous due date, keeping the cadence locked to the
// original schedule even when the run happens late.
func (e *RecurrenceEngine) fire(ctx context.Context, tx Tx, tpl core.RecurringTemplate) (FiredTemplate, error) {
	account, err := tx.AccountByID(ctx, tpl.AccountID)
	if err != nil {
		return FiredTemplate{}, fmt.Errorf("load account %d: %w", tpl.AccountID, err)
	}

	txn := core.Transaction{
		UserID:        tpl.UserID,
		Amount:        tpl.Amount,
		Kind:          tpl.Kind,
		AccountID:     tpl.AccountID,
		CategoryID:    tpl.CategoryID,
		SubcategoryID: tpl.SubcategoryID,
		TagID:         tpl.TagID,
		Date:          core.DateOf(e.now()),
		Description:   fmt.Sprintf("Recurring: %s", tpl.Name),
	}
	txnID, err := tx.InsertTransaction(ctx, txn)
	if err != nil {
		return FiredTemplate{}, fmt.Errorf("insert transaction: %w", err)
	}

	newBalance := account.Balance.Add(tpl.Kind.BalanceEffect(tpl.Amount))
	if err := tx.UpdateAccountBalance(ctx, account.ID, newBalance); err != nil {
		return FiredTemplate{}, fmt.Errorf("update balance of account %d: %w", account.ID, err)
	}

	next, err := core.NextDate(tpl.Frequency, tpl.NextExecution)
	if err != nil {
		return FiredTemplate{}, fmt.Errorf("advance schedule: %w", err)
	}
	if err := tx.SetTemplateNextExecution(ctx, tpl.ID, next); err != nil {
		return FiredTemplate{}, fmt.Errorf("update next execution: %w", err)
	}

	slog.InfoContext(ctx, "Fired recurring template",
		log.FieldTemplateID, tpl.ID,
		log.FieldTransactionID, txnID,
		log.FieldAccountID, account.ID,
		log.FieldAmount, tpl.Amount.String(),
		log.FieldKind, string(tpl.Kind),
		log.FieldNextDate, next.String())

	return FiredTemplate{TemplateID: tpl.ID, TransactionID: txnID}, nil
}

func (e *RecurrenceEngine) publishCreated(ctx context.Context, transactionID int64, origin string) {
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
