package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/daniele-boerio/calcolatore-spese-BE/internal/core"
)

func newTestRecurrenceEngine(store Store, events EventPublisher) *RecurrenceEngine {
	eng := NewRecurrenceEngine(store, events)
	eng.now = func() time.Time {
		return time.Date(2024, 1, 20, 9, 0, 0, 0, time.UTC)
	}
	return eng
}

func TestRecurrenceFiresDueTemplate(t *testing.T) {
	store := newFakeStore()
	store.putAccount(core.Account{ID: 1, UserID: 1, Name: "Checking", Balance: decimal.NewFromInt(100)})
	store.putTemplate(core.RecurringTemplate{
		ID:            1,
		UserID:        1,
		Name:          "Salary",
		Amount:        decimal.NewFromInt(50),
		Kind:          core.Income,
		Frequency:     core.Monthly,
		NextExecution: core.NewDate(2024, 1, 15),
		Active:        true,
		AccountID:     1,
	})
	events := &fakePublisher{}
	eng := newTestRecurrenceEngine(store, events)

	report, err := eng.Run(context.Background(), core.NewDate(2024, 1, 20))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if report.Processed() != 1 {
		t.Fatalf("Processed() = %d, want 1", report.Processed())
	}
	if len(store.transactions) != 1 {
		t.Fatalf("transactions = %d, want 1", len(store.transactions))
	}

	txn := store.transactions[0]
	if !txn.Amount.Equal(decimal.NewFromInt(50)) || txn.Kind != core.Income {
		t.Errorf("transaction = %s %s, want 50 INCOME", txn.Amount, txn.Kind)
	}
	if txn.Description != "Recurring: Salary" {
		t.Errorf("description = %q", txn.Description)
	}
	if txn.Date.String() != "2024-01-20" {
		t.Errorf("transaction date = %s, want processing date", txn.Date)
	}

	if got := store.accounts[1].Balance; !got.Equal(decimal.NewFromInt(150)) {
		t.Errorf("balance = %s, want 150", got)
	}
	if next := store.templates[1].NextExecution; next.String() != "2024-02-15" {
		t.Errorf("next execution = %s, want 2024-02-15", next)
	}

	if len(events.published) != 1 || events.published[0] != report.Fired[0].TransactionID {
		t.Errorf("published = %v, want [%d]", events.published, report.Fired[0].TransactionID)
	}
	if events.origins[0] != "recurrence" {
		t.Errorf("origin = %q", events.origins[0])
	}
}

func TestRecurrenceExpenseDecreasesBalance(t *testing.T) {
	store := newFakeStore()
	store.putAccount(core.Account{ID: 1, UserID: 1, Name: "Checking", Balance: decimal.NewFromInt(1000)})
	store.putTemplate(core.RecurringTemplate{
		ID: 1, UserID: 1, Name: "Rent", Amount: decimal.NewFromInt(800),
		Kind: core.Expense, Frequency: core.Monthly,
		NextExecution: core.NewDate(2024, 1, 1), Active: true, AccountID: 1,
	})
	eng := newTestRecurrenceEngine(store, nil)

	if _, err := eng.Run(context.Background(), core.NewDate(2024, 1, 1)); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got := store.accounts[1].Balance; !got.Equal(decimal.NewFromInt(200)) {
		t.Errorf("balance = %s, want 200", got)
	}
}

func TestRecurrenceNothingDue(t *testing.T) {
	store := newFakeStore()
	store.putAccount(core.Account{ID: 1, UserID: 1, Name: "Checking", Balance: decimal.NewFromInt(100)})
	store.putTemplate(core.RecurringTemplate{
		ID: 1, UserID: 1, Name: "Salary", Amount: decimal.NewFromInt(50),
		Kind: core.Income, Frequency: core.Monthly,
		NextExecution: core.NewDate(2024, 2, 15), Active: true, AccountID: 1,
	})
	eng := newTestRecurrenceEngine(store, nil)

	report, err := eng.Run(context.Background(), core.NewDate(2024, 1, 20))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if report.Processed() != 0 {
		t.Errorf("Processed() = %d, want 0", report.Processed())
	}
	if len(store.transactions) != 0 {
		t.Errorf("transactions = %d, want 0", len(store.transactions))
	}
	if got := store.accounts[1].Balance; !got.Equal(decimal.NewFromInt(100)) {
		t.Errorf("balance mutated to %s with nothing due", got)
	}
}

func TestRecurrenceSecondRunIsNoop(t *testing.T) {
	store := newFakeStore()
	store.putAccount(core.Account{ID: 1, UserID: 1, Name: "Checking", Balance: decimal.NewFromInt(100)})
	store.putTemplate(core.RecurringTemplate{
		ID: 1, UserID: 1, Name: "Salary", Amount: decimal.NewFromInt(50),
		Kind: core.Income, Frequency: core.Monthly,
		NextExecution: core.NewDate(2024, 1, 15), Active: true, AccountID: 1,
	})
	eng := newTestRecurrenceEngine(store, nil)
	asOf := core.NewDate(2024, 1, 20)

	if _, err := eng.Run(context.Background(), asOf); err != nil {
		t.Fatalf("first run: %v", err)
	}
	report, err := eng.Run(context.Background(), asOf)
	if err != nil {
		t.Fatalf("second run: %v", err)
	}

	if report.Processed() != 0 {
		t.Errorf("second run processed %d, want 0", report.Processed())
	}
	if len(store.transactions) != 1 {
		t.Errorf("transactions = %d, want 1", len(store.transactions))
	}
}

func TestRecurrenceOverdueTemplateFiresOncePerRun(t *testing.T) {
	store := newFakeStore()
	store.putAccount(core.Account{ID: 1, UserID: 1, Name: "Checking", Balance: decimal.Zero})
	store.putTemplate(core.RecurringTemplate{
		ID: 1, UserID: 1, Name: "Netflix", Amount: decimal.NewFromInt(15),
		Kind: core.Expense, Frequency: core.Monthly,
		NextExecution: core.NewDate(2024, 1, 15), Active: true, AccountID: 1,
	})
	eng := newTestRecurrenceEngine(store, nil)

	// Two whole periods overdue: still exactly one transaction, and the
	// schedule advances a single period.
	report, err := eng.Run(context.Background(), core.NewDate(2024, 3, 20))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if report.Processed() != 1 {
		t.Errorf("Processed() = %d, want 1", report.Processed())
	}
	if len(store.transactions) != 1 {
		t.Errorf("transactions = %d, want 1", len(store.transactions))
	}
	if next := store.templates[1].NextExecution; next.String() != "2024-02-15" {
		t.Errorf("next execution = %s, want 2024-02-15 (one period)", next)
	}
}

func TestRecurrenceWeeklyCadenceAcrossRuns(t *testing.T) {
	store := newFakeStore()
	store.putAccount(core.Account{ID: 1, UserID: 1, Name: "Checking", Balance: decimal.Zero})
	store.putTemplate(core.RecurringTemplate{
		ID: 1, UserID: 1, Name: "Groceries", Amount: decimal.NewFromInt(70),
		Kind: core.Expense, Frequency: core.Weekly,
		NextExecution: core.NewDate(2024, 1, 8), Active: true, AccountID: 1,
	})
	eng := newTestRecurrenceEngine(store, nil)

	for i, asOf := range []core.Date{core.NewDate(2024, 1, 8), core.NewDate(2024, 1, 15)} {
		report, err := eng.Run(context.Background(), asOf)
		if err != nil {
			t.Fatalf("run %d: %v", i+1, err)
		}
		if report.Processed() != 1 {
			t.Errorf("run %d processed %d, want 1", i+1, report.Processed())
		}
	}
	if len(store.transactions) != 2 {
		t.Errorf("transactions = %d, want 2", len(store.transactions))
	}
	if next := store.templates[1].NextExecution; next.String() != "2024-01-22" {
		t.Errorf("next execution = %s, want 2024-01-22", next)
	}
}

func TestRecurrenceInactiveTemplateIgnored(t *testing.T) {
	store := newFakeStore()
	store.putAccount(core.Account{ID: 1, UserID: 1, Name: "Checking", Balance: decimal.Zero})
	store.putTemplate(core.RecurringTemplate{
		ID: 1, UserID: 1, Name: "Paused", Amount: decimal.NewFromInt(10),
		Kind: core.Expense, Frequency: core.Daily,
		NextExecution: core.NewDate(2024, 1, 1), Active: false, AccountID: 1,
	})
	eng := newTestRecurrenceEngine(store, nil)

	report, err := eng.Run(context.Background(), core.NewDate(2024, 1, 20))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if report.Processed() != 0 || len(store.transactions) != 0 {
		t.Error("inactive template must not fire")
	}
}

func TestRecurrenceFiresInIDOrder(t *testing.T) {
	store := newFakeStore()
	store.putAccount(core.Account{ID: 1, UserID: 1, Name: "Checking", Balance: decimal.Zero})
	for _, id := range []int64{3, 1, 2} {
		store.putTemplate(core.RecurringTemplate{
			ID: id, UserID: 1, Name: "T", Amount: decimal.NewFromInt(1),
			Kind: core.Income, Frequency: core.Daily,
			NextExecution: core.NewDate(2024, 1, 1), Active: true, AccountID: 1,
		})
	}
	eng := newTestRecurrenceEngine(store, nil)

	report, err := eng.Run(context.Background(), core.NewDate(2024, 1, 1))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	for i, want := range []int64{1, 2, 3} {
		if report.Fired[i].TemplateID != want {
			t.Errorf("Fired[%d].TemplateID = %d, want %d", i, report.Fired[i].TemplateID, want)
		}
	}
}

func TestRecurrenceBalanceDeltasMatchTransactions(t *testing.T) {
	store := newFakeStore()
	store.putAccount(core.Account{ID: 1, UserID: 1, Name: "A", Balance: decimal.NewFromInt(500)})
	store.putAccount(core.Account{ID: 2, UserID: 2, Name: "B", Balance: decimal.NewFromInt(300)})
	store.putTemplate(core.RecurringTemplate{
		ID: 1, UserID: 1, Name: "Salary", Amount: decimal.NewFromInt(1200),
		Kind: core.Income, Frequency: core.Monthly,
		NextExecution: core.NewDate(2024, 1, 1), Active: true, AccountID: 1,
	})
	store.putTemplate(core.RecurringTemplate{
		ID: 2, UserID: 1, Name: "Rent", Amount: decimal.NewFromInt(800),
		Kind: core.Expense, Frequency: core.Monthly,
		NextExecution: core.NewDate(2024, 1, 1), Active: true, AccountID: 1,
	})
	store.putTemplate(core.RecurringTemplate{
		ID: 3, UserID: 2, Name: "Gym", Amount: decimal.NewFromInt(40),
		Kind: core.Expense, Frequency: core.Weekly,
		NextExecution: core.NewDate(2024, 1, 1), Active: true, AccountID: 2,
	})
	before := decimal.NewFromInt(800) // sum of balances
	eng := newTestRecurrenceEngine(store, nil)

	if _, err := eng.Run(context.Background(), core.NewDate(2024, 1, 2)); err != nil {
		t.Fatalf("Run: %v", err)
	}

	after := store.accounts[1].Balance.Add(store.accounts[2].Balance)
	signedSum := decimal.Zero
	for _, txn := range store.transactions {
		signedSum = signedSum.Add(txn.Kind.BalanceEffect(txn.Amount))
	}
	if !after.Sub(before).Equal(signedSum) {
		t.Errorf("balance delta %s != signed transaction sum %s", after.Sub(before), signedSum)
	}
}

func TestRecurrenceMissingAccountAbortsRun(t *testing.T) {
	store := newFakeStore()
	store.putAccount(core.Account{ID: 1, UserID: 1, Name: "Checking", Balance: decimal.NewFromInt(100)})
	store.putTemplate(core.RecurringTemplate{
		ID: 1, UserID: 1, Name: "Good", Amount: decimal.NewFromInt(10),
		Kind: core.Income, Frequency: core.Daily,
		NextExecution: core.NewDate(2024, 1, 1), Active: true, AccountID: 1,
	})
	store.putTemplate(core.RecurringTemplate{
		ID: 2, UserID: 1, Name: "Orphan", Amount: decimal.NewFromInt(10),
		Kind: core.Income, Frequency: core.Daily,
		NextExecution: core.NewDate(2024, 1, 1), Active: true, AccountID: 99,
	})
	eng := newTestRecurrenceEngine(store, nil)

	_, err := eng.Run(context.Background(), core.NewDate(2024, 1, 1))
	if err == nil {
		t.Fatal("expected run to fail on missing account")
	}

	// All-or-nothing: the first template's effects roll back too.
	if len(store.transactions) != 0 {
		t.Errorf("transactions = %d after rollback, want 0", len(store.transactions))
	}
	if got := store.accounts[1].Balance; !got.Equal(decimal.NewFromInt(100)) {
		t.Errorf("balance = %s after rollback, want 100", got)
	}
	if next := store.templates[1].NextExecution; next.String() != "2024-01-01" {
		t.Errorf("template 1 next execution = %s after rollback, want unchanged", next)
	}
}

func TestRecurrenceBeginFailure(t *testing.T) {
	store := newFakeStore()
	store.beginErr = errors.New("store unavailable")
	eng := newTestRecurrenceEngine(store, nil)

	if _, err := eng.Run(context.Background(), core.NewDate(2024, 1, 1)); err == nil {
		t.Fatal("expected error when the store is unavailable")
	}
}

func TestRecurrencePublishFailureDoesNotFailRun(t *testing.T) {
	store := newFakeStore()
	store.putAccount(core.Account{ID: 1, UserID: 1, Name: "Checking", Balance: decimal.Zero})
	store.putTemplate(core.RecurringTemplate{
		ID: 1, UserID: 1, Name: "Salary", Amount: decimal.NewFromInt(50),
		Kind: core.Income, Frequency: core.Monthly,
		NextExecution: core.NewDate(2024, 1, 15), Active: true, AccountID: 1,
	})
	eng := newTestRecurrenceEngine(store, &fakePublisher{err: errors.New("broker down")})

	report, err := eng.Run(context.Background(), core.NewDate(2024, 1, 20))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if report.Processed() != 1 {
		t.Errorf("Processed() = %d, want 1", report.Processed())
	}
}

func TestRecurrenceMonthEndClamping(t *testing.T) {
	store := newFakeStore()
	store.putAccount(core.Account{ID: 1, UserID: 1, Name: "Checking", Balance: decimal.Zero})
	store.putTemplate(core.RecurringTemplate{
		ID: 1, UserID: 1, Name: "Insurance", Amount: decimal.NewFromInt(30),
		Kind: core.Expense, Frequency: core.Monthly,
		NextExecution: core.NewDate(2024, 1, 31), Active: true, AccountID: 1,
	})
	eng := newTestRecurrenceEngine(store, nil)

	if _, err := eng.Run(context.Background(), core.NewDate(2024, 1, 31)); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if next := store.templates[1].NextExecution; next.String() != "2024-02-29" {
		t.Errorf("next execution = %s, want 2024-02-29", next)
	}
}
