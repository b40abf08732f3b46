package services

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/daniele-boerio/calcolatore-spese-BE/internal/core"
)

// fakeStore is an in-memory Store with real commit/rollback semantics:
// a unit of work stages changes on copies and only Commit publishes
// them, so rollback behavior is observable in tests.
type fakeStore struct {
	accounts     map[int64]core.Account
	templates    map[int64]core.RecurringTemplate
	transactions []core.Transaction
	nextTxnID    int64

	beginErr  error
	insertErr error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		accounts:  make(map[int64]core.Account),
		templates: make(map[int64]core.RecurringTemplate),
		nextTxnID: 1,
	}
}

func (s *fakeStore) putAccount(a core.Account) { s.accounts[a.ID] = a }

func (s *fakeStore) putTemplate(t core.RecurringTemplate) { s.templates[t.ID] = t }

func (s *fakeStore) Begin(ctx context.Context) (Tx, error) {
	if s.beginErr != nil {
		return nil, s.beginErr
	}
	tx := &fakeTx{
		store:     s,
		accounts:  make(map[int64]core.Account, len(s.accounts)),
		templates: make(map[int64]core.RecurringTemplate, len(s.templates)),
		nextID:    s.nextTxnID,
	}
	for id, a := range s.accounts {
		tx.accounts[id] = a
	}
	for id, t := range s.templates {
		tx.templates[id] = t
	}
	tx.transactions = append(tx.transactions, s.transactions...)
	return tx, nil
}

type fakeTx struct {
	store        *fakeStore
	accounts     map[int64]core.Account
	templates    map[int64]core.RecurringTemplate
	transactions []core.Transaction
	nextID       int64

	committed  bool
	rolledBack bool
}

func (t *fakeTx) DueTemplates(ctx context.Context, asOf core.Date) ([]core.RecurringTemplate, error) {
	var due []core.RecurringTemplate
	for _, tpl := range t.templates {
		if tpl.Active && tpl.NextExecution.OnOrBefore(asOf) {
			due = append(due, tpl)
		}
	}
	sort.Slice(due, func(i, j int) bool { return due[i].ID < due[j].ID })
	return due, nil
}

func (t *fakeTx) DueReloadAccounts(ctx context.Context, asOf core.Date) ([]core.Account, error) {
	var due []core.Account
	for _, a := range t.accounts {
		if a.Reload.Enabled && a.Reload.NextCheckDate.OnOrBefore(asOf) {
			due = append(due, a)
		}
	}
	sort.Slice(due, func(i, j int) bool { return due[i].ID < due[j].ID })
	return due, nil
}

func (t *fakeTx) AccountByID(ctx context.Context, id int64) (core.Account, error) {
	a, ok := t.accounts[id]
	if !ok {
		return core.Account{}, fmt.Errorf("account %d: not found", id)
	}
	return a, nil
}

func (t *fakeTx) InsertTransaction(ctx context.Context, txn core.Transaction) (int64, error) {
	if t.store.insertErr != nil {
		return 0, t.store.insertErr
	}
	if err := txn.Validate(); err != nil {
		return 0, err
	}
	txn.ID = t.nextID
	t.nextID++
	t.transactions = append(t.transactions, txn)
	return txn.ID, nil
}

func (t *fakeTx) UpdateAccountBalance(ctx context.Context, id int64, balance decimal.Decimal) error {
	a, ok := t.accounts[id]
	if !ok {
		return fmt.Errorf("account %d: not found", id)
	}
	a.Balance = balance
	t.accounts[id] = a
	return nil
}

func (t *fakeTx) SetTemplateNextExecution(ctx context.Context, id int64, next core.Date) error {
	tpl, ok := t.templates[id]
	if !ok {
		return fmt.Errorf("template %d: not found", id)
	}
	tpl.NextExecution = next
	t.templates[id] = tpl
	return nil
}

func (t *fakeTx) SetAccountNextCheck(ctx context.Context, id int64, next core.Date) error {
	a, ok := t.accounts[id]
	if !ok {
		return fmt.Errorf("account %d: not found", id)
	}
	a.Reload.NextCheckDate = next
	t.accounts[id] = a
	return nil
}

func (t *fakeTx) Commit() error {
	if t.committed || t.rolledBack {
		return errors.New("transaction already finished")
	}
	t.committed = true
	t.store.accounts = t.accounts
	t.store.templates = t.templates
	t.store.transactions = t.transactions
	t.store.nextTxnID = t.nextID
	return nil
}

func (t *fakeTx) Rollback() error {
	if t.committed {
		return errors.New("transaction already committed")
	}
	t.rolledBack = true
	return nil
}

// fakePublisher records published transaction events.
type fakePublisher struct {
	published []int64
	origins   []string
	err       error
}

func (p *fakePublisher) PublishTransactionCreated(ctx context.Context, transactionID int64, origin string) error {
	if p.err != nil {
		return p.err
	}
	p.published = append(p.published, transactionID)
	p.origins = append(p.origins, origin)
	return nil
}
