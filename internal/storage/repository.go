package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/shopspring/decimal"
	_ "modernc.org/sqlite"

	"github.com/daniele-boerio/calcolatore-spese-BE/internal/core"
	"github.com/daniele-boerio/calcolatore-spese-BE/internal/services"
)

// ErrNotFound is returned when a row does not exist.
var ErrNotFound = errors.New("not found")

// SQLiteRepository is the durable ledger store. It implements
// services.Store and services.InvestmentStore.
type SQLiteRepository struct {
	db *sql.DB
}

func NewSQLiteRepository(dbPath string) (*SQLiteRepository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	// SQLite allows one writer; a single connection also keeps the
	// foreign_keys pragma in force for every statement.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}

	if err := RunMigrations(dbPath); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLiteRepository{db: db}, nil
}

func (r *SQLiteRepository) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

// Begin opens a ledger unit of work. Implements services.Store.
func (r *SQLiteRepository) Begin(ctx context.Context) (services.Tx, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	return &LedgerTx{tx: tx}, nil
}

// querier is satisfied by both *sql.DB and *sql.Tx so row mapping is
// shared between the repository and the unit of work.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// CreateUser inserts a user row and returns its id.
func (r *SQLiteRepository) CreateUser(ctx context.Context, u core.User) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		`INSERT INTO users (username, email) VALUES (?, ?)`,
		u.Username, u.Email)
	if err != nil {
		return 0, fmt.Errorf("create user: %w", err)
	}
	return res.LastInsertId()
}

// CreateAccount inserts an account, including its auto-reload
// configuration when enabled.
func (r *SQLiteRepository) CreateAccount(ctx context.Context, a core.Account) (int64, error) {
	if err := a.Validate(); err != nil {
		return 0, err
	}

	var (
		target, minimum, freq, nextCheck any
		sourceID                         any
	)
	if a.Reload.Enabled {
		target = a.Reload.TargetBalance.String()
		minimum = a.Reload.MinimumThreshold.String()
		sourceID = a.Reload.SourceAccountID
		freq = string(a.Reload.CheckFrequency)
		nextCheck = a.Reload.NextCheckDate.String()
	}

	res, err := r.db.ExecContext(ctx,
		`INSERT INTO accounts (user_id, name, balance, reload_enabled,
			reload_target_balance, reload_minimum_threshold,
			reload_source_account_id, reload_check_frequency, reload_next_check_date)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.UserID, a.Name, a.Balance.String(), a.Reload.Enabled,
		target, minimum, sourceID, freq, nextCheck)
	if err != nil {
		return 0, fmt.Errorf("create account: %w", err)
	}
	return res.LastInsertId()
}

// CreateTemplate inserts a recurring template.
func (r *SQLiteRepository) CreateTemplate(ctx context.Context, t core.RecurringTemplate) (int64, error) {
	if err := t.Validate(); err != nil {
		return 0, err
	}
	res, err := r.db.ExecContext(ctx,
		`INSERT INTO recurring_templates (user_id, account_id, name, amount,
			kind, frequency, next_execution_date, active,
			category_id, subcategory_id, tag_id)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.UserID, t.AccountID, t.Name, t.Amount.String(),
		string(t.Kind), string(t.Frequency), t.NextExecution.String(),
		t.Active, t.CategoryID, t.SubcategoryID, t.TagID)
	if err != nil {
		return 0, fmt.Errorf("create template: %w", err)
	}
	return res.LastInsertId()
}

// CreateInvestment inserts an investment row.
func (r *SQLiteRepository) CreateInvestment(ctx context.Context, inv core.Investment) (int64, error) {
	var ticker any
	if inv.Ticker != "" {
		ticker = inv.Ticker
	}
	res, err := r.db.ExecContext(ctx,
		`INSERT INTO investments (user_id, isin, ticker, name) VALUES (?, ?, ?, ?)`,
		inv.UserID, inv.ISIN, ticker, inv.Name)
	if err != nil {
		return 0, fmt.Errorf("create investment: %w", err)
	}
	return res.LastInsertId()
}

// AccountByID loads one account outside any unit of work.
func (r *SQLiteRepository) AccountByID(ctx context.Context, id int64) (core.Account, error) {
	return getAccount(ctx, r.db, id)
}

// TemplateByID loads one recurring template.
func (r *SQLiteRepository) TemplateByID(ctx context.Context, id int64) (core.RecurringTemplate, error) {
	row := r.db.QueryRowContext(ctx, templateSelect+` WHERE id = ?`, id)
	t, err := scanTemplate(row)
	if errors.Is(err, sql.ErrNoRows) {
		return core.RecurringTemplate{}, fmt.Errorf("template %d: %w", id, ErrNotFound)
	}
	return t, err
}

// TransactionsByAccount lists an account's transactions in id order.
func (r *SQLiteRepository) TransactionsByAccount(ctx context.Context, accountID int64) ([]core.Transaction, error) {
	rows, err := r.db.QueryContext(ctx, transactionSelect+` WHERE account_id = ? ORDER BY id`, accountID)
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	defer rows.Close()

	var out []core.Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// Investments lists every tracked investment in id order. Implements
// services.InvestmentStore.
func (r *SQLiteRepository) Investments(ctx context.Context) ([]core.Investment, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, user_id, isin, ticker, name, current_price, last_price_date
		 FROM investments ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list investments: %w", err)
	}
	defer rows.Close()

	var out []core.Investment
	for rows.Next() {
		var (
			inv           core.Investment
			ticker, price sql.NullString
			priceDate     sql.NullString
		)
		if err := rows.Scan(&inv.ID, &inv.UserID, &inv.ISIN, &ticker, &inv.Name, &price, &priceDate); err != nil {
			return nil, fmt.Errorf("scan investment: %w", err)
		}
		inv.Ticker = ticker.String
		if price.Valid {
			if inv.CurrentPrice, err = decimal.NewFromString(price.String); err != nil {
				return nil, fmt.Errorf("parse price of investment %d: %w", inv.ID, err)
			}
		}
		if priceDate.Valid && priceDate.String != "" {
			if inv.LastPriceDate, err = core.ParseDate(priceDate.String); err != nil {
				return nil, fmt.Errorf("parse price date of investment %d: %w", inv.ID, err)
			}
		}
		out = append(out, inv)
	}
	return out, rows.Err()
}

// SetInvestmentPrice records a refreshed quote. Implements
// services.InvestmentStore.
func (r *SQLiteRepository) SetInvestmentPrice(ctx context.Context, id int64, price decimal.Decimal, asOf core.Date) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE investments
		 SET current_price = ?, last_price_date = ?, updated_at = CURRENT_TIMESTAMP
		 WHERE id = ?`,
		price.String(), asOf.String(), id)
	if err != nil {
		return fmt.Errorf("update investment price: %w", err)
	}
	return requireRow(res, "investment", id)
}

// LedgerTx is one all-or-nothing unit of work over the ledger.
// Implements services.Tx.
type LedgerTx struct {
	tx *sql.Tx
}

func (t *LedgerTx) Commit() error {
	return t.tx.Commit()
}

func (t *LedgerTx) Rollback() error {
	return t.tx.Rollback()
}

func (t *LedgerTx) DueTemplates(ctx context.Context, asOf core.Date) ([]core.RecurringTemplate, error) {
	rows, err := t.tx.QueryContext(ctx,
		templateSelect+` WHERE active = 1 AND next_execution_date <= ? ORDER BY id`,
		asOf.String())
	if err != nil {
		return nil, fmt.Errorf("select due templates: %w", err)
	}
	defer rows.Close()

	var out []core.RecurringTemplate
	for rows.Next() {
		tpl, err := scanTemplate(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, tpl)
	}
	return out, rows.Err()
}

func (t *LedgerTx) DueReloadAccounts(ctx context.Context, asOf core.Date) ([]core.Account, error) {
	rows, err := t.tx.QueryContext(ctx,
		accountSelect+` WHERE reload_enabled = 1 AND reload_next_check_date <= ? ORDER BY id`,
		asOf.String())
	if err != nil {
		return nil, fmt.Errorf("select due reload accounts: %w", err)
	}
	defer rows.Close()

	var out []core.Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (t *LedgerTx) AccountByID(ctx context.Context, id int64) (core.Account, error) {
	return getAccount(ctx, t.tx, id)
}

func (t *LedgerTx) InsertTransaction(ctx context.Context, txn core.Transaction) (int64, error) {
	if err := txn.Validate(); err != nil {
		return 0, err
	}
	res, err := t.tx.ExecContext(ctx,
		`INSERT INTO transactions (user_id, account_id, amount, kind,
			category_id, subcategory_id, tag_id, parent_transaction_id,
			tx_date, description)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		txn.UserID, txn.AccountID, txn.Amount.String(), string(txn.Kind),
		txn.CategoryID, txn.SubcategoryID, txn.TagID, txn.ParentID,
		txn.Date.String(), txn.Description)
	if err != nil {
		return 0, fmt.Errorf("insert transaction: %w", err)
	}
	return res.LastInsertId()
}

func (t *LedgerTx) UpdateAccountBalance(ctx context.Context, id int64, balance decimal.Decimal) error {
	res, err := t.tx.ExecContext(ctx,
		`UPDATE accounts SET balance = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`,
		balance.String(), id)
	if err != nil {
		return fmt.Errorf("update account balance: %w", err)
	}
	return requireRow(res, "account", id)
}

func (t *LedgerTx) SetTemplateNextExecution(ctx context.Context, id int64, next core.Date) error {
	res, err := t.tx.ExecContext(ctx,
		`UPDATE recurring_templates
		 SET next_execution_date = ?, updated_at = CURRENT_TIMESTAMP
		 WHERE id = ?`,
		next.String(), id)
	if err != nil {
		return fmt.Errorf("update template next execution: %w", err)
	}
	return requireRow(res, "template", id)
}

func (t *LedgerTx) SetAccountNextCheck(ctx context.Context, id int64, next core.Date) error {
	res, err := t.tx.ExecContext(ctx,
		`UPDATE accounts
		 SET reload_next_check_date = ?, updated_at = CURRENT_TIMESTAMP
		 WHERE id = ?`,
		next.String(), id)
	if err != nil {
		return fmt.Errorf("update account next check: %w", err)
	}
	return requireRow(res, "account", id)
}

const (
	accountSelect = `SELECT id, user_id, name, balance, reload_enabled,
		reload_target_balance, reload_minimum_threshold,
		reload_source_account_id, reload_check_frequency,
		reload_next_check_date
	 FROM accounts`

	templateSelect = `SELECT id, user_id, account_id, name, amount, kind,
		frequency, next_execution_date, active,
		category_id, subcategory_id, tag_id
	 FROM recurring_templates`

	transactionSelect = `SELECT id, user_id, account_id, amount, kind,
		category_id, subcategory_id, tag_id, parent_transaction_id,
		tx_date, description
	 FROM transactions`
)

// scanner is satisfied by *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func getAccount(ctx context.Context, q querier, id int64) (core.Account, error) {
	row := q.QueryRowContext(ctx, accountSelect+` WHERE id = ?`, id)
	a, err := scanAccount(row)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Account{}, fmt.Errorf("account %d: %w", id, ErrNotFound)
	}
	return a, err
}

func scanAccount(row scanner) (core.Account, error) {
	var (
		a                     core.Account
		balance               string
		target, minimum, freq sql.NullString
		nextCheck             sql.NullString
		sourceID              sql.NullInt64
	)
	err := row.Scan(&a.ID, &a.UserID, &a.Name, &balance, &a.Reload.Enabled,
		&target, &minimum, &sourceID, &freq, &nextCheck)
	if err != nil {
		return core.Account{}, err
	}

	if a.Balance, err = decimal.NewFromString(balance); err != nil {
		return core.Account{}, fmt.Errorf("parse balance of account %d: %w", a.ID, err)
	}
	if target.Valid {
		if a.Reload.TargetBalance, err = decimal.NewFromString(target.String); err != nil {
			return core.Account{}, fmt.Errorf("parse target balance of account %d: %w", a.ID, err)
		}
	}
	if minimum.Valid {
		if a.Reload.MinimumThreshold, err = decimal.NewFromString(minimum.String); err != nil {
			return core.Account{}, fmt.Errorf("parse minimum threshold of account %d: %w", a.ID, err)
		}
	}
	a.Reload.SourceAccountID = sourceID.Int64
	a.Reload.CheckFrequency = core.Frequency(freq.String)
	if nextCheck.Valid && nextCheck.String != "" {
		if a.Reload.NextCheckDate, err = core.ParseDate(nextCheck.String); err != nil {
			return core.Account{}, fmt.Errorf("parse next check date of account %d: %w", a.ID, err)
		}
	}
	return a, nil
}

func scanTemplate(row scanner) (core.RecurringTemplate, error) {
	var (
		t                   core.RecurringTemplate
		amount, next        string
		catID, subID, tagID sql.NullInt64
		kind, freqStr       string
	)
	err := row.Scan(&t.ID, &t.UserID, &t.AccountID, &t.Name, &amount, &kind,
		&freqStr, &next, &t.Active, &catID, &subID, &tagID)
	if err != nil {
		return core.RecurringTemplate{}, err
	}

	t.Kind = core.TransactionKind(kind)
	t.Frequency = core.Frequency(freqStr)
	if t.Amount, err = decimal.NewFromString(amount); err != nil {
		return core.RecurringTemplate{}, fmt.Errorf("parse amount of template %d: %w", t.ID, err)
	}
	if t.NextExecution, err = core.ParseDate(next); err != nil {
		return core.RecurringTemplate{}, fmt.Errorf("parse next execution of template %d: %w", t.ID, err)
	}
	if catID.Valid {
		t.CategoryID = &catID.Int64
	}
	if subID.Valid {
		t.SubcategoryID = &subID.Int64
	}
	if tagID.Valid {
		t.TagID = &tagID.Int64
	}
	return t, nil
}

func scanTransaction(row scanner) (core.Transaction, error) {
	var (
		t                    core.Transaction
		amount, kind, txDate string
		catID, subID         sql.NullInt64
		tagID, parentID      sql.NullInt64
	)
	err := row.Scan(&t.ID, &t.UserID, &t.AccountID, &amount, &kind,
		&catID, &subID, &tagID, &parentID, &txDate, &t.Description)
	if err != nil {
		return core.Transaction{}, err
	}

	t.Kind = core.TransactionKind(kind)
	if t.Amount, err = decimal.NewFromString(amount); err != nil {
		return core.Transaction{}, fmt.Errorf("parse amount of transaction %d: %w", t.ID, err)
	}
	if t.Date, err = core.ParseDate(txDate); err != nil {
		return core.Transaction{}, fmt.Errorf("parse date of transaction %d: %w", t.ID, err)
	}
	if catID.Valid {
		t.CategoryID = &catID.Int64
	}
	if subID.Valid {
		t.SubcategoryID = &subID.Int64
	}
	if tagID.Valid {
		t.TagID = &tagID.Int64
	}
	if parentID.Valid {
		t.ParentID = &parentID.Int64
	}
	return t, nil
}

func requireRow(res sql.Result, entity string, id int64) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%s %d: %w", entity, id, ErrNotFound)
	}
	return nil
}
