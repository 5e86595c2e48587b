/*
Package sqlite provides a SQLite-backed implementation of approval.Repository.

PURPOSE:
  Persists expenses, their decision history, approval rules, employees and
  company settings. In production the same patterns apply to PostgreSQL with
  only minor SQL dialect differences.

INTERFACES IMPLEMENTED:
  approval.ExpenseStore: expenses + decision history, optimistic concurrency
  approval.RuleStore:    approval rules (config stored as factory.RuleJSON)
  approval.Directory:    employees and companies

KEY TABLES:
  expenses:          one row per expense, version column for concurrency
  expense_decisions: ordered history, (expense_id, seq) primary key
  approval_rules:    rule definitions, seq is creation order
  employees:         directory, manager_id for the manager gate
  companies:         reporting currency, limits, categories

OPTIMISTIC CONCURRENCY:
  Updates run as UPDATE ... WHERE id = ? AND version = ?. Zero affected rows
  on an existing expense means another writer got there first and the save
  fails with approval.ErrConflict. The expense row and its decisions are
  written in one SQL transaction.

HISTORY:
  Decisions are upserted by position. An approver changing their mind
  rewrites their row in place; rows are never deleted.

WAL MODE:
  SQLite is opened with WAL (Write-Ahead Logging):
  - Multiple readers don't block
  - Single writer at a time
  - Better crash recovery

USAGE:
  store, err := sqlite.New("./data/expenses.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  eng := approval.NewEngine(store, rates.DefaultTable(), logger)

MIGRATION:
  Schema is auto-migrated on New(). For production, use a proper
  migration tool (golang-migrate, goose) with versioned migrations.

SEE ALSO:
  - approval/store.go: Interface definitions
  - approval/store/memory.go: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"
	"github.com/warp/expense-engine/approval"
	"github.com/warp/expense-engine/factory"
)

// Store implements approval.Repository using SQLite.
type Store struct {
	db    *sql.DB
	mu    sync.RWMutex
	rules *factory.RuleFactory
}

var _ approval.Repository = (*Store)(nil)

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// Every connection to ":memory:" is a separate database.
	db.SetMaxOpenConns(1)

	store := &Store{db: db, rules: factory.NewRuleFactory()}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS companies (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		reporting_currency TEXT NOT NULL,
		max_expense_amount TEXT,
		categories_json TEXT NOT NULL DEFAULT '[]',
		require_receipt INTEGER NOT NULL DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS employees (
		id TEXT PRIMARY KEY,
		company_id TEXT NOT NULL,
		name TEXT NOT NULL,
		email TEXT,
		role TEXT NOT NULL,
		manager_id TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_employees_company
		ON employees(company_id);

	CREATE TABLE IF NOT EXISTS approval_rules (
		id TEXT PRIMARY KEY,
		company_id TEXT NOT NULL,
		seq INTEGER NOT NULL,
		is_active INTEGER NOT NULL,
		config_json TEXT NOT NULL,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_approval_rules_company_seq
		ON approval_rules(company_id, seq);

	CREATE TABLE IF NOT EXISTS expenses (
		id TEXT PRIMARY KEY,
		company_id TEXT NOT NULL,
		submitter_id TEXT NOT NULL,
		manager_id TEXT,
		description TEXT,
		category TEXT,
		expense_date TEXT,
		paid_by TEXT,
		remarks TEXT,
		amount TEXT NOT NULL,
		currency TEXT NOT NULL,
		normalized_amount TEXT,
		normalized_currency TEXT,
		status TEXT NOT NULL,
		stage TEXT NOT NULL,
		matched_rule_id TEXT,
		matched_rule_json TEXT,
		version INTEGER NOT NULL,
		submitted_at TEXT,
		resolved_at TEXT,
		paid_at TEXT,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_expenses_company_status
		ON expenses(company_id, status);
	CREATE INDEX IF NOT EXISTS idx_expenses_submitter
		ON expenses(submitter_id);
	CREATE INDEX IF NOT EXISTS idx_expenses_manager
		ON expenses(manager_id);

	CREATE TABLE IF NOT EXISTS expense_decisions (
		expense_id TEXT NOT NULL REFERENCES expenses(id),
		seq INTEGER NOT NULL,
		approver_id TEXT NOT NULL,
		gate TEXT NOT NULL,
		action TEXT NOT NULL,
		override_status TEXT,
		actor_id TEXT,
		decided_at TEXT NOT NULL,
		comment TEXT,
		PRIMARY KEY (expense_id, seq)
	);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Reset deletes all data. Used by the demo scenarios.
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, table := range []string{"expense_decisions", "expenses", "approval_rules", "employees", "companies"} {
		if _, err := s.db.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return fmt.Errorf("failed to reset %s: %w", table, err)
		}
	}
	return nil
}

// =============================================================================
// EXPENSE STORE
// =============================================================================

const expenseColumns = `
	id, company_id, submitter_id, manager_id, description, category, expense_date,
	paid_by, remarks, amount, currency, normalized_amount, normalized_currency,
	status, stage, matched_rule_id, matched_rule_json, version,
	submitted_at, resolved_at, paid_at, created_at, updated_at`

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// LoadExpense returns the expense with its full decision history.
func (s *Store) LoadExpense(ctx context.Context, id approval.ExpenseID) (*approval.Expense, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, "SELECT "+expenseColumns+" FROM expenses WHERE id = ?", id)
	if err != nil {
		return nil, fmt.Errorf("failed to query expense: %w", err)
	}
	expenses, err := s.scanExpenses(rows)
	if err != nil {
		return nil, err
	}
	if len(expenses) == 0 {
		return nil, approval.NotFoundError("expense", string(id))
	}

	e := expenses[0]
	if e.History, err = s.loadDecisions(ctx, e.ID); err != nil {
		return nil, err
	}
	return e, nil
}

// SaveExpense inserts (Version == 0) or updates (stored version matches) e.
func (s *Store) SaveExpense(ctx context.Context, e *approval.Expense) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var ruleJSON sql.NullString
	if e.MatchedRule != nil {
		js, err := s.rules.MarshalRule(*e.MatchedRule)
		if err != nil {
			return err
		}
		ruleJSON = sql.NullString{String: js, Valid: true}
	}

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	args := []any{
		e.CompanyID, e.SubmitterID, nullString(string(e.ManagerID)),
		e.Description, e.Category, formatDate(e.ExpenseDate), e.PaidBy, e.Remarks,
		e.Amount.Amount.String(), e.Amount.Currency,
		nullString(moneyAmount(e.NormalizedAmount)), nullString(string(e.NormalizedAmount.Currency)),
		e.Status, e.Stage, nullString(string(e.MatchedRuleID)), ruleJSON,
		formatTimePtr(e.SubmittedAt), formatTimePtr(e.ResolvedAt), formatTimePtr(e.PaidAt),
		formatTime(e.CreatedAt), formatTime(e.UpdatedAt),
	}

	if e.Version == 0 {
		_, err = sqlTx.ExecContext(ctx, `
			INSERT INTO expenses (company_id, submitter_id, manager_id, description, category, expense_date,
				paid_by, remarks, amount, currency, normalized_amount, normalized_currency,
				status, stage, matched_rule_id, matched_rule_json,
				submitted_at, resolved_at, paid_at, created_at, updated_at, id, version)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 1)
		`, append(args, e.ID)...)
		if err != nil {
			if isUniqueConstraintError(err) {
				return fmt.Errorf("expense %s already exists: %w", e.ID, approval.ErrConflict)
			}
			return fmt.Errorf("failed to insert expense: %w", err)
		}
	} else {
		res, err := sqlTx.ExecContext(ctx, `
			UPDATE expenses SET company_id = ?, submitter_id = ?, manager_id = ?, description = ?,
				category = ?, expense_date = ?, paid_by = ?, remarks = ?, amount = ?, currency = ?,
				normalized_amount = ?, normalized_currency = ?, status = ?, stage = ?,
				matched_rule_id = ?, matched_rule_json = ?, submitted_at = ?, resolved_at = ?,
				paid_at = ?, created_at = ?, updated_at = ?, version = version + 1
			WHERE id = ? AND version = ?
		`, append(args, e.ID, e.Version)...)
		if err != nil {
			return fmt.Errorf("failed to update expense: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to update expense: %w", err)
		}
		if n == 0 {
			var count int
			if err := sqlTx.QueryRowContext(ctx, "SELECT COUNT(*) FROM expenses WHERE id = ?", e.ID).Scan(&count); err != nil {
				return fmt.Errorf("failed to check expense: %w", err)
			}
			if count == 0 {
				return approval.NotFoundError("expense", string(e.ID))
			}
			return fmt.Errorf("expense %s at version %d: %w", e.ID, e.Version, approval.ErrConflict)
		}
	}

	if err := saveDecisions(ctx, sqlTx, e.ID, e.History); err != nil {
		return err
	}
	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("failed to commit expense: %w", err)
	}

	e.Version++
	return nil
}

// ListExpenses returns expenses matching filter, oldest first.
func (s *Store) ListExpenses(ctx context.Context, filter approval.ExpenseFilter) ([]*approval.Expense, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var (
		where []string
		args  []any
	)
	if filter.CompanyID != nil {
		where = append(where, "company_id = ?")
		args = append(args, *filter.CompanyID)
	}
	if filter.SubmitterID != nil {
		where = append(where, "submitter_id = ?")
		args = append(args, *filter.SubmitterID)
	}
	if filter.ManagerID != nil {
		where = append(where, "manager_id = ?")
		args = append(args, *filter.ManagerID)
	}
	if filter.SubmittedSince != nil {
		where = append(where, "julianday(submitted_at) >= julianday(?)")
		args = append(args, formatTime(*filter.SubmittedSince))
	}
	if len(filter.Statuses) > 0 {
		marks := make([]string, len(filter.Statuses))
		for i, st := range filter.Statuses {
			marks[i] = "?"
			args = append(args, st)
		}
		where = append(where, "status IN ("+strings.Join(marks, ", ")+")")
	}

	query := "SELECT " + expenseColumns + " FROM expenses"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at ASC, id ASC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query expenses: %w", err)
	}
	expenses, err := s.scanExpenses(rows)
	if err != nil {
		return nil, err
	}

	// rows is closed by now; the pool has a single connection.
	for _, e := range expenses {
		if e.History, err = s.loadDecisions(ctx, e.ID); err != nil {
			return nil, err
		}
	}
	return expenses, nil
}

func (s *Store) scanExpenses(rows *sql.Rows) ([]*approval.Expense, error) {
	defer rows.Close()

	var out []*approval.Expense
	for rows.Next() {
		var (
			e                                      approval.Expense
			managerID, normAmount, normCurrency    sql.NullString
			ruleID, ruleJSON, expenseDate          sql.NullString
			description, category, paidBy, remarks sql.NullString
			amount, currency                       string
			submittedAt, resolvedAt, paidAt        sql.NullString
			createdAt, updatedAt                   string
		)
		err := rows.Scan(
			&e.ID, &e.CompanyID, &e.SubmitterID, &managerID, &description, &category, &expenseDate,
			&paidBy, &remarks, &amount, &currency, &normAmount, &normCurrency,
			&e.Status, &e.Stage, &ruleID, &ruleJSON, &e.Version,
			&submittedAt, &resolvedAt, &paidAt, &createdAt, &updatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan expense: %w", err)
		}

		e.ManagerID = approval.EmployeeID(managerID.String)
		e.Description = description.String
		e.Category = category.String
		e.ExpenseDate = parseTime(expenseDate.String)
		e.PaidBy = paidBy.String
		e.Remarks = remarks.String
		e.Amount = approval.Money{Amount: parseDecimal(amount), Currency: approval.Currency(currency)}
		if normCurrency.Valid {
			e.NormalizedAmount = approval.Money{Amount: parseDecimal(normAmount.String), Currency: approval.Currency(normCurrency.String)}
		}
		e.MatchedRuleID = approval.RuleID(ruleID.String)
		if ruleJSON.Valid && ruleJSON.String != "" {
			rule, err := s.rules.ParseRule(ruleJSON.String)
			if err != nil {
				return nil, fmt.Errorf("expense %s: stored rule snapshot: %w", e.ID, err)
			}
			e.MatchedRule = &rule
		}
		e.SubmittedAt = parseTimePtr(submittedAt)
		e.ResolvedAt = parseTimePtr(resolvedAt)
		e.PaidAt = parseTimePtr(paidAt)
		e.CreatedAt = parseTime(createdAt)
		e.UpdatedAt = parseTime(updatedAt)

		out = append(out, &e)
	}
	return out, rows.Err()
}

// -----------------------------------------------------------------------------
// Decisions
// -----------------------------------------------------------------------------

func saveDecisions(ctx context.Context, db execer, id approval.ExpenseID, history []approval.Decision) error {
	query := `
		INSERT INTO expense_decisions
		(expense_id, seq, approver_id, gate, action, override_status, actor_id, decided_at, comment)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(expense_id, seq) DO UPDATE SET
			approver_id = excluded.approver_id,
			gate = excluded.gate,
			action = excluded.action,
			override_status = excluded.override_status,
			actor_id = excluded.actor_id,
			decided_at = excluded.decided_at,
			comment = excluded.comment
	`
	for i, d := range history {
		_, err := db.ExecContext(ctx, query,
			id, i, d.ApproverID, d.Gate, d.Action,
			nullString(string(d.OverrideStatus)), nullString(string(d.ActorID)),
			formatTime(d.At), nullString(d.Comment),
		)
		if err != nil {
			return fmt.Errorf("failed to save decision %d of %s: %w", i, id, err)
		}
	}
	return nil
}

func (s *Store) loadDecisions(ctx context.Context, id approval.ExpenseID) ([]approval.Decision, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT approver_id, gate, action, override_status, actor_id, decided_at, comment
		FROM expense_decisions
		WHERE expense_id = ?
		ORDER BY seq ASC
	`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to query decisions: %w", err)
	}
	defer rows.Close()

	var history []approval.Decision
	for rows.Next() {
		var (
			d                                approval.Decision
			overrideStatus, actorID, comment sql.NullString
			at                               string
		)
		if err := rows.Scan(&d.ApproverID, &d.Gate, &d.Action, &overrideStatus, &actorID, &at, &comment); err != nil {
			return nil, fmt.Errorf("failed to scan decision: %w", err)
		}
		d.OverrideStatus = approval.Status(overrideStatus.String)
		d.ActorID = approval.EmployeeID(actorID.String)
		d.At = parseTime(at)
		d.Comment = comment.String
		history = append(history, d)
	}
	return history, rows.Err()
}

// =============================================================================
// RULE STORE
// =============================================================================

func (s *Store) LoadActiveRules(ctx context.Context, company approval.CompanyID) ([]approval.ApprovalRule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.queryRules(ctx,
		"SELECT seq, config_json FROM approval_rules WHERE company_id = ? AND is_active = 1 ORDER BY seq ASC",
		company)
}

func (s *Store) ListRules(ctx context.Context, company approval.CompanyID) ([]approval.ApprovalRule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.queryRules(ctx,
		"SELECT seq, config_json FROM approval_rules WHERE company_id = ? ORDER BY seq ASC",
		company)
}

func (s *Store) LoadRule(ctx context.Context, id approval.RuleID) (approval.ApprovalRule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rules, err := s.queryRules(ctx, "SELECT seq, config_json FROM approval_rules WHERE id = ?", id)
	if err != nil {
		return approval.ApprovalRule{}, err
	}
	if len(rules) == 0 {
		return approval.ApprovalRule{}, approval.NotFoundError("rule", string(id))
	}
	return rules[0], nil
}

// SaveRule upserts the rule. A new rule gets the next seq; an existing rule
// keeps its own.
func (s *Store) SaveRule(ctx context.Context, rule *approval.ApprovalRule) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	var seq int64
	err = sqlTx.QueryRowContext(ctx, "SELECT seq FROM approval_rules WHERE id = ?", rule.ID).Scan(&seq)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		if err := sqlTx.QueryRowContext(ctx, "SELECT COALESCE(MAX(seq), 0) + 1 FROM approval_rules").Scan(&seq); err != nil {
			return fmt.Errorf("failed to allocate rule seq: %w", err)
		}
	case err != nil:
		return fmt.Errorf("failed to look up rule: %w", err)
	}
	rule.Seq = seq

	configJSON, err := s.rules.MarshalRule(*rule)
	if err != nil {
		return err
	}

	_, err = sqlTx.ExecContext(ctx, `
		INSERT INTO approval_rules (id, company_id, seq, is_active, config_json, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			company_id = excluded.company_id,
			is_active = excluded.is_active,
			config_json = excluded.config_json,
			updated_at = excluded.updated_at
	`, rule.ID, rule.CompanyID, seq, rule.IsActive, configJSON, formatTime(rule.CreatedAt), formatTime(rule.UpdatedAt))
	if err != nil {
		return fmt.Errorf("failed to save rule: %w", err)
	}
	return sqlTx.Commit()
}

func (s *Store) queryRules(ctx context.Context, query string, args ...any) ([]approval.ApprovalRule, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query rules: %w", err)
	}
	defer rows.Close()

	var rules []approval.ApprovalRule
	for rows.Next() {
		var (
			seq        int64
			configJSON string
		)
		if err := rows.Scan(&seq, &configJSON); err != nil {
			return nil, fmt.Errorf("failed to scan rule: %w", err)
		}
		rule, err := s.rules.ParseRule(configJSON)
		if err != nil {
			return nil, fmt.Errorf("stored rule is unreadable: %w", err)
		}
		rule.Seq = seq
		rules = append(rules, rule)
	}
	return rules, rows.Err()
}

// =============================================================================
// DIRECTORY
// =============================================================================

func (s *Store) SaveEmployee(ctx context.Context, emp approval.Employee) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO employees (id, company_id, name, email, role, manager_id)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			company_id = excluded.company_id,
			name = excluded.name,
			email = excluded.email,
			role = excluded.role,
			manager_id = excluded.manager_id
	`, emp.ID, emp.CompanyID, emp.Name, emp.Email, emp.Role, nullString(string(emp.ManagerID)))
	if err != nil {
		return fmt.Errorf("failed to save employee: %w", err)
	}
	return nil
}

func (s *Store) LoadEmployee(ctx context.Context, id approval.EmployeeID) (*approval.Employee, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var (
		emp              approval.Employee
		email, managerID sql.NullString
	)
	err := s.db.QueryRowContext(ctx,
		"SELECT id, company_id, name, email, role, manager_id FROM employees WHERE id = ?",
		id,
	).Scan(&emp.ID, &emp.CompanyID, &emp.Name, &email, &emp.Role, &managerID)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, approval.NotFoundError("employee", string(id))
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load employee: %w", err)
	}
	emp.Email = email.String
	emp.ManagerID = approval.EmployeeID(managerID.String)
	return &emp, nil
}

// ListEmployees returns the company's employees ordered by name.
func (s *Store) ListEmployees(ctx context.Context, company approval.CompanyID) ([]approval.Employee, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		"SELECT id, company_id, name, email, role, manager_id FROM employees WHERE company_id = ? ORDER BY name",
		company,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query employees: %w", err)
	}
	defer rows.Close()

	var employees []approval.Employee
	for rows.Next() {
		var (
			emp              approval.Employee
			email, managerID sql.NullString
		)
		if err := rows.Scan(&emp.ID, &emp.CompanyID, &emp.Name, &email, &emp.Role, &managerID); err != nil {
			return nil, fmt.Errorf("failed to scan employee: %w", err)
		}
		emp.Email = email.String
		emp.ManagerID = approval.EmployeeID(managerID.String)
		employees = append(employees, emp)
	}
	return employees, rows.Err()
}

func (s *Store) SaveCompany(ctx context.Context, c approval.Company) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	categories, err := json.Marshal(nonNil(c.Categories))
	if err != nil {
		return fmt.Errorf("failed to encode categories: %w", err)
	}
	var maxAmount sql.NullString
	if c.MaxExpenseAmount != nil {
		maxAmount = sql.NullString{String: c.MaxExpenseAmount.String(), Valid: true}
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO companies (id, name, reporting_currency, max_expense_amount, categories_json, require_receipt)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			reporting_currency = excluded.reporting_currency,
			max_expense_amount = excluded.max_expense_amount,
			categories_json = excluded.categories_json,
			require_receipt = excluded.require_receipt
	`, c.ID, c.Name, c.ReportingCurrency, maxAmount, string(categories), c.RequireReceipt)
	if err != nil {
		return fmt.Errorf("failed to save company: %w", err)
	}
	return nil
}

func (s *Store) LoadCompany(ctx context.Context, id approval.CompanyID) (*approval.Company, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var (
		c          approval.Company
		maxAmount  sql.NullString
		categories string
	)
	err := s.db.QueryRowContext(ctx,
		"SELECT id, name, reporting_currency, max_expense_amount, categories_json, require_receipt FROM companies WHERE id = ?",
		id,
	).Scan(&c.ID, &c.Name, &c.ReportingCurrency, &maxAmount, &categories, &c.RequireReceipt)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, approval.NotFoundError("company", string(id))
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load company: %w", err)
	}
	if maxAmount.Valid {
		v := parseDecimal(maxAmount.String)
		c.MaxExpenseAmount = &v
	}
	if err := json.Unmarshal([]byte(categories), &c.Categories); err != nil {
		return nil, fmt.Errorf("company %s: bad categories: %w", id, err)
	}
	return &c, nil
}

// =============================================================================
// HELPERS
// =============================================================================

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func moneyAmount(m approval.Money) string {
	if m.Currency == "" {
		return ""
	}
	return m.Amount.String()
}

func parseDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func formatDate(t time.Time) sql.NullString {
	if t.IsZero() {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(t), Valid: true}
}

func formatTimePtr(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}

func parseTimePtr(s sql.NullString) *time.Time {
	if !s.Valid || s.String == "" {
		return nil
	}
	t := parseTime(s.String)
	return &t
}

func isUniqueConstraintError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
