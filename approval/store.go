/*
store.go - Persistence interfaces consumed by the engine

PURPOSE:
  The engine never touches a database. It consumes these interfaces and the
  caller injects an implementation:
  - approval/store/memory.go: in-memory, for tests and local runs
  - store/sqlite/sqlite.go:   persistent

KEY INTERFACES:
  ExpenseStore: load/save expenses with an optimistic-concurrency token
  RuleStore:    approval rules, returned in creation order
  Directory:    employees (for manager lookups) and company settings
  Repository:   all three

OPTIMISTIC CONCURRENCY:
  SaveExpense compares Expense.Version with the stored version. On mismatch
  it returns ErrConflict and writes nothing. On success the stored version
  and the passed expense's Version are both incremented.

HISTORY:
  Decisions are never deleted. A store may update a decision in place (an
  approver changing their mind) but must keep its position.
*/
package approval

import (
	"context"
	"time"
)

type ExpenseStore interface {
	// LoadExpense returns ErrNotFound if id is unknown.
	LoadExpense(ctx context.Context, id ExpenseID) (*Expense, error)

	// SaveExpense inserts (Version == 0) or updates (Version matches) e.
	SaveExpense(ctx context.Context, e *Expense) error

	ListExpenses(ctx context.Context, filter ExpenseFilter) ([]*Expense, error)
}

type ExpenseFilter struct {
	CompanyID   *CompanyID
	SubmitterID *EmployeeID
	// ManagerID selects expenses whose submitter reported to this manager
	// at submit time.
	ManagerID *EmployeeID
	Statuses  []Status
	// SubmittedSince excludes drafts and anything submitted before it.
	SubmittedSince *time.Time
}

// Matches reports whether e passes the filter.
func (f ExpenseFilter) Matches(e *Expense) bool {
	if f.CompanyID != nil && e.CompanyID != *f.CompanyID {
		return false
	}
	if f.SubmitterID != nil && e.SubmitterID != *f.SubmitterID {
		return false
	}
	if f.ManagerID != nil && e.ManagerID != *f.ManagerID {
		return false
	}
	if f.SubmittedSince != nil && (e.SubmittedAt == nil || e.SubmittedAt.Before(*f.SubmittedSince)) {
		return false
	}
	if len(f.Statuses) == 0 {
		return true
	}
	for _, s := range f.Statuses {
		if e.Status == s {
			return true
		}
	}
	return false
}

type RuleStore interface {
	// LoadActiveRules returns the company's active rules ordered by Seq.
	LoadActiveRules(ctx context.Context, company CompanyID) ([]ApprovalRule, error)

	// ListRules returns all of the company's rules ordered by Seq.
	ListRules(ctx context.Context, company CompanyID) ([]ApprovalRule, error)

	LoadRule(ctx context.Context, id RuleID) (ApprovalRule, error)

	// SaveRule inserts or replaces the rule. New rules get the next Seq.
	SaveRule(ctx context.Context, rule *ApprovalRule) error
}

type Directory interface {
	LoadEmployee(ctx context.Context, id EmployeeID) (*Employee, error)
	SaveEmployee(ctx context.Context, e Employee) error
	LoadCompany(ctx context.Context, id CompanyID) (*Company, error)
	SaveCompany(ctx context.Context, c Company) error
}

type Repository interface {
	ExpenseStore
	RuleStore
	Directory
}
