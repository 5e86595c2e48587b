// Package store provides Repository implementations.
package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/warp/expense-engine/approval"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

// Memory implements approval.Repository. Values are cloned on the way in and
// out so callers can never alias stored state.
type Memory struct {
	mu        sync.RWMutex
	expenses  map[approval.ExpenseID]*approval.Expense
	rules     map[approval.RuleID]approval.ApprovalRule
	employees map[approval.EmployeeID]approval.Employee
	companies map[approval.CompanyID]approval.Company
	seq       int64
}

var _ approval.Repository = (*Memory)(nil)

func NewMemory() *Memory {
	return &Memory{
		expenses:  make(map[approval.ExpenseID]*approval.Expense),
		rules:     make(map[approval.RuleID]approval.ApprovalRule),
		employees: make(map[approval.EmployeeID]approval.Employee),
		companies: make(map[approval.CompanyID]approval.Company),
	}
}

// -----------------------------------------------------------------------------
// Expenses
// -----------------------------------------------------------------------------

func (m *Memory) LoadExpense(_ context.Context, id approval.ExpenseID) (*approval.Expense, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	e, ok := m.expenses[id]
	if !ok {
		return nil, approval.NotFoundError("expense", string(id))
	}
	return e.Clone(), nil
}

// SaveExpense inserts when Version is 0 and otherwise compares versions.
func (m *Memory) SaveExpense(_ context.Context, e *approval.Expense) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	stored, exists := m.expenses[e.ID]
	switch {
	case !exists && e.Version != 0:
		return approval.NotFoundError("expense", string(e.ID))
	case exists && stored.Version != e.Version:
		return fmt.Errorf("expense %s: stored version %d, got %d: %w",
			e.ID, stored.Version, e.Version, approval.ErrConflict)
	}

	e.Version++
	m.expenses[e.ID] = e.Clone()
	return nil
}

func (m *Memory) ListExpenses(_ context.Context, filter approval.ExpenseFilter) ([]*approval.Expense, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*approval.Expense
	for _, e := range m.expenses {
		if filter.Matches(e) {
			result = append(result, e.Clone())
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].ID < result[j].ID
		}
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	return result, nil
}

// -----------------------------------------------------------------------------
// Rules
// -----------------------------------------------------------------------------

func (m *Memory) companyRules(company approval.CompanyID, activeOnly bool) []approval.ApprovalRule {
	var result []approval.ApprovalRule
	for _, r := range m.rules {
		if r.CompanyID != company || (activeOnly && !r.IsActive) {
			continue
		}
		result = append(result, r.Clone())
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Seq < result[j].Seq })
	return result
}

func (m *Memory) LoadActiveRules(_ context.Context, company approval.CompanyID) ([]approval.ApprovalRule, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.companyRules(company, true), nil
}

func (m *Memory) ListRules(_ context.Context, company approval.CompanyID) ([]approval.ApprovalRule, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.companyRules(company, false), nil
}

func (m *Memory) LoadRule(_ context.Context, id approval.RuleID) (approval.ApprovalRule, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	r, ok := m.rules[id]
	if !ok {
		return approval.ApprovalRule{}, approval.NotFoundError("rule", string(id))
	}
	return r.Clone(), nil
}

// SaveRule keeps an existing rule's Seq and assigns the next one to new rules.
func (m *Memory) SaveRule(_ context.Context, rule *approval.ApprovalRule) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if existing, ok := m.rules[rule.ID]; ok {
		rule.Seq = existing.Seq
	} else {
		m.seq++
		rule.Seq = m.seq
	}
	m.rules[rule.ID] = rule.Clone()
	return nil
}

// -----------------------------------------------------------------------------
// Directory
// -----------------------------------------------------------------------------

func (m *Memory) LoadEmployee(_ context.Context, id approval.EmployeeID) (*approval.Employee, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	e, ok := m.employees[id]
	if !ok {
		return nil, approval.NotFoundError("employee", string(id))
	}
	return &e, nil
}

func (m *Memory) SaveEmployee(_ context.Context, e approval.Employee) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.employees[e.ID] = e
	return nil
}

func (m *Memory) LoadCompany(_ context.Context, id approval.CompanyID) (*approval.Company, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	c, ok := m.companies[id]
	if !ok {
		return nil, approval.NotFoundError("company", string(id))
	}
	c.Categories = append([]string(nil), c.Categories...)
	return &c, nil
}

func (m *Memory) SaveCompany(_ context.Context, c approval.Company) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c.Categories = append([]string(nil), c.Categories...)
	m.companies[c.ID] = c
	return nil
}
