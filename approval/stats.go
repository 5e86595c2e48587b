package approval

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
)

// =============================================================================
// STATS - Dashboard aggregates in the company's reporting currency
// =============================================================================

// StatusTotal is the count and normalized sum of expenses in one status.
type StatusTotal struct {
	Count  int
	Amount decimal.Decimal
}

// Stats aggregates submitted expenses. Drafts are never counted.
type Stats struct {
	CompanyID CompanyID
	Currency  Currency
	Count     int
	Total     decimal.Decimal
	ByStatus  map[Status]StatusTotal
}

// Summarize totals the normalized amounts of expenses by status. Expenses
// normalized into a different currency are counted but not summed.
func Summarize(company CompanyID, currency Currency, expenses []*Expense) Stats {
	s := Stats{
		CompanyID: company,
		Currency:  currency,
		Total:     decimal.Zero,
		ByStatus:  make(map[Status]StatusTotal),
	}
	for _, st := range []Status{StatusPendingApproval, StatusApproved, StatusRejected, StatusPaid} {
		s.ByStatus[st] = StatusTotal{Amount: decimal.Zero}
	}

	for _, e := range expenses {
		if e.Status == StatusDraft {
			continue
		}
		t := s.ByStatus[e.Status]
		t.Count++
		s.Count++
		if e.NormalizedAmount.Currency == currency {
			t.Amount = t.Amount.Add(e.NormalizedAmount.Amount)
			s.Total = s.Total.Add(e.NormalizedAmount.Amount)
		}
		s.ByStatus[e.Status] = t
	}
	return s
}

// Stats summarizes the company's expenses matching filter.
func (eng *Engine) Stats(ctx context.Context, company CompanyID, filter ExpenseFilter) (Stats, error) {
	c, err := eng.Repo.LoadCompany(ctx, company)
	if err != nil {
		return Stats{}, err
	}
	filter.CompanyID = &company

	expenses, err := eng.Repo.ListExpenses(ctx, filter)
	if err != nil {
		return Stats{}, fmt.Errorf("failed to list expenses: %w", err)
	}
	return Summarize(company, c.ReportingCurrency, expenses), nil
}

// TeamExpenses returns the submitted expenses of a manager's direct reports,
// optionally narrowed to statuses.
func (eng *Engine) TeamExpenses(ctx context.Context, managerID EmployeeID, statuses ...Status) ([]*Expense, error) {
	mgr, err := eng.Repo.LoadEmployee(ctx, managerID)
	if err != nil {
		return nil, err
	}
	filter := ExpenseFilter{CompanyID: &mgr.CompanyID, ManagerID: &managerID, Statuses: statuses}

	expenses, err := eng.Repo.ListExpenses(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to list team expenses: %w", err)
	}
	out := expenses[:0]
	for _, e := range expenses {
		if e.Status != StatusDraft {
			out = append(out, e)
		}
	}
	return out, nil
}
