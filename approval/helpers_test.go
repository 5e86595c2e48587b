package approval_test

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"github.com/warp/expense-engine/approval"
	"github.com/warp/expense-engine/approval/store"
)

// =============================================================================
// TEST SETUP
// =============================================================================

const (
	company = approval.CompanyID("acme")

	admin    = approval.EmployeeID("u-admin")
	cfo      = approval.EmployeeID("u-cfo")
	director = approval.EmployeeID("u-director")
	manager  = approval.EmployeeID("u-manager")
	employee = approval.EmployeeID("u-employee")
	loner    = approval.EmployeeID("u-loner") // no manager
)

var fixedNow = time.Date(2025, time.October, 4, 10, 30, 0, 0, time.UTC)

// testRates converts between USD, EUR and GBP with reciprocal USD/EUR rates.
var testRates = approval.RateLookupFunc(func(from, to approval.Currency) (decimal.Decimal, error) {
	rates := map[string]string{
		"USD:EUR": "0.8", "EUR:USD": "1.25",
		"USD:GBP": "0.5", "GBP:USD": "2",
	}
	if r, ok := rates[string(from)+":"+string(to)]; ok {
		return decimal.RequireFromString(r), nil
	}
	return decimal.Zero, &approval.RateUnavailableError{From: from, To: to}
})

func dec(s string) *decimal.Decimal {
	d := decimal.RequireFromString(s)
	return &d
}

func usd(amount string) approval.Money { return approval.MustMoney(amount, "USD") }

func newTestEngine(t *testing.T) (*approval.Engine, *store.Memory) {
	t.Helper()
	repo := store.NewMemory()
	ctx := context.Background()

	require.NoError(t, repo.SaveCompany(ctx, approval.Company{
		ID:                company,
		Name:              "Acme",
		ReportingCurrency: "USD",
		Categories:        []string{"Travel", "Meals", "Office"},
	}))
	for _, e := range []approval.Employee{
		{ID: admin, CompanyID: company, Name: "John Admin", Role: approval.RoleAdmin},
		{ID: cfo, CompanyID: company, Name: "Jane CFO", Role: approval.RoleManager, ManagerID: admin},
		{ID: director, CompanyID: company, Name: "Alice Director", Role: approval.RoleManager, ManagerID: cfo},
		{ID: manager, CompanyID: company, Name: "Bob Manager", Role: approval.RoleManager, ManagerID: director},
		{ID: employee, CompanyID: company, Name: "Diana Employee", Role: approval.RoleEmployee, ManagerID: manager},
		{ID: loner, CompanyID: company, Name: "Eve Contractor", Role: approval.RoleEmployee},
	} {
		require.NoError(t, repo.SaveEmployee(ctx, e))
	}

	eng := approval.NewEngine(repo, testRates, zerolog.Nop())
	eng.Now = func() time.Time { return fixedNow }
	return eng, repo
}

func mustSaveRule(t *testing.T, eng *approval.Engine, r approval.ApprovalRule) approval.ApprovalRule {
	t.Helper()
	if r.CompanyID == "" {
		r.CompanyID = company
	}
	if r.Name == "" {
		r.Name = string(r.ID)
	}
	r.IsActive = true
	saved, err := eng.SaveRule(context.Background(), r)
	require.NoError(t, err)
	return saved
}

func submit(t *testing.T, eng *approval.Engine, submitter approval.EmployeeID, amount approval.Money) *approval.Expense {
	t.Helper()
	e, err := eng.Submit(context.Background(), approval.ExpenseDraft{
		SubmitterID: submitter,
		Description: "Client dinner",
		Category:    "Meals",
		Amount:      amount,
	})
	require.NoError(t, err)
	return e
}

func decide(t *testing.T, eng *approval.Engine, id approval.ExpenseID, who approval.EmployeeID, action approval.Action) *approval.Expense {
	t.Helper()
	e, err := eng.RecordDecision(context.Background(), id, who, action, "")
	require.NoError(t, err)
	return e
}

func ruleDecision(who approval.EmployeeID, action approval.Action) approval.Decision {
	return approval.Decision{ApproverID: who, Gate: approval.GateRule, Action: action, At: fixedNow}
}

func refs(ids ...approval.EmployeeID) []approval.ApproverRef {
	out := make([]approval.ApproverRef, len(ids))
	for i, id := range ids {
		out[i] = approval.ApproverRef(id)
	}
	return out
}
