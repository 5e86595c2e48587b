package store_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/expense-engine/approval"
	"github.com/warp/expense-engine/approval/store"
)

func TestMemory_SaveExpense_OptimisticConcurrency(t *testing.T) {
	// GIVEN: a stored expense
	m := store.NewMemory()
	ctx := context.Background()
	e := &approval.Expense{ID: "e1", CompanyID: "acme", Status: approval.StatusDraft, CreatedAt: time.Now()}
	require.NoError(t, m.SaveExpense(ctx, e))
	assert.Equal(t, int64(1), e.Version)

	// WHEN: two writers load the same version
	a, err := m.LoadExpense(ctx, "e1")
	require.NoError(t, err)
	b, err := m.LoadExpense(ctx, "e1")
	require.NoError(t, err)

	a.Description = "first"
	require.NoError(t, m.SaveExpense(ctx, a))

	// THEN: the second write conflicts and changes nothing
	b.Description = "second"
	err = m.SaveExpense(ctx, b)
	assert.ErrorIs(t, err, approval.ErrConflict)
	assert.True(t, approval.IsRetryable(err))

	stored, err := m.LoadExpense(ctx, "e1")
	require.NoError(t, err)
	assert.Equal(t, "first", stored.Description)
	assert.Equal(t, int64(2), stored.Version)
}

func TestMemory_SaveExpense_DuplicateInsertConflicts(t *testing.T) {
	m := store.NewMemory()
	ctx := context.Background()
	require.NoError(t, m.SaveExpense(ctx, &approval.Expense{ID: "e1"}))

	err := m.SaveExpense(ctx, &approval.Expense{ID: "e1"})

	assert.ErrorIs(t, err, approval.ErrConflict)
}

func TestMemory_ValuesAreCopied(t *testing.T) {
	m := store.NewMemory()
	ctx := context.Background()
	e := &approval.Expense{ID: "e1", History: []approval.Decision{{ApproverID: "a", Gate: approval.GateRule, Action: approval.ActionApproved}}}
	require.NoError(t, m.SaveExpense(ctx, e))

	e.History[0].Action = approval.ActionRejected
	loaded, err := m.LoadExpense(ctx, "e1")
	require.NoError(t, err)
	loaded.History = append(loaded.History, approval.Decision{ApproverID: "b"})

	again, err := m.LoadExpense(ctx, "e1")
	require.NoError(t, err)
	require.Len(t, again.History, 1)
	assert.Equal(t, approval.ActionApproved, again.History[0].Action)
}

func TestMemory_ListExpenses_Filter(t *testing.T) {
	m := store.NewMemory()
	ctx := context.Background()
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, e := range []approval.Expense{
		{ID: "a", CompanyID: "acme", SubmitterID: "u1", ManagerID: "m1", Status: approval.StatusPendingApproval},
		{ID: "b", CompanyID: "acme", SubmitterID: "u2", ManagerID: "m2", Status: approval.StatusApproved},
		{ID: "c", CompanyID: "globex", SubmitterID: "u1", ManagerID: "m1", Status: approval.StatusPendingApproval},
		{ID: "d", CompanyID: "acme", SubmitterID: "u1", ManagerID: "m1", Status: approval.StatusDraft},
	} {
		e.CreatedAt = base.Add(time.Duration(i) * time.Hour)
		if e.Status != approval.StatusDraft {
			submitted := e.CreatedAt
			e.SubmittedAt = &submitted
		}
		require.NoError(t, m.SaveExpense(ctx, &e))
	}

	acme := approval.CompanyID("acme")
	got, err := m.ListExpenses(ctx, approval.ExpenseFilter{CompanyID: &acme})
	require.NoError(t, err)
	assert.Equal(t, []approval.ExpenseID{"a", "b", "d"}, ids(got))

	u1 := approval.EmployeeID("u1")
	got, err = m.ListExpenses(ctx, approval.ExpenseFilter{SubmitterID: &u1, Statuses: []approval.Status{approval.StatusPendingApproval}})
	require.NoError(t, err)
	assert.Equal(t, []approval.ExpenseID{"a", "c"}, ids(got))

	m1 := approval.EmployeeID("m1")
	got, err = m.ListExpenses(ctx, approval.ExpenseFilter{CompanyID: &acme, ManagerID: &m1})
	require.NoError(t, err)
	assert.Equal(t, []approval.ExpenseID{"a", "d"}, ids(got))

	since := base.Add(time.Hour)
	got, err = m.ListExpenses(ctx, approval.ExpenseFilter{SubmittedSince: &since})
	require.NoError(t, err)
	assert.Equal(t, []approval.ExpenseID{"b", "c"}, ids(got))
}

func TestMemory_Rules(t *testing.T) {
	m := store.NewMemory()
	ctx := context.Background()
	cfo := approval.SpecificApprover{Approver: "cfo"}

	r1 := approval.ApprovalRule{ID: "r1", CompanyID: "acme", Name: "One", IsActive: true, Config: cfo}
	r2 := approval.ApprovalRule{ID: "r2", CompanyID: "acme", Name: "Two", IsActive: false, Config: cfo}
	r3 := approval.ApprovalRule{ID: "r3", CompanyID: "globex", Name: "Three", IsActive: true, Config: cfo}
	for _, r := range []*approval.ApprovalRule{&r1, &r2, &r3} {
		require.NoError(t, m.SaveRule(ctx, r))
	}
	assert.Less(t, r1.Seq, r2.Seq)

	active, err := m.LoadActiveRules(ctx, "acme")
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, approval.RuleID("r1"), active[0].ID)

	all, err := m.ListRules(ctx, "acme")
	require.NoError(t, err)
	assert.Len(t, all, 2)

	// Re-saving keeps the original seq.
	seq := r1.Seq
	r1.Name = "One v2"
	require.NoError(t, m.SaveRule(ctx, &r1))
	assert.Equal(t, seq, r1.Seq)

	_, err = m.LoadRule(ctx, "missing")
	assert.ErrorIs(t, err, approval.ErrNotFound)
}

func TestMemory_Directory(t *testing.T) {
	m := store.NewMemory()
	ctx := context.Background()

	_, err := m.LoadEmployee(ctx, "nobody")
	assert.True(t, approval.IsNotFound(err))

	require.NoError(t, m.SaveEmployee(ctx, approval.Employee{ID: "u1", CompanyID: "acme", Name: "Diana", ManagerID: "u2"}))
	emp, err := m.LoadEmployee(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, approval.EmployeeID("u2"), emp.ManagerID)

	require.NoError(t, m.SaveCompany(ctx, approval.Company{ID: "acme", ReportingCurrency: "USD", Categories: []string{"Travel"}}))
	c, err := m.LoadCompany(ctx, "acme")
	require.NoError(t, err)
	c.Categories[0] = "changed"
	again, err := m.LoadCompany(ctx, "acme")
	require.NoError(t, err)
	assert.Equal(t, []string{"Travel"}, again.Categories)
}

func ids(es []*approval.Expense) []approval.ExpenseID {
	out := make([]approval.ExpenseID, len(es))
	for i, e := range es {
		out[i] = e.ID
	}
	return out
}
