/*
scenarios_test.go - Tests for demo scenarios

PURPOSE:
	Tests that each scenario sets up the expected state:
	- Company and employees exist
	- Rules are stored in creation order
	- In-flight expenses sit at the stages the demo promises

These tests double as integration tests of engine + SQLite store.
*/
package api

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/expense-engine/approval"
)

func TestScenario_AcmeRules(t *testing.T) {
	// GIVEN: a fresh database
	h := setupTestHandler(t)
	ctx := context.Background()

	// WHEN: loading the scenario
	require.NoError(t, h.LoadScenarioByID(ctx, "acme-rules"))

	// THEN: the reporting chain and all four rule types exist
	employees, err := h.Store.ListEmployees(ctx, "acme")
	require.NoError(t, err)
	assert.Len(t, employees, 7)

	diana, err := h.Store.LoadEmployee(ctx, "u-diana")
	require.NoError(t, err)
	assert.Equal(t, approval.EmployeeID("u-bob"), diana.ManagerID)

	rules, err := h.Store.ListRules(ctx, "acme")
	require.NoError(t, err)
	require.Len(t, rules, 4)
	kinds := make([]approval.RuleKind, len(rules))
	for i, r := range rules {
		kinds[i] = r.Config.Kind()
	}
	assert.Equal(t, []approval.RuleKind{
		approval.KindSequential, approval.KindSpecific, approval.KindPercentage, approval.KindHybrid,
	}, kinds)
}

func TestScenario_InFlight(t *testing.T) {
	h := setupTestHandler(t)
	ctx := context.Background()

	require.NoError(t, h.LoadScenarioByID(ctx, "in-flight"))

	tests := []struct {
		id      approval.ExpenseID
		rule    approval.RuleID
		status  approval.Status
		waiting []approval.EmployeeID
	}{
		{"exp-lunch", approval.FallbackRuleID, approval.StatusPendingApproval, []approval.EmployeeID{"u-bob"}},
		{"exp-flight", "rule-standard", approval.StatusPendingApproval, []approval.EmployeeID{"u-jane"}},
		{"exp-hotel", "rule-department", approval.StatusApproved, nil},
		{"exp-laptops", "rule-high-value", approval.StatusPaid, nil},
		{"exp-gear", "rule-hybrid", approval.StatusRejected, nil},
	}
	for _, tt := range tests {
		t.Run(string(tt.id), func(t *testing.T) {
			e, err := h.Store.LoadExpense(ctx, tt.id)
			require.NoError(t, err)

			assert.Equal(t, tt.rule, e.MatchedRuleID)
			assert.Equal(t, tt.status, e.Status)
			assert.Equal(t, tt.waiting, approval.Waiting(e))
		})
	}
}

func TestScenario_GlobalTeam(t *testing.T) {
	h := setupTestHandler(t)
	ctx := context.Background()
	require.NoError(t, h.LoadScenarioByID(ctx, "global-team"))

	// At 1.18 USD per EUR, 900 EUR clears the 1000 USD threshold and 800 EUR does not.
	e, err := h.submitDemo(ctx, "g-1", "g-lena", "Train", "Travel", "900", "EUR", testNow)
	require.NoError(t, err)
	assert.Equal(t, approval.RuleID("globex-travel"), e.MatchedRuleID)
	assert.Equal(t, []approval.EmployeeID{"g-frank"}, approval.Waiting(e), "$manager binds to the submitter's manager")

	e, err = h.submitDemo(ctx, "g-2", "g-yuki", "Dinner", "Meals", "800", "EUR", testNow)
	require.NoError(t, err)
	assert.Equal(t, approval.FallbackRuleID, e.MatchedRuleID)

	// A USD expense is normalized into EUR for the company limit and ranking.
	e, err = h.submitDemo(ctx, "g-3", "g-lena", "Licences", "Software", "6000", "USD", testNow)
	require.NoError(t, err)
	assert.Equal(t, approval.RuleID("globex-large"), e.MatchedRuleID)
	assert.Equal(t, "5100.00 EUR", e.NormalizedAmount.String())
}

func TestScenario_LoadResetsPreviousData(t *testing.T) {
	h := setupTestHandler(t)
	ctx := context.Background()

	require.NoError(t, h.LoadScenarioByID(ctx, "in-flight"))
	require.NoError(t, h.LoadScenarioByID(ctx, "global-team"))

	_, err := h.Store.LoadExpense(ctx, "exp-lunch")
	assert.True(t, approval.IsNotFound(err))
	_, err = h.Store.LoadCompany(ctx, "acme")
	assert.True(t, approval.IsNotFound(err))
}

func TestScenario_HTTP(t *testing.T) {
	_, router := setupRouter(t, "")

	rec := doJSON(t, router, http.MethodGet, "/api/scenarios", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]ScenarioDTO](t, rec), len(scenarios))

	rec = doJSON(t, router, http.MethodPost, "/api/scenarios/load", LoadScenarioRequest{ScenarioID: "nope"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, router, http.MethodPost, "/api/scenarios/load", LoadScenarioRequest{ScenarioID: "acme-rules"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = doJSON(t, router, http.MethodGet, "/api/scenarios/current", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "acme-rules", decode[ScenarioDTO](t, rec).ID)
}
