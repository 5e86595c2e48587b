/*
scenarios.go - Demo scenario loaders for testing and demonstrations

PURPOSE:

	Provides pre-built scenarios that populate the database with realistic
	data for demos. Each scenario creates a company, its reporting chain,
	approval rules and, for some, expenses already moving through approval.

AVAILABLE SCENARIOS:

	acme-rules:   Acme Corp (USD), seven employees, one rule of each type
	in-flight:    acme-rules plus expenses at every stage of approval
	global-team:  Globex (EUR) with thresholds expressed in USD

HOW SCENARIOS WORK:
 1. Reset database (clear all data)
 2. Create the company and employees
 3. Create rules from JSON via the rule factory and Engine.SaveRule
 4. Optionally submit expenses and record decisions through the engine

USAGE VIA API:

	POST /api/scenarios/load
	{"scenario_id": "in-flight"}

NOTE:

	Scenarios reset the database. Only use in development/demo environments.

SEE ALSO:
  - handlers.go: Handler and error mapping
  - factory/rule.go: Rule JSON definitions
*/
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/expense-engine/approval"
)

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

var scenarios = []ScenarioDTO{
	{
		ID:          "acme-rules",
		Name:        "Acme Rules",
		Description: "USD company with sequential, specific, percentage and hybrid rules",
	},
	{
		ID:          "in-flight",
		Name:        "Expenses In Flight",
		Description: "Acme rules plus expenses pending, approved, rejected and paid",
	},
	{
		ID:          "global-team",
		Name:        "Global Team",
		Description: "EUR company whose rule thresholds are set in USD",
	},
}

// ListScenarios returns available scenarios.
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, scenarios)
}

// GetCurrentScenario returns the currently loaded scenario, if any.
func (h *Handler) GetCurrentScenario(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	current := h.currentScenario
	h.mu.Unlock()

	for _, s := range scenarios {
		if s.ID == current {
			writeJSON(w, http.StatusOK, s)
			return
		}
	}
	writeJSON(w, http.StatusOK, nil)
}

// LoadScenario resets the database and loads a predefined scenario.
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req LoadScenarioRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	if err := h.LoadScenarioByID(r.Context(), req.ScenarioID); err != nil {
		if approval.IsNotFound(err) {
			writeError(w, http.StatusBadRequest, "Unknown scenario", err)
			return
		}
		writeError(w, http.StatusInternalServerError, "Failed to load scenario", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "loaded", "scenario": req.ScenarioID})
}

// LoadScenarioByID wipes the database and loads the named demo scenario.
func (h *Handler) LoadScenarioByID(ctx context.Context, id string) error {
	var load func(context.Context) error
	switch id {
	case "acme-rules":
		load = h.loadAcmeRulesScenario
	case "in-flight":
		load = h.loadInFlightScenario
	case "global-team":
		load = h.loadGlobalTeamScenario
	default:
		return approval.NotFoundError("scenario", id)
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if err := h.Store.Reset(ctx); err != nil {
		return fmt.Errorf("failed to reset database: %w", err)
	}
	h.currentScenario = ""

	if err := load(ctx); err != nil {
		return err
	}
	h.currentScenario = id
	h.Log.Info().Str("scenario", id).Msg("Scenario loaded")
	return nil
}

// =============================================================================
// SCENARIO LOADERS
// =============================================================================

const acme approval.CompanyID = "acme"

var acmeEmployees = []approval.Employee{
	{ID: "u-john", CompanyID: acme, Name: "John Admin", Email: "john@acme.test", Role: approval.RoleAdmin},
	{ID: "u-jane", CompanyID: acme, Name: "Jane CFO", Email: "jane@acme.test", Role: approval.RoleManager, ManagerID: "u-john"},
	{ID: "u-alice", CompanyID: acme, Name: "Alice Director", Email: "alice@acme.test", Role: approval.RoleManager, ManagerID: "u-jane"},
	{ID: "u-bob", CompanyID: acme, Name: "Bob Manager", Email: "bob@acme.test", Role: approval.RoleManager, ManagerID: "u-alice"},
	{ID: "u-charlie", CompanyID: acme, Name: "Charlie Financer", Email: "charlie@acme.test", Role: approval.RoleManager, ManagerID: "u-alice"},
	{ID: "u-diana", CompanyID: acme, Name: "Diana Employee", Email: "diana@acme.test", Role: approval.RoleEmployee, ManagerID: "u-bob"},
	{ID: "u-eve", CompanyID: acme, Name: "Eve Employee", Email: "eve@acme.test", Role: approval.RoleEmployee, ManagerID: "u-bob"},
}

var acmeRules = []string{
	`{
		"id": "rule-standard", "company_id": "acme", "type": "sequential",
		"name": "Standard Sequential Approval",
		"description": "Manager first, then CFO, then admin",
		"is_active": true, "threshold": "1000", "currency": "USD",
		"require_manager_approval": true,
		"steps": [{"approver_id": "u-jane", "order": 1}, {"approver_id": "u-john", "order": 2}]
	}`,
	`{
		"id": "rule-high-value", "company_id": "acme", "type": "specific",
		"name": "High Value Specific Approval",
		"description": "Admin signs off on anything large",
		"is_active": true, "threshold": "5000", "currency": "USD",
		"specific_approver_id": "u-john"
	}`,
	`{
		"id": "rule-department", "company_id": "acme", "type": "percentage",
		"name": "Department Percentage Approval",
		"description": "60% of leadership",
		"is_active": true, "threshold": "2000", "currency": "USD",
		"require_manager_approval": true,
		"approvers": ["u-john", "u-jane", "u-alice"], "percentage": 60
	}`,
	`{
		"id": "rule-hybrid", "company_id": "acme", "type": "hybrid",
		"name": "Hybrid Emergency Approval",
		"description": "75% of leadership, or the admin alone",
		"is_active": true, "threshold": "10000", "currency": "USD",
		"require_manager_approval": true,
		"approvers": ["u-john", "u-jane", "u-alice", "u-bob"], "percentage": 75,
		"specific_approver_id": "u-john"
	}`,
}

func (h *Handler) loadAcmeRulesScenario(ctx context.Context) error {
	limit := decimal.NewFromInt(50000)
	company := approval.Company{
		ID:                acme,
		Name:              "Acme Corp",
		ReportingCurrency: "USD",
		MaxExpenseAmount:  &limit,
		Categories:        []string{"Travel", "Meals", "Accommodation", "Office Supplies", "Software"},
	}
	if err := h.Store.SaveCompany(ctx, company); err != nil {
		return err
	}
	for _, emp := range acmeEmployees {
		if err := h.Store.SaveEmployee(ctx, emp); err != nil {
			return err
		}
	}
	for _, js := range acmeRules {
		if err := h.createRuleFromJSON(ctx, js); err != nil {
			return err
		}
	}
	return nil
}

func (h *Handler) loadInFlightScenario(ctx context.Context) error {
	if err := h.loadAcmeRulesScenario(ctx); err != nil {
		return err
	}
	expenseDate := time.Date(2025, time.October, 1, 0, 0, 0, 0, time.UTC)

	// Below every threshold: the manager fallback, still waiting on Bob.
	if _, err := h.submitDemo(ctx, "exp-lunch", "u-diana", "Team lunch", "Meals", "450", "USD", expenseDate); err != nil {
		return err
	}

	// Standard sequential: Bob cleared the gate, Jane is up next.
	flight, err := h.submitDemo(ctx, "exp-flight", "u-eve", "Flight to Berlin", "Travel", "1500", "USD", expenseDate)
	if err != nil {
		return err
	}
	if err := h.decideDemo(ctx, flight.ID, "u-bob", approval.ActionApproved, "Conference travel"); err != nil {
		return err
	}

	// 2500 EUR normalizes above the department threshold.
	hotel, err := h.submitDemo(ctx, "exp-hotel", "u-diana", "Hotel, offsite week", "Accommodation", "2500", "EUR", expenseDate)
	if err != nil {
		return err
	}
	for _, step := range []struct {
		who    approval.EmployeeID
		action approval.Action
	}{
		{"u-bob", approval.ActionApproved},
		{"u-john", approval.ActionApproved},
		{"u-jane", approval.ActionApproved},
	} {
		if err := h.decideDemo(ctx, hotel.ID, step.who, step.action, ""); err != nil {
			return err
		}
	}

	// High value specific: approved by John and paid.
	laptops, err := h.submitDemo(ctx, "exp-laptops", "u-eve", "Laptops for new hires", "Office Supplies", "6200", "USD", expenseDate)
	if err != nil {
		return err
	}
	if err := h.decideDemo(ctx, laptops.ID, "u-john", approval.ActionApproved, ""); err != nil {
		return err
	}
	if _, err := h.Engine.MarkPaid(ctx, laptops.ID, "u-john"); err != nil {
		return err
	}

	// Manager veto on a hybrid-rule expense.
	gear, err := h.submitDemo(ctx, "exp-gear", "u-diana", "Studio equipment", "Office Supplies", "12000", "USD", expenseDate)
	if err != nil {
		return err
	}
	return h.decideDemo(ctx, gear.ID, "u-bob", approval.ActionRejected, "Not budgeted this quarter")
}

func (h *Handler) loadGlobalTeamScenario(ctx context.Context) error {
	const globex approval.CompanyID = "globex"

	company := approval.Company{
		ID:                globex,
		Name:              "Globex GmbH",
		ReportingCurrency: "EUR",
		Categories:        []string{"Travel", "Meals", "Software"},
	}
	if err := h.Store.SaveCompany(ctx, company); err != nil {
		return err
	}

	employees := []approval.Employee{
		{ID: "g-hank", CompanyID: globex, Name: "Hank Scorpio", Role: approval.RoleAdmin},
		{ID: "g-frank", CompanyID: globex, Name: "Frank Grimes", Role: approval.RoleManager, ManagerID: "g-hank"},
		{ID: "g-lena", CompanyID: globex, Name: "Lena Weber", Role: approval.RoleEmployee, ManagerID: "g-frank"},
		{ID: "g-yuki", CompanyID: globex, Name: "Yuki Tanaka", Role: approval.RoleEmployee, ManagerID: "g-frank"},
	}
	for _, emp := range employees {
		if err := h.Store.SaveEmployee(ctx, emp); err != nil {
			return err
		}
	}

	rules := []string{
		`{
			"id": "globex-travel", "company_id": "globex", "type": "sequential",
			"name": "Travel over 1000 USD", "is_active": true,
			"threshold": "1000", "currency": "USD",
			"steps": [{"approver_id": "$manager", "order": 1}, {"approver_id": "g-hank", "order": 2}]
		}`,
		`{
			"id": "globex-large", "company_id": "globex", "type": "specific",
			"name": "Anything over 5000 EUR", "is_active": true,
			"threshold": "5000", "currency": "EUR",
			"require_manager_approval": true,
			"specific_approver_id": "g-hank"
		}`,
	}
	for _, js := range rules {
		if err := h.createRuleFromJSON(ctx, js); err != nil {
			return err
		}
	}
	return nil
}

// =============================================================================
// HELPERS
// =============================================================================

func (h *Handler) createRuleFromJSON(ctx context.Context, jsonStr string) error {
	rule, err := h.Rules.ParseRule(jsonStr)
	if err != nil {
		return err
	}
	_, err = h.Engine.SaveRule(ctx, rule)
	return err
}

func (h *Handler) submitDemo(ctx context.Context, id approval.ExpenseID, submitter approval.EmployeeID, desc, category, amount, currency string, date time.Time) (*approval.Expense, error) {
	money, err := approval.NewMoney(amount, approval.NewCurrency(currency))
	if err != nil {
		return nil, err
	}
	e, err := h.Engine.Submit(ctx, approval.ExpenseDraft{
		ID:          id,
		SubmitterID: submitter,
		Description: desc,
		Category:    category,
		ExpenseDate: date,
		PaidBy:      "Employee",
		Amount:      money,
	})
	if err != nil {
		return nil, fmt.Errorf("submit %s: %w", id, err)
	}
	return e, nil
}

func (h *Handler) decideDemo(ctx context.Context, id approval.ExpenseID, who approval.EmployeeID, action approval.Action, comment string) error {
	if _, err := h.Engine.RecordDecision(ctx, id, who, action, comment); err != nil {
		return fmt.Errorf("decision by %s on %s: %w", who, id, err)
	}
	return nil
}
