/*
engine.go - Decision recorder and public operations

PURPOSE:
  Engine is the entry point request handlers call. It ties the pieces
  together:

    Submit          normalize -> match rule -> bind -> pending
    RecordDecision  lock -> load -> check gate -> append -> replay -> save
    OverrideStatus  lock -> load -> append override -> save (no evaluation)
    MarkPaid        lock -> load -> approved -> paid

CONCURRENCY:
  Every mutation of one expense runs under a per-expense lock, so two
  approvers can never both read a stale pending state and both believe they
  cast the deciding vote. Rate lookups and rule matching happen before the
  lock. Reads (GetExpense, PendingFor) take no lock and may be slightly stale;
  status only moves forward.

ATOMICITY:
  Mutations are applied to a clone of the loaded expense and saved once. If
  validation or the save fails, nothing is persisted and the stored expense
  is untouched.

EXAMPLE:
  eng := approval.NewEngine(repo, rates.NewTable(...), log)
  exp, err := eng.Submit(ctx, approval.ExpenseDraft{SubmitterID: "emp-1", Amount: approval.MustMoney("500", "USD")})
  exp, err = eng.RecordDecision(ctx, exp.ID, "mgr-1", approval.ActionApproved, "ok")
*/
package approval

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

type Engine struct {
	Repo  Repository
	Rates RateLookup
	Log   zerolog.Logger

	// Now and NewID are replaceable for deterministic tests.
	Now   func() time.Time
	NewID func() string

	locks KeyedMutex
}

func NewEngine(repo Repository, rates RateLookup, log zerolog.Logger) *Engine {
	return &Engine{
		Repo:  repo,
		Rates: rates,
		Log:   log,
		Now:   func() time.Time { return time.Now().UTC() },
		NewID: uuid.NewString,
	}
}

func (eng *Engine) now() time.Time {
	if eng.Now == nil {
		return time.Now().UTC()
	}
	return eng.Now()
}

func (eng *Engine) newID() string {
	if eng.NewID == nil {
		return uuid.NewString()
	}
	return eng.NewID()
}

// =============================================================================
// DRAFTS AND SUBMISSION
// =============================================================================

func validateDraft(d ExpenseDraft) error {
	if d.SubmitterID == "" {
		return fmt.Errorf("submitter is required: %w", ErrInvalidInput)
	}
	if !d.Amount.Currency.Valid() {
		return fmt.Errorf("currency %q is not an ISO code: %w", d.Amount.Currency, ErrInvalidInput)
	}
	if !d.Amount.Amount.IsPositive() {
		return fmt.Errorf("amount must be positive: %w", ErrInvalidInput)
	}
	return nil
}

func fillFromDraft(e *Expense, d ExpenseDraft) {
	e.Description = d.Description
	e.Category = d.Category
	e.ExpenseDate = d.ExpenseDate
	e.PaidBy = d.PaidBy
	e.Remarks = d.Remarks
	e.Amount = d.Amount
}

// loadDraftTarget returns the stored draft for d.ID, or a fresh expense when
// d.ID is empty or unknown. Callers hold the expense lock.
func (eng *Engine) loadDraftTarget(ctx context.Context, d ExpenseDraft, company CompanyID, now time.Time) (*Expense, error) {
	if d.ID != "" {
		existing, err := eng.Repo.LoadExpense(ctx, d.ID)
		switch {
		case err == nil:
			if existing.Status != StatusDraft {
				return nil, fmt.Errorf("expense %s is %s, not draft: %w", d.ID, existing.Status, ErrInvalidTransition)
			}
			if existing.SubmitterID != d.SubmitterID {
				return nil, fmt.Errorf("expense %s belongs to another submitter: %w", d.ID, ErrForbidden)
			}
			return existing.Clone(), nil
		case !IsNotFound(err):
			return nil, err
		}
	}

	id := d.ID
	if id == "" {
		id = ExpenseID(eng.newID())
	}
	return &Expense{
		ID:          id,
		CompanyID:   company,
		SubmitterID: d.SubmitterID,
		Status:      StatusDraft,
		Stage:       StageDraft,
		CreatedAt:   now,
		UpdatedAt:   now,
	}, nil
}

// SaveDraft creates or updates an expense in draft.
func (eng *Engine) SaveDraft(ctx context.Context, d ExpenseDraft) (*Expense, error) {
	if err := validateDraft(d); err != nil {
		return nil, err
	}
	submitter, err := eng.Repo.LoadEmployee(ctx, d.SubmitterID)
	if err != nil {
		return nil, fmt.Errorf("failed to load submitter: %w", err)
	}
	company := d.CompanyID
	if company == "" {
		company = submitter.CompanyID
	}

	if d.ID == "" {
		d.ID = ExpenseID(eng.newID())
	}
	unlock := eng.locks.Lock(d.ID)
	defer unlock()

	now := eng.now()
	e, err := eng.loadDraftTarget(ctx, d, company, now)
	if err != nil {
		return nil, err
	}
	fillFromDraft(e, d)
	e.UpdatedAt = now

	if err := eng.Repo.SaveExpense(ctx, e); err != nil {
		return nil, fmt.Errorf("failed to save draft: %w", err)
	}
	return e, nil
}

// Submit matches the expense to a rule and moves it into approval.
//
// The rule is matched once, here, and a bound snapshot is stored on the
// expense. Rules edited later do not affect it.
func (eng *Engine) Submit(ctx context.Context, d ExpenseDraft) (*Expense, error) {
	if err := validateDraft(d); err != nil {
		return nil, err
	}

	submitter, err := eng.Repo.LoadEmployee(ctx, d.SubmitterID)
	if err != nil {
		return nil, fmt.Errorf("failed to load submitter: %w", err)
	}
	companyID := d.CompanyID
	if companyID == "" {
		companyID = submitter.CompanyID
	}
	company, err := eng.Repo.LoadCompany(ctx, companyID)
	if err != nil {
		return nil, fmt.Errorf("failed to load company: %w", err)
	}

	if len(company.Categories) > 0 && d.Category != "" && !containsFold(company.Categories, d.Category) {
		return nil, fmt.Errorf("category %q is not configured for %s: %w", d.Category, company.ID, ErrInvalidInput)
	}

	normalized, err := NormalizeMoney(d.Amount, company.ReportingCurrency, eng.Rates)
	if err != nil {
		return nil, fmt.Errorf("failed to normalize amount: %w", err)
	}
	if company.MaxExpenseAmount != nil && normalized.Amount.GreaterThan(*company.MaxExpenseAmount) {
		return nil, fmt.Errorf("amount %s exceeds company maximum %s: %w",
			normalized, company.MaxExpenseAmount.StringFixed(2), ErrInvalidInput)
	}

	rules, err := eng.Repo.LoadActiveRules(ctx, companyID)
	if err != nil {
		return nil, fmt.Errorf("failed to load rules: %w", err)
	}
	rule, ok, err := MatchRule(d.Amount, company.ReportingCurrency, rules, eng.Rates)
	if err != nil {
		return nil, err
	}
	if !ok {
		rule = FallbackRule(companyID)
	}
	bound := rule.Bind(submitter.ManagerID)
	if containsRef(bound.Config.Approvers(), ManagerRef) {
		return nil, &ConfigurationError{
			RuleID: rule.ID, Field: "approvers",
			Reason: fmt.Sprintf("references the manager but %s has none", submitter.ID),
		}
	}

	if d.ID == "" {
		d.ID = ExpenseID(eng.newID())
	}
	unlock := eng.locks.Lock(d.ID)
	defer unlock()

	now := eng.now()
	e, err := eng.loadDraftTarget(ctx, d, companyID, now)
	if err != nil {
		return nil, err
	}
	fillFromDraft(e, d)
	e.CompanyID = companyID
	e.ManagerID = submitter.ManagerID
	e.NormalizedAmount = normalized
	e.MatchedRuleID = bound.ID
	e.MatchedRule = &bound
	e.SubmittedAt = &now
	e.Stage = initialStage(e.MatchedRule, e.ManagerID)
	e.Status = e.Stage.Status()
	e.UpdatedAt = now

	if err := eng.Repo.SaveExpense(ctx, e); err != nil {
		return nil, fmt.Errorf("failed to save expense: %w", err)
	}

	eng.Log.Info().
		Str("expense_id", string(e.ID)).
		Str("rule_id", string(e.MatchedRuleID)).
		Str("stage", string(e.Stage)).
		Str("normalized", normalized.String()).
		Msg("Expense submitted")
	return e, nil
}

// =============================================================================
// DECISIONS
// =============================================================================

// RecordDecision records approverID's action on the expense's current gate.
func (eng *Engine) RecordDecision(ctx context.Context, id ExpenseID, approverID EmployeeID, action Action, comment string) (*Expense, error) {
	if !action.Valid() {
		return nil, fmt.Errorf("action %q: %w", action, ErrInvalidInput)
	}

	unlock := eng.locks.Lock(id)
	defer unlock()

	e, err := eng.Repo.LoadExpense(ctx, id)
	if err != nil {
		return nil, err
	}
	if e.Status.IsTerminal() {
		return nil, &TerminalError{ExpenseID: id, Status: e.Status}
	}
	if e.Status == StatusDraft {
		return nil, fmt.Errorf("expense %s has not been submitted: %w", id, ErrInvalidTransition)
	}

	gate, eligible := CurrentGate(e)
	if !containsID(eligible, approverID) {
		return nil, &NotEligibleError{ExpenseID: id, ApproverID: approverID, Stage: e.Stage}
	}

	now := eng.now()
	next := e.Clone()
	apply(next, Decision{
		ApproverID: approverID,
		Gate:       gate,
		Action:     action,
		At:         now,
		Comment:    comment,
	}, now)

	if err := eng.Repo.SaveExpense(ctx, next); err != nil {
		return nil, fmt.Errorf("failed to save decision: %w", err)
	}

	eng.Log.Info().
		Str("expense_id", string(id)).
		Str("approver_id", string(approverID)).
		Str("gate", string(gate)).
		Str("action", string(action)).
		Str("stage", string(next.Stage)).
		Msg("Decision recorded")
	return next, nil
}

// BulkResult is the outcome of one item of BulkDecide.
type BulkResult struct {
	ExpenseID ExpenseID
	Expense   *Expense
	Err       error
}

// BulkDecide applies the same decision to several expenses. Each item is an
// independent RecordDecision; one failure does not stop the others.
func (eng *Engine) BulkDecide(ctx context.Context, approverID EmployeeID, ids []ExpenseID, action Action, comment string) []BulkResult {
	results := make([]BulkResult, 0, len(ids))
	for _, id := range ids {
		e, err := eng.RecordDecision(ctx, id, approverID, action, comment)
		if err != nil {
			eng.Log.Warn().Err(err).Str("expense_id", string(id)).Msg("Bulk decision failed")
		}
		results = append(results, BulkResult{ExpenseID: id, Expense: e, Err: err})
	}
	return results
}

// =============================================================================
// ADMIN AND FINANCE
// =============================================================================

func (eng *Engine) requireAdmin(ctx context.Context, id EmployeeID, company CompanyID) error {
	emp, err := eng.Repo.LoadEmployee(ctx, id)
	if err != nil {
		return fmt.Errorf("failed to load actor: %w", err)
	}
	if emp.Role != RoleAdmin {
		return fmt.Errorf("%s is not an admin: %w", id, ErrForbidden)
	}
	if company != "" && emp.CompanyID != "" && emp.CompanyID != company {
		return fmt.Errorf("%s is not an admin of %s: %w", id, company, ErrForbidden)
	}
	return nil
}

// OverrideStatus forces an expense into newStatus. The override is recorded
// as a Decision from OverrideApprover and bypasses rule evaluation.
// Overriding to pending_approval reopens the expense: approvals restart from
// the first gate and earlier decisions stop counting.
func (eng *Engine) OverrideStatus(ctx context.Context, id ExpenseID, adminID EmployeeID, newStatus Status, comment string) (*Expense, error) {
	switch newStatus {
	case StatusApproved, StatusRejected, StatusPaid, StatusPendingApproval:
	default:
		return nil, fmt.Errorf("cannot override to %q: %w", newStatus, ErrInvalidInput)
	}

	unlock := eng.locks.Lock(id)
	defer unlock()

	e, err := eng.Repo.LoadExpense(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := eng.requireAdmin(ctx, adminID, e.CompanyID); err != nil {
		return nil, err
	}
	if newStatus == StatusPendingApproval && e.MatchedRule == nil {
		return nil, fmt.Errorf("expense %s was never submitted and cannot be reopened: %w", id, ErrInvalidTransition)
	}

	action := ActionApproved
	if newStatus == StatusRejected {
		action = ActionRejected
	}

	now := eng.now()
	next := e.Clone()
	apply(next, Decision{
		ApproverID:     OverrideApprover,
		ActorID:        adminID,
		Gate:           GateOverride,
		Action:         action,
		OverrideStatus: newStatus,
		At:             now,
		Comment:        comment,
	}, now)

	if err := eng.Repo.SaveExpense(ctx, next); err != nil {
		return nil, fmt.Errorf("failed to save override: %w", err)
	}

	eng.Log.Warn().
		Str("expense_id", string(id)).
		Str("admin_id", string(adminID)).
		Str("from", string(e.Status)).
		Str("to", string(newStatus)).
		Msg("Expense status overridden")
	return next, nil
}

// MarkPaid moves an approved expense to paid.
func (eng *Engine) MarkPaid(ctx context.Context, id ExpenseID, actorID EmployeeID) (*Expense, error) {
	unlock := eng.locks.Lock(id)
	defer unlock()

	e, err := eng.Repo.LoadExpense(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := eng.requireAdmin(ctx, actorID, e.CompanyID); err != nil {
		return nil, err
	}
	if e.Status != StatusApproved {
		return nil, fmt.Errorf("expense %s is %s, only approved expenses can be paid: %w", id, e.Status, ErrInvalidTransition)
	}

	now := eng.now()
	next := e.Clone()
	apply(next, Decision{ApproverID: actorID, ActorID: actorID, Gate: GatePayment, Action: ActionApproved, At: now}, now)

	if err := eng.Repo.SaveExpense(ctx, next); err != nil {
		return nil, fmt.Errorf("failed to save payment: %w", err)
	}
	eng.Log.Info().Str("expense_id", string(id)).Str("actor_id", string(actorID)).Msg("Expense paid")
	return next, nil
}

// =============================================================================
// READS
// =============================================================================

// GetExpense reads without locking.
func (eng *Engine) GetExpense(ctx context.Context, id ExpenseID) (*Expense, error) {
	return eng.Repo.LoadExpense(ctx, id)
}

// PendingFor returns the company's pending expenses waiting on approverID.
func (eng *Engine) PendingFor(ctx context.Context, company CompanyID, approverID EmployeeID) ([]*Expense, error) {
	filter := ExpenseFilter{Statuses: []Status{StatusPendingApproval}}
	if company != "" {
		filter.CompanyID = &company
	}
	expenses, err := eng.Repo.ListExpenses(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to list expenses: %w", err)
	}
	var out []*Expense
	for _, e := range expenses {
		if containsID(Waiting(e), approverID) {
			out = append(out, e)
		}
	}
	return out, nil
}

// =============================================================================
// RULES
// =============================================================================

// SaveRule validates and stores a rule. Invalid rules fail here with a
// *ConfigurationError and are never stored.
func (eng *Engine) SaveRule(ctx context.Context, r ApprovalRule) (ApprovalRule, error) {
	if r.ID == FallbackRuleID {
		return ApprovalRule{}, &ConfigurationError{RuleID: r.ID, Field: "id", Reason: "is reserved"}
	}
	if _, err := eng.Repo.LoadCompany(ctx, r.CompanyID); err != nil {
		return ApprovalRule{}, fmt.Errorf("failed to load company: %w", err)
	}

	now := eng.now()
	if r.ID == "" {
		r.ID = RuleID(eng.newID())
		r.CreatedAt = now
	} else if existing, err := eng.Repo.LoadRule(ctx, r.ID); err == nil {
		r.Seq = existing.Seq
		r.CreatedAt = existing.CreatedAt
	} else if !IsNotFound(err) {
		return ApprovalRule{}, err
	} else {
		r.CreatedAt = now
	}
	r.UpdatedAt = now

	if err := ValidateRule(ctx, r, eng.Repo); err != nil {
		return ApprovalRule{}, err
	}
	if err := eng.Repo.SaveRule(ctx, &r); err != nil {
		return ApprovalRule{}, fmt.Errorf("failed to save rule: %w", err)
	}

	eng.Log.Info().Str("rule_id", string(r.ID)).Str("type", string(r.Config.Kind())).Msg("Approval rule saved")
	return r, nil
}

func containsID(ids []EmployeeID, id EmployeeID) bool {
	for _, x := range ids {
		if x == id {
			return true
		}
	}
	return false
}

func containsFold(values []string, v string) bool {
	for _, x := range values {
		if strings.EqualFold(x, v) {
			return true
		}
	}
	return false
}
