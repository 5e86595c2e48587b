/*
Package approval provides the expense approval-rule evaluation engine.

PURPOSE:
  Given an expense (amount, currency, submitter) and the company's configured
  approval rules, decide whether the expense is approved, rejected or still
  pending, and which approver(s) must act next.

KEY CONCEPTS IN THIS FILE (types.go):
  - Money:    A decimal amount in an ISO currency
  - Expense:  The thing being approved, with its append-only decision history
  - Decision: One approver's action on one gate
  - Status / Stage: Public status and the state machine's internal stage

DESIGN PRINCIPLES:
  1. Precision: decimal.Decimal everywhere money is touched
  2. Purity: status is derived from (rule snapshot, history), never set
     directly except by an admin override, which is itself a Decision
  3. Type Safety: distinct ID types for expenses, rules and employees

SEE ALSO:
  - rule.go:         ApprovalRule and its configuration variants
  - evaluator.go:    Per-variant verdicts
  - statemachine.go: Replay of history into a Stage
  - engine.go:       Submit / RecordDecision / OverrideStatus
*/
package approval

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type ExpenseID string
type RuleID string
type EmployeeID string
type CompanyID string

// OverrideApprover is the reserved approver marker recorded on admin overrides.
const OverrideApprover EmployeeID = "$override"

// =============================================================================
// MONEY
// =============================================================================

// Currency is an ISO-4217 code such as "USD".
type Currency string

// NewCurrency normalizes s to upper case.
func NewCurrency(s string) Currency {
	return Currency(strings.ToUpper(strings.TrimSpace(s)))
}

// Valid reports whether c looks like a three-letter ISO code.
func (c Currency) Valid() bool {
	if len(c) != 3 {
		return false
	}
	for _, r := range c {
		if r < 'A' || r > 'Z' {
			return false
		}
	}
	return true
}

type Money struct {
	Amount   decimal.Decimal
	Currency Currency
}

func NewMoney(amount string, currency Currency) (Money, error) {
	d, err := decimal.NewFromString(amount)
	if err != nil {
		return Money{}, err
	}
	return Money{Amount: d, Currency: currency}, nil
}

// MustMoney is NewMoney for literals in tests and fixtures.
func MustMoney(amount string, currency Currency) Money {
	m, err := NewMoney(amount, currency)
	if err != nil {
		panic(err)
	}
	return m
}

func (m Money) String() string { return m.Amount.StringFixed(2) + " " + string(m.Currency) }

func (m Money) IsZero() bool { return m.Amount.IsZero() }

// =============================================================================
// STATUS AND STAGE
// =============================================================================

// Status is the externally visible expense status.
type Status string

const (
	StatusDraft           Status = "draft"
	StatusPendingApproval Status = "pending_approval"
	StatusApproved        Status = "approved"
	StatusRejected        Status = "rejected"
	StatusPaid            Status = "paid"
)

// IsTerminal reports whether no further decisions are accepted.
func (s Status) IsTerminal() bool {
	return s == StatusApproved || s == StatusRejected || s == StatusPaid
}

func (s Status) Valid() bool {
	switch s {
	case StatusDraft, StatusPendingApproval, StatusApproved, StatusRejected, StatusPaid:
		return true
	}
	return false
}

// Stage is the approval state machine's state.
type Stage string

const (
	StageDraft                 Stage = "draft"
	StagePendingManagerGate    Stage = "pending_manager_gate"
	StagePendingRuleEvaluation Stage = "pending_rule_evaluation"
	StageApproved              Stage = "approved"
	StageRejected              Stage = "rejected"
	StagePaid                  Stage = "paid"
)

// Status projects a stage onto the public status.
func (s Stage) Status() Status {
	switch s {
	case StagePendingManagerGate, StagePendingRuleEvaluation:
		return StatusPendingApproval
	case StageApproved:
		return StatusApproved
	case StageRejected:
		return StatusRejected
	case StagePaid:
		return StatusPaid
	default:
		return StatusDraft
	}
}

func (s Stage) IsTerminal() bool { return s.Status().IsTerminal() }

// stageFor is the inverse of Stage.Status for terminal and draft statuses.
func stageFor(s Status) Stage {
	switch s {
	case StatusApproved:
		return StageApproved
	case StatusRejected:
		return StageRejected
	case StatusPaid:
		return StagePaid
	case StatusPendingApproval:
		return StagePendingRuleEvaluation
	default:
		return StageDraft
	}
}

// =============================================================================
// DECISION
// =============================================================================

type Action string

const (
	ActionApproved Action = "approved"
	ActionRejected Action = "rejected"
)

func (a Action) Valid() bool { return a == ActionApproved || a == ActionRejected }

// Gate identifies which step of the flow a decision was cast for.
type Gate string

const (
	GateManager  Gate = "manager"
	GateRule     Gate = "rule"
	GateOverride Gate = "override"
	GatePayment  Gate = "payment"
)

// Decision is one element of an expense's approval history.
type Decision struct {
	ApproverID EmployeeID
	Gate       Gate
	Action     Action

	// Override decisions only: the forced status and the admin who forced it.
	// ApproverID is OverrideApprover for these.
	OverrideStatus Status
	ActorID        EmployeeID

	At      time.Time
	Comment string
}

// =============================================================================
// EXPENSE
// =============================================================================

type Expense struct {
	ID          ExpenseID
	CompanyID   CompanyID
	SubmitterID EmployeeID

	// ManagerID is the submitter's direct manager, captured at submit time.
	ManagerID EmployeeID

	Description string
	Category    string
	ExpenseDate time.Time
	PaidBy      string
	Remarks     string

	Amount           Money
	NormalizedAmount Money

	Status Status
	Stage  Stage

	// MatchedRule is an immutable snapshot taken at submit time. Edits to
	// the stored rule never reach an expense already in flight.
	MatchedRuleID RuleID
	MatchedRule   *ApprovalRule

	History []Decision

	// Version is the optimistic-concurrency token compared on save.
	Version int64

	SubmittedAt *time.Time
	ResolvedAt  *time.Time
	PaidAt      *time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Clone returns a deep copy so mutations can be discarded on error.
func (e *Expense) Clone() *Expense {
	c := *e
	c.History = append([]Decision(nil), e.History...)
	if e.MatchedRule != nil {
		r := e.MatchedRule.Clone()
		c.MatchedRule = &r
	}
	c.SubmittedAt = cloneTime(e.SubmittedAt)
	c.ResolvedAt = cloneTime(e.ResolvedAt)
	c.PaidAt = cloneTime(e.PaidAt)
	return &c
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

// ExpenseDraft is the caller-supplied content of an expense.
type ExpenseDraft struct {
	ID          ExpenseID // empty for a new expense
	CompanyID   CompanyID
	SubmitterID EmployeeID
	Description string
	Category    string
	ExpenseDate time.Time
	PaidBy      string
	Remarks     string
	Amount      Money
}

// =============================================================================
// DIRECTORY
// =============================================================================

type Role string

const (
	RoleAdmin    Role = "admin"
	RoleManager  Role = "manager"
	RoleEmployee Role = "employee"
)

type Employee struct {
	ID        EmployeeID
	CompanyID CompanyID
	Name      string
	Email     string
	Role      Role
	ManagerID EmployeeID
}

// Company holds the settings the engine needs from the admin settings page.
type Company struct {
	ID                CompanyID
	Name              string
	ReportingCurrency Currency
	MaxExpenseAmount  *decimal.Decimal
	Categories        []string
	RequireReceipt    bool
}
