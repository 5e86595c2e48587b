/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the approval domain model from the external API contract:
  - Decimal amounts travel as strings, never floats
  - Dates are "2006-01-02", timestamps RFC 3339
  - Rules use factory.RuleJSON, the same shape the database stores

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

TYPES:
  Expenses:
    ExpenseDTO, DecisionDTO, ExpenseRequest

  Decisions:
    DecisionRequest, OverrideRequest, PayRequest,
    BulkDecisionRequest, BulkResultDTO

  Directory:
    CompanyDTO, EmployeeDTO

  Stats:
    StatsDTO, StatusTotalDTO

  Scenarios:
    ScenarioDTO, LoadScenarioRequest

VALIDATION:
  Request types carry go-playground/validator tags. Handlers call
  decodeAndValidate, which rejects a body that fails them with 400 before
  any domain code runs.

SEE ALSO:
  - handlers.go: Uses these types
  - factory/rule.go: RuleJSON type
*/
package api

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/expense-engine/approval"
	"github.com/warp/expense-engine/factory"
)

const dateLayout = "2006-01-02"

// =============================================================================
// EXPENSES
// =============================================================================

// ExpenseDTO represents an expense in API responses.
type ExpenseDTO struct {
	ID                 string            `json:"id"`
	CompanyID          string            `json:"company_id"`
	SubmitterID        string            `json:"submitter_id"`
	ManagerID          string            `json:"manager_id,omitempty"`
	Description        string            `json:"description"`
	Category           string            `json:"category"`
	ExpenseDate        string            `json:"expense_date,omitempty"`
	PaidBy             string            `json:"paid_by,omitempty"`
	Remarks            string            `json:"remarks,omitempty"`
	Amount             string            `json:"amount"`
	Currency           string            `json:"currency"`
	NormalizedAmount   string            `json:"normalized_amount,omitempty"`
	NormalizedCurrency string            `json:"normalized_currency,omitempty"`
	Status             string            `json:"status"`
	Stage              string            `json:"stage"`
	CurrentGate        string            `json:"current_gate,omitempty"`
	WaitingOn          []string          `json:"waiting_on"`
	MatchedRuleID      string            `json:"matched_rule_id,omitempty"`
	MatchedRule        *factory.RuleJSON `json:"matched_rule,omitempty"`
	History            []DecisionDTO     `json:"history"`
	Version            int64             `json:"version"`
	SubmittedAt        string            `json:"submitted_at,omitempty"`
	ResolvedAt         string            `json:"resolved_at,omitempty"`
	PaidAt             string            `json:"paid_at,omitempty"`
	CreatedAt          string            `json:"created_at"`
	UpdatedAt          string            `json:"updated_at"`
}

// DecisionDTO is one entry of an expense's approval history.
type DecisionDTO struct {
	ApproverID     string `json:"approver_id"`
	Gate           string `json:"gate"`
	Action         string `json:"action"`
	OverrideStatus string `json:"override_status,omitempty"`
	ActorID        string `json:"actor_id,omitempty"`
	At             string `json:"at"`
	Comment        string `json:"comment,omitempty"`
}

// ExpenseRequest is the body of both draft saves and submissions.
type ExpenseRequest struct {
	ID          string `json:"id"`
	CompanyID   string `json:"company_id"`
	SubmitterID string `json:"submitter_id" validate:"required"`
	Description string `json:"description" validate:"max=500"`
	Category    string `json:"category"`
	ExpenseDate string `json:"expense_date" validate:"omitempty,datetime=2006-01-02"`
	PaidBy      string `json:"paid_by"`
	Remarks     string `json:"remarks"`
	Amount      string `json:"amount" validate:"required"`
	Currency    string `json:"currency" validate:"required,len=3,alpha"`
}

// Draft converts the request into an approval.ExpenseDraft.
func (r ExpenseRequest) Draft() (approval.ExpenseDraft, error) {
	amount, err := approval.NewMoney(strings.TrimSpace(r.Amount), approval.NewCurrency(r.Currency))
	if err != nil {
		return approval.ExpenseDraft{}, fmt.Errorf("amount %q: %w", r.Amount, approval.ErrInvalidInput)
	}
	var date time.Time
	if r.ExpenseDate != "" {
		if date, err = time.Parse(dateLayout, r.ExpenseDate); err != nil {
			return approval.ExpenseDraft{}, fmt.Errorf("expense_date %q: %w", r.ExpenseDate, approval.ErrInvalidInput)
		}
	}
	return approval.ExpenseDraft{
		ID:          approval.ExpenseID(r.ID),
		CompanyID:   approval.CompanyID(r.CompanyID),
		SubmitterID: approval.EmployeeID(r.SubmitterID),
		Description: r.Description,
		Category:    r.Category,
		ExpenseDate: date,
		PaidBy:      r.PaidBy,
		Remarks:     r.Remarks,
		Amount:      amount,
	}, nil
}

// =============================================================================
// DECISIONS
// =============================================================================

type DecisionRequest struct {
	ApproverID string `json:"approver_id" validate:"required"`
	Action     string `json:"action" validate:"required,oneof=approved rejected"`
	Comment    string `json:"comment"`
}

type OverrideRequest struct {
	AdminID string `json:"admin_id" validate:"required"`
	Status  string `json:"status" validate:"required,oneof=approved rejected paid pending_approval"`
	Comment string `json:"comment"`
}

type PayRequest struct {
	ActorID string `json:"actor_id" validate:"required"`
}

// BulkDecisionRequest applies one action to many expenses.
type BulkDecisionRequest struct {
	ApproverID string   `json:"approver_id" validate:"required"`
	ExpenseIDs []string `json:"expense_ids" validate:"required,min=1,dive,required"`
	Action     string   `json:"action" validate:"required,oneof=approved rejected"`
	Comment    string   `json:"comment"`
}

// BulkResultDTO is the per-item outcome of a bulk decision.
type BulkResultDTO struct {
	ExpenseID string      `json:"expense_id"`
	OK        bool        `json:"ok"`
	Expense   *ExpenseDTO `json:"expense,omitempty"`
	Error     string      `json:"error,omitempty"`
}

// =============================================================================
// DIRECTORY
// =============================================================================

type CompanyDTO struct {
	ID                string   `json:"id"`
	Name              string   `json:"name" validate:"required"`
	ReportingCurrency string   `json:"reporting_currency" validate:"required,len=3,alpha"`
	MaxExpenseAmount  *string  `json:"max_expense_amount,omitempty"`
	Categories        []string `json:"categories"`
	RequireReceipt    bool     `json:"require_receipt"`
}

type EmployeeDTO struct {
	ID        string `json:"id"`
	CompanyID string `json:"company_id" validate:"required"`
	Name      string `json:"name" validate:"required"`
	Email     string `json:"email" validate:"omitempty,email"`
	Role      string `json:"role" validate:"required,oneof=admin manager employee"`
	ManagerID string `json:"manager_id,omitempty"`
}

// =============================================================================
// STATS
// =============================================================================

type StatusTotalDTO struct {
	Count  int    `json:"count"`
	Amount string `json:"amount"`
}

// StatsDTO is a dashboard summary; amounts are in Currency.
type StatsDTO struct {
	CompanyID string                    `json:"company_id"`
	Currency  string                    `json:"currency"`
	Count     int                       `json:"count"`
	Total     string                    `json:"total"`
	ByStatus  map[string]StatusTotalDTO `json:"by_status"`
}

// =============================================================================
// SCENARIOS
// =============================================================================

type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

type LoadScenarioRequest struct {
	ScenarioID string `json:"scenario_id" validate:"required"`
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
	Field   string `json:"field,omitempty"`
}

// =============================================================================
// CONVERSIONS
// =============================================================================

func toExpenseDTO(e *approval.Expense, rules *factory.RuleFactory) ExpenseDTO {
	dto := ExpenseDTO{
		ID:            string(e.ID),
		CompanyID:     string(e.CompanyID),
		SubmitterID:   string(e.SubmitterID),
		ManagerID:     string(e.ManagerID),
		Description:   e.Description,
		Category:      e.Category,
		PaidBy:        e.PaidBy,
		Remarks:       e.Remarks,
		Amount:        e.Amount.Amount.StringFixed(2),
		Currency:      string(e.Amount.Currency),
		Status:        string(e.Status),
		Stage:         string(e.Stage),
		WaitingOn:     []string{},
		MatchedRuleID: string(e.MatchedRuleID),
		History:       make([]DecisionDTO, len(e.History)),
		Version:       e.Version,
		SubmittedAt:   formatTimePtr(e.SubmittedAt),
		ResolvedAt:    formatTimePtr(e.ResolvedAt),
		PaidAt:        formatTimePtr(e.PaidAt),
		CreatedAt:     e.CreatedAt.Format(time.RFC3339),
		UpdatedAt:     e.UpdatedAt.Format(time.RFC3339),
	}
	if !e.ExpenseDate.IsZero() {
		dto.ExpenseDate = e.ExpenseDate.Format(dateLayout)
	}
	if e.NormalizedAmount.Currency != "" {
		dto.NormalizedAmount = e.NormalizedAmount.Amount.StringFixed(2)
		dto.NormalizedCurrency = string(e.NormalizedAmount.Currency)
	}
	if e.MatchedRule != nil {
		rj := rules.ToJSON(*e.MatchedRule)
		dto.MatchedRule = &rj
	}
	if !e.Status.IsTerminal() && e.Status != approval.StatusDraft {
		gate, _ := approval.CurrentGate(e)
		dto.CurrentGate = string(gate)
		for _, id := range approval.Waiting(e) {
			dto.WaitingOn = append(dto.WaitingOn, string(id))
		}
	}
	for i, d := range e.History {
		dto.History[i] = DecisionDTO{
			ApproverID:     string(d.ApproverID),
			Gate:           string(d.Gate),
			Action:         string(d.Action),
			OverrideStatus: string(d.OverrideStatus),
			ActorID:        string(d.ActorID),
			At:             d.At.Format(time.RFC3339),
			Comment:        d.Comment,
		}
	}
	return dto
}

func toExpenseDTOs(es []*approval.Expense, rules *factory.RuleFactory) []ExpenseDTO {
	dtos := make([]ExpenseDTO, len(es))
	for i, e := range es {
		dtos[i] = toExpenseDTO(e, rules)
	}
	return dtos
}

func toStatsDTO(s approval.Stats) StatsDTO {
	dto := StatsDTO{
		CompanyID: string(s.CompanyID),
		Currency:  string(s.Currency),
		Count:     s.Count,
		Total:     s.Total.StringFixed(2),
		ByStatus:  make(map[string]StatusTotalDTO, len(s.ByStatus)),
	}
	for status, t := range s.ByStatus {
		dto.ByStatus[string(status)] = StatusTotalDTO{Count: t.Count, Amount: t.Amount.StringFixed(2)}
	}
	return dto
}

func toCompanyDTO(c *approval.Company) CompanyDTO {
	dto := CompanyDTO{
		ID:                string(c.ID),
		Name:              c.Name,
		ReportingCurrency: string(c.ReportingCurrency),
		Categories:        append([]string{}, c.Categories...),
		RequireReceipt:    c.RequireReceipt,
	}
	if c.MaxExpenseAmount != nil {
		s := c.MaxExpenseAmount.StringFixed(2)
		dto.MaxExpenseAmount = &s
	}
	return dto
}

func (d CompanyDTO) toCompany() (approval.Company, error) {
	c := approval.Company{
		ID:                approval.CompanyID(d.ID),
		Name:              d.Name,
		ReportingCurrency: approval.NewCurrency(d.ReportingCurrency),
		Categories:        d.Categories,
		RequireReceipt:    d.RequireReceipt,
	}
	if d.MaxExpenseAmount != nil && strings.TrimSpace(*d.MaxExpenseAmount) != "" {
		v, err := decimal.NewFromString(strings.TrimSpace(*d.MaxExpenseAmount))
		if err != nil || v.IsNegative() {
			return approval.Company{}, fmt.Errorf("max_expense_amount %q: %w", *d.MaxExpenseAmount, approval.ErrInvalidInput)
		}
		c.MaxExpenseAmount = &v
	}
	return c, nil
}

func toEmployeeDTO(e approval.Employee) EmployeeDTO {
	return EmployeeDTO{
		ID:        string(e.ID),
		CompanyID: string(e.CompanyID),
		Name:      e.Name,
		Email:     e.Email,
		Role:      string(e.Role),
		ManagerID: string(e.ManagerID),
	}
}

func (d EmployeeDTO) toEmployee() approval.Employee {
	return approval.Employee{
		ID:        approval.EmployeeID(d.ID),
		CompanyID: approval.CompanyID(d.CompanyID),
		Name:      d.Name,
		Email:     d.Email,
		Role:      approval.Role(d.Role),
		ManagerID: approval.EmployeeID(d.ManagerID),
	}
}

func formatTimePtr(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.Format(time.RFC3339)
}
