/*
handlers.go - HTTP API handlers for the expense approval engine

PURPOSE:
  Exposes the approval engine via REST API. Handles HTTP request/response,
  JSON serialization, and delegates to approval.Engine for every mutation.

ENDPOINTS:
  Expenses:
    GET    /api/expenses                  List (company_id, submitter_id, manager_id, status)
    POST   /api/expenses/drafts           Save a draft
    POST   /api/expenses                  Submit
    GET    /api/expenses/{id}             Read
    POST   /api/expenses/{id}/decisions   Approve or reject
    POST   /api/expenses/{id}/override    Admin override
    POST   /api/expenses/{id}/pay         Mark paid

  Approvals:
    POST   /api/approvals/bulk            Same decision on many expenses
    GET    /api/approvers/{id}/pending    Queue for one approver
    GET    /api/approvers/{id}/team       Direct reports' expenses

  Stats:
    GET    /api/stats                     Counts and totals per status

  Rules:
    GET    /api/rules?company_id=         List
    POST   /api/rules                     Create
    GET    /api/rules/{id}                Read
    PUT    /api/rules/{id}                Replace

  Directory:
    GET/PUT /api/companies/{id}
    GET/POST /api/employees, GET /api/employees/{id}

ARCHITECTURE:
  Handler struct holds all dependencies:
  - Engine: approval.Engine, the only writer of expenses and rules
  - Store:  SQLite repository, for listings and demo resets
  - Rules:  factory.RuleFactory for the rule JSON shape

ERROR HANDLING:
  Domain errors map to HTTP status in writeDomainError:
  - 400: invalid input, malformed body
  - 403: not an eligible approver, not an admin
  - 404: expense, rule, employee or company not found
  - 409: already terminal, invalid transition, concurrent modification
  - 422: rule configuration or missing exchange rate
  - 500: anything else

SECURITY NOTE:
  Actor IDs arrive in request bodies. Authentication is handled upstream.

SEE ALSO:
  - dto.go: Request/response data structures
  - scenarios.go: Demo data loaders
  - server.go: Router setup and middleware
*/
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/warp/expense-engine/approval"
	"github.com/warp/expense-engine/factory"
	"github.com/warp/expense-engine/store/sqlite"
)

var validate = validator.New()

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Engine *approval.Engine
	Store  *sqlite.Store
	Rules  *factory.RuleFactory
	Log    zerolog.Logger

	mu              sync.Mutex
	currentScenario string
}

// NewHandler creates a new handler over the given engine and store.
func NewHandler(engine *approval.Engine, store *sqlite.Store, log zerolog.Logger) *Handler {
	return &Handler{
		Engine: engine,
		Store:  store,
		Rules:  factory.NewRuleFactory(),
		Log:    log,
	}
}

// =============================================================================
// EXPENSE HANDLERS
// =============================================================================

// ListExpenses returns expenses filtered by query parameters.
// GET /api/expenses?company_id=acme&submitter_id=u1&status=pending_approval
func (h *Handler) ListExpenses(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	var filter approval.ExpenseFilter
	if v := q.Get("company_id"); v != "" {
		company := approval.CompanyID(v)
		filter.CompanyID = &company
	}
	if v := q.Get("submitter_id"); v != "" {
		submitter := approval.EmployeeID(v)
		filter.SubmitterID = &submitter
	}
	if v := q.Get("manager_id"); v != "" {
		mgr := approval.EmployeeID(v)
		filter.ManagerID = &mgr
	}
	statuses, ok := parseStatuses(w, r)
	if !ok {
		return
	}
	filter.Statuses = statuses

	expenses, err := h.Store.ListExpenses(r.Context(), filter)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toExpenseDTOs(expenses, h.Rules))
}

// SaveDraft creates or updates a draft expense.
// POST /api/expenses/drafts
func (h *Handler) SaveDraft(w http.ResponseWriter, r *http.Request) {
	var req ExpenseRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}
	draft, err := req.Draft()
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}

	e, err := h.Engine.SaveDraft(r.Context(), draft)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toExpenseDTO(e, h.Rules))
}

// SubmitExpense submits an expense (new, or an existing draft by id).
// POST /api/expenses
func (h *Handler) SubmitExpense(w http.ResponseWriter, r *http.Request) {
	var req ExpenseRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}
	draft, err := req.Draft()
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}

	e, err := h.Engine.Submit(r.Context(), draft)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toExpenseDTO(e, h.Rules))
}

// GetExpense returns one expense with its history and who it is waiting on.
// GET /api/expenses/{id}
func (h *Handler) GetExpense(w http.ResponseWriter, r *http.Request) {
	e, err := h.Engine.GetExpense(r.Context(), approval.ExpenseID(chi.URLParam(r, "id")))
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toExpenseDTO(e, h.Rules))
}

// RecordDecision records an approve/reject on the expense's current gate.
// POST /api/expenses/{id}/decisions
func (h *Handler) RecordDecision(w http.ResponseWriter, r *http.Request) {
	var req DecisionRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	e, err := h.Engine.RecordDecision(r.Context(),
		approval.ExpenseID(chi.URLParam(r, "id")),
		approval.EmployeeID(req.ApproverID),
		approval.Action(req.Action),
		req.Comment,
	)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toExpenseDTO(e, h.Rules))
}

// OverrideStatus forces an expense's status.
// POST /api/expenses/{id}/override
func (h *Handler) OverrideStatus(w http.ResponseWriter, r *http.Request) {
	var req OverrideRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	e, err := h.Engine.OverrideStatus(r.Context(),
		approval.ExpenseID(chi.URLParam(r, "id")),
		approval.EmployeeID(req.AdminID),
		approval.Status(req.Status),
		req.Comment,
	)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toExpenseDTO(e, h.Rules))
}

// MarkPaid moves an approved expense to paid.
// POST /api/expenses/{id}/pay
func (h *Handler) MarkPaid(w http.ResponseWriter, r *http.Request) {
	var req PayRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	e, err := h.Engine.MarkPaid(r.Context(), approval.ExpenseID(chi.URLParam(r, "id")), approval.EmployeeID(req.ActorID))
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toExpenseDTO(e, h.Rules))
}

// =============================================================================
// APPROVAL QUEUE HANDLERS
// =============================================================================

// BulkDecide applies one decision to many expenses. The response is always
// 200 with a per-item result; failures do not abort the batch.
// POST /api/approvals/bulk
func (h *Handler) BulkDecide(w http.ResponseWriter, r *http.Request) {
	var req BulkDecisionRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	ids := make([]approval.ExpenseID, len(req.ExpenseIDs))
	for i, id := range req.ExpenseIDs {
		ids[i] = approval.ExpenseID(id)
	}

	results := h.Engine.BulkDecide(r.Context(), approval.EmployeeID(req.ApproverID), ids, approval.Action(req.Action), req.Comment)

	dtos := make([]BulkResultDTO, len(results))
	for i, res := range results {
		dtos[i] = BulkResultDTO{ExpenseID: string(res.ExpenseID), OK: res.Err == nil}
		if res.Err != nil {
			dtos[i].Error = res.Err.Error()
			continue
		}
		dto := toExpenseDTO(res.Expense, h.Rules)
		dtos[i].Expense = &dto
	}
	writeJSON(w, http.StatusOK, dtos)
}

// PendingFor returns the expenses waiting on an approver.
// GET /api/approvers/{id}/pending?company_id=acme
func (h *Handler) PendingFor(w http.ResponseWriter, r *http.Request) {
	approver := approval.EmployeeID(chi.URLParam(r, "id"))
	company := approval.CompanyID(r.URL.Query().Get("company_id"))
	if company == "" {
		emp, err := h.Store.LoadEmployee(r.Context(), approver)
		if err != nil {
			h.writeDomainError(w, r, err)
			return
		}
		company = emp.CompanyID
	}

	expenses, err := h.Engine.PendingFor(r.Context(), company, approver)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toExpenseDTOs(expenses, h.Rules))
}

// TeamExpenses returns the submitted expenses of a manager's direct reports.
// GET /api/approvers/{id}/team?status=approved
func (h *Handler) TeamExpenses(w http.ResponseWriter, r *http.Request) {
	managerID := approval.EmployeeID(chi.URLParam(r, "id"))
	statuses, ok := parseStatuses(w, r)
	if !ok {
		return
	}

	expenses, err := h.Engine.TeamExpenses(r.Context(), managerID, statuses...)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toExpenseDTOs(expenses, h.Rules))
}

// =============================================================================
// STATS HANDLERS
// =============================================================================

// GetStats returns counts and reporting-currency totals per status.
// GET /api/stats?company_id=acme&manager_id=u-bob&since=2025-10-01
//
// With only manager_id, the company is the manager's.
func (h *Handler) GetStats(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	var filter approval.ExpenseFilter
	company := approval.CompanyID(q.Get("company_id"))
	if v := q.Get("manager_id"); v != "" {
		mgr := approval.EmployeeID(v)
		filter.ManagerID = &mgr
		if company == "" {
			emp, err := h.Store.LoadEmployee(r.Context(), mgr)
			if err != nil {
				h.writeDomainError(w, r, err)
				return
			}
			company = emp.CompanyID
		}
	}
	if company == "" {
		writeError(w, http.StatusBadRequest, "company_id or manager_id is required", nil)
		return
	}
	if v := q.Get("since"); v != "" {
		since, err := time.Parse(dateLayout, v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid since, expected YYYY-MM-DD", err)
			return
		}
		filter.SubmittedSince = &since
	}

	stats, err := h.Engine.Stats(r.Context(), company, filter)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toStatsDTO(stats))
}

// =============================================================================
// RULE HANDLERS
// =============================================================================

// ListRules returns all rules of a company in creation order.
// GET /api/rules?company_id=acme
func (h *Handler) ListRules(w http.ResponseWriter, r *http.Request) {
	company := r.URL.Query().Get("company_id")
	if company == "" {
		writeError(w, http.StatusBadRequest, "company_id is required", nil)
		return
	}

	rules, err := h.Store.ListRules(r.Context(), approval.CompanyID(company))
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	dtos := make([]factory.RuleJSON, len(rules))
	for i, rule := range rules {
		dtos[i] = h.Rules.ToJSON(rule)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetRule returns one rule.
// GET /api/rules/{id}
func (h *Handler) GetRule(w http.ResponseWriter, r *http.Request) {
	rule, err := h.Store.LoadRule(r.Context(), approval.RuleID(chi.URLParam(r, "id")))
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, h.Rules.ToJSON(rule))
}

// CreateRule creates a rule from its JSON definition.
// POST /api/rules
func (h *Handler) CreateRule(w http.ResponseWriter, r *http.Request) {
	var rj factory.RuleJSON
	if err := json.NewDecoder(r.Body).Decode(&rj); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	h.saveRule(w, r, rj, http.StatusCreated)
}

// UpdateRule replaces an existing rule. Expenses already submitted keep the
// snapshot they were submitted with.
// PUT /api/rules/{id}
func (h *Handler) UpdateRule(w http.ResponseWriter, r *http.Request) {
	var rj factory.RuleJSON
	if err := json.NewDecoder(r.Body).Decode(&rj); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	rj.ID = chi.URLParam(r, "id")
	if _, err := h.Store.LoadRule(r.Context(), approval.RuleID(rj.ID)); err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	h.saveRule(w, r, rj, http.StatusOK)
}

func (h *Handler) saveRule(w http.ResponseWriter, r *http.Request, rj factory.RuleJSON, status int) {
	rule, err := h.Rules.FromJSON(rj)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	saved, err := h.Engine.SaveRule(r.Context(), rule)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, status, h.Rules.ToJSON(saved))
}

// =============================================================================
// DIRECTORY HANDLERS
// =============================================================================

// GetCompany returns the company settings.
// GET /api/companies/{id}
func (h *Handler) GetCompany(w http.ResponseWriter, r *http.Request) {
	c, err := h.Store.LoadCompany(r.Context(), approval.CompanyID(chi.URLParam(r, "id")))
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toCompanyDTO(c))
}

// SaveCompany creates or replaces the company settings.
// PUT /api/companies/{id}
func (h *Handler) SaveCompany(w http.ResponseWriter, r *http.Request) {
	var req CompanyDTO
	if !decodeAndValidate(w, r, &req) {
		return
	}
	req.ID = chi.URLParam(r, "id")

	c, err := req.toCompany()
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	if err := h.Store.SaveCompany(r.Context(), c); err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toCompanyDTO(&c))
}

// ListEmployees returns a company's employees.
// GET /api/employees?company_id=acme
func (h *Handler) ListEmployees(w http.ResponseWriter, r *http.Request) {
	company := r.URL.Query().Get("company_id")
	if company == "" {
		writeError(w, http.StatusBadRequest, "company_id is required", nil)
		return
	}

	employees, err := h.Store.ListEmployees(r.Context(), approval.CompanyID(company))
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	dtos := make([]EmployeeDTO, len(employees))
	for i, e := range employees {
		dtos[i] = toEmployeeDTO(e)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetEmployee returns one employee.
// GET /api/employees/{id}
func (h *Handler) GetEmployee(w http.ResponseWriter, r *http.Request) {
	emp, err := h.Store.LoadEmployee(r.Context(), approval.EmployeeID(chi.URLParam(r, "id")))
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toEmployeeDTO(*emp))
}

// CreateEmployee adds an employee. The company and manager must exist.
// POST /api/employees
func (h *Handler) CreateEmployee(w http.ResponseWriter, r *http.Request) {
	var req EmployeeDTO
	if !decodeAndValidate(w, r, &req) {
		return
	}
	ctx := r.Context()

	if _, err := h.Store.LoadCompany(ctx, approval.CompanyID(req.CompanyID)); err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	if req.ManagerID != "" {
		mgr, err := h.Store.LoadEmployee(ctx, approval.EmployeeID(req.ManagerID))
		if err != nil {
			h.writeDomainError(w, r, err)
			return
		}
		if string(mgr.CompanyID) != req.CompanyID {
			writeError(w, http.StatusBadRequest, "Manager belongs to another company", nil)
			return
		}
	}
	if req.ID == "" {
		req.ID = uuid.NewString()
	}

	emp := req.toEmployee()
	if err := h.Store.SaveEmployee(ctx, emp); err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toEmployeeDTO(emp))
}

// =============================================================================
// HELPERS
// =============================================================================

// decodeAndValidate decodes the body into dst and runs its validator tags.
// It writes a 400 and returns false on failure.
// parseStatuses reads repeated ?status= parameters, writing a 400 for an
// unknown one.
func parseStatuses(w http.ResponseWriter, r *http.Request) ([]approval.Status, bool) {
	var out []approval.Status
	for _, s := range r.URL.Query()["status"] {
		status := approval.Status(s)
		if !status.Valid() {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("Unknown status %q", s), nil)
			return nil, false
		}
		out = append(out, status)
	}
	return out, true
}

func decodeAndValidate(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return false
	}
	if err := validate.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			writeJSON(w, http.StatusBadRequest, ErrorResponse{
				Error:   "Validation failed",
				Details: fmt.Sprintf("%s failed on %q", fe.Field(), fe.Tag()),
				Field:   fe.Field(),
			})
			return false
		}
		writeError(w, http.StatusBadRequest, "Validation failed", err)
		return false
	}
	return true
}

// statusFor maps an engine error to its HTTP status.
func statusFor(err error) int {
	switch {
	case errors.Is(err, approval.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, approval.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, approval.ErrNotEligibleApprover), errors.Is(err, approval.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, approval.ErrAlreadyTerminal),
		errors.Is(err, approval.ErrInvalidTransition),
		errors.Is(err, approval.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, approval.ErrConfiguration), errors.Is(err, approval.ErrRateUnavailable):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	resp := ErrorResponse{Error: http.StatusText(status), Details: err.Error()}

	var cfgErr *approval.ConfigurationError
	if errors.As(err, &cfgErr) {
		resp.Field = cfgErr.Field
	}

	if status == http.StatusInternalServerError {
		h.Log.Error().Err(err).Str("path", r.URL.Path).Msg("Request failed")
	} else {
		h.Log.Debug().Err(err).Int("status", status).Str("path", r.URL.Path).Msg("Request rejected")
	}
	writeJSON(w, status, resp)
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}
