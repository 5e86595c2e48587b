/*
rule.go - Approval rule definitions

PURPOSE:
  An ApprovalRule says when it applies (active flag, threshold, currency) and
  how an expense it applies to gets approved (its Config).

RULE VARIANTS (RuleConfig):
  Sequential       ordered steps, each approver in turn
  Percentage       a quorum of an approver set
  SpecificApprover one authoritative approver
  Hybrid           a Percentage path OR a SpecificApprover path

  RuleConfig is a closed set: its marker method is unexported, so only the
  four types in this file implement it and evaluator.go switches over them.

APPROVER REFERENCES:
  An ApproverRef is an employee ID or ManagerRef ("$manager"), which binds to
  the submitter's direct manager when the rule is attached to an expense.

VALIDATION:
  Structural checks run through go-playground/validator struct tags;
  directory checks (approver exists) run against a Directory. Both fail with
  *ConfigurationError before the rule is ever stored, so evaluation never
  sees a malformed rule.
*/
package approval

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
)

var validate = validator.New()

// ApproverRef names an approver inside a rule.
type ApproverRef string

// ManagerRef binds to the submitter's direct manager.
const ManagerRef ApproverRef = "$manager"

// FallbackRuleID identifies the synthesized manager-only rule used when no
// configured rule matches. It is never stored.
const FallbackRuleID RuleID = "fallback-manager"

type RuleKind string

const (
	KindSequential RuleKind = "sequential"
	KindPercentage RuleKind = "percentage"
	KindSpecific   RuleKind = "specific"
	KindHybrid     RuleKind = "hybrid"
)

// =============================================================================
// RULE CONFIG - closed sum type
// =============================================================================

type RuleConfig interface {
	Kind() RuleKind
	// Approvers returns every reference that may cast a rule decision.
	Approvers() []ApproverRef
	bind(manager EmployeeID) RuleConfig
	isRuleConfig()
}

type Sequential struct {
	Steps []ApproverRef `validate:"min=1,dive,required"`
}

type Percentage struct {
	Approvers []ApproverRef `validate:"min=1,unique,dive,required"`
	Required  int           `validate:"min=1,max=100"`
}

type SpecificApprover struct {
	Approver ApproverRef `validate:"required"`
}

// Hybrid closes as approved when either path approves. At least one path
// must be configured.
type Hybrid struct {
	Percentage *Percentage
	Specific   *SpecificApprover
}

func (Sequential) Kind() RuleKind       { return KindSequential }
func (Percentage) Kind() RuleKind       { return KindPercentage }
func (SpecificApprover) Kind() RuleKind { return KindSpecific }
func (Hybrid) Kind() RuleKind           { return KindHybrid }

func (Sequential) isRuleConfig()       {}
func (Percentage) isRuleConfig()       {}
func (SpecificApprover) isRuleConfig() {}
func (Hybrid) isRuleConfig()           {}

func (s Sequential) Approvers() []ApproverRef { return append([]ApproverRef(nil), s.Steps...) }

func (p Percentage) Approvers() []ApproverRef { return append([]ApproverRef(nil), p.Approvers...) }

func (s SpecificApprover) Approvers() []ApproverRef { return []ApproverRef{s.Approver} }

func (h Hybrid) Approvers() []ApproverRef {
	var refs []ApproverRef
	if h.Percentage != nil {
		refs = append(refs, h.Percentage.Approvers...)
	}
	if h.Specific != nil && !containsRef(refs, h.Specific.Approver) {
		refs = append(refs, h.Specific.Approver)
	}
	return refs
}

func (s Sequential) bind(m EmployeeID) RuleConfig {
	return Sequential{Steps: bindRefs(s.Steps, m)}
}

// bind drops refs that collapse onto the same employee once $manager is
// resolved, so each person counts once toward the quorum.
func (p Percentage) bind(m EmployeeID) RuleConfig {
	bound := bindRefs(p.Approvers, m)
	distinct := make([]ApproverRef, 0, len(bound))
	for _, r := range bound {
		if !containsRef(distinct, r) {
			distinct = append(distinct, r)
		}
	}
	return Percentage{Approvers: distinct, Required: p.Required}
}

func (s SpecificApprover) bind(m EmployeeID) RuleConfig {
	return SpecificApprover{Approver: bindRef(s.Approver, m)}
}

func (h Hybrid) bind(m EmployeeID) RuleConfig {
	var out Hybrid
	if h.Percentage != nil {
		p := h.Percentage.bind(m).(Percentage)
		out.Percentage = &p
	}
	if h.Specific != nil {
		s := h.Specific.bind(m).(SpecificApprover)
		out.Specific = &s
	}
	return out
}

func bindRef(r ApproverRef, m EmployeeID) ApproverRef {
	if r == ManagerRef && m != "" {
		return ApproverRef(m)
	}
	return r
}

func bindRefs(refs []ApproverRef, m EmployeeID) []ApproverRef {
	out := make([]ApproverRef, len(refs))
	for i, r := range refs {
		out[i] = bindRef(r, m)
	}
	return out
}

func containsRef(refs []ApproverRef, r ApproverRef) bool {
	for _, x := range refs {
		if x == r {
			return true
		}
	}
	return false
}

// =============================================================================
// APPROVAL RULE
// =============================================================================

type ApprovalRule struct {
	ID          RuleID
	CompanyID   CompanyID
	Name        string
	Description string
	IsActive    bool

	// Currency of Threshold. Empty means the company reporting currency.
	Currency Currency
	// Threshold is the minimum normalized amount; nil applies to all amounts.
	Threshold *decimal.Decimal

	// RequireManagerApproval puts a manager gate in front of Config.
	RequireManagerApproval bool

	Config RuleConfig

	// Seq is the creation order, assigned by the store; lower is older.
	Seq       int64
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Clone copies the rule. Configs are values, so a shallow copy of the
// interface plus the threshold pointer is enough.
func (r ApprovalRule) Clone() ApprovalRule {
	c := r
	if r.Threshold != nil {
		t := *r.Threshold
		c.Threshold = &t
	}
	if r.Config != nil {
		c.Config = r.Config.bind("")
	}
	return c
}

// ThresholdValue returns the threshold, treating nil as zero.
func (r ApprovalRule) ThresholdValue() decimal.Decimal {
	if r.Threshold == nil {
		return decimal.Zero
	}
	return *r.Threshold
}

// ThresholdCurrency returns the currency the threshold is expressed in.
func (r ApprovalRule) ThresholdCurrency(company Currency) Currency {
	if r.Currency == "" {
		return company
	}
	return r.Currency
}

// Bind returns a copy of the rule with ManagerRef resolved to manager.
func (r ApprovalRule) Bind(manager EmployeeID) ApprovalRule {
	c := r.Clone()
	if c.Config != nil {
		c.Config = c.Config.bind(manager)
	}
	return c
}

// FallbackRule is the synthesized rule for expenses no configured rule matches:
// the submitter's direct manager must approve.
func FallbackRule(company CompanyID) ApprovalRule {
	return ApprovalRule{
		ID:        FallbackRuleID,
		CompanyID: company,
		Name:      "Manager approval",
		IsActive:  true,
		Config:    Sequential{Steps: []ApproverRef{ManagerRef}},
	}
}

// =============================================================================
// VALIDATION
// =============================================================================

// Validate checks the rule's structure. It does not consult the directory.
func (r ApprovalRule) Validate() error {
	if strings.TrimSpace(r.Name) == "" {
		return &ConfigurationError{RuleID: r.ID, Field: "name", Reason: "is required"}
	}
	if r.Currency != "" && !r.Currency.Valid() {
		return &ConfigurationError{RuleID: r.ID, Field: "currency", Reason: fmt.Sprintf("%q is not an ISO currency code", r.Currency)}
	}
	if r.Threshold != nil && r.Threshold.IsNegative() {
		return &ConfigurationError{RuleID: r.ID, Field: "threshold", Reason: "must not be negative"}
	}
	if r.Config == nil {
		return &ConfigurationError{RuleID: r.ID, Field: "type", Reason: "is required"}
	}

	switch c := r.Config.(type) {
	case Sequential:
		return r.validateStruct("steps", c)
	case Percentage:
		return r.validateStruct("percentage", c)
	case SpecificApprover:
		return r.validateStruct("specific_approver", c)
	case Hybrid:
		if c.Percentage == nil && c.Specific == nil {
			return &ConfigurationError{RuleID: r.ID, Field: "hybrid", Reason: "needs a percentage or a specific approver path"}
		}
		if c.Percentage != nil {
			if err := r.validateStruct("hybrid.percentage", *c.Percentage); err != nil {
				return err
			}
		}
		if c.Specific != nil {
			if err := r.validateStruct("hybrid.specific_approver", *c.Specific); err != nil {
				return err
			}
		}
		return nil
	default:
		return &ConfigurationError{RuleID: r.ID, Field: "type", Reason: fmt.Sprintf("unknown rule type %T", c)}
	}
}

func (r ApprovalRule) validateStruct(field string, v any) error {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		return &ConfigurationError{
			RuleID: r.ID,
			Field:  field + "." + strings.ToLower(fe.Field()),
			Reason: describeTag(fe),
		}
	}
	return &ConfigurationError{RuleID: r.ID, Field: field, Reason: err.Error()}
}

func describeTag(fe validator.FieldError) string {
	switch fe.Tag() {
	case "min":
		if fe.Kind().String() == "slice" {
			return "needs at least " + fe.Param() + " approver"
		}
		return "must be at least " + fe.Param()
	case "max":
		return "must be at most " + fe.Param()
	case "unique":
		return "lists the same approver twice"
	case "required":
		return "is required"
	default:
		return "failed " + fe.Tag()
	}
}

// ValidateRule runs Validate and then checks every concrete approver
// reference against dir.
func ValidateRule(ctx context.Context, r ApprovalRule, dir Directory) error {
	if err := r.Validate(); err != nil {
		return err
	}
	if dir == nil {
		return nil
	}
	for _, ref := range r.Config.Approvers() {
		if ref == ManagerRef {
			continue
		}
		emp, err := dir.LoadEmployee(ctx, EmployeeID(ref))
		if err != nil {
			if IsNotFound(err) {
				return &ConfigurationError{RuleID: r.ID, Field: "approvers", Reason: fmt.Sprintf("approver %q does not exist", ref)}
			}
			return fmt.Errorf("failed to load approver %q: %w", ref, err)
		}
		if r.CompanyID != "" && emp.CompanyID != "" && emp.CompanyID != r.CompanyID {
			return &ConfigurationError{RuleID: r.ID, Field: "approvers", Reason: fmt.Sprintf("approver %q belongs to another company", ref)}
		}
	}
	return nil
}
