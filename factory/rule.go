/*
Package factory provides JSON to Go approval rule conversion.

PURPOSE:
  Converts JSON rule definitions (as posted by the admin "Approval Rules"
  page and as stored in the database) into approval.ApprovalRule values, and
  back. The JSON is a flat object with a "type" discriminator; the Go side is
  the closed approval.RuleConfig union.

JSON SCHEMA:
  {
    "id": "rule-hybrid",
    "company_id": "acme",
    "name": "Hybrid Emergency Approval",
    "type": "hybrid",                      // sequential | percentage | specific | hybrid
    "is_active": true,
    "threshold": "10000",                  // optional decimal string
    "currency": "USD",                     // optional, defaults to company currency
    "require_manager_approval": true,
    "steps": [{"approver_id": "u1", "order": 1}],   // sequential
    "approvers": ["u1", "u2", "u3", "u4"],           // percentage / hybrid
    "percentage": 75,                                // percentage / hybrid
    "specific_approver_id": "u1"                     // specific / hybrid
  }

VALIDATION:
  Shape errors (unknown type, unparsable threshold) are reported here as
  *approval.ConfigurationError. Semantic checks (empty approver set,
  percentage range) belong to approval.ApprovalRule.Validate and run when
  the engine saves the rule.

SEE ALSO:
  - approval/rule.go: ApprovalRule and RuleConfig
  - store/sqlite:     stores RuleJSON in rules.config_json
*/
package factory

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"github.com/warp/expense-engine/approval"
)

var validate = validator.New()

// =============================================================================
// JSON SCHEMA TYPES
// =============================================================================

// RuleJSON is the JSON representation of an approval rule.
type RuleJSON struct {
	ID                     string     `json:"id"`
	CompanyID              string     `json:"company_id"`
	Name                   string     `json:"name"`
	Description            string     `json:"description,omitempty"`
	Type                   string     `json:"type" validate:"required,oneof=sequential percentage specific hybrid"`
	IsActive               bool       `json:"is_active"`
	Threshold              *string    `json:"threshold,omitempty"`
	Currency               string     `json:"currency,omitempty"`
	RequireManagerApproval bool       `json:"require_manager_approval"`
	Steps                  []StepJSON `json:"steps,omitempty"`
	Approvers              []string   `json:"approvers,omitempty"`
	Percentage             int        `json:"percentage,omitempty"`
	SpecificApproverID     string     `json:"specific_approver_id,omitempty"`
	Seq                    int64      `json:"seq,omitempty"`
	CreatedAt              string     `json:"created_at,omitempty"`
	UpdatedAt              string     `json:"updated_at,omitempty"`
}

// StepJSON is one sequential step. Steps are ordered by Order, then by
// position in the array.
type StepJSON struct {
	ApproverID string `json:"approver_id"`
	Order      int    `json:"order,omitempty"`
}

// =============================================================================
// RULE FACTORY
// =============================================================================

// RuleFactory converts JSON rules to Go structs.
type RuleFactory struct{}

func NewRuleFactory() *RuleFactory {
	return &RuleFactory{}
}

// ParseRule parses a JSON string into an ApprovalRule.
func (f *RuleFactory) ParseRule(jsonStr string) (approval.ApprovalRule, error) {
	var rj RuleJSON
	if err := json.Unmarshal([]byte(jsonStr), &rj); err != nil {
		return approval.ApprovalRule{}, fmt.Errorf("failed to parse rule JSON: %w", err)
	}
	return f.FromJSON(rj)
}

// FromJSON converts RuleJSON to approval.ApprovalRule.
func (f *RuleFactory) FromJSON(rj RuleJSON) (approval.ApprovalRule, error) {
	id := approval.RuleID(rj.ID)
	if err := validate.Struct(rj); err != nil {
		return approval.ApprovalRule{}, &approval.ConfigurationError{
			RuleID: id, Field: "type", Reason: fmt.Sprintf("must be one of sequential, percentage, specific, hybrid (got %q)", rj.Type),
		}
	}

	rule := approval.ApprovalRule{
		ID:                     id,
		CompanyID:              approval.CompanyID(rj.CompanyID),
		Name:                   rj.Name,
		Description:            rj.Description,
		IsActive:               rj.IsActive,
		Currency:               approval.NewCurrency(rj.Currency),
		RequireManagerApproval: rj.RequireManagerApproval,
		Seq:                    rj.Seq,
		CreatedAt:              parseTime(rj.CreatedAt),
		UpdatedAt:              parseTime(rj.UpdatedAt),
	}

	if rj.Threshold != nil && strings.TrimSpace(*rj.Threshold) != "" {
		t, err := decimal.NewFromString(strings.TrimSpace(*rj.Threshold))
		if err != nil {
			return approval.ApprovalRule{}, &approval.ConfigurationError{
				RuleID: id, Field: "threshold", Reason: fmt.Sprintf("%q is not a decimal", *rj.Threshold),
			}
		}
		rule.Threshold = &t
	}

	switch rj.Type {
	case "sequential":
		rule.Config = approval.Sequential{Steps: parseSteps(rj.Steps)}
	case "percentage":
		rule.Config = approval.Percentage{Approvers: toRefs(rj.Approvers), Required: rj.Percentage}
	case "specific":
		rule.Config = approval.SpecificApprover{Approver: approval.ApproverRef(rj.SpecificApproverID)}
	case "hybrid":
		var h approval.Hybrid
		if len(rj.Approvers) > 0 || rj.Percentage != 0 {
			h.Percentage = &approval.Percentage{Approvers: toRefs(rj.Approvers), Required: rj.Percentage}
		}
		if rj.SpecificApproverID != "" {
			h.Specific = &approval.SpecificApprover{Approver: approval.ApproverRef(rj.SpecificApproverID)}
		}
		rule.Config = h
	}

	return rule, nil
}

// ToJSON converts an ApprovalRule to RuleJSON.
func (f *RuleFactory) ToJSON(rule approval.ApprovalRule) RuleJSON {
	rj := RuleJSON{
		ID:                     string(rule.ID),
		CompanyID:              string(rule.CompanyID),
		Name:                   rule.Name,
		Description:            rule.Description,
		IsActive:               rule.IsActive,
		Currency:               string(rule.Currency),
		RequireManagerApproval: rule.RequireManagerApproval,
		Seq:                    rule.Seq,
		CreatedAt:              formatTime(rule.CreatedAt),
		UpdatedAt:              formatTime(rule.UpdatedAt),
	}
	if rule.Threshold != nil {
		s := rule.Threshold.String()
		rj.Threshold = &s
	}

	switch c := rule.Config.(type) {
	case approval.Sequential:
		rj.Type = "sequential"
		for i, ref := range c.Steps {
			rj.Steps = append(rj.Steps, StepJSON{ApproverID: string(ref), Order: i + 1})
		}
	case approval.Percentage:
		rj.Type = "percentage"
		rj.Approvers = fromRefs(c.Approvers)
		rj.Percentage = c.Required
	case approval.SpecificApprover:
		rj.Type = "specific"
		rj.SpecificApproverID = string(c.Approver)
	case approval.Hybrid:
		rj.Type = "hybrid"
		if c.Percentage != nil {
			rj.Approvers = fromRefs(c.Percentage.Approvers)
			rj.Percentage = c.Percentage.Required
		}
		if c.Specific != nil {
			rj.SpecificApproverID = string(c.Specific.Approver)
		}
	}
	return rj
}

// MarshalRule renders rule as a JSON string.
func (f *RuleFactory) MarshalRule(rule approval.ApprovalRule) (string, error) {
	b, err := json.Marshal(f.ToJSON(rule))
	if err != nil {
		return "", fmt.Errorf("failed to marshal rule: %w", err)
	}
	return string(b), nil
}

// =============================================================================
// PARSING HELPERS
// =============================================================================

func parseSteps(steps []StepJSON) []approval.ApproverRef {
	ordered := append([]StepJSON(nil), steps...)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].Order < ordered[j].Order })

	refs := make([]approval.ApproverRef, len(ordered))
	for i, s := range ordered {
		refs[i] = approval.ApproverRef(s.ApproverID)
	}
	return refs
}

func toRefs(ids []string) []approval.ApproverRef {
	refs := make([]approval.ApproverRef, len(ids))
	for i, id := range ids {
		refs[i] = approval.ApproverRef(id)
	}
	return refs
}

func fromRefs(refs []approval.ApproverRef) []string {
	ids := make([]string, len(refs))
	for i, r := range refs {
		ids[i] = string(r)
	}
	return ids
}

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}
