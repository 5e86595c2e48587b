package factory

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/expense-engine/approval"
)

func TestParseRule_Variants(t *testing.T) {
	f := NewRuleFactory()

	tests := []struct {
		name string
		json string
		want approval.RuleConfig
	}{
		{
			name: "sequential steps are ordered by order",
			json: `{"id":"r1","name":"Seq","type":"sequential","steps":[{"approver_id":"u-admin","order":2},{"approver_id":"$manager","order":1}]}`,
			want: approval.Sequential{Steps: []approval.ApproverRef{approval.ManagerRef, "u-admin"}},
		},
		{
			name: "percentage",
			json: `{"id":"r2","name":"Pct","type":"percentage","approvers":["a","b","c"],"percentage":60}`,
			want: approval.Percentage{Approvers: []approval.ApproverRef{"a", "b", "c"}, Required: 60},
		},
		{
			name: "specific",
			json: `{"id":"r3","name":"CFO","type":"specific","specific_approver_id":"u-cfo"}`,
			want: approval.SpecificApprover{Approver: "u-cfo"},
		},
		{
			name: "hybrid with both paths",
			json: `{"id":"r4","name":"Hyb","type":"hybrid","approvers":["a","b"],"percentage":75,"specific_approver_id":"u-cfo"}`,
			want: approval.Hybrid{
				Percentage: &approval.Percentage{Approvers: []approval.ApproverRef{"a", "b"}, Required: 75},
				Specific:   &approval.SpecificApprover{Approver: "u-cfo"},
			},
		},
		{
			name: "hybrid with only the specific path",
			json: `{"id":"r5","name":"Hyb","type":"hybrid","specific_approver_id":"u-cfo"}`,
			want: approval.Hybrid{Specific: &approval.SpecificApprover{Approver: "u-cfo"}},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rule, err := f.ParseRule(tt.json)

			require.NoError(t, err)
			assert.Equal(t, tt.want, rule.Config)
		})
	}
}

func TestParseRule_RuleFields(t *testing.T) {
	f := NewRuleFactory()

	rule, err := f.ParseRule(`{
		"id": "rule-std", "company_id": "acme", "name": "Standard", "type": "specific",
		"is_active": true, "threshold": " 1000.50 ", "currency": "eur",
		"require_manager_approval": true, "specific_approver_id": "u-cfo",
		"created_at": "2025-10-04T10:30:00Z"
	}`)

	require.NoError(t, err)
	assert.Equal(t, approval.RuleID("rule-std"), rule.ID)
	assert.Equal(t, approval.CompanyID("acme"), rule.CompanyID)
	assert.True(t, rule.IsActive)
	assert.True(t, rule.RequireManagerApproval)
	assert.Equal(t, approval.Currency("EUR"), rule.Currency)
	require.NotNil(t, rule.Threshold)
	assert.Equal(t, "1000.5", rule.Threshold.String())
	assert.Equal(t, time.Date(2025, 10, 4, 10, 30, 0, 0, time.UTC), rule.CreatedAt)
}

func TestParseRule_Errors(t *testing.T) {
	f := NewRuleFactory()

	t.Run("malformed json", func(t *testing.T) {
		_, err := f.ParseRule(`{"id":`)
		assert.Error(t, err)
	})

	t.Run("unknown type", func(t *testing.T) {
		_, err := f.ParseRule(`{"id":"r","name":"X","type":"round-robin"}`)

		var cfgErr *approval.ConfigurationError
		require.ErrorAs(t, err, &cfgErr)
		assert.Equal(t, "type", cfgErr.Field)
		assert.ErrorIs(t, err, approval.ErrConfiguration)
	})

	t.Run("missing type", func(t *testing.T) {
		_, err := f.ParseRule(`{"id":"r","name":"X"}`)
		assert.ErrorIs(t, err, approval.ErrConfiguration)
	})

	t.Run("bad threshold", func(t *testing.T) {
		_, err := f.ParseRule(`{"id":"r","name":"X","type":"specific","specific_approver_id":"a","threshold":"lots"}`)

		var cfgErr *approval.ConfigurationError
		require.ErrorAs(t, err, &cfgErr)
		assert.Equal(t, "threshold", cfgErr.Field)
	})
}

func TestMarshalRule_RoundTrip(t *testing.T) {
	f := NewRuleFactory()
	threshold, err := approval.NewMoney("10000", "USD")
	require.NoError(t, err)

	original := approval.ApprovalRule{
		ID:                     "rule-hybrid",
		CompanyID:              "acme",
		Name:                   "Hybrid Emergency Approval",
		IsActive:               true,
		Threshold:              &threshold.Amount,
		RequireManagerApproval: true,
		Config: approval.Hybrid{
			Percentage: &approval.Percentage{Approvers: []approval.ApproverRef{"u1", "u2", "u3", "u4"}, Required: 75},
			Specific:   &approval.SpecificApprover{Approver: "u1"},
		},
		Seq:       4,
		CreatedAt: time.Date(2025, 10, 4, 10, 30, 0, 0, time.UTC),
	}

	s, err := f.MarshalRule(original)
	require.NoError(t, err)
	assert.Contains(t, s, `"type":"hybrid"`)

	parsed, err := f.ParseRule(s)
	require.NoError(t, err)
	assert.Equal(t, original.Config, parsed.Config)
	assert.True(t, original.Threshold.Equal(*parsed.Threshold))
	assert.Equal(t, original.Seq, parsed.Seq)
	assert.Equal(t, original.CreatedAt, parsed.CreatedAt)
	assert.True(t, parsed.UpdatedAt.IsZero())
}

func TestToJSON_SequentialOrders(t *testing.T) {
	rj := NewRuleFactory().ToJSON(approval.ApprovalRule{
		ID: "r", Name: "Seq",
		Config: approval.Sequential{Steps: []approval.ApproverRef{"b", "a"}},
	})

	assert.Equal(t, "sequential", rj.Type)
	assert.Equal(t, []StepJSON{{ApproverID: "b", Order: 1}, {ApproverID: "a", Order: 2}}, rj.Steps)
	assert.Nil(t, rj.Threshold)
}
