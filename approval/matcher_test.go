package approval_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/expense-engine/approval"
)

func matcherRule(id string, threshold *string, seq int64) approval.ApprovalRule {
	r := approval.ApprovalRule{
		ID:       approval.RuleID(id),
		Name:     id,
		IsActive: true,
		Config:   approval.SpecificApprover{Approver: approval.ApproverRef(cfo)},
		Seq:      seq,
	}
	if threshold != nil {
		r.Threshold = dec(*threshold)
	}
	return r
}

func str(s string) *string { return &s }

func TestMatchRule_HighestMetThresholdWins(t *testing.T) {
	// GIVEN: the four demo thresholds
	rules := []approval.ApprovalRule{
		matcherRule("sequential", str("1000"), 1),
		matcherRule("specific", str("5000"), 2),
		matcherRule("percentage", str("2000"), 3),
		matcherRule("hybrid", str("10000"), 4),
	}

	tests := []struct {
		amount string
		want   approval.RuleID
		ok     bool
	}{
		{"500", "", false},
		{"1000", "sequential", true},
		{"1999.99", "sequential", true},
		{"2500", "percentage", true},
		{"5000", "specific", true},
		{"25000", "hybrid", true},
	}
	for _, tt := range tests {
		t.Run(tt.amount, func(t *testing.T) {
			got, ok, err := approval.MatchRule(usd(tt.amount), "USD", rules, testRates)
			require.NoError(t, err)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got.ID)
		})
	}
}

func TestMatchRule_NoThresholdMatchesEverything(t *testing.T) {
	rules := []approval.ApprovalRule{
		matcherRule("big", str("1000"), 1),
		matcherRule("catch-all", nil, 2),
	}

	got, ok, err := approval.MatchRule(usd("50"), "USD", rules, testRates)

	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, approval.RuleID("catch-all"), got.ID)
}

func TestMatchRule_TiesGoToEarliest(t *testing.T) {
	rules := []approval.ApprovalRule{
		matcherRule("newer", str("100"), 7),
		matcherRule("older", str("100"), 3),
	}

	got, _, err := approval.MatchRule(usd("100"), "USD", rules, testRates)

	require.NoError(t, err)
	assert.Equal(t, approval.RuleID("older"), got.ID)
}

func TestMatchRule_SkipsInactive(t *testing.T) {
	inactive := matcherRule("off", str("10"), 1)
	inactive.IsActive = false

	_, ok, err := approval.MatchRule(usd("100"), "USD", []approval.ApprovalRule{inactive}, testRates)

	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMatchRule_ComparesInRuleCurrency(t *testing.T) {
	// GIVEN: a EUR 1000 threshold (USD 1250 at 1.25)
	eur := matcherRule("eur", str("1000"), 1)
	eur.Currency = "EUR"
	usdRule := matcherRule("usd", str("1200"), 2)

	// WHEN: 1300 USD is submitted (1040 EUR)
	got, ok, err := approval.MatchRule(usd("1300"), "USD", []approval.ApprovalRule{eur, usdRule}, testRates)

	// THEN: both apply; EUR 1000 ranks as USD 1250 and beats USD 1200
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, approval.RuleID("eur"), got.ID)

	// AND: 1240 USD (992 EUR) only meets the USD rule
	got, _, err = approval.MatchRule(usd("1240"), "USD", []approval.ApprovalRule{eur, usdRule}, testRates)
	require.NoError(t, err)
	assert.Equal(t, approval.RuleID("usd"), got.ID)
}

func TestMatchRule_MissingRateIsConfigurationError(t *testing.T) {
	jpy := matcherRule("jpy", str("100000"), 1)
	jpy.Currency = "JPY"

	_, _, err := approval.MatchRule(usd("100"), "USD", []approval.ApprovalRule{jpy}, testRates)

	require.Error(t, err)
	assert.True(t, errors.Is(err, approval.ErrConfiguration))
	assert.True(t, errors.Is(err, approval.ErrRateUnavailable))
	var cfgErr *approval.ConfigurationError
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, approval.RuleID("jpy"), cfgErr.RuleID)
}
