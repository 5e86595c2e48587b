package approval

import (
	"github.com/shopspring/decimal"
)

// MatchRule selects the rule that applies to an expense amount.
//
// Only active rules are considered. The amount is normalized into each
// rule's threshold currency and the rule applies when it meets or exceeds
// the threshold (a rule without a threshold always applies). Of the rules
// that apply, the one with the highest threshold wins, ranked in the
// company currency; ties go to the lowest Seq.
//
// A missing rate means the threshold cannot be evaluated. That is reported
// as a *ConfigurationError wrapping ErrRateUnavailable.
//
// ok is false when no rule applies; the caller falls back to FallbackRule.
func MatchRule(amount Money, company Currency, rules []ApprovalRule, rates RateLookup) (rule ApprovalRule, ok bool, err error) {
	var (
		best     ApprovalRule
		bestRank decimal.Decimal
		found    bool
	)

	for _, r := range rules {
		if !r.IsActive {
			continue
		}
		currency := r.ThresholdCurrency(company)
		threshold := r.ThresholdValue()

		normalized, err := Normalize(amount.Amount, amount.Currency, currency, rates)
		if err != nil {
			return ApprovalRule{}, false, &ConfigurationError{
				RuleID: r.ID, Field: "currency", Reason: "cannot evaluate threshold", Err: err,
			}
		}
		if normalized.LessThan(threshold) {
			continue
		}

		rank, err := Normalize(threshold, currency, company, rates)
		if err != nil {
			return ApprovalRule{}, false, &ConfigurationError{
				RuleID: r.ID, Field: "threshold", Reason: "cannot rank threshold", Err: err,
			}
		}

		if !found || rank.GreaterThan(bestRank) || (rank.Equal(bestRank) && r.Seq < best.Seq) {
			best, bestRank, found = r, rank, true
		}
	}

	return best, found, nil
}
