package approval_test

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/expense-engine/approval"
)

func TestNormalize_SameCurrencySkipsLookup(t *testing.T) {
	// GIVEN: a lookup that fails the test when called
	calls := 0
	rates := approval.RateLookupFunc(func(from, to approval.Currency) (decimal.Decimal, error) {
		calls++
		return decimal.Zero, errors.New("should not be called")
	})

	// WHEN: normalizing USD into USD with more than two places
	got, err := approval.Normalize(decimal.RequireFromString("10.005"), "USD", "USD", rates)

	// THEN: the amount comes back untouched
	require.NoError(t, err)
	assert.Equal(t, "10.005", got.String())
	assert.Zero(t, calls)
}

func TestNormalize_RoundsHalfUp(t *testing.T) {
	tests := []struct {
		amount string
		want   string
	}{
		{"0.01", "0.01"},   // 0.005 -> 0.01
		{"10.01", "5.01"},  // 5.005 -> 5.01
		{"10.03", "5.02"},  // 5.015 -> 5.02
		{"99.99", "50"},    // 49.995 -> 50.00
		{"100", "50"},
	}
	for _, tt := range tests {
		got, err := approval.Normalize(decimal.RequireFromString(tt.amount), "USD", "GBP", testRates)
		require.NoError(t, err)
		assert.True(t, got.Equal(decimal.RequireFromString(tt.want)), "%s USD -> got %s GBP, want %s", tt.amount, got, tt.want)
	}
}

func TestNormalize_MissingRate(t *testing.T) {
	_, err := approval.Normalize(decimal.NewFromInt(10), "USD", "JPY", testRates)

	require.Error(t, err)
	assert.True(t, errors.Is(err, approval.ErrRateUnavailable))
	var rateErr *approval.RateUnavailableError
	require.ErrorAs(t, err, &rateErr)
	assert.Equal(t, approval.Currency("JPY"), rateErr.To)
}

func TestNormalize_NonPositiveRateIsUnavailable(t *testing.T) {
	zero := approval.RateLookupFunc(func(from, to approval.Currency) (decimal.Decimal, error) {
		return decimal.Zero, nil
	})

	_, err := approval.Normalize(decimal.NewFromInt(10), "USD", "EUR", zero)

	assert.ErrorIs(t, err, approval.ErrRateUnavailable)
}

func TestNormalize_ProviderFailureKeepsCause(t *testing.T) {
	// GIVEN: a provider that is down
	down := errors.New("rate provider: connection refused")
	failing := approval.RateLookupFunc(func(from, to approval.Currency) (decimal.Decimal, error) {
		return decimal.Zero, down
	})

	// WHEN: normalizing through it
	_, err := approval.Normalize(decimal.NewFromInt(10), "USD", "EUR", failing)

	// THEN: the error is still a rate failure and carries the cause
	assert.ErrorIs(t, err, approval.ErrRateUnavailable)
	assert.ErrorIs(t, err, down)
	var rateErr *approval.RateUnavailableError
	require.ErrorAs(t, err, &rateErr)
	assert.Equal(t, approval.Currency("EUR"), rateErr.To)
	assert.Contains(t, err.Error(), "connection refused")
}

func TestNormalize_NeverDefaultsToOne(t *testing.T) {
	_, err := approval.Normalize(decimal.NewFromInt(10), "USD", "EUR", nil)
	assert.ErrorIs(t, err, approval.ErrRateUnavailable)
}

func TestNormalize_RoundTripWithinACent(t *testing.T) {
	// GIVEN: reciprocal USD/EUR rates (0.8 and 1.25)
	for _, s := range []string{"0.01", "1", "12.34", "500", "999.99", "12345.67"} {
		x := decimal.RequireFromString(s)

		// WHEN: going USD -> EUR -> USD
		eur, err := approval.Normalize(x, "USD", "EUR", testRates)
		require.NoError(t, err)
		back, err := approval.Normalize(eur, "EUR", "USD", testRates)
		require.NoError(t, err)

		// THEN: the result is within 0.01 of the input
		assert.True(t, back.Sub(x).Abs().LessThanOrEqual(decimal.RequireFromString("0.01")), "%s -> %s -> %s", x, eur, back)
	}
}

func TestNormalizeMoney(t *testing.T) {
	got, err := approval.NormalizeMoney(usd("100"), "EUR", testRates)
	require.NoError(t, err)
	assert.Equal(t, "80.00 EUR", got.String())
}
