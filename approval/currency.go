package approval

import (
	"errors"

	"github.com/shopspring/decimal"
)

// RateLookup returns the multiplier converting one unit of from into to.
// Implementations must be side-effect free from the engine's point of view.
type RateLookup interface {
	Rate(from, to Currency) (decimal.Decimal, error)
}

// RateLookupFunc adapts a function to RateLookup.
type RateLookupFunc func(from, to Currency) (decimal.Decimal, error)

func (f RateLookupFunc) Rate(from, to Currency) (decimal.Decimal, error) { return f(from, to) }

// moneyPlaces is the precision of every normalized amount.
const moneyPlaces = 2

// Normalize converts amount from one currency to another.
//
// Same-currency conversions return amount untouched and never call rates.
// Otherwise the product is rounded half-up to two places. A missing or
// non-positive rate is an error; there is no fallback rate.
func Normalize(amount decimal.Decimal, from, to Currency, rates RateLookup) (decimal.Decimal, error) {
	if from == to {
		return amount, nil
	}
	if rates == nil {
		return decimal.Zero, &RateUnavailableError{From: from, To: to}
	}
	rate, err := rates.Rate(from, to)
	if err != nil {
		var unavailable *RateUnavailableError
		if errors.As(err, &unavailable) {
			return decimal.Zero, err
		}
		return decimal.Zero, &RateUnavailableError{From: from, To: to, Err: err}
	}
	if !rate.IsPositive() {
		return decimal.Zero, &RateUnavailableError{From: from, To: to}
	}
	// Round is half away from zero, which is half-up for the non-negative
	// amounts expenses carry.
	return amount.Mul(rate).Round(moneyPlaces), nil
}

// NormalizeMoney is Normalize for Money values.
func NormalizeMoney(m Money, to Currency, rates RateLookup) (Money, error) {
	v, err := Normalize(m.Amount, m.Currency, to, rates)
	if err != nil {
		return Money{}, err
	}
	return Money{Amount: v, Currency: to}, nil
}
