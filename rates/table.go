/*
Package rates provides approval.RateLookup implementations.

SOURCES:
  Table   static rates, loaded from configuration (rates.table) or
          DefaultTable. Inverse pairs are derived when only one direction
          is configured.
  Cached  TTL cache in front of any RateLookup (patrickmn/go-cache), for
          lookups backed by a remote provider.

There is never a default rate of 1 for a missing pair: Rate returns an error
wrapping approval.ErrRateUnavailable and the caller decides what to do.

CONFIG FORMAT:
  rates:
    table:
      "USD:EUR": "0.85"
      "EUR:USD": "1.18"
*/
package rates

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/shopspring/decimal"
	"github.com/warp/expense-engine/approval"
)

// inversePlaces is the precision of a derived inverse rate.
const inversePlaces = 8

type pair struct {
	from approval.Currency
	to   approval.Currency
}

func (p pair) String() string { return string(p.from) + ":" + string(p.to) }

// Table is a static, concurrency-safe rate table.
type Table struct {
	mu    sync.RWMutex
	rates map[pair]decimal.Decimal
}

var _ approval.RateLookup = (*Table)(nil)

func NewTable() *Table {
	return &Table{rates: make(map[pair]decimal.Decimal)}
}

// Set stores the rate converting one unit of from into to. Non-positive
// rates are rejected.
func (t *Table) Set(from, to approval.Currency, rate decimal.Decimal) error {
	from, to = approval.NewCurrency(string(from)), approval.NewCurrency(string(to))
	if !from.Valid() || !to.Valid() {
		return fmt.Errorf("invalid currency pair %s:%s: %w", from, to, approval.ErrInvalidInput)
	}
	if !rate.IsPositive() {
		return fmt.Errorf("rate %s:%s must be positive, got %s: %w", from, to, rate, approval.ErrInvalidInput)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.rates[pair{from, to}] = rate
	return nil
}

// Rate returns the configured rate, or the inverse of the opposite pair.
func (t *Table) Rate(from, to approval.Currency) (decimal.Decimal, error) {
	if from == to {
		return decimal.NewFromInt(1), nil
	}

	t.mu.RLock()
	defer t.mu.RUnlock()

	if r, ok := t.rates[pair{from, to}]; ok {
		return r, nil
	}
	if r, ok := t.rates[pair{to, from}]; ok {
		return decimal.NewFromInt(1).DivRound(r, inversePlaces), nil
	}
	return decimal.Zero, &approval.RateUnavailableError{From: from, To: to}
}

// Pairs lists the configured pairs as "FROM:TO", sorted.
func (t *Table) Pairs() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]string, 0, len(t.rates))
	for p := range t.rates {
		out = append(out, p.String())
	}
	sort.Strings(out)
	return out
}

// Len returns the number of configured pairs.
func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.rates)
}

// =============================================================================
// LOADING
// =============================================================================

// FromMap builds a table from "FROM:TO" -> "rate" entries, the shape viper
// decodes the rates.table key into.
func FromMap(entries map[string]string) (*Table, error) {
	t := NewTable()
	for key, value := range entries {
		from, to, ok := strings.Cut(key, ":")
		if !ok {
			return nil, fmt.Errorf("rate key %q must look like FROM:TO: %w", key, approval.ErrInvalidInput)
		}
		rate, err := decimal.NewFromString(strings.TrimSpace(value))
		if err != nil {
			return nil, fmt.Errorf("rate %q for %s: %w", value, key, approval.ErrInvalidInput)
		}
		if err := t.Set(approval.Currency(from), approval.Currency(to), rate); err != nil {
			return nil, err
		}
	}
	return t, nil
}

// DefaultTable returns the demo rates used when no table is configured.
func DefaultTable() *Table {
	t, err := FromMap(defaultRates)
	if err != nil {
		panic(err)
	}
	return t
}

var defaultRates = map[string]string{
	"USD:EUR": "0.85", "USD:GBP": "0.73", "USD:INR": "74.5", "USD:JPY": "110", "USD:AUD": "1.35", "USD:CAD": "1.25",
	"EUR:USD": "1.18", "EUR:GBP": "0.86", "EUR:INR": "87.8", "EUR:JPY": "129", "EUR:AUD": "1.59", "EUR:CAD": "1.47",
	"GBP:USD": "1.37", "GBP:EUR": "1.16", "GBP:INR": "102", "GBP:JPY": "150", "GBP:AUD": "1.85", "GBP:CAD": "1.71",
	"INR:USD": "0.013", "INR:EUR": "0.011", "INR:GBP": "0.0098", "INR:JPY": "1.48", "INR:AUD": "0.018", "INR:CAD": "0.017",
	"JPY:USD": "0.009", "JPY:EUR": "0.0078", "JPY:GBP": "0.0067", "JPY:INR": "0.68", "JPY:AUD": "0.012", "JPY:CAD": "0.011",
	"AUD:USD": "0.74", "AUD:EUR": "0.63", "AUD:GBP": "0.54", "AUD:INR": "55.2", "AUD:JPY": "81.5", "AUD:CAD": "0.93",
	"CAD:USD": "0.80", "CAD:EUR": "0.68", "CAD:GBP": "0.58", "CAD:INR": "59.6", "CAD:JPY": "88", "CAD:AUD": "1.08",
}
