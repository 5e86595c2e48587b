/*
errors.go - Error taxonomy for the approval engine

ERROR CATEGORIES:
  1. Configuration - bad rule definitions, rejected when the rule is saved
  2. Rates         - currency conversion cannot proceed
  3. Authorization - actor is not an eligible approver for the current gate
  4. State         - action arrives after resolution, or transition not allowed
  5. Store         - not found, concurrent write detected

USAGE:
  Callers branch with errors.Is on the sentinels and errors.As on the
  structured types when they need the details:

    if errors.Is(err, approval.ErrConflict) {
        // reload and retry
    }

All errors are recoverable by the caller; none are process-fatal.
*/
package approval

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrConfiguration is returned for malformed rules or rules that cannot
	// be evaluated against an expense (e.g. a threshold in an unknown currency).
	ErrConfiguration = errors.New("configuration error")

	// ErrRateUnavailable is returned when no conversion rate exists.
	ErrRateUnavailable = errors.New("rate unavailable")

	// ErrNotEligibleApprover is returned when the actor may not decide the current gate.
	ErrNotEligibleApprover = errors.New("not an eligible approver")

	// ErrAlreadyTerminal is returned for decisions on approved/rejected/paid expenses.
	ErrAlreadyTerminal = errors.New("expense already in terminal state")

	// ErrConflict is returned when the optimistic-concurrency token does not match.
	ErrConflict = errors.New("concurrent modification detected")

	// ErrNotFound is returned when an expense, rule, employee or company is missing.
	ErrNotFound = errors.New("not found")

	// ErrInvalidTransition is returned for lifecycle moves the state machine forbids
	// (submitting twice, paying an unapproved expense).
	ErrInvalidTransition = errors.New("invalid transition")

	// ErrInvalidInput is returned for malformed caller input.
	ErrInvalidInput = errors.New("invalid input")

	// ErrForbidden is returned when a non-admin attempts an admin-only action.
	ErrForbidden = errors.New("forbidden")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// ConfigurationError describes why a rule is unusable.
type ConfigurationError struct {
	RuleID RuleID
	Field  string
	Reason string
	Err    error // optional cause, e.g. a RateUnavailableError
}

func (e *ConfigurationError) Error() string {
	msg := "invalid rule"
	if e.RuleID != "" {
		msg += " " + string(e.RuleID)
	}
	if e.Field != "" {
		msg += ": " + e.Field
	}
	msg += ": " + e.Reason
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ConfigurationError) Unwrap() []error {
	if e.Err != nil {
		return []error{ErrConfiguration, e.Err}
	}
	return []error{ErrConfiguration}
}

// RateUnavailableError names the missing currency pair.
type RateUnavailableError struct {
	From Currency
	To   Currency
	Err  error // provider failure, if any
}

func (e *RateUnavailableError) Error() string {
	msg := fmt.Sprintf("rate unavailable: %s -> %s", e.From, e.To)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *RateUnavailableError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrRateUnavailable}
	}
	return []error{ErrRateUnavailable, e.Err}
}

// NotEligibleError explains which gate the actor failed.
type NotEligibleError struct {
	ExpenseID  ExpenseID
	ApproverID EmployeeID
	Stage      Stage
}

func (e *NotEligibleError) Error() string {
	return fmt.Sprintf("%s is not an eligible approver for expense %s at stage %s",
		e.ApproverID, e.ExpenseID, e.Stage)
}

func (e *NotEligibleError) Unwrap() error { return ErrNotEligibleApprover }

// TerminalError reports the status that blocked the action.
type TerminalError struct {
	ExpenseID ExpenseID
	Status    Status
}

func (e *TerminalError) Error() string {
	return fmt.Sprintf("expense %s is already %s", e.ExpenseID, e.Status)
}

func (e *TerminalError) Unwrap() error { return ErrAlreadyTerminal }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsRetryable returns true if the error might succeed on retry with fresh state.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConflict)
}

// IsClientError returns true if the error is due to the caller's input or timing.
func IsClientError(err error) bool {
	return errors.Is(err, ErrConfiguration) ||
		errors.Is(err, ErrNotEligibleApprover) ||
		errors.Is(err, ErrAlreadyTerminal) ||
		errors.Is(err, ErrInvalidTransition) ||
		errors.Is(err, ErrInvalidInput) ||
		errors.Is(err, ErrForbidden)
}

func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

func notFound(kind, id string) error {
	return fmt.Errorf("%s %q: %w", kind, id, ErrNotFound)
}

// NotFoundError is used by store implementations outside this package.
func NotFoundError(kind, id string) error { return notFound(kind, id) }
