/*
errors.go - Centralized error types for the ledger engine

PURPOSE:
  All error types in one place. Callers branch with errors.Is / errors.As;
  the HTTP layer maps them to status codes.

ERROR CATEGORIES:
  1. Client errors - the caller can correct the input
     (insufficient balance, bad payment amount, wrong approval stage)
  2. Absorbed errors - expected outcomes the engine swallows
     (duplicate reference key, notification failure)
  3. Lookup errors - missing records

SEE ALSO:
  - ledger.go: Returns ErrDuplicateReference
  - api/handlers.go: Maps errors to HTTP status
*/
package ledger

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrDuplicateReference is returned by the store when an entry with the
	// same reference key already exists. Accrual, repayment and payout treat
	// it as an already-satisfied event.
	ErrDuplicateReference = errors.New("duplicate reference key")

	// ErrInsufficientBalance is returned when a withdrawal exceeds what the
	// employee may still request.
	ErrInsufficientBalance = errors.New("insufficient balance")

	// ErrInvalidPaymentAmount is returned when an advance payment falls
	// outside [minimum payment, min(remaining, salary)].
	ErrInvalidPaymentAmount = errors.New("invalid payment amount")

	// ErrInvalidStateTransition is returned when an operation is attempted
	// from the wrong status or stage. Never swallowed.
	ErrInvalidStateTransition = errors.New("invalid state transition")

	// ErrNotificationFailed marks a notifier failure. Logged only.
	ErrNotificationFailed = errors.New("notification failed")

	// ErrConcurrentUpdate is returned by a store when a conditional update
	// finds the record no longer in the expected state.
	ErrConcurrentUpdate = errors.New("record changed concurrently")

	ErrNotFound         = errors.New("not found")
	ErrInvalidAmount    = errors.New("amount must be positive")
	ErrInvalidDetails   = errors.New("invalid approval details")
	ErrApprovalRequired = errors.New("withdrawal requires two-stage approval")
	ErrEmployeeInactive = errors.New("employee is not active")
	ErrActorRequired    = errors.New("actor is required")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// InsufficientBalanceError reports the exact figure the employee could have
// requested.
type InsufficientBalanceError struct {
	EmployeeID EmployeeID
	Available  decimal.Decimal
	Requested  decimal.Decimal
}

func (e *InsufficientBalanceError) Shortfall() decimal.Decimal {
	return e.Requested.Sub(e.Available)
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("insufficient balance: available to request %s, requested %s",
		e.Available.StringFixed(2), e.Requested.StringFixed(2))
}

func (e *InsufficientBalanceError) Unwrap() error {
	return ErrInsufficientBalance
}

// InvalidPaymentAmountError describes the allowed payment window.
type InvalidPaymentAmountError struct {
	AdvanceID AdvanceID
	Amount    decimal.Decimal
	Min       decimal.Decimal
	Max       decimal.Decimal
}

func (e *InvalidPaymentAmountError) Error() string {
	return fmt.Sprintf("invalid payment amount %s: must be between %s and %s",
		e.Amount.StringFixed(2), e.Min.StringFixed(2), e.Max.StringFixed(2))
}

func (e *InvalidPaymentAmountError) Unwrap() error {
	return ErrInvalidPaymentAmount
}

// InvalidTransitionError names the object, its current state and the action
// that was refused.
type InvalidTransitionError struct {
	Object string // "approval", "withdrawal", "payment", "advance"
	ID     string
	From   string
	Action string
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("cannot %s %s %s: current state is %s", e.Action, e.Object, e.ID, e.From)
}

func (e *InvalidTransitionError) Unwrap() error {
	return ErrInvalidStateTransition
}

// NotFoundError names the missing record.
type NotFoundError struct {
	Object string
	ID     string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Object, e.ID)
}

func (e *NotFoundError) Unwrap() error {
	return ErrNotFound
}

func notFound(object, id string) error {
	return &NotFoundError{Object: object, ID: id}
}

func invalidTransition(object, id, from, action string) error {
	return &InvalidTransitionError{Object: object, ID: id, From: from, Action: action}
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsClientError returns true if the error is due to input the caller can fix.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInsufficientBalance) ||
		errors.Is(err, ErrInvalidPaymentAmount) ||
		errors.Is(err, ErrInvalidAmount) ||
		errors.Is(err, ErrInvalidDetails) ||
		errors.Is(err, ErrApprovalRequired) ||
		errors.Is(err, ErrEmployeeInactive) ||
		errors.Is(err, ErrActorRequired)
}

// IsConflict returns true for errors caused by the current state of a record.
func IsConflict(err error) bool {
	return errors.Is(err, ErrInvalidStateTransition) ||
		errors.Is(err, ErrInsufficientBalance) ||
		errors.Is(err, ErrConcurrentUpdate)
}

// IsNotFound returns true if the error indicates a missing record.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
