/*
Package ledger provides the employee financial ledger engine.

PURPOSE:
  Tracks the money an employee can draw against: daily salary accrual,
  salary advances and their repayment, and withdrawal requests. Every
  balance-affecting event is an immutable Entry; balances are always
  derived by summing entries, never stored.

KEY CONCEPTS IN THIS FILE (types.go):
  - Entry: An immutable ledger record with a unique ReferenceKey
  - EntryKind: Why the balance moved (accrual, advance, withdrawal, ...)
  - Employee: Salary and rest-day settings used by the accrual run
  - Money helpers: decimal amounts rounded to two places

DESIGN PRINCIPLES:
  1. Append-only: Entries are never updated or deleted
  2. Idempotency: One ReferenceKey = one logical event, enforced by the store
  3. Precision: decimal.Decimal for every amount
  4. Explicit actors: every write carries who performed it

USAGE:
  entry := ledger.Entry{
      EmployeeID:   "emp-7",
      Kind:         ledger.KindDailySalary,
      Amount:       decimal.RequireFromString("30000"),
      ReferenceKey: ledger.DailySalaryKey("emp-7", day),
  }

SEE ALSO:
  - store.go: Persistence interfaces
  - balance.go: Balance derivation
  - accrual.go, withdrawal.go, advance.go, approval.go: Writers
*/
package ledger

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// MONEY
// =============================================================================

// Round2 rounds half away from zero to two decimal places.
func Round2(d decimal.Decimal) decimal.Decimal {
	return d.Round(2)
}

func maxMoney(a, b decimal.Decimal) decimal.Decimal {
	if a.GreaterThan(b) {
		return a
	}
	return b
}

func minMoney(a, b decimal.Decimal) decimal.Decimal {
	if a.LessThan(b) {
		return a
	}
	return b
}

// =============================================================================
// IDENTIFIERS
// =============================================================================

type EmployeeID string
type EntryID string
type WithdrawalID string
type AdvanceID string
type PaymentID string
type ApprovalID string

// =============================================================================
// EMPLOYEE
// =============================================================================

// Employee is the HR record the ledger reads. HR owns it; the ledger only
// needs salary, status and rest-day policy.
type Employee struct {
	ID            EmployeeID
	Name          string
	Phone         string
	MonthlySalary decimal.Decimal
	Active        bool

	// RestDay is the weekly day without accrual. The zero value is Sunday.
	RestDay time.Weekday

	// StartDate, if set, is the first day that accrues salary.
	StartDate time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

// IsSalaried reports whether the employee takes part in the accrual run.
func (e Employee) IsSalaried() bool {
	return e.Active && e.MonthlySalary.IsPositive()
}

// =============================================================================
// ENTRY - Immutable balance change
// =============================================================================

type EntryKind string

const (
	KindDailySalary         EntryKind = "DAILY_SALARY"
	KindAdvanceDisbursement EntryKind = "ADVANCE_DISBURSEMENT"
	KindAdvanceRepayment    EntryKind = "ADVANCE_REPAYMENT"
	KindWithdrawalDebit     EntryKind = "WITHDRAWAL_DEBIT"
	KindWithdrawalReversal  EntryKind = "WITHDRAWAL_REVERSAL"
)

// IsCredit reports whether entries of this kind increase the balance.
func (k EntryKind) IsCredit() bool {
	switch k {
	case KindDailySalary, KindAdvanceDisbursement, KindWithdrawalReversal:
		return true
	}
	return false
}

// Entry is one balance-affecting event. Amount is signed: credits are
// positive, debits negative.
type Entry struct {
	ID           EntryID
	EmployeeID   EmployeeID
	Kind         EntryKind
	Amount       decimal.Decimal
	ReferenceKey string

	// EffectiveOn is the calendar day the event belongs to.
	EffectiveOn time.Time

	// SourceID links the entry to the withdrawal, payment or approval that
	// produced it. Empty for accruals.
	SourceID string

	Memo      string
	CreatedBy string
	CreatedAt time.Time
}

// =============================================================================
// REFERENCE KEYS
// =============================================================================

func DailySalaryKey(employeeID EmployeeID, day time.Time) string {
	return fmt.Sprintf("%s:%s:%s", KindDailySalary, employeeID, FormatDate(day))
}

func AdvanceDisbursementKey(approvalID ApprovalID) string {
	return fmt.Sprintf("%s:%s", KindAdvanceDisbursement, approvalID)
}

func AdvancePaymentKey(paymentID PaymentID) string {
	return "ADVANCE_PAYMENT:" + string(paymentID)
}

func WithdrawalKey(id WithdrawalID) string {
	return "WITHDRAWAL:" + string(id)
}

func WithdrawalReversalKey(id WithdrawalID) string {
	return fmt.Sprintf("%s:%s", KindWithdrawalReversal, id)
}
