/*
details.go - Typed payloads for approval requests

PURPOSE:
  An ApprovalRequest carries an opaque JSON `details` document whose shape
  depends on the request type. This file turns that document into a tagged
  union: one Go type per known ApprovalType, each with a strict validator,
  plus UnknownDetails for types this engine does not act on.

TOLERANCE:
  Extra fields in the JSON are ignored. Missing required fields for a known
  type are rejected with ErrInvalidDetails. Unknown types never fail to
  parse; their raw payload is kept as-is.

EXAMPLE:
  {"employee_id": "emp-7", "amount": "500000", "minimum_payment": "50000",
   "reason": "school fees", "ui_version": 3}
  => AdvanceDetails{EmployeeID: "emp-7", Amount: 500000, MinimumPayment: 50000}
*/
package ledger

import (
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"
)

type ApprovalType string

const (
	TypeSalaryAdvance ApprovalType = "Salary Advance"
	TypeWithdrawal    ApprovalType = "Withdrawal"
	TypeExpense       ApprovalType = "Expense"
)

// Details is the parsed payload of an approval request.
type Details interface {
	ApprovalType() ApprovalType
}

// AdvanceDetails parameterizes a salary advance.
type AdvanceDetails struct {
	EmployeeID     EmployeeID      `json:"employee_id"`
	Amount         decimal.Decimal `json:"amount"`
	MinimumPayment decimal.Decimal `json:"minimum_payment"`
	Reason         string          `json:"reason,omitempty"`
}

func (AdvanceDetails) ApprovalType() ApprovalType { return TypeSalaryAdvance }

func (d AdvanceDetails) validate() error {
	if d.EmployeeID == "" {
		return fmt.Errorf("%w: employee_id is required", ErrInvalidDetails)
	}
	// Checked at cents, the precision activation posts.
	amount, minimum := Round2(d.Amount), Round2(d.MinimumPayment)
	if !amount.IsPositive() {
		return fmt.Errorf("%w: amount must be at least 0.01", ErrInvalidDetails)
	}
	if minimum.IsNegative() {
		return fmt.Errorf("%w: minimum_payment must not be negative", ErrInvalidDetails)
	}
	if minimum.GreaterThan(amount) {
		return fmt.Errorf("%w: minimum_payment exceeds amount", ErrInvalidDetails)
	}
	return nil
}

// WithdrawalDetails links a high-value withdrawal to its approval.
type WithdrawalDetails struct {
	WithdrawalID WithdrawalID    `json:"withdrawal_id"`
	EmployeeID   EmployeeID      `json:"employee_id"`
	Amount       decimal.Decimal `json:"amount"`
	RequestRef   string          `json:"request_ref,omitempty"`
}

func (WithdrawalDetails) ApprovalType() ApprovalType { return TypeWithdrawal }

func (d WithdrawalDetails) validate() error {
	if d.WithdrawalID == "" {
		return fmt.Errorf("%w: withdrawal_id is required", ErrInvalidDetails)
	}
	if d.EmployeeID == "" {
		return fmt.Errorf("%w: employee_id is required", ErrInvalidDetails)
	}
	return nil
}

// ExpenseDetails describes a factory expense. The ledger does not move money
// for expenses; it only runs the approval stages.
type ExpenseDetails struct {
	Description string `json:"description"`
	Category    string `json:"category,omitempty"`
	Supplier    string `json:"supplier,omitempty"`
}

func (ExpenseDetails) ApprovalType() ApprovalType { return TypeExpense }

func (d ExpenseDetails) validate() error {
	if d.Description == "" {
		return fmt.Errorf("%w: description is required", ErrInvalidDetails)
	}
	return nil
}

// UnknownDetails keeps the payload of a type the engine has no parser for.
type UnknownDetails struct {
	Type ApprovalType
	Raw  json.RawMessage
}

func (d UnknownDetails) ApprovalType() ApprovalType { return d.Type }

// ParseDetails decodes raw for the given type.
func ParseDetails(t ApprovalType, raw json.RawMessage) (Details, error) {
	switch t {
	case TypeSalaryAdvance:
		var d AdvanceDetails
		if err := decodeDetails(raw, &d); err != nil {
			return nil, err
		}
		return d, d.validate()
	case TypeWithdrawal:
		var d WithdrawalDetails
		if err := decodeDetails(raw, &d); err != nil {
			return nil, err
		}
		return d, d.validate()
	case TypeExpense:
		var d ExpenseDetails
		if err := decodeDetails(raw, &d); err != nil {
			return nil, err
		}
		return d, d.validate()
	default:
		return UnknownDetails{Type: t, Raw: raw}, nil
	}
}

// EncodeDetails marshals d for storage on an ApprovalRequest.
func EncodeDetails(d Details) (json.RawMessage, error) {
	if u, ok := d.(UnknownDetails); ok {
		return u.Raw, nil
	}
	b, err := json.Marshal(d)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s details: %w", d.ApprovalType(), err)
	}
	return b, nil
}

func decodeDetails(raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		return fmt.Errorf("%w: details are empty", ErrInvalidDetails)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidDetails, err)
	}
	return nil
}
