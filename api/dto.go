/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the ledger's domain model from the external API contract.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

MONEY:
  Responses carry amounts as fixed two-decimal strings ("30000.00").
  Requests accept either a JSON number or a string for amounts.

ACTORS:
  Every state-changing request names its actor explicitly in the body.

SEE ALSO:
  - handlers.go: Uses these types
*/
package api

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/ledger-engine/ledger"
)

// =============================================================================
// EMPLOYEES
// =============================================================================

type EmployeeDTO struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	Phone         string `json:"phone"`
	MonthlySalary string `json:"monthly_salary"`
	Active        bool   `json:"active"`
	RestDay       string `json:"rest_day"`
	StartDate     string `json:"start_date,omitempty"`
	CreatedAt     string `json:"created_at,omitempty"`
}

// CreateEmployeeRequest creates or updates an employee. RestDay is a weekday
// name; empty means Sunday.
type CreateEmployeeRequest struct {
	ID            string          `json:"id"`
	Name          string          `json:"name"`
	Phone         string          `json:"phone"`
	MonthlySalary decimal.Decimal `json:"monthly_salary"`
	Active        *bool           `json:"active,omitempty"`
	RestDay       string          `json:"rest_day,omitempty"`
	StartDate     string          `json:"start_date,omitempty"`
}

func toEmployeeDTO(e ledger.Employee) EmployeeDTO {
	dto := EmployeeDTO{
		ID:            string(e.ID),
		Name:          e.Name,
		Phone:         e.Phone,
		MonthlySalary: money(e.MonthlySalary),
		Active:        e.Active,
		RestDay:       e.RestDay.String(),
		CreatedAt:     timestamp(e.CreatedAt),
	}
	if !e.StartDate.IsZero() {
		dto.StartDate = ledger.FormatDate(e.StartDate)
	}
	return dto
}

// =============================================================================
// BALANCE
// =============================================================================

type BalanceDTO struct {
	EmployeeID         string `json:"employee_id"`
	LedgerBalance      string `json:"ledger_balance"`
	PendingWithdrawals string `json:"pending_withdrawals"`
	AvailableToRequest string `json:"available_to_request"`
	AsOf               string `json:"as_of"`
}

func toBalanceDTO(b ledger.Balance) BalanceDTO {
	return BalanceDTO{
		EmployeeID:         string(b.EmployeeID),
		LedgerBalance:      money(b.LedgerBalance),
		PendingWithdrawals: money(b.PendingWithdrawals),
		AvailableToRequest: money(b.AvailableToRequest),
		AsOf:               timestamp(b.AsOf),
	}
}

// StatementLineDTO is one entry with the balance after it.
// The csv tags drive the ?format=csv export.
type StatementLineDTO struct {
	ID             string `json:"id" csv:"id"`
	Kind           string `json:"kind" csv:"kind"`
	Amount         string `json:"amount" csv:"amount"`
	ReferenceKey   string `json:"reference_key" csv:"reference_key"`
	EffectiveOn    string `json:"effective_on" csv:"effective_on"`
	Memo           string `json:"memo,omitempty" csv:"memo"`
	CreatedBy      string `json:"created_by,omitempty" csv:"created_by"`
	RunningBalance string `json:"running_balance" csv:"running_balance"`
	CreatedAt      string `json:"created_at" csv:"created_at"`
}

func toStatementDTOs(lines []ledger.StatementLine) []StatementLineDTO {
	out := make([]StatementLineDTO, len(lines))
	for i, l := range lines {
		out[i] = StatementLineDTO{
			ID:             string(l.Entry.ID),
			Kind:           string(l.Entry.Kind),
			Amount:         money(l.Entry.Amount),
			ReferenceKey:   l.Entry.ReferenceKey,
			EffectiveOn:    ledger.FormatDate(l.Entry.EffectiveOn),
			Memo:           l.Entry.Memo,
			CreatedBy:      l.Entry.CreatedBy,
			RunningBalance: money(l.RunningBalance),
			CreatedAt:      timestamp(l.Entry.CreatedAt),
		}
	}
	return out
}

// =============================================================================
// WITHDRAWALS
// =============================================================================

type WithdrawalDTO struct {
	ID          string `json:"id"`
	EmployeeID  string `json:"employee_id"`
	Amount      string `json:"amount"`
	PhoneNumber string `json:"phone_number"`
	Channel     string `json:"channel"`
	Status      string `json:"status"`
	RequestRef  string `json:"request_ref"`
	ApprovalID  string `json:"approval_id,omitempty"`
	RequestedBy string `json:"requested_by"`
	ApprovedBy  string `json:"approved_by,omitempty"`
	ApprovedAt  string `json:"approved_at,omitempty"`
	PaidBy      string `json:"paid_by,omitempty"`
	PaidAt      string `json:"paid_at,omitempty"`
	ResolvedBy  string `json:"resolved_by,omitempty"`
	ResolvedAt  string `json:"resolved_at,omitempty"`
	Reason      string `json:"reason,omitempty"`
	CreatedAt   string `json:"created_at"`
}

type CreateWithdrawalRequest struct {
	Amount      decimal.Decimal `json:"amount"`
	PhoneNumber string          `json:"phone_number,omitempty"`
	Channel     string          `json:"channel,omitempty"`
	Actor       string          `json:"actor"`
}

func toWithdrawalDTO(w ledger.WithdrawalRequest) WithdrawalDTO {
	return WithdrawalDTO{
		ID:          string(w.ID),
		EmployeeID:  string(w.EmployeeID),
		Amount:      money(w.Amount),
		PhoneNumber: w.PhoneNumber,
		Channel:     string(w.Channel),
		Status:      string(w.Status),
		RequestRef:  w.RequestRef,
		ApprovalID:  string(w.ApprovalID),
		RequestedBy: w.RequestedBy,
		ApprovedBy:  w.ApprovedBy,
		ApprovedAt:  timestampPtr(w.ApprovedAt),
		PaidBy:      w.PaidBy,
		PaidAt:      timestampPtr(w.PaidAt),
		ResolvedBy:  w.ResolvedBy,
		ResolvedAt:  timestampPtr(w.ResolvedAt),
		Reason:      w.Reason,
		CreatedAt:   timestamp(w.CreatedAt),
	}
}

func toWithdrawalDTOs(ws []ledger.WithdrawalRequest) []WithdrawalDTO {
	out := make([]WithdrawalDTO, len(ws))
	for i, w := range ws {
		out[i] = toWithdrawalDTO(w)
	}
	return out
}

// ActorRequest is the body of every transition endpoint.
type ActorRequest struct {
	Actor  string `json:"actor"`
	Reason string `json:"reason,omitempty"`
}

// =============================================================================
// APPROVALS
// =============================================================================

type ApprovalDTO struct {
	ID                string          `json:"id"`
	Type              string          `json:"type"`
	Amount            string          `json:"amount"`
	RequestedBy       string          `json:"requested_by"`
	Stage             string          `json:"stage"`
	AdminApprovedBy   string          `json:"admin_approved_by,omitempty"`
	AdminApprovedAt   string          `json:"admin_approved_at,omitempty"`
	FinanceApprovedBy string          `json:"finance_approved_by,omitempty"`
	FinanceApprovedAt string          `json:"finance_approved_at,omitempty"`
	RejectedBy        string          `json:"rejected_by,omitempty"`
	RejectedAt        string          `json:"rejected_at,omitempty"`
	RejectionReason   string          `json:"rejection_reason,omitempty"`
	Details           json.RawMessage `json:"details"`
	CreatedAt         string          `json:"created_at"`
	UpdatedAt         string          `json:"updated_at"`
}

type SubmitApprovalRequest struct {
	Type    string          `json:"type"`
	Amount  decimal.Decimal `json:"amount"`
	Actor   string          `json:"actor"`
	Details json.RawMessage `json:"details"`
}

func toApprovalDTO(a ledger.ApprovalRequest) ApprovalDTO {
	return ApprovalDTO{
		ID:                string(a.ID),
		Type:              string(a.Type),
		Amount:            money(a.Amount),
		RequestedBy:       a.RequestedBy,
		Stage:             string(a.Stage),
		AdminApprovedBy:   a.AdminApprovedBy,
		AdminApprovedAt:   timestampPtr(a.AdminApprovedAt),
		FinanceApprovedBy: a.FinanceApprovedBy,
		FinanceApprovedAt: timestampPtr(a.FinanceApprovedAt),
		RejectedBy:        a.RejectedBy,
		RejectedAt:        timestampPtr(a.RejectedAt),
		RejectionReason:   a.RejectionReason,
		Details:           a.Details,
		CreatedAt:         timestamp(a.CreatedAt),
		UpdatedAt:         timestamp(a.UpdatedAt),
	}
}

// ActivationDTO is the result of POST /api/approvals/{id}/activate.
type ActivationDTO struct {
	Activated bool        `json:"activated"`
	Advance   *AdvanceDTO `json:"advance,omitempty"`
}

// =============================================================================
// ADVANCES
// =============================================================================

type AdvanceDTO struct {
	ID                string `json:"id"`
	EmployeeID        string `json:"employee_id"`
	ApprovalRequestID string `json:"approval_request_id"`
	OriginalAmount    string `json:"original_amount"`
	RemainingBalance  string `json:"remaining_balance"`
	MinimumPayment    string `json:"minimum_payment"`
	Reason            string `json:"reason,omitempty"`
	Status            string `json:"status"`
	ActivatedAt       string `json:"activated_at,omitempty"`
	PaidOffAt         string `json:"paid_off_at,omitempty"`
}

func toAdvanceDTO(a ledger.SalaryAdvance) AdvanceDTO {
	return AdvanceDTO{
		ID:                string(a.ID),
		EmployeeID:        string(a.EmployeeID),
		ApprovalRequestID: string(a.ApprovalRequestID),
		OriginalAmount:    money(a.OriginalAmount),
		RemainingBalance:  money(a.RemainingBalance),
		MinimumPayment:    money(a.MinimumPayment),
		Reason:            a.Reason,
		Status:            string(a.Status),
		ActivatedAt:       timestampPtr(a.ActivatedAt),
		PaidOffAt:         timestampPtr(a.PaidOffAt),
	}
}

type PaymentDTO struct {
	ID              string `json:"id"`
	AdvanceID       string `json:"advance_id"`
	AmountPaid      string `json:"amount_paid"`
	SalaryRequestID string `json:"salary_request_id,omitempty"`
	Status          string `json:"status"`
	RecordedBy      string `json:"recorded_by"`
	ApprovedBy      string `json:"approved_by,omitempty"`
	ApprovedAt      string `json:"approved_at,omitempty"`
	RejectedBy      string `json:"rejected_by,omitempty"`
	RejectionReason string `json:"rejection_reason,omitempty"`
	CreatedAt       string `json:"created_at"`
}

// RecordPaymentRequest records an installment. SalaryAmount, when present,
// caps the installment at the salary it is deducted from.
type RecordPaymentRequest struct {
	Amount          decimal.Decimal     `json:"amount"`
	SalaryRequestID string              `json:"salary_request_id,omitempty"`
	SalaryAmount    decimal.NullDecimal `json:"salary_amount"`
	Actor           string              `json:"actor"`
}

// PaymentApprovalDTO returns the payment with the advance it changed.
type PaymentApprovalDTO struct {
	Payment PaymentDTO `json:"payment"`
	Advance AdvanceDTO `json:"advance"`
}

func toPaymentDTO(p ledger.AdvancePayment) PaymentDTO {
	return PaymentDTO{
		ID:              string(p.ID),
		AdvanceID:       string(p.AdvanceID),
		AmountPaid:      money(p.AmountPaid),
		SalaryRequestID: p.SalaryRequestID,
		Status:          string(p.Status),
		RecordedBy:      p.RecordedBy,
		ApprovedBy:      p.ApprovedBy,
		ApprovedAt:      timestampPtr(p.ApprovedAt),
		RejectedBy:      p.RejectedBy,
		RejectionReason: p.RejectionReason,
		CreatedAt:       timestamp(p.CreatedAt),
	}
}

// =============================================================================
// ACCRUAL
// =============================================================================

type AccrualRunRequest struct {
	Date string `json:"date,omitempty"` // YYYY-MM-DD, default today
}

type BackfillRequest struct {
	From string `json:"from"`
	To   string `json:"to"`
}

type SkippedDTO struct {
	EmployeeID string `json:"employee_id"`
	Reason     string `json:"reason"`
}

type FailedDTO struct {
	EmployeeID string `json:"employee_id"`
	Error      string `json:"error"`
}

type AccrualResultDTO struct {
	Date            string       `json:"date"`
	Processed       int          `json:"processed"`
	Credited        int          `json:"credited"`
	AlreadyCredited int          `json:"already_credited"`
	Skipped         []SkippedDTO `json:"skipped"`
	Failed          []FailedDTO  `json:"failed,omitempty"`
}

func toAccrualResultDTO(r ledger.AccrualResult) AccrualResultDTO {
	dto := AccrualResultDTO{
		Date:            ledger.FormatDate(r.Date),
		Processed:       r.Processed(),
		Credited:        r.Credited,
		AlreadyCredited: r.AlreadyCredited,
		Skipped:         make([]SkippedDTO, len(r.Skipped)),
	}
	for i, s := range r.Skipped {
		dto.Skipped[i] = SkippedDTO{EmployeeID: string(s.EmployeeID), Reason: string(s.Reason)}
	}
	for _, f := range r.Failed {
		dto.Failed = append(dto.Failed, FailedDTO{EmployeeID: string(f.EmployeeID), Error: f.Err.Error()})
	}
	return dto
}

// =============================================================================
// SCENARIOS
// =============================================================================

type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Category    string `json:"category"`
}

type LoadScenarioRequest struct {
	ScenarioID string `json:"scenario_id"`
}

// =============================================================================
// ERRORS
// =============================================================================

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`

	// Available is set on insufficient-balance refusals.
	Available string `json:"available,omitempty"`
}

func money(d decimal.Decimal) string {
	return d.StringFixed(2)
}

func timestamp(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func timestampPtr(t *time.Time) string {
	if t == nil {
		return ""
	}
	return timestamp(*t)
}
