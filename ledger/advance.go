/*
advance.go - Salary advances and their repayment

PURPOSE:
  An advance is a lump sum paid ahead of salary and repaid in installments.
  It exists only after the two-stage approval: Finance approval of a
  "Salary Advance" request activates it, credits the disbursement to the
  ledger, and from then on each installment is recorded, then approved.

LIFECYCLE:
  ApprovalRequest approved ──activate──▶ SalaryAdvance(active)
                                           │  recordPayment ▶ AdvancePayment(pending)
                                           │  approvePayment ▶ ADVANCE_REPAYMENT debit,
                                           │                   remaining -= amount
                                           ▼
                                        paid_off (remaining == 0)

PAYMENT WINDOW:
  A payment must satisfy  min(minimumPayment, remaining) <= amount <= min(remaining, salary)
  The lower bound drops to the remaining balance for the final installment,
  otherwise an advance with remaining < minimumPayment could never close.

REMAINING BALANCE:
  Never increases. Approval re-checks amount <= remaining because two pending
  payments can be recorded against the same remaining balance.

SEE ALSO:
  - approval.go: Activation runs inside FinanceApprove
*/
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/warp/ledger-engine/observability"
)

// =============================================================================
// TYPES
// =============================================================================

type AdvanceStatus string

const (
	AdvancePendingApproval AdvanceStatus = "pending_approval"
	AdvanceActive          AdvanceStatus = "active"
	AdvancePaidOff         AdvanceStatus = "paid_off"
	AdvanceCancelled       AdvanceStatus = "cancelled"
)

type PaymentStatus string

const (
	PaymentPending  PaymentStatus = "pending"
	PaymentApproved PaymentStatus = "approved"
	PaymentRejected PaymentStatus = "rejected"
)

type SalaryAdvance struct {
	ID                AdvanceID
	EmployeeID        EmployeeID
	ApprovalRequestID ApprovalID
	OriginalAmount    decimal.Decimal
	RemainingBalance  decimal.Decimal
	MinimumPayment    decimal.Decimal
	Reason            string
	Status            AdvanceStatus
	ActivatedAt       *time.Time
	PaidOffAt         *time.Time
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

type AdvancePayment struct {
	ID              PaymentID
	AdvanceID       AdvanceID
	AmountPaid      decimal.Decimal
	SalaryRequestID string
	Status          PaymentStatus
	RecordedBy      string
	ApprovedBy      string
	ApprovedAt      *time.Time
	RejectedBy      string
	RejectedAt      *time.Time
	RejectionReason string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// PaymentInput is the input to RecordPayment.
type PaymentInput struct {
	AdvanceID AdvanceID
	Amount    decimal.Decimal

	// SalaryRequestID links the installment to the salary run it is deducted
	// from. SalaryAmount, when valid, caps the installment.
	SalaryRequestID string
	SalaryAmount    decimal.NullDecimal

	RecordedBy string
}

// =============================================================================
// ADVANCE TRACKER
// =============================================================================

type AdvanceTracker struct {
	Store    TxRepository
	Notifier Notifier
	Logger   *slog.Logger
	Clock    func() time.Time
}

// ActivateAdvance creates the advance for an approved "Salary Advance"
// request. ok is false when the request is not approved or not an advance.
// Activating twice returns the existing advance.
func (t *AdvanceTracker) ActivateAdvance(ctx context.Context, approvalID ApprovalID) (*SalaryAdvance, bool, error) {
	var (
		adv     *SalaryAdvance
		created bool
		notes   []Notification
	)
	err := t.Store.WithTx(ctx, func(repo Repository) error {
		req, err := repo.GetApproval(ctx, approvalID)
		if err != nil {
			return err
		}
		if req == nil {
			return notFound("approval", string(approvalID))
		}
		if req.Type != TypeSalaryAdvance || req.Stage != StageApproved {
			return nil
		}
		adv, created, notes, err = t.activateIn(ctx, repo, *req)
		return err
	})
	if err != nil {
		return nil, false, err
	}
	if adv == nil {
		return nil, false, nil
	}
	if created {
		t.logActivation(ctx, adv)
	}
	t.notify(ctx, notes...)
	return adv, true, nil
}

func (t *AdvanceTracker) activateIn(ctx context.Context, repo Repository, req ApprovalRequest) (*SalaryAdvance, bool, []Notification, error) {
	existing, err := repo.GetAdvanceByApproval(ctx, req.ID)
	if err != nil {
		return nil, false, nil, err
	}
	if existing != nil {
		return existing, false, nil, nil
	}

	d, err := advanceDetails(req)
	if err != nil {
		return nil, false, nil, err
	}
	emp, err := repo.GetEmployee(ctx, d.EmployeeID)
	if err != nil {
		return nil, false, nil, err
	}
	if emp == nil {
		return nil, false, nil, notFound("employee", string(d.EmployeeID))
	}

	now := t.now().UTC()
	amount := Round2(d.Amount)
	adv := SalaryAdvance{
		ID:                AdvanceID(uuid.NewString()),
		EmployeeID:        d.EmployeeID,
		ApprovalRequestID: req.ID,
		OriginalAmount:    amount,
		RemainingBalance:  amount,
		MinimumPayment:    Round2(d.MinimumPayment),
		Reason:            d.Reason,
		Status:            AdvanceActive,
		ActivatedAt:       &now,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if err := repo.InsertAdvance(ctx, adv); err != nil {
		return nil, false, nil, fmt.Errorf("failed to save advance: %w", err)
	}

	actor := req.FinanceApprovedBy
	if actor == "" {
		actor = "system:activation"
	}
	if _, err := newLedgerAt(repo, t.now).Post(ctx, Entry{
		EmployeeID:   adv.EmployeeID,
		Kind:         KindAdvanceDisbursement,
		Amount:       amount,
		ReferenceKey: AdvanceDisbursementKey(req.ID),
		EffectiveOn:  DayOf(now),
		SourceID:     string(req.ID),
		Memo:         "salary advance",
		CreatedBy:    actor,
		CreatedAt:    now,
	}); err != nil {
		return nil, false, nil, err
	}

	notes := []Notification{{
		Phone: emp.Phone,
		Message: fmt.Sprintf("Your salary advance of %s has been approved. Minimum installment: %s.",
			amount.StringFixed(2), adv.MinimumPayment.StringFixed(2)),
	}}
	return &adv, true, notes, nil
}

// ValidatePaymentAmount checks amount against the advance's payment window.
func (t *AdvanceTracker) ValidatePaymentAmount(adv SalaryAdvance, amount decimal.Decimal, salary decimal.NullDecimal) error {
	if adv.Status != AdvanceActive {
		return invalidTransition("advance", string(adv.ID), string(adv.Status), "record payment for")
	}
	lo, hi := paymentWindow(adv, salary)
	if !amount.IsPositive() || amount.LessThan(lo) || amount.GreaterThan(hi) {
		return &InvalidPaymentAmountError{AdvanceID: adv.ID, Amount: amount, Min: lo, Max: hi}
	}
	return nil
}

func paymentWindow(adv SalaryAdvance, salary decimal.NullDecimal) (lo, hi decimal.Decimal) {
	hi = adv.RemainingBalance
	if salary.Valid {
		hi = minMoney(hi, salary.Decimal)
	}
	lo = minMoney(adv.MinimumPayment, adv.RemainingBalance)
	return lo, hi
}

// RecordPayment creates a pending installment. Nothing moves until
// ApprovePayment.
func (t *AdvanceTracker) RecordPayment(ctx context.Context, in PaymentInput) (*AdvancePayment, error) {
	if in.RecordedBy == "" {
		return nil, ErrActorRequired
	}
	amount := Round2(in.Amount)

	var payment AdvancePayment
	err := t.Store.WithTx(ctx, func(repo Repository) error {
		adv, err := repo.GetAdvance(ctx, in.AdvanceID)
		if err != nil {
			return err
		}
		if adv == nil {
			return notFound("advance", string(in.AdvanceID))
		}
		if err := t.ValidatePaymentAmount(*adv, amount, in.SalaryAmount); err != nil {
			return err
		}

		now := t.now().UTC()
		payment = AdvancePayment{
			ID:              PaymentID(uuid.NewString()),
			AdvanceID:       adv.ID,
			AmountPaid:      amount,
			SalaryRequestID: in.SalaryRequestID,
			Status:          PaymentPending,
			RecordedBy:      in.RecordedBy,
			CreatedAt:       now,
			UpdatedAt:       now,
		}
		return repo.InsertPayment(ctx, payment)
	})
	if err != nil {
		return nil, err
	}

	observability.AdvancePayments.WithLabelValues("recorded").Inc()
	t.logger().InfoContext(ctx, "advance payment recorded",
		slog.String("payment_id", string(payment.ID)),
		slog.String("advance_id", string(payment.AdvanceID)),
		slog.String("amount", payment.AmountPaid.StringFixed(2)),
	)
	return &payment, nil
}

// ApprovePayment applies a pending installment: it appends the
// ADVANCE_REPAYMENT debit and decrements the remaining balance, closing the
// advance at zero. Approving an approved payment changes nothing.
func (t *AdvanceTracker) ApprovePayment(ctx context.Context, paymentID PaymentID, actor string) (*AdvancePayment, *SalaryAdvance, error) {
	if actor == "" {
		return nil, nil, ErrActorRequired
	}

	var (
		payment AdvancePayment
		adv     SalaryAdvance
		changed bool
		notes   []Notification
	)
	err := t.Store.WithTx(ctx, func(repo Repository) error {
		p, a, err := t.loadPayment(ctx, repo, paymentID)
		if err != nil {
			return err
		}
		payment, adv = *p, *a
		if p.Status == PaymentApproved {
			return nil
		}
		if p.Status != PaymentPending {
			return invalidTransition("payment", string(p.ID), string(p.Status), "approve")
		}
		if a.Status != AdvanceActive {
			return invalidTransition("advance", string(a.ID), string(a.Status), "apply payment to")
		}
		if p.AmountPaid.GreaterThan(a.RemainingBalance) {
			return &InvalidPaymentAmountError{
				AdvanceID: a.ID,
				Amount:    p.AmountPaid,
				Min:       decimal.Zero,
				Max:       a.RemainingBalance,
			}
		}

		now := t.now().UTC()
		if _, err := newLedgerAt(repo, t.now).Post(ctx, Entry{
			EmployeeID:   a.EmployeeID,
			Kind:         KindAdvanceRepayment,
			Amount:       p.AmountPaid.Neg(),
			ReferenceKey: AdvancePaymentKey(p.ID),
			EffectiveOn:  DayOf(now),
			SourceID:     string(p.ID),
			Memo:         "advance repayment",
			CreatedBy:    actor,
			CreatedAt:    now,
		}); err != nil {
			return err
		}

		payment.Status = PaymentApproved
		payment.ApprovedBy = actor
		payment.ApprovedAt = &now
		payment.UpdatedAt = now
		if err := repo.UpdatePayment(ctx, payment, PaymentPending); err != nil {
			return fmt.Errorf("failed to update payment %s: %w", p.ID, err)
		}

		adv.RemainingBalance = maxMoney(a.RemainingBalance.Sub(p.AmountPaid), decimal.Zero)
		if adv.RemainingBalance.IsZero() {
			adv.Status = AdvancePaidOff
			adv.PaidOffAt = &now
		}
		adv.UpdatedAt = now
		if err := repo.UpdateAdvance(ctx, adv, AdvanceActive); err != nil {
			return fmt.Errorf("failed to update advance %s: %w", a.ID, err)
		}
		changed = true

		emp, err := repo.GetEmployee(ctx, a.EmployeeID)
		if err != nil {
			return err
		}
		if emp != nil {
			msg := fmt.Sprintf("Advance installment of %s received. Remaining: %s.",
				payment.AmountPaid.StringFixed(2), adv.RemainingBalance.StringFixed(2))
			if adv.Status == AdvancePaidOff {
				msg = fmt.Sprintf("Advance installment of %s received. Your advance is fully repaid.",
					payment.AmountPaid.StringFixed(2))
			}
			notes = append(notes, Notification{Phone: emp.Phone, Message: msg})
		}
		return nil
	})
	if err != nil {
		return nil, nil, err
	}

	if changed {
		observability.AdvancePayments.WithLabelValues("approved").Inc()
		t.logger().InfoContext(ctx, "advance payment approved",
			slog.String("payment_id", string(payment.ID)),
			slog.String("advance_id", string(adv.ID)),
			slog.String("remaining", adv.RemainingBalance.StringFixed(2)),
			slog.String("status", string(adv.Status)),
			slog.String("actor", actor),
		)
	}
	t.notify(ctx, notes...)
	return &payment, &adv, nil
}

// RejectPayment refuses a pending installment. The advance is untouched.
func (t *AdvanceTracker) RejectPayment(ctx context.Context, paymentID PaymentID, actor, reason string) (*AdvancePayment, error) {
	if actor == "" {
		return nil, ErrActorRequired
	}

	var payment AdvancePayment
	err := t.Store.WithTx(ctx, func(repo Repository) error {
		p, _, err := t.loadPayment(ctx, repo, paymentID)
		if err != nil {
			return err
		}
		if p.Status != PaymentPending {
			return invalidTransition("payment", string(p.ID), string(p.Status), "reject")
		}
		now := t.now().UTC()
		payment = *p
		payment.Status = PaymentRejected
		payment.RejectedBy = actor
		payment.RejectedAt = &now
		payment.RejectionReason = reason
		payment.UpdatedAt = now
		return repo.UpdatePayment(ctx, payment, PaymentPending)
	})
	if err != nil {
		return nil, err
	}

	observability.AdvancePayments.WithLabelValues("rejected").Inc()
	t.logger().InfoContext(ctx, "advance payment rejected",
		slog.String("payment_id", string(payment.ID)),
		slog.String("actor", actor),
	)
	return &payment, nil
}

func (t *AdvanceTracker) loadPayment(ctx context.Context, repo Repository, id PaymentID) (*AdvancePayment, *SalaryAdvance, error) {
	p, err := repo.GetPayment(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	if p == nil {
		return nil, nil, notFound("payment", string(id))
	}
	a, err := repo.GetAdvance(ctx, p.AdvanceID)
	if err != nil {
		return nil, nil, err
	}
	if a == nil {
		return nil, nil, notFound("advance", string(p.AdvanceID))
	}
	return p, a, nil
}

// GetAdvance returns one advance.
func (t *AdvanceTracker) GetAdvance(ctx context.Context, id AdvanceID) (*SalaryAdvance, error) {
	a, err := t.Store.GetAdvance(ctx, id)
	if err != nil {
		return nil, err
	}
	if a == nil {
		return nil, notFound("advance", string(id))
	}
	return a, nil
}

func (t *AdvanceTracker) ListAdvances(ctx context.Context, employeeID EmployeeID) ([]SalaryAdvance, error) {
	return t.Store.ListAdvances(ctx, employeeID)
}

func (t *AdvanceTracker) ListPayments(ctx context.Context, advanceID AdvanceID) ([]AdvancePayment, error) {
	return t.Store.ListPayments(ctx, advanceID)
}

func (t *AdvanceTracker) logActivation(ctx context.Context, adv *SalaryAdvance) {
	observability.AdvancePayments.WithLabelValues("activated").Inc()
	t.logger().InfoContext(ctx, "salary advance activated",
		slog.String("advance_id", string(adv.ID)),
		slog.String("employee_id", string(adv.EmployeeID)),
		slog.String("approval_id", string(adv.ApprovalRequestID)),
		slog.String("amount", adv.OriginalAmount.StringFixed(2)),
	)
}

func (t *AdvanceTracker) notify(ctx context.Context, notes ...Notification) {
	dispatcher{notifier: t.Notifier, logger: t.logger()}.send(ctx, notes)
}

func (t *AdvanceTracker) now() time.Time {
	if t.Clock != nil {
		return t.Clock()
	}
	return time.Now()
}

func (t *AdvanceTracker) logger() *slog.Logger {
	if t.Logger != nil {
		return t.Logger
	}
	return slog.Default()
}

func advanceDetails(req ApprovalRequest) (AdvanceDetails, error) {
	parsed, err := req.ParsedDetails()
	if err != nil {
		return AdvanceDetails{}, err
	}
	d, ok := parsed.(AdvanceDetails)
	if !ok {
		return AdvanceDetails{}, fmt.Errorf("%w: expected advance details for %s", ErrInvalidDetails, req.ID)
	}
	return d, nil
}

// =============================================================================
// APPROVAL HANDLER - "Salary Advance"
// =============================================================================

// advanceApprovalHandler activates the advance on Finance approval. A
// rejected request creates nothing; the employee is told why.
type advanceApprovalHandler struct {
	t *AdvanceTracker
}

func (h advanceApprovalHandler) OnApproved(ctx context.Context, repo Repository, req ApprovalRequest) ([]Notification, error) {
	adv, created, notes, err := h.t.activateIn(ctx, repo, req)
	if err != nil {
		return nil, fmt.Errorf("failed to activate advance for %s: %w", req.ID, err)
	}
	if created {
		h.t.logActivation(ctx, adv)
	}
	return notes, nil
}

func (h advanceApprovalHandler) OnRejected(ctx context.Context, repo Repository, req ApprovalRequest) ([]Notification, error) {
	d, err := advanceDetails(req)
	if err != nil {
		// Nothing to undo; the request is rejected regardless.
		if errors.Is(err, ErrInvalidDetails) {
			return nil, nil
		}
		return nil, err
	}
	emp, err := repo.GetEmployee(ctx, d.EmployeeID)
	if err != nil || emp == nil {
		return nil, err
	}
	msg := fmt.Sprintf("Your salary advance request of %s was not approved.", d.Amount.StringFixed(2))
	if req.RejectionReason != "" {
		msg += " Reason: " + req.RejectionReason
	}
	return []Notification{{Phone: emp.Phone, Message: msg}}, nil
}
