/*
withdrawal.go - Withdrawal requests and balance reservations

PURPOSE:
  Lets an employee draw earned salary before payday. A request reserves its
  amount the moment it is admitted, so two requests can never jointly spend
  more than the employee has.

REQUEST FLOW:
  RequestWithdrawal ──▶ pending ──approve──▶ approved ──markPaid──▶ paid
                           │                    │                    │
                           ├──reject/cancel─────┴──▶ rejected /      └─reversePayout─▶ reversed
                           │                          cancelled
  pending and approved hold a reservation. Only markPaid writes to the
  ledger (WITHDRAWAL_DEBIT, key "WITHDRAWAL:{id}"); rejecting or cancelling
  releases the reservation without any entry.

THE RACE THIS CLOSES:
  Two concurrent requests both reading "available = 100000" and both being
  admitted for 70000 and 60000. Admission recomputes the balance and inserts
  the request inside one WithTx, and WithTx serializes writers, so the
  second request sees the first one's reservation.

HIGH-VALUE WITHDRAWALS:
  When HighValueThreshold is set and amount >= threshold, admission also
  submits a "Withdrawal" ApprovalRequest in the same unit. Such a withdrawal
  is approved only by the workflow's Finance approval; ApproveWithdrawal
  refuses it with ErrApprovalRequired.

SEE ALSO:
  - balance.go: Availability
  - approval.go: Two-stage gate for high-value requests
*/
package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/warp/ledger-engine/observability"
)

// =============================================================================
// WITHDRAWAL REQUEST
// =============================================================================

type WithdrawalStatus string

const (
	WithdrawalPending   WithdrawalStatus = "pending"
	WithdrawalApproved  WithdrawalStatus = "approved"
	WithdrawalRejected  WithdrawalStatus = "rejected"
	WithdrawalPaid      WithdrawalStatus = "paid"
	WithdrawalCancelled WithdrawalStatus = "cancelled"
	WithdrawalReversed  WithdrawalStatus = "reversed"
)

// HoldsReservation reports whether a withdrawal in this status still counts
// against the employee's available balance.
func (s WithdrawalStatus) HoldsReservation() bool {
	return s == WithdrawalPending || s == WithdrawalApproved
}

type Channel string

const (
	ChannelMobileMoney Channel = "mobile_money"
	ChannelBank        Channel = "bank"
	ChannelCash        Channel = "cash"
)

type WithdrawalRequest struct {
	ID          WithdrawalID
	EmployeeID  EmployeeID
	Amount      decimal.Decimal
	PhoneNumber string
	Channel     Channel
	Status      WithdrawalStatus
	RequestRef  string

	// ApprovalID is set for high-value withdrawals gated by the workflow.
	ApprovalID ApprovalID

	RequestedBy string
	ApprovedBy  string
	ApprovedAt  *time.Time
	PaidBy      string
	PaidAt      *time.Time
	ResolvedBy  string // who rejected, cancelled or reversed
	ResolvedAt  *time.Time
	Reason      string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// WithdrawalInput is the input to RequestWithdrawal.
type WithdrawalInput struct {
	EmployeeID  EmployeeID
	Amount      decimal.Decimal
	PhoneNumber string // defaults to the employee's phone
	Channel     Channel
	RequestedBy string
}

// =============================================================================
// WITHDRAWAL MANAGER
// =============================================================================

type WithdrawalManager struct {
	Store     TxRepository
	Approvals *ApprovalWorkflow

	// HighValueThreshold gates withdrawals at or above it through the
	// approval workflow. Zero disables gating.
	HighValueThreshold decimal.Decimal

	Notifier Notifier
	Logger   *slog.Logger
	Clock    func() time.Time
}

// RequestWithdrawal admits a withdrawal if it fits the employee's available
// balance, reserving the amount. Fails with *InsufficientBalanceError
// carrying the exact available figure otherwise.
func (m *WithdrawalManager) RequestWithdrawal(ctx context.Context, in WithdrawalInput) (*WithdrawalRequest, error) {
	if in.RequestedBy == "" {
		observability.WithdrawalRequests.WithLabelValues("invalid").Inc()
		return nil, ErrActorRequired
	}
	amount := Round2(in.Amount)
	if !amount.IsPositive() {
		observability.WithdrawalRequests.WithLabelValues("invalid").Inc()
		return nil, ErrInvalidAmount
	}
	if in.Channel == "" {
		in.Channel = ChannelMobileMoney
	}

	var created WithdrawalRequest
	err := m.Store.WithTx(ctx, func(repo Repository) error {
		emp, err := repo.GetEmployee(ctx, in.EmployeeID)
		if err != nil {
			return err
		}
		if emp == nil {
			return notFound("employee", string(in.EmployeeID))
		}
		if !emp.Active {
			return ErrEmployeeInactive
		}

		balance, err := ComputeBalance(ctx, repo, in.EmployeeID)
		if err != nil {
			return fmt.Errorf("failed to compute balance: %w", err)
		}
		if amount.GreaterThan(balance.AvailableToRequest) {
			return &InsufficientBalanceError{
				EmployeeID: in.EmployeeID,
				Available:  balance.AvailableToRequest,
				Requested:  amount,
			}
		}

		now := m.now().UTC()
		phone := in.PhoneNumber
		if phone == "" {
			phone = emp.Phone
		}
		created = WithdrawalRequest{
			ID:          WithdrawalID(uuid.NewString()),
			EmployeeID:  in.EmployeeID,
			Amount:      amount,
			PhoneNumber: phone,
			Channel:     in.Channel,
			Status:      WithdrawalPending,
			RequestRef:  newRequestRef(now),
			RequestedBy: in.RequestedBy,
			CreatedAt:   now,
			UpdatedAt:   now,
		}

		if m.requiresApproval(amount) {
			approvalID, err := m.submitApproval(ctx, repo, created)
			if err != nil {
				return err
			}
			created.ApprovalID = approvalID
		}

		if err := repo.InsertWithdrawal(ctx, created); err != nil {
			return fmt.Errorf("failed to save withdrawal: %w", err)
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrInsufficientBalance) {
			observability.WithdrawalRequests.WithLabelValues("insufficient_balance").Inc()
		} else {
			observability.WithdrawalRequests.WithLabelValues("invalid").Inc()
		}
		return nil, err
	}

	observability.WithdrawalRequests.WithLabelValues("accepted").Inc()
	m.logger().InfoContext(ctx, "withdrawal requested",
		slog.String("withdrawal_id", string(created.ID)),
		slog.String("employee_id", string(created.EmployeeID)),
		slog.String("amount", created.Amount.StringFixed(2)),
		slog.String("request_ref", created.RequestRef),
		slog.Bool("gated", created.ApprovalID != ""),
	)
	m.notify(ctx, Notification{
		Phone: created.PhoneNumber,
		Message: fmt.Sprintf("Withdrawal request %s for %s received and awaiting approval.",
			created.RequestRef, created.Amount.StringFixed(2)),
	})
	return &created, nil
}

func (m *WithdrawalManager) requiresApproval(amount decimal.Decimal) bool {
	return m.HighValueThreshold.IsPositive() && !amount.LessThan(m.HighValueThreshold)
}

func (m *WithdrawalManager) submitApproval(ctx context.Context, repo Repository, w WithdrawalRequest) (ApprovalID, error) {
	if m.Approvals == nil {
		return "", fmt.Errorf("withdrawal %s needs approval but no workflow is configured", w.RequestRef)
	}
	details, err := json.Marshal(WithdrawalDetails{
		WithdrawalID: w.ID,
		EmployeeID:   w.EmployeeID,
		Amount:       w.Amount,
		RequestRef:   w.RequestRef,
	})
	if err != nil {
		return "", err
	}
	req, err := m.Approvals.submitIn(ctx, repo, SubmitApproval{
		Type:        TypeWithdrawal,
		Amount:      w.Amount,
		RequestedBy: w.RequestedBy,
		Details:     details,
	})
	if err != nil {
		return "", err
	}
	return req.ID, nil
}

// ApproveWithdrawal authorizes payout of a pending withdrawal. The amount
// stays reserved until MarkPaid.
func (m *WithdrawalManager) ApproveWithdrawal(ctx context.Context, id WithdrawalID, actor string) (*WithdrawalRequest, error) {
	return m.transition(ctx, id, actor, func(repo Repository, w *WithdrawalRequest, at time.Time) ([]Notification, error) {
		if w.ApprovalID != "" {
			return nil, fmt.Errorf("withdrawal %s is gated by approval %s: %w", w.RequestRef, w.ApprovalID, ErrApprovalRequired)
		}
		return m.approveIn(w, actor, at)
	})
}

func (m *WithdrawalManager) approveIn(w *WithdrawalRequest, actor string, at time.Time) ([]Notification, error) {
	if w.Status != WithdrawalPending {
		return nil, invalidTransition("withdrawal", string(w.ID), string(w.Status), "approve")
	}
	w.Status = WithdrawalApproved
	w.ApprovedBy = actor
	w.ApprovedAt = &at
	return []Notification{{
		Phone:   w.PhoneNumber,
		Message: fmt.Sprintf("Withdrawal %s for %s approved. Payment is on the way.", w.RequestRef, w.Amount.StringFixed(2)),
	}}, nil
}

// MarkPaid records the payout: it appends the WITHDRAWAL_DEBIT entry and
// releases the reservation. Calling it again on a paid withdrawal returns the
// withdrawal unchanged.
func (m *WithdrawalManager) MarkPaid(ctx context.Context, id WithdrawalID, actor string) (*WithdrawalRequest, error) {
	return m.transition(ctx, id, actor, func(repo Repository, w *WithdrawalRequest, at time.Time) ([]Notification, error) {
		if w.Status == WithdrawalPaid {
			return nil, errAlreadyApplied
		}
		if w.Status != WithdrawalApproved {
			return nil, invalidTransition("withdrawal", string(w.ID), string(w.Status), "mark paid")
		}

		created, err := newLedgerAt(repo, m.now).Post(ctx, Entry{
			EmployeeID:   w.EmployeeID,
			Kind:         KindWithdrawalDebit,
			Amount:       w.Amount.Neg(),
			ReferenceKey: WithdrawalKey(w.ID),
			EffectiveOn:  DayOf(at),
			SourceID:     string(w.ID),
			Memo:         "withdrawal " + w.RequestRef,
			CreatedBy:    actor,
			CreatedAt:    at,
		})
		if err != nil {
			return nil, err
		}
		if !created {
			m.logger().WarnContext(ctx, "withdrawal debit already recorded",
				slog.String("withdrawal_id", string(w.ID)))
		}

		w.Status = WithdrawalPaid
		w.PaidBy = actor
		w.PaidAt = &at
		return []Notification{{
			Phone:   w.PhoneNumber,
			Message: fmt.Sprintf("Withdrawal %s for %s has been paid.", w.RequestRef, w.Amount.StringFixed(2)),
		}}, nil
	})
}

// RejectWithdrawal refuses a pending or approved withdrawal and releases its
// reservation. No ledger entry is written.
func (m *WithdrawalManager) RejectWithdrawal(ctx context.Context, id WithdrawalID, actor, reason string) (*WithdrawalRequest, error) {
	return m.transition(ctx, id, actor, func(repo Repository, w *WithdrawalRequest, at time.Time) ([]Notification, error) {
		return m.rejectIn(w, actor, reason, at)
	})
}

func (m *WithdrawalManager) rejectIn(w *WithdrawalRequest, actor, reason string, at time.Time) ([]Notification, error) {
	if !w.Status.HoldsReservation() {
		return nil, invalidTransition("withdrawal", string(w.ID), string(w.Status), "reject")
	}
	w.Status = WithdrawalRejected
	w.ResolvedBy = actor
	w.ResolvedAt = &at
	w.Reason = reason
	msg := fmt.Sprintf("Withdrawal %s for %s was rejected.", w.RequestRef, w.Amount.StringFixed(2))
	if reason != "" {
		msg += " Reason: " + reason
	}
	return []Notification{{Phone: w.PhoneNumber, Message: msg}}, nil
}

// CancelWithdrawal withdraws the request on the employee's behalf and
// releases its reservation.
func (m *WithdrawalManager) CancelWithdrawal(ctx context.Context, id WithdrawalID, actor string) (*WithdrawalRequest, error) {
	return m.transition(ctx, id, actor, func(repo Repository, w *WithdrawalRequest, at time.Time) ([]Notification, error) {
		if !w.Status.HoldsReservation() {
			return nil, invalidTransition("withdrawal", string(w.ID), string(w.Status), "cancel")
		}
		w.Status = WithdrawalCancelled
		w.ResolvedBy = actor
		w.ResolvedAt = &at
		return nil, nil
	})
}

// ReversePayout records that a paid withdrawal never reached the employee
// (bounced mobile-money transfer, returned bank payment). It appends a
// WITHDRAWAL_REVERSAL credit; the original debit stays in the ledger.
func (m *WithdrawalManager) ReversePayout(ctx context.Context, id WithdrawalID, actor, reason string) (*WithdrawalRequest, error) {
	return m.transition(ctx, id, actor, func(repo Repository, w *WithdrawalRequest, at time.Time) ([]Notification, error) {
		if w.Status != WithdrawalPaid {
			return nil, invalidTransition("withdrawal", string(w.ID), string(w.Status), "reverse")
		}
		if _, err := newLedgerAt(repo, m.now).Post(ctx, Entry{
			EmployeeID:   w.EmployeeID,
			Kind:         KindWithdrawalReversal,
			Amount:       w.Amount,
			ReferenceKey: WithdrawalReversalKey(w.ID),
			EffectiveOn:  DayOf(at),
			SourceID:     string(w.ID),
			Memo:         "payout reversed: " + reason,
			CreatedBy:    actor,
			CreatedAt:    at,
		}); err != nil {
			return nil, err
		}
		w.Status = WithdrawalReversed
		w.ResolvedBy = actor
		w.ResolvedAt = &at
		w.Reason = reason
		return []Notification{{
			Phone:   w.PhoneNumber,
			Message: fmt.Sprintf("Payout of withdrawal %s was returned; %s is back in your balance.", w.RequestRef, w.Amount.StringFixed(2)),
		}}, nil
	})
}

// errAlreadyApplied tells transition to return the record unchanged.
var errAlreadyApplied = errors.New("already applied")

type withdrawalMutation func(repo Repository, w *WithdrawalRequest, at time.Time) ([]Notification, error)

func (m *WithdrawalManager) transition(ctx context.Context, id WithdrawalID, actor string, mutate withdrawalMutation) (*WithdrawalRequest, error) {
	if actor == "" {
		return nil, ErrActorRequired
	}

	var (
		result  WithdrawalRequest
		notes   []Notification
		changed bool
	)
	err := m.Store.WithTx(ctx, func(repo Repository) error {
		var err error
		result, notes, changed, err = m.transitionIn(ctx, repo, id, mutate)
		return err
	})
	if err != nil {
		return nil, err
	}

	if changed {
		observability.WithdrawalTransitions.WithLabelValues(string(result.Status)).Inc()
		m.logger().InfoContext(ctx, "withdrawal transition",
			slog.String("withdrawal_id", string(id)),
			slog.String("status", string(result.Status)),
			slog.String("actor", actor),
		)
	}
	m.notify(ctx, notes...)
	return &result, nil
}

// transitionIn loads, mutates and conditionally saves a withdrawal through
// repo. changed is false when the mutation reported errAlreadyApplied.
func (m *WithdrawalManager) transitionIn(ctx context.Context, repo Repository, id WithdrawalID, mutate withdrawalMutation) (WithdrawalRequest, []Notification, bool, error) {
	w, err := repo.GetWithdrawal(ctx, id)
	if err != nil {
		return WithdrawalRequest{}, nil, false, err
	}
	if w == nil {
		return WithdrawalRequest{}, nil, false, notFound("withdrawal", string(id))
	}

	from := w.Status
	updated := *w
	now := m.now().UTC()
	notes, err := mutate(repo, &updated, now)
	if errors.Is(err, errAlreadyApplied) {
		return *w, nil, false, nil
	}
	if err != nil {
		return WithdrawalRequest{}, nil, false, err
	}

	updated.UpdatedAt = now
	if err := repo.UpdateWithdrawal(ctx, updated, from); err != nil {
		return WithdrawalRequest{}, nil, false, fmt.Errorf("failed to update withdrawal %s: %w", id, err)
	}
	return updated, notes, true, nil
}

// GetWithdrawal returns one withdrawal.
func (m *WithdrawalManager) GetWithdrawal(ctx context.Context, id WithdrawalID) (*WithdrawalRequest, error) {
	w, err := m.Store.GetWithdrawal(ctx, id)
	if err != nil {
		return nil, err
	}
	if w == nil {
		return nil, notFound("withdrawal", string(id))
	}
	return w, nil
}

// ListWithdrawals returns an employee's withdrawals, newest first.
func (m *WithdrawalManager) ListWithdrawals(ctx context.Context, employeeID EmployeeID) ([]WithdrawalRequest, error) {
	return m.Store.ListWithdrawals(ctx, employeeID)
}

// ListOpenWithdrawals returns every withdrawal still holding a reservation.
func (m *WithdrawalManager) ListOpenWithdrawals(ctx context.Context) ([]WithdrawalRequest, error) {
	return m.Store.ListWithdrawalsByStatus(ctx, WithdrawalPending, WithdrawalApproved)
}

func (m *WithdrawalManager) notify(ctx context.Context, notes ...Notification) {
	dispatcher{notifier: m.Notifier, logger: m.logger()}.send(ctx, notes)
}

func (m *WithdrawalManager) now() time.Time {
	if m.Clock != nil {
		return m.Clock()
	}
	return time.Now()
}

func (m *WithdrawalManager) logger() *slog.Logger {
	if m.Logger != nil {
		return m.Logger
	}
	return slog.Default()
}

func newRequestRef(at time.Time) string {
	suffix := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:8])
	return fmt.Sprintf("WR-%s-%s", at.Format("20060102"), suffix)
}

// =============================================================================
// APPROVAL HANDLER - "Withdrawal"
// =============================================================================

// withdrawalApprovalHandler authorizes or rejects the withdrawal linked to a
// "Withdrawal" approval request.
type withdrawalApprovalHandler struct {
	m *WithdrawalManager
}

func (h withdrawalApprovalHandler) OnApproved(ctx context.Context, repo Repository, req ApprovalRequest) ([]Notification, error) {
	d, err := h.details(req)
	if err != nil {
		return nil, err
	}
	w, notes, _, err := h.m.transitionIn(ctx, repo, d.WithdrawalID, func(_ Repository, w *WithdrawalRequest, at time.Time) ([]Notification, error) {
		if w.ApprovalID != req.ID {
			return nil, fmt.Errorf("withdrawal %s is not linked to approval %s", w.ID, req.ID)
		}
		return h.m.approveIn(w, req.FinanceApprovedBy, at)
	})
	if err != nil {
		return nil, err
	}
	observability.WithdrawalTransitions.WithLabelValues(string(w.Status)).Inc()
	return notes, nil
}

func (h withdrawalApprovalHandler) OnRejected(ctx context.Context, repo Repository, req ApprovalRequest) ([]Notification, error) {
	d, err := h.details(req)
	if err != nil {
		return nil, err
	}
	w, notes, changed, err := h.m.transitionIn(ctx, repo, d.WithdrawalID, func(_ Repository, w *WithdrawalRequest, at time.Time) ([]Notification, error) {
		if !w.Status.HoldsReservation() {
			// Already released by a direct reject or cancel.
			return nil, errAlreadyApplied
		}
		return h.m.rejectIn(w, req.RejectedBy, req.RejectionReason, at)
	})
	if err != nil {
		return nil, err
	}
	if changed {
		observability.WithdrawalTransitions.WithLabelValues(string(w.Status)).Inc()
	}
	return notes, nil
}

func (h withdrawalApprovalHandler) details(req ApprovalRequest) (WithdrawalDetails, error) {
	parsed, err := req.ParsedDetails()
	if err != nil {
		return WithdrawalDetails{}, err
	}
	d, ok := parsed.(WithdrawalDetails)
	if !ok {
		return WithdrawalDetails{}, fmt.Errorf("%w: expected withdrawal details for %s", ErrInvalidDetails, req.ID)
	}
	return d, nil
}
