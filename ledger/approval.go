/*
approval.go - Two-stage approval workflow (Admin, then Finance)

PURPOSE:
  Every money-moving decision that needs sign-off goes through one state
  machine. The workflow itself never moves money; on the final Finance
  approval it calls the ApprovalHandler registered for the request's type
  (salary advance activation, high-value withdrawal authorization) inside
  the same unit of work.

STATE MACHINE:
  ┌───────────────┐  adminApprove  ┌─────────────────┐  financeApprove  ┌──────────┐
  │ pending_admin │ ─────────────▶ │ pending_finance │ ───────────────▶ │ approved │
  └───────────────┘                └─────────────────┘                  └──────────┘
          │ adminReject                     │ financeReject
          ▼                                 ▼
     ┌──────────┐                      ┌──────────┐
     │ rejected │                      │ rejected │
     └──────────┘                      └──────────┘

  approved and rejected are terminal. Any action from another stage fails
  with InvalidTransitionError; nothing is silently ignored, so a double
  approval click surfaces as an error instead of a second activation.

ACTORS:
  Every transition takes the acting user explicitly. The workflow has no
  access to a session.

SEE ALSO:
  - details.go: Typed payloads
  - advance.go: Handler for "Salary Advance"
  - withdrawal.go: Handler for "Withdrawal"
*/
package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/warp/ledger-engine/observability"
)

// =============================================================================
// APPROVAL REQUEST
// =============================================================================

type ApprovalStage string

const (
	StagePendingAdmin   ApprovalStage = "pending_admin"
	StagePendingFinance ApprovalStage = "pending_finance"
	StageApproved       ApprovalStage = "approved"
	StageRejected       ApprovalStage = "rejected"
)

func (s ApprovalStage) IsTerminal() bool {
	return s == StageApproved || s == StageRejected
}

// ApprovalRequest is the envelope shown on the approval screens.
type ApprovalRequest struct {
	ID          ApprovalID
	Type        ApprovalType
	Amount      decimal.Decimal
	RequestedBy string
	Stage       ApprovalStage

	AdminApprovedBy   string
	AdminApprovedAt   *time.Time
	FinanceApprovedBy string
	FinanceApprovedAt *time.Time
	RejectedBy        string
	RejectedAt        *time.Time
	RejectionReason   string

	Details json.RawMessage

	CreatedAt time.Time
	UpdatedAt time.Time
}

// ParsedDetails decodes Details according to Type.
func (a ApprovalRequest) ParsedDetails() (Details, error) {
	return ParseDetails(a.Type, a.Details)
}

// =============================================================================
// HANDLERS - Type-specific effects of a terminal decision
// =============================================================================

// ApprovalHandler applies the effect of a terminal decision. Both methods run
// inside the unit of work that records the decision; returning an error rolls
// the decision back. Returned notifications are sent after commit.
type ApprovalHandler interface {
	OnApproved(ctx context.Context, repo Repository, req ApprovalRequest) ([]Notification, error)
	OnRejected(ctx context.Context, repo Repository, req ApprovalRequest) ([]Notification, error)
}

// =============================================================================
// WORKFLOW
// =============================================================================

// SubmitApproval is the input to Submit.
type SubmitApproval struct {
	Type        ApprovalType
	Amount      decimal.Decimal
	RequestedBy string
	Details     json.RawMessage
}

type ApprovalWorkflow struct {
	Store    TxRepository
	Handlers map[ApprovalType]ApprovalHandler
	Notifier Notifier
	Logger   *slog.Logger
	Clock    func() time.Time
}

// Register installs the handler for an approval type.
func (w *ApprovalWorkflow) Register(t ApprovalType, h ApprovalHandler) {
	if w.Handlers == nil {
		w.Handlers = make(map[ApprovalType]ApprovalHandler)
	}
	w.Handlers[t] = h
}

// Submit creates a request in pending_admin.
func (w *ApprovalWorkflow) Submit(ctx context.Context, in SubmitApproval) (*ApprovalRequest, error) {
	var created *ApprovalRequest
	err := w.Store.WithTx(ctx, func(repo Repository) error {
		var err error
		created, err = w.submitIn(ctx, repo, in)
		return err
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

// submitIn validates and inserts a request through repo. Callers that create
// a request as part of a larger unit (high-value withdrawals) use it directly.
func (w *ApprovalWorkflow) submitIn(ctx context.Context, repo Repository, in SubmitApproval) (*ApprovalRequest, error) {
	if in.RequestedBy == "" {
		return nil, ErrActorRequired
	}
	if in.Type == "" {
		return nil, fmt.Errorf("%w: type is required", ErrInvalidDetails)
	}
	amount := Round2(in.Amount)
	if !amount.IsPositive() {
		return nil, ErrInvalidAmount
	}

	details, err := ParseDetails(in.Type, in.Details)
	if err != nil {
		return nil, err
	}
	raw := in.Details
	switch d := details.(type) {
	case AdvanceDetails:
		if !Round2(d.Amount).Equal(amount) {
			return nil, fmt.Errorf("%w: details amount %s does not match request amount %s",
				ErrInvalidDetails, d.Amount, amount)
		}
		emp, err := repo.GetEmployee(ctx, d.EmployeeID)
		if err != nil {
			return nil, err
		}
		if emp == nil {
			return nil, notFound("employee", string(d.EmployeeID))
		}
		if !emp.Active {
			return nil, ErrEmployeeInactive
		}
	case UnknownDetails:
		w.logger().WarnContext(ctx, "approval submitted with unrecognized type",
			slog.String("type", string(in.Type)))
	}
	if len(raw) == 0 {
		raw = json.RawMessage("{}")
	}

	now := w.now().UTC()
	req := ApprovalRequest{
		ID:          ApprovalID(uuid.NewString()),
		Type:        in.Type,
		Amount:      amount,
		RequestedBy: in.RequestedBy,
		Stage:       StagePendingAdmin,
		Details:     raw,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := repo.InsertApproval(ctx, req); err != nil {
		return nil, fmt.Errorf("failed to save approval request: %w", err)
	}
	observability.ApprovalTransitions.WithLabelValues(string(req.Type), "submit").Inc()
	return &req, nil
}

// AdminApprove moves pending_admin to pending_finance.
func (w *ApprovalWorkflow) AdminApprove(ctx context.Context, id ApprovalID, actor string) (*ApprovalRequest, error) {
	return w.transition(ctx, id, actor, "admin-approve", StagePendingAdmin,
		func(req *ApprovalRequest, at time.Time) {
			req.Stage = StagePendingFinance
			req.AdminApprovedBy = actor
			req.AdminApprovedAt = &at
		})
}

// AdminReject moves pending_admin to rejected.
func (w *ApprovalWorkflow) AdminReject(ctx context.Context, id ApprovalID, actor, reason string) (*ApprovalRequest, error) {
	return w.transition(ctx, id, actor, "admin-reject", StagePendingAdmin,
		func(req *ApprovalRequest, at time.Time) {
			req.Stage = StageRejected
			req.RejectedBy = actor
			req.RejectedAt = &at
			req.RejectionReason = reason
		})
}

// FinanceApprove moves pending_finance to approved and runs the type's
// activation in the same unit of work.
func (w *ApprovalWorkflow) FinanceApprove(ctx context.Context, id ApprovalID, actor string) (*ApprovalRequest, error) {
	return w.transition(ctx, id, actor, "finance-approve", StagePendingFinance,
		func(req *ApprovalRequest, at time.Time) {
			req.Stage = StageApproved
			req.FinanceApprovedBy = actor
			req.FinanceApprovedAt = &at
		})
}

// FinanceReject moves pending_finance to rejected.
func (w *ApprovalWorkflow) FinanceReject(ctx context.Context, id ApprovalID, actor, reason string) (*ApprovalRequest, error) {
	return w.transition(ctx, id, actor, "finance-reject", StagePendingFinance,
		func(req *ApprovalRequest, at time.Time) {
			req.Stage = StageRejected
			req.RejectedBy = actor
			req.RejectedAt = &at
			req.RejectionReason = reason
		})
}

func (w *ApprovalWorkflow) transition(
	ctx context.Context,
	id ApprovalID,
	actor string,
	action string,
	from ApprovalStage,
	apply func(*ApprovalRequest, time.Time),
) (*ApprovalRequest, error) {
	if actor == "" {
		return nil, ErrActorRequired
	}

	var (
		updated ApprovalRequest
		notes   []Notification
	)
	err := w.Store.WithTx(ctx, func(repo Repository) error {
		req, err := repo.GetApproval(ctx, id)
		if err != nil {
			return err
		}
		if req == nil {
			return notFound("approval", string(id))
		}
		if req.Stage != from {
			return invalidTransition("approval", string(id), string(req.Stage), action)
		}

		now := w.now().UTC()
		updated = *req
		apply(&updated, now)
		updated.UpdatedAt = now

		if err := repo.UpdateApproval(ctx, updated, from); err != nil {
			return fmt.Errorf("failed to update approval %s: %w", id, err)
		}

		notes, err = w.runHandler(ctx, repo, updated)
		return err
	})
	if err != nil {
		return nil, err
	}

	observability.ApprovalTransitions.WithLabelValues(string(updated.Type), action).Inc()
	w.logger().InfoContext(ctx, "approval transition",
		slog.String("approval_id", string(id)),
		slog.String("type", string(updated.Type)),
		slog.String("action", action),
		slog.String("actor", actor),
		slog.String("stage", string(updated.Stage)),
	)
	dispatcher{notifier: w.Notifier, logger: w.logger()}.send(ctx, notes)
	return &updated, nil
}

func (w *ApprovalWorkflow) runHandler(ctx context.Context, repo Repository, req ApprovalRequest) ([]Notification, error) {
	if !req.Stage.IsTerminal() {
		return nil, nil
	}
	h, ok := w.Handlers[req.Type]
	if !ok {
		w.logger().InfoContext(ctx, "no handler for approval type",
			slog.String("approval_id", string(req.ID)),
			slog.String("type", string(req.Type)))
		return nil, nil
	}
	if req.Stage == StageApproved {
		return h.OnApproved(ctx, repo, req)
	}
	return h.OnRejected(ctx, repo, req)
}

// Get returns one approval request.
func (w *ApprovalWorkflow) Get(ctx context.Context, id ApprovalID) (*ApprovalRequest, error) {
	req, err := w.Store.GetApproval(ctx, id)
	if err != nil {
		return nil, err
	}
	if req == nil {
		return nil, notFound("approval", string(id))
	}
	return req, nil
}

// List returns approvals in the given stages; no stages means all.
func (w *ApprovalWorkflow) List(ctx context.Context, stages ...ApprovalStage) ([]ApprovalRequest, error) {
	return w.Store.ListApprovals(ctx, stages...)
}

func (w *ApprovalWorkflow) now() time.Time {
	if w.Clock != nil {
		return w.Clock()
	}
	return time.Now()
}

func (w *ApprovalWorkflow) logger() *slog.Logger {
	if w.Logger != nil {
		return w.Logger
	}
	return slog.Default()
}
