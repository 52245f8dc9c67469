/*
handlers.go - HTTP API handlers for the employee ledger

PURPOSE:
  Exposes the ledger engine via REST API. Handles HTTP request/response and
  JSON serialization, and delegates every decision to the ledger package.

ENDPOINTS:
  Employees:
    GET    /api/employees                       List employees
    POST   /api/employees                       Create or update employee
    GET    /api/employees/{id}                  Get employee
    GET    /api/employees/{id}/balance          Balance and availability
    GET    /api/employees/{id}/statement        Entries with running balance (?format=csv)
    GET    /api/employees/{id}/withdrawals      Withdrawal history
    POST   /api/employees/{id}/withdrawals      Request a withdrawal
    GET    /api/employees/{id}/advances         Salary advances

  Withdrawals:
    GET    /api/withdrawals/{id}
    POST   /api/withdrawals/{id}/approve|reject|cancel|pay|reverse

  Approvals:
    GET    /api/approvals?stage=pending_admin,pending_finance
    POST   /api/approvals                       Submit
    GET    /api/approvals/{id}
    POST   /api/approvals/{id}/admin-approve|admin-reject
    POST   /api/approvals/{id}/finance-approve|finance-reject
    POST   /api/approvals/{id}/activate         Activate an approved advance

  Advances:
    GET    /api/advances/{id}
    GET    /api/advances/{id}/payments
    POST   /api/advances/{id}/payments          Record installment
    POST   /api/payments/{id}/approve|reject

  Admin:
    POST   /api/admin/accrual/run               {date}
    POST   /api/admin/accrual/backfill          {from, to}

  Scenarios (demo data, see scenarios.go):
    GET    /api/scenarios
    GET    /api/scenarios/current
    POST   /api/scenarios/load                  {scenario_id}

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Validation errors, invalid input
  - 404: Resource not found
  - 409: Wrong state, insufficient balance, concurrent change
  - 500: Internal errors

SECURITY NOTE:
  No authentication. Actors are taken from request bodies as given.

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gocarina/gocsv"
	"github.com/warp/ledger-engine/ledger"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// HealthChecker reports whether the backing store is reachable.
type HealthChecker interface {
	Ping(ctx context.Context) error
}

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Engine *ledger.Engine
	Health HealthChecker
	Logger *slog.Logger

	mu              sync.Mutex
	currentScenario string
}

// NewHandler creates a new handler over the engine.
func NewHandler(engine *ledger.Engine, health HealthChecker, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{Engine: engine, Health: health, Logger: logger}
}

// Healthz reports liveness and store reachability.
func (h *Handler) Healthz(w http.ResponseWriter, r *http.Request) {
	if h.Health != nil {
		if err := h.Health.Ping(r.Context()); err != nil {
			writeError(w, http.StatusServiceUnavailable, "Store unavailable", err)
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// =============================================================================
// EMPLOYEE HANDLERS
// =============================================================================

// ListEmployees returns all employees.
func (h *Handler) ListEmployees(w http.ResponseWriter, r *http.Request) {
	employees, err := h.Engine.Employees.List(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list employees", err)
		return
	}

	dtos := make([]EmployeeDTO, len(employees))
	for i, e := range employees {
		dtos[i] = toEmployeeDTO(e)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetEmployee returns a single employee.
func (h *Handler) GetEmployee(w http.ResponseWriter, r *http.Request) {
	emp, err := h.Engine.Employees.Get(r.Context(), employeeParam(r))
	if err != nil {
		h.writeLedgerError(w, r, "Failed to get employee", err)
		return
	}
	writeJSON(w, http.StatusOK, toEmployeeDTO(*emp))
}

// CreateEmployee creates or updates an employee.
func (h *Handler) CreateEmployee(w http.ResponseWriter, r *http.Request) {
	var req CreateEmployeeRequest
	if !decodeBody(w, r, &req) {
		return
	}

	restDay, err := parseWeekday(req.RestDay)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid rest_day", err)
		return
	}
	var startDate time.Time
	if req.StartDate != "" {
		startDate, err = ledger.ParseDate(req.StartDate)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid start_date format (use YYYY-MM-DD)", err)
			return
		}
	}
	active := true
	if req.Active != nil {
		active = *req.Active
	}

	emp, err := h.Engine.Employees.Save(r.Context(), ledger.Employee{
		ID:            ledger.EmployeeID(req.ID),
		Name:          req.Name,
		Phone:         req.Phone,
		MonthlySalary: req.MonthlySalary,
		Active:        active,
		RestDay:       restDay,
		StartDate:     startDate,
	})
	if err != nil {
		h.writeLedgerError(w, r, "Failed to save employee", err)
		return
	}
	writeJSON(w, http.StatusCreated, toEmployeeDTO(*emp))
}

// =============================================================================
// BALANCE HANDLERS
// =============================================================================

// GetBalance returns ledger balance, reserved withdrawals and availability.
func (h *Handler) GetBalance(w http.ResponseWriter, r *http.Request) {
	b, err := h.Engine.Balances.GetBalance(r.Context(), employeeParam(r))
	if err != nil {
		h.writeLedgerError(w, r, "Failed to compute balance", err)
		return
	}
	writeJSON(w, http.StatusOK, toBalanceDTO(b))
}

// GetStatement returns the employee's entries with a running balance.
func (h *Handler) GetStatement(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := employeeParam(r)
	if _, err := h.Engine.Employees.Get(ctx, id); err != nil {
		h.writeLedgerError(w, r, "Failed to get employee", err)
		return
	}
	lines, err := h.Engine.Balances.GetStatement(ctx, id)
	if err != nil {
		h.writeLedgerError(w, r, "Failed to load statement", err)
		return
	}
	dtos := toStatementDTOs(lines)

	if r.URL.Query().Get("format") == "csv" {
		w.Header().Set("Content-Type", "text/csv")
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", "statement-"+string(id)+".csv"))
		if err := gocsv.Marshal(&dtos, w); err != nil {
			h.Logger.ErrorContext(ctx, "failed to write statement csv", slog.Any("error", err))
		}
		return
	}
	writeJSON(w, http.StatusOK, dtos)
}

// =============================================================================
// WITHDRAWAL HANDLERS
// =============================================================================

// RequestWithdrawal admits a withdrawal against the employee's balance.
func (h *Handler) RequestWithdrawal(w http.ResponseWriter, r *http.Request) {
	var req CreateWithdrawalRequest
	if !decodeBody(w, r, &req) {
		return
	}

	wr, err := h.Engine.Withdrawals.RequestWithdrawal(r.Context(), ledger.WithdrawalInput{
		EmployeeID:  employeeParam(r),
		Amount:      req.Amount,
		PhoneNumber: req.PhoneNumber,
		Channel:     ledger.Channel(req.Channel),
		RequestedBy: req.Actor,
	})
	if err != nil {
		h.writeLedgerError(w, r, "Withdrawal refused", err)
		return
	}
	writeJSON(w, http.StatusCreated, toWithdrawalDTO(*wr))
}

// ListEmployeeWithdrawals returns an employee's withdrawals, newest first.
func (h *Handler) ListEmployeeWithdrawals(w http.ResponseWriter, r *http.Request) {
	ws, err := h.Engine.Withdrawals.ListWithdrawals(r.Context(), employeeParam(r))
	if err != nil {
		h.writeLedgerError(w, r, "Failed to list withdrawals", err)
		return
	}
	writeJSON(w, http.StatusOK, toWithdrawalDTOs(ws))
}

// ListOpenWithdrawals returns withdrawals still holding a reservation.
func (h *Handler) ListOpenWithdrawals(w http.ResponseWriter, r *http.Request) {
	ws, err := h.Engine.Withdrawals.ListOpenWithdrawals(r.Context())
	if err != nil {
		h.writeLedgerError(w, r, "Failed to list withdrawals", err)
		return
	}
	writeJSON(w, http.StatusOK, toWithdrawalDTOs(ws))
}

func (h *Handler) GetWithdrawal(w http.ResponseWriter, r *http.Request) {
	wr, err := h.Engine.Withdrawals.GetWithdrawal(r.Context(), ledger.WithdrawalID(chi.URLParam(r, "id")))
	if err != nil {
		h.writeLedgerError(w, r, "Failed to get withdrawal", err)
		return
	}
	writeJSON(w, http.StatusOK, toWithdrawalDTO(*wr))
}

func (h *Handler) ApproveWithdrawal(w http.ResponseWriter, r *http.Request) {
	h.withdrawalAction(w, r, "Failed to approve withdrawal", func(ctx context.Context, id ledger.WithdrawalID, req ActorRequest) (*ledger.WithdrawalRequest, error) {
		return h.Engine.Withdrawals.ApproveWithdrawal(ctx, id, req.Actor)
	})
}

func (h *Handler) RejectWithdrawal(w http.ResponseWriter, r *http.Request) {
	h.withdrawalAction(w, r, "Failed to reject withdrawal", func(ctx context.Context, id ledger.WithdrawalID, req ActorRequest) (*ledger.WithdrawalRequest, error) {
		return h.Engine.Withdrawals.RejectWithdrawal(ctx, id, req.Actor, req.Reason)
	})
}

func (h *Handler) CancelWithdrawal(w http.ResponseWriter, r *http.Request) {
	h.withdrawalAction(w, r, "Failed to cancel withdrawal", func(ctx context.Context, id ledger.WithdrawalID, req ActorRequest) (*ledger.WithdrawalRequest, error) {
		return h.Engine.Withdrawals.CancelWithdrawal(ctx, id, req.Actor)
	})
}

func (h *Handler) PayWithdrawal(w http.ResponseWriter, r *http.Request) {
	h.withdrawalAction(w, r, "Failed to mark withdrawal paid", func(ctx context.Context, id ledger.WithdrawalID, req ActorRequest) (*ledger.WithdrawalRequest, error) {
		return h.Engine.Withdrawals.MarkPaid(ctx, id, req.Actor)
	})
}

func (h *Handler) ReverseWithdrawal(w http.ResponseWriter, r *http.Request) {
	h.withdrawalAction(w, r, "Failed to reverse payout", func(ctx context.Context, id ledger.WithdrawalID, req ActorRequest) (*ledger.WithdrawalRequest, error) {
		return h.Engine.Withdrawals.ReversePayout(ctx, id, req.Actor, req.Reason)
	})
}

func (h *Handler) withdrawalAction(
	w http.ResponseWriter,
	r *http.Request,
	failure string,
	action func(context.Context, ledger.WithdrawalID, ActorRequest) (*ledger.WithdrawalRequest, error),
) {
	var req ActorRequest
	if !decodeBody(w, r, &req) {
		return
	}
	wr, err := action(r.Context(), ledger.WithdrawalID(chi.URLParam(r, "id")), req)
	if err != nil {
		h.writeLedgerError(w, r, failure, err)
		return
	}
	writeJSON(w, http.StatusOK, toWithdrawalDTO(*wr))
}

// =============================================================================
// APPROVAL HANDLERS
// =============================================================================

// ListApprovals returns approvals, optionally filtered by ?stage=a,b.
func (h *Handler) ListApprovals(w http.ResponseWriter, r *http.Request) {
	var stages []ledger.ApprovalStage
	if raw := r.URL.Query().Get("stage"); raw != "" {
		for _, s := range strings.Split(raw, ",") {
			if s = strings.TrimSpace(s); s != "" {
				stages = append(stages, ledger.ApprovalStage(s))
			}
		}
	}

	reqs, err := h.Engine.Approvals.List(r.Context(), stages...)
	if err != nil {
		h.writeLedgerError(w, r, "Failed to list approvals", err)
		return
	}
	dtos := make([]ApprovalDTO, len(reqs))
	for i, a := range reqs {
		dtos[i] = toApprovalDTO(a)
	}
	writeJSON(w, http.StatusOK, dtos)
}

func (h *Handler) SubmitApproval(w http.ResponseWriter, r *http.Request) {
	var req SubmitApprovalRequest
	if !decodeBody(w, r, &req) {
		return
	}
	a, err := h.Engine.Approvals.Submit(r.Context(), ledger.SubmitApproval{
		Type:        ledger.ApprovalType(req.Type),
		Amount:      req.Amount,
		RequestedBy: req.Actor,
		Details:     req.Details,
	})
	if err != nil {
		h.writeLedgerError(w, r, "Failed to submit approval", err)
		return
	}
	writeJSON(w, http.StatusCreated, toApprovalDTO(*a))
}

func (h *Handler) GetApproval(w http.ResponseWriter, r *http.Request) {
	a, err := h.Engine.Approvals.Get(r.Context(), ledger.ApprovalID(chi.URLParam(r, "id")))
	if err != nil {
		h.writeLedgerError(w, r, "Failed to get approval", err)
		return
	}
	writeJSON(w, http.StatusOK, toApprovalDTO(*a))
}

func (h *Handler) AdminApprove(w http.ResponseWriter, r *http.Request) {
	h.approvalAction(w, r, func(ctx context.Context, id ledger.ApprovalID, req ActorRequest) (*ledger.ApprovalRequest, error) {
		return h.Engine.Approvals.AdminApprove(ctx, id, req.Actor)
	})
}

func (h *Handler) AdminReject(w http.ResponseWriter, r *http.Request) {
	h.approvalAction(w, r, func(ctx context.Context, id ledger.ApprovalID, req ActorRequest) (*ledger.ApprovalRequest, error) {
		return h.Engine.Approvals.AdminReject(ctx, id, req.Actor, req.Reason)
	})
}

func (h *Handler) FinanceApprove(w http.ResponseWriter, r *http.Request) {
	h.approvalAction(w, r, func(ctx context.Context, id ledger.ApprovalID, req ActorRequest) (*ledger.ApprovalRequest, error) {
		return h.Engine.Approvals.FinanceApprove(ctx, id, req.Actor)
	})
}

func (h *Handler) FinanceReject(w http.ResponseWriter, r *http.Request) {
	h.approvalAction(w, r, func(ctx context.Context, id ledger.ApprovalID, req ActorRequest) (*ledger.ApprovalRequest, error) {
		return h.Engine.Approvals.FinanceReject(ctx, id, req.Actor, req.Reason)
	})
}

func (h *Handler) approvalAction(
	w http.ResponseWriter,
	r *http.Request,
	action func(context.Context, ledger.ApprovalID, ActorRequest) (*ledger.ApprovalRequest, error),
) {
	var req ActorRequest
	if !decodeBody(w, r, &req) {
		return
	}
	a, err := action(r.Context(), ledger.ApprovalID(chi.URLParam(r, "id")), req)
	if err != nil {
		h.writeLedgerError(w, r, "Approval transition failed", err)
		return
	}
	writeJSON(w, http.StatusOK, toApprovalDTO(*a))
}

// ActivateAdvance activates the advance of an approved request. Used to
// recover when the activation did not run at approval time; it is a no-op
// if the advance exists.
func (h *Handler) ActivateAdvance(w http.ResponseWriter, r *http.Request) {
	adv, ok, err := h.Engine.Advances.ActivateAdvance(r.Context(), ledger.ApprovalID(chi.URLParam(r, "id")))
	if err != nil {
		h.writeLedgerError(w, r, "Failed to activate advance", err)
		return
	}
	resp := ActivationDTO{Activated: ok}
	if adv != nil {
		dto := toAdvanceDTO(*adv)
		resp.Advance = &dto
	}
	writeJSON(w, http.StatusOK, resp)
}

// =============================================================================
// ADVANCE HANDLERS
// =============================================================================

func (h *Handler) ListEmployeeAdvances(w http.ResponseWriter, r *http.Request) {
	advs, err := h.Engine.Advances.ListAdvances(r.Context(), employeeParam(r))
	if err != nil {
		h.writeLedgerError(w, r, "Failed to list advances", err)
		return
	}
	dtos := make([]AdvanceDTO, len(advs))
	for i, a := range advs {
		dtos[i] = toAdvanceDTO(a)
	}
	writeJSON(w, http.StatusOK, dtos)
}

func (h *Handler) GetAdvance(w http.ResponseWriter, r *http.Request) {
	a, err := h.Engine.Advances.GetAdvance(r.Context(), ledger.AdvanceID(chi.URLParam(r, "id")))
	if err != nil {
		h.writeLedgerError(w, r, "Failed to get advance", err)
		return
	}
	writeJSON(w, http.StatusOK, toAdvanceDTO(*a))
}

func (h *Handler) ListPayments(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := ledger.AdvanceID(chi.URLParam(r, "id"))
	if _, err := h.Engine.Advances.GetAdvance(ctx, id); err != nil {
		h.writeLedgerError(w, r, "Failed to get advance", err)
		return
	}
	ps, err := h.Engine.Advances.ListPayments(ctx, id)
	if err != nil {
		h.writeLedgerError(w, r, "Failed to list payments", err)
		return
	}
	dtos := make([]PaymentDTO, len(ps))
	for i, p := range ps {
		dtos[i] = toPaymentDTO(p)
	}
	writeJSON(w, http.StatusOK, dtos)
}

func (h *Handler) RecordPayment(w http.ResponseWriter, r *http.Request) {
	var req RecordPaymentRequest
	if !decodeBody(w, r, &req) {
		return
	}
	p, err := h.Engine.Advances.RecordPayment(r.Context(), ledger.PaymentInput{
		AdvanceID:       ledger.AdvanceID(chi.URLParam(r, "id")),
		Amount:          req.Amount,
		SalaryRequestID: req.SalaryRequestID,
		SalaryAmount:    req.SalaryAmount,
		RecordedBy:      req.Actor,
	})
	if err != nil {
		h.writeLedgerError(w, r, "Payment refused", err)
		return
	}
	writeJSON(w, http.StatusCreated, toPaymentDTO(*p))
}

func (h *Handler) ApprovePayment(w http.ResponseWriter, r *http.Request) {
	var req ActorRequest
	if !decodeBody(w, r, &req) {
		return
	}
	p, adv, err := h.Engine.Advances.ApprovePayment(r.Context(), ledger.PaymentID(chi.URLParam(r, "id")), req.Actor)
	if err != nil {
		h.writeLedgerError(w, r, "Failed to approve payment", err)
		return
	}
	writeJSON(w, http.StatusOK, PaymentApprovalDTO{Payment: toPaymentDTO(*p), Advance: toAdvanceDTO(*adv)})
}

func (h *Handler) RejectPayment(w http.ResponseWriter, r *http.Request) {
	var req ActorRequest
	if !decodeBody(w, r, &req) {
		return
	}
	p, err := h.Engine.Advances.RejectPayment(r.Context(), ledger.PaymentID(chi.URLParam(r, "id")), req.Actor, req.Reason)
	if err != nil {
		h.writeLedgerError(w, r, "Failed to reject payment", err)
		return
	}
	writeJSON(w, http.StatusOK, toPaymentDTO(*p))
}

// =============================================================================
// ACCRUAL HANDLERS
// =============================================================================

// RunAccrual credits one day. Safe to repeat.
func (h *Handler) RunAccrual(w http.ResponseWriter, r *http.Request) {
	var req AccrualRunRequest
	if r.ContentLength != 0 && !decodeBody(w, r, &req) {
		return
	}

	date := h.today()
	if req.Date != "" {
		d, err := ledger.ParseDate(req.Date)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid date format (use YYYY-MM-DD)", err)
			return
		}
		date = d
	}

	res, err := h.Engine.Accrual.RunDailyAccrual(r.Context(), date)
	if err != nil && len(res.Failed) == 0 {
		writeError(w, http.StatusInternalServerError, "Accrual failed", err)
		return
	}
	writeJSON(w, http.StatusOK, toAccrualResultDTO(res))
}

// Backfill credits every day in [from, to].
func (h *Handler) Backfill(w http.ResponseWriter, r *http.Request) {
	var req BackfillRequest
	if !decodeBody(w, r, &req) {
		return
	}
	from, err := ledger.ParseDate(req.From)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid from date (use YYYY-MM-DD)", err)
		return
	}
	to, err := ledger.ParseDate(req.To)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid to date (use YYYY-MM-DD)", err)
		return
	}
	if to.Before(from) || len(ledger.DaysInRange(from, to)) > ledger.MaxBackfillDays {
		writeError(w, http.StatusBadRequest, "Invalid backfill range",
			fmt.Errorf("range must be ordered and at most %d days", ledger.MaxBackfillDays))
		return
	}

	results, err := h.Engine.Accrual.Backfill(r.Context(), from, to)
	if err != nil {
		h.Logger.WarnContext(r.Context(), "backfill completed with failures", slog.Any("error", err))
	}
	dtos := make([]AccrualResultDTO, len(results))
	for i, res := range results {
		dtos[i] = toAccrualResultDTO(res)
	}
	writeJSON(w, http.StatusOK, dtos)
}

func (h *Handler) today() time.Time {
	if h.Engine.Accrual.Clock != nil {
		return ledger.DayOf(h.Engine.Accrual.Clock())
	}
	return ledger.DayOf(time.Now())
}

// =============================================================================
// HELPERS
// =============================================================================

func employeeParam(r *http.Request) ledger.EmployeeID {
	return ledger.EmployeeID(chi.URLParam(r, "id"))
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return false
	}
	return true
}

func parseWeekday(s string) (time.Weekday, error) {
	if s == "" {
		return time.Sunday, nil
	}
	for d := time.Sunday; d <= time.Saturday; d++ {
		if strings.EqualFold(d.String(), s) || strings.EqualFold(d.String()[:3], s) {
			return d, nil
		}
	}
	return 0, fmt.Errorf("unknown weekday %q", s)
}

// writeLedgerError maps ledger errors to HTTP status codes.
func (h *Handler) writeLedgerError(w http.ResponseWriter, r *http.Request, message string, err error) {
	var insufficient *ledger.InsufficientBalanceError
	switch {
	case errors.As(err, &insufficient):
		writeJSON(w, http.StatusConflict, ErrorResponse{
			Error:     message,
			Details:   err.Error(),
			Available: money(insufficient.Available),
		})
	case ledger.IsNotFound(err):
		writeError(w, http.StatusNotFound, message, err)
	case ledger.IsConflict(err):
		writeError(w, http.StatusConflict, message, err)
	case ledger.IsClientError(err):
		writeError(w, http.StatusBadRequest, message, err)
	default:
		h.Logger.ErrorContext(r.Context(), message, slog.Any("error", err))
		writeError(w, http.StatusInternalServerError, message, err)
	}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}
