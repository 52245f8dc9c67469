/*
scenarios.go - Demo scenario loaders for the portal

PURPOSE:
	Seeds realistic ledger activity for demos and manual testing. Every
	scenario goes through the same engine operations as the API, so the
	seeded data obeys the same rules (reservations, approvals, idempotent
	accrual).

AVAILABLE SCENARIOS:
	new-employee:        Salaried hire with two weeks of accrued pay
	pending-withdrawals: Workers with pending, approved and paid withdrawals
	advance-repayment:   Approved advance with one installment approved and
	                     one awaiting approval
	approval-queue:      Requests waiting on Admin and on Finance

HOW SCENARIOS WORK:
 1. Refuse if the scenario's employees already exist (409)
 2. Create employees
 3. Backfill accrual up to today
 4. Drive withdrawals, approvals and payments through the engine

USAGE VIA API:
	POST /api/scenarios/load
	{"scenario_id": "advance-repayment"}

NOTE:
	The ledger is append-only, so scenarios cannot be reset. Load them
	against a fresh database (--db :memory: works well for demos).

SEE ALSO:
  - handlers.go: Handler
  - ledger/engine.go: Engine services used by the loaders
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/ledger-engine/ledger"
)

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

type scenario struct {
	ScenarioDTO

	// seed is created first; its presence means the scenario is loaded.
	seed ledger.EmployeeID
	load func(ctx context.Context, h *Handler, today time.Time) error
}

var scenarios = []scenario{
	{
		ScenarioDTO: ScenarioDTO{
			ID:          "new-employee",
			Name:        "New Employee",
			Description: "Salaried hire two weeks ago with daily accrual backfilled",
			Category:    "accrual",
		},
		seed: "demo-101",
		load: loadNewEmployeeScenario,
	},
	{
		ScenarioDTO: ScenarioDTO{
			ID:          "pending-withdrawals",
			Name:        "Pending Withdrawals",
			Description: "Reserved, approved and paid withdrawals across two workers",
			Category:    "withdrawals",
		},
		seed: "demo-201",
		load: loadPendingWithdrawalsScenario,
	},
	{
		ScenarioDTO: ScenarioDTO{
			ID:          "advance-repayment",
			Name:        "Advance Repayment",
			Description: "Salary advance through Admin and Finance with installments",
			Category:    "advances",
		},
		seed: "demo-301",
		load: loadAdvanceRepaymentScenario,
	},
	{
		ScenarioDTO: ScenarioDTO{
			ID:          "approval-queue",
			Name:        "Approval Queue",
			Description: "Advance and expense requests waiting on Admin and Finance",
			Category:    "approvals",
		},
		seed: "demo-401",
		load: loadApprovalQueueScenario,
	},
}

var errScenarioLoaded = errors.New("scenario already loaded")

// ListScenarios returns available scenarios.
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	dtos := make([]ScenarioDTO, len(scenarios))
	for i, s := range scenarios {
		dtos[i] = s.ScenarioDTO
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetCurrentScenario returns the most recently loaded scenario, if any.
func (h *Handler) GetCurrentScenario(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	current := h.currentScenario
	h.mu.Unlock()

	if s, ok := findScenario(current); ok {
		writeJSON(w, http.StatusOK, s.ScenarioDTO)
		return
	}
	writeJSON(w, http.StatusOK, nil)
}

// LoadScenario seeds a predefined scenario.
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req LoadScenarioRequest
	if !decodeBody(w, r, &req) {
		return
	}
	s, ok := findScenario(req.ScenarioID)
	if !ok {
		writeError(w, http.StatusBadRequest, "Unknown scenario", nil)
		return
	}

	ctx := r.Context()
	h.mu.Lock()
	defer h.mu.Unlock()

	if err := h.loadScenario(ctx, s); err != nil {
		if errors.Is(err, errScenarioLoaded) {
			writeError(w, http.StatusConflict, "Scenario already loaded", err)
			return
		}
		h.writeLedgerError(w, r, fmt.Sprintf("Failed to load scenario %s", s.ID), err)
		return
	}
	h.currentScenario = s.ID

	writeJSON(w, http.StatusOK, map[string]string{"status": "loaded", "scenario": s.ID})
}

func (h *Handler) loadScenario(ctx context.Context, s scenario) error {
	_, err := h.Engine.Employees.Get(ctx, s.seed)
	switch {
	case err == nil:
		return fmt.Errorf("%s: employee %s exists: %w", s.ID, s.seed, errScenarioLoaded)
	case !ledger.IsNotFound(err):
		return err
	}
	return s.load(ctx, h, h.today())
}

func findScenario(id string) (scenario, bool) {
	for _, s := range scenarios {
		if s.ID == id {
			return s, true
		}
	}
	return scenario{}, false
}

// =============================================================================
// SCENARIO LOADERS
// =============================================================================

func loadNewEmployeeScenario(ctx context.Context, h *Handler, today time.Time) error {
	start := today.AddDate(0, 0, -13)
	if err := h.seedEmployees(ctx, start, demoEmployee("demo-101", "Grace Namuli", "780000")); err != nil {
		return err
	}
	return h.backfillTo(ctx, start, today)
}

func loadPendingWithdrawalsScenario(ctx context.Context, h *Handler, today time.Time) error {
	start := today.AddDate(0, 0, -20)
	if err := h.seedEmployees(ctx, start,
		demoEmployee("demo-201", "Joseph Okello", "650000"),
		demoEmployee("demo-202", "Ruth Achieng", "910000"),
	); err != nil {
		return err
	}
	if err := h.backfillTo(ctx, start, today); err != nil {
		return err
	}

	wd := h.Engine.Withdrawals
	if _, err := wd.RequestWithdrawal(ctx, demoWithdrawal("demo-201", "40000")); err != nil {
		return err
	}

	approved, err := wd.RequestWithdrawal(ctx, demoWithdrawal("demo-202", "60000"))
	if err != nil {
		return err
	}
	if approved.ApprovalID == "" {
		if _, err := wd.ApproveWithdrawal(ctx, approved.ID, "admin:demo"); err != nil {
			return err
		}
	}

	paid, err := wd.RequestWithdrawal(ctx, demoWithdrawal("demo-202", "25000"))
	if err != nil {
		return err
	}
	if paid.ApprovalID == "" {
		if _, err := wd.ApproveWithdrawal(ctx, paid.ID, "admin:demo"); err != nil {
			return err
		}
		if _, err := wd.MarkPaid(ctx, paid.ID, "finance:demo"); err != nil {
			return err
		}
	}
	return nil
}

func loadAdvanceRepaymentScenario(ctx context.Context, h *Handler, today time.Time) error {
	start := today.AddDate(0, 0, -30)
	if err := h.seedEmployees(ctx, start, demoEmployee("demo-301", "Peter Mugisha", "1200000")); err != nil {
		return err
	}
	if err := h.backfillTo(ctx, start, today); err != nil {
		return err
	}

	req, err := h.submitAdvance(ctx, "demo-301", "500000", "50000", "School fees")
	if err != nil {
		return err
	}
	if _, err := h.Engine.Approvals.AdminApprove(ctx, req.ID, "admin:demo"); err != nil {
		return err
	}
	if _, err := h.Engine.Approvals.FinanceApprove(ctx, req.ID, "finance:demo"); err != nil {
		return err
	}

	advances, err := h.Engine.Advances.ListAdvances(ctx, "demo-301")
	if err != nil {
		return err
	}
	if len(advances) == 0 {
		return fmt.Errorf("advance for approval %s was not activated", req.ID)
	}
	adv := advances[0]

	first, err := h.Engine.Advances.RecordPayment(ctx, ledger.PaymentInput{
		AdvanceID:  adv.ID,
		Amount:     decimal.RequireFromString("100000"),
		RecordedBy: "payroll:demo",
	})
	if err != nil {
		return err
	}
	if _, _, err := h.Engine.Advances.ApprovePayment(ctx, first.ID, "finance:demo"); err != nil {
		return err
	}

	_, err = h.Engine.Advances.RecordPayment(ctx, ledger.PaymentInput{
		AdvanceID:  adv.ID,
		Amount:     decimal.RequireFromString("50000"),
		RecordedBy: "payroll:demo",
	})
	return err
}

func loadApprovalQueueScenario(ctx context.Context, h *Handler, today time.Time) error {
	start := today.AddDate(0, 0, -7)
	if err := h.seedEmployees(ctx, start,
		demoEmployee("demo-401", "Sarah Nakato", "700000"),
		demoEmployee("demo-402", "David Ssempa", "820000"),
	); err != nil {
		return err
	}

	if _, err := h.submitAdvance(ctx, "demo-401", "200000", "20000", "Medical bill"); err != nil {
		return err
	}
	waiting, err := h.submitAdvance(ctx, "demo-402", "300000", "30000", "Rent deposit")
	if err != nil {
		return err
	}
	if _, err := h.Engine.Approvals.AdminApprove(ctx, waiting.ID, "admin:demo"); err != nil {
		return err
	}

	details, err := json.Marshal(ledger.ExpenseDetails{
		Description: "Jute sacks for green beans",
		Category:    "packaging",
		Supplier:    "Kampala Jute Co",
	})
	if err != nil {
		return err
	}
	_, err = h.Engine.Approvals.Submit(ctx, ledger.SubmitApproval{
		Type:        ledger.TypeExpense,
		Amount:      decimal.RequireFromString("350000"),
		RequestedBy: "admin:demo",
		Details:     details,
	})
	return err
}

// =============================================================================
// HELPERS
// =============================================================================

func demoEmployee(id, name, salary string) ledger.Employee {
	return ledger.Employee{
		ID:            ledger.EmployeeID(id),
		Name:          name,
		Phone:         "+256700" + id[len(id)-3:] + "000",
		MonthlySalary: decimal.RequireFromString(salary),
		Active:        true,
		RestDay:       time.Sunday,
	}
}

func demoWithdrawal(employee, amount string) ledger.WithdrawalInput {
	return ledger.WithdrawalInput{
		EmployeeID:  ledger.EmployeeID(employee),
		Amount:      decimal.RequireFromString(amount),
		Channel:     ledger.ChannelMobileMoney,
		RequestedBy: "employee:" + employee,
	}
}

func (h *Handler) seedEmployees(ctx context.Context, start time.Time, employees ...ledger.Employee) error {
	for _, e := range employees {
		e.StartDate = start
		if _, err := h.Engine.Employees.Save(ctx, e); err != nil {
			return err
		}
	}
	return nil
}

func (h *Handler) backfillTo(ctx context.Context, from, to time.Time) error {
	_, err := h.Engine.Accrual.Backfill(ctx, from, to)
	return err
}

func (h *Handler) submitAdvance(ctx context.Context, employee, amount, minimum, reason string) (*ledger.ApprovalRequest, error) {
	amt := decimal.RequireFromString(amount)
	details, err := json.Marshal(ledger.AdvanceDetails{
		EmployeeID:     ledger.EmployeeID(employee),
		Amount:         amt,
		MinimumPayment: decimal.RequireFromString(minimum),
		Reason:         reason,
	})
	if err != nil {
		return nil, err
	}
	return h.Engine.Approvals.Submit(ctx, ledger.SubmitApproval{
		Type:        ledger.TypeSalaryAdvance,
		Amount:      amt,
		RequestedBy: "admin:demo",
		Details:     details,
	})
}
