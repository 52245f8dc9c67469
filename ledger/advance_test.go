package ledger_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/ledger-engine/ledger"
)

func submitAdvance(t *testing.T, env *testEnv, employeeID, amount, minimum string) *ledger.ApprovalRequest {
	t.Helper()
	details, err := json.Marshal(map[string]string{
		"employee_id":     employeeID,
		"amount":          amount,
		"minimum_payment": minimum,
		"reason":          "school fees",
	})
	require.NoError(t, err)

	req, err := env.engine.Approvals.Submit(context.Background(), ledger.SubmitApproval{
		Type:        ledger.TypeSalaryAdvance,
		Amount:      money(amount),
		RequestedBy: "employee:" + employeeID,
		Details:     details,
	})
	require.NoError(t, err)
	return req
}

// approvedAdvance runs a request through both stages and returns the
// activated advance.
func approvedAdvance(t *testing.T, env *testEnv, employeeID, amount, minimum string) *ledger.SalaryAdvance {
	t.Helper()
	ctx := context.Background()
	req := submitAdvance(t, env, employeeID, amount, minimum)
	_, err := env.engine.Approvals.AdminApprove(ctx, req.ID, "admin:1")
	require.NoError(t, err)
	_, err = env.engine.Approvals.FinanceApprove(ctx, req.ID, "finance:1")
	require.NoError(t, err)

	adv, ok, err := env.engine.Advances.ActivateAdvance(ctx, req.ID)
	require.NoError(t, err)
	require.True(t, ok)
	return adv
}

func payInstallment(t *testing.T, env *testEnv, advanceID ledger.AdvanceID, amount string) *ledger.SalaryAdvance {
	t.Helper()
	ctx := context.Background()
	p, err := env.engine.Advances.RecordPayment(ctx, ledger.PaymentInput{
		AdvanceID:  advanceID,
		Amount:     money(amount),
		RecordedBy: "payroll:1",
	})
	require.NoError(t, err)
	_, adv, err := env.engine.Advances.ApprovePayment(ctx, p.ID, "finance:1")
	require.NoError(t, err)
	return adv
}

// =============================================================================
// LIFECYCLE TESTS
// =============================================================================

func TestAdvance_Lifecycle(t *testing.T) {
	// GIVEN: A 500000 advance with a 50000 minimum installment
	env := newTestEnv(t)
	env.addEmployee(t, "001", "780000")
	adv := approvedAdvance(t, env, "001", "500000", "50000")

	assert.Equal(t, ledger.AdvanceActive, adv.Status)
	assertMoney(t, "500000.00", adv.RemainingBalance)
	assertMoney(t, "500000.00", env.balance(t, "001").LedgerBalance, "disbursement is credited")

	// WHEN/THEN: Installments of 50000, 50000 and 400000 pay it off
	adv = payInstallment(t, env, adv.ID, "50000")
	assertMoney(t, "450000.00", adv.RemainingBalance)
	assert.Equal(t, ledger.AdvanceActive, adv.Status)

	adv = payInstallment(t, env, adv.ID, "50000")
	assertMoney(t, "400000.00", adv.RemainingBalance)

	adv = payInstallment(t, env, adv.ID, "400000")
	assertMoney(t, "0.00", adv.RemainingBalance)
	assert.Equal(t, ledger.AdvancePaidOff, adv.Status)
	require.NotNil(t, adv.PaidOffAt)

	// Disbursement minus repayments nets to zero on the ledger
	assertMoney(t, "0.00", env.balance(t, "001").LedgerBalance)

	payments, err := env.engine.Advances.ListPayments(context.Background(), adv.ID)
	require.NoError(t, err)
	assert.Len(t, payments, 3)
}

func TestAdvance_ActivationIsIdempotent(t *testing.T) {
	env := newTestEnv(t)
	env.addEmployee(t, "001", "780000")
	adv := approvedAdvance(t, env, "001", "200000", "20000")
	ctx := context.Background()

	again, ok, err := env.engine.Advances.ActivateAdvance(ctx, adv.ApprovalRequestID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, adv.ID, again.ID)

	advances, err := env.engine.Advances.ListAdvances(ctx, "001")
	require.NoError(t, err)
	assert.Len(t, advances, 1)
	assertMoney(t, "200000.00", env.balance(t, "001").LedgerBalance)
}

func TestAdvance_ActivateRequiresApprovedAdvanceRequest(t *testing.T) {
	env := newTestEnv(t)
	env.addEmployee(t, "001", "780000")
	ctx := context.Background()

	// Still pending
	req := submitAdvance(t, env, "001", "100000", "10000")
	adv, ok, err := env.engine.Advances.ActivateAdvance(ctx, req.ID)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Nil(t, adv)

	// Approved, but not an advance
	expense, err := env.engine.Approvals.Submit(ctx, ledger.SubmitApproval{
		Type:        ledger.TypeExpense,
		Amount:      money("5000"),
		RequestedBy: "admin:1",
		Details:     json.RawMessage(`{"description":"green beans"}`),
	})
	require.NoError(t, err)
	_, err = env.engine.Approvals.AdminApprove(ctx, expense.ID, "admin:1")
	require.NoError(t, err)
	_, err = env.engine.Approvals.FinanceApprove(ctx, expense.ID, "finance:1")
	require.NoError(t, err)

	_, ok, err = env.engine.Advances.ActivateAdvance(ctx, expense.ID)
	require.NoError(t, err)
	assert.False(t, ok)

	_, _, err = env.engine.Advances.ActivateAdvance(ctx, "missing")
	assert.True(t, ledger.IsNotFound(err))
}

func TestAdvance_RejectedApprovalNeverActivates(t *testing.T) {
	// GIVEN: An advance request rejected by Finance
	env := newTestEnv(t)
	env.addEmployee(t, "001", "780000")
	ctx := context.Background()

	req := submitAdvance(t, env, "001", "300000", "30000")
	_, err := env.engine.Approvals.AdminApprove(ctx, req.ID, "admin:1")
	require.NoError(t, err)
	rejected, err := env.engine.Approvals.FinanceReject(ctx, req.ID, "finance:1", "budget")
	require.NoError(t, err)
	assert.Equal(t, ledger.StageRejected, rejected.Stage)

	// WHEN: Someone tries to activate it anyway
	adv, ok, err := env.engine.Advances.ActivateAdvance(ctx, req.ID)

	// THEN: No advance, no money, and the employee was told
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Nil(t, adv)

	advances, err := env.engine.Advances.ListAdvances(ctx, "001")
	require.NoError(t, err)
	assert.Empty(t, advances)
	assert.True(t, env.balance(t, "001").LedgerBalance.IsZero())

	sent := env.notifier.Sent()
	require.NotEmpty(t, sent)
	assert.Contains(t, sent[len(sent)-1].Message, "budget")
}

// =============================================================================
// PAYMENT WINDOW TESTS
// =============================================================================

func TestAdvance_SubCentAmountsRefusedAtSubmit(t *testing.T) {
	env := newTestEnv(t)
	env.addEmployee(t, "001", "780000")
	ctx := context.Background()

	tests := []struct {
		name    string
		amount  string
		minimum string
	}{
		{"amount rounds to zero", "0.004", "0"},
		{"minimum rounds above amount", "10.004", "10.005"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			details, err := json.Marshal(map[string]string{
				"employee_id":     "001",
				"amount":          tt.amount,
				"minimum_payment": tt.minimum,
			})
			require.NoError(t, err)

			_, err = env.engine.Approvals.Submit(ctx, ledger.SubmitApproval{
				Type:        ledger.TypeSalaryAdvance,
				Amount:      money(tt.amount),
				RequestedBy: "employee:001",
				Details:     details,
			})
			assert.Error(t, err)
		})
	}

	// Nothing reached a stage where it could get stuck
	all, err := env.engine.Approvals.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestAdvance_RoundedAmountActivates(t *testing.T) {
	// GIVEN: An advance entered with sub-cent digits
	env := newTestEnv(t)
	env.addEmployee(t, "001", "780000")
	ctx := context.Background()
	req := submitAdvance(t, env, "001", "1000.004", "100")
	assertMoney(t, "1000.00", req.Amount)

	// WHEN: Both stages approve
	_, err := env.engine.Approvals.AdminApprove(ctx, req.ID, "admin:1")
	require.NoError(t, err)
	approved, err := env.engine.Approvals.FinanceApprove(ctx, req.ID, "finance:1")

	// THEN: The advance is active at the rounded amount
	require.NoError(t, err)
	assert.Equal(t, ledger.StageApproved, approved.Stage)
	assertMoney(t, "1000.00", env.balance(t, "001").LedgerBalance)
}

func TestAdvance_PaymentWindow(t *testing.T) {
	tracker := &ledger.AdvanceTracker{}
	adv := ledger.SalaryAdvance{
		ID:               "adv-1",
		Status:           ledger.AdvanceActive,
		RemainingBalance: money("120000"),
		MinimumPayment:   money("50000"),
	}
	noSalary := decimal.NullDecimal{}

	tests := []struct {
		name   string
		amount string
		salary decimal.NullDecimal
		valid  bool
	}{
		{"minimum", "50000", noSalary, true},
		{"below minimum", "49999.99", noSalary, false},
		{"whole remaining", "120000", noSalary, true},
		{"above remaining", "120000.01", noSalary, false},
		{"capped by salary", "100000", decimal.NewNullDecimal(money("90000")), false},
		{"within salary", "90000", decimal.NewNullDecimal(money("90000")), true},
		{"zero", "0", noSalary, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tracker.ValidatePaymentAmount(adv, money(tt.amount), tt.salary)
			if tt.valid {
				assert.NoError(t, err)
				return
			}
			require.ErrorIs(t, err, ledger.ErrInvalidPaymentAmount)
			var window *ledger.InvalidPaymentAmountError
			require.True(t, errors.As(err, &window))
			assertMoney(t, "50000.00", window.Min)
		})
	}
}

func TestAdvance_LastInstallmentMayBeBelowMinimum(t *testing.T) {
	tracker := &ledger.AdvanceTracker{}
	adv := ledger.SalaryAdvance{
		Status:           ledger.AdvanceActive,
		RemainingBalance: money("20000"),
		MinimumPayment:   money("50000"),
	}

	assert.NoError(t, tracker.ValidatePaymentAmount(adv, money("20000"), decimal.NullDecimal{}))
	assert.ErrorIs(t, tracker.ValidatePaymentAmount(adv, money("19999"), decimal.NullDecimal{}), ledger.ErrInvalidPaymentAmount)
}

func TestAdvance_RecordPaymentOnPaidOffAdvance(t *testing.T) {
	env := newTestEnv(t)
	env.addEmployee(t, "001", "780000")
	adv := approvedAdvance(t, env, "001", "100000", "10000")
	payInstallment(t, env, adv.ID, "100000")

	_, err := env.engine.Advances.RecordPayment(context.Background(), ledger.PaymentInput{
		AdvanceID:  adv.ID,
		Amount:     money("10000"),
		RecordedBy: "payroll:1",
	})
	assert.ErrorIs(t, err, ledger.ErrInvalidStateTransition)
}

func TestAdvance_ApprovePaymentTwiceIsNoOp(t *testing.T) {
	env := newTestEnv(t)
	env.addEmployee(t, "001", "780000")
	adv := approvedAdvance(t, env, "001", "100000", "10000")
	ctx := context.Background()

	p, err := env.engine.Advances.RecordPayment(ctx, ledger.PaymentInput{
		AdvanceID: adv.ID, Amount: money("30000"), RecordedBy: "payroll:1",
	})
	require.NoError(t, err)
	assert.Equal(t, ledger.PaymentPending, p.Status)

	_, first, err := env.engine.Advances.ApprovePayment(ctx, p.ID, "finance:1")
	require.NoError(t, err)
	approved, second, err := env.engine.Advances.ApprovePayment(ctx, p.ID, "finance:2")
	require.NoError(t, err)

	assert.Equal(t, ledger.PaymentApproved, approved.Status)
	assert.Equal(t, "finance:1", approved.ApprovedBy)
	assertMoney(t, "70000.00", first.RemainingBalance)
	assertMoney(t, "70000.00", second.RemainingBalance)
	assertMoney(t, "70000.00", env.balance(t, "001").LedgerBalance)
}

func TestAdvance_OverlappingPendingPaymentsCannotOverpay(t *testing.T) {
	// GIVEN: Two pending installments that each fit, but not together
	env := newTestEnv(t)
	env.addEmployee(t, "001", "780000")
	adv := approvedAdvance(t, env, "001", "100000", "10000")
	ctx := context.Background()

	p1, err := env.engine.Advances.RecordPayment(ctx, ledger.PaymentInput{AdvanceID: adv.ID, Amount: money("80000"), RecordedBy: "payroll:1"})
	require.NoError(t, err)
	p2, err := env.engine.Advances.RecordPayment(ctx, ledger.PaymentInput{AdvanceID: adv.ID, Amount: money("80000"), RecordedBy: "payroll:1"})
	require.NoError(t, err)

	// WHEN: Approving both
	_, _, err = env.engine.Advances.ApprovePayment(ctx, p1.ID, "finance:1")
	require.NoError(t, err)
	_, _, err = env.engine.Advances.ApprovePayment(ctx, p2.ID, "finance:1")

	// THEN: The second is refused and the remaining balance never goes negative
	require.ErrorIs(t, err, ledger.ErrInvalidPaymentAmount)
	got, err := env.engine.Advances.GetAdvance(ctx, adv.ID)
	require.NoError(t, err)
	assertMoney(t, "20000.00", got.RemainingBalance)
}

func TestAdvance_RejectPayment(t *testing.T) {
	env := newTestEnv(t)
	env.addEmployee(t, "001", "780000")
	adv := approvedAdvance(t, env, "001", "100000", "10000")
	ctx := context.Background()

	p, err := env.engine.Advances.RecordPayment(ctx, ledger.PaymentInput{AdvanceID: adv.ID, Amount: money("10000"), RecordedBy: "payroll:1"})
	require.NoError(t, err)

	rejected, err := env.engine.Advances.RejectPayment(ctx, p.ID, "finance:1", "wrong salary slip")
	require.NoError(t, err)
	assert.Equal(t, ledger.PaymentRejected, rejected.Status)
	assert.Equal(t, "wrong salary slip", rejected.RejectionReason)

	got, err := env.engine.Advances.GetAdvance(ctx, adv.ID)
	require.NoError(t, err)
	assertMoney(t, "100000.00", got.RemainingBalance)

	_, _, err = env.engine.Advances.ApprovePayment(ctx, p.ID, "finance:1")
	assert.ErrorIs(t, err, ledger.ErrInvalidStateTransition)
}
