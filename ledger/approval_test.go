package ledger_test

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/ledger-engine/ledger"
)

// =============================================================================
// STAGE MACHINE TESTS
// =============================================================================

func TestApproval_StagesInOrder(t *testing.T) {
	env := newTestEnv(t)
	env.addEmployee(t, "001", "780000")
	ctx := context.Background()
	req := submitAdvance(t, env, "001", "100000", "10000")
	assert.Equal(t, ledger.StagePendingAdmin, req.Stage)

	// Finance cannot act before Admin
	_, err := env.engine.Approvals.FinanceApprove(ctx, req.ID, "finance:1")
	require.ErrorIs(t, err, ledger.ErrInvalidStateTransition)

	afterAdmin, err := env.engine.Approvals.AdminApprove(ctx, req.ID, "admin:1")
	require.NoError(t, err)
	assert.Equal(t, ledger.StagePendingFinance, afterAdmin.Stage)
	assert.Equal(t, "admin:1", afterAdmin.AdminApprovedBy)
	require.NotNil(t, afterAdmin.AdminApprovedAt)

	// Admin cannot act twice
	_, err = env.engine.Approvals.AdminReject(ctx, req.ID, "admin:2", "changed my mind")
	require.ErrorIs(t, err, ledger.ErrInvalidStateTransition)

	approved, err := env.engine.Approvals.FinanceApprove(ctx, req.ID, "finance:1")
	require.NoError(t, err)
	assert.Equal(t, ledger.StageApproved, approved.Stage)
	assert.Equal(t, "finance:1", approved.FinanceApprovedBy)

	// Terminal
	_, err = env.engine.Approvals.FinanceReject(ctx, req.ID, "finance:2", "")
	require.ErrorIs(t, err, ledger.ErrInvalidStateTransition)
}

func TestApproval_FinanceApproveActivatesAdvanceInSameUnit(t *testing.T) {
	env := newTestEnv(t)
	env.addEmployee(t, "001", "780000")
	ctx := context.Background()
	req := submitAdvance(t, env, "001", "250000", "25000")

	_, err := env.engine.Approvals.AdminApprove(ctx, req.ID, "admin:1")
	require.NoError(t, err)
	advances, err := env.engine.Advances.ListAdvances(ctx, "001")
	require.NoError(t, err)
	assert.Empty(t, advances, "nothing happens before Finance")

	_, err = env.engine.Approvals.FinanceApprove(ctx, req.ID, "finance:1")
	require.NoError(t, err)

	advances, err = env.engine.Advances.ListAdvances(ctx, "001")
	require.NoError(t, err)
	require.Len(t, advances, 1)
	assert.Equal(t, req.ID, advances[0].ApprovalRequestID)
	assertMoney(t, "25000.00", advances[0].MinimumPayment)

	entry, err := env.store.EntryByReference(ctx, ledger.AdvanceDisbursementKey(req.ID))
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Equal(t, "finance:1", entry.CreatedBy)
}

func TestApproval_AdminRejectIsTerminal(t *testing.T) {
	env := newTestEnv(t)
	env.addEmployee(t, "001", "780000")
	ctx := context.Background()
	req := submitAdvance(t, env, "001", "100000", "10000")

	rejected, err := env.engine.Approvals.AdminReject(ctx, req.ID, "admin:1", "too soon")
	require.NoError(t, err)
	assert.Equal(t, ledger.StageRejected, rejected.Stage)
	assert.Equal(t, "admin:1", rejected.RejectedBy)
	assert.Equal(t, "too soon", rejected.RejectionReason)

	_, err = env.engine.Approvals.AdminApprove(ctx, req.ID, "admin:1")
	assert.ErrorIs(t, err, ledger.ErrInvalidStateTransition)
}

func TestApproval_UnknownTypeApprovedWithoutHandler(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	req, err := env.engine.Approvals.Submit(ctx, ledger.SubmitApproval{
		Type:        "Equipment Loan",
		Amount:      money("75000"),
		RequestedBy: "admin:1",
		Details:     json.RawMessage(`{"item":"roaster","weeks":2}`),
	})
	require.NoError(t, err)

	_, err = env.engine.Approvals.AdminApprove(ctx, req.ID, "admin:1")
	require.NoError(t, err)
	approved, err := env.engine.Approvals.FinanceApprove(ctx, req.ID, "finance:1")
	require.NoError(t, err)
	assert.Equal(t, ledger.StageApproved, approved.Stage)

	details, err := approved.ParsedDetails()
	require.NoError(t, err)
	unknown, ok := details.(ledger.UnknownDetails)
	require.True(t, ok)
	assert.JSONEq(t, `{"item":"roaster","weeks":2}`, string(unknown.Raw))
}

func TestApproval_SubmitValidation(t *testing.T) {
	env := newTestEnv(t)
	env.addEmployee(t, "001", "780000")
	ctx := context.Background()

	tests := []struct {
		name string
		in   ledger.SubmitApproval
	}{
		{"no actor", ledger.SubmitApproval{Type: ledger.TypeExpense, Amount: money("1"), Details: json.RawMessage(`{"description":"x"}`)}},
		{"no type", ledger.SubmitApproval{Amount: money("1"), RequestedBy: "a"}},
		{"zero amount", ledger.SubmitApproval{Type: ledger.TypeExpense, Amount: money("0"), RequestedBy: "a", Details: json.RawMessage(`{"description":"x"}`)}},
		{"advance without employee", ledger.SubmitApproval{Type: ledger.TypeSalaryAdvance, Amount: money("100"), RequestedBy: "a", Details: json.RawMessage(`{"amount":"100"}`)}},
		{"advance amount mismatch", ledger.SubmitApproval{Type: ledger.TypeSalaryAdvance, Amount: money("100"), RequestedBy: "a", Details: json.RawMessage(`{"employee_id":"001","amount":"200"}`)}},
		{"advance for unknown employee", ledger.SubmitApproval{Type: ledger.TypeSalaryAdvance, Amount: money("100"), RequestedBy: "a", Details: json.RawMessage(`{"employee_id":"999","amount":"100"}`)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := env.engine.Approvals.Submit(ctx, tt.in)
			assert.Error(t, err)
		})
	}

	all, err := env.engine.Approvals.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestApproval_ListByStage(t *testing.T) {
	env := newTestEnv(t)
	env.addEmployee(t, "001", "780000")
	ctx := context.Background()

	a := submitAdvance(t, env, "001", "100000", "10000")
	b := submitAdvance(t, env, "001", "200000", "10000")
	_, err := env.engine.Approvals.AdminApprove(ctx, b.ID, "admin:1")
	require.NoError(t, err)

	pendingAdmin, err := env.engine.Approvals.List(ctx, ledger.StagePendingAdmin)
	require.NoError(t, err)
	require.Len(t, pendingAdmin, 1)
	assert.Equal(t, a.ID, pendingAdmin[0].ID)

	open, err := env.engine.Approvals.List(ctx, ledger.StagePendingAdmin, ledger.StagePendingFinance)
	require.NoError(t, err)
	assert.Len(t, open, 2)

	_, err = env.engine.Approvals.Get(ctx, "missing")
	assert.True(t, ledger.IsNotFound(err))
}

// =============================================================================
// DETAILS TESTS
// =============================================================================

func TestParseDetails(t *testing.T) {
	t.Run("advance tolerates unknown fields", func(t *testing.T) {
		d, err := ledger.ParseDetails(ledger.TypeSalaryAdvance,
			json.RawMessage(`{"employee_id":"emp-7","amount":"500000","minimum_payment":50000,"ui_version":3}`))
		require.NoError(t, err)
		adv, ok := d.(ledger.AdvanceDetails)
		require.True(t, ok)
		assert.Equal(t, ledger.EmployeeID("emp-7"), adv.EmployeeID)
		assertMoney(t, "500000.00", adv.Amount)
		assertMoney(t, "50000.00", adv.MinimumPayment)
	})

	t.Run("advance minimum above amount", func(t *testing.T) {
		_, err := ledger.ParseDetails(ledger.TypeSalaryAdvance,
			json.RawMessage(`{"employee_id":"emp-7","amount":"100","minimum_payment":"200"}`))
		assert.ErrorIs(t, err, ledger.ErrInvalidDetails)
	})

	t.Run("withdrawal requires ids", func(t *testing.T) {
		_, err := ledger.ParseDetails(ledger.TypeWithdrawal, json.RawMessage(`{"amount":"100"}`))
		assert.ErrorIs(t, err, ledger.ErrInvalidDetails)
	})

	t.Run("expense", func(t *testing.T) {
		d, err := ledger.ParseDetails(ledger.TypeExpense, json.RawMessage(`{"description":"sacks","supplier":"Jute Co"}`))
		require.NoError(t, err)
		assert.Equal(t, "Jute Co", d.(ledger.ExpenseDetails).Supplier)
	})

	t.Run("malformed json", func(t *testing.T) {
		_, err := ledger.ParseDetails(ledger.TypeExpense, json.RawMessage(`{"description":`))
		assert.ErrorIs(t, err, ledger.ErrInvalidDetails)
	})

	t.Run("empty", func(t *testing.T) {
		_, err := ledger.ParseDetails(ledger.TypeSalaryAdvance, nil)
		assert.ErrorIs(t, err, ledger.ErrInvalidDetails)
	})

	t.Run("unknown type keeps raw payload", func(t *testing.T) {
		d, err := ledger.ParseDetails("Uniform", json.RawMessage(`{"size":"M"}`))
		require.NoError(t, err)
		assert.Equal(t, ledger.ApprovalType("Uniform"), d.ApprovalType())

		raw, err := ledger.EncodeDetails(d)
		require.NoError(t, err)
		assert.JSONEq(t, `{"size":"M"}`, string(raw))
	})
}
