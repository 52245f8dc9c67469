package sqlite

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/ledger-engine/ledger"
)

// =============================================================================
// TEST SETUP
// =============================================================================

var day = time.Date(2024, time.March, 15, 0, 0, 0, 0, time.UTC)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func money(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func salaryEntry(id, employee string, d time.Time, amount string) ledger.Entry {
	return ledger.Entry{
		ID:           ledger.EntryID(id),
		EmployeeID:   ledger.EmployeeID(employee),
		Kind:         ledger.KindDailySalary,
		Amount:       money(amount),
		ReferenceKey: ledger.DailySalaryKey(ledger.EmployeeID(employee), d),
		EffectiveOn:  d,
		CreatedBy:    "system:accrual",
		CreatedAt:    d.Add(5 * time.Minute),
	}
}

// =============================================================================
// ENTRY TESTS
// =============================================================================

func TestStore_AppendEntry_DuplicateReference(t *testing.T) {
	// GIVEN: One salary entry for March 15
	store := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.AppendEntry(ctx, salaryEntry("e1", "001", day, "30000")))

	// WHEN: Appending another entry with the same reference key
	err := store.AppendEntry(ctx, salaryEntry("e2", "001", day, "30000"))

	// THEN: The store reports a duplicate and keeps one row
	assert.ErrorIs(t, err, ledger.ErrDuplicateReference)
	entries, err := store.EntriesByEmployee(ctx, "001")
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestStore_EntriesRoundTripAndOrder(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.AppendEntry(ctx, salaryEntry("e2", "001", day, "30000")))
	require.NoError(t, store.AppendEntry(ctx, salaryEntry("e1", "001", day.AddDate(0, 0, -1), "30000.10")))
	require.NoError(t, store.AppendEntry(ctx, salaryEntry("e3", "002", day, "1")))

	entries, err := store.EntriesByEmployee(ctx, "001")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, ledger.EntryID("e1"), entries[0].ID)
	assert.Equal(t, "30000.10", entries[0].Amount.StringFixed(2))
	assert.True(t, entries[0].EffectiveOn.Equal(day.AddDate(0, 0, -1)))
	assert.True(t, entries[0].CreatedAt.Equal(day.AddDate(0, 0, -1).Add(5*time.Minute)))
	assert.Equal(t, "system:accrual", entries[0].CreatedBy)

	got, err := store.EntryByReference(ctx, ledger.DailySalaryKey("002", day))
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, ledger.EntryID("e3"), got.ID)

	missing, err := store.EntryByReference(ctx, "nope")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestStore_EntriesAreAppendOnly(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.AppendEntry(ctx, salaryEntry("e1", "001", day, "30000")))

	_, err := store.db.ExecContext(ctx, `UPDATE ledger_entries SET amount = '1' WHERE id = 'e1'`)
	assert.Error(t, err)

	_, err = store.db.ExecContext(ctx, `DELETE FROM ledger_entries WHERE id = 'e1'`)
	assert.Error(t, err)
}

// =============================================================================
// TRANSACTION TESTS
// =============================================================================

func TestStore_WithTx_RollsBackOnError(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	boom := errors.New("boom")

	err := store.WithTx(ctx, func(repo ledger.Repository) error {
		if err := repo.AppendEntry(ctx, salaryEntry("e1", "001", day, "30000")); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	entries, err := store.EntriesByEmployee(ctx, "001")
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestStore_WithTx_Commits(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	err := store.WithTx(ctx, func(repo ledger.Repository) error {
		return repo.AppendEntry(ctx, salaryEntry("e1", "001", day, "30000"))
	})
	require.NoError(t, err)

	entries, err := store.EntriesByEmployee(ctx, "001")
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

// =============================================================================
// WORKFLOW RECORD TESTS
// =============================================================================

func TestStore_EmployeeRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	now := day.Add(9 * time.Hour)

	emp := ledger.Employee{
		ID:            "001",
		Name:          "Amina",
		Phone:         "+256700000001",
		MonthlySalary: money("780000"),
		Active:        true,
		RestDay:       time.Saturday,
		StartDate:     day,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	require.NoError(t, store.SaveEmployee(ctx, emp))

	emp.Name = "Amina N."
	require.NoError(t, store.SaveEmployee(ctx, emp))

	got, err := store.GetEmployee(ctx, "001")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "Amina N.", got.Name)
	assert.Equal(t, time.Saturday, got.RestDay)
	assert.True(t, got.StartDate.Equal(day))
	assert.True(t, got.MonthlySalary.Equal(money("780000")))

	all, err := store.ListEmployees(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)

	none, err := store.GetEmployee(ctx, "002")
	require.NoError(t, err)
	assert.Nil(t, none)
}

func TestStore_UpdateWithdrawal_IsConditional(t *testing.T) {
	// GIVEN: A pending withdrawal
	store := newTestStore(t)
	ctx := context.Background()
	w := ledger.WithdrawalRequest{
		ID:          "wd-1",
		EmployeeID:  "001",
		Amount:      money("40000"),
		PhoneNumber: "+256700000001",
		Channel:     ledger.ChannelMobileMoney,
		Status:      ledger.WithdrawalPending,
		RequestRef:  "WR-20240315-ABCDEF12",
		RequestedBy: "employee:001",
		CreatedAt:   day,
		UpdatedAt:   day,
	}
	require.NoError(t, store.InsertWithdrawal(ctx, w))

	// WHEN: Approving it from pending
	at := day.Add(time.Hour)
	approved := w
	approved.Status = ledger.WithdrawalApproved
	approved.ApprovedBy = "admin:1"
	approved.ApprovedAt = &at
	require.NoError(t, store.UpdateWithdrawal(ctx, approved, ledger.WithdrawalPending))

	// THEN: A second update that still expects pending is refused
	stale := w
	stale.Status = ledger.WithdrawalRejected
	err := store.UpdateWithdrawal(ctx, stale, ledger.WithdrawalPending)
	assert.ErrorIs(t, err, ledger.ErrConcurrentUpdate)

	got, err := store.GetWithdrawal(ctx, "wd-1")
	require.NoError(t, err)
	assert.Equal(t, ledger.WithdrawalApproved, got.Status)
	assert.Equal(t, "admin:1", got.ApprovedBy)
	require.NotNil(t, got.ApprovedAt)
	assert.True(t, got.ApprovedAt.Equal(at))
	assert.Nil(t, got.PaidAt)

	open, err := store.ListWithdrawalsByStatus(ctx, ledger.WithdrawalPending, ledger.WithdrawalApproved)
	require.NoError(t, err)
	assert.Len(t, open, 1)
}

func TestStore_ApprovalDetailsRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	req := ledger.ApprovalRequest{
		ID:          "apr-1",
		Type:        ledger.TypeSalaryAdvance,
		Amount:      money("500000"),
		RequestedBy: "employee:001",
		Stage:       ledger.StagePendingAdmin,
		Details:     json.RawMessage(`{"employee_id":"001","amount":"500000","minimum_payment":"50000"}`),
		CreatedAt:   day,
		UpdatedAt:   day,
	}
	require.NoError(t, store.InsertApproval(ctx, req))

	got, err := store.GetApproval(ctx, "apr-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.JSONEq(t, string(req.Details), string(got.Details))

	d, err := got.ParsedDetails()
	require.NoError(t, err)
	assert.Equal(t, ledger.EmployeeID("001"), d.(ledger.AdvanceDetails).EmployeeID)

	err = store.UpdateApproval(ctx, *got, ledger.StagePendingFinance)
	assert.ErrorIs(t, err, ledger.ErrConcurrentUpdate)

	pending, err := store.ListApprovals(ctx, ledger.StagePendingAdmin)
	require.NoError(t, err)
	assert.Len(t, pending, 1)
	approved, err := store.ListApprovals(ctx, ledger.StageApproved)
	require.NoError(t, err)
	assert.Empty(t, approved)
}

func TestStore_AdvanceUniquePerApproval(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	adv := ledger.SalaryAdvance{
		ID:                "adv-1",
		EmployeeID:        "001",
		ApprovalRequestID: "apr-1",
		OriginalAmount:    money("500000"),
		RemainingBalance:  money("500000"),
		MinimumPayment:    money("50000"),
		Status:            ledger.AdvanceActive,
		CreatedAt:         day,
		UpdatedAt:         day,
	}
	require.NoError(t, store.InsertAdvance(ctx, adv))

	dup := adv
	dup.ID = "adv-2"
	assert.Error(t, store.InsertAdvance(ctx, dup))

	got, err := store.GetAdvanceByApproval(ctx, "apr-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, ledger.AdvanceID("adv-1"), got.ID)

	p := ledger.AdvancePayment{
		ID:         "pay-1",
		AdvanceID:  "adv-1",
		AmountPaid: money("50000"),
		Status:     ledger.PaymentPending,
		RecordedBy: "payroll:1",
		CreatedAt:  day,
		UpdatedAt:  day,
	}
	require.NoError(t, store.InsertPayment(ctx, p))
	payments, err := store.ListPayments(ctx, "adv-1")
	require.NoError(t, err)
	require.Len(t, payments, 1)
	assert.True(t, payments[0].AmountPaid.Equal(money("50000")))
}

// =============================================================================
// ENGINE ON SQLITE
// =============================================================================

func TestStore_EngineWithdrawalRace(t *testing.T) {
	// GIVEN: An engine on a file database with 100000 available
	store, err := New(filepath.Join(t.TempDir(), "ledger.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	engine := ledger.NewEngine(store, ledger.Config{})
	ctx := context.Background()
	_, err = engine.Employees.Save(ctx, ledger.Employee{ID: "001", MonthlySalary: money("780000"), Active: true})
	require.NoError(t, err)
	require.NoError(t, store.AppendEntry(ctx, salaryEntry("e1", "001", day, "100000")))

	// WHEN: Requesting 70000 and 60000 concurrently
	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i, amount := range []string{"70000", "60000"} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = engine.Withdrawals.RequestWithdrawal(ctx, ledger.WithdrawalInput{
				EmployeeID:  "001",
				Amount:      money(amount),
				RequestedBy: "employee:001",
			})
		}()
	}
	wg.Wait()

	// THEN: Exactly one is admitted
	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
		} else {
			assert.ErrorIs(t, err, ledger.ErrInsufficientBalance)
		}
	}
	assert.Equal(t, 1, succeeded)

	// AND: Reservations never exceed the ledger balance
	b, err := engine.Balances.GetBalance(ctx, "001")
	require.NoError(t, err)
	assert.True(t, b.PendingWithdrawals.LessThanOrEqual(money("100000")))
}

func TestStore_EngineAccrualIsIdempotent(t *testing.T) {
	store := newTestStore(t)
	engine := ledger.NewEngine(store, ledger.Config{})
	ctx := context.Background()
	_, err := engine.Employees.Save(ctx, ledger.Employee{ID: "001", MonthlySalary: money("780000"), Active: true})
	require.NoError(t, err)

	for range 3 {
		_, err := engine.Accrual.RunDailyAccrual(ctx, day)
		require.NoError(t, err)
	}

	b, err := engine.Balances.GetBalance(ctx, "001")
	require.NoError(t, err)
	assert.Equal(t, "30000.00", b.LedgerBalance.StringFixed(2))
}
