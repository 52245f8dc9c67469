package ledger_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/ledger-engine/ledger"
)

func TestDailyCredit_RoundsToCents(t *testing.T) {
	r := &ledger.AccrualRunner{WorkingDaysPerMonth: 26}

	assertMoney(t, "30000.00", r.DailyCredit(money("780000")))
	assertMoney(t, "38461.54", r.DailyCredit(money("1000000")))

	r.WorkingDaysPerMonth = 0
	assertMoney(t, "30000.00", r.DailyCredit(money("780000")), "zero falls back to the default")
}

func TestAccrual_HappyPath_CreditsOnce(t *testing.T) {
	// GIVEN: An employee on 780000 per month, 26 working days
	env := newTestEnv(t)
	env.addEmployee(t, "001", "780000")
	ctx := context.Background()

	// WHEN: The accrual runs for a working day
	res, err := env.engine.Accrual.RunDailyAccrual(ctx, friday)
	require.NoError(t, err)

	// THEN: Exactly one 30000.00 credit is posted
	assert.Equal(t, 1, res.Credited)
	assert.Equal(t, 0, res.AlreadyCredited)
	assertMoney(t, "30000.00", env.balance(t, "001").LedgerBalance)

	// WHEN: The same day is run again
	res, err = env.engine.Accrual.RunDailyAccrual(ctx, friday)
	require.NoError(t, err)

	// THEN: It reports the day as already credited and nothing changes
	assert.Equal(t, 0, res.Credited)
	assert.Equal(t, 1, res.AlreadyCredited)
	assert.Equal(t, 1, res.Processed())
	assertMoney(t, "30000.00", env.balance(t, "001").LedgerBalance)

	entries, err := env.store.EntriesByEmployee(ctx, "001")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, ledger.DailySalaryKey("001", friday), entries[0].ReferenceKey)
	assert.Equal(t, ledger.KindDailySalary, entries[0].Kind)
}

func TestAccrual_ConcurrentRunsForSameDay(t *testing.T) {
	// GIVEN: Three employees
	env := newTestEnv(t)
	for _, id := range []string{"001", "002", "003"} {
		env.addEmployee(t, id, "780000")
	}

	// WHEN: Eight runs for the same day race each other
	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := env.engine.Accrual.RunDailyAccrual(context.Background(), friday)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	// THEN: Each employee is credited exactly once
	for _, id := range []string{"001", "002", "003"} {
		assertMoney(t, "30000.00", env.balance(t, id).LedgerBalance, id)
	}
}

func TestAccrual_SkipsIneligibleEmployees(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.addEmployee(t, "001", "780000")

	_, err := env.engine.Employees.Save(ctx, ledger.Employee{ID: "002", MonthlySalary: money("780000"), Active: false})
	require.NoError(t, err)
	_, err = env.engine.Employees.Save(ctx, ledger.Employee{ID: "003", MonthlySalary: money("0"), Active: true})
	require.NoError(t, err)
	_, err = env.engine.Employees.Save(ctx, ledger.Employee{ID: "004", MonthlySalary: money("780000"), Active: true, RestDay: time.Friday})
	require.NoError(t, err)
	_, err = env.engine.Employees.Save(ctx, ledger.Employee{
		ID: "005", MonthlySalary: money("780000"), Active: true,
		StartDate: ledger.Date(2024, time.March, 18),
	})
	require.NoError(t, err)

	res, err := env.engine.Accrual.RunDailyAccrual(ctx, friday)
	require.NoError(t, err)

	assert.Equal(t, 1, res.Credited)
	reasons := map[ledger.EmployeeID]ledger.SkipReason{}
	for _, s := range res.Skipped {
		reasons[s.EmployeeID] = s.Reason
	}
	assert.Equal(t, map[ledger.EmployeeID]ledger.SkipReason{
		"002": ledger.SkipInactive,
		"003": ledger.SkipUnsalaried,
		"004": ledger.SkipRestDay,
		"005": ledger.SkipBeforeStartDate,
	}, reasons)
}

func TestAccrual_SalaryBelowOneCentADayIsSkipped(t *testing.T) {
	// GIVEN: 0.10 a month divides to 0.00 a day
	env := newTestEnv(t)
	env.addEmployee(t, "001", "0.10")

	// WHEN: Running accrual
	res, err := env.engine.Accrual.RunDailyAccrual(context.Background(), friday)

	// THEN: Reported as unsalaried, not as a failure
	require.NoError(t, err)
	assert.Empty(t, res.Failed)
	assert.Equal(t, 0, res.Credited)
	require.Len(t, res.Skipped, 1)
	assert.Equal(t, ledger.SkipUnsalaried, res.Skipped[0].Reason)
}

func TestAccrual_RestDayIsNotCredited(t *testing.T) {
	env := newTestEnv(t)
	env.addEmployee(t, "001", "780000")

	sunday := ledger.Date(2024, time.March, 17)
	res, err := env.engine.Accrual.RunDailyAccrual(context.Background(), sunday)
	require.NoError(t, err)

	assert.Equal(t, 0, res.Credited)
	require.Len(t, res.Skipped, 1)
	assert.Equal(t, ledger.SkipRestDay, res.Skipped[0].Reason)
	assert.True(t, env.balance(t, "001").LedgerBalance.IsZero())
}

func TestAccrual_Backfill(t *testing.T) {
	// GIVEN: The service was down Monday through Sunday, and Wednesday was
	// already credited by hand
	env := newTestEnv(t)
	env.addEmployee(t, "001", "780000")
	ctx := context.Background()

	_, err := env.engine.Accrual.RunDailyAccrual(ctx, ledger.Date(2024, time.March, 13))
	require.NoError(t, err)

	// WHEN: Backfilling the whole week
	results, err := env.engine.Accrual.Backfill(ctx, ledger.Date(2024, time.March, 11), ledger.Date(2024, time.March, 17))
	require.NoError(t, err)

	// THEN: Six working days are credited once each
	require.Len(t, results, 7)
	credited, already := 0, 0
	for _, r := range results {
		credited += r.Credited
		already += r.AlreadyCredited
	}
	assert.Equal(t, 5, credited)
	assert.Equal(t, 1, already)
	assertMoney(t, "180000.00", env.balance(t, "001").LedgerBalance)

	// WHEN: Running the same backfill again
	_, err = env.engine.Accrual.Backfill(ctx, ledger.Date(2024, time.March, 11), ledger.Date(2024, time.March, 17))
	require.NoError(t, err)

	// THEN: Nothing is double-credited
	assertMoney(t, "180000.00", env.balance(t, "001").LedgerBalance)
}

func TestAccrual_BackfillRejectsBadRanges(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.engine.Accrual.Backfill(ctx, ledger.Date(2024, time.March, 10), ledger.Date(2024, time.March, 1))
	assert.Error(t, err)

	_, err = env.engine.Accrual.Backfill(ctx, ledger.Date(2022, time.January, 1), ledger.Date(2024, time.January, 1))
	assert.Error(t, err)
}
