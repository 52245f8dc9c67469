/*
accrual.go - Daily salary accrual

PURPOSE:
  Credits every active salaried employee with one day of salary for each
  working day. The daily cron, the manual "process now" button and backfills
  of missed days all call the same RunDailyAccrual.

ALGORITHM (per employee, per date):
  1. Skip inactive or unsalaried employees, the employee's weekly rest day
     (default Sunday) and days before the employee's start date.
  2. dailyCredit = round2(monthlySalary / workingDaysPerMonth)
  3. Post a DAILY_SALARY entry keyed "DAILY_SALARY:{employeeId}:{date}".
     A duplicate key means the day was already credited: success.

IDEMPOTENCY:
  There is no "did I run today" flag. The reference key uniqueness is the
  only guard, so two overlapping runs for the same date produce exactly one
  entry per employee.

EXAMPLE:
  monthlySalary 780000, workingDaysPerMonth 26  =>  30000.00 per day

SEE ALSO:
  - api/scheduler.go: Cron trigger
  - ledger.go: Post absorbs duplicates
*/
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/ledger-engine/observability"
)

const (
	DefaultWorkingDaysPerMonth = 26

	// MaxBackfillDays bounds a single Backfill call.
	MaxBackfillDays = 366
)

type SkipReason string

const (
	SkipInactive        SkipReason = "inactive"
	SkipUnsalaried      SkipReason = "unsalaried" // no salary, or a daily credit below one cent
	SkipRestDay         SkipReason = "rest_day"
	SkipBeforeStartDate SkipReason = "before_start_date"
)

type SkippedEmployee struct {
	EmployeeID EmployeeID
	Reason     SkipReason
}

type FailedEmployee struct {
	EmployeeID EmployeeID
	Err        error
}

// AccrualResult summarizes one RunDailyAccrual call.
type AccrualResult struct {
	Date            time.Time
	Credited        int
	AlreadyCredited int
	Skipped         []SkippedEmployee
	Failed          []FailedEmployee
}

// Processed is the number of employees whose day is now credited, whether
// by this run or an earlier one.
func (r AccrualResult) Processed() int {
	return r.Credited + r.AlreadyCredited
}

// AccrualRunner appends daily salary entries.
type AccrualRunner struct {
	Store               Repository
	WorkingDaysPerMonth int
	Logger              *slog.Logger
	Clock               func() time.Time
}

// DailyCredit returns round2(monthly / working days per month).
func (r *AccrualRunner) DailyCredit(monthlySalary decimal.Decimal) decimal.Decimal {
	days := r.WorkingDaysPerMonth
	if days <= 0 {
		days = DefaultWorkingDaysPerMonth
	}
	return Round2(monthlySalary.Div(decimal.NewFromInt(int64(days))))
}

// RunDailyAccrual credits every eligible employee for date. It is safe to
// call repeatedly and concurrently for the same date, and for any past date.
// Per-employee failures do not stop the run; they are reported in the result
// and joined into the returned error.
func (r *AccrualRunner) RunDailyAccrual(ctx context.Context, date time.Time) (AccrualResult, error) {
	start := time.Now()
	defer func() { observability.AccrualRunDuration.Observe(time.Since(start).Seconds()) }()

	day := DayOf(date)
	result := AccrualResult{Date: day}

	employees, err := r.Store.ListEmployees(ctx)
	if err != nil {
		return result, fmt.Errorf("failed to list employees: %w", err)
	}

	ledger := newLedgerAt(r.Store, r.now)
	var errs []error

	for _, emp := range employees {
		if reason, skip := r.skipReason(emp, day); skip {
			result.Skipped = append(result.Skipped, SkippedEmployee{EmployeeID: emp.ID, Reason: reason})
			observability.AccrualOutcomes.WithLabelValues("skipped").Inc()
			continue
		}

		created, err := ledger.Post(ctx, Entry{
			EmployeeID:   emp.ID,
			Kind:         KindDailySalary,
			Amount:       r.DailyCredit(emp.MonthlySalary),
			ReferenceKey: DailySalaryKey(emp.ID, day),
			EffectiveOn:  day,
			Memo:         "daily salary " + FormatDate(day),
			CreatedBy:    "system:accrual",
		})
		switch {
		case err != nil:
			result.Failed = append(result.Failed, FailedEmployee{EmployeeID: emp.ID, Err: err})
			errs = append(errs, fmt.Errorf("employee %s: %w", emp.ID, err))
			observability.AccrualOutcomes.WithLabelValues("failed").Inc()
		case created:
			result.Credited++
			observability.AccrualOutcomes.WithLabelValues("credited").Inc()
		default:
			result.AlreadyCredited++
			observability.AccrualOutcomes.WithLabelValues("already_credited").Inc()
		}
	}

	r.logger().InfoContext(ctx, "daily accrual completed",
		slog.String("date", FormatDate(day)),
		slog.Int("credited", result.Credited),
		slog.Int("already_credited", result.AlreadyCredited),
		slog.Int("skipped", len(result.Skipped)),
		slog.Int("failed", len(result.Failed)),
	)

	return result, errors.Join(errs...)
}

// Backfill runs RunDailyAccrual for every day in [from, to].
func (r *AccrualRunner) Backfill(ctx context.Context, from, to time.Time) ([]AccrualResult, error) {
	from, to = DayOf(from), DayOf(to)
	if to.Before(from) {
		return nil, fmt.Errorf("backfill range %s..%s: end before start", FormatDate(from), FormatDate(to))
	}
	days := DaysInRange(from, to)
	if len(days) > MaxBackfillDays {
		return nil, fmt.Errorf("backfill range of %d days exceeds limit of %d", len(days), MaxBackfillDays)
	}

	results := make([]AccrualResult, 0, len(days))
	var errs []error
	for _, day := range days {
		if err := ctx.Err(); err != nil {
			return results, err
		}
		res, err := r.RunDailyAccrual(ctx, day)
		results = append(results, res)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", FormatDate(day), err))
		}
	}
	return results, errors.Join(errs...)
}

func (r *AccrualRunner) skipReason(emp Employee, day time.Time) (SkipReason, bool) {
	switch {
	case !emp.Active:
		return SkipInactive, true
	case !r.DailyCredit(emp.MonthlySalary).IsPositive():
		return SkipUnsalaried, true
	case day.Weekday() == emp.RestDay:
		return SkipRestDay, true
	case !emp.StartDate.IsZero() && day.Before(DayOf(emp.StartDate)):
		return SkipBeforeStartDate, true
	}
	return "", false
}

func (r *AccrualRunner) now() time.Time {
	if r.Clock != nil {
		return r.Clock()
	}
	return time.Now()
}

func (r *AccrualRunner) logger() *slog.Logger {
	if r.Logger != nil {
		return r.Logger
	}
	return slog.Default()
}
