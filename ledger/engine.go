package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Config tunes the engine. Zero values pick the defaults.
type Config struct {
	WorkingDaysPerMonth int
	HighValueThreshold  decimal.Decimal
	Notifier            Notifier
	Logger              *slog.Logger
	Clock               func() time.Time
}

// Engine wires the services over one store. Approval handlers for
// "Salary Advance" and "Withdrawal" are registered on construction.
type Engine struct {
	Store       TxRepository
	Employees   *EmployeeDirectory
	Balances    *BalanceService
	Accrual     *AccrualRunner
	Withdrawals *WithdrawalManager
	Advances    *AdvanceTracker
	Approvals   *ApprovalWorkflow
}

func NewEngine(store TxRepository, cfg Config) *Engine {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	notifier := cfg.Notifier
	if notifier == nil {
		notifier = NopNotifier{}
	}
	days := cfg.WorkingDaysPerMonth
	if days <= 0 {
		days = DefaultWorkingDaysPerMonth
	}

	approvals := &ApprovalWorkflow{
		Store:    store,
		Notifier: notifier,
		Logger:   logger.With(slog.String("component", "approvals")),
		Clock:    clock,
	}
	withdrawals := &WithdrawalManager{
		Store:              store,
		Approvals:          approvals,
		HighValueThreshold: cfg.HighValueThreshold,
		Notifier:           notifier,
		Logger:             logger.With(slog.String("component", "withdrawals")),
		Clock:              clock,
	}
	advances := &AdvanceTracker{
		Store:    store,
		Notifier: notifier,
		Logger:   logger.With(slog.String("component", "advances")),
		Clock:    clock,
	}
	approvals.Register(TypeSalaryAdvance, advanceApprovalHandler{t: advances})
	approvals.Register(TypeWithdrawal, withdrawalApprovalHandler{m: withdrawals})

	return &Engine{
		Store:     store,
		Employees: &EmployeeDirectory{Store: store, Clock: clock},
		Balances:  &BalanceService{Store: store, Clock: clock},
		Accrual: &AccrualRunner{
			Store:               store,
			WorkingDaysPerMonth: days,
			Logger:              logger.With(slog.String("component", "accrual")),
			Clock:               clock,
		},
		Withdrawals: withdrawals,
		Advances:    advances,
		Approvals:   approvals,
	}
}

// =============================================================================
// EMPLOYEE DIRECTORY
// =============================================================================

// EmployeeDirectory maintains the HR fields the ledger reads.
type EmployeeDirectory struct {
	Store TxRepository
	Clock func() time.Time
}

// Save creates or updates an employee, keeping the original CreatedAt.
func (d *EmployeeDirectory) Save(ctx context.Context, e Employee) (*Employee, error) {
	e.ID = EmployeeID(strings.TrimSpace(string(e.ID)))
	if e.ID == "" {
		return nil, fmt.Errorf("%w: employee id is required", ErrInvalidDetails)
	}
	if e.MonthlySalary.IsNegative() {
		return nil, fmt.Errorf("%w: monthly salary must not be negative", ErrInvalidAmount)
	}
	if e.RestDay < time.Sunday || e.RestDay > time.Saturday {
		return nil, fmt.Errorf("%w: rest day %d out of range", ErrInvalidDetails, e.RestDay)
	}
	e.MonthlySalary = Round2(e.MonthlySalary)
	if !e.StartDate.IsZero() {
		e.StartDate = DayOf(e.StartDate)
	}

	err := d.Store.WithTx(ctx, func(repo Repository) error {
		existing, err := repo.GetEmployee(ctx, e.ID)
		if err != nil {
			return err
		}
		now := d.now().UTC()
		e.CreatedAt = now
		if existing != nil {
			e.CreatedAt = existing.CreatedAt
		}
		e.UpdatedAt = now
		return repo.SaveEmployee(ctx, e)
	})
	if err != nil {
		return nil, err
	}
	return &e, nil
}

func (d *EmployeeDirectory) Get(ctx context.Context, id EmployeeID) (*Employee, error) {
	e, err := d.Store.GetEmployee(ctx, id)
	if err != nil {
		return nil, err
	}
	if e == nil {
		return nil, notFound("employee", string(id))
	}
	return e, nil
}

func (d *EmployeeDirectory) List(ctx context.Context) ([]Employee, error) {
	return d.Store.ListEmployees(ctx)
}

func (d *EmployeeDirectory) now() time.Time {
	if d.Clock != nil {
		return d.Clock()
	}
	return time.Now()
}
