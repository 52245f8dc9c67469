/*
balance.go - Balance calculation and availability

PURPOSE:
  Answers "how much can this employee still ask for?". The answer is
  derived from two inputs only: the employee's ledger entries and the
  withdrawal requests still holding a reservation.

BALANCE COMPONENTS:
  LedgerBalance:      sum of all entry amounts (credits - debits)
  PendingWithdrawals: sum of withdrawals in pending or approved
                      (approved-but-unpaid still holds the money)
  AvailableToRequest: LedgerBalance - PendingWithdrawals, floored at 0

CONSISTENCY:
  Calculate is pure. BalanceService reads entries and reservations inside a
  single WithTx so both come from the same committed snapshot. Writers that
  depend on the balance (RequestWithdrawal) call ComputeBalance with the
  transactional Repository they are about to write through.

EXAMPLE:
  Ledger entries: +30000, +30000, +30000, -20000  => LedgerBalance 70000
  Pending withdrawal 50000                        => Available 20000

SEE ALSO:
  - withdrawal.go: Consumes availability under the same lock
*/
package ledger

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// Balance is the derived money position of one employee.
type Balance struct {
	EmployeeID         EmployeeID
	LedgerBalance      decimal.Decimal
	PendingWithdrawals decimal.Decimal
	AvailableToRequest decimal.Decimal
	AsOf               time.Time
}

// BalanceCalculator derives balances. It holds no state.
type BalanceCalculator struct{}

// Calculate sums entries and open reservations for one employee. Records
// belonging to other employees are ignored.
func (BalanceCalculator) Calculate(employeeID EmployeeID, entries []Entry, withdrawals []WithdrawalRequest) Balance {
	ledgerBalance := decimal.Zero
	for _, e := range entries {
		if e.EmployeeID != employeeID {
			continue
		}
		ledgerBalance = ledgerBalance.Add(e.Amount)
	}

	pending := decimal.Zero
	for _, w := range withdrawals {
		if w.EmployeeID != employeeID || !w.Status.HoldsReservation() {
			continue
		}
		pending = pending.Add(w.Amount)
	}

	return Balance{
		EmployeeID:         employeeID,
		LedgerBalance:      ledgerBalance,
		PendingWithdrawals: pending,
		AvailableToRequest: maxMoney(ledgerBalance.Sub(pending), decimal.Zero),
	}
}

// ComputeBalance loads the inputs from repo and calculates. Pass the
// transactional Repository when a write depends on the result.
func ComputeBalance(ctx context.Context, repo Repository, employeeID EmployeeID) (Balance, error) {
	entries, err := repo.EntriesByEmployee(ctx, employeeID)
	if err != nil {
		return Balance{}, err
	}
	withdrawals, err := repo.ListWithdrawals(ctx, employeeID)
	if err != nil {
		return Balance{}, err
	}
	return BalanceCalculator{}.Calculate(employeeID, entries, withdrawals), nil
}

// =============================================================================
// STATEMENT - Entries with running balance
// =============================================================================

type StatementLine struct {
	Entry          Entry
	RunningBalance decimal.Decimal
}

// Statement pairs each entry with the ledger balance after it. Entries must
// already be in chronological order.
func Statement(entries []Entry) []StatementLine {
	lines := make([]StatementLine, 0, len(entries))
	running := decimal.Zero
	for _, e := range entries {
		running = running.Add(e.Amount)
		lines = append(lines, StatementLine{Entry: e, RunningBalance: running})
	}
	return lines
}

// =============================================================================
// BALANCE SERVICE - Read-only queries
// =============================================================================

type BalanceService struct {
	Store TxRepository
	Clock func() time.Time
}

// GetBalance returns the employee's balance from committed state.
func (s *BalanceService) GetBalance(ctx context.Context, employeeID EmployeeID) (Balance, error) {
	var b Balance
	err := s.Store.WithTx(ctx, func(repo Repository) error {
		emp, err := repo.GetEmployee(ctx, employeeID)
		if err != nil {
			return err
		}
		if emp == nil {
			return notFound("employee", string(employeeID))
		}
		b, err = ComputeBalance(ctx, repo, employeeID)
		return err
	})
	if err != nil {
		return Balance{}, err
	}
	b.AsOf = s.now()
	return b, nil
}

// GetStatement returns the employee's entries with a running balance.
func (s *BalanceService) GetStatement(ctx context.Context, employeeID EmployeeID) ([]StatementLine, error) {
	entries, err := s.Store.EntriesByEmployee(ctx, employeeID)
	if err != nil {
		return nil, err
	}
	return Statement(entries), nil
}

func (s *BalanceService) now() time.Time {
	if s.Clock != nil {
		return s.Clock()
	}
	return time.Now()
}
