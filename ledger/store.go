/*
store.go - Persistence interfaces for entries and workflow records

PURPOSE:
  Defines the boundary between the ledger engine and the database.
  Entries are append-only; workflow records (withdrawals, advances,
  payments, approvals) are updated only through conditional updates that
  name the state they expect to replace.

KEY INTERFACES:
  EntryStore:      Append-only entries with unique reference keys
  EmployeeStore:   HR records read by the accrual run
  WithdrawalStore: Withdrawal requests (reservations)
  AdvanceStore:    Salary advances and their payments
  ApprovalStore:   Two-stage approval envelopes
  Repository:      All of the above
  TxRepository:    Repository + WithTx for atomic units

APPEND-ONLY CONTRACT:
  EntryStore has no Update or Delete. AppendEntry returns
  ErrDuplicateReference when the reference key exists. That single
  conditional insert is the idempotency guard; callers never check-then-insert.

ATOMIC UNITS:
  WithTx runs fn against a transactional view. Writers are serialized for
  the duration of fn, so a balance read inside fn cannot be invalidated by a
  concurrent writer before fn's own writes commit. If fn returns an error,
  nothing fn wrote is kept.

LOOKUPS:
  Get* methods return (nil, nil) when the record does not exist.

IMPLEMENTATIONS:
  - ledger/store/memory.go: In-memory, for tests
  - store/sqlite/sqlite.go: SQLite

SEE ALSO:
  - ledger.go: Ledger wrapper over EntryStore
*/
package ledger

import "context"

// EntryStore persists ledger entries. APPEND-ONLY.
type EntryStore interface {
	// AppendEntry inserts one entry. Returns ErrDuplicateReference if the
	// reference key already exists.
	AppendEntry(ctx context.Context, e Entry) error

	// EntriesByEmployee returns all entries for an employee ordered by
	// EffectiveOn, then CreatedAt.
	EntriesByEmployee(ctx context.Context, employeeID EmployeeID) ([]Entry, error)

	// EntryByReference returns the entry with the given key.
	EntryByReference(ctx context.Context, referenceKey string) (*Entry, error)
}

// EmployeeStore persists the HR fields the ledger depends on.
type EmployeeStore interface {
	SaveEmployee(ctx context.Context, e Employee) error
	GetEmployee(ctx context.Context, id EmployeeID) (*Employee, error)
	ListEmployees(ctx context.Context) ([]Employee, error)
}

// WithdrawalStore persists withdrawal requests.
type WithdrawalStore interface {
	InsertWithdrawal(ctx context.Context, w WithdrawalRequest) error

	// UpdateWithdrawal replaces the record only if its stored status is
	// still `from`. Returns ErrConcurrentUpdate otherwise.
	UpdateWithdrawal(ctx context.Context, w WithdrawalRequest, from WithdrawalStatus) error

	GetWithdrawal(ctx context.Context, id WithdrawalID) (*WithdrawalRequest, error)

	// ListWithdrawals returns an employee's withdrawals, newest first.
	ListWithdrawals(ctx context.Context, employeeID EmployeeID) ([]WithdrawalRequest, error)

	// ListWithdrawalsByStatus returns withdrawals in any of the statuses,
	// oldest first.
	ListWithdrawalsByStatus(ctx context.Context, statuses ...WithdrawalStatus) ([]WithdrawalRequest, error)
}

// AdvanceStore persists salary advances and their payments.
type AdvanceStore interface {
	InsertAdvance(ctx context.Context, a SalaryAdvance) error
	UpdateAdvance(ctx context.Context, a SalaryAdvance, from AdvanceStatus) error
	GetAdvance(ctx context.Context, id AdvanceID) (*SalaryAdvance, error)
	GetAdvanceByApproval(ctx context.Context, approvalID ApprovalID) (*SalaryAdvance, error)
	ListAdvances(ctx context.Context, employeeID EmployeeID) ([]SalaryAdvance, error)

	InsertPayment(ctx context.Context, p AdvancePayment) error
	UpdatePayment(ctx context.Context, p AdvancePayment, from PaymentStatus) error
	GetPayment(ctx context.Context, id PaymentID) (*AdvancePayment, error)
	ListPayments(ctx context.Context, advanceID AdvanceID) ([]AdvancePayment, error)
}

// ApprovalStore persists approval envelopes.
type ApprovalStore interface {
	InsertApproval(ctx context.Context, a ApprovalRequest) error
	UpdateApproval(ctx context.Context, a ApprovalRequest, from ApprovalStage) error
	GetApproval(ctx context.Context, id ApprovalID) (*ApprovalRequest, error)

	// ListApprovals returns approvals in any of the stages, oldest first.
	// No stages means all approvals.
	ListApprovals(ctx context.Context, stages ...ApprovalStage) ([]ApprovalRequest, error)
}

// Repository is everything the engine reads and writes.
type Repository interface {
	EntryStore
	EmployeeStore
	WithdrawalStore
	AdvanceStore
	ApprovalStore
}

// TxRepository adds atomic units of work.
type TxRepository interface {
	Repository

	// WithTx executes fn within a transaction.
	// If fn returns error, the transaction is rolled back.
	// If fn returns nil, the transaction is committed.
	WithTx(ctx context.Context, fn func(Repository) error) error
}
