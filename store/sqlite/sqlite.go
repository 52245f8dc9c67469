/*
Package sqlite provides a SQLite-backed implementation of ledger.TxRepository.

PURPOSE:
  Persists employees, the append-only entry log, and the workflow records
  (withdrawals, advances, payments, approvals). Balance arithmetic stays in
  Go; the database only guarantees uniqueness and atomicity.

APPEND-ONLY ENFORCEMENT:
  - No UPDATE or DELETE statements on ledger_entries in this package
  - Triggers abort any UPDATE or DELETE that reaches the table anyway
  - reference_key is UNIQUE; a collision surfaces as ledger.ErrDuplicateReference

KEY TABLES:
  ledger_entries:    Immutable signed entries, one per reference key
  employees:         HR fields read by accrual
  withdrawals:       Reservations; status updated conditionally
  salary_advances:   One per approval request (UNIQUE approval_request_id)
  advance_payments:  Installments
  approval_requests: Two-stage envelopes with JSON details

CONCURRENCY:
  One connection (SetMaxOpenConns(1)) and a store mutex held for the whole
  of WithTx, so in-process writers are serialized. Transactions start with
  BEGIN IMMEDIATE (_txlock=immediate), which takes SQLite's write lock up
  front and keeps another process from interleaving between a balance read
  and the insert that depends on it.

MONEY AND TIME:
  Amounts are TEXT via decimal's Valuer/Scanner, so no float rounding.
  Timestamps are fixed-width UTC text and sort lexically.

USAGE:
  store, err := sqlite.New("./data/ledger.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  engine := ledger.NewEngine(store, ledger.Config{})

SEE ALSO:
  - ledger/store.go: Interface definitions
  - ledger/store/memory.go: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/mattn/go-sqlite3"
	"github.com/warp/ledger-engine/ledger"
)

// Store implements ledger.TxRepository using SQLite.
type Store struct {
	*repo
	db *sql.DB
	mu sync.Mutex
}

var _ ledger.TxRepository = (*Store)(nil)

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	dsn := dbPath + "?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000&_txlock=immediate"
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// A single connection keeps ":memory:" databases alive and shared.
	db.SetMaxOpenConns(1)
	db.SetConnMaxLifetime(0)

	store := &Store{repo: &repo{q: db}, db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the connection; used by the health endpoint.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS employees (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		phone TEXT NOT NULL DEFAULT '',
		monthly_salary TEXT NOT NULL,
		active INTEGER NOT NULL DEFAULT 1,
		rest_day INTEGER NOT NULL DEFAULT 0,
		start_date TEXT,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	-- Entries (append-only ledger)
	CREATE TABLE IF NOT EXISTS ledger_entries (
		id TEXT PRIMARY KEY,
		employee_id TEXT NOT NULL,
		kind TEXT NOT NULL,
		amount TEXT NOT NULL,
		reference_key TEXT NOT NULL UNIQUE,
		effective_on TEXT NOT NULL,
		source_id TEXT,
		memo TEXT,
		created_by TEXT,
		created_at TEXT NOT NULL
	);

	-- Hot path: balance and statement per employee
	CREATE INDEX IF NOT EXISTS idx_entries_employee_date
		ON ledger_entries(employee_id, effective_on, created_at);

	CREATE TRIGGER IF NOT EXISTS ledger_entries_no_update
		BEFORE UPDATE ON ledger_entries
		BEGIN SELECT RAISE(ABORT, 'ledger entries are append-only'); END;
	CREATE TRIGGER IF NOT EXISTS ledger_entries_no_delete
		BEFORE DELETE ON ledger_entries
		BEGIN SELECT RAISE(ABORT, 'ledger entries are append-only'); END;

	CREATE TABLE IF NOT EXISTS withdrawals (
		id TEXT PRIMARY KEY,
		employee_id TEXT NOT NULL,
		amount TEXT NOT NULL,
		phone_number TEXT NOT NULL DEFAULT '',
		channel TEXT NOT NULL,
		status TEXT NOT NULL,
		request_ref TEXT NOT NULL UNIQUE,
		approval_request_id TEXT,
		requested_by TEXT NOT NULL,
		approved_by TEXT,
		approved_at TEXT,
		paid_by TEXT,
		paid_at TEXT,
		resolved_by TEXT,
		resolved_at TEXT,
		reason TEXT,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_withdrawals_employee
		ON withdrawals(employee_id, created_at);
	CREATE INDEX IF NOT EXISTS idx_withdrawals_status
		ON withdrawals(status);

	CREATE TABLE IF NOT EXISTS approval_requests (
		id TEXT PRIMARY KEY,
		type TEXT NOT NULL,
		amount TEXT NOT NULL,
		requested_by TEXT NOT NULL,
		stage TEXT NOT NULL,
		admin_approved_by TEXT,
		admin_approved_at TEXT,
		finance_approved_by TEXT,
		finance_approved_at TEXT,
		rejected_by TEXT,
		rejected_at TEXT,
		rejection_reason TEXT,
		details_json TEXT NOT NULL DEFAULT '{}',
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_approvals_stage
		ON approval_requests(stage, created_at);

	CREATE TABLE IF NOT EXISTS salary_advances (
		id TEXT PRIMARY KEY,
		employee_id TEXT NOT NULL,
		approval_request_id TEXT NOT NULL UNIQUE,
		original_amount TEXT NOT NULL,
		remaining_balance TEXT NOT NULL,
		minimum_payment TEXT NOT NULL,
		reason TEXT,
		status TEXT NOT NULL,
		activated_at TEXT,
		paid_off_at TEXT,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_advances_employee
		ON salary_advances(employee_id);

	CREATE TABLE IF NOT EXISTS advance_payments (
		id TEXT PRIMARY KEY,
		advance_id TEXT NOT NULL REFERENCES salary_advances(id),
		amount_paid TEXT NOT NULL,
		salary_request_id TEXT,
		status TEXT NOT NULL,
		recorded_by TEXT NOT NULL,
		approved_by TEXT,
		approved_at TEXT,
		rejected_by TEXT,
		rejected_at TEXT,
		rejection_reason TEXT,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_payments_advance
		ON advance_payments(advance_id, created_at);
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// TRANSACTIONAL STORE (ledger.TxRepository)
// =============================================================================

// WithTx executes fn within a database transaction. fn gets a repository
// bound to the transaction; it must not call back into s.
func (s *Store) WithTx(ctx context.Context, fn func(ledger.Repository) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&repo{q: sqlTx}); err != nil {
		return err
	}

	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// repo implements ledger.Repository over a querier. Store embeds one bound to
// the pool; WithTx hands out one bound to the transaction.
type repo struct {
	q querier
}

// =============================================================================
// ENTRY STORE
// =============================================================================

const entryColumns = `id, employee_id, kind, amount, reference_key, effective_on,
	source_id, memo, created_by, created_at`

func (r *repo) AppendEntry(ctx context.Context, e ledger.Entry) error {
	_, err := r.q.ExecContext(ctx, `
		INSERT INTO ledger_entries (`+entryColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID,
		e.EmployeeID,
		e.Kind,
		e.Amount,
		e.ReferenceKey,
		ledger.FormatDate(e.EffectiveOn),
		nullString(e.SourceID),
		nullString(e.Memo),
		nullString(e.CreatedBy),
		formatTime(e.CreatedAt),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return ledger.ErrDuplicateReference
		}
		return fmt.Errorf("failed to append entry: %w", err)
	}
	return nil
}

func (r *repo) EntriesByEmployee(ctx context.Context, id ledger.EmployeeID) ([]ledger.Entry, error) {
	rows, err := r.q.QueryContext(ctx, `
		SELECT `+entryColumns+`
		FROM ledger_entries
		WHERE employee_id = ?
		ORDER BY effective_on ASC, created_at ASC, rowid ASC`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to query entries: %w", err)
	}
	defer rows.Close()

	var out []ledger.Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (r *repo) EntryByReference(ctx context.Context, ref string) (*ledger.Entry, error) {
	row := r.q.QueryRowContext(ctx, `
		SELECT `+entryColumns+` FROM ledger_entries WHERE reference_key = ?`, ref)
	e, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &e, nil
}

func scanEntry(sc scanner) (ledger.Entry, error) {
	var (
		e                         ledger.Entry
		effectiveOn, createdAt    string
		sourceID, memo, createdBy sql.NullString
	)
	err := sc.Scan(&e.ID, &e.EmployeeID, &e.Kind, &e.Amount, &e.ReferenceKey,
		&effectiveOn, &sourceID, &memo, &createdBy, &createdAt)
	if err != nil {
		return ledger.Entry{}, err
	}
	e.EffectiveOn, _ = ledger.ParseDate(effectiveOn)
	e.CreatedAt = parseTime(createdAt)
	e.SourceID = sourceID.String
	e.Memo = memo.String
	e.CreatedBy = createdBy.String
	return e, nil
}

// =============================================================================
// EMPLOYEE STORE
// =============================================================================

const employeeColumns = `id, name, phone, monthly_salary, active, rest_day, start_date, created_at, updated_at`

func (r *repo) SaveEmployee(ctx context.Context, e ledger.Employee) error {
	var startDate sql.NullString
	if !e.StartDate.IsZero() {
		startDate = nullString(ledger.FormatDate(e.StartDate))
	}
	_, err := r.q.ExecContext(ctx, `
		INSERT INTO employees (`+employeeColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			phone = excluded.phone,
			monthly_salary = excluded.monthly_salary,
			active = excluded.active,
			rest_day = excluded.rest_day,
			start_date = excluded.start_date,
			updated_at = excluded.updated_at`,
		e.ID, e.Name, e.Phone, e.MonthlySalary, e.Active, int(e.RestDay), startDate,
		formatTime(e.CreatedAt), formatTime(e.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to save employee: %w", err)
	}
	return nil
}

func (r *repo) GetEmployee(ctx context.Context, id ledger.EmployeeID) (*ledger.Employee, error) {
	row := r.q.QueryRowContext(ctx, `SELECT `+employeeColumns+` FROM employees WHERE id = ?`, id)
	e, err := scanEmployee(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &e, nil
}

func (r *repo) ListEmployees(ctx context.Context) ([]ledger.Employee, error) {
	rows, err := r.q.QueryContext(ctx, `SELECT `+employeeColumns+` FROM employees ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query employees: %w", err)
	}
	defer rows.Close()

	var out []ledger.Employee
	for rows.Next() {
		e, err := scanEmployee(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func scanEmployee(sc scanner) (ledger.Employee, error) {
	var (
		e                    ledger.Employee
		restDay              int
		startDate            sql.NullString
		createdAt, updatedAt string
	)
	err := sc.Scan(&e.ID, &e.Name, &e.Phone, &e.MonthlySalary, &e.Active, &restDay,
		&startDate, &createdAt, &updatedAt)
	if err != nil {
		return ledger.Employee{}, err
	}
	e.RestDay = time.Weekday(restDay)
	if startDate.Valid {
		e.StartDate, _ = ledger.ParseDate(startDate.String)
	}
	e.CreatedAt = parseTime(createdAt)
	e.UpdatedAt = parseTime(updatedAt)
	return e, nil
}

// =============================================================================
// WITHDRAWAL STORE
// =============================================================================

const withdrawalColumns = `id, employee_id, amount, phone_number, channel, status, request_ref,
	approval_request_id, requested_by, approved_by, approved_at, paid_by, paid_at,
	resolved_by, resolved_at, reason, created_at, updated_at`

func (r *repo) InsertWithdrawal(ctx context.Context, w ledger.WithdrawalRequest) error {
	_, err := r.q.ExecContext(ctx, `
		INSERT INTO withdrawals (`+withdrawalColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		w.ID, w.EmployeeID, w.Amount, w.PhoneNumber, w.Channel, w.Status, w.RequestRef,
		nullString(string(w.ApprovalID)), w.RequestedBy,
		nullString(w.ApprovedBy), nullTime(w.ApprovedAt),
		nullString(w.PaidBy), nullTime(w.PaidAt),
		nullString(w.ResolvedBy), nullTime(w.ResolvedAt),
		nullString(w.Reason),
		formatTime(w.CreatedAt), formatTime(w.UpdatedAt),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return ledger.ErrDuplicateReference
		}
		return fmt.Errorf("failed to insert withdrawal: %w", err)
	}
	return nil
}

func (r *repo) UpdateWithdrawal(ctx context.Context, w ledger.WithdrawalRequest, from ledger.WithdrawalStatus) error {
	res, err := r.q.ExecContext(ctx, `
		UPDATE withdrawals SET
			status = ?, approval_request_id = ?,
			approved_by = ?, approved_at = ?, paid_by = ?, paid_at = ?,
			resolved_by = ?, resolved_at = ?, reason = ?, updated_at = ?
		WHERE id = ? AND status = ?`,
		w.Status, nullString(string(w.ApprovalID)),
		nullString(w.ApprovedBy), nullTime(w.ApprovedAt),
		nullString(w.PaidBy), nullTime(w.PaidAt),
		nullString(w.ResolvedBy), nullTime(w.ResolvedAt),
		nullString(w.Reason), formatTime(w.UpdatedAt),
		w.ID, from,
	)
	if err != nil {
		return fmt.Errorf("failed to update withdrawal: %w", err)
	}
	return expectOneRow(res)
}

func (r *repo) GetWithdrawal(ctx context.Context, id ledger.WithdrawalID) (*ledger.WithdrawalRequest, error) {
	row := r.q.QueryRowContext(ctx, `SELECT `+withdrawalColumns+` FROM withdrawals WHERE id = ?`, id)
	w, err := scanWithdrawal(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &w, nil
}

func (r *repo) ListWithdrawals(ctx context.Context, id ledger.EmployeeID) ([]ledger.WithdrawalRequest, error) {
	return r.queryWithdrawals(ctx, `
		SELECT `+withdrawalColumns+` FROM withdrawals
		WHERE employee_id = ?
		ORDER BY created_at DESC`, id)
}

func (r *repo) ListWithdrawalsByStatus(ctx context.Context, statuses ...ledger.WithdrawalStatus) ([]ledger.WithdrawalRequest, error) {
	if len(statuses) == 0 {
		return nil, nil
	}
	args := make([]any, len(statuses))
	for i, s := range statuses {
		args[i] = s
	}
	return r.queryWithdrawals(ctx, `
		SELECT `+withdrawalColumns+` FROM withdrawals
		WHERE status IN (`+placeholders(len(statuses))+`)
		ORDER BY created_at ASC`, args...)
}

func (r *repo) queryWithdrawals(ctx context.Context, query string, args ...any) ([]ledger.WithdrawalRequest, error) {
	rows, err := r.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query withdrawals: %w", err)
	}
	defer rows.Close()

	var out []ledger.WithdrawalRequest
	for rows.Next() {
		w, err := scanWithdrawal(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, w)
	}
	return out, rows.Err()
}

func scanWithdrawal(sc scanner) (ledger.WithdrawalRequest, error) {
	var (
		w                                          ledger.WithdrawalRequest
		approvalID, approvedBy, paidBy, resolvedBy sql.NullString
		approvedAt, paidAt, resolvedAt, reason     sql.NullString
		createdAt, updatedAt                       string
	)
	err := sc.Scan(&w.ID, &w.EmployeeID, &w.Amount, &w.PhoneNumber, &w.Channel, &w.Status,
		&w.RequestRef, &approvalID, &w.RequestedBy, &approvedBy, &approvedAt, &paidBy, &paidAt,
		&resolvedBy, &resolvedAt, &reason, &createdAt, &updatedAt)
	if err != nil {
		return ledger.WithdrawalRequest{}, err
	}
	w.ApprovalID = ledger.ApprovalID(approvalID.String)
	w.ApprovedBy, w.ApprovedAt = approvedBy.String, parseNullTime(approvedAt)
	w.PaidBy, w.PaidAt = paidBy.String, parseNullTime(paidAt)
	w.ResolvedBy, w.ResolvedAt = resolvedBy.String, parseNullTime(resolvedAt)
	w.Reason = reason.String
	w.CreatedAt = parseTime(createdAt)
	w.UpdatedAt = parseTime(updatedAt)
	return w, nil
}

// =============================================================================
// ADVANCE STORE
// =============================================================================

const advanceColumns = `id, employee_id, approval_request_id, original_amount, remaining_balance,
	minimum_payment, reason, status, activated_at, paid_off_at, created_at, updated_at`

func (r *repo) InsertAdvance(ctx context.Context, a ledger.SalaryAdvance) error {
	_, err := r.q.ExecContext(ctx, `
		INSERT INTO salary_advances (`+advanceColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.EmployeeID, a.ApprovalRequestID, a.OriginalAmount, a.RemainingBalance,
		a.MinimumPayment, nullString(a.Reason), a.Status,
		nullTime(a.ActivatedAt), nullTime(a.PaidOffAt),
		formatTime(a.CreatedAt), formatTime(a.UpdatedAt),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return ledger.ErrDuplicateReference
		}
		return fmt.Errorf("failed to insert advance: %w", err)
	}
	return nil
}

func (r *repo) UpdateAdvance(ctx context.Context, a ledger.SalaryAdvance, from ledger.AdvanceStatus) error {
	res, err := r.q.ExecContext(ctx, `
		UPDATE salary_advances SET
			remaining_balance = ?, status = ?, paid_off_at = ?, updated_at = ?
		WHERE id = ? AND status = ?`,
		a.RemainingBalance, a.Status, nullTime(a.PaidOffAt), formatTime(a.UpdatedAt),
		a.ID, from,
	)
	if err != nil {
		return fmt.Errorf("failed to update advance: %w", err)
	}
	return expectOneRow(res)
}

func (r *repo) GetAdvance(ctx context.Context, id ledger.AdvanceID) (*ledger.SalaryAdvance, error) {
	return r.getAdvance(ctx, `SELECT `+advanceColumns+` FROM salary_advances WHERE id = ?`, id)
}

func (r *repo) GetAdvanceByApproval(ctx context.Context, id ledger.ApprovalID) (*ledger.SalaryAdvance, error) {
	return r.getAdvance(ctx, `SELECT `+advanceColumns+` FROM salary_advances WHERE approval_request_id = ?`, id)
}

func (r *repo) getAdvance(ctx context.Context, query string, arg any) (*ledger.SalaryAdvance, error) {
	a, err := scanAdvance(r.q.QueryRowContext(ctx, query, arg))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func (r *repo) ListAdvances(ctx context.Context, id ledger.EmployeeID) ([]ledger.SalaryAdvance, error) {
	rows, err := r.q.QueryContext(ctx, `
		SELECT `+advanceColumns+` FROM salary_advances
		WHERE employee_id = ?
		ORDER BY created_at DESC`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to query advances: %w", err)
	}
	defer rows.Close()

	var out []ledger.SalaryAdvance
	for rows.Next() {
		a, err := scanAdvance(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func scanAdvance(sc scanner) (ledger.SalaryAdvance, error) {
	var (
		a                            ledger.SalaryAdvance
		reason, activatedAt, paidOff sql.NullString
		createdAt, updatedAt         string
	)
	err := sc.Scan(&a.ID, &a.EmployeeID, &a.ApprovalRequestID, &a.OriginalAmount,
		&a.RemainingBalance, &a.MinimumPayment, &reason, &a.Status, &activatedAt, &paidOff,
		&createdAt, &updatedAt)
	if err != nil {
		return ledger.SalaryAdvance{}, err
	}
	a.Reason = reason.String
	a.ActivatedAt = parseNullTime(activatedAt)
	a.PaidOffAt = parseNullTime(paidOff)
	a.CreatedAt = parseTime(createdAt)
	a.UpdatedAt = parseTime(updatedAt)
	return a, nil
}

const paymentColumns = `id, advance_id, amount_paid, salary_request_id, status, recorded_by,
	approved_by, approved_at, rejected_by, rejected_at, rejection_reason, created_at, updated_at`

func (r *repo) InsertPayment(ctx context.Context, p ledger.AdvancePayment) error {
	_, err := r.q.ExecContext(ctx, `
		INSERT INTO advance_payments (`+paymentColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.AdvanceID, p.AmountPaid, nullString(p.SalaryRequestID), p.Status, p.RecordedBy,
		nullString(p.ApprovedBy), nullTime(p.ApprovedAt),
		nullString(p.RejectedBy), nullTime(p.RejectedAt), nullString(p.RejectionReason),
		formatTime(p.CreatedAt), formatTime(p.UpdatedAt),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return ledger.ErrDuplicateReference
		}
		return fmt.Errorf("failed to insert payment: %w", err)
	}
	return nil
}

func (r *repo) UpdatePayment(ctx context.Context, p ledger.AdvancePayment, from ledger.PaymentStatus) error {
	res, err := r.q.ExecContext(ctx, `
		UPDATE advance_payments SET
			status = ?, approved_by = ?, approved_at = ?,
			rejected_by = ?, rejected_at = ?, rejection_reason = ?, updated_at = ?
		WHERE id = ? AND status = ?`,
		p.Status, nullString(p.ApprovedBy), nullTime(p.ApprovedAt),
		nullString(p.RejectedBy), nullTime(p.RejectedAt), nullString(p.RejectionReason),
		formatTime(p.UpdatedAt),
		p.ID, from,
	)
	if err != nil {
		return fmt.Errorf("failed to update payment: %w", err)
	}
	return expectOneRow(res)
}

func (r *repo) GetPayment(ctx context.Context, id ledger.PaymentID) (*ledger.AdvancePayment, error) {
	row := r.q.QueryRowContext(ctx, `SELECT `+paymentColumns+` FROM advance_payments WHERE id = ?`, id)
	p, err := scanPayment(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *repo) ListPayments(ctx context.Context, id ledger.AdvanceID) ([]ledger.AdvancePayment, error) {
	rows, err := r.q.QueryContext(ctx, `
		SELECT `+paymentColumns+` FROM advance_payments
		WHERE advance_id = ?
		ORDER BY created_at ASC`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to query payments: %w", err)
	}
	defer rows.Close()

	var out []ledger.AdvancePayment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func scanPayment(sc scanner) (ledger.AdvancePayment, error) {
	var (
		p                                       ledger.AdvancePayment
		salaryRequestID, approvedBy, approvedAt sql.NullString
		rejectedBy, rejectedAt, rejectionReason sql.NullString
		createdAt, updatedAt                    string
	)
	err := sc.Scan(&p.ID, &p.AdvanceID, &p.AmountPaid, &salaryRequestID, &p.Status, &p.RecordedBy,
		&approvedBy, &approvedAt, &rejectedBy, &rejectedAt, &rejectionReason, &createdAt, &updatedAt)
	if err != nil {
		return ledger.AdvancePayment{}, err
	}
	p.SalaryRequestID = salaryRequestID.String
	p.ApprovedBy, p.ApprovedAt = approvedBy.String, parseNullTime(approvedAt)
	p.RejectedBy, p.RejectedAt = rejectedBy.String, parseNullTime(rejectedAt)
	p.RejectionReason = rejectionReason.String
	p.CreatedAt = parseTime(createdAt)
	p.UpdatedAt = parseTime(updatedAt)
	return p, nil
}

// =============================================================================
// APPROVAL STORE
// =============================================================================

const approvalColumns = `id, type, amount, requested_by, stage,
	admin_approved_by, admin_approved_at, finance_approved_by, finance_approved_at,
	rejected_by, rejected_at, rejection_reason, details_json, created_at, updated_at`

func (r *repo) InsertApproval(ctx context.Context, a ledger.ApprovalRequest) error {
	details := string(a.Details)
	if details == "" {
		details = "{}"
	}
	_, err := r.q.ExecContext(ctx, `
		INSERT INTO approval_requests (`+approvalColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.Type, a.Amount, a.RequestedBy, a.Stage,
		nullString(a.AdminApprovedBy), nullTime(a.AdminApprovedAt),
		nullString(a.FinanceApprovedBy), nullTime(a.FinanceApprovedAt),
		nullString(a.RejectedBy), nullTime(a.RejectedAt), nullString(a.RejectionReason),
		details, formatTime(a.CreatedAt), formatTime(a.UpdatedAt),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return ledger.ErrDuplicateReference
		}
		return fmt.Errorf("failed to insert approval: %w", err)
	}
	return nil
}

func (r *repo) UpdateApproval(ctx context.Context, a ledger.ApprovalRequest, from ledger.ApprovalStage) error {
	res, err := r.q.ExecContext(ctx, `
		UPDATE approval_requests SET
			stage = ?, admin_approved_by = ?, admin_approved_at = ?,
			finance_approved_by = ?, finance_approved_at = ?,
			rejected_by = ?, rejected_at = ?, rejection_reason = ?, updated_at = ?
		WHERE id = ? AND stage = ?`,
		a.Stage, nullString(a.AdminApprovedBy), nullTime(a.AdminApprovedAt),
		nullString(a.FinanceApprovedBy), nullTime(a.FinanceApprovedAt),
		nullString(a.RejectedBy), nullTime(a.RejectedAt), nullString(a.RejectionReason),
		formatTime(a.UpdatedAt),
		a.ID, from,
	)
	if err != nil {
		return fmt.Errorf("failed to update approval: %w", err)
	}
	return expectOneRow(res)
}

func (r *repo) GetApproval(ctx context.Context, id ledger.ApprovalID) (*ledger.ApprovalRequest, error) {
	row := r.q.QueryRowContext(ctx, `SELECT `+approvalColumns+` FROM approval_requests WHERE id = ?`, id)
	a, err := scanApproval(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func (r *repo) ListApprovals(ctx context.Context, stages ...ledger.ApprovalStage) ([]ledger.ApprovalRequest, error) {
	query := `SELECT ` + approvalColumns + ` FROM approval_requests`
	args := make([]any, len(stages))
	for i, s := range stages {
		args[i] = s
	}
	if len(stages) > 0 {
		query += ` WHERE stage IN (` + placeholders(len(stages)) + `)`
	}
	query += ` ORDER BY created_at ASC`

	rows, err := r.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query approvals: %w", err)
	}
	defer rows.Close()

	var out []ledger.ApprovalRequest
	for rows.Next() {
		a, err := scanApproval(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func scanApproval(sc scanner) (ledger.ApprovalRequest, error) {
	var (
		a                                      ledger.ApprovalRequest
		adminBy, adminAt, financeBy, financeAt sql.NullString
		rejectedBy, rejectedAt, reason         sql.NullString
		details, createdAt, updatedAt          string
	)
	err := sc.Scan(&a.ID, &a.Type, &a.Amount, &a.RequestedBy, &a.Stage,
		&adminBy, &adminAt, &financeBy, &financeAt, &rejectedBy, &rejectedAt, &reason,
		&details, &createdAt, &updatedAt)
	if err != nil {
		return ledger.ApprovalRequest{}, err
	}
	a.AdminApprovedBy, a.AdminApprovedAt = adminBy.String, parseNullTime(adminAt)
	a.FinanceApprovedBy, a.FinanceApprovedAt = financeBy.String, parseNullTime(financeAt)
	a.RejectedBy, a.RejectedAt = rejectedBy.String, parseNullTime(rejectedAt)
	a.RejectionReason = reason.String
	a.Details = json.RawMessage(details)
	a.CreatedAt = parseTime(createdAt)
	a.UpdatedAt = parseTime(updatedAt)
	return a, nil
}

// =============================================================================
// HELPERS
// =============================================================================

// scanner is satisfied by *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

// timeLayout is fixed-width so that text ordering matches time ordering.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		t, _ = time.Parse(time.RFC3339Nano, s)
	}
	return t
}

func nullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

func parseNullTime(s sql.NullString) *time.Time {
	if !s.Valid || s.String == "" {
		return nil
	}
	t := parseTime(s.String)
	return &t
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

func expectOneRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n != 1 {
		return ledger.ErrConcurrentUpdate
	}
	return nil
}

func isUniqueConstraintError(err error) bool {
	var se sqlite3.Error
	if !errors.As(err, &se) {
		return false
	}
	return se.ExtendedCode == sqlite3.ErrConstraintUnique ||
		se.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
}
