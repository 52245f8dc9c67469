/*
ledger.go - Append-only entry log

PURPOSE:
  The Ledger is the single source of truth for an employee's money. Every
  accrual, advance disbursement, repayment and withdrawal payout is an Entry
  here. Balance is always computed by summing entries.

CRITICAL INVARIANTS:
  1. APPEND-ONLY: No Update, No Delete.
  2. ONE EVENT, ONE ENTRY: ReferenceKey is unique. Posting the same logical
     event twice yields exactly one entry; the second Post reports
     created=false and no error.
  3. SIGNED AMOUNTS: credits positive, debits negative, checked on Post.

CORRECTIONS:
  A paid withdrawal that bounced is corrected with a WITHDRAWAL_REVERSAL
  credit, never by editing the WITHDRAWAL_DEBIT.

SEE ALSO:
  - store.go: EntryStore
  - balance.go: Sums entries
*/
package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Ledger wraps an EntryStore with sign checks and duplicate absorption.
type Ledger struct {
	store EntryStore
	now   func() time.Time
}

func NewLedger(store EntryStore) *Ledger {
	return &Ledger{store: store, now: time.Now}
}

func newLedgerAt(store EntryStore, now func() time.Time) *Ledger {
	return &Ledger{store: store, now: now}
}

// Post appends an entry. It returns created=false when an entry with the same
// reference key already exists; that outcome is not an error.
func (l *Ledger) Post(ctx context.Context, e Entry) (created bool, err error) {
	if e.ReferenceKey == "" {
		return false, fmt.Errorf("entry for %s has no reference key", e.EmployeeID)
	}
	if e.Amount.IsZero() {
		return false, fmt.Errorf("entry %s: %w", e.ReferenceKey, ErrInvalidAmount)
	}
	if e.Kind.IsCredit() != e.Amount.IsPositive() {
		return false, fmt.Errorf("entry %s: %s amount has wrong sign: %s", e.ReferenceKey, e.Kind, e.Amount)
	}

	if e.ID == "" {
		e.ID = EntryID(uuid.NewString())
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = l.now().UTC()
	}
	if e.EffectiveOn.IsZero() {
		e.EffectiveOn = DayOf(e.CreatedAt)
	}
	e.Amount = Round2(e.Amount)

	err = l.store.AppendEntry(ctx, e)
	if errors.Is(err, ErrDuplicateReference) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to append entry %s: %w", e.ReferenceKey, err)
	}
	return true, nil
}

// Entries returns all entries for an employee, chronologically.
func (l *Ledger) Entries(ctx context.Context, employeeID EmployeeID) ([]Entry, error) {
	return l.store.EntriesByEmployee(ctx, employeeID)
}
