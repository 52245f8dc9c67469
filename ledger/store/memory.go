// Package store provides in-process Repository implementations.
package store

import (
	"context"
	"maps"
	"slices"
	"sort"
	"sync"

	"github.com/warp/ledger-engine/ledger"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

// Memory is a ledger.TxRepository held in maps. WithTx holds the write lock
// for the whole unit and restores a snapshot if the unit fails.
type Memory struct {
	mu sync.RWMutex
	s  *memState
}

func NewMemory() *Memory {
	return &Memory{s: newMemState()}
}

var _ ledger.TxRepository = (*Memory)(nil)

// WithTx executes fn within a transaction.
// For memory store, this is simulated with a snapshot + rollback on error.
func (m *Memory) WithTx(ctx context.Context, fn func(ledger.Repository) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	snapshot := m.s.clone()
	if err := fn(m.s); err != nil {
		m.s = snapshot
		return err
	}
	return nil
}

// =============================================================================
// LOCKING WRAPPERS
// =============================================================================

func (m *Memory) AppendEntry(ctx context.Context, e ledger.Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.s.AppendEntry(ctx, e)
}

func (m *Memory) EntriesByEmployee(ctx context.Context, id ledger.EmployeeID) ([]ledger.Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.s.EntriesByEmployee(ctx, id)
}

func (m *Memory) EntryByReference(ctx context.Context, ref string) (*ledger.Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.s.EntryByReference(ctx, ref)
}

func (m *Memory) SaveEmployee(ctx context.Context, e ledger.Employee) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.s.SaveEmployee(ctx, e)
}

func (m *Memory) GetEmployee(ctx context.Context, id ledger.EmployeeID) (*ledger.Employee, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.s.GetEmployee(ctx, id)
}

func (m *Memory) ListEmployees(ctx context.Context) ([]ledger.Employee, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.s.ListEmployees(ctx)
}

func (m *Memory) InsertWithdrawal(ctx context.Context, w ledger.WithdrawalRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.s.InsertWithdrawal(ctx, w)
}

func (m *Memory) UpdateWithdrawal(ctx context.Context, w ledger.WithdrawalRequest, from ledger.WithdrawalStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.s.UpdateWithdrawal(ctx, w, from)
}

func (m *Memory) GetWithdrawal(ctx context.Context, id ledger.WithdrawalID) (*ledger.WithdrawalRequest, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.s.GetWithdrawal(ctx, id)
}

func (m *Memory) ListWithdrawals(ctx context.Context, id ledger.EmployeeID) ([]ledger.WithdrawalRequest, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.s.ListWithdrawals(ctx, id)
}

func (m *Memory) ListWithdrawalsByStatus(ctx context.Context, statuses ...ledger.WithdrawalStatus) ([]ledger.WithdrawalRequest, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.s.ListWithdrawalsByStatus(ctx, statuses...)
}

func (m *Memory) InsertAdvance(ctx context.Context, a ledger.SalaryAdvance) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.s.InsertAdvance(ctx, a)
}

func (m *Memory) UpdateAdvance(ctx context.Context, a ledger.SalaryAdvance, from ledger.AdvanceStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.s.UpdateAdvance(ctx, a, from)
}

func (m *Memory) GetAdvance(ctx context.Context, id ledger.AdvanceID) (*ledger.SalaryAdvance, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.s.GetAdvance(ctx, id)
}

func (m *Memory) GetAdvanceByApproval(ctx context.Context, id ledger.ApprovalID) (*ledger.SalaryAdvance, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.s.GetAdvanceByApproval(ctx, id)
}

func (m *Memory) ListAdvances(ctx context.Context, id ledger.EmployeeID) ([]ledger.SalaryAdvance, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.s.ListAdvances(ctx, id)
}

func (m *Memory) InsertPayment(ctx context.Context, p ledger.AdvancePayment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.s.InsertPayment(ctx, p)
}

func (m *Memory) UpdatePayment(ctx context.Context, p ledger.AdvancePayment, from ledger.PaymentStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.s.UpdatePayment(ctx, p, from)
}

func (m *Memory) GetPayment(ctx context.Context, id ledger.PaymentID) (*ledger.AdvancePayment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.s.GetPayment(ctx, id)
}

func (m *Memory) ListPayments(ctx context.Context, id ledger.AdvanceID) ([]ledger.AdvancePayment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.s.ListPayments(ctx, id)
}

func (m *Memory) InsertApproval(ctx context.Context, a ledger.ApprovalRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.s.InsertApproval(ctx, a)
}

func (m *Memory) UpdateApproval(ctx context.Context, a ledger.ApprovalRequest, from ledger.ApprovalStage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.s.UpdateApproval(ctx, a, from)
}

func (m *Memory) GetApproval(ctx context.Context, id ledger.ApprovalID) (*ledger.ApprovalRequest, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.s.GetApproval(ctx, id)
}

func (m *Memory) ListApprovals(ctx context.Context, stages ...ledger.ApprovalStage) ([]ledger.ApprovalRequest, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.s.ListApprovals(ctx, stages...)
}

// =============================================================================
// STATE - Unlocked maps; also the view handed to WithTx callbacks
// =============================================================================

type memState struct {
	entries     map[ledger.EmployeeID][]ledger.Entry
	references  map[string]ledger.Entry
	employees   map[ledger.EmployeeID]ledger.Employee
	withdrawals map[ledger.WithdrawalID]ledger.WithdrawalRequest
	advances    map[ledger.AdvanceID]ledger.SalaryAdvance
	payments    map[ledger.PaymentID]ledger.AdvancePayment
	approvals   map[ledger.ApprovalID]ledger.ApprovalRequest
}

func newMemState() *memState {
	return &memState{
		entries:     make(map[ledger.EmployeeID][]ledger.Entry),
		references:  make(map[string]ledger.Entry),
		employees:   make(map[ledger.EmployeeID]ledger.Employee),
		withdrawals: make(map[ledger.WithdrawalID]ledger.WithdrawalRequest),
		advances:    make(map[ledger.AdvanceID]ledger.SalaryAdvance),
		payments:    make(map[ledger.PaymentID]ledger.AdvancePayment),
		approvals:   make(map[ledger.ApprovalID]ledger.ApprovalRequest),
	}
}

func (s *memState) clone() *memState {
	entries := make(map[ledger.EmployeeID][]ledger.Entry, len(s.entries))
	for k, v := range s.entries {
		entries[k] = slices.Clone(v)
	}
	return &memState{
		entries:     entries,
		references:  maps.Clone(s.references),
		employees:   maps.Clone(s.employees),
		withdrawals: maps.Clone(s.withdrawals),
		advances:    maps.Clone(s.advances),
		payments:    maps.Clone(s.payments),
		approvals:   maps.Clone(s.approvals),
	}
}

// AppendEntry keeps each employee's entries sorted by EffectiveOn, then
// CreatedAt.
func (s *memState) AppendEntry(_ context.Context, e ledger.Entry) error {
	if _, ok := s.references[e.ReferenceKey]; ok {
		return ledger.ErrDuplicateReference
	}
	s.references[e.ReferenceKey] = e

	txs := s.entries[e.EmployeeID]
	i := sort.Search(len(txs), func(i int) bool {
		if txs[i].EffectiveOn.Equal(e.EffectiveOn) {
			return txs[i].CreatedAt.After(e.CreatedAt)
		}
		return txs[i].EffectiveOn.After(e.EffectiveOn)
	})
	s.entries[e.EmployeeID] = slices.Insert(txs, i, e)
	return nil
}

func (s *memState) EntriesByEmployee(_ context.Context, id ledger.EmployeeID) ([]ledger.Entry, error) {
	return slices.Clone(s.entries[id]), nil
}

func (s *memState) EntryByReference(_ context.Context, ref string) (*ledger.Entry, error) {
	return lookup(s.references, ref), nil
}

func (s *memState) SaveEmployee(_ context.Context, e ledger.Employee) error {
	s.employees[e.ID] = e
	return nil
}

func (s *memState) GetEmployee(_ context.Context, id ledger.EmployeeID) (*ledger.Employee, error) {
	return lookup(s.employees, id), nil
}

func (s *memState) ListEmployees(context.Context) ([]ledger.Employee, error) {
	out := slices.Collect(maps.Values(s.employees))
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *memState) InsertWithdrawal(_ context.Context, w ledger.WithdrawalRequest) error {
	if _, ok := s.withdrawals[w.ID]; ok {
		return ledger.ErrDuplicateReference
	}
	s.withdrawals[w.ID] = w
	return nil
}

func (s *memState) UpdateWithdrawal(_ context.Context, w ledger.WithdrawalRequest, from ledger.WithdrawalStatus) error {
	cur, ok := s.withdrawals[w.ID]
	if !ok || cur.Status != from {
		return ledger.ErrConcurrentUpdate
	}
	s.withdrawals[w.ID] = w
	return nil
}

func (s *memState) GetWithdrawal(_ context.Context, id ledger.WithdrawalID) (*ledger.WithdrawalRequest, error) {
	return lookup(s.withdrawals, id), nil
}

func (s *memState) ListWithdrawals(_ context.Context, id ledger.EmployeeID) ([]ledger.WithdrawalRequest, error) {
	var out []ledger.WithdrawalRequest
	for _, w := range s.withdrawals {
		if w.EmployeeID == id {
			out = append(out, w)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s *memState) ListWithdrawalsByStatus(_ context.Context, statuses ...ledger.WithdrawalStatus) ([]ledger.WithdrawalRequest, error) {
	var out []ledger.WithdrawalRequest
	for _, w := range s.withdrawals {
		if slices.Contains(statuses, w.Status) {
			out = append(out, w)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *memState) InsertAdvance(_ context.Context, a ledger.SalaryAdvance) error {
	if _, ok := s.advances[a.ID]; ok {
		return ledger.ErrDuplicateReference
	}
	for _, existing := range s.advances {
		if existing.ApprovalRequestID == a.ApprovalRequestID {
			return ledger.ErrDuplicateReference
		}
	}
	s.advances[a.ID] = a
	return nil
}

func (s *memState) UpdateAdvance(_ context.Context, a ledger.SalaryAdvance, from ledger.AdvanceStatus) error {
	cur, ok := s.advances[a.ID]
	if !ok || cur.Status != from {
		return ledger.ErrConcurrentUpdate
	}
	s.advances[a.ID] = a
	return nil
}

func (s *memState) GetAdvance(_ context.Context, id ledger.AdvanceID) (*ledger.SalaryAdvance, error) {
	return lookup(s.advances, id), nil
}

func (s *memState) GetAdvanceByApproval(_ context.Context, id ledger.ApprovalID) (*ledger.SalaryAdvance, error) {
	for _, a := range s.advances {
		if a.ApprovalRequestID == id {
			return &a, nil
		}
	}
	return nil, nil
}

func (s *memState) ListAdvances(_ context.Context, id ledger.EmployeeID) ([]ledger.SalaryAdvance, error) {
	var out []ledger.SalaryAdvance
	for _, a := range s.advances {
		if a.EmployeeID == id {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s *memState) InsertPayment(_ context.Context, p ledger.AdvancePayment) error {
	if _, ok := s.payments[p.ID]; ok {
		return ledger.ErrDuplicateReference
	}
	s.payments[p.ID] = p
	return nil
}

func (s *memState) UpdatePayment(_ context.Context, p ledger.AdvancePayment, from ledger.PaymentStatus) error {
	cur, ok := s.payments[p.ID]
	if !ok || cur.Status != from {
		return ledger.ErrConcurrentUpdate
	}
	s.payments[p.ID] = p
	return nil
}

func (s *memState) GetPayment(_ context.Context, id ledger.PaymentID) (*ledger.AdvancePayment, error) {
	return lookup(s.payments, id), nil
}

func (s *memState) ListPayments(_ context.Context, id ledger.AdvanceID) ([]ledger.AdvancePayment, error) {
	var out []ledger.AdvancePayment
	for _, p := range s.payments {
		if p.AdvanceID == id {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *memState) InsertApproval(_ context.Context, a ledger.ApprovalRequest) error {
	if _, ok := s.approvals[a.ID]; ok {
		return ledger.ErrDuplicateReference
	}
	s.approvals[a.ID] = a
	return nil
}

func (s *memState) UpdateApproval(_ context.Context, a ledger.ApprovalRequest, from ledger.ApprovalStage) error {
	cur, ok := s.approvals[a.ID]
	if !ok || cur.Stage != from {
		return ledger.ErrConcurrentUpdate
	}
	s.approvals[a.ID] = a
	return nil
}

func (s *memState) GetApproval(_ context.Context, id ledger.ApprovalID) (*ledger.ApprovalRequest, error) {
	return lookup(s.approvals, id), nil
}

func (s *memState) ListApprovals(_ context.Context, stages ...ledger.ApprovalStage) ([]ledger.ApprovalRequest, error) {
	var out []ledger.ApprovalRequest
	for _, a := range s.approvals {
		if len(stages) == 0 || slices.Contains(stages, a.Stage) {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func lookup[K comparable, V any](m map[K]V, k K) *V {
	v, ok := m[k]
	if !ok {
		return nil
	}
	return &v
}
