package ledger_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/warp/ledger-engine/ledger"
	"github.com/warp/ledger-engine/ledger/store"
)

// =============================================================================
// TEST SETUP
// =============================================================================

// friday is a working day for the default (Sunday) rest day.
var friday = time.Date(2024, time.March, 15, 9, 30, 0, 0, time.UTC)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

type testEnv struct {
	engine   *ledger.Engine
	store    *store.Memory
	clock    *testClock
	notifier *recordingNotifier
}

type envOption func(*ledger.Config)

func withThreshold(v string) envOption {
	return func(c *ledger.Config) { c.HighValueThreshold = money(v) }
}

func withNotifier(n ledger.Notifier) envOption {
	return func(c *ledger.Config) { c.Notifier = n }
}

func newTestEnv(t *testing.T, opts ...envOption) *testEnv {
	t.Helper()
	mem := store.NewMemory()
	clock := &testClock{now: friday}
	rec := &recordingNotifier{}
	cfg := ledger.Config{
		WorkingDaysPerMonth: 26,
		Notifier:            rec,
		Clock:               clock.Now,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &testEnv{
		engine:   ledger.NewEngine(mem, cfg),
		store:    mem,
		clock:    clock,
		notifier: rec,
	}
}

func money(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func (e *testEnv) addEmployee(t *testing.T, id, salary string) ledger.Employee {
	t.Helper()
	emp, err := e.engine.Employees.Save(context.Background(), ledger.Employee{
		ID:            ledger.EmployeeID(id),
		Name:          "Employee " + id,
		Phone:         "+2567000" + id,
		MonthlySalary: money(salary),
		Active:        true,
		RestDay:       time.Sunday,
	})
	require.NoError(t, err)
	return *emp
}

// credit puts money on an employee's ledger without running accrual.
func (e *testEnv) credit(t *testing.T, id, amount, ref string) {
	t.Helper()
	created, err := ledger.NewLedger(e.store).Post(context.Background(), ledger.Entry{
		EmployeeID:   ledger.EmployeeID(id),
		Kind:         ledger.KindDailySalary,
		Amount:       money(amount),
		ReferenceKey: ref,
		EffectiveOn:  ledger.DayOf(friday),
		CreatedBy:    "test",
		CreatedAt:    friday.Add(-time.Hour),
	})
	require.NoError(t, err)
	require.True(t, created)
}

func (e *testEnv) balance(t *testing.T, id string) ledger.Balance {
	t.Helper()
	b, err := e.engine.Balances.GetBalance(context.Background(), ledger.EmployeeID(id))
	require.NoError(t, err)
	return b
}

func assertMoney(t *testing.T, want string, got decimal.Decimal, msgAndArgs ...any) {
	t.Helper()
	require.Equal(t, want, got.StringFixed(2), msgAndArgs...)
}

// =============================================================================
// NOTIFIERS
// =============================================================================

type recordingNotifier struct {
	mu   sync.Mutex
	sent []ledger.Notification
}

func (n *recordingNotifier) Notify(_ context.Context, phone, message string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, ledger.Notification{Phone: phone, Message: message})
	return nil
}

func (n *recordingNotifier) Sent() []ledger.Notification {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]ledger.Notification(nil), n.sent...)
}

type mockNotifier struct {
	mock.Mock
}

func (m *mockNotifier) Notify(ctx context.Context, phone, message string) error {
	args := m.Called(ctx, phone, message)
	return args.Error(0)
}

type panickingNotifier struct{}

func (panickingNotifier) Notify(context.Context, string, string) error {
	panic("gateway client exploded")
}
