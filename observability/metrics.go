// Package observability holds the Prometheus metrics emitted by the ledger
// engine. Metrics are registered on the default registry and served by the
// API at /metrics.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ─── Accrual ────────────────────────────────────────────────────────────────

// AccrualOutcomes counts per-employee accrual results.
// outcome: credited | already_credited | skipped | failed
var AccrualOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "ledger",
	Name:      "accrual_outcomes_total",
	Help:      "Daily salary accrual results per employee and day.",
}, []string{"outcome"})

// AccrualRunDuration observes how long one RunDailyAccrual takes.
var AccrualRunDuration = promauto.NewHistogram(prometheus.HistogramOpts{
	Namespace: "ledger",
	Name:      "accrual_run_duration_seconds",
	Help:      "Duration of a daily accrual run.",
	Buckets:   prometheus.DefBuckets,
})

// ─── Withdrawals ────────────────────────────────────────────────────────────

// WithdrawalRequests counts withdrawal admissions.
// outcome: accepted | insufficient_balance | invalid
var WithdrawalRequests = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "ledger",
	Name:      "withdrawal_requests_total",
	Help:      "Withdrawal requests by admission outcome.",
}, []string{"outcome"})

// WithdrawalTransitions counts status changes after admission.
var WithdrawalTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "ledger",
	Name:      "withdrawal_transitions_total",
	Help:      "Withdrawal status transitions.",
}, []string{"to"})

// ─── Advances & approvals ───────────────────────────────────────────────────

var AdvancePayments = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "ledger",
	Name:      "advance_payments_total",
	Help:      "Advance payment records by action.",
}, []string{"action"})

var ApprovalTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "ledger",
	Name:      "approval_transitions_total",
	Help:      "Approval workflow transitions by request type and action.",
}, []string{"type", "action"})

// ─── Notifications ──────────────────────────────────────────────────────────

// Notifications counts best-effort notifier calls.
// outcome: sent | failed | skipped
var Notifications = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "ledger",
	Name:      "notifications_total",
	Help:      "Outbound employee notifications by outcome.",
}, []string{"outcome"})
