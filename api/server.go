/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:  Unique ID per request for tracing
  2. Logger:     Structured request logging (slog)
  3. Recoverer:  Panic recovery (500 instead of crash)
  4. CORS:       Cross-origin requests for the portal frontend

ROUTE GROUPS:
  /api/employees/*    Employees, balance, statement, withdrawals, advances
  /api/withdrawals/*  Withdrawal transitions
  /api/approvals/*    Two-stage approval workflow
  /api/advances/*     Advance details and installments
  /api/payments/*     Installment approval
  /api/admin/*        Accrual run and backfill
  /api/scenarios/*    Demo data loaders
  /healthz            Liveness + store ping
  /metrics            Prometheus

SECURITY NOTE:
  No authentication middleware. All endpoints are public.

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"log/slog"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// RouterOptions tunes NewRouter.
type RouterOptions struct {
	AllowedOrigins []string
	Logger         *slog.Logger
}

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, opts RouterOptions) *chi.Mux {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	origins := opts.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"http://localhost:5173", "http://localhost:8080"}
	}

	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(NewStructuredLogger(logger))
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	r.Get("/healthz", h.Healthz)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Route("/employees", func(r chi.Router) {
			r.Get("/", h.ListEmployees)
			r.Post("/", h.CreateEmployee)
			r.Get("/{id}", h.GetEmployee)
			r.Get("/{id}/balance", h.GetBalance)
			r.Get("/{id}/statement", h.GetStatement)
			r.Get("/{id}/withdrawals", h.ListEmployeeWithdrawals)
			r.Post("/{id}/withdrawals", h.RequestWithdrawal)
			r.Get("/{id}/advances", h.ListEmployeeAdvances)
		})

		r.Route("/withdrawals", func(r chi.Router) {
			r.Get("/open", h.ListOpenWithdrawals)
			r.Get("/{id}", h.GetWithdrawal)
			r.Post("/{id}/approve", h.ApproveWithdrawal)
			r.Post("/{id}/reject", h.RejectWithdrawal)
			r.Post("/{id}/cancel", h.CancelWithdrawal)
			r.Post("/{id}/pay", h.PayWithdrawal)
			r.Post("/{id}/reverse", h.ReverseWithdrawal)
		})

		r.Route("/approvals", func(r chi.Router) {
			r.Get("/", h.ListApprovals)
			r.Post("/", h.SubmitApproval)
			r.Get("/{id}", h.GetApproval)
			r.Post("/{id}/admin-approve", h.AdminApprove)
			r.Post("/{id}/admin-reject", h.AdminReject)
			r.Post("/{id}/finance-approve", h.FinanceApprove)
			r.Post("/{id}/finance-reject", h.FinanceReject)
			r.Post("/{id}/activate", h.ActivateAdvance)
		})

		r.Route("/advances", func(r chi.Router) {
			r.Get("/{id}", h.GetAdvance)
			r.Get("/{id}/payments", h.ListPayments)
			r.Post("/{id}/payments", h.RecordPayment)
		})

		r.Route("/payments", func(r chi.Router) {
			r.Post("/{id}/approve", h.ApprovePayment)
			r.Post("/{id}/reject", h.RejectPayment)
		})

		r.Route("/admin", func(r chi.Router) {
			r.Post("/accrual/run", h.RunAccrual)
			r.Post("/accrual/backfill", h.Backfill)
		})

		r.Route("/scenarios", func(r chi.Router) {
			r.Get("/", h.ListScenarios)
			r.Get("/current", h.GetCurrentScenario)
			r.Post("/load", h.LoadScenario)
		})
	})

	return r
}
