/*
scheduler.go - Daily accrual scheduler

PURPOSE:
  Triggers RunDailyAccrual on a cron schedule (default shortly after
  midnight in the factory's time zone). A missed run is harmless: the next
  run, a manual "run now", or a backfill credits the same days exactly once.

DESIGN:
  - robfig/cron drives the schedule
  - Each run credits "today" in the configured location
  - Overlapping runs are skipped by cron.SkipIfStillRunning; they would be
    harmless anyway because reference keys absorb duplicates
  - CatchUpDays > 0 also re-runs the previous N days, covering downtime

USAGE:
  scheduler, err := NewAccrualScheduler(engine.Accrual, SchedulerConfig{Spec: "5 0 * * *"})
  scheduler.Start()
  // ... later
  scheduler.Stop()

SEE ALSO:
  - ledger/accrual.go: RunDailyAccrual
  - handlers.go: RunAccrual endpoint (manual run)
*/
package api

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/warp/ledger-engine/ledger"
)

// DefaultAccrualSpec runs at 00:05 every day.
const DefaultAccrualSpec = "5 0 * * *"

// AccrualRunner is the part of ledger.AccrualRunner the scheduler needs.
type AccrualRunner interface {
	RunDailyAccrual(ctx context.Context, date time.Time) (ledger.AccrualResult, error)
}

type SchedulerConfig struct {
	Spec        string
	Location    *time.Location
	CatchUpDays int
	RunTimeout  time.Duration
	Logger      *slog.Logger
	Clock       func() time.Time
}

// AccrualScheduler runs the daily accrual on a cron schedule.
type AccrualScheduler struct {
	runner AccrualRunner
	cfg    SchedulerConfig
	cron   *cron.Cron
	entry  cron.EntryID

	mu      sync.Mutex
	running bool
}

// NewAccrualScheduler validates the cron spec and builds a stopped scheduler.
func NewAccrualScheduler(runner AccrualRunner, cfg SchedulerConfig) (*AccrualScheduler, error) {
	if cfg.Spec == "" {
		cfg.Spec = DefaultAccrualSpec
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.RunTimeout <= 0 {
		cfg.RunTimeout = 10 * time.Minute
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}

	s := &AccrualScheduler{runner: runner, cfg: cfg}
	s.cron = cron.New(
		cron.WithLocation(cfg.Location),
		cron.WithChain(cron.Recover(cronLogger{cfg.Logger}), cron.SkipIfStillRunning(cronLogger{cfg.Logger})),
	)
	id, err := s.cron.AddFunc(cfg.Spec, func() { s.RunNow(context.Background()) })
	if err != nil {
		return nil, fmt.Errorf("invalid accrual schedule %q: %w", cfg.Spec, err)
	}
	s.entry = id
	return s, nil
}

// Start begins the scheduler.
func (s *AccrualScheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	s.cron.Start()
	s.running = true
	s.cfg.Logger.Info("accrual scheduler started",
		slog.String("spec", s.cfg.Spec),
		slog.String("location", s.cfg.Location.String()),
		slog.Time("next_run", s.NextRun()),
	)
}

// Stop stops the scheduler and waits for a running accrual to finish.
func (s *AccrualScheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return
	}
	<-s.cron.Stop().Done()
	s.running = false
	s.cfg.Logger.Info("accrual scheduler stopped")
}

// RunNow credits today, plus the catch-up window, immediately.
func (s *AccrualScheduler) RunNow(ctx context.Context) []ledger.AccrualResult {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.RunTimeout)
	defer cancel()

	local := s.cfg.Clock().In(s.cfg.Location)
	today := ledger.Date(local.Year(), local.Month(), local.Day())

	var results []ledger.AccrualResult
	for i := s.cfg.CatchUpDays; i >= 0; i-- {
		day := today.AddDate(0, 0, -i)
		res, err := s.runner.RunDailyAccrual(ctx, day)
		results = append(results, res)
		if err != nil {
			s.cfg.Logger.ErrorContext(ctx, "scheduled accrual failed",
				slog.String("date", ledger.FormatDate(day)),
				slog.Any("error", err),
			)
		}
	}
	return results
}

// NextRun returns when the next scheduled accrual will occur. Zero before
// Start.
func (s *AccrualScheduler) NextRun() time.Time {
	return s.cron.Entry(s.entry).Next
}

// cronLogger adapts slog to cron.Logger.
type cronLogger struct {
	l *slog.Logger
}

func (c cronLogger) Info(msg string, keysAndValues ...any) {
	c.l.Debug("cron: "+msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...any) {
	c.l.Error("cron: "+msg, append(keysAndValues, "error", err)...)
}
