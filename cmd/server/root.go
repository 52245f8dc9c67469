package main

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"
	"github.com/warp/ledger-engine/config"
	"github.com/warp/ledger-engine/ledger"
	"github.com/warp/ledger-engine/notify"
	"github.com/warp/ledger-engine/store/sqlite"
)

var rootCmd = &cobra.Command{
	Use:           "server",
	Short:         "Employee ledger for daily wages, withdrawals and salary advances",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().String("config", "", "Path to a TOML config file")
	rootCmd.PersistentFlags().String("db", "", "SQLite database path (overrides config)")
	rootCmd.PersistentFlags().String("addr", "", "HTTP listen address (overrides config)")
}

// app is everything a command needs, built from configuration.
type app struct {
	cfg      config.Config
	logger   *slog.Logger
	location *time.Location
	store    *sqlite.Store
	engine   *ledger.Engine
}

func loadApp(cmd *cobra.Command) (*app, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if v, _ := cmd.Flags().GetString("db"); v != "" {
		cfg.Database.Path = v
	}
	if v, _ := cmd.Flags().GetString("addr"); v != "" {
		cfg.Server.Addr = v
	}

	logger := cfg.NewLogger()
	slog.SetDefault(logger)

	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}
	threshold, err := cfg.Threshold()
	if err != nil {
		return nil, err
	}

	store, err := sqlite.New(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	engine := ledger.NewEngine(store, ledger.Config{
		WorkingDaysPerMonth: cfg.Ledger.WorkingDaysPerMonth,
		HighValueThreshold:  threshold,
		Notifier:            newNotifier(cfg.Notify, logger),
		Logger:              logger,
	})

	return &app{cfg: cfg, logger: logger, location: loc, store: store, engine: engine}, nil
}

func newNotifier(cfg config.NotifyConfig, logger *slog.Logger) ledger.Notifier {
	switch cfg.Provider {
	case "http":
		return notify.NewHTTPGateway(cfg.URL, cfg.APIKey, cfg.SenderID, cfg.Timeout.Duration)
	case "none":
		return ledger.NopNotifier{}
	default:
		return notify.LogNotifier{Logger: logger.With(slog.String("component", "notify"))}
	}
}

// today is the current calendar day in the factory's zone.
func (a *app) today() time.Time {
	now := time.Now().In(a.location)
	return ledger.Date(now.Year(), now.Month(), now.Day())
}
