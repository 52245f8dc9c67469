package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/warp/ledger-engine/api"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API and the daily accrual scheduler",
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	a, err := loadApp(cmd)
	if err != nil {
		return err
	}
	defer a.store.Close()

	var scheduler *api.AccrualScheduler
	if a.cfg.Accrual.Enabled {
		scheduler, err = api.NewAccrualScheduler(a.engine.Accrual, api.SchedulerConfig{
			Spec:        a.cfg.Accrual.Schedule,
			Location:    a.location,
			CatchUpDays: a.cfg.Accrual.CatchUpDays,
			Logger:      a.logger.With(slog.String("component", "scheduler")),
		})
		if err != nil {
			return err
		}
		// Credit anything missed while the server was down.
		scheduler.RunNow(cmd.Context())
		scheduler.Start()
	}

	handler := api.NewHandler(a.engine, a.store, a.logger)
	router := api.NewRouter(handler, api.RouterOptions{
		AllowedOrigins: a.cfg.Server.AllowedOrigins,
		Logger:         a.logger,
	})

	server := &http.Server{
		Addr:         a.cfg.Server.Addr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		a.logger.Info("server starting",
			slog.String("addr", a.cfg.Server.Addr),
			slog.String("db", a.cfg.Database.Path),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErr:
		if scheduler != nil {
			scheduler.Stop()
		}
		return err
	case <-quit:
	}

	a.logger.Info("shutting down server")
	if scheduler != nil {
		scheduler.Stop()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		return err
	}

	a.logger.Info("server stopped")
	return nil
}
