/*
main.go - Application entry point

PURPOSE:
  Command-line entry for the employee ledger server.

COMMANDS:
  serve                      Run the HTTP API and the daily accrual scheduler
  accrue [--date D]          Credit one day (default: today in the factory zone)
  backfill --from D --to D   Credit every day in an inclusive range

GLOBAL FLAGS:
  --config   TOML config file (optional)
  --db       SQLite database path, overrides config (":memory:" for a throwaway ledger)
  --addr     HTTP listen address, overrides config

  Environment variables (LEDGER_*) and a .env file are read as well; see
  config/config.go for the precedence.

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM the scheduler stops first (waiting for a running
  accrual), then the HTTP server drains for up to 30s, then the database
  closes.

EXAMPLES:
  ./server serve --config ./ledger.toml
  ./server accrue --date 2024-03-15
  ./server backfill --from 2024-03-01 --to 2024-03-15

SEE ALSO:
  - api/server.go: Router configuration
  - config/config.go: Configuration
  - store/sqlite/sqlite.go: Database implementation
*/
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
