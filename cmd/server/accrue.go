package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/warp/ledger-engine/ledger"
)

var accrueCmd = &cobra.Command{
	Use:   "accrue",
	Short: "Credit daily salary for one day",
	Long: `Credit daily salary for every eligible employee for one day.
Days already credited are left alone, so the command can be re-run freely.`,
	RunE: runAccrue,
}

var backfillCmd = &cobra.Command{
	Use:   "backfill",
	Short: "Credit daily salary for every day in a range",
	Long: `Credit daily salary for every day in the inclusive range --from..--to.
Days already credited are left alone, so an interrupted backfill can simply be
started again.`,
	RunE: runBackfill,
}

func init() {
	rootCmd.AddCommand(accrueCmd)
	rootCmd.AddCommand(backfillCmd)

	accrueCmd.Flags().String("date", "", "Day to credit, YYYY-MM-DD (default: today)")
	backfillCmd.Flags().String("from", "", "First day, YYYY-MM-DD")
	backfillCmd.Flags().String("to", "", "Last day, YYYY-MM-DD")
	_ = backfillCmd.MarkFlagRequired("from")
	_ = backfillCmd.MarkFlagRequired("to")
}

func runAccrue(cmd *cobra.Command, args []string) error {
	a, err := loadApp(cmd)
	if err != nil {
		return err
	}
	defer a.store.Close()

	day := a.today()
	if v, _ := cmd.Flags().GetString("date"); v != "" {
		if day, err = ledger.ParseDate(v); err != nil {
			return fmt.Errorf("invalid --date %q: %w", v, err)
		}
	}

	res, err := a.engine.Accrual.RunDailyAccrual(cmd.Context(), day)
	printResult(cmd, res)
	return err
}

func runBackfill(cmd *cobra.Command, args []string) error {
	from, err := dateFlag(cmd, "from")
	if err != nil {
		return err
	}
	to, err := dateFlag(cmd, "to")
	if err != nil {
		return err
	}

	a, err := loadApp(cmd)
	if err != nil {
		return err
	}
	defer a.store.Close()

	results, err := a.engine.Accrual.Backfill(cmd.Context(), from, to)
	for _, res := range results {
		printResult(cmd, res)
	}
	if err != nil {
		return errors.Join(errors.New("backfill finished with errors"), err)
	}
	return nil
}

func dateFlag(cmd *cobra.Command, name string) (time.Time, error) {
	v, _ := cmd.Flags().GetString(name)
	d, err := ledger.ParseDate(v)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid --%s %q: %w", name, v, err)
	}
	return d, nil
}

func printResult(cmd *cobra.Command, res ledger.AccrualResult) {
	fmt.Fprintf(cmd.OutOrStdout(), "%s  credited=%d already=%d skipped=%d failed=%d\n",
		ledger.FormatDate(res.Date), res.Credited, res.AlreadyCredited, len(res.Skipped), len(res.Failed))
	for _, f := range res.Failed {
		fmt.Fprintf(cmd.ErrOrStderr(), "  %s: %v\n", f.EmployeeID, f.Err)
	}
}
