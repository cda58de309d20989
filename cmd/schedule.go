// -- cmd/schedule.go --
package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/wrenfin/wren/internal/scheduler"
)

var (
	scheduleNow  bool
	scheduleExpr string
)

var scheduleCmd = &cobra.Command{
	Use:   "schedule",
	Short: "Run every stored recipe on a cron cadence",
	Long: `Starts the batch scheduler and blocks until interrupted. With --now the
batch runs once immediately instead. Sensitive steps cannot prompt during
scheduled runs; recipes that need a password should be replayed with "run".`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if scheduleExpr != "" {
			appCfg.SetScheduleExpression(scheduleExpr)
		}
		if !scheduleNow {
			appCfg.SetScheduleEnabled(true)
		}

		a, err := newApp(ctx, true)
		if err != nil {
			return err
		}
		defer a.close(ctx)

		sched, err := scheduler.New(appCfg, a.store, a.engine, a.log)
		if err != nil {
			return err
		}

		if scheduleNow {
			return sched.RunAllNow(ctx)
		}

		if err := sched.Start(ctx); err != nil {
			return err
		}
		defer sched.Stop()

		status := sched.Snapshot()
		if status.NextRunAt != nil {
			fmt.Printf("Scheduler running (%s); next batch at %s. Ctrl-C to stop.\n",
				status.Expression, status.NextRunAt.Format("2006-01-02 15:04"))
		}

		sig := make(chan os.Signal, 1)
		signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
		select {
		case s := <-sig:
			a.log.Info("Signal received, shutting down", zap.String("signal", s.String()))
		case <-ctx.Done():
		}
		return nil
	},
}

func init() {
	scheduleCmd.Flags().BoolVar(&scheduleNow, "now", false, "run one batch immediately and exit")
	scheduleCmd.Flags().StringVar(&scheduleExpr, "cron", "", "override the configured cron expression")
	rootCmd.AddCommand(scheduleCmd)
}
