package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/oklog/run"
	"github.com/spf13/cobra"

	"github.com/harrison/taskpilot/internal/fallback"
)

// NewMonitorCommand creates the monitor command
func NewMonitorCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "monitor",
		Short: "Run the task health monitor until interrupted",
		Long: `Run the task manager health loop: report phases active beyond the stall
threshold, evict terminal tasks past retention from memory and retry task
writes that failed. Fallback records flushed by other taskpilot processes
are reloaded as they land and their alert levels logged.

Use --once to run a single health check and print its report.`,
		Args: cobra.NoArgs,
		RunE: monitorCommand,
	}

	cmd.Flags().Bool("once", false, "Run one health check and exit")
	cmd.Flags().Duration("reload-delay", fallback.DefaultReloadDelay, "Quiet period before reloading changed fallback records")

	return cmd
}

func monitorCommand(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	a, err := newApp(ctx, cmd)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			a.logger.Errorf("Could not close cleanly: %v", err)
		}
	}()

	if once, _ := cmd.Flags().GetBool("once"); once {
		report := a.manager.CheckHealth(ctx)
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "Health check at %s\n", report.CheckedAt.Format(time.RFC3339))
		fmt.Fprintf(out, "  Active task: %s\n", valueOr(a.manager.ActiveTaskID(), "none"))
		fmt.Fprintf(out, "  Queued tasks: %d\n", len(a.manager.QueuedTaskIDs()))
		fmt.Fprintf(out, "  Stalled phases: %d\n", len(report.Stalled))
		for _, s := range report.Stalled {
			fmt.Fprintf(out, "    - task %s phase %d active for %s\n", s.TaskID, s.PhaseID, s.ActiveFor.Round(time.Second))
		}
		fmt.Fprintf(out, "  Reclaimed tasks: %d\n", len(report.Reclaimed))
		fmt.Fprintf(out, "  Retried writes: %d, still pending: %d\n", report.RetriedWrites, report.PendingWrites)
		return nil
	}

	reloadDelay, _ := cmd.Flags().GetDuration("reload-delay")
	if reloadDelay <= 0 {
		return fmt.Errorf("reload-delay must be > 0")
	}
	watcher := fallback.NewWatcher(a.monitor, a.cfg.Fallback.DataDir, reloadDelay, a.logger)

	var g run.Group

	// OS signals.
	{
		signalCtx, signalCancel := signal.NotifyContext(ctx, syscall.SIGTERM, syscall.SIGINT)
		defer signalCancel()

		g.Add(
			func() error {
				<-signalCtx.Done()
				a.logger.Infof("Termination signal received")
				return nil
			},
			func(_ error) {
				signalCancel()
			},
		)
	}

	// Task health loop.
	{
		ctx, cancel := context.WithCancel(ctx)
		defer cancel()

		g.Add(
			func() error {
				return a.manager.Run(ctx)
			},
			func(_ error) {
				cancel()
			},
		)
	}

	// Fallback records written by other processes.
	{
		ctx, cancel := context.WithCancel(ctx)
		defer cancel()

		g.Add(
			func() error {
				return watcher.Run(ctx)
			},
			func(_ error) {
				cancel()
			},
		)
	}

	a.logger.Infof("Health monitor started (interval %s)", a.cfg.TaskManager.HealthInterval)
	return g.Run()
}

func valueOr(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
