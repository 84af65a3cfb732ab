package main

import (
	"fmt"

	"github.com/gofrs/flock"
	"github.com/spf13/cobra"

	"lighthouse/internal/daemon"
	"lighthouse/internal/deps"
	"lighthouse/internal/queue"
)

func newStatusCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show daemon and queue status",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			colorize := shouldColorize(out)
			for _, line := range renderSectionHeader("Lighthouse", colorize) {
				fmt.Fprintln(out, line)
			}

			running := daemonRunning(daemon.LockPath(cfg))
			if running {
				fmt.Fprintln(out, renderStatusLine("Daemon", statusOK, "running", colorize))
			} else {
				fmt.Fprintln(out, renderStatusLine("Daemon", statusWarn, "stopped", colorize))
			}

			for _, status := range deps.Check(deps.Requirements(cfg)) {
				if status.Available {
					fmt.Fprintln(out, renderStatusLine(status.Name, statusOK, "available", colorize))
				} else {
					fmt.Fprintln(out, renderStatusLine(status.Name, statusWarn, status.Detail, colorize))
				}
			}

			return ctx.withStore(func(store *queue.Store) error {
				fmt.Fprintln(out, renderStatusLine("Queue database", statusInfo, store.Path(), colorize))

				health, err := store.Health(cmd.Context())
				if err != nil {
					return err
				}
				kind := statusOK
				if health.Failed > 0 {
					kind = statusWarn
				}
				fmt.Fprintln(out, renderStatusLine("Runs", kind,
					fmt.Sprintf("%d total, %d pending, %d processing, %d failed, %d completed",
						health.Total, health.Pending, health.Processing, health.Failed, health.Completed),
					colorize))

				stats, err := store.Stats(cmd.Context())
				if err != nil {
					return err
				}
				if rows := buildQueueStatusRows(stats); len(rows) > 0 {
					table := renderTable([]string{"Status", "Count"}, rows, []columnAlignment{alignLeft, alignRight})
					fmt.Fprintln(out, table)
				}
				return nil
			})
		},
	}
}

// daemonRunning probes the daemon lock file. The lock is only held while
// lighthoused is up, so a successful trial acquisition means no daemon.
func daemonRunning(lockPath string) bool {
	lock := flock.New(lockPath)
	acquired, err := lock.TryLock()
	if err != nil {
		return false
	}
	if acquired {
		_ = lock.Unlock()
		return false
	}
	return true
}
