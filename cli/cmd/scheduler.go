// ABOUTME: Scheduler commands for the portalctl CLI
// ABOUTME: Shows, starts, and stops the gateway's background sync loop

package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/markalston/portal-gateway/cli/internal/client"
	"github.com/markalston/portal-gateway/cli/internal/styles"
	"github.com/markalston/portal-gateway/models"
)

var schedulerCmd = &cobra.Command{
	Use:   "scheduler",
	Short: "Inspect or control the sync scheduler",
}

func init() {
	rootCmd.AddCommand(schedulerCmd)

	actions := map[string]func(*client.Client, context.Context) (*models.SchedulerStatus, error){
		"status": (*client.Client).SchedulerStatus,
		"start":  (*client.Client).SchedulerStart,
		"stop":   (*client.Client).SchedulerStop,
	}
	short := map[string]string{
		"status": "Show scheduler state and the last run",
		"start":  "Start the periodic sync loop",
		"stop":   "Stop the loop after the current cycle",
	}
	for _, name := range []string{"status", "start", "stop"} {
		action := actions[name]
		schedulerCmd.AddCommand(&cobra.Command{
			Use:   name,
			Short: short[name],
			Args:  cobra.NoArgs,
			Run: func(cmd *cobra.Command, args []string) {
				runWithSignals(func(ctx context.Context) int {
					return runScheduler(ctx, os.Stdout, func(ctx context.Context) (*models.SchedulerStatus, error) {
						return action(newClient(), ctx)
					})
				})
			},
		})
	}
}

// runScheduler calls one scheduler endpoint and prints the resulting state
func runScheduler(ctx context.Context, w io.Writer, call func(context.Context) (*models.SchedulerStatus, error)) int {
	st, err := call(ctx)
	if err != nil {
		fmt.Fprintf(w, "Error: %v\n", err)
		return 2
	}

	if IsJSONOutput() {
		data, _ := json.MarshalIndent(st, "", "  ")
		fmt.Fprintln(w, string(data))
		return 0
	}
	fmt.Fprintln(w, formatSchedulerHuman(st))
	return 0
}

// formatSchedulerHuman formats scheduler status for human readability
func formatSchedulerHuman(st *models.SchedulerStatus) string {
	state := runningWord(st.Running)
	if st.InFlight {
		state += " (cycle in progress)"
	}
	lines := []string{
		styles.Row("Scheduler:", styles.Badge(st.Running, state)),
		styles.Row("Interval:", st.Interval),
		styles.Row("Runs:", fmt.Sprintf("%d", st.Runs)),
	}
	if st.NextRun != nil {
		lines = append(lines, styles.Row("Next run:", st.NextRun.Local().Format(time.RFC3339)))
	}
	if run := st.LastRun; run != nil {
		lines = append(lines,
			styles.Row("Last run:", run.FinishedAt.Local().Format(time.RFC3339)),
			styles.Row("  owners:", fmt.Sprintf("%d", run.Processed)),
			styles.Row("  updated:", fmt.Sprintf("%d", run.Updated)),
			styles.Row("  skipped:", fmt.Sprintf("%d", run.Skipped)),
			styles.Row("  errored:", styles.Badge(run.Errored == 0, fmt.Sprintf("%d", run.Errored))),
		)
	}
	return strings.Join(lines, "\n")
}
