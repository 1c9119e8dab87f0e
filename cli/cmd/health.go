// ABOUTME: Health command for the portalctl CLI
// ABOUTME: Checks gateway connectivity and component status

package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/markalston/portal-gateway/cli/internal/styles"
	"github.com/markalston/portal-gateway/models"
)

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Check gateway connectivity",
	Long:  `Check connectivity to the portal gateway and report session store, scheduler, and security state.`,
	Run: func(cmd *cobra.Command, args []string) {
		runWithSignals(func(ctx context.Context) int { return runHealth(ctx, os.Stdout) })
	},
}

func init() {
	rootCmd.AddCommand(healthCmd)
}

// runHealth executes the health check and returns exit code
func runHealth(ctx context.Context, w io.Writer) int {
	url := GetAPIURL()
	resp, err := newClient().Health(ctx)
	if err != nil {
		fmt.Fprintf(w, "Error: %v\n", err)
		return 2
	}

	if IsJSONOutput() {
		fmt.Fprintln(w, formatHealthJSON(url, resp))
	} else {
		fmt.Fprintln(w, formatHealthHuman(url, resp))
	}
	return 0
}

// formatHealthHuman formats health response for human readability
func formatHealthHuman(url string, resp *models.HealthResponse) string {
	lines := []string{
		styles.Row("Gateway:", url),
		styles.Row("Status:", styles.Badge(resp.Status == "ok", resp.Status)),
		styles.Row("Store:", resp.SessionStore),
		styles.Row("Scheduler:", styles.Badge(resp.SchedulerRunning, runningWord(resp.SchedulerRunning))),
		styles.Row("Logins:", fmt.Sprintf("%d active", resp.ActiveTransactions)),
		styles.Row("Blocked IPs:", fmt.Sprintf("%d", resp.BlockedIPs)),
	}
	return strings.Join(lines, "\n")
}

// formatHealthJSON formats health response as JSON
func formatHealthJSON(url string, resp *models.HealthResponse) string {
	output := map[string]interface{}{
		"gateway":             url,
		"status":              resp.Status,
		"session_store":       resp.SessionStore,
		"scheduler_running":   resp.SchedulerRunning,
		"active_transactions": resp.ActiveTransactions,
		"blocked_ips":         resp.BlockedIPs,
	}
	data, _ := json.MarshalIndent(output, "", "  ")
	return string(data)
}

func runningWord(running bool) string {
	if running {
		return "running"
	}
	return "stopped"
}
