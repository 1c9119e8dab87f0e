// ABOUTME: Check command for the portalctl CLI
// ABOUTME: Validates gateway and sync health thresholds for monitoring pipelines

package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/markalston/portal-gateway/models"
)

var (
	maxErrored int
	maxBlocked int
)

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Check gateway health thresholds",
	Long: `Check the sync scheduler and security counters and exit non-zero if any threshold is exceeded.

Exit codes:
  0 - All checks passed
  1 - One or more thresholds exceeded
  2 - Error (connectivity, invalid input)`,
	Run: func(cmd *cobra.Command, args []string) {
		runWithSignals(func(ctx context.Context) int { return runCheck(ctx, os.Stdout) })
	},
}

func init() {
	rootCmd.AddCommand(checkCmd)
	checkCmd.Flags().IntVar(&maxErrored, "max-errored", 0, "Errored units allowed in the last sync run")
	checkCmd.Flags().IntVar(&maxBlocked, "max-blocked", 50, "Blocked IPs allowed before alerting")
}

// checkResult represents the result of a single threshold check
type checkResult struct {
	name      string
	value     int
	threshold int
	passed    bool
}

// runCheck executes the threshold checks and returns exit code
func runCheck(ctx context.Context, w io.Writer) int {
	if err := validateThresholds(maxErrored, maxBlocked); err != nil {
		fmt.Fprintf(w, "Error: %v\n", err)
		return 2
	}

	c := newClient()
	health, err := c.Health(ctx)
	if err != nil {
		fmt.Fprintf(w, "Error: %v\n", err)
		return 2
	}
	sched, err := c.SchedulerStatus(ctx)
	if err != nil {
		fmt.Fprintf(w, "Error: %v\n", err)
		return 2
	}

	results := performChecks(health, sched)

	if IsJSONOutput() {
		fmt.Fprintln(w, formatCheckJSON(results))
	} else {
		fmt.Fprintln(w, formatCheckHuman(results))
	}

	_, failed := countResults(results)
	if failed > 0 {
		return 1
	}
	return 0
}

// validateThresholds ensures threshold values are valid
func validateThresholds(errored, blocked int) error {
	if errored < 0 {
		return fmt.Errorf("--max-errored must not be negative")
	}
	if blocked < 0 {
		return fmt.Errorf("--max-blocked must not be negative")
	}
	return nil
}

// performChecks runs all threshold checks against gateway state
func performChecks(health *models.HealthResponse, sched *models.SchedulerStatus) []checkResult {
	running := 0
	if sched.Running {
		running = 1
	}
	results := []checkResult{{
		name:      "Scheduler running",
		value:     running,
		threshold: 1,
		passed:    sched.Running,
	}}

	if sched.LastRun != nil {
		results = append(results, checkResult{
			name:      "Errored units (last run)",
			value:     sched.LastRun.Errored,
			threshold: maxErrored,
			passed:    sched.LastRun.Errored <= maxErrored,
		})
	}

	results = append(results, checkResult{
		name:      "Blocked IPs",
		value:     health.BlockedIPs,
		threshold: maxBlocked,
		passed:    health.BlockedIPs <= maxBlocked,
	})

	return results
}

// countResults returns the count of passed and failed checks
func countResults(results []checkResult) (passed, failed int) {
	for _, r := range results {
		if r.passed {
			passed++
		} else {
			failed++
		}
	}
	return
}

// formatCheckHuman formats check results for human readability
func formatCheckHuman(results []checkResult) string {
	var output string

	for _, r := range results {
		symbol := "✓"
		if !r.passed {
			symbol = "✗"
		}
		output += fmt.Sprintf("%s %s: %d (threshold: %d)\n", symbol, r.name, r.value, r.threshold)
	}

	passed, failed := countResults(results)
	if failed > 0 {
		output += fmt.Sprintf("\nFAILED: %d check(s) exceeded threshold", failed)
	} else {
		output += fmt.Sprintf("\nPASSED: All %d check(s) within thresholds", passed)
	}

	return output
}

// formatCheckJSON formats check results as JSON
func formatCheckJSON(results []checkResult) string {
	_, failed := countResults(results)

	checks := make([]map[string]interface{}, len(results))
	for i, r := range results {
		checks[i] = map[string]interface{}{
			"name":      r.name,
			"value":     r.value,
			"threshold": r.threshold,
			"passed":    r.passed,
		}
	}

	status := "passed"
	if failed > 0 {
		status = "failed"
	}

	output := map[string]interface{}{
		"status": status,
		"checks": checks,
	}

	data, _ := json.MarshalIndent(output, "", "  ")
	return string(data)
}
