// ABOUTME: Security commands for the portalctl CLI
// ABOUTME: Lists blocked IPs and lifts a block

package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/markalston/portal-gateway/cli/internal/styles"
	"github.com/markalston/portal-gateway/models"
)

var securityCmd = &cobra.Command{
	Use:   "security",
	Short: "Manage the gateway block list",
}

var blockedCmd = &cobra.Command{
	Use:   "blocked",
	Short: "List blocked IPs",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		runWithSignals(func(ctx context.Context) int { return runBlocked(ctx, os.Stdout) })
	},
}

var unblockCmd = &cobra.Command{
	Use:   "unblock IP",
	Short: "Remove an IP from the block list",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		runWithSignals(func(ctx context.Context) int { return runUnblock(ctx, os.Stdout, args[0]) })
	},
}

func init() {
	rootCmd.AddCommand(securityCmd)
	securityCmd.AddCommand(blockedCmd, unblockCmd)
}

func runBlocked(ctx context.Context, w io.Writer) int {
	blocked, err := newClient().Blocked(ctx)
	if err != nil {
		fmt.Fprintf(w, "Error: %v\n", err)
		return 2
	}

	if IsJSONOutput() {
		data, _ := json.MarshalIndent(blocked, "", "  ")
		fmt.Fprintln(w, string(data))
		return 0
	}

	if len(blocked) == 0 {
		fmt.Fprintln(w, styles.StatusOK.Render("No blocked IPs"))
		return 0
	}
	for _, b := range blocked {
		fmt.Fprintln(w, formatBlocked(b))
	}
	return 0
}

func formatBlocked(b models.BlockedIP) string {
	until := "indefinitely"
	if b.Until != nil {
		until = "until " + b.Until.Local().Format(time.RFC3339)
	}
	return fmt.Sprintf("%s  %s  %s", styles.StatusCritical.Render(b.IP), b.Reason, styles.Subtitle.Render(until))
}

func runUnblock(ctx context.Context, w io.Writer, ip string) int {
	if err := newClient().Unblock(ctx, ip); err != nil {
		fmt.Fprintf(w, "Error: %v\n", err)
		return 2
	}
	fmt.Fprintf(w, "Unblocked %s\n", ip)
	return 0
}
