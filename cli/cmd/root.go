// ABOUTME: Root command for the portalctl CLI
// ABOUTME: Handles global flags and configuration

package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/markalston/portal-gateway/cli/internal/client"
)

var (
	apiURL     string
	apiKey     string
	jsonOutput bool
)

const defaultAPIURL = "http://localhost:8080"

// rootCmd is the base command
var rootCmd = &cobra.Command{
	Use:   "portalctl",
	Short: "CLI for the portal session gateway",
	Long: `portalctl is a command-line interface for the portal session gateway.

It drives the SMS login for an owner, triggers and inspects resource syncs,
and manages the security block list.

Environment Variables:
  PORTAL_GATEWAY_URL      Gateway API URL (default: http://localhost:8080)
  PORTAL_GATEWAY_API_KEY  Operator API key for scheduler, sync, and security commands`,
	SilenceUsage: true,
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&apiURL, "api-url", "", "Gateway API URL (overrides PORTAL_GATEWAY_URL)")
	rootCmd.PersistentFlags().StringVar(&apiKey, "api-key", "", "Operator API key (overrides PORTAL_GATEWAY_API_KEY)")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Output JSON instead of human-readable text")
}

// GetAPIURL returns the API URL from flag, env, or default (in priority order)
func GetAPIURL() string {
	if apiURL != "" {
		return apiURL
	}
	if envURL := os.Getenv("PORTAL_GATEWAY_URL"); envURL != "" {
		return envURL
	}
	return defaultAPIURL
}

// GetAPIKey returns the operator key from flag or env
func GetAPIKey() string {
	if apiKey != "" {
		return apiKey
	}
	return os.Getenv("PORTAL_GATEWAY_API_KEY")
}

// IsJSONOutput returns whether JSON output is requested
func IsJSONOutput() bool {
	return jsonOutput
}

func newClient() *client.Client {
	return client.New(GetAPIURL(), GetAPIKey())
}

// runWithSignals runs fn with a context cancelled on SIGINT/SIGTERM and exits
// the process with fn's code when it is non-zero
func runWithSignals(fn func(ctx context.Context) int) {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	exitCode := fn(ctx)
	cancel()
	if exitCode != 0 {
		os.Exit(exitCode)
	}
}
