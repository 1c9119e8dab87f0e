// ABOUTME: Entry point for the portalctl CLI
// ABOUTME: Operator tool for the portal gateway: health, login, scheduler, and sync

package main

import (
	"fmt"
	"os"

	"github.com/markalston/portal-gateway/cli/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
