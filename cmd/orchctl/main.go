// Package main implements the orchctl CLI for operating an orchd
// gateway: submitting runs, inspecting their state and events, and
// retrieving results.
package main

import (
	"os"

	"github.com/spf13/cobra"
)

var (
	// serverURL is the base URL of the orchd gateway.
	serverURL string
	// version information (set via ldflags during build)
	version = "dev"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "orchctl",
	Short: "CLI for orchd run operations",
	Long: `orchctl is a command-line interface for an orchd gateway.
It submits agent runs, inspects their live state and event history,
waits for results, and cancels runs in flight.`,
	Version: version,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "http://localhost:9090", "orchd gateway URL")
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(healthCmd)
}

// healthCmd checks gateway health
var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Check orchd gateway health",
	Long: `Check the health status of the orchd gateway.

Examples:
  # Check health
  orchctl health

  # Check health on a different gateway
  orchctl health --server http://localhost:8080`,
	RunE: func(cmd *cobra.Command, args []string) error {
		c := newClient(serverURL)
		status, err := c.health(cmd.Context())
		if err != nil {
			return err
		}
		cmd.Println(renderHealth(status))
		return nil
	},
}
