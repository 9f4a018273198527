// Package main implements metactl, a CLI client for the metacrawler API.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	serverURL  string
	apiKey     string
	outputJSON bool
)

// newRootCmd creates and configures the root command.
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "metactl",
		Short: "Manage fetch jobs on a metacrawler server",
		Long: `metactl drives the metacrawler HTTP API from the command line.
It creates and controls fetch jobs, tails their logs, triggers CSV
exports and plugins, and inspects the platforms a server supports.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVar(&serverURL, "server", "http://localhost:5000", "base URL of the metacrawler server")
	cmd.PersistentFlags().StringVar(&apiKey, "api-key", os.Getenv("METACRAWLER_API_KEY"), "API key sent as X-API-Key")
	cmd.PersistentFlags().BoolVar(&outputJSON, "json", false, "output raw JSON instead of tables")

	cmd.AddCommand(newJobsCmd())
	cmd.AddCommand(newPlatformsCmd())
	cmd.AddCommand(newPluginsCmd())
	cmd.AddCommand(newRawCmd())

	return cmd
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
