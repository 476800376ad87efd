// Package main is the entry point for the beacon server binary.
//
// Usage:
//
//	beacon serve -c config.yaml    # Start the API server
//	beacon migrate -c config.yaml  # Apply pending database migrations
//	beacon version                 # Show version info
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/beaconhq/beacon/internal/version"
)

var rootCmd = &cobra.Command{
	Use:   "beacon",
	Short: "Status page subscriptions and notifications",
	Long: `Beacon serves the status page subscription API: visitors subscribe to a
page by email or webhook, verify through a tokenized link, and receive
notifications when operators publish report updates or maintenance windows.`,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(_ *cobra.Command, _ []string) {
		fmt.Printf("beacon %s\n", version.Version)
		fmt.Printf("  commit: %s\n", version.GitCommit)
		fmt.Printf("  built:  %s\n", version.BuildDate)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
