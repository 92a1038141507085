// Package main provides the copilot command line: the pipeline server and a
// terminal observer for its runs.
package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "copilot",
	Short: "Contributor co-pilot pipeline server",
	Long: `copilot runs analysis pipelines for issues and pull requests.

Runs are triggered over HTTP, by host webhooks, or by observers connecting to
the pipeline WebSocket. Every run streams an ordered event log that observers
can replay and resume after a disconnect.`,
}

func main() {
	_ = godotenv.Load()

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
