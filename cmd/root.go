// Package cmd provides the finquery CLI commands.
//
// Commands:
//   - serve: HTTP API server (also the default when run without arguments)
//   - version: build and version information
//
// The serve command owns the process lifecycle: signal handling, component
// setup and graceful shutdown all hang off its context.
package cmd

import (
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "finquery",
	Short: "Conversational market data API",
	Long: `finquery answers natural-language questions about market data: spot
prices, quotes, historical series, technical indicators, currency
conversion and commodity listings, fetched live from an MCP market data
gateway.

Running finquery without a subcommand starts the HTTP API server.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(cmd.Context())
	},
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}
