// Package cmd holds the chaats command tree.
package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "chaats",
	Short: "Real-time direct messaging server",
	Long: `chaats serves authenticated WebSocket sessions for direct messages,
typing indicators, presence and message history.

Available commands:
  serve      Run the server
  connect    Open an interactive session against a running server
  version    Print the version

Use "chaats [command] --help" for more information about a specific command.`,
	SilenceUsage: true,
}

// Execute executes the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
