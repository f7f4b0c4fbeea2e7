// Package cli wires the Keepsake commands: serve runs the HTTP API, compact
// runs a one-shot compaction pass.
package cli

import (
	"github.com/spf13/cobra"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "keepsake",
	Short: "Workspace-local memory store with recency-aware ranking",
	Long: "Keepsake keeps an append-only store of conversation summaries per workspace,\n" +
		"ranks retrieval results by semantic relevance blended with recency, and\n" +
		"periodically compacts old clusters of records into consolidated summaries.",
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to YAML config file (optional)")
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(compactCmd)
	rootCmd.AddCommand(versionCmd)
}
