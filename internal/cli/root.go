// Package cli implements the loreguard command tree.
package cli

import (
	"os"

	"github.com/spf13/cobra"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "loreguard",
	Short: "Trust boundary for workspace knowledge tools",
	Long:  "Serves workspace knowledge tools to AI agents behind scoped sessions,\nexplicit consent gates, and a tamper-evident audit trail.",
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to config YAML (default ~/.loreguard/config.yaml)")
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
