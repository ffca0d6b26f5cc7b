// Command eodscan runs end-of-day equity scans over a market universe.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// configPath is shared by every subcommand.
var configPath string

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "eodscan",
		Short: "End-of-day equity scanner",
		Long: `eodscan computes indicators over daily bars for every ticker in a market,
evaluates a catalog of named scans against the latest values and publishes
the ranked matches to storage, CSV exports, charts and Telegram.

Configuration is read from --config, then EODSCAN_CONFIG, then eodscan.toml
beside the binary, then config/eodscan.toml.`,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "Path to the TOML config file")

	root.AddCommand(newRunCmd(), newServeCmd(), newScansCmd(), newVersionCmd())
	return root
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
