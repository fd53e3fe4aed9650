// Motionlan controls Motion Blinds gateways and the blinds behind them
// over the local network.
//
// It speaks the vendor's UDP protocol directly: multicast discovery,
// encrypted unicast commands, and the multicast report stream. No cloud
// account is involved; all that is needed is the 16-character key from
// the vendor app's About screen.
//
// Usage:
//
//	motionlan [command] [flags]
//
// Running without arguments launches the interactive dashboard.
// See 'motionlan --help' for available commands.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/muurk/motionlan/internal/version"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "motionlan",
	Short: "Motion Blinds LAN control",
	Long: `Control Motion Blinds gateways and blinds over the local network.

Discovers gateways by multicast, reads and drives blinds through the
gateway's encrypted UDP interface, and follows live state through the
multicast report stream.

If no command is specified, the interactive dashboard will launch
automatically.`,
	Version: version.Version,
	RunE: func(cmd *cobra.Command, args []string) error {
		// Default behavior: run the dashboard when no subcommand provided
		return runDashboard(cmd, args)
	},
}

func init() {
	// Disable automatic completion command generation
	rootCmd.CompletionOptions.DisableDefaultCmd = true

	rootCmd.AddCommand(versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("motionlan %s (commit: %s)\n", version.Version, version.Commit)
	},
}
