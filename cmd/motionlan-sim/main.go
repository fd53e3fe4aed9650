// Motionlan-sim is a gateway simulator for development and testing. It
// answers the vendor UDP protocol like a real Motion gateway: device
// lists, reads, writes, discovery probes and multicast status reports,
// with simulated motors that move over time.
//
// Usage:
//
//	motionlan-sim serve [flags]
//
// See 'motionlan-sim serve --help' for available options.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/muurk/motionlan/internal/simulator"
	"github.com/muurk/motionlan/internal/version"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "motionlan-sim",
	Short: "Motion gateway simulator",
	Long: `A simulated Motion gateway for development without hardware.

The simulator binds the real command port, answers discovery and the
full command set, and multicasts status reports while its simulated
motors move. The default roster carries one battery roller blind, one
double roller and one top-down bottom-up pair.

The default credentials match the documentation examples:

  MAC a1b2c3d4e5f6, key 74ae10c3-5bf0-2d`,
	Version: version.Version,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(versionCmd)
}

// Serve command and flags
var (
	configPath string
	listenIP   string
	port       int
	macAddr    string
	key        string
	logLevel   string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the simulator",
	Long: `Start the simulator and serve until interrupted.

A YAML config file can replace the default roster and credentials;
flags override the matching config fields. Port 0 picks an ephemeral
port and logs it, which keeps parallel simulators out of each other's
way.`,
	Example: `  # Default roster on the real gateway port
  motionlan-sim serve

  # Custom roster
  motionlan-sim serve --config sim.yaml

  # Ephemeral port for a second simulator
  motionlan-sim serve --port 0 --mac b1b2c3d4e5f6`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&configPath, "config", "", "Path to YAML config file")
	serveCmd.Flags().StringVar(&listenIP, "listen", "", "Bind IP (empty = all interfaces)")
	serveCmd.Flags().IntVar(&port, "port", -1, "Command port (-1 = config default, 0 = ephemeral)")
	serveCmd.Flags().StringVar(&macAddr, "mac", "", "Gateway MAC")
	serveCmd.Flags().StringVar(&key, "key", "", "16-character gateway key clients must hold")
	serveCmd.Flags().StringVar(&logLevel, "log-level", "", "Log level (debug, info, warn, error)")
}

func runServe(cmd *cobra.Command, args []string) error {
	var cfg *simulator.Config
	if configPath != "" {
		loaded, err := simulator.LoadConfig(configPath)
		if err != nil {
			return err
		}
		cfg = loaded
	} else {
		cfg = simulator.DefaultConfig()
	}

	// Explicit flags win over the config file.
	if cmd.Flags().Changed("listen") {
		cfg.Listen = listenIP
	}
	if port >= 0 {
		cfg.Port = port
	}
	if macAddr != "" {
		cfg.MAC = macAddr
	}
	if key != "" {
		cfg.Key = key
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}

	sim, err := simulator.New(cfg)
	if err != nil {
		return fmt.Errorf("failed to create simulator: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return sim.Run(ctx)
}

// Version command
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("motionlan-sim %s (commit: %s)\n", version.Version, version.Commit)
	},
}
