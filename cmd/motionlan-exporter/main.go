// Motionlan-exporter serves Prometheus metrics for Motion gateways and
// their blinds. Every scrape reads the gateway-cached state of each
// configured gateway and renders it as gauges: positions, angles,
// battery levels and signal strength.
//
// Usage:
//
//	motionlan-exporter serve [flags]
//
// See 'motionlan-exporter serve --help' for available options.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/muurk/motionlan/internal/config"
	"github.com/muurk/motionlan/internal/exporter"
	"github.com/muurk/motionlan/internal/version"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "motionlan-exporter",
	Short: "Prometheus exporter for Motion gateways",
	Long: `A Prometheus exporter for Motion gateways and blinds.

The exporter polls on scrape: each /metrics request refreshes the
configured gateways from their on-gateway cache and reports position,
angle, battery and signal gauges per blind. Unreachable gateways
surface as motionlan_gateway_up 0 rather than a failed scrape.`,
	Version: version.Version,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(versionCmd)
}

// Serve command and flags
var (
	configPath    string
	gatewayIP     string
	gatewayKey    string
	listenAddr    string
	logLevel      string
	scrapeTimeout time.Duration
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the exporter",
	Long: `Start the exporter and serve metrics until interrupted.

Gateways normally come from a YAML config file. For a single gateway
the --gateway and --key flags work without any file. Flags override
the matching config file fields.`,
	Example: `  # Single gateway, no config file
  motionlan-exporter serve --gateway 192.168.1.50 --key 74ae10c3-5bf0-2d

  # Full configuration from a file
  motionlan-exporter serve --config /etc/motionlan/exporter.yaml

  # Custom listen address
  motionlan-exporter serve --config exporter.yaml --listen :9900`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&configPath, "config", "", "Path to YAML config file")
	serveCmd.Flags().StringVar(&gatewayIP, "gateway", "", "Gateway IP (alternative to a config file)")
	serveCmd.Flags().StringVar(&gatewayKey, "key", "", "16-character gateway key")
	serveCmd.Flags().StringVar(&listenAddr, "listen", "", "Metrics listen address (default "+exporter.DefaultListen+")")
	serveCmd.Flags().StringVar(&logLevel, "log-level", "", "Log level (debug, info, warn, error)")
	serveCmd.Flags().DurationVar(&scrapeTimeout, "scrape-timeout", 0, "Per-scrape refresh budget (0 = config default)")
}

func runServe(cmd *cobra.Command, args []string) error {
	var cfg *exporter.Config
	if configPath != "" {
		loaded, err := exporter.LoadConfig(configPath)
		if err != nil {
			return err
		}
		cfg = loaded
	} else {
		cfg = exporter.DefaultConfig()
	}

	// Explicit flags win over the config file.
	if gatewayIP != "" {
		cfg.Gateways = append(cfg.Gateways, exporter.GatewayConfig{IP: gatewayIP, Key: gatewayKey})
	}
	if cmd.Flags().Changed("listen") {
		cfg.Listen = listenAddr
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}
	if cmd.Flags().Changed("scrape-timeout") {
		cfg.ScrapeTimeout = config.Duration(scrapeTimeout)
	}

	e, err := exporter.New(cfg)
	if err != nil {
		return fmt.Errorf("failed to create exporter: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return e.Run(ctx)
}

// Version command
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("motionlan-exporter %s (commit: %s)\n", version.Version, version.Commit)
	},
}
