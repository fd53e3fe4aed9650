// Motionlan-bridge re-publishes Motion gateways onto service-friendly
// transports. It keeps a live mirror of every configured gateway and its
// blinds, pushes state changes to MQTT and WebSocket subscribers and
// accepts commands over both MQTT and a small REST API.
//
// Usage:
//
//	motionlan-bridge serve [flags]
//
// See 'motionlan-bridge serve --help' for available options.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/muurk/motionlan/internal/bridge"
	"github.com/muurk/motionlan/internal/config"
	"github.com/muurk/motionlan/internal/version"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "motionlan-bridge",
	Short: "MQTT and HTTP bridge for Motion gateways",
	Long: `A daemon that mirrors Motion gateways onto MQTT and HTTP.

The bridge holds one long-lived connection per gateway, follows the
multicast report stream and re-publishes every state change. Home
automation systems talk to the bridge instead of speaking the vendor
UDP protocol themselves.

Note: for one-shot control and diagnostics, use the separate
'motionlan' utility.`,
	Version: version.Version,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(versionCmd)
}

// Serve command and flags
var (
	configPath   string
	gatewayIP    string
	gatewayKey   string
	brokerURL    string
	httpBind     string
	ifaceName    string
	logLevel     string
	pollInterval time.Duration
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the bridge",
	Long: `Start the bridge and serve until interrupted.

Gateways normally come from a YAML config file. For a single gateway
the --gateway and --key flags work without any file. Flags override
the matching config file fields.`,
	Example: `  # Single gateway, no config file
  motionlan-bridge serve --gateway 192.168.1.50 --key 74ae10c3-5bf0-2d

  # Full configuration from a file
  motionlan-bridge serve --config /etc/motionlan/bridge.yaml

  # Config file with a different broker
  motionlan-bridge serve --config bridge.yaml --broker tcp://10.0.0.5:1883`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&configPath, "config", "", "Path to YAML config file")
	serveCmd.Flags().StringVar(&gatewayIP, "gateway", "", "Gateway IP (alternative to a config file)")
	serveCmd.Flags().StringVar(&gatewayKey, "key", "", "16-character gateway key")
	serveCmd.Flags().StringVar(&brokerURL, "broker", "", "MQTT broker URL (empty in config disables MQTT)")
	serveCmd.Flags().StringVar(&httpBind, "http-bind", "", "HTTP bind address (empty in config disables HTTP)")
	serveCmd.Flags().StringVar(&ifaceName, "interface", "", "Network interface for multicast")
	serveCmd.Flags().StringVar(&logLevel, "log-level", "", "Log level (debug, info, warn, error)")
	serveCmd.Flags().DurationVar(&pollInterval, "poll-interval", 0, "Background refresh interval (0 = config default)")
}

func runServe(cmd *cobra.Command, args []string) error {
	var cfg *bridge.Config
	if configPath != "" {
		loaded, err := bridge.LoadConfig(configPath)
		if err != nil {
			return err
		}
		cfg = loaded
	} else {
		cfg = bridge.DefaultConfig()
	}

	// Explicit flags win over the config file.
	if gatewayIP != "" {
		cfg.Gateways = append(cfg.Gateways, bridge.GatewayConfig{IP: gatewayIP, Key: gatewayKey})
	}
	if cmd.Flags().Changed("broker") {
		cfg.MQTT.Broker = brokerURL
	}
	if cmd.Flags().Changed("http-bind") {
		cfg.HTTP.Bind = httpBind
	}
	if ifaceName != "" {
		cfg.Interface = ifaceName
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}
	if cmd.Flags().Changed("poll-interval") {
		cfg.PollInterval = config.Duration(pollInterval)
	}

	b, err := bridge.New(cfg)
	if err != nil {
		return fmt.Errorf("failed to create bridge: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return b.Run(ctx)
}

// Version command
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("motionlan-bridge %s (commit: %s)\n", version.Version, version.Commit)
	},
}
