// Package config provides user configuration management for the motionlan tools.
//
// This package manages a YAML-based configuration file that stores metadata
// for Motion gateways: nicknames, last known IPs, keys, multicast interface
// choices, and per-device nicknames. The configuration follows OS-specific
// conventions for storage location.
//
// # Configuration File Location
//
// The configuration file is stored in platform-appropriate locations:
//   - Linux: $XDG_CONFIG_HOME/motionlan/config.yaml or $HOME/.config/motionlan/config.yaml
//   - macOS: $HOME/.config/motionlan/config.yaml
//   - Windows: %LOCALAPPDATA%\motionlan\config.yaml
//
// # Security
//
// Gateway keys are stored in this file so that CLI commands can run without
// prompting every time. The file is created with user-only permissions
// (0600/0700). Access tokens are never stored; they rotate and are fetched
// from the gateway on every session.
//
// # Usage Example
//
//	// Load the global registry
//	registry, err := config.LoadRegistry()
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	// Record a discovered gateway
//	registry.SetGatewayNickname("a4cf12ffffee", "Living Room")
//	registry.SetGatewayKey("a4cf12ffffee", "12ab345c-d67e-8f")
//	registry.UpdateGatewayLastSeen("a4cf12ffffee", "192.168.1.100")
//
//	// Save changes atomically
//	if err := registry.Save(); err != nil {
//	    log.Fatal(err)
//	}
//
// # Thread Safety
//
// The global registry uses sync.Once for safe initialization across goroutines.
// File operations are protected by a mutex to ensure atomic writes.
package config
