// Package logging provides structured logging for the motionlan binaries.
//
// This package wraps zap with convenience functions for common logging
// patterns used throughout the CLI and daemons. The motion and protocol
// library packages never use it; they take an injected *zap.Logger so they
// stay silent inside other programs.
//
// # Log Levels
//
// The package supports standard log levels:
//   - Debug: detailed protocol info (exchanges, pushes, datagram dumps)
//   - Info: normal operations (connections, discovery results, state changes)
//   - Warn: non-fatal issues (dropped pushes, suspect telemetry)
//   - Error: fatal issues (startup failures, unreachable gateways)
//
// # Structured Logging
//
// All log functions use structured fields for queryability:
//
//	logging.Info("Gateway discovered",
//	    zap.String("ip", "192.168.1.100"),
//	    zap.String("mac", "a4cf12ffffee"),
//	    zap.Int("devices", 4),
//	)
//
// # Specialized Logging
//
// The package provides domain-specific logging functions:
//
//	logging.LogExchange(gatewayIP, "WriteDevice", "ok")
//	logging.LogPush(srcAddr, "Report", deviceMAC)
//	logging.LogRawDatagram("discovery reply", datagram)
//
// # Secrets
//
// Gateway keys and access tokens never reach the log. RedactEnvelope blanks
// token and key fields in datagram dumps; Redact masks individual values.
//
// # Configuration
//
// Initialize logging at startup:
//
//	if err := logging.Initialize("debug"); err != nil {
//	    log.Fatal(err)
//	}
//	defer logging.Sync()
//
// When no level is given, the MOTIONLAN_LOG_LEVEL environment variable is
// consulted; if that is also unset, logging is silent. This keeps CLI output
// clean by default.
//
// # Thread Safety
//
// All logging functions are safe for concurrent use. The underlying zap
// logger handles synchronization automatically.
package logging
