package logging

import (
	"encoding/hex"
	"fmt"
	"os"
	"regexp"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var logger *zap.Logger

// LogLevelEnvVar is the environment variable that controls logging verbosity.
// When unset or empty, logging is silent (no zap output).
// Valid values: "debug", "info", "warn", "error"
const LogLevelEnvVar = "MOTIONLAN_LOG_LEVEL"

// Initialize creates a new logger with the specified level.
// If level is empty, it checks the MOTIONLAN_LOG_LEVEL environment variable.
// If neither is set, logging is disabled (silent mode).
func Initialize(level string) error {
	// If no level provided, check environment variable
	if level == "" {
		level = os.Getenv(LogLevelEnvVar)
	}

	// If still no level, use silent mode (nop logger)
	if level == "" {
		logger = zap.NewNop()
		return nil
	}

	var zapLevel zapcore.Level
	switch level {
	case "debug":
		zapLevel = zapcore.DebugLevel
	case "info":
		zapLevel = zapcore.InfoLevel
	case "warn":
		zapLevel = zapcore.WarnLevel
	case "error":
		zapLevel = zapcore.ErrorLevel
	default:
		// Unknown level - use info as default when explicitly set to something
		zapLevel = zapcore.InfoLevel
	}

	config := zap.Config{
		Level:            zap.NewAtomicLevelAt(zapLevel),
		Development:      false,
		Encoding:         "console",
		EncoderConfig:    zap.NewDevelopmentEncoderConfig(),
		OutputPaths:      []string{"stdout"},
		ErrorOutputPaths: []string{"stderr"},
	}

	// Customize encoder for better readability
	config.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	config.EncoderConfig.EncodeCaller = zapcore.ShortCallerEncoder

	var err error
	logger, err = config.Build()
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	return nil
}

// InitializeFromEnv initializes the logger from the MOTIONLAN_LOG_LEVEL
// environment variable. This is the recommended way to initialize logging
// for CLI commands that want silent mode by default.
func InitializeFromEnv() error {
	return Initialize("")
}

// GetLogger returns the global logger instance
func GetLogger() *zap.Logger {
	if logger == nil {
		// Fallback to silent logger if not initialized
		// This ensures no unexpected log output in CLI commands
		logger = zap.NewNop()
	}
	return logger
}

// Info logs an info message
func Info(msg string, fields ...zap.Field) {
	GetLogger().Info(msg, fields...)
}

// Debug logs a debug message
func Debug(msg string, fields ...zap.Field) {
	GetLogger().Debug(msg, fields...)
}

// Warn logs a warning message
func Warn(msg string, fields ...zap.Field) {
	GetLogger().Warn(msg, fields...)
}

// Error logs an error message
func Error(msg string, fields ...zap.Field) {
	GetLogger().Error(msg, fields...)
}

// Fatal logs a fatal message and exits
func Fatal(msg string, fields ...zap.Field) {
	GetLogger().Fatal(msg, fields...)
}

// LogConnection logs a connection event
func LogConnection(remoteAddr string, event string) {
	Info("Connection event",
		zap.String("remote_addr", remoteAddr),
		zap.String("event", event),
	)
}

// LogExchange logs one UDP request/response exchange with a gateway.
func LogExchange(gatewayIP string, msgType string, outcome string) {
	Debug("Gateway exchange",
		zap.String("gateway_ip", gatewayIP),
		zap.String("msg_type", msgType),
		zap.String("outcome", outcome),
	)
}

// LogPush logs a multicast push received on the report port.
func LogPush(srcAddr string, msgType string, mac string) {
	Debug("Multicast push",
		zap.String("src_addr", srcAddr),
		zap.String("msg_type", msgType),
		zap.String("mac", mac),
	)
}

// LogRawDatagram logs a datagram at debug level with secrets redacted.
// Useful for protocol debugging; malformed datagrams fall back to a hex dump.
func LogRawDatagram(label string, data []byte) {
	Debug(label,
		zap.Int("length", len(data)),
		zap.String("payload", RedactEnvelope(data)),
	)
}

// LogRawBytes logs raw bytes (useful for debugging non-JSON traffic)
func LogRawBytes(label string, data []byte) {
	Debug(label,
		zap.Int("length", len(data)),
		zap.String("hex", hexDump(data)),
		zap.String("ascii", asciiDump(data)),
	)
}

// Secret redaction

var secretFields = regexp.MustCompile(`"(token|Token|AccessToken|key|Key)"(\s*:\s*)"[^"]*"`)

// Redact masks a key or token for log output, keeping the first two
// characters so entries from different gateways stay distinguishable.
func Redact(secret string) string {
	if len(secret) <= 2 {
		return "****"
	}
	return secret[:2] + strings.Repeat("*", len(secret)-2)
}

// RedactEnvelope returns a printable copy of a JSON datagram with token
// and key fields blanked. Input that is not printable text is hex dumped.
func RedactEnvelope(data []byte) string {
	if !printable(data) {
		return hexDump(data)
	}
	return secretFields.ReplaceAllString(string(data), `"$1"$2"****"`)
}

func printable(data []byte) bool {
	for _, b := range data {
		if (b < 32 || b > 126) && b != '\n' && b != '\r' && b != '\t' {
			return false
		}
	}
	return true
}

func hexDump(data []byte) string {
	if len(data) == 0 {
		return ""
	}
	// Limit to first 256 bytes for logging
	if len(data) > 256 {
		return hex.EncodeToString(data[:256]) + "..."
	}
	return hex.EncodeToString(data)
}

func asciiDump(data []byte) string {
	if len(data) == 0 {
		return ""
	}
	// Limit to first 256 bytes
	if len(data) > 256 {
		data = data[:256]
	}

	result := make([]byte, len(data))
	for i, b := range data {
		if b >= 32 && b <= 126 {
			result[i] = b
		} else {
			result[i] = '.'
		}
	}
	return string(result)
}

// Sync flushes any buffered log entries
func Sync() {
	if logger != nil {
		_ = logger.Sync()
	}
}
