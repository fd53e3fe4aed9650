package simulator

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/muurk/motionlan/internal/config"
	"github.com/muurk/motionlan/protocol"
)

// Well-known development credentials. The CLI examples in the README use
// them, so a simulator started with no config answers those commands as-is.
const (
	DefaultMAC   = "a1b2c3d4e5f6"
	DefaultKey   = "74ae10c3-5bf0-2d"
	DefaultToken = "4FD3A8BC12E09876"
)

const (
	defaultFirmware  = "1.0.4"
	defaultRSSI      = -52
	defaultTick      = 250 * time.Millisecond
	defaultStep      = 5
	defaultHeartbeat = 30 * time.Second
)

// Config describes one simulated gateway and its roster.
type Config struct {
	Listen     string          `yaml:"listen"`      // bind address, "" = all interfaces
	Port       int             `yaml:"port"`        // command port, 0 = ephemeral
	MAC        string          `yaml:"mac"`         // gateway MAC
	DeviceType string          `yaml:"device_type"` // gateway device type code
	Key        string          `yaml:"key"`         // 16-char account key clients must hold
	Token      string          `yaml:"token"`       // token returned on device-list queries
	Firmware   string          `yaml:"firmware"`
	RSSI       int             `yaml:"rssi"`
	LogLevel   string          `yaml:"log_level"`
	Tick       config.Duration `yaml:"tick"` // motor movement interval
	Step       int             `yaml:"step"` // percent moved per tick
	Report     ReportConfig    `yaml:"report"`
	Devices    []DeviceConfig  `yaml:"devices"`
}

// ReportConfig controls where unsolicited pushes are sent.
// An empty group disables pushes entirely.
type ReportConfig struct {
	Group     string          `yaml:"group"`
	Port      int             `yaml:"port"`
	Heartbeat config.Duration `yaml:"heartbeat"`
}

// DeviceConfig seeds one simulated blind. For a TDBU device the position
// seeds the bottom rail; the top rail starts fully open.
type DeviceConfig struct {
	MAC          string  `yaml:"mac"`
	DeviceType   string  `yaml:"device_type"`
	BlindType    int     `yaml:"blind_type"`
	WirelessMode *int    `yaml:"wireless_mode"` // nil = full bidirectional
	VoltageMode  int     `yaml:"voltage_mode"`
	BatteryVolts float64 `yaml:"battery_volts"`
	RSSI         int     `yaml:"rssi"`
	Position     int     `yaml:"position"`
	Angle        int     `yaml:"angle"`
	Width        int     `yaml:"width"` // TDBU only
}

// DefaultConfig returns a runnable setup with one of each supported blind
// kind: a battery roller blind, a double roller and a TDBU pair.
func DefaultConfig() *Config {
	return &Config{
		Port:  protocol.PortCommand,
		MAC:   DefaultMAC,
		Key:   DefaultKey,
		Token: DefaultToken,
		Report: ReportConfig{
			Group: protocol.MulticastGroup,
			Port:  protocol.PortReport,
		},
		Devices: []DeviceConfig{
			{
				MAC:          "0001d1b2c3d4",
				DeviceType:   protocol.DeviceTypeBlind,
				BlindType:    1,
				BatteryVolts: 12.2,
			},
			{
				MAC:          "0002d1b2c3d4",
				DeviceType:   protocol.DeviceTypeDoubleRoller,
				BlindType:    17,
				BatteryVolts: 11.6,
				Angle:        45,
			},
			{
				MAC:        "0003d1b2c3d4",
				DeviceType: protocol.DeviceTypeTDBU,
				BlindType:  9,
				Position:   100,
				Width:      10,
			},
		},
	}
}

// LoadConfig reads a YAML config file over the defaults, so omitted fields
// keep their DefaultConfig values. A roster in the file replaces the default
// roster.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	return cfg, nil
}

// normalize fills unset fields with defaults and validates the rest.
func (c *Config) normalize() error {
	if c.MAC == "" {
		c.MAC = DefaultMAC
	}
	c.MAC = strings.ToLower(c.MAC)
	if c.DeviceType == "" {
		c.DeviceType = protocol.DeviceTypeGateway
	}
	if c.Key == "" {
		c.Key = DefaultKey
	}
	if err := protocol.ValidateKey(c.Key); err != nil {
		return fmt.Errorf("gateway key: %w", err)
	}
	if c.Token == "" {
		c.Token = DefaultToken
	}
	if c.Firmware == "" {
		c.Firmware = defaultFirmware
	}
	if c.RSSI == 0 {
		c.RSSI = defaultRSSI
	}
	if c.Tick <= 0 {
		c.Tick = config.Duration(defaultTick)
	}
	if c.Step <= 0 {
		c.Step = defaultStep
	}
	if c.Report.Group != "" && c.Report.Port == 0 {
		c.Report.Port = protocol.PortReport
	}
	if c.Report.Heartbeat <= 0 {
		c.Report.Heartbeat = config.Duration(defaultHeartbeat)
	}

	seen := make(map[string]bool)
	for i := range c.Devices {
		d := &c.Devices[i]
		if d.MAC == "" {
			return fmt.Errorf("device %d: missing mac", i)
		}
		d.MAC = strings.ToLower(d.MAC)
		if seen[d.MAC] {
			return fmt.Errorf("device %d: duplicate mac %s", i, d.MAC)
		}
		seen[d.MAC] = true
		if strings.EqualFold(d.MAC, c.MAC) {
			return fmt.Errorf("device %d: mac collides with the gateway", i)
		}
		if d.DeviceType == "" {
			d.DeviceType = protocol.DeviceTypeBlind
		}
		if d.BlindType == 0 {
			if protocol.IsTDBUType(d.DeviceType) {
				d.BlindType = 9
			} else {
				d.BlindType = 1
			}
		}
		if d.BatteryVolts == 0 {
			d.BatteryVolts = 12.0
		}
		if d.RSSI == 0 {
			d.RSSI = -50
		}
		if d.Position < 0 || d.Position > 100 {
			return fmt.Errorf("device %s: position %d out of range", d.MAC, d.Position)
		}
		if d.Width < 0 || d.Width > 100 {
			return fmt.Errorf("device %s: width %d out of range", d.MAC, d.Width)
		}
	}

	return nil
}
