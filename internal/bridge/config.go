package bridge

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/muurk/motionlan/internal/config"
	"github.com/muurk/motionlan/protocol"
)

// Defaults applied by DefaultConfig and for fields omitted from a config
// file.
const (
	DefaultBroker   = "tcp://127.0.0.1:1883"
	DefaultClientID = "motionlan-bridge"
	DefaultPrefix   = "motionlan"
	DefaultHTTPBind = ":8480"

	defaultPollInterval = 5 * time.Minute
)

// Config describes one bridge process: the gateways it connects to and the
// MQTT and HTTP surfaces it re-publishes them on.
type Config struct {
	// LogLevel selects the bridge log verbosity (debug, info, warn, error).
	LogLevel string `yaml:"log_level"`

	// Interface optionally pins the multicast listener to one network
	// interface by name. Empty uses the OS default.
	Interface string `yaml:"interface"`

	// PollInterval is how often every gateway is re-read and every device
	// asked for a radio refresh. Pushes carry fast changes; the poll
	// exists for slow drift such as battery voltage. Zero disables.
	PollInterval config.Duration `yaml:"poll_interval"`

	MQTT MQTTConfig `yaml:"mqtt"`
	HTTP HTTPConfig `yaml:"http"`

	// Gateways is the set of gateways to bridge. At least one entry is
	// required.
	Gateways []GatewayConfig `yaml:"gateways"`
}

// MQTTConfig configures the MQTT surface. An empty Broker disables it.
type MQTTConfig struct {
	Broker   string `yaml:"broker"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	ClientID string `yaml:"client_id"`

	// Prefix is the first topic segment. State goes to
	// <prefix>/<gateway>/<device>/state, commands are read from
	// <prefix>/<gateway>/<device>/set, availability lives at
	// <prefix>/bridge/availability.
	Prefix string `yaml:"prefix"`
}

// HTTPConfig configures the REST and WebSocket surface. An empty Bind
// disables it.
type HTTPConfig struct {
	Bind string `yaml:"bind"`

	// Advertise registers the HTTP surface as a _motionlan._tcp mDNS
	// service so frontends can find the bridge without configuration.
	Advertise bool `yaml:"advertise"`
}

// GatewayConfig identifies one gateway to bridge.
type GatewayConfig struct {
	IP  string `yaml:"ip"`
	Key string `yaml:"key"`
}

// DefaultConfig returns a bridge configuration with both surfaces enabled
// on their default endpoints and no gateways. Callers add gateways before
// use; normalize rejects an empty set.
func DefaultConfig() *Config {
	return &Config{
		LogLevel:     "info",
		PollInterval: config.Duration(defaultPollInterval),
		MQTT: MQTTConfig{
			Broker:   DefaultBroker,
			ClientID: DefaultClientID,
			Prefix:   DefaultPrefix,
		},
		HTTP: HTTPConfig{
			Bind: DefaultHTTPBind,
		},
	}
}

// LoadConfig reads a YAML bridge configuration. The file is unmarshalled
// over DefaultConfig, so omitted fields keep their defaults while explicit
// values, including empty strings that disable a surface, win.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

// normalize validates the configuration and fills derived defaults.
func (c *Config) normalize() error {
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if len(c.Gateways) == 0 {
		return fmt.Errorf("no gateways configured")
	}
	for i, gc := range c.Gateways {
		if gc.IP == "" {
			return fmt.Errorf("gateway %d: missing ip", i)
		}
		if err := protocol.ValidateKey(gc.Key); err != nil {
			return fmt.Errorf("gateway %s: %w", gc.IP, err)
		}
	}
	if c.MQTT.Broker == "" && c.HTTP.Bind == "" {
		return fmt.Errorf("both mqtt and http surfaces disabled, nothing to serve")
	}
	if c.MQTT.Broker != "" {
		if c.MQTT.ClientID == "" {
			c.MQTT.ClientID = DefaultClientID
		}
		if c.MQTT.Prefix == "" {
			c.MQTT.Prefix = DefaultPrefix
		}
	}
	if c.HTTP.Advertise {
		if _, err := c.httpPort(); err != nil {
			return err
		}
	}
	return nil
}

// httpPort extracts the numeric port from the HTTP bind address, needed
// for the mDNS service record.
func (c *Config) httpPort() (int, error) {
	if c.HTTP.Bind == "" {
		return 0, fmt.Errorf("http surface disabled")
	}
	_, portStr, err := net.SplitHostPort(c.HTTP.Bind)
	if err != nil {
		return 0, fmt.Errorf("http bind %q: %w", c.HTTP.Bind, err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil || port <= 0 {
		return 0, fmt.Errorf("http bind %q: advertising needs a fixed port", c.HTTP.Bind)
	}
	return port, nil
}
