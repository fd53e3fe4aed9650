package exporter

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/muurk/motionlan/internal/config"
	"github.com/muurk/motionlan/protocol"
)

const (
	// DefaultListen is the default metrics listen address.
	DefaultListen = ":9861"

	// DefaultMetricsPath is where the Prometheus handler is mounted.
	DefaultMetricsPath = "/metrics"

	defaultScrapeTimeout = 8 * time.Second
)

// Config describes one exporter process.
type Config struct {
	// LogLevel selects the exporter log verbosity.
	LogLevel string `yaml:"log_level"`

	// Listen is the HTTP listen address for the metrics endpoint.
	Listen string `yaml:"listen"`

	// MetricsPath is the URL path of the Prometheus handler.
	MetricsPath string `yaml:"metrics_path"`

	// ScrapeTimeout bounds the per-scrape gateway refresh. Devices not
	// refreshed in time are reported from their last known state.
	ScrapeTimeout config.Duration `yaml:"scrape_timeout"`

	// Gateways is the set of gateways to export. At least one entry is
	// required.
	Gateways []GatewayConfig `yaml:"gateways"`
}

// GatewayConfig identifies one gateway to export.
type GatewayConfig struct {
	IP  string `yaml:"ip"`
	Key string `yaml:"key"`
}

// DefaultConfig returns the exporter defaults with no gateways.
func DefaultConfig() *Config {
	return &Config{
		LogLevel:      "info",
		Listen:        DefaultListen,
		MetricsPath:   DefaultMetricsPath,
		ScrapeTimeout: config.Duration(defaultScrapeTimeout),
	}
}

// LoadConfig reads a YAML exporter configuration, unmarshalled over
// DefaultConfig so omitted fields keep their defaults.
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

func (c *Config) normalize() error {
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.Listen == "" {
		c.Listen = DefaultListen
	}
	if c.MetricsPath == "" {
		c.MetricsPath = DefaultMetricsPath
	}
	if c.ScrapeTimeout <= 0 {
		c.ScrapeTimeout = config.Duration(defaultScrapeTimeout)
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
	return nil
}
