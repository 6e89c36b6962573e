package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the runtime options. Field names mirror the options of
// classic interface monitors so existing habits carry over.
type Config struct {
	// RefreshInterval is the sampling cadence in milliseconds.
	RefreshInterval int `yaml:"RefreshInterval"`

	// AverageWindow is the sliding window for average speed, seconds.
	AverageWindow int `yaml:"AverageWindow"`

	// Devices selects interfaces: "all" or a space-separated list.
	Devices string `yaml:"Devices"`

	// BarMaxIn/BarMaxOut scale the rate bars, bytes/sec. Zero means
	// autoscale.
	BarMaxIn  uint64 `yaml:"BarMaxIn"`
	BarMaxOut uint64 `yaml:"BarMaxOut"`

	// DiagnosticTargets are the hosts the latency prober measures.
	DiagnosticTargets []string `yaml:"DiagnosticTargets"`

	// MetricsAddr, when set, serves Prometheus metrics on this
	// address (e.g. ":9101").
	MetricsAddr string `yaml:"MetricsAddr"`
}

func Default() *Config {
	return &Config{
		RefreshInterval:   500,
		AverageWindow:     300,
		Devices:           "all",
		DiagnosticTargets: []string{"1.1.1.1", "8.8.8.8"},
	}
}

// Load reads path, or the default location when path is empty. A
// missing file is not an error; defaults apply.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return cfg, nil
		}
		path = filepath.Join(home, ".netwatch.yaml")
		if _, err := os.Stat(path); err != nil {
			return cfg, nil
		}
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(content, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if cfg.RefreshInterval <= 0 {
		cfg.RefreshInterval = 500
	}
	if cfg.AverageWindow <= 0 {
		cfg.AverageWindow = 300
	}
	return cfg, nil
}

func (c *Config) Refresh() time.Duration {
	return time.Duration(c.RefreshInterval) * time.Millisecond
}

func (c *Config) Window() time.Duration {
	return time.Duration(c.AverageWindow) * time.Second
}
