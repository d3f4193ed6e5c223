package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration to support YAML unmarshalling.
type Duration struct {
	time.Duration
}

// UnmarshalYAML parses human readable duration strings.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	if value == nil {
		return nil
	}
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("duration must be string")
	}
	raw := value.Value
	if raw == "" {
		d.Duration = 0
		return nil
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", raw, err)
	}
	d.Duration = parsed
	return nil
}

// Config captures runtime configuration for indexd.
type Config struct {
	ListenAddress string     `yaml:"listen"`
	DatabasePath  string     `yaml:"database"`
	Environment   string     `yaml:"environment"`
	QueryLimit    int        `yaml:"query_limit"`
	Node          NodeConfig `yaml:"node"`
}

// NodeConfig points indexd at the launchpad node's event feed.
type NodeConfig struct {
	WSURL        string   `yaml:"ws_url"`
	DialTimeout  Duration `yaml:"dial_timeout"`
	ReconnectMin Duration `yaml:"reconnect_min"`
	ReconnectMax Duration `yaml:"reconnect_max"`
}

// LoadConfig reads configuration from the supplied path.
func LoadConfig(path string) (Config, error) {
	cfg := Config{}
	file, err := os.Open(path)
	if err != nil {
		return cfg, fmt.Errorf("open config: %w", err)
	}
	defer file.Close()
	dec := yaml.NewDecoder(file)
	if err := dec.Decode(&cfg); err != nil {
		return cfg, fmt.Errorf("decode config: %w", err)
	}
	applyDefaults(&cfg)
	if err := validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.ListenAddress == "" {
		cfg.ListenAddress = ":7172"
	}
	if cfg.DatabasePath == "" {
		cfg.DatabasePath = "indexd.db"
	}
	if cfg.Environment == "" {
		cfg.Environment = "dev"
	}
	if cfg.QueryLimit <= 0 {
		cfg.QueryLimit = 100
	}
	if cfg.Node.WSURL == "" {
		cfg.Node.WSURL = "ws://127.0.0.1:8080/ws/events"
	}
	if cfg.Node.DialTimeout.Duration == 0 {
		cfg.Node.DialTimeout.Duration = 10 * time.Second
	}
	if cfg.Node.ReconnectMin.Duration == 0 {
		cfg.Node.ReconnectMin.Duration = time.Second
	}
	if cfg.Node.ReconnectMax.Duration == 0 {
		cfg.Node.ReconnectMax.Duration = 30 * time.Second
	}
}

func validate(cfg Config) error {
	if strings.TrimSpace(cfg.Node.WSURL) == "" {
		return fmt.Errorf("node ws_url must be configured")
	}
	if !strings.HasPrefix(cfg.Node.WSURL, "ws://") && !strings.HasPrefix(cfg.Node.WSURL, "wss://") {
		return fmt.Errorf("node ws_url must use a ws or wss scheme")
	}
	if cfg.Node.ReconnectMax.Duration < cfg.Node.ReconnectMin.Duration {
		return fmt.Errorf("reconnect_max must not be below reconnect_min")
	}
	return nil
}
