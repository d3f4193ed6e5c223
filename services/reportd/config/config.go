package config

import (
	"fmt"
	"net/url"
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

// Config captures runtime configuration for reportd.
type Config struct {
	ListenAddress string          `yaml:"listen"`
	DatabaseURL   string          `yaml:"database_url"`
	OutputDir     string          `yaml:"output_dir"`
	Environment   string          `yaml:"environment"`
	Network       string          `yaml:"network"`
	Node          NodeConfig      `yaml:"node"`
	Report        ReportConfig    `yaml:"report"`
	Auth          AuthConfig      `yaml:"auth"`
	Webhook       WebhookConfig   `yaml:"webhook"`
	Telemetry     TelemetryConfig `yaml:"telemetry"`
	RateLimit     RateLimitConfig `yaml:"rate_limit"`
}

// NodeConfig points reportd at the launchpad node it mirrors.
type NodeConfig struct {
	RPCURL       string   `yaml:"rpc_url"`
	WSURL        string   `yaml:"ws_url"`
	DialTimeout  Duration `yaml:"dial_timeout"`
	ReconnectMin Duration `yaml:"reconnect_min"`
	ReconnectMax Duration `yaml:"reconnect_max"`
}

// ReportConfig tunes the nightly export run.
type ReportConfig struct {
	RunHour   int      `yaml:"run_hour"`
	RunMinute int      `yaml:"run_minute"`
	Window    Duration `yaml:"window"`
	Timezone  string   `yaml:"timezone"`
	DryRun    bool     `yaml:"dry_run"`
}

// AuthConfig guards the admin endpoints with bearer JWTs.
type AuthConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Secret   string `yaml:"secret"`
	Issuer   string `yaml:"issuer"`
	Audience string `yaml:"audience"`
}

// WebhookConfig describes the downstream notified about finished runs.
// Leaving the endpoint empty disables delivery.
type WebhookConfig struct {
	Endpoint    string   `yaml:"endpoint"`
	Secret      string   `yaml:"secret"`
	MaxAttempts int      `yaml:"max_attempts"`
	MinBackoff  Duration `yaml:"min_backoff"`
	MaxBackoff  Duration `yaml:"max_backoff"`
}

// TelemetryConfig wires the OTLP exporters.
type TelemetryConfig struct {
	Endpoint string `yaml:"endpoint"`
	Insecure bool   `yaml:"insecure"`
	Metrics  bool   `yaml:"metrics"`
	Traces   bool   `yaml:"traces"`
}

// RateLimitConfig throttles the admin surface.
type RateLimitConfig struct {
	AdminPerSecond float64 `yaml:"admin_per_second"`
	AdminBurst     int     `yaml:"admin_burst"`
}

// Load reads configuration from the supplied path.
func Load(path string) (Config, error) {
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
		cfg.ListenAddress = ":7171"
	}
	if cfg.OutputDir == "" {
		cfg.OutputDir = "reports"
	}
	if cfg.Environment == "" {
		cfg.Environment = "dev"
	}
	if cfg.Network == "" {
		cfg.Network = "launchpad-local"
	}
	if cfg.Node.RPCURL == "" {
		cfg.Node.RPCURL = "http://127.0.0.1:8080"
	}
	if cfg.Node.WSURL == "" {
		cfg.Node.WSURL = deriveWSURL(cfg.Node.RPCURL)
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
	if cfg.Report.Window.Duration == 0 {
		cfg.Report.Window.Duration = 24 * time.Hour
	}
	if cfg.Report.Timezone == "" {
		cfg.Report.Timezone = "UTC"
	}
	if cfg.Webhook.MaxAttempts <= 0 {
		cfg.Webhook.MaxAttempts = 5
	}
	if cfg.Webhook.MinBackoff.Duration == 0 {
		cfg.Webhook.MinBackoff.Duration = 2 * time.Second
	}
	if cfg.Webhook.MaxBackoff.Duration == 0 {
		cfg.Webhook.MaxBackoff.Duration = 30 * time.Second
	}
	if cfg.RateLimit.AdminPerSecond <= 0 {
		cfg.RateLimit.AdminPerSecond = 5
	}
	if cfg.RateLimit.AdminBurst <= 0 {
		cfg.RateLimit.AdminBurst = 10
	}
}

func validate(cfg Config) error {
	if cfg.DatabaseURL == "" {
		return fmt.Errorf("database_url must be configured")
	}
	if cfg.Report.RunHour < 0 || cfg.Report.RunHour > 23 {
		return fmt.Errorf("run_hour must be between 0 and 23")
	}
	if cfg.Report.RunMinute < 0 || cfg.Report.RunMinute > 59 {
		return fmt.Errorf("run_minute must be between 0 and 59")
	}
	if _, err := time.LoadLocation(cfg.Report.Timezone); err != nil {
		return fmt.Errorf("parse timezone: %w", err)
	}
	if cfg.Auth.Enabled && cfg.Auth.Secret == "" {
		return fmt.Errorf("auth secret must be configured when auth is enabled")
	}
	if cfg.Webhook.Endpoint != "" && cfg.Webhook.Secret == "" {
		return fmt.Errorf("webhook secret must be configured when endpoint is set")
	}
	return nil
}

// deriveWSURL maps the RPC base URL onto the node's event feed.
func deriveWSURL(rpcURL string) string {
	parsed, err := url.Parse(rpcURL)
	if err != nil || parsed.Host == "" {
		return ""
	}
	scheme := "ws"
	if strings.EqualFold(parsed.Scheme, "https") {
		scheme = "wss"
	}
	return fmt.Sprintf("%s://%s/ws/events", scheme, parsed.Host)
}
