package vestd

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

// Config captures the runtime configuration for vestd.
type Config struct {
	ListenAddress   string          `yaml:"listen"`
	Environment     string          `yaml:"environment"`
	DeploymentPath  string          `yaml:"deployment"`
	JournalPath     string          `yaml:"journal"`
	ShutdownTimeout Duration        `yaml:"shutdown_timeout"`
	Auth            AuthConfig      `yaml:"auth"`
	RateLimit       RateConfig      `yaml:"rate_limit"`
	Registry        RegistryConfig  `yaml:"registry"`
	Recon           ReconConfig     `yaml:"recon"`
	Telemetry       TelemetryConfig `yaml:"telemetry"`
	Log             LogConfig       `yaml:"log"`
}

// TelemetryConfig configures the OTLP exporters. Telemetry is off unless an
// endpoint is set.
type TelemetryConfig struct {
	Endpoint string `yaml:"endpoint"`
	Insecure bool   `yaml:"insecure"`
	Headers  string `yaml:"headers"`
	Metrics  bool   `yaml:"metrics"`
	Traces   bool   `yaml:"traces"`
}

// AuthConfig configures the JWT bearer authentication of the admin API.
type AuthConfig struct {
	HMACSecret     string   `yaml:"hmac_secret"`
	HMACSecretFile string   `yaml:"hmac_secret_file"`
	Issuer         string   `yaml:"issuer"`
	Audience       string   `yaml:"audience"`
	ClockSkew      Duration `yaml:"clock_skew"`
}

// RateConfig configures per-client request throttling.
type RateConfig struct {
	RequestsPerMinute float64 `yaml:"requests_per_minute"`
	Burst             int     `yaml:"burst"`
}

// RegistryConfig selects the counterparty registry backend.
type RegistryConfig struct {
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
}

// ReconConfig configures activity report generation.
type ReconConfig struct {
	OutputDir string `yaml:"output_dir"`
}

// LogConfig enables the optional rotated log file.
type LogConfig struct {
	FilePath   string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

// LoadConfig reads the runtime configuration and applies defaults.
func LoadConfig(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg := &Config{}
	if err := yaml.Unmarshal(raw, cfg); err != nil {
		return nil, err
	}
	if strings.TrimSpace(cfg.ListenAddress) == "" {
		cfg.ListenAddress = ":8545"
	}
	if strings.TrimSpace(cfg.Environment) == "" {
		cfg.Environment = "dev"
	}
	if strings.TrimSpace(cfg.DeploymentPath) == "" {
		cfg.DeploymentPath = "deployment.toml"
	}
	if strings.TrimSpace(cfg.JournalPath) == "" {
		cfg.JournalPath = "vestd.db"
	}
	if cfg.ShutdownTimeout.Duration == 0 {
		cfg.ShutdownTimeout.Duration = 10 * time.Second
	}
	if cfg.RateLimit.RequestsPerMinute <= 0 {
		cfg.RateLimit.RequestsPerMinute = 120
	}
	if cfg.RateLimit.Burst <= 0 {
		cfg.RateLimit.Burst = 20
	}
	if strings.TrimSpace(cfg.Registry.Driver) == "" {
		cfg.Registry.Driver = "sqlite"
	}
	if strings.TrimSpace(cfg.Registry.DSN) == "" {
		cfg.Registry.DSN = "registry.db"
	}
	if strings.TrimSpace(cfg.Recon.OutputDir) == "" {
		cfg.Recon.OutputDir = "reports"
	}
	if err := cfg.resolveSecret(); err != nil {
		return nil, err
	}
	if strings.TrimSpace(cfg.Auth.HMACSecret) == "" {
		return nil, fmt.Errorf("auth.hmac_secret (or hmac_secret_file) required")
	}
	return cfg, nil
}

func (c *Config) resolveSecret() error {
	if strings.TrimSpace(c.Auth.HMACSecret) != "" || strings.TrimSpace(c.Auth.HMACSecretFile) == "" {
		return nil
	}
	raw, err := os.ReadFile(c.Auth.HMACSecretFile)
	if err != nil {
		return fmt.Errorf("read hmac secret file: %w", err)
	}
	c.Auth.HMACSecret = strings.TrimSpace(string(raw))
	return nil
}
