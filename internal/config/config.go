// ABOUTME: Configuration loading and parsing for wagate
// ABOUTME: Supports YAML files with environment variable expansion and duration parsing

package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete wagate configuration
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Tailscale TailscaleConfig `yaml:"tailscale"`
	Store     StoreConfig     `yaml:"store"`
	Worker    WorkerConfig    `yaml:"worker"`
	Sessions  SessionsConfig  `yaml:"sessions"`
	Auth      AuthConfig      `yaml:"auth"`
	Logging   LoggingConfig   `yaml:"logging"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	HTTPAddr       string   `yaml:"http_addr"`
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// TailscaleConfig holds Tailscale tsnet configuration
type TailscaleConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Hostname  string `yaml:"hostname"`
	AuthKey   string `yaml:"auth_key"`
	StateDir  string `yaml:"state_dir"`
	Ephemeral bool   `yaml:"ephemeral"`
}

// StoreConfig selects and configures the session store backend
type StoreConfig struct {
	// Driver is "file" (JSON array, default) or "sqlite"
	Driver string `yaml:"driver"`
	Path   string `yaml:"path"`
}

// WorkerConfig points at the browser-automation worker
type WorkerConfig struct {
	URL               string `yaml:"url"`
	RestartOnAuthFail *bool  `yaml:"restart_on_auth_fail"`
}

// RestartOnAuthFailEnabled reports the worker restart policy, defaulting to true.
func (w WorkerConfig) RestartOnAuthFailEnabled() bool {
	if w.RestartOnAuthFail == nil {
		return true
	}
	return *w.RestartOnAuthFail
}

// SessionsConfig holds session supervision tuning
type SessionsConfig struct {
	// HandshakeTimeout tears down sessions that never finish authenticating.
	// Zero (the default) lets a session await its scan indefinitely.
	HandshakeTimeout time.Duration `yaml:"-"`

	// Raw string value for YAML unmarshaling
	HandshakeTimeoutRaw string `yaml:"handshake_timeout"`
}

// AuthConfig holds authentication configuration.
// An empty JWTSecret disables API authentication.
type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// MetricsConfig holds metrics endpoint configuration
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Environment variables in the format ${VAR_NAME} are expanded.
// Duration strings are parsed into time.Duration values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Expand environment variables in the raw YAML content
	expandedData := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	cfg.applyDefaults()

	// Parse duration fields
	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	// Validate required fields
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	// Match ${VAR_NAME} pattern
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		// Extract variable name from ${VAR_NAME}
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// applyDefaults fills in defaults for optional fields.
func (c *Config) applyDefaults() {
	if c.Store.Driver == "" {
		c.Store.Driver = "file"
	}
	if c.Metrics.Enabled && c.Metrics.Path == "" {
		c.Metrics.Path = "/metrics"
	}
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	// The HTTP address is required unless Tailscale provides the listener
	if !c.Tailscale.Enabled && c.Server.HTTPAddr == "" {
		return fmt.Errorf("server.http_addr is required (or enable tailscale)")
	}

	// Tailscale requires a hostname
	if c.Tailscale.Enabled && c.Tailscale.Hostname == "" {
		return fmt.Errorf("tailscale.hostname is required when tailscale is enabled")
	}

	switch c.Store.Driver {
	case "file", "sqlite":
	default:
		return fmt.Errorf("store.driver must be \"file\" or \"sqlite\", got %q", c.Store.Driver)
	}

	if c.Store.Path == "" {
		return fmt.Errorf("store.path is required")
	}

	if c.Worker.URL == "" {
		return fmt.Errorf("worker.url is required")
	}

	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	var err error

	if cfg.Sessions.HandshakeTimeoutRaw != "" {
		cfg.Sessions.HandshakeTimeout, err = time.ParseDuration(cfg.Sessions.HandshakeTimeoutRaw)
		if err != nil {
			return fmt.Errorf("parsing handshake_timeout %q: %w", cfg.Sessions.HandshakeTimeoutRaw, err)
		}
	}

	return nil
}
