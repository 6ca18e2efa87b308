// Package config handles configuration loading and management for Code Cowboy.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	defaultConfig "github.com/codecowboy/cowboy/config"
)

// Default network endpoints. The protocol shapes never depend on these; they
// exist so a deployment can move the relay or the session store without code
// changes.
const (
	DefaultHTTPPort      = 5174
	DefaultWebSocketPort = 8080
	DefaultStoreBaseURL  = "http://localhost:8000/api"
	DefaultAPIPrefix     = "/api"
)

// Default timing parameters for the relay and its client.
const (
	DefaultCacheTTL       = 10 * time.Minute
	DefaultSweepInterval  = 10 * time.Minute
	DefaultInitialBackoff = 1 * time.Second
	DefaultMaxBackoff     = 30 * time.Second
	DefaultMaxAttempts    = 5
	DefaultHealthTimeout  = 3 * time.Second
)

// RelayConfig holds the relay server's listen configuration.
type RelayConfig struct {
	// Host is the address both listeners bind to (default: 127.0.0.1)
	Host string `yaml:"host"`
	// HTTPPort is the webhook/diagnostics HTTP port (default: 5174)
	HTTPPort int `yaml:"http_port"`
	// WebSocketPort is the broadcast WebSocket port (default: 8080)
	WebSocketPort int `yaml:"websocket_port"`
	// CacheTTLMinutes is how long a stored webhook payload stays retrievable
	CacheTTLMinutes int `yaml:"cache_ttl_minutes"`
	// SweepIntervalMinutes is how often expired payloads are purged
	SweepIntervalMinutes int `yaml:"sweep_interval_minutes"`
}

// StoreConfig holds the session store client configuration.
type StoreConfig struct {
	// BaseURL is the session store API root (default: http://localhost:8000/api)
	BaseURL string `yaml:"base_url"`
	// Token is the opaque bearer credential presented to the store
	Token string `yaml:"token"`
}

// ClientConfig holds the relay client's reconnection policy.
type ClientConfig struct {
	// InitialBackoffSeconds is the first reconnect delay (default: 1)
	InitialBackoffSeconds int `yaml:"initial_backoff_seconds"`
	// MaxBackoffSeconds caps the doubling reconnect delay (default: 30)
	MaxBackoffSeconds int `yaml:"max_backoff_seconds"`
	// MaxAttempts is the number of reconnects before giving up (default: 5)
	MaxAttempts int `yaml:"max_attempts"`
}

// Config represents the complete Code Cowboy configuration.
type Config struct {
	Relay  RelayConfig  `yaml:"relay"`
	Store  StoreConfig  `yaml:"store"`
	Client ClientConfig `yaml:"client"`
}

// Default returns a configuration populated with the built-in defaults.
func Default() *Config {
	return &Config{
		Relay: RelayConfig{
			Host:                 "127.0.0.1",
			HTTPPort:             DefaultHTTPPort,
			WebSocketPort:        DefaultWebSocketPort,
			CacheTTLMinutes:      int(DefaultCacheTTL / time.Minute),
			SweepIntervalMinutes: int(DefaultSweepInterval / time.Minute),
		},
		Store: StoreConfig{
			BaseURL: DefaultStoreBaseURL,
		},
		Client: ClientConfig{
			InitialBackoffSeconds: int(DefaultInitialBackoff / time.Second),
			MaxBackoffSeconds:     int(DefaultMaxBackoff / time.Second),
			MaxAttempts:           DefaultMaxAttempts,
		},
	}
}

// DefaultConfigPath returns the default configuration file path.
// The COWBOYRC environment variable overrides it.
func DefaultConfigPath() string {
	if envPath := os.Getenv("COWBOYRC"); envPath != "" {
		return envPath
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".cowboyrc"
	}
	return filepath.Join(home, ".cowboyrc")
}

// Load reads and parses the configuration file from the given path.
// Missing files are not an error: the embedded default configuration is
// used instead.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Parse(defaultConfig.DefaultConfigYAML)
		}
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	return Parse(data)
}

// Parse parses YAML configuration data into a Config struct.
// Omitted fields fall back to their defaults.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the configuration for values the relay cannot run with.
func (c *Config) Validate() error {
	if c.Relay.HTTPPort < 0 || c.Relay.HTTPPort > 65535 {
		return fmt.Errorf("invalid relay http_port: %d", c.Relay.HTTPPort)
	}
	if c.Relay.WebSocketPort < 0 || c.Relay.WebSocketPort > 65535 {
		return fmt.Errorf("invalid relay websocket_port: %d", c.Relay.WebSocketPort)
	}
	if c.Relay.HTTPPort != 0 && c.Relay.HTTPPort == c.Relay.WebSocketPort {
		return fmt.Errorf("relay http_port and websocket_port must differ (both %d)", c.Relay.HTTPPort)
	}
	if c.Relay.CacheTTLMinutes <= 0 {
		return fmt.Errorf("invalid relay cache_ttl_minutes: %d", c.Relay.CacheTTLMinutes)
	}
	if c.Relay.SweepIntervalMinutes <= 0 {
		return fmt.Errorf("invalid relay sweep_interval_minutes: %d", c.Relay.SweepIntervalMinutes)
	}
	if c.Store.BaseURL == "" {
		return fmt.Errorf("store base_url cannot be empty")
	}
	if c.Client.MaxAttempts <= 0 {
		return fmt.Errorf("invalid client max_attempts: %d", c.Client.MaxAttempts)
	}
	if c.Client.InitialBackoffSeconds <= 0 {
		return fmt.Errorf("invalid client initial_backoff_seconds: %d", c.Client.InitialBackoffSeconds)
	}
	if c.Client.MaxBackoffSeconds < c.Client.InitialBackoffSeconds {
		return fmt.Errorf("client max_backoff_seconds (%d) below initial_backoff_seconds (%d)",
			c.Client.MaxBackoffSeconds, c.Client.InitialBackoffSeconds)
	}
	return nil
}

// CacheTTL returns the payload cache TTL as a duration.
func (c *Config) CacheTTL() time.Duration {
	return time.Duration(c.Relay.CacheTTLMinutes) * time.Minute
}

// SweepInterval returns the cache sweep interval as a duration.
func (c *Config) SweepInterval() time.Duration {
	return time.Duration(c.Relay.SweepIntervalMinutes) * time.Minute
}

// InitialBackoff returns the relay client's first reconnect delay.
func (c *Config) InitialBackoff() time.Duration {
	return time.Duration(c.Client.InitialBackoffSeconds) * time.Second
}

// MaxBackoff returns the relay client's reconnect delay cap.
func (c *Config) MaxBackoff() time.Duration {
	return time.Duration(c.Client.MaxBackoffSeconds) * time.Second
}

// RelayHTTPURL returns the base URL of the relay's HTTP API.
func (c *Config) RelayHTTPURL() string {
	return fmt.Sprintf("http://%s:%d", c.Relay.Host, c.Relay.HTTPPort)
}

// RelayWebSocketURL returns the URL of the relay's WebSocket endpoint.
func (c *Config) RelayWebSocketURL() string {
	return fmt.Sprintf("ws://%s:%d/ws", c.Relay.Host, c.Relay.WebSocketPort)
}
