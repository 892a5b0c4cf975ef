// Package config loads and validates application configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"

	"scriptbox/internal/sandbox"
	"scriptbox/pkg/toolpath"
)

// Config holds all application configuration. It is constructed once at
// process start; nothing reads the environment after that.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Runtime  RuntimeConfig  `yaml:"runtime"`
	Remote   RemoteConfig   `yaml:"remote"`
	Metrics  MetricsConfig  `yaml:"metrics"`
	Tracing  TracingConfig  `yaml:"tracing"`
	Security SecurityConfig `yaml:"security"`
}

type ServerConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	MaxRequestBody  int64         `yaml:"max_request_body_bytes"`
}

type RuntimeConfig struct {
	Backend        string        `yaml:"backend"` // "local" (default) or "remote"
	DefaultTimeout time.Duration `yaml:"default_timeout"`
	MaxTimeout     time.Duration `yaml:"max_timeout"`
	DeclaredTools  []string      `yaml:"declared_tools"` // empty passes paths through to the adapter
}

// RemoteConfig configures the remote isolate service backend.
type RemoteConfig struct {
	Endpoint        string        `yaml:"endpoint"`
	AuthToken       string        `yaml:"auth_token"`
	CallbackBaseURL string        `yaml:"callback_base_url"`
	CallbackSecret  string        `yaml:"callback_secret"`
	RequestTimeout  time.Duration `yaml:"request_timeout"`
}

type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

type TracingConfig struct {
	Enabled  bool    `yaml:"enabled"`
	Endpoint string  `yaml:"endpoint"`
	Sample   float64 `yaml:"sample_rate"`
}

type SecurityConfig struct {
	APIKeyHeader   string   `yaml:"api_key_header"`
	AllowedKeys    []string `yaml:"allowed_keys"`
	RateLimitRPS   float64  `yaml:"rate_limit_rps"`
	RateLimitBurst int      `yaml:"rate_limit_burst"`
}

// Load reads configuration from a YAML file and applies environment
// overrides for remote credentials.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(filepath.Clean(path)) // #nosec G304 -- path comes from CLI flag or hardcoded default
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// DefaultConfig returns sensible defaults for all configuration.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    120 * time.Second, // > max run timeout + dispatch overhead
			ShutdownTimeout: 30 * time.Second,
			MaxRequestBody:  1 << 20, // 1MB
		},
		Runtime: RuntimeConfig{
			Backend:        sandbox.BackendLocal,
			DefaultTimeout: 30 * time.Second,
			MaxTimeout:     5 * time.Minute,
		},
		Remote: RemoteConfig{
			RequestTimeout: sandbox.DefaultRemoteRequestTimeout,
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
		},
		Tracing: TracingConfig{
			Enabled: false,
			Sample:  0.1,
		},
		Security: SecurityConfig{
			APIKeyHeader:   "X-API-Key",
			RateLimitRPS:   100,
			RateLimitBurst: 200,
		},
	}
}

// Environment variable names for remote backend settings. Set at deploy
// time; read exactly once during Load.
const (
	EnvRemoteEndpoint  = "SCRIPTBOX_REMOTE_ENDPOINT"
	EnvRemoteToken     = "SCRIPTBOX_REMOTE_TOKEN"
	EnvCallbackBaseURL = "SCRIPTBOX_CALLBACK_BASE_URL"
	EnvCallbackSecret  = "SCRIPTBOX_CALLBACK_SECRET"
)

func (c *Config) applyEnv() {
	if v := os.Getenv(EnvRemoteEndpoint); v != "" {
		c.Remote.Endpoint = v
	}
	if v := os.Getenv(EnvRemoteToken); v != "" {
		c.Remote.AuthToken = v
	}
	if v := os.Getenv(EnvCallbackBaseURL); v != "" {
		c.Remote.CallbackBaseURL = v
	}
	if v := os.Getenv(EnvCallbackSecret); v != "" {
		c.Remote.CallbackSecret = v
	}
}

// RemoteFromEnv builds remote backend settings purely from the
// environment, failing loudly when a required value is absent. Intended
// for callers that skip the YAML file entirely.
func RemoteFromEnv() (sandbox.RemoteConfig, error) {
	cfg := sandbox.RemoteConfig{
		Endpoint:        os.Getenv(EnvRemoteEndpoint),
		AuthToken:       os.Getenv(EnvRemoteToken),
		CallbackBaseURL: os.Getenv(EnvCallbackBaseURL),
		CallbackSecret:  os.Getenv(EnvCallbackSecret),
		RequestTimeout:  sandbox.DefaultRemoteRequestTimeout,
	}
	if err := cfg.Validate(); err != nil {
		return sandbox.RemoteConfig{}, err
	}
	return cfg, nil
}

// Validate checks that the configuration is valid.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be 1-65535, got %d", c.Server.Port)
	}
	if !sandbox.IsKnownBackend(c.Runtime.Backend) {
		return fmt.Errorf("runtime.backend must be one of %v, got %q", sandbox.KnownBackends(), c.Runtime.Backend)
	}
	if c.Runtime.DefaultTimeout <= 0 {
		return fmt.Errorf("runtime.default_timeout must be positive")
	}
	if c.Runtime.DefaultTimeout > c.Runtime.MaxTimeout {
		return fmt.Errorf("runtime.default_timeout (%s) must be <= max_timeout (%s)",
			c.Runtime.DefaultTimeout, c.Runtime.MaxTimeout)
	}
	for _, tool := range c.Runtime.DeclaredTools {
		if !toolpath.Valid(tool) {
			return fmt.Errorf("runtime.declared_tools: %q is not a valid tool path", tool)
		}
	}
	if c.Runtime.Backend == sandbox.BackendRemote {
		if err := c.SandboxRemote().Validate(); err != nil {
			return err
		}
	}
	if c.Remote.RequestTimeout < 0 {
		return fmt.Errorf("remote.request_timeout must not be negative")
	}
	if c.Remote.Endpoint != "" && c.Remote.AuthToken == "" {
		log.Warn().Msg("remote endpoint configured without auth token — dispatches will be unauthenticated")
	}
	return nil
}

// SandboxRemote converts the YAML remote section into the runtime's
// config struct.
func (c *Config) SandboxRemote() sandbox.RemoteConfig {
	return sandbox.RemoteConfig{
		Endpoint:        c.Remote.Endpoint,
		AuthToken:       c.Remote.AuthToken,
		CallbackBaseURL: c.Remote.CallbackBaseURL,
		CallbackSecret:  c.Remote.CallbackSecret,
		RequestTimeout:  c.Remote.RequestTimeout,
	}
}

// Address returns the listen address string.
func (c *Config) Address() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}
