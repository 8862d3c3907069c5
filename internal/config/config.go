// ABOUTME: Configuration loading and parsing for the pymemap console server
// ABOUTME: Supports YAML files with environment variable expansion and duration parsing

package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"time"

	"gopkg.in/yaml.v3"
)

// EnvPath names the environment variable holding the config file path.
const EnvPath = "PYMEMAP_CONFIG"

// Config represents the complete console configuration
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	API     APIConfig     `yaml:"api"`
	Auth    AuthConfig    `yaml:"auth"`
	Store   StoreConfig   `yaml:"store"`
	Console ConsoleConfig `yaml:"console"`
	Logging LoggingConfig `yaml:"logging"`
}

// ServerConfig holds the web console listener configuration
type ServerConfig struct {
	HTTPAddr string `yaml:"http_addr"`
	// SecureCookies marks session cookies Secure; enable behind HTTPS.
	SecureCookies bool `yaml:"secure_cookies"`
}

// APIConfig points at the remote REST backend
type APIConfig struct {
	BaseURL string        `yaml:"base_url"`
	Timeout time.Duration `yaml:"-"`

	TimeoutRaw string `yaml:"timeout"`
}

// AuthConfig holds operator session configuration
type AuthConfig struct {
	// RequiredRole is the profile role allowed to sign in.
	RequiredRole string `yaml:"required_role"`
	// SessionSecret seals stored tokens. At least 16 characters.
	SessionSecret string        `yaml:"session_secret"`
	SessionTTL    time.Duration `yaml:"-"`

	SessionTTLRaw string `yaml:"session_ttl"`
}

// StoreConfig selects the key-value backend for sessions and dataset caches
type StoreConfig struct {
	Backend  string `yaml:"backend"`
	Path     string `yaml:"path"`
	RedisURL string `yaml:"redis_url"`
	Prefix   string `yaml:"prefix"`
}

// ConsoleConfig holds grid and workspace settings
type ConsoleConfig struct {
	PerPageOptions []int         `yaml:"per_page_options"`
	CacheTTL       time.Duration `yaml:"-"`
	MaxWorkspaces  int           `yaml:"max_workspaces"`
	WorkspaceIdle  time.Duration `yaml:"-"`

	CacheTTLRaw      string `yaml:"cache_ttl"`
	WorkspaceIdleRaw string `yaml:"workspace_idle"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Defaults returns the configuration used for fields a file leaves empty.
func Defaults() Config {
	return Config{
		Server: ServerConfig{HTTPAddr: "127.0.0.1:8090"},
		API:    APIConfig{Timeout: 15 * time.Second},
		Auth:   AuthConfig{RequiredRole: "admin", SessionTTL: 12 * time.Hour},
		Store:  StoreConfig{Backend: "sqlite", Path: defaultStorePath(), Prefix: "pymemap:"},
		Console: ConsoleConfig{
			PerPageOptions: []int{10, 20, 50},
			CacheTTL:       24 * time.Hour,
			MaxWorkspaces:  256,
			WorkspaceIdle:  2 * time.Hour,
		},
		Logging: LoggingConfig{Level: "info", Format: "text"},
	}
}

func configDir() string {
	if dir := os.Getenv("XDG_CONFIG_HOME"); dir != "" {
		return filepath.Join(dir, "pymemap")
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".config", "pymemap")
	}
	return "."
}

func defaultStorePath() string {
	return filepath.Join(configDir(), "console.db")
}

// DefaultPath returns the config file location: $PYMEMAP_CONFIG, else
// console.yaml under the user config directory.
func DefaultPath() string {
	if p := os.Getenv(EnvPath); p != "" {
		return p
	}
	return filepath.Join(configDir(), "console.yaml")
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Environment variables in the format ${VAR_NAME} are expanded.
// Duration strings are parsed into time.Duration values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	return Parse(data)
}

// Parse is Load for configuration already in memory.
func Parse(data []byte) (*Config, error) {
	expanded := expandEnvVars(string(data))

	cfg := Defaults()
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		return os.Getenv(envVarPattern.FindStringSubmatch(match)[1])
	})
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if c.Server.HTTPAddr == "" {
		return errors.New("server.http_addr is required")
	}

	if c.API.BaseURL == "" {
		return errors.New("api.base_url is required")
	}
	u, err := url.Parse(c.API.BaseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("api.base_url %q must be an http or https URL", c.API.BaseURL)
	}

	if c.Auth.RequiredRole == "" {
		return errors.New("auth.required_role must not be empty")
	}
	if len(c.Auth.SessionSecret) < 16 {
		return errors.New("auth.session_secret must be at least 16 characters")
	}

	switch c.Store.Backend {
	case "sqlite":
		if c.Store.Path == "" {
			return errors.New("store.path is required for the sqlite backend")
		}
	case "redis":
		if c.Store.RedisURL == "" {
			return errors.New("store.redis_url is required for the redis backend")
		}
	case "memory":
	default:
		return fmt.Errorf("store.backend %q must be sqlite, redis or memory", c.Store.Backend)
	}

	if len(c.Console.PerPageOptions) == 0 {
		return errors.New("console.per_page_options must not be empty")
	}
	if slices.ContainsFunc(c.Console.PerPageOptions, func(n int) bool { return n <= 0 }) {
		return errors.New("console.per_page_options must be positive")
	}
	if c.Console.MaxWorkspaces <= 0 {
		return errors.New("console.max_workspaces must be positive")
	}

	if c.Logging.Format != "text" && c.Logging.Format != "json" {
		return fmt.Errorf("logging.format %q must be text or json", c.Logging.Format)
	}

	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	fields := []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"api.timeout", cfg.API.TimeoutRaw, &cfg.API.Timeout},
		{"auth.session_ttl", cfg.Auth.SessionTTLRaw, &cfg.Auth.SessionTTL},
		{"console.cache_ttl", cfg.Console.CacheTTLRaw, &cfg.Console.CacheTTL},
		{"console.workspace_idle", cfg.Console.WorkspaceIdleRaw, &cfg.Console.WorkspaceIdle},
	}
	for _, f := range fields {
		if f.raw == "" {
			continue
		}
		d, err := time.ParseDuration(f.raw)
		if err != nil {
			return fmt.Errorf("parsing %s %q: %w", f.name, f.raw, err)
		}
		if d <= 0 {
			return fmt.Errorf("%s must be positive, got %q", f.name, f.raw)
		}
		*f.dst = d
	}
	return nil
}
