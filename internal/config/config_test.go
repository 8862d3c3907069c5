// ABOUTME: Tests for configuration loading and parsing
// ABOUTME: Covers YAML loading, defaults, env var expansion, durations and validation

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const minimalConfig = `
api:
  base_url: "https://api.example.com"
auth:
  session_secret: "0123456789abcdef"
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "console.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return path
}

func TestLoad_ValidConfig(t *testing.T) {
	path := writeConfig(t, `
server:
  http_addr: "0.0.0.0:9000"
  secure_cookies: true

api:
  base_url: "https://api.example.com"
  timeout: "5s"

auth:
  required_role: "superadmin"
  session_secret: "a-very-long-session-secret"
  session_ttl: "8h"

store:
  backend: "redis"
  redis_url: "redis://localhost:6379/1"
  prefix: "test:"

console:
  per_page_options: [5, 25]
  cache_ttl: "1h"
  max_workspaces: 10
  workspace_idle: "30m"

logging:
  level: "debug"
  format: "json"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.HTTPAddr != "0.0.0.0:9000" {
		t.Errorf("Server.HTTPAddr = %q, want %q", cfg.Server.HTTPAddr, "0.0.0.0:9000")
	}
	if !cfg.Server.SecureCookies {
		t.Error("Server.SecureCookies = false, want true")
	}
	if cfg.API.Timeout != 5*time.Second {
		t.Errorf("API.Timeout = %v, want %v", cfg.API.Timeout, 5*time.Second)
	}
	if cfg.Auth.RequiredRole != "superadmin" {
		t.Errorf("Auth.RequiredRole = %q, want %q", cfg.Auth.RequiredRole, "superadmin")
	}
	if cfg.Auth.SessionTTL != 8*time.Hour {
		t.Errorf("Auth.SessionTTL = %v, want %v", cfg.Auth.SessionTTL, 8*time.Hour)
	}
	if cfg.Store.Backend != "redis" || cfg.Store.RedisURL != "redis://localhost:6379/1" || cfg.Store.Prefix != "test:" {
		t.Errorf("Store = %+v, want redis backend settings", cfg.Store)
	}
	if len(cfg.Console.PerPageOptions) != 2 || cfg.Console.PerPageOptions[1] != 25 {
		t.Errorf("Console.PerPageOptions = %v, want [5 25]", cfg.Console.PerPageOptions)
	}
	if cfg.Console.CacheTTL != time.Hour {
		t.Errorf("Console.CacheTTL = %v, want %v", cfg.Console.CacheTTL, time.Hour)
	}
	if cfg.Console.MaxWorkspaces != 10 {
		t.Errorf("Console.MaxWorkspaces = %d, want 10", cfg.Console.MaxWorkspaces)
	}
	if cfg.Console.WorkspaceIdle != 30*time.Minute {
		t.Errorf("Console.WorkspaceIdle = %v, want %v", cfg.Console.WorkspaceIdle, 30*time.Minute)
	}
	if cfg.Logging.Level != "debug" || cfg.Logging.Format != "json" {
		t.Errorf("Logging = %+v, want debug/json", cfg.Logging)
	}
}

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", "/tmp/xdg")
	cfg, err := Load(writeConfig(t, minimalConfig))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.HTTPAddr != "127.0.0.1:8090" {
		t.Errorf("Server.HTTPAddr = %q, want default", cfg.Server.HTTPAddr)
	}
	if cfg.Auth.RequiredRole != "admin" {
		t.Errorf("Auth.RequiredRole = %q, want %q", cfg.Auth.RequiredRole, "admin")
	}
	if cfg.Store.Backend != "sqlite" {
		t.Errorf("Store.Backend = %q, want sqlite", cfg.Store.Backend)
	}
	if cfg.Store.Path != filepath.Join("/tmp/xdg", "pymemap", "console.db") {
		t.Errorf("Store.Path = %q, want it under XDG_CONFIG_HOME", cfg.Store.Path)
	}
	if cfg.API.Timeout != 15*time.Second {
		t.Errorf("API.Timeout = %v, want 15s", cfg.API.Timeout)
	}
	if len(cfg.Console.PerPageOptions) != 3 {
		t.Errorf("Console.PerPageOptions = %v, want the three defaults", cfg.Console.PerPageOptions)
	}
}

func TestLoad_EnvVarExpansion(t *testing.T) {
	t.Setenv("TEST_PYMEMAP_SECRET", "secret-from-environment")
	t.Setenv("TEST_PYMEMAP_API", "https://env.example.com")

	cfg, err := Load(writeConfig(t, `
api:
  base_url: "${TEST_PYMEMAP_API}"
auth:
  session_secret: "${TEST_PYMEMAP_SECRET}"
`))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Auth.SessionSecret != "secret-from-environment" {
		t.Errorf("Auth.SessionSecret = %q, want %q", cfg.Auth.SessionSecret, "secret-from-environment")
	}
	if cfg.API.BaseURL != "https://env.example.com" {
		t.Errorf("API.BaseURL = %q, want %q", cfg.API.BaseURL, "https://env.example.com")
	}
}

func TestLoad_EnvVarExpansion_UnsetVar(t *testing.T) {
	os.Unsetenv("UNSET_SECRET_FOR_TEST")

	_, err := Load(writeConfig(t, `
api:
  base_url: "https://api.example.com"
auth:
  session_secret: "${UNSET_SECRET_FOR_TEST}"
`))
	if err == nil {
		t.Fatal("Load() expected error for empty session secret, got nil")
	}
	if !strings.Contains(err.Error(), "auth.session_secret") {
		t.Errorf("error = %v, want it to name auth.session_secret", err)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load("/nonexistent/path/console.yaml")
	if err == nil {
		t.Error("Load() expected error for missing file, got nil")
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	_, err := Load(writeConfig(t, "api:\n  base_url: [unclosed\n"))
	if err == nil {
		t.Error("Load() expected error for invalid YAML, got nil")
	}
}

func TestLoad_InvalidDuration(t *testing.T) {
	tests := []struct {
		name    string
		content string
		field   string
	}{
		{
			name:    "bad timeout",
			content: "api:\n  base_url: \"https://api.example.com\"\n  timeout: \"soon\"\nauth:\n  session_secret: \"0123456789abcdef\"\n",
			field:   "api.timeout",
		},
		{
			name:    "negative cache ttl",
			content: minimalConfig + "console:\n  cache_ttl: \"-1h\"\n",
			field:   "console.cache_ttl",
		},
		{
			name:    "unitless session ttl",
			content: "api:\n  base_url: \"https://api.example.com\"\nauth:\n  session_secret: \"0123456789abcdef\"\n  session_ttl: \"12\"\n",
			field:   "auth.session_ttl",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.content))
			if err == nil {
				t.Fatal("Load() expected error, got nil")
			}
			if !strings.Contains(err.Error(), tt.field) {
				t.Errorf("error = %v, want it to name %s", err, tt.field)
			}
		})
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"valid", func(*Config) {}, ""},
		{"no http addr", func(c *Config) { c.Server.HTTPAddr = "" }, "server.http_addr"},
		{"no base url", func(c *Config) { c.API.BaseURL = "" }, "api.base_url"},
		{"bad scheme", func(c *Config) { c.API.BaseURL = "ftp://x" }, "api.base_url"},
		{"short secret", func(c *Config) { c.Auth.SessionSecret = "short" }, "auth.session_secret"},
		{"empty role", func(c *Config) { c.Auth.RequiredRole = "" }, "auth.required_role"},
		{"unknown backend", func(c *Config) { c.Store.Backend = "mongo" }, "store.backend"},
		{"sqlite without path", func(c *Config) { c.Store.Path = "" }, "store.path"},
		{"redis without url", func(c *Config) { c.Store.Backend = "redis" }, "store.redis_url"},
		{"memory", func(c *Config) { c.Store.Backend = "memory"; c.Store.Path = "" }, ""},
		{"zero page size", func(c *Config) { c.Console.PerPageOptions = []int{10, 0} }, "console.per_page_options"},
		{"no workspaces", func(c *Config) { c.Console.MaxWorkspaces = 0 }, "console.max_workspaces"},
		{"bad log format", func(c *Config) { c.Logging.Format = "xml" }, "logging.format"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Defaults()
			cfg.API.BaseURL = "https://api.example.com"
			cfg.Auth.SessionSecret = "0123456789abcdef"
			tt.mutate(&cfg)

			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() error = %v, want nil", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error = %v, want it to mention %q", err, tt.wantErr)
			}
		})
	}
}

func TestExpandEnvVars(t *testing.T) {
	t.Setenv("FOO", "bar")
	t.Setenv("BAZ", "qux")

	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"single env var", "${FOO}", "bar"},
		{"env var with surrounding text", "prefix-${FOO}-suffix", "prefix-bar-suffix"},
		{"multiple env vars", "${FOO}/${BAZ}", "bar/qux"},
		{"no env vars", "no-vars-here", "no-vars-here"},
		{"unset env var", "${UNSET_VAR}", ""},
		{"empty string", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := expandEnvVars(tt.input)
			if result != tt.expected {
				t.Errorf("expandEnvVars(%q) = %q, want %q", tt.input, result, tt.expected)
			}
		})
	}
}

func TestDefaultPath(t *testing.T) {
	t.Setenv(EnvPath, "/etc/pymemap/console.yaml")
	if got := DefaultPath(); got != "/etc/pymemap/console.yaml" {
		t.Errorf("DefaultPath() = %q, want the %s value", got, EnvPath)
	}

	t.Setenv(EnvPath, "")
	t.Setenv("XDG_CONFIG_HOME", "/tmp/xdg")
	if got := DefaultPath(); got != filepath.Join("/tmp/xdg", "pymemap", "console.yaml") {
		t.Errorf("DefaultPath() = %q, want it under XDG_CONFIG_HOME", got)
	}
}
