// ABOUTME: Admin CLI profile loaded from a TOML file
// ABOUTME: Names the backend, the session database and display defaults

package main

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// Profile is the CLI configuration.
type Profile struct {
	APIURL       string `toml:"api_url"`
	RequiredRole string `toml:"required_role"`
	StorePath    string `toml:"store_path"`
	Timeout      string `toml:"timeout"`
	PerPage      int    `toml:"per_page"`
	// Secret seals the stored token when set.
	Secret string `toml:"secret"`

	timeout time.Duration
}

func xdgDir(env, fallback string) string {
	if dir := os.Getenv(env); dir != "" {
		return filepath.Join(dir, "pymemap")
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, fallback, "pymemap")
	}
	return "."
}

// defaultProfilePath returns $PYMEMAP_ADMIN_CONFIG, else admin.toml under the
// user config directory.
func defaultProfilePath() string {
	if p := os.Getenv("PYMEMAP_ADMIN_CONFIG"); p != "" {
		return p
	}
	return filepath.Join(xdgDir("XDG_CONFIG_HOME", ".config"), "admin.toml")
}

func defaultProfile() Profile {
	return Profile{
		APIURL:       "http://localhost:8000",
		RequiredRole: "admin",
		StorePath:    filepath.Join(xdgDir("XDG_DATA_HOME", filepath.Join(".local", "share")), "admin.db"),
		Timeout:      "15s",
		PerPage:      20,
	}
}

// loadProfile reads path over the defaults. A missing file leaves the
// defaults in place. PYMEMAP_API_URL overrides the backend URL.
func loadProfile(path string) (Profile, error) {
	p := defaultProfile()
	if _, err := toml.DecodeFile(path, &p); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Profile{}, fmt.Errorf("reading profile %s: %w", path, err)
	}
	if env := os.Getenv("PYMEMAP_API_URL"); env != "" {
		p.APIURL = env
	}
	if err := p.validate(); err != nil {
		return Profile{}, fmt.Errorf("profile %s: %w", path, err)
	}
	return p, nil
}

func (p *Profile) validate() error {
	u, err := url.Parse(p.APIURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("api_url %q must be an http or https URL", p.APIURL)
	}
	if p.StorePath == "" {
		return errors.New("store_path is required")
	}
	d, err := time.ParseDuration(p.Timeout)
	if err != nil || d <= 0 {
		return fmt.Errorf("timeout %q must be a positive duration", p.Timeout)
	}
	p.timeout = d
	if p.PerPage <= 0 {
		return errors.New("per_page must be positive")
	}
	if p.Secret != "" && len(p.Secret) < 16 {
		return errors.New("secret must be at least 16 characters")
	}
	return nil
}
