// Package config handles configuration loading for the pymemap console server.
//
// # Overview
//
// Configuration is loaded from YAML files with environment variable expansion.
// Fields a file leaves out keep the values from Defaults.
//
// # Configuration File
//
// Default locations (in order):
//
//  1. Path from PYMEMAP_CONFIG environment variable
//  2. $XDG_CONFIG_HOME/pymemap/console.yaml
//  3. ~/.config/pymemap/console.yaml
//
// # Environment Variable Expansion
//
// Configuration values can reference environment variables:
//
//	auth:
//	  session_secret: "${PYMEMAP_SESSION_SECRET}"
//
// Syntax: ${VAR_NAME}. Unset variables expand to the empty string.
//
// # Duration Parsing
//
// Duration values use Go's time.ParseDuration syntax:
//
//	api:
//	  timeout: "15s"
//	console:
//	  cache_ttl: "24h"
//	  workspace_idle: "2h"
//
// # Configuration Sections
//
// Server settings:
//
//	server:
//	  http_addr: "127.0.0.1:8090"
//	  secure_cookies: false
//
// Backend:
//
//	api:
//	  base_url: "https://api.pymemap.example"
//	  timeout: "15s"
//
// Authentication:
//
//	auth:
//	  required_role: "admin"
//	  session_secret: "${PYMEMAP_SESSION_SECRET}"   # at least 16 characters
//	  session_ttl: "12h"
//
// Storage:
//
//	store:
//	  backend: "sqlite"              # sqlite, redis, memory
//	  path: "/var/lib/pymemap/console.db"
//	  redis_url: "redis://localhost:6379/0"
//	  prefix: "pymemap:"
//
// Console:
//
//	console:
//	  per_page_options: [10, 20, 50]
//	  max_workspaces: 256
//
// Logging:
//
//	logging:
//	  level: "info"   # debug, info, warn, error
//	  format: "text"  # text, json
//
// # Usage
//
//	cfg, err := config.Load(config.DefaultPath())
//	if err != nil {
//	    log.Fatal(err)
//	}
package config
