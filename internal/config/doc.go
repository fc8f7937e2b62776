// Package config handles configuration loading for wagate.
//
// # Overview
//
// Configuration is loaded from YAML files with environment variable expansion.
// The package provides validation and sensible defaults.
//
// # Configuration File
//
// Default locations (in order):
//
//  1. Path from WAGATE_CONFIG environment variable
//  2. $XDG_CONFIG_HOME/wagate/wagate.yaml
//  3. ~/.config/wagate/wagate.yaml
//
// # Environment Variable Expansion
//
// Configuration values can reference environment variables:
//
//	auth:
//	  jwt_secret: "${WAGATE_JWT_SECRET}"
//
// Syntax: ${VAR_NAME}
//
// # Duration Parsing
//
// Duration values use Go's time.ParseDuration syntax:
//
//	sessions:
//	  handshake_timeout: "5m"
//
// Supported units: ns, us, ms, s, m, h
//
// # Configuration Sections
//
// Server settings:
//
//	server:
//	  http_addr: "0.0.0.0:8080"
//	  allowed_origins: ["http://127.0.0.1:8000"]
//
// Session store:
//
//	store:
//	  driver: "file"                     # file or sqlite
//	  path: "/var/lib/wagate/sessions.json"
//
// Browser worker:
//
//	worker:
//	  url: "ws://127.0.0.1:3001/session"
//	  restart_on_auth_fail: true
//
// Authentication (optional; omit to disable):
//
//	auth:
//	  jwt_secret: "${WAGATE_JWT_SECRET}"
//
// Tailscale:
//
//	tailscale:
//	  enabled: false
//	  hostname: "wagate"
//	  auth_key: "${TS_AUTHKEY}"
//
// Logging:
//
//	logging:
//	  level: "info"   # debug, info, warn, error
//	  format: "text"  # text, json
//
// Metrics:
//
//	metrics:
//	  enabled: true
//	  path: "/metrics"
package config
