// Package config handles configuration loading for drivenet-gateway.
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
//  1. Path from DRIVENET_CONFIG environment variable
//  2. $XDG_CONFIG_HOME/drivenet/gateway.yaml
//  3. ~/.config/drivenet/gateway.yaml
//
// # Environment Variable Expansion
//
// Configuration values can reference environment variables:
//
//	auth:
//	  jwt_secret: "${DRIVENET_JWT_SECRET}"
//
// Syntax: ${VAR_NAME}
//
// # Duration Parsing
//
// Duration values use Go's time.ParseDuration syntax:
//
//	tunnel:
//	  request_timeout: "30s"
//	auth:
//	  token_ttl: "24h"
//
// Supported units: ns, us, ms, s, m, h
//
// # Configuration Sections
//
// Server settings:
//
//	server:
//	  http_addr: "0.0.0.0:8000"
//
// Tailscale (optional, replaces the plain TCP listener):
//
//	tailscale:
//	  enabled: true
//	  hostname: "drivenet"
//	  funnel: true
//
// Authentication:
//
//	auth:
//	  jwt_secret: "${DRIVENET_JWT_SECRET}"
//	  allowed_emails:
//	    - "me@example.com"
//
// Database:
//
//	database:
//	  path: "~/.local/share/drivenet/gateway.db"
package config
