// Package config handles configuration loading for the carekeeper companion.
//
// # Overview
//
// Configuration is loaded from a YAML or TOML file (chosen by extension)
// with environment variable expansion. Missing values get defaults, then
// the result is validated.
//
// # Configuration File
//
// The CLI looks in, in order:
//
//  1. Path from CAREKEEPER_CONFIG environment variable
//  2. $XDG_CONFIG_HOME/carekeeper/companion.yaml
//  3. ~/.config/carekeeper/companion.yaml
//
// # Environment Variable Expansion
//
//	backend:
//	  url: "${CAREKEEPER_BACKEND_URL}"
//
// Syntax: ${VAR_NAME}. Unset variables expand to the empty string.
//
// # Duration Parsing
//
// Duration values use Go's time.ParseDuration syntax ("50ms", "1s", "5m").
//
// # Configuration Sections
//
//	backend:
//	  url: "http://localhost:8080"
//	  timeout: "10s"
//
//	database:
//	  path: "~/.local/share/carekeeper/companion.db"
//
//	monitor:
//	  upload_interval: "1s"
//	  send_timeout: "10s"
//	  max_in_flight: 1                  # ticks beyond this are dropped
//	  invalidate_on_unauthorized: false # reject token on HTTP 401
//
//	panic:
//	  hold_duration: "3s"     # seeds the user setting on first run
//	  progress_step: "50ms"
//	  dispatch_timeout: "30s"
//
//	control:
//	  addr: "127.0.0.1:9090"
//
//	sensors:
//	  source: "simulated"     # simulated, passive
//	  motion_interval: "200ms"
//	  location_interval: "5s"
//	  origin_latitude: -23.5505
//	  origin_longitude: -46.6333
//	  deny_location: false
//
//	logging:
//	  level: "info"   # debug, info, warn, error
//	  format: "text"  # text, json
//
//	metrics:
//	  enabled: false
//	  endpoint: "localhost:4318"
//	  interval: "30s"
package config
