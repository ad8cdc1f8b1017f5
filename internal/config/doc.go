// Package config handles configuration loading for courier.
//
// # Overview
//
// Configuration is loaded from a YAML or TOML file (chosen by extension) with
// environment variable expansion, environment overrides for secrets, and
// defaults for everything optional.
//
// # Configuration File
//
// Default locations (in order):
//
//  1. Path from the --config flag
//  2. Path from COURIER_CONFIG environment variable
//  3. $XDG_CONFIG_HOME/courier/courier.yaml (~/.config/courier/courier.yaml)
//
// # Environment Variables
//
// Values can reference environment variables with ${VAR_NAME}:
//
//	line:
//	  channel_secret: "${CHANNEL_SECRET}"
//
// The following variables override the file when set:
//
//	CHANNEL_SECRET         line.channel_secret
//	CHANNEL_ACCESS_TOKEN   line.channel_access_token
//	COURIER_JWT_SECRET     auth.jwt_secret
//	COURIER_HTTP_ADDR      server.http_addr
//
// # Configuration Sections
//
//	server:
//	  http_addr: "0.0.0.0:5001"
//
//	line:
//	  channel_secret: "${CHANNEL_SECRET}"
//	  channel_access_token: "${CHANNEL_ACCESS_TOKEN}"
//	  api_base_url: "https://api.line.me"
//	  push_rate: 20    # pushes per second
//	  push_burst: 20
//
//	storage:
//	  directory_file: "user_data.json"
//	  announcement_file: "announcement.json"
//	  history_dir: "announcement_history"
//	  ledger_path: "courier.db"
//
//	delivery:
//	  interval: "5s"
//	  error_backoff: "10s"
//
//	bot:
//	  intro_url: "https://example.com/about"
//	  dedupe_ttl: "5m"
//	  dedupe_max_entries: 100000
//
//	auth:
//	  jwt_secret: "${COURIER_JWT_SECRET}"   # empty disables the admin API
//
//	logging:
//	  level: "info"   # debug, info, warn, error
//	  format: "text"  # text, json
package config
