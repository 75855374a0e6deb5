// Package config loads beacon's TOML configuration.
//
// # Configuration Discovery
//
// The Load function follows this resolution order:
//
//  1. If a path is explicitly provided, use it
//  2. Otherwise, use ~/.config/beacon/config.toml (default)
//  3. If the config file doesn't exist, fall back to defaults
//  4. If the file exists but fields are missing or empty, use defaults
//  5. BEACON_BASE_URL and BEACON_API_KEY override whatever was loaded
//
// # TOML Format
//
//	base_url = "http://127.0.0.1:3000"
//	api_key = "..."
//	reconnect_interval = "3s"
//	max_reconnect_attempts = 10
//	poll_interval = "5s"
//	page_size = 50
//	log_level = "info"
//	log_file = "~/.local/state/beacon/beacon.log"
//
// Every field is optional. Durations use time.ParseDuration syntax and must
// be positive. max_reconnect_attempts = 0 disables automatic reconnects;
// leaving it out keeps the default of 10.
//
// # Error Handling
//
// Missing config files are not an error. Unreadable files, TOML syntax
// errors and out-of-range values are, so a typo never silently changes the
// reconnect policy.
package config
