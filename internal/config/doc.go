// Package config handles loading and parsing the t9s configuration file.
//
// # Configuration Discovery
//
// The Load function follows this resolution order:
//
//  1. If a path is explicitly provided (the -config flag), use it
//  2. Otherwise, use ~/.config/t9s/config.toml (default)
//  3. If the config file doesn't exist, environment variables may still
//     supply the required fields
//
// # Required Fields
//
// Two fields have no defaults and must be present, either in the file or
// in the environment:
//
//   - teamcity_url (or T9S_TEAMCITY_URL): base URL of the TeamCity server
//   - token (or T9S_TOKEN): access token for bearer authentication
//
// Environment variables take precedence over file values, which keeps
// tokens out of dotfiles when desired.
//
// # Optional Fields
//
//   - projects: project ids to browse; empty browses everything visible
//   - cache_dir: cache location (default ~/.cache/t9s)
//   - cache_ttl_minutes: entry freshness window (default 60)
//   - retry_attempts, retry_backoff_ms, rate_limit_backoff_s: fetch
//     retry tuning (defaults 3, 500, 5)
//   - fzf_command, pager_command: external tool overrides
//
// # TOML Format
//
// Example config.toml:
//
//	teamcity_url = "https://teamcity.example.com"
//	token = "tcp_..."
//	projects = ["MyProject"]
//	cache_ttl_minutes = 30
//
// Tilde expansion is performed on the config path and cache_dir.
//
// # Error Handling
//
// Load returns errors for unreadable files, TOML parse failures, and
// missing required fields. A missing config file by itself is not an
// error when the environment supplies the URL and token.
//
// The package is read-only and stateless: configuration is loaded once
// at startup and returned as a plain struct.
package config
