// Package app provides the orchestration layer for t9s.
//
// # Overview
//
// This package wires together configuration, the TeamCity client, the
// durable cache, the fetch pipeline, and the UI. It is the composition
// root: dependencies are constructed here and handed to the UI as
// explicit values, never read from ambient globals.
//
// # Startup sequence
//
//  1. Load config from ~/.config/t9s/config.toml (teamcity_url and
//     token are required, everything else has defaults)
//  2. Initialize the TeamCity REST client with the bearer token
//  3. Open the cache directory; a missing or corrupt cache is a cold
//     start, never a startup failure
//  4. Build the fetch pipeline over client and cache
//  5. Start the TUI and block until the user quits or a signal arrives
//  6. Flush the cache so the next session starts warm
//
// # Error handling
//
// Fatal errors (returned from Run): unusable config, a malformed server
// URL, an unwritable cache directory. Everything that happens after the
// UI starts — network failures, rate limits, removed entities, missing
// external tools — is surfaced as a status message inside the UI and
// never terminates the process.
package app
