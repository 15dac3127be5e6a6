// Package config loads, normalizes, and validates the TOML configuration
// shared by the kiln CLI and the kilnd telemetry daemon.
package config
