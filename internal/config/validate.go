package config

import (
	"fmt"
	"strings"
)

var validVerbosities = map[string]struct{}{
	"minimal": {},
	"normal":  {},
	"verbose": {},
}

var validLogFormats = map[string]struct{}{
	"console": {},
	"json":    {},
}

// Validate checks configuration invariants after normalization.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Paths.DataDir) == "" {
		return fmt.Errorf("config: paths.data_dir is required")
	}
	if strings.TrimSpace(c.Server.Bind) == "" {
		return fmt.Errorf("config: server.bind is required")
	}
	if c.Server.MaxBodyBytes <= 0 {
		return fmt.Errorf("config: server.max_body_bytes must be positive")
	}
	if c.Server.RatePerMinute <= 0 || c.Server.RatePerHour <= 0 {
		return fmt.Errorf("config: rate limits must be positive")
	}
	if c.Server.RatePerHour < c.Server.RatePerMinute {
		return fmt.Errorf("config: server.rate_per_hour must be >= server.rate_per_minute")
	}
	if c.Server.MaxCountersBytes <= 0 || c.Server.MaxErrorLogBytes <= 0 {
		return fmt.Errorf("config: storage size ceilings must be positive")
	}
	if c.Server.MaxErrorEntries <= 0 {
		return fmt.Errorf("config: server.max_error_entries must be positive")
	}

	if _, ok := validVerbosities[c.Audio.Verbosity]; !ok {
		return fmt.Errorf("config: audio.verbosity must be minimal, normal, or verbose (got %q)", c.Audio.Verbosity)
	}
	if c.Audio.Enabled && len(c.Audio.PlayerCommand) == 0 {
		return fmt.Errorf("config: audio.player_command is required when audio is enabled")
	}

	if !(c.Flash.WeightDownloadEnd < c.Flash.WeightConnectEnd &&
		c.Flash.WeightConnectEnd < c.Flash.WeightEraseEnd &&
		c.Flash.WeightEraseEnd < 100) {
		return fmt.Errorf("config: flash stage weights must be strictly increasing and below 100")
	}

	if c.Telemetry.Enabled && strings.TrimSpace(c.Telemetry.Endpoint) == "" {
		return fmt.Errorf("config: telemetry.endpoint is required when telemetry is enabled")
	}

	if _, ok := validLogFormats[strings.ToLower(strings.TrimSpace(c.Logging.Format))]; !ok && c.Logging.Format != "" {
		return fmt.Errorf("config: logging.format must be console or json (got %q)", c.Logging.Format)
	}

	return nil
}
