package config

import (
	"path/filepath"
	"strings"
)

// normalize expands paths and backfills derived defaults after decoding.
func (c *Config) normalize() error {
	var err error
	if c.Paths.DataDir, err = expandPath(c.Paths.DataDir); err != nil {
		return err
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return err
	}
	if c.Paths.CatalogPath, err = expandPath(c.Paths.CatalogPath); err != nil {
		return err
	}
	if c.Paths.FirmwareDir, err = expandPath(c.Paths.FirmwareDir); err != nil {
		return err
	}

	if strings.TrimSpace(c.Server.MarkerFile) == "" {
		c.Server.MarkerFile = filepath.Join(c.Paths.DataDir, "kilnd-enabled")
	} else if c.Server.MarkerFile, err = expandPath(c.Server.MarkerFile); err != nil {
		return err
	}

	trimmedOrigins := make([]string, 0, len(c.Server.AllowedOrigins))
	for _, origin := range c.Server.AllowedOrigins {
		origin = strings.ToLower(strings.TrimSpace(origin))
		if origin != "" {
			trimmedOrigins = append(trimmedOrigins, origin)
		}
	}
	c.Server.AllowedOrigins = trimmedOrigins

	c.Audio.Verbosity = strings.ToLower(strings.TrimSpace(c.Audio.Verbosity))
	if c.Audio.Verbosity == "" {
		c.Audio.Verbosity = "normal"
	}
	if c.Audio.Volume <= 0 || c.Audio.Volume > 1 {
		c.Audio.Volume = 0.7
	}
	if c.Audio.Events == nil {
		c.Audio.Events = map[string]string{}
	}

	if c.Flash.Baud <= 0 {
		c.Flash.Baud = 115200
	}
	if strings.TrimSpace(c.Flash.EsptoolBinary) == "" {
		c.Flash.EsptoolBinary = "esptool"
	}
	if c.Flash.WeightDownloadEnd <= 0 {
		c.Flash.WeightDownloadEnd = 10
	}
	if c.Flash.WeightConnectEnd <= 0 {
		c.Flash.WeightConnectEnd = 15
	}
	if c.Flash.WeightEraseEnd <= 0 {
		c.Flash.WeightEraseEnd = 20
	}

	if c.Telemetry.TimeoutSeconds <= 0 {
		c.Telemetry.TimeoutSeconds = 10
	}
	c.Telemetry.Endpoint = strings.TrimRight(strings.TrimSpace(c.Telemetry.Endpoint), "/")

	c.Language.Default = strings.ToLower(strings.TrimSpace(c.Language.Default))
	if c.Language.Default == "" {
		c.Language.Default = "en"
	}
	supported := make([]string, 0, len(c.Language.Supported))
	seen := map[string]struct{}{}
	for _, code := range c.Language.Supported {
		code = strings.ToLower(strings.TrimSpace(code))
		if code == "" {
			continue
		}
		if _, ok := seen[code]; ok {
			continue
		}
		seen[code] = struct{}{}
		supported = append(supported, code)
	}
	if len(supported) == 0 {
		supported = []string{c.Language.Default}
	}
	c.Language.Supported = supported

	return nil
}
