package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory and file location configuration.
type Paths struct {
	DataDir     string `toml:"data_dir"`
	LogDir      string `toml:"log_dir"`
	CatalogPath string `toml:"catalog_path"`
	FirmwareDir string `toml:"firmware_dir"`
}

// Guards toggles individual checks in the telemetry guard pipeline. All
// checks are enabled by default; disabling one removes it from the ordered
// pipeline without affecting the others.
type Guards struct {
	Marker    bool `toml:"marker"`
	RateLimit bool `toml:"rate_limit"`
	BodyLimit bool `toml:"body_limit"`
	Honeypot  bool `toml:"honeypot"`
	Origin    bool `toml:"origin"`
}

// Server contains configuration for the kilnd telemetry daemon.
type Server struct {
	Bind             string   `toml:"bind"`
	AllowedOrigins   []string `toml:"allowed_origins"`
	MarkerFile       string   `toml:"marker_file"`
	MaxBodyBytes     int64    `toml:"max_body_bytes"`
	RatePerMinute    int      `toml:"rate_per_minute"`
	RatePerHour      int      `toml:"rate_per_hour"`
	MaxCountersBytes int64    `toml:"max_counters_bytes"`
	MaxErrorLogBytes int64    `toml:"max_error_log_bytes"`
	MaxErrorEntries  int      `toml:"max_error_entries"`
	Guards           Guards   `toml:"guards"`
}

// Audio contains configuration for flash session audio feedback.
type Audio struct {
	Enabled       bool              `toml:"enabled"`
	Verbosity     string            `toml:"verbosity"`
	Volume        float64           `toml:"volume"`
	PlayerCommand []string          `toml:"player_command"`
	Events        map[string]string `toml:"events"`
}

// Flash contains configuration for the flashing session itself.
//
// The stage weight fields mark where each stage's slice of the global
// progress bar ends; they are a tunable heuristic, not a contract.
type Flash struct {
	Baud              int     `toml:"baud"`
	EraseAll          bool    `toml:"erase_all"`
	EsptoolBinary     string  `toml:"esptool_binary"`
	WeightDownloadEnd float64 `toml:"weight_download_end"`
	WeightConnectEnd  float64 `toml:"weight_connect_end"`
	WeightEraseEnd    float64 `toml:"weight_erase_end"`
}

// Telemetry contains configuration for the fire-and-forget outcome reporter.
type Telemetry struct {
	Enabled        bool   `toml:"enabled"`
	Endpoint       string `toml:"endpoint"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
}

// Language contains the supported UI languages for localized catalog
// descriptions and audio cue paths.
type Language struct {
	Default   string   `toml:"default"`
	Supported []string `toml:"supported"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
}

// Config encapsulates all configuration values for kiln and kilnd.
type Config struct {
	Paths     Paths     `toml:"paths"`
	Server    Server    `toml:"server"`
	Audio     Audio     `toml:"audio"`
	Flash     Flash     `toml:"flash"`
	Telemetry Telemetry `toml:"telemetry"`
	Language  Language  `toml:"language"`
	Logging   Logging   `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath("~/.config/kiln/config.toml")
}

// Load locates, parses, and validates a configuration file. The returned
// config has all path fields expanded and normalized. The boolean reports
// whether a config file actually existed at the resolved path.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := DefaultConfigPath()
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("kiln.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates required directories for daemon and CLI operation.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.DataDir, c.Paths.LogDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	if strings.TrimSpace(c.Paths.FirmwareDir) != "" {
		// Best-effort: the firmware cache is optional.
		_ = os.MkdirAll(c.Paths.FirmwareDir, 0o755)
	}
	return nil
}

// CountersPath returns the location of the flash counters document.
func (c *Config) CountersPath() string {
	return filepath.Join(c.Paths.DataDir, "flash-counts.json")
}

// ErrorLogPath returns the location of the flash error log document.
func (c *Config) ErrorLogPath() string {
	return filepath.Join(c.Paths.DataDir, "flash-errors.json")
}

// RateLimitPath returns the location of the rate limiter state document.
func (c *Config) RateLimitPath() string {
	return filepath.Join(c.Paths.DataDir, "rate-limits.json")
}

// LockPath returns the kilnd single-instance lock file location.
func (c *Config) LockPath() string {
	return filepath.Join(c.Paths.DataDir, "kilnd.lock")
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}
	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}
