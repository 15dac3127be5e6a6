package config

// Default returns the baseline configuration used before any file overrides.
func Default() Config {
	return Config{
		Paths: Paths{
			DataDir:     "~/.local/share/kiln",
			LogDir:      "~/.local/share/kiln/logs",
			CatalogPath: "~/.config/kiln/catalog.jsonc",
			FirmwareDir: "~/.cache/kiln/firmware",
		},
		Server: Server{
			Bind:             "127.0.0.1:7512",
			AllowedOrigins:   nil,
			MaxBodyBytes:     10 * 1024,
			RatePerMinute:    10,
			RatePerHour:      50,
			MaxCountersBytes: 1 * 1024 * 1024,
			MaxErrorLogBytes: 5 * 1024 * 1024,
			MaxErrorEntries:  500,
			Guards: Guards{
				Marker:    true,
				RateLimit: true,
				BodyLimit: true,
				Honeypot:  true,
				Origin:    true,
			},
		},
		Audio: Audio{
			Enabled:       false,
			Verbosity:     "normal",
			Volume:        0.7,
			PlayerCommand: []string{"paplay", "{file}"},
			Events:        map[string]string{},
		},
		Flash: Flash{
			Baud:              115200,
			EraseAll:          false,
			EsptoolBinary:     "esptool",
			WeightDownloadEnd: 10,
			WeightConnectEnd:  15,
			WeightEraseEnd:    20,
		},
		Telemetry: Telemetry{
			Enabled:        false,
			Endpoint:       "",
			TimeoutSeconds: 10,
		},
		Language: Language{
			Default:   "en",
			Supported: []string{"en"},
		},
		Logging: Logging{
			Format: "console",
			Level:  "info",
		},
	}
}
