// Package errclass buckets free-text flash errors into a closed set of
// categories using ordered substring rules. Classification is deterministic
// and total: the first matching rule wins and unmatched messages fall back to
// the generic flash_error bucket.
package errclass

import "strings"

// Category is one of the eight fixed flash error categories.
type Category string

const (
	UserCancel        Category = "user_cancel"
	PortBusy          Category = "port_busy"
	ConnectionTimeout Category = "connection_timeout"
	DownloadFailed    Category = "download_failed"
	HardwareError     Category = "hardware_error"
	WrongBrowser      Category = "wrong_browser"
	FlashError        Category = "flash_error"
	Unknown           Category = "unknown"
)

var all = []Category{
	UserCancel,
	PortBusy,
	ConnectionTimeout,
	DownloadFailed,
	HardwareError,
	WrongBrowser,
	FlashError,
	Unknown,
}

// All returns every category in priority order.
func All() []Category {
	out := make([]Category, len(all))
	copy(out, all)
	return out
}

// Valid reports whether value names a known category.
func Valid(value Category) bool {
	for _, c := range all {
		if c == value {
			return true
		}
	}
	return false
}

// Classify maps an error message to its category. Matching is
// case-insensitive and rule order is fixed: the first hit wins. An empty
// message classifies as Unknown; anything else unmatched is FlashError.
func Classify(message string) Category {
	msg := strings.ToLower(strings.TrimSpace(message))
	if msg == "" {
		return Unknown
	}

	if containsAny(msg, "no port selected", "user cancelled") {
		return UserCancel
	}
	if containsAny(msg, "failed to execute 'open'", "port is already open", "access denied", "port may be in use") {
		return PortBusy
	}
	if containsAny(msg, "timeout", "timed out", "failed to connect", "no response") {
		return ConnectionTimeout
	}
	if containsAny(msg, "failed to download", "network", "fetch", "http") {
		return DownloadFailed
	}
	if containsAny(msg, "chip", "flash", "memory", "stub", "bootloader") {
		return HardwareError
	}
	if (strings.Contains(msg, "serial") && strings.Contains(msg, "not supported")) ||
		containsAny(msg, "navigator.serial", "undefined") {
		return WrongBrowser
	}
	return FlashError
}

func containsAny(msg string, substrings ...string) bool {
	for _, s := range substrings {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}

var descriptions = map[Category]string{
	UserCancel:        "User cancelled or did not select a port",
	PortBusy:          "Serial port in use by another application",
	ConnectionTimeout: "Timeout connecting to the device (BOOT button not pressed)",
	DownloadFailed:    "Failed to download firmware files",
	HardwareError:     "Hardware or chip-related error",
	WrongBrowser:      "Host has no usable serial transport",
	FlashError:        "Generic flash error",
	Unknown:           "Uncategorized error",
}

// Description returns the human-readable summary for a category, used by the
// error-log summary endpoint.
func Description(c Category) string {
	if d, ok := descriptions[c]; ok {
		return d
	}
	return descriptions[Unknown]
}

// Descriptions returns the full category-to-summary map.
func Descriptions() map[Category]string {
	out := make(map[Category]string, len(descriptions))
	for c, d := range descriptions {
		out[c] = d
	}
	return out
}

var hints = map[Category]string{
	UserCancel:        "Select a serial port to continue",
	PortBusy:          "Close other serial monitors (IDE, terminal) and retry",
	ConnectionTimeout: "Hold the BOOT button earlier and retry",
	DownloadFailed:    "Check your network connection and retry",
	HardwareError:     "Check the cable and board, then retry",
	WrongBrowser:      "This host has no serial support; try another machine",
}

// Hint returns a remediation tip for the category, or "" when there is
// nothing useful to suggest.
func Hint(c Category) string {
	return hints[c]
}
