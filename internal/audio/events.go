package audio

import (
	"fmt"
	"strings"
)

// Cue names for flash session milestones. Each maps to a configured sound
// file; unconfigured cues are skipped silently.
const (
	EventStart            = "start"
	EventDialogOpen       = "dialog_open"
	EventPortSelected     = "port_selected"
	EventBootPrompt       = "boot_prompt"
	EventConnecting       = "connecting"
	EventConnected        = "connected"
	EventErasing          = "erasing"
	EventEraseComplete    = "erase_complete"
	EventFlashingStart    = "flashing_start"
	EventFlashingProgress = "flashing_progress"
	EventWritingComplete  = "writing_complete"
	EventRebooting        = "rebooting"
	EventSuccess          = "success"
	EventError            = "error"
)

// Verbosity levels, each a strict superset of the previous one.
const (
	VerbosityMinimal = "minimal"
	VerbosityNormal  = "normal"
	VerbosityVerbose = "verbose"
)

// ErrorEvent returns the per-category error cue name, e.g.
// "error_connection_timeout". Such cues always play regardless of verbosity.
func ErrorEvent(category string) string {
	return "error_" + category
}

// ProgressEvent returns the one-shot write milestone cue name, e.g.
// "flashing_progress_50".
func ProgressEvent(milestone int) string {
	return fmt.Sprintf("%s_%d", EventFlashingProgress, milestone)
}

var minimalEvents = map[string]bool{
	EventStart:   true,
	EventSuccess: true,
	EventError:   true,
}

var normalEvents = map[string]bool{
	EventBootPrompt:    true,
	EventConnected:     true,
	EventErasing:       true,
	EventFlashingStart: true,
}

var verboseEvents = map[string]bool{
	EventDialogOpen:       true,
	EventPortSelected:     true,
	EventConnecting:       true,
	EventEraseComplete:    true,
	EventFlashingProgress: true,
	EventWritingComplete:  true,
	EventRebooting:        true,
}

// allowed reports whether an event plays at the given verbosity. Error cues
// bypass the policy entirely; progress milestone cues share the base
// flashing_progress tier.
func allowed(verbosity, event string) bool {
	if strings.HasPrefix(event, "error_") {
		return true
	}
	if strings.HasPrefix(event, EventFlashingProgress) {
		event = EventFlashingProgress
	}
	switch verbosity {
	case VerbosityVerbose:
		if verboseEvents[event] {
			return true
		}
		fallthrough
	case VerbosityNormal:
		if normalEvents[event] {
			return true
		}
		fallthrough
	default:
		return minimalEvents[event]
	}
}
