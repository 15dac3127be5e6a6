package audio_test

import (
	"context"
	"sync"
	"testing"

	"kiln/internal/audio"
)

type recordingPlayer struct {
	mu     sync.Mutex
	played []string
	volume float64
}

func (p *recordingPlayer) Play(_ context.Context, file string, volume float64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.played = append(p.played, file)
	p.volume = volume
	return nil
}

func (p *recordingPlayer) files() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.played))
	copy(out, p.played)
	return out
}

func newSequencer(t *testing.T, player audio.Player, verbosity string, events map[string]string) *audio.Sequencer {
	t.Helper()
	return audio.NewSequencer(audio.Options{
		Player:    player,
		Events:    events,
		Verbosity: verbosity,
		Volume:    0.5,
	})
}

func TestSequencerPlaysInOrder(t *testing.T) {
	player := &recordingPlayer{}
	events := map[string]string{
		"start":   "sounds/start.mp3",
		"success": "sounds/success.mp3",
		"error":   "sounds/error.mp3",
	}
	seq := newSequencer(t, player, audio.VerbosityMinimal, events)

	seq.Cue(audio.EventStart)
	seq.Cue(audio.EventSuccess)
	seq.Cue(audio.EventError)
	seq.Close()

	got := player.files()
	want := []string{"sounds/start.mp3", "sounds/success.mp3", "sounds/error.mp3"}
	if len(got) != len(want) {
		t.Fatalf("played %d cues, want %d: %v", len(got), len(want), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("cue %d = %q, want %q", i, got[i], want[i])
		}
	}
	if player.volume != 0.5 {
		t.Fatalf("volume = %v, want 0.5", player.volume)
	}
}

func TestSequencerVerbosityFiltering(t *testing.T) {
	events := map[string]string{
		"start":             "start.mp3",
		"connected":         "connected.mp3",
		"connecting":        "connecting.mp3",
		"flashing_progress": "progress.mp3",
	}

	tests := []struct {
		verbosity string
		event     string
		plays     bool
	}{
		{audio.VerbosityMinimal, audio.EventStart, true},
		{audio.VerbosityMinimal, audio.EventConnected, false},
		{audio.VerbosityMinimal, audio.EventConnecting, false},
		{audio.VerbosityNormal, audio.EventConnected, true},
		{audio.VerbosityNormal, audio.EventConnecting, false},
		{audio.VerbosityNormal, audio.ProgressEvent(50), false},
		{audio.VerbosityVerbose, audio.EventConnecting, true},
		{audio.VerbosityVerbose, audio.ProgressEvent(50), true},
	}

	for _, tt := range tests {
		player := &recordingPlayer{}
		seq := newSequencer(t, player, tt.verbosity, events)
		seq.Cue(tt.event)
		seq.Close()
		if played := len(player.files()) > 0; played != tt.plays {
			t.Errorf("verbosity %s, event %s: played=%v, want %v", tt.verbosity, tt.event, played, tt.plays)
		}
	}
}

func TestSequencerErrorCueBypassesVerbosity(t *testing.T) {
	player := &recordingPlayer{}
	events := map[string]string{
		"error":                    "error.mp3",
		"error_connection_timeout": "timeout.mp3",
	}
	seq := newSequencer(t, player, audio.VerbosityMinimal, events)

	seq.Cue(audio.ErrorEvent("connection_timeout"))
	// No dedicated sound for this category: falls back to the generic error cue.
	seq.Cue(audio.ErrorEvent("port_busy"))
	seq.Close()

	got := player.files()
	if len(got) != 2 || got[0] != "timeout.mp3" || got[1] != "error.mp3" {
		t.Fatalf("played %v, want [timeout.mp3 error.mp3]", got)
	}
}

func TestSequencerMilestoneCueFallsBackToBaseSound(t *testing.T) {
	player := &recordingPlayer{}
	events := map[string]string{
		"flashing_progress":    "progress.mp3",
		"flashing_progress_50": "halfway.mp3",
	}
	seq := newSequencer(t, player, audio.VerbosityVerbose, events)

	seq.Cue(audio.ProgressEvent(50))
	// No dedicated sound for 25: falls back to the base progress cue.
	seq.Cue(audio.ProgressEvent(25))
	seq.Close()

	got := player.files()
	if len(got) != 2 || got[0] != "halfway.mp3" || got[1] != "progress.mp3" {
		t.Fatalf("played %v, want [halfway.mp3 progress.mp3]", got)
	}
}

func TestSequencerSkipsUnconfiguredEvents(t *testing.T) {
	player := &recordingPlayer{}
	seq := newSequencer(t, player, audio.VerbosityVerbose, map[string]string{})
	seq.Cue(audio.EventStart)
	seq.Cue(audio.EventConnected)
	seq.Close()
	if got := player.files(); len(got) != 0 {
		t.Fatalf("expected no playback, got %v", got)
	}
}

func TestSequencerLocalizesPaths(t *testing.T) {
	player := &recordingPlayer{}
	seq := audio.NewSequencer(audio.Options{
		Player:    player,
		Events:    map[string]string{"start": "sounds/[lang]/start.mp3"},
		Verbosity: audio.VerbosityMinimal,
		Localize: func(path string) string {
			return "sounds/de/start.mp3"
		},
	})
	seq.Cue(audio.EventStart)
	seq.Close()
	got := player.files()
	if len(got) != 1 || got[0] != "sounds/de/start.mp3" {
		t.Fatalf("played %v, want localized path", got)
	}
}
