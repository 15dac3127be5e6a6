package i18n_test

import (
	"testing"

	"kiln/internal/i18n"
)

func TestNewMatchesRegionVariants(t *testing.T) {
	loc, err := i18n.New([]string{"en", "pt", "de"}, "pt-BR")
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	if loc.Active() != "pt" {
		t.Fatalf("expected pt-BR to resolve to pt, got %q", loc.Active())
	}
}

func TestNewFallsBackToFirstSupported(t *testing.T) {
	loc, err := i18n.New([]string{"de", "en"}, "zz-nonsense")
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	if loc.Active() != "de" {
		t.Fatalf("expected fallback to first supported language, got %q", loc.Active())
	}
}

func TestNewRejectsBadSupportedCode(t *testing.T) {
	if _, err := i18n.New([]string{"not a tag!"}, "en"); err == nil {
		t.Fatal("expected error for unparseable supported code")
	}
}

func TestPick(t *testing.T) {
	loc, err := i18n.New([]string{"en", "fr"}, "fr")
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}

	if got := loc.Pick(map[string]string{"en": "hello", "fr": "bonjour"}); got != "bonjour" {
		t.Fatalf("expected active language value, got %q", got)
	}
	if got := loc.Pick(map[string]string{"en": "hello", "de": "hallo"}); got != "hello" {
		t.Fatalf("expected english fallback, got %q", got)
	}
	if got := loc.Pick(map[string]string{"de": "hallo"}); got != "hallo" {
		t.Fatalf("expected any remaining value, got %q", got)
	}
	if got := loc.Pick(nil); got != "" {
		t.Fatalf("expected empty string for nil map, got %q", got)
	}
}

func TestExpandPath(t *testing.T) {
	loc, err := i18n.New([]string{"en", "es"}, "es")
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	got := loc.ExpandPath("sounds/[lang]/start.mp3")
	if got != "sounds/es/start.mp3" {
		t.Fatalf("ExpandPath = %q", got)
	}
	if loc.ExpandPath("sounds/plain.mp3") != "sounds/plain.mp3" {
		t.Fatal("paths without the token should pass through unchanged")
	}
}
