// Package i18n selects the active UI language and localizes catalog text and
// audio cue paths. Matching is delegated to golang.org/x/text so region
// variants (e.g. "pt-BR") resolve to the closest supported language.
package i18n

import (
	"fmt"
	"strings"

	"golang.org/x/text/language"
)

// PathToken is the placeholder replaced with the active language code in
// configured audio cue paths.
const PathToken = "[lang]"

const fallback = "en"

// Localizer resolves localized values against a fixed set of supported
// language codes.
type Localizer struct {
	codes   []string
	matcher language.Matcher
	active  string
}

// New builds a localizer for the supported language codes with the given
// preferred language. Unparseable supported codes are rejected; an
// unrecognized preference falls back to the first supported language.
func New(supported []string, preferred string) (*Localizer, error) {
	if len(supported) == 0 {
		supported = []string{fallback}
	}

	codes := make([]string, 0, len(supported))
	tags := make([]language.Tag, 0, len(supported))
	for _, code := range supported {
		code = strings.ToLower(strings.TrimSpace(code))
		if code == "" {
			continue
		}
		tag, err := language.Parse(code)
		if err != nil {
			return nil, fmt.Errorf("unsupported language code %q: %w", code, err)
		}
		codes = append(codes, code)
		tags = append(tags, tag)
	}
	if len(codes) == 0 {
		codes = []string{fallback}
		tags = []language.Tag{language.English}
	}

	l := &Localizer{
		codes:   codes,
		matcher: language.NewMatcher(tags),
	}
	l.active = l.match(preferred)
	return l, nil
}

func (l *Localizer) match(preferred string) string {
	preferred = strings.TrimSpace(preferred)
	if preferred == "" {
		return l.codes[0]
	}
	tag, err := language.Parse(preferred)
	if err != nil {
		return l.codes[0]
	}
	_, index, confidence := l.matcher.Match(tag)
	if confidence == language.No {
		return l.codes[0]
	}
	return l.codes[index]
}

// Active returns the resolved active language code.
func (l *Localizer) Active() string {
	return l.active
}

// Supported returns the supported language codes in configured order.
func (l *Localizer) Supported() []string {
	out := make([]string, len(l.codes))
	copy(out, l.codes)
	return out
}

// Pick selects the best value from a language-keyed map: the active language
// first, then English, then any remaining entry. Returns "" for empty maps.
func (l *Localizer) Pick(values map[string]string) string {
	if len(values) == 0 {
		return ""
	}
	if v, ok := values[l.active]; ok && v != "" {
		return v
	}
	if v, ok := values[fallback]; ok && v != "" {
		return v
	}
	for _, code := range l.codes {
		if v, ok := values[code]; ok && v != "" {
			return v
		}
	}
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// ExpandPath substitutes the [lang] token in a sound path with the active
// language code.
func (l *Localizer) ExpandPath(path string) string {
	return strings.ReplaceAll(path, PathToken, l.active)
}
