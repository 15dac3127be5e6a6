package guard

import (
	"html"
	"net/http"
	"sort"
	"strings"

	"kiln/internal/api"
	"kiln/internal/errclass"
)

const (
	maxProjectLen      = 100
	maxActionLen       = 50
	maxErrorLen        = 1000
	maxContextEntries  = 10
	maxContextKeyLen   = 50
	maxContextValueLen = 200
)

// sanitizeReport normalizes the accepted fields. Everything that reaches the
// stores passes through here.
func sanitizeReport(report api.FlashReport) (api.FlashReport, *Rejection) {
	out := api.FlashReport{Success: report.Success}

	out.Project = sanitizeProject(report.Project)
	if out.Project == "" {
		return api.FlashReport{}, &Rejection{Status: http.StatusBadRequest, Message: "Project is required"}
	}

	out.Action = truncate(strings.TrimSpace(report.Action), maxActionLen)
	if out.Action == "" {
		out.Action = "flash"
	}

	out.Error = html.EscapeString(truncate(strings.TrimSpace(report.Error), maxErrorLen))

	category := errclass.Category(strings.TrimSpace(report.Category))
	if !errclass.Valid(category) {
		category = errclass.Classify(report.Error)
	}
	if !report.Success || report.Error != "" || strings.TrimSpace(report.Category) != "" {
		out.Category = string(category)
	}

	out.Context = sanitizeContext(report.Context)
	return out, nil
}

// sanitizeProject keeps only letters, digits, spaces, dots, underscores, and
// hyphens.
func sanitizeProject(project string) string {
	var b strings.Builder
	for _, r := range strings.TrimSpace(project) {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == ' ', r == '.', r == '_', r == '-':
			b.WriteRune(r)
		}
	}
	return truncate(strings.TrimSpace(b.String()), maxProjectLen)
}

// sanitizeContext caps entry count and sizes. When a report carries more
// entries than the cap, the keys kept are chosen deterministically.
func sanitizeContext(ctx map[string]string) map[string]string {
	if len(ctx) == 0 {
		return nil
	}

	keys := make([]string, 0, len(ctx))
	for key := range ctx {
		if strings.TrimSpace(key) == "" {
			continue
		}
		keys = append(keys, key)
	}
	sort.Strings(keys)
	if len(keys) > maxContextEntries {
		keys = keys[:maxContextEntries]
	}

	out := make(map[string]string, len(keys))
	for _, key := range keys {
		cleanKey := truncate(strings.TrimSpace(key), maxContextKeyLen)
		out[cleanKey] = html.EscapeString(truncate(strings.TrimSpace(ctx[key]), maxContextValueLen))
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit])
}
