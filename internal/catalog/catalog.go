// Package catalog loads the firmware project manifest. The manifest is JSONC
// so maintainers can annotate entries with comments and trailing commas.
package catalog

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/tidwall/jsonc"
)

// Text is a language-keyed string. A bare JSON string is treated as the
// English value.
type Text map[string]string

func (t *Text) UnmarshalJSON(data []byte) error {
	var single string
	if err := json.Unmarshal(data, &single); err == nil {
		*t = Text{"en": single}
		return nil
	}
	var values map[string]string
	if err := json.Unmarshal(data, &values); err != nil {
		return fmt.Errorf("text must be a string or a language map: %w", err)
	}
	*t = Text(values)
	return nil
}

// FirmwareRef points at one firmware binary and the flash offset it belongs
// at. A bare string is shorthand for an offset-zero entry.
type FirmwareRef struct {
	Path   string
	Offset string
}

func (f *FirmwareRef) UnmarshalJSON(data []byte) error {
	var path string
	if err := json.Unmarshal(data, &path); err == nil {
		*f = FirmwareRef{Path: path, Offset: "0"}
		return nil
	}

	var raw struct {
		Path   string          `json:"path"`
		Offset json.RawMessage `json:"offset"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("firmware entry must be a string or an object: %w", err)
	}

	offset := "0"
	if len(raw.Offset) > 0 {
		var asString string
		if err := json.Unmarshal(raw.Offset, &asString); err == nil {
			offset = asString
		} else {
			var asNumber uint64
			if err := json.Unmarshal(raw.Offset, &asNumber); err != nil {
				return fmt.Errorf("firmware offset must be a string or a number: %w", err)
			}
			offset = fmt.Sprintf("%d", asNumber)
		}
	}

	*f = FirmwareRef{Path: raw.Path, Offset: offset}
	return nil
}

// firmwareList accepts either one firmware entry or an array of them.
type firmwareList []FirmwareRef

func (l *firmwareList) UnmarshalJSON(data []byte) error {
	trimmed := strings.TrimSpace(string(data))
	if strings.HasPrefix(trimmed, "[") {
		var refs []FirmwareRef
		if err := json.Unmarshal(data, &refs); err != nil {
			return err
		}
		*l = refs
		return nil
	}
	var ref FirmwareRef
	if err := json.Unmarshal(data, &ref); err != nil {
		return err
	}
	*l = firmwareList{ref}
	return nil
}

// Project is one flashable firmware project in the manifest.
type Project struct {
	ID            string       `json:"id"`
	Name          Text         `json:"name"`
	Description   Text         `json:"description"`
	Version       string       `json:"version"`
	Badge         string       `json:"badge"`
	Documentation string       `json:"documentation"`
	Chip          string       `json:"chip"`
	Enabled       *bool        `json:"enabled"`
	Firmware      firmwareList `json:"firmware"`
}

// IsEnabled reports whether the project is selectable. Projects are enabled
// unless the manifest says otherwise.
func (p *Project) IsEnabled() bool {
	return p.Enabled == nil || *p.Enabled
}

// FirmwareRefs returns the project's firmware entries in manifest order.
func (p *Project) FirmwareRefs() []FirmwareRef {
	out := make([]FirmwareRef, len(p.Firmware))
	copy(out, p.Firmware)
	return out
}

// Catalog is the parsed project manifest.
type Catalog struct {
	Projects []Project `json:"projects"`
}

// Load reads and validates a JSONC manifest from disk.
func Load(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}
	return Parse(data)
}

// Parse decodes and validates manifest bytes.
func Parse(data []byte) (*Catalog, error) {
	var cat Catalog
	if err := json.Unmarshal(jsonc.ToJSON(data), &cat); err != nil {
		return nil, fmt.Errorf("parse catalog: %w", err)
	}

	seen := make(map[string]bool, len(cat.Projects))
	for i := range cat.Projects {
		p := &cat.Projects[i]
		p.ID = strings.TrimSpace(p.ID)
		if p.ID == "" {
			return nil, fmt.Errorf("catalog project %d has no id", i)
		}
		if seen[p.ID] {
			return nil, fmt.Errorf("duplicate catalog project id %q", p.ID)
		}
		seen[p.ID] = true
		if p.IsEnabled() && len(p.Firmware) == 0 {
			return nil, fmt.Errorf("catalog project %q has no firmware entries", p.ID)
		}
	}
	return &cat, nil
}

// Project looks up a project by id.
func (c *Catalog) Project(id string) (*Project, bool) {
	for i := range c.Projects {
		if c.Projects[i].ID == id {
			return &c.Projects[i], true
		}
	}
	return nil, false
}

// EnabledProjects returns the selectable projects in manifest order.
func (c *Catalog) EnabledProjects() []Project {
	out := make([]Project, 0, len(c.Projects))
	for _, p := range c.Projects {
		if p.IsEnabled() {
			out = append(out, p)
		}
	}
	return out
}
