package pluginmodule

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/load"
)

// ManifestFileName is the manifest every plugin directory must carry.
const ManifestFileName = "plugin.cue"

// Manifest describes one agent plugin as declared in its plugin.cue.
// Binary names the executable inside the plugin directory; when empty
// it defaults to the plugin ID.
type Manifest struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Version     string   `json:"version"`
	Description string   `json:"description,omitempty"`
	Author      string   `json:"author,omitempty"`
	Type        string   `json:"type"`
	Category    string   `json:"category,omitempty"` // remote or fallback
	Priority    int      `json:"priority,omitempty"`
	Kinds       []string `json:"kinds,omitempty"` // empty means every kind
	Languages   []string `json:"languages,omitempty"`
	Binary      string   `json:"binary,omitempty"`

	// Settings holds the default value of every field under
	// #Plugin.settings, stringified. They are handed to the agent on
	// each enrich call.
	Settings map[string]string `json:"settings,omitempty"`
}

// BinaryName returns the executable file name for the plugin.
func (m *Manifest) BinaryName() string {
	if m.Binary != "" {
		return m.Binary
	}
	return m.ID
}

// Validate checks the fields the host cannot work without.
func (m *Manifest) Validate() error {
	if m.ID == "" {
		return fmt.Errorf("manifest missing id")
	}
	if m.Name == "" {
		return fmt.Errorf("manifest %s missing name", m.ID)
	}
	if m.Version == "" {
		return fmt.Errorf("manifest %s missing version", m.ID)
	}
	if m.Type != PluginTypeMetadataAgent {
		return fmt.Errorf("manifest %s has unsupported type %q", m.ID, m.Type)
	}
	switch m.Category {
	case "", CategoryRemote, CategoryFallback:
	default:
		return fmt.Errorf("manifest %s has unknown category %q", m.ID, m.Category)
	}
	return nil
}

// PluginTypeMetadataAgent is the only plugin type the host loads today.
const PluginTypeMetadataAgent = "metadata_agent"

// Agent trust tiers a manifest may declare.
const (
	CategoryRemote   = "remote"
	CategoryFallback = "fallback"
)

// ManifestParser loads plugin.cue files. CUE keeps manifests declarative
// while still allowing defaults and constraints on the settings block.
type ManifestParser struct {
	ctx *cue.Context
}

func NewManifestParser() *ManifestParser {
	return &ManifestParser{ctx: cuecontext.New()}
}

// ParseDir reads and validates the manifest inside a plugin directory.
func (p *ManifestParser) ParseDir(pluginDir string) (*Manifest, error) {
	cueFile := filepath.Join(pluginDir, ManifestFileName)
	if _, err := os.Stat(cueFile); err != nil {
		return nil, fmt.Errorf("plugin manifest: %w", err)
	}

	instances := load.Instances([]string{cueFile}, nil)
	if len(instances) == 0 {
		return nil, fmt.Errorf("no CUE instances in %s", cueFile)
	}
	if instances[0].Err != nil {
		return nil, fmt.Errorf("load %s: %w", cueFile, instances[0].Err)
	}

	value := p.ctx.BuildInstance(instances[0])
	if value.Err() != nil {
		return nil, fmt.Errorf("build %s: %w", cueFile, value.Err())
	}

	pluginDef := value.LookupPath(cue.ParsePath("#Plugin"))
	if !pluginDef.Exists() {
		return nil, fmt.Errorf("%s: #Plugin definition not found", cueFile)
	}

	// The settings block may hold open fields with no concrete value, so
	// it decodes separately; only its defaults are kept.
	manifest := &Manifest{}
	if err := decodeFields(pluginDef, map[string]interface{}{
		"id":          &manifest.ID,
		"name":        &manifest.Name,
		"version":     &manifest.Version,
		"description": &manifest.Description,
		"author":      &manifest.Author,
		"type":        &manifest.Type,
		"category":    &manifest.Category,
		"priority":    &manifest.Priority,
		"kinds":       &manifest.Kinds,
		"languages":   &manifest.Languages,
		"binary":      &manifest.Binary,
	}); err != nil {
		return nil, fmt.Errorf("decode %s: %w", cueFile, err)
	}

	if settings := pluginDef.LookupPath(cue.ParsePath("settings")); settings.Exists() {
		defaults, err := settingsDefaults(settings)
		if err != nil {
			return nil, fmt.Errorf("%s settings: %w", cueFile, err)
		}
		manifest.Settings = defaults
	}

	if err := manifest.Validate(); err != nil {
		return nil, err
	}
	return manifest, nil
}

// decodeFields decodes each named field of a struct value into its
// destination, skipping fields the manifest does not declare.
func decodeFields(value cue.Value, dsts map[string]interface{}) error {
	for name, dst := range dsts {
		field := value.LookupPath(cue.ParsePath(name))
		if !field.Exists() {
			continue
		}
		if err := field.Decode(dst); err != nil {
			return fmt.Errorf("field %s: %w", name, err)
		}
	}
	return nil
}

// settingsDefaults flattens the settings block into string defaults.
// Fields without a concrete value or marked default are skipped; the
// agent falls back to its own defaults for those.
func settingsDefaults(value cue.Value) (map[string]string, error) {
	iter, err := value.Fields()
	if err != nil {
		return nil, err
	}
	out := make(map[string]string)
	for iter.Next() {
		if s, ok := defaultString(iter.Value()); ok {
			out[iter.Label()] = s
		}
	}
	if len(out) == 0 {
		return nil, nil
	}
	return out, nil
}

func defaultString(value cue.Value) (string, bool) {
	v := value
	if !v.IsConcrete() {
		def, ok := v.Default()
		if !ok || !def.IsConcrete() {
			return "", false
		}
		v = def
	}
	switch v.Kind() {
	case cue.StringKind:
		s, err := v.String()
		if err != nil {
			return "", false
		}
		return s, true
	case cue.BoolKind:
		b, err := v.Bool()
		if err != nil {
			return "", false
		}
		return strconv.FormatBool(b), true
	case cue.IntKind:
		i, err := v.Int64()
		if err != nil {
			return "", false
		}
		return strconv.FormatInt(i, 10), true
	case cue.FloatKind, cue.NumberKind:
		f, err := v.Float64()
		if err != nil {
			return "", false
		}
		return strconv.FormatFloat(f, 'g', -1, 64), true
	default:
		return "", false
	}
}
