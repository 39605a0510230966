// Package config loads khoregos's project-level settings file and builds
// the redacted config snapshot captured on a Session at creation time.
// Grounded on the teacher's settings.EntireSettings load/merge/save
// pipeline, generalized from editor-integration settings to khoregos's
// boundary/webhook/plugin/telemetry configuration.
package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/khoregos/khoregos/internal/boundary"
	"github.com/khoregos/khoregos/internal/webhook"
)

// SettingsFile is the project-relative settings path.
const SettingsFile = ".khoregos/settings.json"

// LocalSettingsFile overrides SettingsFile and is not meant to be
// committed.
const LocalSettingsFile = ".khoregos/settings.local.json"

// Settings is the on-disk project configuration.
type Settings struct {
	Enabled   bool                `json:"enabled"`
	LogLevel  string              `json:"log_level,omitempty"`
	Telemetry *bool               `json:"telemetry,omitempty"`
	Boundaries []BoundarySettings `json:"boundaries,omitempty"`
	Webhooks  []webhook.Target    `json:"webhooks,omitempty"`
	Plugins   []PluginSettings    `json:"plugins,omitempty"`
}

// BoundarySettings is the JSON-serializable form of a boundary.Boundary.
type BoundarySettings struct {
	Pattern                string   `json:"pattern"`
	AllowedPaths           []string `json:"allowed_paths,omitempty"`
	ForbiddenPaths         []string `json:"forbidden_paths,omitempty"`
	Enforcement            string   `json:"enforcement"`
	MaxToolCallsPerSession int      `json:"max_tool_calls_per_session,omitempty"`
}

// ToBoundary converts a BoundarySettings into the boundary package's
// runtime type.
func (b BoundarySettings) ToBoundary() boundary.Boundary {
	return boundary.Boundary{
		Pattern:                b.Pattern,
		AllowedPaths:           b.AllowedPaths,
		ForbiddenPaths:         b.ForbiddenPaths,
		Enforcement:            boundary.Enforcement(b.Enforcement),
		MaxToolCallsPerSession: b.MaxToolCallsPerSession,
	}
}

// PluginSettings is the JSON-serializable form of a plugin.Spec.
type PluginSettings struct {
	Module string         `json:"module"`
	Config map[string]any `json:"config,omitempty"`
}

func absPath(projectRoot, rel string) string {
	return filepath.Join(projectRoot, rel)
}

// Load reads Settings from projectRoot's settings file, applying the
// local override file if present. Returns defaults (Enabled: true) if
// neither file exists.
func Load(projectRoot string) (*Settings, error) {
	settings, err := loadFromFile(absPath(projectRoot, SettingsFile))
	if err != nil {
		return nil, fmt.Errorf("config: load settings: %w", err)
	}

	localData, err := os.ReadFile(absPath(projectRoot, LocalSettingsFile))
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("config: load local settings: %w", err)
		}
		return settings, nil
	}
	if err := mergeJSON(settings, localData); err != nil {
		return nil, fmt.Errorf("config: merge local settings: %w", err)
	}
	return settings, nil
}

func loadFromFile(path string) (*Settings, error) {
	settings := &Settings{Enabled: true}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return settings, nil
		}
		return nil, err
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(settings); err != nil {
		return nil, fmt.Errorf("parsing settings file: %w", err)
	}
	return settings, nil
}

// mergeJSON overlays only the fields present in data onto settings.
func mergeJSON(settings *Settings, data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("parsing JSON: %w", err)
	}

	if v, ok := raw["enabled"]; ok {
		if err := json.Unmarshal(v, &settings.Enabled); err != nil {
			return err
		}
	}
	if v, ok := raw["log_level"]; ok {
		if err := json.Unmarshal(v, &settings.LogLevel); err != nil {
			return err
		}
	}
	if v, ok := raw["telemetry"]; ok {
		var t bool
		if err := json.Unmarshal(v, &t); err != nil {
			return err
		}
		settings.Telemetry = &t
	}
	if v, ok := raw["boundaries"]; ok {
		if err := json.Unmarshal(v, &settings.Boundaries); err != nil {
			return err
		}
	}
	if v, ok := raw["webhooks"]; ok {
		if err := json.Unmarshal(v, &settings.Webhooks); err != nil {
			return err
		}
	}
	if v, ok := raw["plugins"]; ok {
		if err := json.Unmarshal(v, &settings.Plugins); err != nil {
			return err
		}
	}
	return nil
}

// Save writes settings to projectRoot's settings file.
func Save(projectRoot string, settings *Settings) error {
	return saveToFile(absPath(projectRoot, SettingsFile), settings)
}

func saveToFile(path string, settings *Settings) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("config: create settings dir: %w", err)
	}
	data, err := json.MarshalIndent(settings, "", "  ")
	if err != nil {
		return fmt.Errorf("config: marshal settings: %w", err)
	}
	data = append(data, '\n')
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("config: write settings file: %w", err)
	}
	return nil
}

// IsSetUp reports whether projectRoot has a settings file.
func IsSetUp(projectRoot string) bool {
	_, err := os.Stat(absPath(projectRoot, SettingsFile))
	return err == nil
}

// Redacted returns settings marshaled to a map with every webhook secret
// replaced by a fixed placeholder, suitable for Session.ConfigSnapshot
// (spec.md §3: "serialized config with webhook secrets redacted").
func Redacted(settings *Settings) (map[string]any, error) {
	clone := *settings
	clone.Webhooks = make([]webhook.Target, len(settings.Webhooks))
	for i, t := range settings.Webhooks {
		clone.Webhooks[i] = t
		if clone.Webhooks[i].Secret != "" {
			clone.Webhooks[i].Secret = "[redacted]"
		}
	}

	data, err := json.Marshal(clone)
	if err != nil {
		return nil, fmt.Errorf("config: marshal redacted snapshot: %w", err)
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("config: decode redacted snapshot: %w", err)
	}
	return m, nil
}
