package config

import (
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"
)

// ModelSpec declares one model the gateway is willing to serve. The manifest
// is the closed set of known model identifiers; predictions and registrations
// for names outside it are rejected.
type ModelSpec struct {
	Name                string  `yaml:"name"`
	Features            int     `yaml:"features"`
	ConfidenceThreshold float64 `yaml:"confidence_threshold"`
}

// Manifest is the parsed models.yaml.
type Manifest struct {
	Models []ModelSpec `yaml:"models"`

	byName map[string]ModelSpec
}

// LoadManifest reads and validates a model manifest. Entries without a
// confidence threshold inherit defaultThreshold.
func LoadManifest(path string, defaultThreshold float64) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read model manifest: %w", err)
	}

	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to parse model manifest %s: %w", path, err)
	}
	if len(m.Models) == 0 {
		return nil, fmt.Errorf("model manifest %s declares no models", path)
	}

	m.byName = make(map[string]ModelSpec, len(m.Models))
	for i, spec := range m.Models {
		if spec.Name == "" {
			return nil, fmt.Errorf("model manifest %s: entry %d has no name", path, i)
		}
		if spec.Features <= 0 {
			return nil, fmt.Errorf("model manifest %s: model %q has invalid feature count %d", path, spec.Name, spec.Features)
		}
		if _, dup := m.byName[spec.Name]; dup {
			return nil, fmt.Errorf("model manifest %s: duplicate model %q", path, spec.Name)
		}
		if spec.ConfidenceThreshold <= 0 {
			spec.ConfidenceThreshold = defaultThreshold
			m.Models[i] = spec
		}
		m.byName[spec.Name] = spec
	}

	return &m, nil
}

// Spec returns the manifest entry for a model name.
func (m *Manifest) Spec(name string) (ModelSpec, bool) {
	spec, ok := m.byName[name]
	return spec, ok
}

// Known reports whether name belongs to the manifest's closed set.
func (m *Manifest) Known(name string) bool {
	_, ok := m.byName[name]
	return ok
}

// Names returns the declared model names in sorted order.
func (m *Manifest) Names() []string {
	names := make([]string, 0, len(m.byName))
	for name := range m.byName {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Thresholds returns the per-model confidence thresholds.
func (m *Manifest) Thresholds() map[string]float64 {
	thresholds := make(map[string]float64, len(m.byName))
	for name, spec := range m.byName {
		thresholds[name] = spec.ConfidenceThreshold
	}
	return thresholds
}
