package models

import "fmt"

// ModelKind tells which generation pipeline serves a model.
type ModelKind string

const (
	// KindText models answer with an incremental text stream.
	KindText ModelKind = "text"
	// KindImage models answer with a single generated image.
	KindImage ModelKind = "image"
)

// Model is a selectable entry of the model picker. The selection is captured once per request.
type Model struct {
	Name  string    `yaml:"name"`
	Label string    `yaml:"label"`
	Kind  ModelKind `yaml:"kind"`
}

// Models is an ordered model catalog. The first entry is the default selection.
type Models []Model

// DefaultModels returns the built-in catalog, with Gemini 2.5 Flash as the default.
func DefaultModels() Models {
	return Models{
		{Name: "gemini-2.5-flash", Label: "Gemini 2.5 Flash", Kind: KindText},
		{Name: "gemini-2.5-pro", Label: "Gemini 2.5 Pro", Kind: KindText},
		{Name: "gemini-2.5-flash-image", Label: "Gemini 2.5 Flash Image", Kind: KindImage},
	}
}

// IsImage reports whether the model is served by the image pipeline.
func (m Model) IsImage() bool {
	return m.Kind == KindImage
}

// Default returns the first model of the catalog.
func (ms Models) Default() Model {
	if len(ms) == 0 {
		return Model{}
	}
	return ms[0]
}

// Find returns the model with the given name. An empty name resolves to the default model.
func (ms Models) Find(name string) (Model, error) {
	if name == "" {
		return ms.Default(), nil
	}
	for _, m := range ms {
		if m.Name == name {
			return m, nil
		}
	}
	return Model{}, fmt.Errorf("unknown model: %s", name)
}

// Validate checks that every entry has a name and a known kind.
func (ms Models) Validate() error {
	if len(ms) == 0 {
		return fmt.Errorf("at least one model is required")
	}
	seen := make(map[string]struct{}, len(ms))
	for _, m := range ms {
		if m.Name == "" {
			return fmt.Errorf("model name is required")
		}
		if m.Kind != KindText && m.Kind != KindImage {
			return fmt.Errorf("model %s has unknown kind %q", m.Name, m.Kind)
		}
		if _, ok := seen[m.Name]; ok {
			return fmt.Errorf("duplicate model: %s", m.Name)
		}
		seen[m.Name] = struct{}{}
	}
	return nil
}
