package models

import (
	_ "embed"
	"fmt"
	"sync"

	"gopkg.in/yaml.v3"
)

// Model selects which assistant model a session sends with.
type Model string

const (
	ModelOpus     Model = "opus"
	ModelSonnet   Model = "sonnet"
	ModelSonnet1M Model = "sonnet1m"
	ModelDefault  Model = "default"
)

//go:embed models.yaml
var modelTableYAML []byte

// ModelSpec holds the static per-model configuration: display context limit
// and USD pricing per million tokens.
type ModelSpec struct {
	ContextLimit       int64   `yaml:"context_limit"`
	InputPricePerMTok  float64 `yaml:"input_price_per_mtok"`
	OutputPricePerMTok float64 `yaml:"output_price_per_mtok"`
}

type modelTable struct {
	Models map[Model]ModelSpec `yaml:"models"`
}

var loadTable = sync.OnceValues(func() (map[Model]ModelSpec, error) {
	var t modelTable
	if err := yaml.Unmarshal(modelTableYAML, &t); err != nil {
		return nil, fmt.Errorf("parse model table: %w", err)
	}
	return t.Models, nil
})

// ValidModel reports whether m is one of the supported model selections.
func ValidModel(m Model) bool {
	table, err := loadTable()
	if err != nil {
		return false
	}
	_, ok := table[m]
	return ok
}

// ContextLimit returns the display context window size for the model, in
// tokens. Unknown models fall back to the default entry.
func ContextLimit(m Model) int64 {
	return spec(m).ContextLimit
}

// Cost computes the USD cost of a usage sample under the model's pricing.
// Cache tokens are billed at the input rate.
func Cost(m Model, u TokenUsage) float64 {
	s := spec(m)
	in := float64(u.InputTokens+u.CacheCreationTokens+u.CacheReadTokens) * s.InputPricePerMTok
	out := float64(u.OutputTokens) * s.OutputPricePerMTok
	return (in + out) / 1_000_000
}

func spec(m Model) ModelSpec {
	table, err := loadTable()
	if err != nil {
		return ModelSpec{ContextLimit: 200_000}
	}
	if s, ok := table[m]; ok {
		return s
	}
	return table[ModelDefault]
}
