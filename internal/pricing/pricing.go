// Package pricing estimates what a judge call cost from its token usage.
package pricing

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Rate is the price per 1K tokens of one model.
type Rate struct {
	Input  float64 `yaml:"input"`
	Output float64 `yaml:"output"`
}

// Table maps provider -> model -> rate. The zero value prices everything at 0.
type Table struct {
	Providers map[string]map[string]Rate
}

func Load(path string) (*Table, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading pricing file: %w", err)
	}
	var providers map[string]map[string]Rate
	if err := yaml.Unmarshal(data, &providers); err != nil {
		return nil, fmt.Errorf("parsing pricing file: %w", err)
	}
	return &Table{Providers: providers}, nil
}

// SplitModel splits a routed model id such as "anthropic/claude-3.5-sonnet"
// into provider and model. Ids without a slash have an empty provider.
func SplitModel(id string) (provider, model string) {
	provider, model, ok := strings.Cut(id, "/")
	if !ok {
		return "", id
	}
	return provider, model
}

// Rate looks up the rate for a routed model id. A bare model name is
// searched across all providers.
func (t *Table) Rate(modelID string) (Rate, bool) {
	if t == nil || t.Providers == nil {
		return Rate{}, false
	}
	provider, model := SplitModel(modelID)
	if provider != "" {
		r, ok := t.Providers[provider][model]
		return r, ok
	}
	for _, models := range t.Providers {
		if r, ok := models[model]; ok {
			return r, true
		}
	}
	return Rate{}, false
}

// Cost returns the estimated USD cost of a call. Unknown models cost 0.
func (t *Table) Cost(modelID string, inputTokens, outputTokens int) float64 {
	r, ok := t.Rate(modelID)
	if !ok {
		return 0
	}
	return (float64(inputTokens)/1000.0)*r.Input + (float64(outputTokens)/1000.0)*r.Output
}
