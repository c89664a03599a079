package config_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/signalnine/arbiter/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMinimal(t *testing.T) {
	t.Setenv("OPENROUTER_API_KEY", "")
	cfg, err := config.Load(context.Background(), "../../testdata/minimal.yaml")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if len(cfg.Tasks) != 1 {
		t.Errorf("expected 1 task, got %d", len(cfg.Tasks))
	}
	if cfg.Tasks[0].Name != "hello" {
		t.Errorf("expected name to default to id, got %q", cfg.Tasks[0].Name)
	}
	if cfg.Engine.MaxConcurrentEvaluations != config.DefaultMaxConcurrent {
		t.Errorf("expected default max concurrent, got %d", cfg.Engine.MaxConcurrentEvaluations)
	}
	if cfg.Engine.Deadline != time.Hour {
		t.Errorf("expected 1h deadline, got %s", cfg.Engine.Deadline)
	}
	if cfg.Judge.Retries() != 2 {
		t.Errorf("expected 2 retries, got %d", cfg.Judge.Retries())
	}
	if cfg.Tasks[0].Categories[0].Scorer != config.ScorerRule {
		t.Errorf("expected rule scorer default, got %q", cfg.Tasks[0].Categories[0].Scorer)
	}
	if cfg.Results.Backend != "file" {
		t.Errorf("expected file backend, got %q", cfg.Results.Backend)
	}
}

func TestLoadFull(t *testing.T) {
	t.Setenv("TEST_OPENROUTER_KEY", "")
	cfg, err := config.Load(context.Background(), "../../testdata/full.yaml")
	require.NoError(t, err)

	assert.Equal(t, 3, cfg.Engine.MaxConcurrentEvaluations)
	assert.Equal(t, 30*time.Minute, cfg.Engine.Deadline)
	assert.Equal(t, 1, cfg.Judge.Retries())
	assert.Equal(t, 90*time.Second, cfg.Judge.Timeout)
	assert.Equal(t, "badger", cfg.Results.Backend)
	assert.Equal(t, "sk-or-test", cfg.Judge.APIKey, "key should come from the secrets file")
	assert.Equal(t, filepath.Join("..", "..", "testdata", "pricing.yaml"), cfg.Judge.PricingFile)

	require.Len(t, cfg.Tasks, 2)
	css := cfg.Tasks[0]
	var weights float64
	for _, c := range css.Categories {
		weights += c.Weight
	}
	assert.Equal(t, 100.0, weights)
	retention := css.Categories[4]
	assert.Equal(t, config.ScorerHybrid, retention.Scorer)
	assert.InDelta(t, 5.0, retention.RulePoints(), 1e-9)
	assert.InDelta(t, 5.0, retention.JudgePoints(), 1e-9)
	assert.Equal(t, filepath.Join("..", "..", "testdata", "tasks", "css-consolidation", "baseline"), css.Baseline.Dir)

	review := cfg.Tasks[1]
	assert.True(t, review.Categories[0].Judged())
	assert.False(t, review.Categories[1].Judged())
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("ARBITER_JUDGE_API_KEY", "from-env")
	t.Setenv("ARBITER_MAX_CONCURRENT_EVALUATIONS", "9")
	t.Setenv("ARBITER_EVALUATION_DEADLINE", "2m")
	cfg, err := config.Load(context.Background(), "../../testdata/full.yaml")
	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.Judge.APIKey)
	assert.Equal(t, 9, cfg.Engine.MaxConcurrentEvaluations)
	assert.Equal(t, 2*time.Minute, cfg.Engine.Deadline)
}

func TestLoadMissing(t *testing.T) {
	_, err := config.Load(context.Background(), "nonexistent.yaml")
	if err == nil {
		t.Error("expected error for missing file")
	}
}

func TestLoadInvalid(t *testing.T) {
	_, err := config.Load(context.Background(), "../../testdata/invalid.yaml")
	if err == nil {
		t.Error("expected error for invalid YAML")
	}
}

func TestLoadRejectsBadTasks(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"negative weight", `
tasks:
  - id: t
    categories: [{id: a, weight: -5, rule: ie_hack_removal}]
    participants: [{id: x}]
`},
		{"unknown rule", `
tasks:
  - id: t
    categories: [{id: a, weight: 5, rule: vibes}]
    participants: [{id: x}]
`},
		{"unknown scorer", `
tasks:
  - id: t
    categories: [{id: a, weight: 5, scorer: oracle}]
    participants: [{id: x}]
`},
		{"duplicate category", `
tasks:
  - id: t
    categories: [{id: a, weight: 5, scorer: judge}, {id: a, weight: 5, scorer: judge}]
    participants: [{id: x}]
`},
		{"duplicate participant", `
tasks:
  - id: t
    categories: [{id: a, weight: 5, scorer: judge}]
    participants: [{id: x}, {id: x}]
`},
		{"patterns missing", `
tasks:
  - id: t
    categories: [{id: a, weight: 5, rule: required_patterns}]
    participants: [{id: x}]
`},
		{"bad pattern", `
tasks:
  - id: t
    categories: [{id: a, weight: 5, rule: forbidden_patterns, patterns: ["(unclosed"]}]
    participants: [{id: x}]
`},
		{"bad judge share", `
tasks:
  - id: t
    categories: [{id: a, weight: 5, scorer: hybrid, rule: smart_retention, judge_share: 1.5}]
    participants: [{id: x}]
`},
		{"bad backend", `
results: {backend: postgres}
tasks:
  - id: t
    categories: [{id: a, weight: 5, scorer: judge}]
    participants: [{id: x}]
`},
		{"no tasks", `engine: {max_concurrent_evaluations: 2}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "cfg.yaml")
			require.NoError(t, os.WriteFile(path, []byte(tt.yaml), 0o644))
			_, err := config.Load(context.Background(), path)
			assert.Error(t, err)
		})
	}
}

func TestParseEnvFile(t *testing.T) {
	vars, err := config.ParseEnvFile("../../testdata/secrets.env")
	require.NoError(t, err)
	assert.Equal(t, map[string]string{
		"TEST_OPENROUTER_KEY": "sk-or-test",
		"OTHER":               "value",
	}, vars)
}
