package config

import (
	"context"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/sethvargo/go-envconfig"
	"gopkg.in/yaml.v3"

	"github.com/signalnine/arbiter/internal/artifact"
)

type Config struct {
	Engine  Engine  `yaml:"engine"`
	Judge   Judge   `yaml:"judge"`
	Results Results `yaml:"results"`
	Secrets Secrets `yaml:"secrets"`
	Tasks   []Task  `yaml:"tasks"`
}

// Engine holds the orchestrator limits. They are static for the life of
// the process.
type Engine struct {
	MaxConcurrentEvaluations int           `yaml:"max_concurrent_evaluations" validate:"gte=1"`
	Deadline                 time.Duration `yaml:"deadline" validate:"gt=0"`
	ScoringWorkers           int           `yaml:"scoring_workers" validate:"gte=1"`
}

type Judge struct {
	BaseURL           string        `yaml:"base_url" validate:"omitempty,url"`
	Model             string        `yaml:"model" validate:"required"`
	APIKeyEnv         string        `yaml:"api_key_env"`
	MaxRetries        *int          `yaml:"max_retries" validate:"omitempty,gte=0,lte=10"`
	BaseBackoff       time.Duration `yaml:"base_backoff" validate:"gte=0"`
	MaxBackoff        time.Duration `yaml:"max_backoff" validate:"gte=0"`
	MaxConcurrency    int           `yaml:"max_concurrency" validate:"gte=1"`
	RequestsPerSecond float64       `yaml:"requests_per_second" validate:"gte=0"`
	Timeout           time.Duration `yaml:"timeout" validate:"gt=0"`
	PricingFile       string        `yaml:"pricing_file"`
	MaxArtifactChars  int           `yaml:"max_artifact_chars" validate:"gte=0"`

	// APIKey is resolved at load time from the environment or the secrets
	// file and is never read from YAML.
	APIKey string `yaml:"-"`
}

// Retries returns the configured retry budget (default 2).
func (j Judge) Retries() int {
	if j.MaxRetries == nil {
		return DefaultJudgeRetries
	}
	return *j.MaxRetries
}

type Results struct {
	Dir     string `yaml:"dir"`
	Backend string `yaml:"backend" validate:"oneof=file badger"`
}

type Secrets struct {
	EnvFile string `yaml:"env_file"`
}

// Task is a task definition as written in the config file or posted to
// the API.
type Task struct {
	ID           string         `yaml:"id" json:"id"`
	Name         string         `yaml:"name" json:"name,omitempty"`
	Description  string         `yaml:"description" json:"description,omitempty"`
	Baseline     Source         `yaml:"baseline" json:"baseline"`
	Categories   []Category     `yaml:"categories" json:"categories"`
	RubricPrompt string         `yaml:"rubric_prompt" json:"rubric_prompt,omitempty"`
	JudgeModel   string         `yaml:"judge_model" json:"judge_model,omitempty"`
	Participants []Participant  `yaml:"participants" json:"participants"`
	Artifacts    artifact.Rules `yaml:"artifacts" json:"artifacts"`
}

// ApplyDefaults fills the category scorer (rule) and the hybrid judge
// share.
func (t *Task) ApplyDefaults() {
	for k := range t.Categories {
		c := &t.Categories[k]
		if c.Scorer == "" {
			c.Scorer = ScorerRule
		}
		if c.Scorer == ScorerHybrid && c.JudgeShare == 0 {
			c.JudgeShare = DefaultJudgeShare
		}
	}
}

// Source references artifact text held by the workspace collaborator:
// either a local directory or a git repository at a ref.
type Source struct {
	Dir     string   `yaml:"dir" json:"dir,omitempty"`
	Repo    string   `yaml:"repo" json:"repo,omitempty"`
	Ref     string   `yaml:"ref" json:"ref,omitempty"`
	Include []string `yaml:"include" json:"include,omitempty"`
}

func (s Source) IsZero() bool { return s.Dir == "" && s.Repo == "" }

type Participant struct {
	ID     string  `yaml:"id" json:"id"`
	Prompt string  `yaml:"prompt" json:"prompt,omitempty"`
	Source *Source `yaml:"source" json:"source,omitempty"`
}

type Scorer string

const (
	ScorerRule   Scorer = "rule"
	ScorerJudge  Scorer = "judge"
	ScorerHybrid Scorer = "hybrid"
)

type RuleKind string

const (
	RulePatternConsolidation RuleKind = "pattern_consolidation"
	RuleIEHackRemoval        RuleKind = "ie_hack_removal"
	RuleFontTagModernization RuleKind = "font_tag_modernization"
	RuleStyleBlockCleanup    RuleKind = "style_block_cleanup"
	RuleSmartRetention       RuleKind = "smart_retention"
	RuleCodeOrganization     RuleKind = "code_organization"
	RuleRequiredPatterns     RuleKind = "required_patterns"
	RuleForbiddenPatterns    RuleKind = "forbidden_patterns"
)

// RuleKinds lists every rule the analyzer implements.
var RuleKinds = []RuleKind{
	RulePatternConsolidation,
	RuleIEHackRemoval,
	RuleFontTagModernization,
	RuleStyleBlockCleanup,
	RuleSmartRetention,
	RuleCodeOrganization,
	RuleRequiredPatterns,
	RuleForbiddenPatterns,
}

func (k RuleKind) Valid() bool {
	for _, r := range RuleKinds {
		if r == k {
			return true
		}
	}
	return false
}

// Category is one scoring category of a task. Weight is the maximum number
// of points the category contributes.
type Category struct {
	ID          string   `yaml:"id" json:"id"`
	Weight      float64  `yaml:"weight" json:"weight"`
	Scorer      Scorer   `yaml:"scorer" json:"scorer"`
	Rule        RuleKind `yaml:"rule" json:"rule,omitempty"`
	Artifacts   []string `yaml:"artifacts" json:"artifacts,omitempty"`
	Patterns    []string `yaml:"patterns" json:"patterns,omitempty"`
	JudgeShare  float64  `yaml:"judge_share" json:"judge_share,omitempty"`
	Description string   `yaml:"description" json:"description,omitempty"`
}

// RulePoints is the maximum contribution of the rule-based analyzer.
func (c Category) RulePoints() float64 {
	switch c.Scorer {
	case ScorerJudge:
		return 0
	case ScorerHybrid:
		return c.Weight * (1 - c.JudgeShare)
	default:
		return c.Weight
	}
}

// JudgePoints is the maximum contribution of the AI judge.
func (c Category) JudgePoints() float64 {
	switch c.Scorer {
	case ScorerJudge:
		return c.Weight
	case ScorerHybrid:
		return c.Weight * c.JudgeShare
	default:
		return 0
	}
}

func (c Category) Judged() bool { return c.JudgePoints() > 0 }

const (
	DefaultMaxConcurrent    = 5
	DefaultDeadline         = time.Hour
	DefaultScoringWorkers   = 4
	DefaultJudgeBaseURL     = "https://openrouter.ai/api/v1"
	DefaultJudgeModel       = "anthropic/claude-3.5-sonnet"
	DefaultJudgeAPIKeyEnv   = "OPENROUTER_API_KEY"
	DefaultJudgeRetries     = 2
	DefaultJudgeConcurrency = 4
	DefaultJudgeTimeout     = 120 * time.Second
	DefaultJudgeShare       = 0.3
	DefaultArtifactChars    = 3000
)

// envOverrides are applied after the YAML file so deployments can adjust
// limits without editing it.
type envOverrides struct {
	JudgeAPIKey   string        `env:"ARBITER_JUDGE_API_KEY"`
	JudgeBaseURL  string        `env:"ARBITER_JUDGE_BASE_URL"`
	JudgeModel    string        `env:"ARBITER_JUDGE_MODEL"`
	MaxConcurrent int           `env:"ARBITER_MAX_CONCURRENT_EVALUATIONS"`
	Deadline      time.Duration `env:"ARBITER_EVALUATION_DEADLINE"`
	ResultsDir    string        `env:"ARBITER_RESULTS_DIR"`
}

func Load(ctx context.Context, path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}
	var env envOverrides
	if err := envconfig.Process(ctx, &env); err != nil {
		return nil, fmt.Errorf("reading environment: %w", err)
	}
	applyOverrides(&cfg, env)
	resolvePaths(&cfg, filepath.Dir(path))
	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	if err := resolveAPIKey(&cfg, env); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return &cfg, nil
}

func applyOverrides(cfg *Config, env envOverrides) {
	if env.JudgeBaseURL != "" {
		cfg.Judge.BaseURL = env.JudgeBaseURL
	}
	if env.JudgeModel != "" {
		cfg.Judge.Model = env.JudgeModel
	}
	if env.MaxConcurrent > 0 {
		cfg.Engine.MaxConcurrentEvaluations = env.MaxConcurrent
	}
	if env.Deadline > 0 {
		cfg.Engine.Deadline = env.Deadline
	}
	if env.ResultsDir != "" {
		cfg.Results.Dir = env.ResultsDir
	}
}

// resolvePaths makes file references relative to the config file.
func resolvePaths(cfg *Config, base string) {
	abs := func(p string) string {
		if p == "" || filepath.IsAbs(p) {
			return p
		}
		return filepath.Join(base, p)
	}
	cfg.Secrets.EnvFile = abs(cfg.Secrets.EnvFile)
	cfg.Judge.PricingFile = abs(cfg.Judge.PricingFile)
	for i := range cfg.Tasks {
		t := &cfg.Tasks[i]
		t.Baseline.Dir = abs(t.Baseline.Dir)
		for k := range t.Participants {
			if src := t.Participants[k].Source; src != nil {
				src.Dir = abs(src.Dir)
			}
		}
	}
}

func resolveAPIKey(cfg *Config, env envOverrides) error {
	if env.JudgeAPIKey != "" {
		cfg.Judge.APIKey = env.JudgeAPIKey
		return nil
	}
	if cfg.Secrets.EnvFile != "" {
		secrets, err := ParseEnvFile(cfg.Secrets.EnvFile)
		if err != nil {
			return fmt.Errorf("reading secrets env file: %w", err)
		}
		if v, ok := secrets[cfg.Judge.APIKeyEnv]; ok {
			cfg.Judge.APIKey = v
			return nil
		}
	}
	cfg.Judge.APIKey = os.Getenv(cfg.Judge.APIKeyEnv)
	return nil
}

func applyDefaults(cfg *Config) {
	e := &cfg.Engine
	if e.MaxConcurrentEvaluations == 0 {
		e.MaxConcurrentEvaluations = DefaultMaxConcurrent
	}
	if e.Deadline == 0 {
		e.Deadline = DefaultDeadline
	}
	if e.ScoringWorkers == 0 {
		e.ScoringWorkers = DefaultScoringWorkers
	}
	j := &cfg.Judge
	if j.BaseURL == "" {
		j.BaseURL = DefaultJudgeBaseURL
	}
	if j.Model == "" {
		j.Model = DefaultJudgeModel
	}
	if j.APIKeyEnv == "" {
		j.APIKeyEnv = DefaultJudgeAPIKeyEnv
	}
	if j.BaseBackoff == 0 {
		j.BaseBackoff = time.Second
	}
	if j.MaxBackoff == 0 {
		j.MaxBackoff = 30 * time.Second
	}
	if j.MaxConcurrency == 0 {
		j.MaxConcurrency = DefaultJudgeConcurrency
	}
	if j.Timeout == 0 {
		j.Timeout = DefaultJudgeTimeout
	}
	if j.MaxArtifactChars == 0 {
		j.MaxArtifactChars = DefaultArtifactChars
	}
	if cfg.Results.Dir == "" {
		cfg.Results.Dir = "results"
	}
	if cfg.Results.Backend == "" {
		cfg.Results.Backend = "file"
	}
	for i := range cfg.Tasks {
		cfg.Tasks[i].ApplyDefaults()
	}
}

func validate(cfg *Config) error {
	applyDefaults(cfg)
	v := validator.New()
	if err := v.Struct(cfg.Engine); err != nil {
		return fmt.Errorf("engine: %w", err)
	}
	if err := v.Struct(cfg.Judge); err != nil {
		return fmt.Errorf("judge: %w", err)
	}
	if err := v.Struct(cfg.Results); err != nil {
		return fmt.Errorf("results: %w", err)
	}
	if len(cfg.Tasks) == 0 {
		return fmt.Errorf("no tasks defined")
	}
	ids := make(map[string]bool)
	for i := range cfg.Tasks {
		t := &cfg.Tasks[i]
		if err := ValidateTask(t); err != nil {
			return fmt.Errorf("task %d: %w", i, err)
		}
		if ids[t.ID] {
			return fmt.Errorf("task %d: duplicate id %q", i, t.ID)
		}
		ids[t.ID] = true
	}
	return nil
}

// ValidateTask checks the closed sets of categories and participants of a
// task definition: unknown scorers or rules and non-positive weights are
// rejected.
func ValidateTask(t *Task) error {
	if t.ID == "" {
		return fmt.Errorf("id is required")
	}
	if t.Name == "" {
		t.Name = t.ID
	}
	if len(t.Categories) == 0 {
		return fmt.Errorf("task %q: at least one category is required", t.ID)
	}
	seen := make(map[string]bool)
	for _, c := range t.Categories {
		if c.ID == "" {
			return fmt.Errorf("task %q: category id is required", t.ID)
		}
		if seen[c.ID] {
			return fmt.Errorf("task %q: duplicate category %q", t.ID, c.ID)
		}
		seen[c.ID] = true
		if math.IsNaN(c.Weight) || math.IsInf(c.Weight, 0) || c.Weight <= 0 {
			return fmt.Errorf("task %q: category %q: weight must be positive, got %v", t.ID, c.ID, c.Weight)
		}
		switch c.Scorer {
		case ScorerRule, ScorerHybrid:
			if !c.Rule.Valid() {
				return fmt.Errorf("task %q: category %q: unknown rule %q", t.ID, c.ID, c.Rule)
			}
			if (c.Rule == RuleRequiredPatterns || c.Rule == RuleForbiddenPatterns) && len(c.Patterns) == 0 {
				return fmt.Errorf("task %q: category %q: rule %s needs patterns", t.ID, c.ID, c.Rule)
			}
			for _, p := range c.Patterns {
				if _, err := regexp.Compile(p); err != nil {
					return fmt.Errorf("task %q: category %q: pattern %q: %w", t.ID, c.ID, p, err)
				}
			}
		case ScorerJudge:
		default:
			return fmt.Errorf("task %q: category %q: unknown scorer %q", t.ID, c.ID, c.Scorer)
		}
		if c.Scorer == ScorerHybrid && (c.JudgeShare <= 0 || c.JudgeShare >= 1) {
			return fmt.Errorf("task %q: category %q: judge_share must be in (0,1), got %v", t.ID, c.ID, c.JudgeShare)
		}
	}
	agents := make(map[string]bool)
	for _, p := range t.Participants {
		if p.ID == "" {
			return fmt.Errorf("task %q: participant id is required", t.ID)
		}
		if agents[p.ID] {
			return fmt.Errorf("task %q: duplicate participant %q", t.ID, p.ID)
		}
		agents[p.ID] = true
	}
	if len(t.Participants) == 0 {
		return fmt.Errorf("task %q: at least one participant is required", t.ID)
	}
	return nil
}
