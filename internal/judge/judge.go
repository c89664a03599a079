// Package judge calls an OpenAI-compatible chat-completions endpoint to
// score submissions against a rubric.
//
// A judge is optional enrichment: callers treat any error from Judge as
// "judge unavailable" and carry on with rule-based scores.
package judge

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/chainguard-dev/clog"
	openai "github.com/sashabaranov/go-openai"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/signalnine/arbiter/internal/artifact"
	"github.com/signalnine/arbiter/internal/config"
	"github.com/signalnine/arbiter/internal/metrics"
	"github.com/signalnine/arbiter/internal/pricing"
	"github.com/signalnine/arbiter/internal/retry"
)

//go:generate mockgen -destination=judgemock/mock_judge.go -package=judgemock github.com/signalnine/arbiter/internal/judge Interface

// Interface scores one submission.
type Interface interface {
	Judge(ctx context.Context, req *Request) (*Verdict, error)
}

// CategorySpec is one judged category. MaxPoints is the judge's share of
// the category weight.
type CategorySpec struct {
	ID          string  `json:"id"`
	MaxPoints   float64 `json:"max_points"`
	Description string  `json:"description,omitempty"`
}

type Request struct {
	TaskName        string
	TaskDescription string
	// RubricPrompt is a text/template rendered with the Request and
	// appended to the prompt as additional guidelines.
	RubricPrompt string
	AgentID      string
	AgentPrompt  string
	Categories   []CategorySpec
	Baseline     []artifact.Artifact
	Submitted    []artifact.Artifact
	// Model overrides the configured default model.
	Model string
}

type Verdict struct {
	Narrative        string             `json:"narrative"`
	Scores           map[string]float64 `json:"scores"`
	Unscored         []string           `json:"unscored,omitempty"`
	Strengths        []string           `json:"strengths,omitempty"`
	Improvements     []string           `json:"improvements,omitempty"`
	Model            string             `json:"model"`
	PromptTokens     int                `json:"prompt_tokens"`
	CompletionTokens int                `json:"completion_tokens"`
	Cost             float64            `json:"cost"`
	Attempts         int                `json:"attempts"`
}

// ErrNoAPIKey is returned by New when no key was resolved.
var ErrNoAPIKey = errors.New("judge API key is not configured")

const systemPrompt = "You are an expert code reviewer evaluating AI agent solutions. Always respond with valid JSON."

// Client is safe for concurrent use. At most cfg.MaxConcurrency calls are
// in flight per process; further callers wait.
type Client struct {
	api      *openai.Client
	cfg      config.Judge
	policy   retry.Policy
	sem      *semaphore.Weighted
	limiter  *rate.Limiter
	pricing  *pricing.Table
	maxChars int
}

type Option func(*clientOptions)

type clientOptions struct {
	httpClient *http.Client
	pricing    *pricing.Table
}

func WithHTTPClient(c *http.Client) Option {
	return func(o *clientOptions) { o.httpClient = c }
}

func WithPricing(t *pricing.Table) Option {
	return func(o *clientOptions) { o.pricing = t }
}

func New(cfg config.Judge, opts ...Option) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, ErrNoAPIKey
	}
	o := &clientOptions{}
	for _, opt := range opts {
		opt(o)
	}
	if o.httpClient == nil {
		o.httpClient = &http.Client{}
	}
	hc := *o.httpClient
	base := hc.Transport
	if base == nil {
		base = http.DefaultTransport
	}
	hc.Transport = &titleTransport{base: base}

	oc := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		oc.BaseURL = cfg.BaseURL
	}
	oc.HTTPClient = &hc

	n := cfg.MaxConcurrency
	if n < 1 {
		n = 1
	}
	c := &Client{
		api: openai.NewClientWithConfig(oc),
		cfg: cfg,
		policy: retry.Policy{
			MaxRetries:  cfg.Retries(),
			BaseBackoff: cfg.BaseBackoff,
			MaxBackoff:  cfg.MaxBackoff,
			MaxJitter:   cfg.BaseBackoff / 2,
		},
		sem:      semaphore.NewWeighted(int64(n)),
		pricing:  o.pricing,
		maxChars: cfg.MaxArtifactChars,
	}
	if err := c.policy.Validate(); err != nil {
		return nil, fmt.Errorf("judge retry policy: %w", err)
	}
	if cfg.RequestsPerSecond > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1)
	}
	return c, nil
}

// Judge renders the prompt, calls the model with retries and parses the
// answer. Parse failures are not retried.
func (c *Client) Judge(ctx context.Context, req *Request) (*Verdict, error) {
	model := req.Model
	if model == "" {
		model = c.cfg.Model
	}
	ctx, span := otel.Tracer("arbiter/judge").Start(ctx, "judge.Judge")
	defer span.End()
	span.SetAttributes(
		attribute.String("judge.model", model),
		attribute.String("agent.id", req.AgentID),
		attribute.Int("judge.categories", len(req.Categories)),
	)
	log := clog.FromContext(ctx).With("agent", req.AgentID).With("model", model)

	if len(req.Categories) == 0 {
		return nil, fmt.Errorf("no judged categories")
	}
	prompt, err := renderPrompt(req, c.maxChars)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "prompt")
		return nil, err
	}

	start := time.Now()
	resp, attempts, err := retry.Do(ctx, c.policy, "judge "+req.AgentID, isRetryable, func(ctx context.Context) (openai.ChatCompletionResponse, error) {
		// The slot covers one attempt; backoff between attempts does not hold it.
		if err := c.sem.Acquire(ctx, 1); err != nil {
			return openai.ChatCompletionResponse{}, err
		}
		defer c.sem.Release(1)
		metrics.JudgeInflight.Inc()
		defer metrics.JudgeInflight.Dec()
		return c.call(ctx, model, prompt)
	})
	metrics.JudgeLatency.Observe(time.Since(start).Seconds())
	span.SetAttributes(attribute.Int("judge.attempts", attempts))
	if err != nil {
		metrics.JudgeRequests.WithLabelValues(outcomeOf(err)).Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, "judge call failed")
		log.With("attempts", attempts).With("error", err.Error()).Warn("judge call failed")
		return nil, err
	}
	if len(resp.Choices) == 0 {
		metrics.JudgeRequests.WithLabelValues("unparseable").Inc()
		return nil, fmt.Errorf("%w: no choices in response", ErrUnparseable)
	}

	v, err := parseVerdict(resp.Choices[0].Message.Content, req.Categories)
	if err != nil {
		metrics.JudgeRequests.WithLabelValues("unparseable").Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, "unparseable")
		log.With("error", err.Error()).Warn("judge output could not be parsed")
		return nil, err
	}
	v.Model = model
	v.Attempts = attempts
	v.PromptTokens = resp.Usage.PromptTokens
	v.CompletionTokens = resp.Usage.CompletionTokens
	v.Cost = c.pricing.Cost(model, v.PromptTokens, v.CompletionTokens)
	metrics.JudgeRequests.WithLabelValues("ok").Inc()
	log.With("attempts", attempts).With("cost", v.Cost).Info("judge verdict received")
	return v, nil
}

func (c *Client) call(ctx context.Context, model, prompt string) (openai.ChatCompletionResponse, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return openai.ChatCompletionResponse{}, err
		}
	}
	if c.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.Timeout)
		defer cancel()
	}
	resp, err := c.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
		Temperature: 0.1,
		MaxTokens:   2000,
	})
	if err != nil {
		return resp, classify(ctx, err)
	}
	return resp, nil
}

// titleTransport identifies the caller to routing services.
type titleTransport struct {
	base http.RoundTripper
}

func (t *titleTransport) RoundTrip(r *http.Request) (*http.Response, error) {
	r = r.Clone(r.Context())
	r.Header.Set("X-Title", "arbiter")
	return t.base.RoundTrip(r)
}
