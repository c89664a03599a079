package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/chainguard-dev/clog"

	"github.com/signalnine/arbiter/internal/analyzer"
	"github.com/signalnine/arbiter/internal/config"
	"github.com/signalnine/arbiter/internal/judge"
	"github.com/signalnine/arbiter/internal/orchestrator"
	"github.com/signalnine/arbiter/internal/pricing"
	"github.com/signalnine/arbiter/internal/result"
	"github.com/signalnine/arbiter/internal/task"
	"github.com/signalnine/arbiter/internal/workspace"
)

type engine struct {
	cfg   *config.Config
	store result.Store
	orch  *orchestrator.Orchestrator
}

// openEngine wires the orchestrator from the config file: task catalog,
// cached analyzer, optional judge and the result store.
func openEngine(ctx context.Context) (*engine, error) {
	cfg, err := config.Load(ctx, cfgFile)
	if err != nil {
		return nil, err
	}
	fetcher := workspace.New()
	catalog, err := task.Build(ctx, cfg.Tasks, fetcher)
	if err != nil {
		return nil, fmt.Errorf("building task catalog: %w", err)
	}
	an, err := analyzer.NewCached(analyzer.New(), analyzer.DefaultCacheSize)
	if err != nil {
		return nil, err
	}
	opts := []orchestrator.Option{orchestrator.WithFetcher(fetcher)}

	j, err := newJudge(ctx, cfg.Judge)
	switch {
	case errors.Is(err, judge.ErrNoAPIKey):
		clog.FromContext(ctx).With("env", cfg.Judge.APIKeyEnv).Warn("no judge API key; judged categories will score 0")
	case err != nil:
		return nil, err
	default:
		opts = append(opts, orchestrator.WithJudge(j))
	}

	store, err := result.Open(cfg.Results)
	if err != nil {
		return nil, err
	}
	opts = append(opts, orchestrator.WithStore(store))

	return &engine{
		cfg:   cfg,
		store: store,
		orch:  orchestrator.New(ctx, cfg.Engine, catalog, an, opts...),
	}, nil
}

func newJudge(ctx context.Context, cfg config.Judge) (*judge.Client, error) {
	var opts []judge.Option
	if cfg.PricingFile != "" {
		table, err := pricing.Load(cfg.PricingFile)
		if err != nil {
			clog.FromContext(ctx).Warnf("pricing table unavailable, judge cost will be 0: %v", err)
		} else {
			opts = append(opts, judge.WithPricing(table))
		}
	}
	return judge.New(cfg, opts...)
}

func (e *engine) Close() error {
	return errors.Join(e.orch.Close(), e.store.Close())
}

// openStore opens only the result store, for commands that read history.
func openStore(ctx context.Context) (result.Store, error) {
	cfg, err := config.Load(ctx, cfgFile)
	if err != nil {
		return nil, err
	}
	return result.Open(cfg.Results)
}
