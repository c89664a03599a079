package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/chainguard-dev/clog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/signalnine/arbiter/internal/errdefs"
	"github.com/signalnine/arbiter/internal/evaluation"
	"github.com/signalnine/arbiter/internal/judge"
	"github.com/signalnine/arbiter/internal/metrics"
	"github.com/signalnine/arbiter/internal/scoring"
	"github.com/signalnine/arbiter/internal/task"
)

var errNoJudge = errors.New("judge not configured")

// score is the scoring pass. It runs once per evaluation, after the
// collecting -> scoring transition. If the evaluation is cancelled or
// times out meanwhile, everything it computed is dropped.
func (o *Orchestrator) score(ent *entry) error {
	ctx, span := tracer.Start(ent.ctx, "orchestrator.score")
	defer span.End()
	e := ent.eval
	t := e.Task()
	results := e.Results()
	span.SetAttributes(
		attribute.String("evaluation.id", e.ID()),
		attribute.String("task.id", t.ID),
		attribute.Int("agents", len(results)),
	)
	start := time.Now()
	defer func() { metrics.ScoringDuration.Observe(time.Since(start).Seconds()) }()

	breakdowns := make([]*scoring.Breakdown, len(results))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.cfg.ScoringWorkers)
	for i, r := range results {
		g.Go(func() error {
			b, err := o.scoreAgent(gctx, t, r)
			if err != nil {
				return err
			}
			breakdowns[i] = b
			return nil
		})
	}
	err := g.Wait()

	if ctx.Err() != nil {
		// Cancelled, timed out or shutting down: the results are discarded.
		o.fail(ent, evaluation.ReasonCancelled, "", "scoring interrupted")
		return ctx.Err()
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "fatal scoring error")
		o.fail(ent, evaluation.ReasonFatalScoring, errdefs.FatalAgent(err), err.Error())
		return err
	}

	byAgent := make(map[string]*scoring.Breakdown, len(results))
	for i, r := range results {
		byAgent[r.Agent] = breakdowns[i]
	}
	if err := e.Complete(byAgent, o.now()); err != nil {
		if st, _ := e.Status(); st.Terminal() {
			return nil
		}
		o.fail(ent, evaluation.ReasonFatalScoring, errdefs.FatalAgent(err), err.Error())
		return err
	}
	o.finish(ent)
	return nil
}

// scoreAgent runs the analyzer, then the judge, and aggregates. Only
// FatalScoringErrors and context errors are returned; judge failures
// degrade to zero judged contributions.
func (o *Orchestrator) scoreAgent(ctx context.Context, t *task.Task, r evaluation.AgentResult) (*scoring.Breakdown, error) {
	ctx, span := tracer.Start(ctx, "orchestrator.scoreAgent", trace.WithAttributes(attribute.String("agent", r.Agent)))
	defer span.End()
	log := clog.FromContext(ctx).With("agent", r.Agent)

	start := time.Now()
	analysis, err := o.analyzer.Analyze(t.Baseline, r.Artifacts, t.Categories)
	metrics.AnalyzerDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		return nil, errdefs.Fatal(r.Agent, fmt.Errorf("analyzer: %w", err))
	}

	var (
		verdict  *judge.Verdict
		judgeErr error
	)
	if judged := t.Judged(); len(judged) > 0 {
		if o.judge == nil {
			judgeErr = errNoJudge
		} else {
			verdict, judgeErr = o.judge.Judge(ctx, judgeRequest(t, r, judged))
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if judgeErr != nil {
			verdict = nil
			span.AddEvent("judge unavailable", trace.WithAttributes(attribute.String("error", judgeErr.Error())))
			metrics.JudgeUnavailable.Inc()
			log.With("error", judgeErr.Error()).Warn("judge unavailable; judged categories score 0")
		}
	}

	b, err := scoring.Aggregate(t.Categories, analysis, verdict, judgeErr)
	if err != nil {
		return nil, errdefs.Fatal(r.Agent, err)
	}
	log.With("total", scoring.Round1(b.Total)).With("percentage", scoring.Round1(b.Percentage())).Info("agent scored")
	return b, nil
}

func judgeRequest(t *task.Task, r evaluation.AgentResult, judged []task.Category) *judge.Request {
	p, _ := t.Participant(r.Agent)
	specs := make([]judge.CategorySpec, len(judged))
	for i, c := range judged {
		specs[i] = judge.CategorySpec{ID: c.ID, MaxPoints: c.JudgePoints(), Description: c.Description}
	}
	return &judge.Request{
		TaskName:        t.Name,
		TaskDescription: t.Description,
		RubricPrompt:    t.RubricPrompt,
		AgentID:         r.Agent,
		AgentPrompt:     p.Prompt,
		Categories:      specs,
		Baseline:        t.Baseline,
		Submitted:       r.Artifacts,
		Model:           t.JudgeModel,
	}
}
