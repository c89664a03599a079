// Package orchestrator owns every live evaluation: it admits them under the
// concurrency limit, routes submissions to their state machines, runs the
// scoring passes and persists each transition.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/chainguard-dev/clog"
	"go.opentelemetry.io/otel"

	"github.com/signalnine/arbiter/internal/analyzer"
	"github.com/signalnine/arbiter/internal/artifact"
	"github.com/signalnine/arbiter/internal/config"
	"github.com/signalnine/arbiter/internal/errdefs"
	"github.com/signalnine/arbiter/internal/evaluation"
	"github.com/signalnine/arbiter/internal/judge"
	"github.com/signalnine/arbiter/internal/metrics"
	"github.com/signalnine/arbiter/internal/report"
	"github.com/signalnine/arbiter/internal/result"
	"github.com/signalnine/arbiter/internal/runner"
	"github.com/signalnine/arbiter/internal/task"
	"github.com/signalnine/arbiter/internal/workspace"
)

// ErrClosed is returned once Close has been called.
var ErrClosed = errors.New("orchestrator is closed")

var tracer = otel.Tracer("arbiter/orchestrator")

type Option func(*Orchestrator)

// WithJudge enables AI judging. Without it judged contributions score 0
// with a "judge unavailable" note.
func WithJudge(j judge.Interface) Option {
	return func(o *Orchestrator) { o.judge = j }
}

// WithStore persists every transition.
func WithStore(s result.Store) Option {
	return func(o *Orchestrator) { o.store = s }
}

// WithFetcher enables participants that reference a source instead of
// submitting.
func WithFetcher(f workspace.Fetcher) Option {
	return func(o *Orchestrator) { o.fetcher = f }
}

func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

type Orchestrator struct {
	cfg      config.Engine
	catalog  *task.Catalog
	analyzer analyzer.Interface
	judge    judge.Interface
	store    result.Store
	fetcher  workspace.Fetcher
	now      func() time.Time

	// logCtx carries the logger and is never cancelled; persistence after
	// Close still goes through it.
	logCtx context.Context
	ctx    context.Context
	cancel context.CancelFunc
	pool   *runner.Pool
	wg     sync.WaitGroup

	active atomic.Int64

	mu     sync.Mutex
	evals  map[string]*entry
	queue  []*entry
	closed bool
}

type entry struct {
	eval   *evaluation.Evaluation
	ctx    context.Context
	cancel context.CancelFunc

	// persistMu orders saves so a stale snapshot never overwrites a newer one.
	persistMu sync.Mutex

	// guarded by Orchestrator.mu
	holdsSlot bool
	timer     *time.Timer
	finished  bool
}

// New builds an orchestrator. ctx provides the logger and bounds the
// lifetime of all work; Close must still be called.
func New(ctx context.Context, cfg config.Engine, catalog *task.Catalog, a analyzer.Interface, opts ...Option) *Orchestrator {
	if cfg.MaxConcurrentEvaluations < 1 {
		cfg.MaxConcurrentEvaluations = config.DefaultMaxConcurrent
	}
	if cfg.Deadline <= 0 {
		cfg.Deadline = config.DefaultDeadline
	}
	if cfg.ScoringWorkers < 1 {
		cfg.ScoringWorkers = config.DefaultScoringWorkers
	}
	o := &Orchestrator{
		cfg:      cfg,
		catalog:  catalog,
		analyzer: a,
		now:      time.Now,
		logCtx:   context.WithoutCancel(ctx),
		evals:    make(map[string]*entry),
	}
	for _, opt := range opts {
		opt(o)
	}
	o.ctx, o.cancel = context.WithCancel(ctx)
	o.pool = runner.NewPool(o.ctx, cfg.ScoringWorkers)
	return o
}

func (o *Orchestrator) Catalog() *task.Catalog { return o.catalog }

// CreateTask validates a task definition, loads its baseline and adds it to
// the catalog. Any problem with the definition is a ValidationError.
func (o *Orchestrator) CreateTask(ctx context.Context, def config.Task) (*task.Task, error) {
	def.ApplyDefaults()
	if err := config.ValidateTask(&def); err != nil {
		return nil, errdefs.Validationf("task", "%v", err)
	}
	if !def.Baseline.IsZero() && o.fetcher == nil {
		return nil, errdefs.Validationf("baseline", "baseline sources are not supported by this server")
	}
	t, err := task.FromConfig(ctx, def, o.fetcher)
	if err != nil {
		return nil, errdefs.Validationf("baseline", "%v", err)
	}
	if err := o.catalog.Add(t); err != nil {
		return nil, err
	}
	clog.FromContext(ctx).With("task", t.ID).With("categories", len(t.Categories)).Info("task created")
	return t, nil
}

// Active is the number of admitted evaluations in collecting or scoring.
func (o *Orchestrator) Active() int { return int(o.active.Load()) }

// Start creates an evaluation of taskID for agentIDs (all participants when
// empty) and admits it, or queues it behind the concurrency limit.
func (o *Orchestrator) Start(ctx context.Context, taskID string, agentIDs []string) (*evaluation.Snapshot, error) {
	t, err := o.catalog.Get(taskID)
	if err != nil {
		return nil, err
	}
	now := o.now()
	e, err := evaluation.New(evaluation.NewID(now), t, agentIDs, now)
	if err != nil {
		return nil, err
	}
	ectx, cancel := context.WithCancel(o.ctx)
	ent := &entry{eval: e, ctx: clog.WithLogger(ectx, clog.FromContext(o.logCtx).With("evaluation", e.ID())), cancel: cancel}

	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		cancel()
		return nil, ErrClosed
	}
	o.evals[e.ID()] = ent
	admit := o.takeSlotLocked(ent)
	if !admit {
		o.queue = append(o.queue, ent)
		metrics.EvaluationsQueued.Set(float64(len(o.queue)))
	}
	o.mu.Unlock()

	metrics.EvaluationsStarted.Inc()
	clog.FromContext(ent.ctx).With("task", t.ID).With("agents", e.Agents()).With("queued", !admit).Info("evaluation created")
	o.persist(ent)
	if admit {
		o.activate(ent)
	}
	return e.Snapshot(), nil
}

func (o *Orchestrator) takeSlotLocked(ent *entry) bool {
	if o.active.Load() >= int64(o.cfg.MaxConcurrentEvaluations) {
		return false
	}
	o.active.Add(1)
	ent.holdsSlot = true
	metrics.EvaluationsActive.Set(float64(o.active.Load()))
	return true
}

// activate runs once a slot is granted: it admits the state machine, arms
// the deadline and fetches sourced participants.
func (o *Orchestrator) activate(ent *entry) {
	e := ent.eval
	fired := e.Admit(o.now())
	if st, _ := e.Status(); st.Terminal() {
		o.finish(ent)
		return
	}

	d := o.cfg.Deadline
	o.mu.Lock()
	if !ent.finished {
		ent.timer = time.AfterFunc(d, func() {
			o.fail(ent, evaluation.ReasonDeadlineExceeded, "", fmt.Sprintf("deadline of %s exceeded", d))
		})
	}
	o.mu.Unlock()
	clog.FromContext(ent.ctx).With("deadline", d.String()).Info("evaluation admitted")
	o.persist(ent)

	if fired {
		o.dispatch(ent)
		return
	}
	for _, id := range e.Agents() {
		p, _ := e.Task().Participant(id)
		if p.Manual() {
			continue
		}
		o.wg.Add(1)
		go func() {
			defer o.wg.Done()
			o.fetch(ent, p)
		}()
	}
}

// fetch submits a sourced participant's artifacts. A failed fetch leaves
// the agent pending; it can still be submitted manually before the
// deadline.
func (o *Orchestrator) fetch(ent *entry, p task.Participant) {
	log := clog.FromContext(ent.ctx).With("agent", p.ID)
	if o.fetcher == nil {
		log.Warn("participant has a source but no fetcher is configured")
		return
	}
	arts, err := o.fetcher.Fetch(ent.ctx, *p.Source)
	if err != nil {
		if ent.ctx.Err() == nil {
			log.With("error", err.Error()).Warn("fetching participant artifacts failed")
		}
		return
	}
	if _, err := o.submit(ent, p.ID, arts); err != nil && ent.ctx.Err() == nil {
		log.With("error", err.Error()).Warn("fetched artifacts rejected")
	}
}

// Submit records an agent result. The submission that completes the set
// starts the scoring pass.
func (o *Orchestrator) Submit(ctx context.Context, evalID, agentID string, arts []artifact.Artifact) (*evaluation.Snapshot, error) {
	ent, err := o.live(ctx, evalID)
	if err != nil {
		return nil, err
	}
	return o.submit(ent, agentID, arts)
}

func (o *Orchestrator) submit(ent *entry, agentID string, arts []artifact.Artifact) (*evaluation.Snapshot, error) {
	fired, err := ent.eval.Submit(agentID, arts, o.now())
	if err != nil {
		metrics.Submissions.WithLabelValues("rejected").Inc()
		return nil, err
	}
	metrics.Submissions.WithLabelValues("accepted").Inc()
	clog.FromContext(ent.ctx).With("agent", agentID).With("artifacts", len(arts)).With("scoring", fired).Info("result submitted")
	o.persist(ent)
	if fired {
		o.dispatch(ent)
	}
	return ent.eval.Snapshot(), nil
}

func (o *Orchestrator) dispatch(ent *entry) {
	if err := o.pool.Go(ent.eval.ID(), func(context.Context) error { return o.score(ent) }); err != nil {
		o.fail(ent, evaluation.ReasonCancelled, "", "engine shutting down")
	}
}

func (o *Orchestrator) get(id string) (*entry, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	ent, ok := o.evals[id]
	if !ok {
		return nil, fmt.Errorf("evaluation %q: %w", id, errdefs.ErrNotFound)
	}
	return ent, nil
}

// live is get for operations that mutate an evaluation. Finished
// evaluations are dropped from memory once persisted, so a stored terminal
// record turns the miss into a ValidationError.
func (o *Orchestrator) live(ctx context.Context, id string) (*entry, error) {
	ent, err := o.get(id)
	if err == nil || o.store == nil {
		return ent, err
	}
	s, serr := o.store.Load(ctx, id)
	if serr != nil {
		return nil, err
	}
	if s.Status.Terminal() {
		return nil, errdefs.Validationf("evaluation", "evaluation %s is already %s", id, s.Status)
	}
	return nil, errdefs.Validationf("evaluation", "evaluation %s is %s but not live in this process", id, s.Status)
}

// Status returns the current snapshot of a live or stored evaluation.
func (o *Orchestrator) Status(ctx context.Context, id string) (*evaluation.Snapshot, error) {
	if ent, err := o.get(id); err == nil {
		return ent.eval.Snapshot(), nil
	}
	if o.store == nil {
		return nil, fmt.Errorf("evaluation %q: %w", id, errdefs.ErrNotFound)
	}
	return o.store.Load(ctx, id)
}

// List returns live and stored evaluations, oldest first.
func (o *Orchestrator) List(ctx context.Context) ([]*evaluation.Snapshot, error) {
	byID := map[string]*evaluation.Snapshot{}
	if o.store != nil {
		stored, err := o.store.List(ctx)
		if err != nil {
			return nil, fmt.Errorf("listing stored evaluations: %w", err)
		}
		for _, s := range stored {
			byID[s.ID] = s
		}
	}
	o.mu.Lock()
	live := make([]*entry, 0, len(o.evals))
	for _, ent := range o.evals {
		live = append(live, ent)
	}
	o.mu.Unlock()
	for _, ent := range live {
		byID[ent.eval.ID()] = ent.eval.Snapshot()
	}

	out := make([]*evaluation.Snapshot, 0, len(byID))
	for _, s := range byID {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// Wait blocks until the evaluation is terminal or ctx is done. A failed
// evaluation is returned together with its error.
func (o *Orchestrator) Wait(ctx context.Context, id string) (*evaluation.Snapshot, error) {
	ent, err := o.get(id)
	if err != nil {
		s, serr := o.Status(ctx, id)
		if serr != nil {
			return nil, serr
		}
		if !s.Status.Terminal() {
			return s, fmt.Errorf("evaluation %s is not live in this process", id)
		}
		return s, s.Err()
	}
	select {
	case <-ent.eval.Done():
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	s := ent.eval.Snapshot()
	return s, s.Err()
}

// Cancel fails a live evaluation with reason cancelled.
func (o *Orchestrator) Cancel(ctx context.Context, id string) (*evaluation.Snapshot, error) {
	ent, err := o.live(ctx, id)
	if err != nil {
		return nil, err
	}
	if !o.fail(ent, evaluation.ReasonCancelled, "", "cancelled by request") {
		st, _ := ent.eval.Status()
		return nil, errdefs.Validationf("evaluation", "evaluation %s is already %s", id, st)
	}
	return ent.eval.Snapshot(), nil
}

// Reset starts a fresh evaluation with the task and agents of a terminal
// one. The old record is left as is.
func (o *Orchestrator) Reset(ctx context.Context, id string) (*evaluation.Snapshot, error) {
	old, err := o.Status(ctx, id)
	if err != nil {
		return nil, err
	}
	if !old.Status.Terminal() {
		return nil, errdefs.Validationf("evaluation", "evaluation %s is %s; only completed or failed evaluations can be reset", id, old.Status)
	}
	s, err := o.Start(ctx, old.TaskID, old.Agents)
	if err != nil {
		return nil, err
	}
	clog.FromContext(ctx).With("from", id).With("to", s.ID).Info("evaluation reset")
	return s, nil
}

// Report builds the comparison report of a completed evaluation.
func (o *Orchestrator) Report(ctx context.Context, id string) (*report.ComparisonReport, error) {
	s, err := o.Status(ctx, id)
	if err != nil {
		return nil, err
	}
	return report.Build(s)
}

// fail moves ent to failed; it reports whether this call did so.
func (o *Orchestrator) fail(ent *entry, reason evaluation.Reason, agent, detail string) bool {
	if !ent.eval.Fail(reason, agent, detail, o.now()) {
		return false
	}
	log := clog.FromContext(ent.ctx).With("reason", string(reason))
	if agent != "" {
		log = log.With("agent", agent)
	}
	log.With("detail", detail).Warn("evaluation failed")
	o.finish(ent)
	return true
}

// finish runs once per evaluation after its terminal transition. It
// interrupts outstanding work, persists the record, and hands the slot to
// the oldest queued evaluation. With a store the entry is then dropped and
// lookups fall through to the stored record.
func (o *Orchestrator) finish(ent *entry) {
	o.mu.Lock()
	if ent.finished {
		o.mu.Unlock()
		return
	}
	ent.finished = true
	if ent.timer != nil {
		ent.timer.Stop()
	}
	var next *entry
	if ent.holdsSlot {
		ent.holdsSlot = false
		o.active.Add(-1)
		if !o.closed {
			next = o.nextQueuedLocked()
		}
	} else {
		o.dropQueuedLocked(ent)
	}
	metrics.EvaluationsActive.Set(float64(o.active.Load()))
	metrics.EvaluationsQueued.Set(float64(len(o.queue)))
	o.mu.Unlock()

	ent.cancel()
	s := ent.eval.Snapshot()
	reason := ""
	if s.Failure != nil {
		reason = string(s.Failure.Reason)
	}
	metrics.EvaluationsFinished.WithLabelValues(string(s.Status), reason).Inc()
	clog.FromContext(ent.ctx).With("status", string(s.Status)).Info("evaluation finished")
	o.persist(ent)
	if o.store != nil {
		o.mu.Lock()
		delete(o.evals, s.ID)
		o.mu.Unlock()
	}

	if next != nil {
		o.activate(next)
	}
}

func (o *Orchestrator) nextQueuedLocked() *entry {
	for len(o.queue) > 0 {
		next := o.queue[0]
		o.queue = o.queue[1:]
		if next.finished {
			continue
		}
		o.takeSlotLocked(next)
		return next
	}
	return nil
}

func (o *Orchestrator) dropQueuedLocked(ent *entry) {
	for i, q := range o.queue {
		if q == ent {
			o.queue = append(o.queue[:i], o.queue[i+1:]...)
			return
		}
	}
}

func (o *Orchestrator) persist(ent *entry) {
	if o.store == nil {
		return
	}
	ent.persistMu.Lock()
	defer ent.persistMu.Unlock()
	if err := o.store.Save(o.logCtx, ent.eval.Snapshot()); err != nil {
		clog.FromContext(ent.ctx).With("error", err.Error()).Error("persisting evaluation failed")
	}
}

// Close fails every live evaluation as cancelled, stops the scoring pool
// and waits for outstanding fetches.
func (o *Orchestrator) Close() error {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return nil
	}
	o.closed = true
	live := make([]*entry, 0, len(o.evals))
	for _, ent := range o.evals {
		live = append(live, ent)
	}
	o.mu.Unlock()

	for _, ent := range live {
		o.fail(ent, evaluation.ReasonCancelled, "", "engine shutting down")
	}
	o.cancel()
	o.pool.Close()
	o.wg.Wait()
	return nil
}
