// Package evaluation is the lifecycle state machine of one evaluation run.
//
//	created -> collecting -> scoring -> completed
//	   \___________\____________\-----> failed
//
// Every transition happens under the Evaluation's own mutex. The
// collecting -> scoring transition fires exactly once; the caller that
// observes it (Submit or Admit returning true) owns the scoring pass.
// completed and failed are permanent.
package evaluation

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/signalnine/arbiter/internal/artifact"
	"github.com/signalnine/arbiter/internal/config"
	"github.com/signalnine/arbiter/internal/errdefs"
	"github.com/signalnine/arbiter/internal/scoring"
	"github.com/signalnine/arbiter/internal/task"
)

type Status string

const (
	StatusCreated    Status = "created"
	StatusCollecting Status = "collecting"
	StatusScoring    Status = "scoring"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

func (s Status) Terminal() bool { return s == StatusCompleted || s == StatusFailed }

// Reason codes exposed on failed evaluations.
type Reason string

const (
	ReasonFatalScoring     Reason = "fatal_scoring_error"
	ReasonDeadlineExceeded Reason = "deadline_exceeded"
	ReasonCancelled        Reason = "cancelled"
)

type Failure struct {
	Reason Reason    `json:"reason"`
	Agent  string    `json:"agent,omitempty"`
	Detail string    `json:"detail,omitempty"`
	At     time.Time `json:"at"`
}

// AgentResult is one agent's submission. Breakdown stays nil until the
// evaluation completes.
type AgentResult struct {
	Agent       string
	Artifacts   []artifact.Artifact
	SubmittedAt time.Time
	Breakdown   *scoring.Breakdown
}

// NewID returns an id of the form eval-YYYYmmdd-HHMMSS-xxxxxxxx.
func NewID(now time.Time) string {
	return fmt.Sprintf("eval-%s-%s", now.UTC().Format("20060102-150405"), uuid.NewString()[:8])
}

type Evaluation struct {
	id     string
	task   *task.Task
	agents []string
	member map[string]bool
	manual int

	mu         sync.Mutex
	status     Status
	admitted   bool
	createdAt  time.Time
	admittedAt time.Time
	scoringAt  time.Time
	finishedAt time.Time
	results    map[string]*AgentResult
	failure    *Failure
	done       chan struct{}
}

// New creates an evaluation of t for agentIDs, which must be distinct task
// participants. An empty list means every participant.
func New(id string, t *task.Task, agentIDs []string, now time.Time) (*Evaluation, error) {
	if len(agentIDs) == 0 {
		agentIDs = t.ParticipantIDs()
	}
	e := &Evaluation{
		id:        id,
		task:      t,
		member:    make(map[string]bool, len(agentIDs)),
		status:    StatusCreated,
		createdAt: now,
		results:   make(map[string]*AgentResult, len(agentIDs)),
		done:      make(chan struct{}),
	}
	for _, a := range agentIDs {
		p, ok := t.Participant(a)
		if !ok {
			return nil, errdefs.Validationf("agent_ids", "agent %q is not a participant of task %q", a, t.ID)
		}
		if e.member[a] {
			return nil, errdefs.Validationf("agent_ids", "agent %q listed twice", a)
		}
		e.member[a] = true
		e.agents = append(e.agents, a)
		if p.Manual() {
			e.manual++
		}
	}
	return e, nil
}

func (e *Evaluation) ID() string           { return e.id }
func (e *Evaluation) Task() *task.Task     { return e.task }
func (e *Evaluation) Agents() []string     { return append([]string(nil), e.agents...) }
func (e *Evaluation) CreatedAt() time.Time { return e.createdAt }

// Done is closed when the evaluation reaches a terminal state.
func (e *Evaluation) Done() <-chan struct{} { return e.done }

// Status is a pure read of the current state and the agents still pending.
func (e *Evaluation) Status() (Status, []string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.status, e.pendingLocked()
}

func (e *Evaluation) pendingLocked() []string {
	var pending []string
	for _, a := range e.agents {
		if _, ok := e.results[a]; !ok {
			pending = append(pending, a)
		}
	}
	return pending
}

// Submit records agent's result, replacing a pending one. It is rejected
// with a ValidationError, leaving state untouched, once scoring started,
// for non-participants and for artifacts that break the task rules. It
// returns true when this submission fired collecting -> scoring.
func (e *Evaluation) Submit(agent string, arts []artifact.Artifact, at time.Time) (bool, error) {
	if !e.member[agent] {
		return false, errdefs.Validationf("agent_id", "agent %q is not a participant of evaluation %s", agent, e.id)
	}
	if err := e.task.Rules.Validate(arts); err != nil {
		return false, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.status != StatusCreated && e.status != StatusCollecting {
		return false, errdefs.Validationf("evaluation", "evaluation %s is %s; submissions are closed", e.id, e.status)
	}
	e.results[agent] = &AgentResult{Agent: agent, Artifacts: artifact.Clone(arts), SubmittedAt: at}
	if !e.admitted {
		return false, nil
	}
	if e.status == StatusCreated {
		e.status = StatusCollecting
	}
	return e.fireLocked(at), nil
}

// Admit is called once an admission slot is granted. Submissions received
// while queued are applied now. With no manual participants the evaluation
// starts collecting immediately. It returns true when admission fired
// collecting -> scoring.
func (e *Evaluation) Admit(now time.Time) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.admitted || e.status.Terminal() {
		return false
	}
	e.admitted = true
	e.admittedAt = now
	if len(e.results) > 0 || e.manual == 0 {
		e.status = StatusCollecting
		return e.fireLocked(now)
	}
	return false
}

// fireLocked performs collecting -> scoring when every agent has a result.
func (e *Evaluation) fireLocked(now time.Time) bool {
	if e.status != StatusCollecting || len(e.results) != len(e.agents) {
		return false
	}
	e.status = StatusScoring
	e.scoringAt = now
	return true
}

// Results returns copies of the agent results in agent order. The scoring
// pass reads its inputs through this.
func (e *Evaluation) Results() []AgentResult {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]AgentResult, 0, len(e.results))
	for _, a := range e.agents {
		if r, ok := e.results[a]; ok {
			c := *r
			c.Artifacts = artifact.Clone(r.Artifacts)
			out = append(out, c)
		}
	}
	return out
}

// Complete performs scoring -> completed. Every agent needs a breakdown;
// otherwise nothing changes and an error is returned.
func (e *Evaluation) Complete(breakdowns map[string]*scoring.Breakdown, now time.Time) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.status != StatusScoring {
		return fmt.Errorf("evaluation %s is %s, not scoring", e.id, e.status)
	}
	for _, a := range e.agents {
		if breakdowns[a] == nil {
			return errdefs.Fatal(a, fmt.Errorf("no breakdown for agent %q", a))
		}
	}
	for _, a := range e.agents {
		e.results[a].Breakdown = breakdowns[a]
	}
	e.status = StatusCompleted
	e.finishedAt = now
	close(e.done)
	return nil
}

// Fail moves any non-terminal evaluation to failed and discards scores.
// It returns false if the evaluation had already finished.
func (e *Evaluation) Fail(reason Reason, agent, detail string, now time.Time) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.status.Terminal() {
		return false
	}
	for _, r := range e.results {
		r.Breakdown = nil
	}
	e.status = StatusFailed
	e.failure = &Failure{Reason: reason, Agent: agent, Detail: detail, At: now}
	e.finishedAt = now
	close(e.done)
	return true
}

// Err describes a failed evaluation as an error of the matching kind, or
// nil when it has not failed.
func (e *Evaluation) Err() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return failureErr(e.id, e.failure)
}

func failureErr(id string, f *Failure) error {
	if f == nil {
		return nil
	}
	switch f.Reason {
	case ReasonDeadlineExceeded:
		return fmt.Errorf("evaluation %s: %w", id, errdefs.ErrDeadlineExceeded)
	case ReasonCancelled:
		return fmt.Errorf("evaluation %s: %w", id, errdefs.ErrCancelled)
	default:
		return fmt.Errorf("evaluation %s: %w", id, errdefs.Fatal(f.Agent, fmt.Errorf("%s", f.Detail)))
	}
}

// ResultView is the persisted form of an AgentResult; artifact contents
// are reduced to names.
type ResultView struct {
	Agent       string             `json:"agent"`
	SubmittedAt time.Time          `json:"submitted_at"`
	Artifacts   []string           `json:"artifacts"`
	Breakdown   *scoring.Breakdown `json:"breakdown,omitempty"`
}

// Snapshot is a self-contained, immutable copy of an evaluation used for
// persistence, status responses and reports.
type Snapshot struct {
	ID         string            `json:"id"`
	TaskID     string            `json:"task_id"`
	TaskName   string            `json:"task_name"`
	Agents     []string          `json:"agents"`
	Categories []config.Category `json:"categories"`
	Status     Status            `json:"status"`
	Queued     bool              `json:"queued,omitempty"`
	Pending    []string          `json:"pending"`
	CreatedAt  time.Time         `json:"created_at"`
	AdmittedAt *time.Time        `json:"admitted_at,omitempty"`
	ScoringAt  *time.Time        `json:"scoring_at,omitempty"`
	FinishedAt *time.Time        `json:"finished_at,omitempty"`
	Results    []ResultView      `json:"results"`
	Failure    *Failure          `json:"failure,omitempty"`
}

// Err mirrors Evaluation.Err for a stored snapshot.
func (s *Snapshot) Err() error { return failureErr(s.ID, s.Failure) }

func timePtr(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

func (e *Evaluation) Snapshot() *Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	s := &Snapshot{
		ID:         e.id,
		TaskID:     e.task.ID,
		TaskName:   e.task.Name,
		Agents:     append([]string(nil), e.agents...),
		Categories: append([]config.Category(nil), e.task.Categories...),
		Status:     e.status,
		Queued:     !e.admitted && !e.status.Terminal(),
		Pending:    e.pendingLocked(),
		CreatedAt:  e.createdAt,
		AdmittedAt: timePtr(e.admittedAt),
		ScoringAt:  timePtr(e.scoringAt),
		FinishedAt: timePtr(e.finishedAt),
		Results:    make([]ResultView, 0, len(e.results)),
	}
	for _, a := range e.agents {
		r, ok := e.results[a]
		if !ok {
			continue
		}
		names := make([]string, len(r.Artifacts))
		for i, art := range r.Artifacts {
			names[i] = art.Name
		}
		sort.Strings(names)
		s.Results = append(s.Results, ResultView{Agent: a, SubmittedAt: r.SubmittedAt, Artifacts: names, Breakdown: r.Breakdown})
	}
	if e.failure != nil {
		f := *e.failure
		s.Failure = &f
	}
	return s
}
