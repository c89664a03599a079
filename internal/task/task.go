// Package task holds the read-only catalog of evaluation scenarios.
//
// A Task's categories and participants are closed sets fixed when the
// task is built; lookups against them are total.
package task

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/signalnine/arbiter/internal/artifact"
	"github.com/signalnine/arbiter/internal/config"
	"github.com/signalnine/arbiter/internal/errdefs"
	"github.com/signalnine/arbiter/internal/workspace"
)

type Category = config.Category

type Participant struct {
	ID     string         `json:"id"`
	Prompt string         `json:"prompt,omitempty"`
	Source *config.Source `json:"source,omitempty"`
}

// Manual reports whether the participant's result must be submitted rather
// than fetched from a source reference.
func (p Participant) Manual() bool { return p.Source == nil || p.Source.IsZero() }

type Task struct {
	ID           string              `json:"id"`
	Name         string              `json:"name"`
	Description  string              `json:"description,omitempty"`
	Baseline     []artifact.Artifact `json:"-"`
	Categories   []Category          `json:"categories"`
	RubricPrompt string              `json:"rubric_prompt,omitempty"`
	JudgeModel   string              `json:"judge_model,omitempty"`
	Participants []Participant       `json:"participants"`
	Rules        artifact.Rules      `json:"artifact_rules"`

	participants map[string]int
	categories   map[string]int
}

// FromConfig validates a task definition and loads its baseline artifacts.
func FromConfig(ctx context.Context, ct config.Task, f workspace.Fetcher) (*Task, error) {
	ct.ApplyDefaults()
	if err := config.ValidateTask(&ct); err != nil {
		return nil, err
	}
	t := &Task{
		ID:           ct.ID,
		Name:         ct.Name,
		Description:  ct.Description,
		Categories:   append([]Category(nil), ct.Categories...),
		RubricPrompt: ct.RubricPrompt,
		JudgeModel:   ct.JudgeModel,
		Rules:        ct.Artifacts,
	}
	for _, p := range ct.Participants {
		t.Participants = append(t.Participants, Participant{ID: p.ID, Prompt: p.Prompt, Source: p.Source})
	}
	if !ct.Baseline.IsZero() {
		if f == nil {
			return nil, fmt.Errorf("task %q: baseline source configured without a fetcher", ct.ID)
		}
		base, err := f.Fetch(ctx, ct.Baseline)
		if err != nil {
			return nil, fmt.Errorf("task %q: loading baseline: %w", ct.ID, err)
		}
		t.Baseline = base
	}
	t.index()
	return t, nil
}

func (t *Task) index() {
	t.participants = make(map[string]int, len(t.Participants))
	for i, p := range t.Participants {
		t.participants[p.ID] = i
	}
	t.categories = make(map[string]int, len(t.Categories))
	for i, c := range t.Categories {
		t.categories[c.ID] = i
	}
}

func (t *Task) Participant(id string) (Participant, bool) {
	i, ok := t.participants[id]
	if !ok {
		return Participant{}, false
	}
	return t.Participants[i], true
}

func (t *Task) Category(id string) (Category, bool) {
	i, ok := t.categories[id]
	if !ok {
		return Category{}, false
	}
	return t.Categories[i], true
}

func (t *Task) ParticipantIDs() []string {
	ids := make([]string, len(t.Participants))
	for i, p := range t.Participants {
		ids[i] = p.ID
	}
	return ids
}

// Judged returns the categories the AI judge contributes to.
func (t *Task) Judged() []Category {
	var out []Category
	for _, c := range t.Categories {
		if c.Judged() {
			out = append(out, c)
		}
	}
	return out
}

// Catalog is safe for concurrent use. Reads never lock: Add publishes a
// new index and tasks already in the catalog are never modified.
type Catalog struct {
	mu    sync.Mutex
	tasks atomic.Pointer[map[string]*Task]
}

// Build loads every configured task.
func Build(ctx context.Context, defs []config.Task, f workspace.Fetcher) (*Catalog, error) {
	tasks := make(map[string]*Task, len(defs))
	for _, d := range defs {
		t, err := FromConfig(ctx, d, f)
		if err != nil {
			return nil, err
		}
		if _, dup := tasks[t.ID]; dup {
			return nil, fmt.Errorf("duplicate task %q", t.ID)
		}
		tasks[t.ID] = t
	}
	c := &Catalog{}
	c.tasks.Store(&tasks)
	return c, nil
}

// NewCatalog wraps already-built tasks.
func NewCatalog(tasks ...*Task) *Catalog {
	m := make(map[string]*Task, len(tasks))
	for _, t := range tasks {
		t.index()
		m[t.ID] = t
	}
	c := &Catalog{}
	c.tasks.Store(&m)
	return c
}

// Add publishes a new task. Ids are never reused.
func (c *Catalog) Add(t *Task) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	cur := *c.tasks.Load()
	if _, dup := cur[t.ID]; dup {
		return errdefs.Validationf("id", "task %q already exists", t.ID)
	}
	t.index()
	next := make(map[string]*Task, len(cur)+1)
	for id, existing := range cur {
		next[id] = existing
	}
	next[t.ID] = t
	c.tasks.Store(&next)
	return nil
}

func (c *Catalog) Get(id string) (*Task, error) {
	t, ok := (*c.tasks.Load())[id]
	if !ok {
		return nil, fmt.Errorf("task %q: %w", id, errdefs.ErrNotFound)
	}
	return t, nil
}

// List returns tasks sorted by id.
func (c *Catalog) List() []*Task {
	cur := *c.tasks.Load()
	out := make([]*Task, 0, len(cur))
	for _, t := range cur {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
