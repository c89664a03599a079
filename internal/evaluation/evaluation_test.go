package evaluation_test

import (
	"fmt"
	"regexp"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/signalnine/arbiter/internal/artifact"
	"github.com/signalnine/arbiter/internal/config"
	"github.com/signalnine/arbiter/internal/errdefs"
	"github.com/signalnine/arbiter/internal/evaluation"
	"github.com/signalnine/arbiter/internal/scoring"
	"github.com/signalnine/arbiter/internal/task"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newTask(agents ...string) *task.Task {
	t := &task.Task{
		ID:         "css",
		Name:       "CSS",
		Categories: []task.Category{{ID: "pattern", Weight: 100, Scorer: config.ScorerRule, Rule: config.RulePatternConsolidation}},
		Rules:      artifact.Rules{AllowedExtensions: []string{"html"}},
	}
	for _, a := range agents {
		t.Participants = append(t.Participants, task.Participant{ID: a})
	}
	task.NewCatalog(t)
	return t
}

func page(body string) []artifact.Artifact {
	return []artifact.Artifact{{Name: "index.html", Content: body}}
}

func admitted(t *testing.T, tk *task.Task, agents ...string) *evaluation.Evaluation {
	t.Helper()
	e, err := evaluation.New("eval-1", tk, agents, t0)
	require.NoError(t, err)
	assert.False(t, e.Admit(t0))
	return e
}

func TestLifecycle(t *testing.T) {
	e := admitted(t, newTask("a", "b"))
	st, pending := e.Status()
	assert.Equal(t, evaluation.StatusCreated, st)
	assert.Equal(t, []string{"a", "b"}, pending)

	fired, err := e.Submit("a", page("<p>a</p>"), t0.Add(time.Second))
	require.NoError(t, err)
	assert.False(t, fired)
	st, pending = e.Status()
	assert.Equal(t, evaluation.StatusCollecting, st)
	assert.Equal(t, []string{"b"}, pending)

	fired, err = e.Submit("b", page("<p>b</p>"), t0.Add(2*time.Second))
	require.NoError(t, err)
	assert.True(t, fired)
	st, pending = e.Status()
	assert.Equal(t, evaluation.StatusScoring, st)
	assert.Empty(t, pending)

	require.NoError(t, e.Complete(map[string]*scoring.Breakdown{
		"a": {Total: 10, WeightSum: 100},
		"b": {Total: 20, WeightSum: 100},
	}, t0.Add(time.Minute)))
	select {
	case <-e.Done():
	default:
		t.Fatal("Done not closed on completion")
	}
	snap := e.Snapshot()
	assert.Equal(t, evaluation.StatusCompleted, snap.Status)
	require.Len(t, snap.Results, 2)
	assert.Equal(t, 20.0, snap.Results[1].Breakdown.Total)
	assert.Equal(t, []string{"index.html"}, snap.Results[0].Artifacts)
	assert.NoError(t, snap.Err())

	assert.False(t, e.Fail(evaluation.ReasonCancelled, "", "late cancel", t0.Add(2*time.Minute)), "completed is permanent")
}

func TestScoringFiresExactlyOnce(t *testing.T) {
	agents := make([]string, 16)
	for i := range agents {
		agents[i] = fmt.Sprintf("agent-%02d", i)
	}
	e := admitted(t, newTask(agents...))

	var fired atomic.Int32
	var wg sync.WaitGroup
	for _, a := range agents {
		for range 4 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				ok, err := e.Submit(a, page("<p>"+a+"</p>"), time.Now())
				if err != nil {
					assert.True(t, errdefs.IsValidation(err), "only late duplicates may be rejected: %v", err)
					return
				}
				if ok {
					fired.Add(1)
				}
			}()
		}
	}
	wg.Wait()
	assert.Equal(t, int32(1), fired.Load())
	st, _ := e.Status()
	assert.Equal(t, evaluation.StatusScoring, st)
}

func TestDuplicateSubmission(t *testing.T) {
	e := admitted(t, newTask("a", "b"))

	_, err := e.Submit("a", page("<p>first</p>"), t0.Add(time.Second))
	require.NoError(t, err)
	_, err = e.Submit("a", page("<p>second</p>"), t0.Add(2*time.Second))
	require.NoError(t, err, "resubmission while collecting replaces")
	res := e.Results()
	require.Len(t, res, 1)
	assert.Equal(t, "<p>second</p>", res[0].Artifacts[0].Content)
	assert.Equal(t, t0.Add(2*time.Second), res[0].SubmittedAt)

	fired, err := e.Submit("b", page("<p>b</p>"), t0.Add(3*time.Second))
	require.NoError(t, err)
	require.True(t, fired)

	_, err = e.Submit("a", page("<p>third</p>"), t0.Add(4*time.Second))
	require.Error(t, err)
	assert.True(t, errdefs.IsValidation(err))
	assert.Equal(t, "<p>second</p>", e.Results()[0].Artifacts[0].Content)
}

func TestDeadlineBeforeAllSubmit(t *testing.T) {
	e := admitted(t, newTask("a", "b", "c"))
	_, err := e.Submit("a", page("<p>a</p>"), t0)
	require.NoError(t, err)
	_, err = e.Submit("b", page("<p>b</p>"), t0)
	require.NoError(t, err)

	require.True(t, e.Fail(evaluation.ReasonDeadlineExceeded, "", "deadline of 1h0m0s exceeded", t0.Add(time.Hour)))
	snap := e.Snapshot()
	assert.Equal(t, evaluation.StatusFailed, snap.Status)
	require.NotNil(t, snap.Failure)
	assert.Equal(t, evaluation.ReasonDeadlineExceeded, snap.Failure.Reason)
	assert.ErrorIs(t, snap.Err(), errdefs.ErrDeadlineExceeded)
	assert.False(t, errdefs.IsFatal(snap.Err()))
	for _, r := range snap.Results {
		assert.Nil(t, r.Breakdown)
	}
	assert.Equal(t, []string{"c"}, snap.Pending)

	_, err = e.Submit("c", page("<p>c</p>"), t0.Add(2*time.Hour))
	assert.True(t, errdefs.IsValidation(err), "failed is permanent")
}

func TestFatalScoringDiscardsBreakdowns(t *testing.T) {
	e := admitted(t, newTask("a"))
	fired, err := e.Submit("a", page("<p>a</p>"), t0)
	require.NoError(t, err)
	require.True(t, fired)

	err = e.Complete(map[string]*scoring.Breakdown{}, t0)
	require.Error(t, err, "completion needs every breakdown")
	st, _ := e.Status()
	assert.Equal(t, evaluation.StatusScoring, st)

	require.True(t, e.Fail(evaluation.ReasonFatalScoring, "a", "analyzer panic", t0))
	snap := e.Snapshot()
	assert.Equal(t, "a", snap.Failure.Agent)
	assert.True(t, errdefs.IsFatal(snap.Err()))
	assert.Equal(t, "a", errdefs.FatalAgent(snap.Err()))
}

func TestSubmitValidation(t *testing.T) {
	e := admitted(t, newTask("a", "b"))
	tests := []struct {
		name  string
		agent string
		arts  []artifact.Artifact
	}{
		{"unknown agent", "mallory", page("<p/>")},
		{"bad extension", "a", []artifact.Artifact{{Name: "run.sh", Content: "rm -rf /"}}},
		{"empty", "a", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := e.Submit(tt.agent, tt.arts, t0)
			require.Error(t, err)
			assert.True(t, errdefs.IsValidation(err))
		})
	}
	st, pending := e.Status()
	assert.Equal(t, evaluation.StatusCreated, st, "rejections leave state untouched")
	assert.Len(t, pending, 2)
}

func TestQueuedSubmissionsApplyOnAdmit(t *testing.T) {
	e, err := evaluation.New("eval-q", newTask("a"), nil, t0)
	require.NoError(t, err)
	assert.True(t, e.Snapshot().Queued)

	fired, err := e.Submit("a", page("<p>a</p>"), t0)
	require.NoError(t, err)
	assert.False(t, fired, "nothing fires before admission")
	st, _ := e.Status()
	assert.Equal(t, evaluation.StatusCreated, st)

	assert.True(t, e.Admit(t0.Add(time.Second)))
	st, _ = e.Status()
	assert.Equal(t, evaluation.StatusScoring, st)
	assert.False(t, e.Admit(t0.Add(2*time.Second)), "admission happens once")
}

func TestAdmitWithoutManualParticipants(t *testing.T) {
	tk := newTask()
	tk.Participants = []task.Participant{{ID: "bot", Source: &config.Source{Dir: "/srv/bot"}}}
	task.NewCatalog(tk)
	e, err := evaluation.New("eval-auto", tk, nil, t0)
	require.NoError(t, err)
	assert.False(t, e.Admit(t0))
	st, _ := e.Status()
	assert.Equal(t, evaluation.StatusCollecting, st)
}

func TestNewRejectsUnknownAgents(t *testing.T) {
	_, err := evaluation.New("eval-x", newTask("a"), []string{"a", "z"}, t0)
	assert.True(t, errdefs.IsValidation(err))
	_, err = evaluation.New("eval-x", newTask("a"), []string{"a", "a"}, t0)
	assert.True(t, errdefs.IsValidation(err))
}

func TestCancelFromCreated(t *testing.T) {
	e, err := evaluation.New("eval-c", newTask("a"), nil, t0)
	require.NoError(t, err)
	require.True(t, e.Fail(evaluation.ReasonCancelled, "", "cancelled by request", t0))
	assert.ErrorIs(t, e.Err(), errdefs.ErrCancelled)
	assert.False(t, e.Admit(t0), "failed evaluations are never admitted")
}

func TestNewID(t *testing.T) {
	id := evaluation.NewID(t0)
	assert.Regexp(t, regexp.MustCompile(`^eval-20260301-120000-[0-9a-f]{8}$`), id)
	assert.NotEqual(t, id, evaluation.NewID(t0))
}
