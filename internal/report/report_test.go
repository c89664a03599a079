package report_test

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/signalnine/arbiter/internal/config"
	"github.com/signalnine/arbiter/internal/evaluation"
	"github.com/signalnine/arbiter/internal/report"
	"github.com/signalnine/arbiter/internal/scoring"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func breakdown(pattern, hacks float64) *scoring.Breakdown {
	return &scoring.Breakdown{
		Categories: []scoring.CategoryScore{
			{Category: "pattern", Weight: 60, Score: pattern},
			{Category: "hacks", Weight: 40, Score: hacks},
		},
		Total:          pattern + hacks,
		WeightSum:      100,
		JudgeAvailable: true,
	}
}

func snapshot(id string, results ...evaluation.ResultView) *evaluation.Snapshot {
	fin := t0.Add(time.Hour)
	return &evaluation.Snapshot{
		ID:       id,
		TaskID:   "css",
		TaskName: "CSS Consolidation",
		Categories: []config.Category{
			{ID: "pattern", Weight: 60, Scorer: config.ScorerRule, Rule: config.RulePatternConsolidation},
			{ID: "hacks", Weight: 40, Scorer: config.ScorerRule, Rule: config.RuleIEHackRemoval},
		},
		Status:     evaluation.StatusCompleted,
		FinishedAt: &fin,
		Results:    results,
	}
}

func sample() *evaluation.Snapshot {
	b := breakdown(50, 40)
	b.Narrative = "Clean consolidation.\nMinor leftovers."
	b.Strengths = []string{"Removed every IE hack"}
	c := breakdown(30, 20)
	c.JudgeAvailable = false
	c.JudgeError = "judge: 503 after 3 attempts"
	return snapshot("eval-1",
		evaluation.ResultView{Agent: "claude", SubmittedAt: t0.Add(2 * time.Minute), Breakdown: breakdown(45, 40)},
		evaluation.ResultView{Agent: "aider", SubmittedAt: t0.Add(time.Minute), Breakdown: b},
		evaluation.ResultView{Agent: "codex", SubmittedAt: t0, Breakdown: c},
	)
}

func TestBuild(t *testing.T) {
	rep, err := report.Build(sample())
	require.NoError(t, err)

	var order []string
	for _, r := range rep.Rankings {
		order = append(order, r.Medal+r.Agent)
	}
	assert.Equal(t, []string{"🥇aider", "🥈claude", "🥉codex"}, order)
	assert.Equal(t, 90.0, rep.Rankings[0].Percentage)

	want := report.Stats{Average: 75, Highest: 90, Lowest: 50, Range: 40, Agents: 3}
	if diff := cmp.Diff(want, rep.Summary); diff != "" {
		t.Errorf("summary mismatch (-want +got):\n%s", diff)
	}
	require.Len(t, rep.Criteria, 2)
	assert.Equal(t, report.CriterionStats{Category: "pattern", Weight: 60, Average: 41.7, Max: 50, Min: 30, Scores: []float64{50, 45, 30}}, rep.Criteria[0])
}

func TestBuildNotCompleted(t *testing.T) {
	s := sample()
	s.Status = evaluation.StatusScoring
	_, err := report.Build(s)
	assert.True(t, errors.Is(err, report.ErrNotCompleted))
}

func TestRenderMarkdown(t *testing.T) {
	rep, err := report.Build(sample())
	require.NoError(t, err)
	var buf bytes.Buffer
	require.NoError(t, report.Render(rep, report.FormatMarkdown, &buf))
	out := buf.String()

	assert.True(t, strings.HasPrefix(out, "# Evaluation Results: eval-1\n"))
	assert.Contains(t, out, "1. 🥇 **aider**: 90.0/100.0 (90.0%)\n   - Clean consolidation. Minor leftovers.\n")
	assert.Contains(t, out, "| Agent | pattern (60.0) | hacks (40.0) | Total |")
	assert.Contains(t, out, "| codex | 30.0 | 20.0 | 50.0 |")
	assert.Contains(t, out, "_judge unavailable: judge: 503 after 3 attempts_")
	assert.Contains(t, out, "- Removed every IE hack")
}

func TestRenderFormats(t *testing.T) {
	rep, err := report.Build(sample())
	require.NoError(t, err)

	var js bytes.Buffer
	require.NoError(t, report.Render(rep, report.FormatJSON, &js))
	var decoded report.ComparisonReport
	require.NoError(t, json.Unmarshal(js.Bytes(), &decoded))
	assert.Equal(t, "aider", decoded.Rankings[0].Agent)

	var tbl bytes.Buffer
	require.NoError(t, report.Render(rep, report.FormatTable, &tbl))
	assert.Contains(t, tbl.String(), "aider")
	assert.Contains(t, tbl.String(), "unavailable")

	var page bytes.Buffer
	require.NoError(t, report.Render(rep, report.FormatHTML, &page))
	assert.Contains(t, page.String(), "<table>")
	assert.Contains(t, page.String(), "<h1>Evaluation Results: eval-1</h1>")

	assert.Error(t, report.Render(rep, "pdf", &bytes.Buffer{}))
}

func TestSummarize(t *testing.T) {
	second := snapshot("eval-2",
		evaluation.ResultView{Agent: "claude", SubmittedAt: t0, Breakdown: breakdown(60, 40)},
		evaluation.ResultView{Agent: "aider", SubmittedAt: t0, Breakdown: breakdown(30, 40)},
	)
	failed := snapshot("eval-3", evaluation.ResultView{Agent: "codex", SubmittedAt: t0})
	failed.Status = evaluation.StatusFailed

	got := report.Summarize([]*evaluation.Snapshot{sample(), second, failed})
	require.Len(t, got, 3)
	assert.Equal(t, report.AgentSummary{
		Rank: 1, Medal: "🥇", Agent: "claude", Evaluations: 2, Wins: 1,
		MeanScore: 92.5, BestScore: 100, WorstScore: 85, Consistency: 92.5,
	}, got[0])
	assert.Equal(t, "aider", got[1].Agent)
	assert.Equal(t, 1, got[1].Wins)
	assert.Equal(t, 1, got[2].Evaluations, "failed evaluations are ignored")

	var buf bytes.Buffer
	require.NoError(t, report.RenderSummary(got, report.FormatTable, &buf))
	assert.Contains(t, buf.String(), "claude")
	buf.Reset()
	require.NoError(t, report.RenderSummary(got, report.FormatMarkdown, &buf))
	assert.Contains(t, buf.String(), "| 1 🥇 | claude | 2 | 1 | 92.5% |")
}
