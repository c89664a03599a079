package scoring_test

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/signalnine/arbiter/internal/analyzer"
	"github.com/signalnine/arbiter/internal/config"
	"github.com/signalnine/arbiter/internal/errdefs"
	"github.com/signalnine/arbiter/internal/judge"
	"github.com/signalnine/arbiter/internal/scoring"
)

func cssCategories() []config.Category {
	return []config.Category{
		{ID: "pattern", Weight: 40, Scorer: config.ScorerRule, Rule: config.RulePatternConsolidation},
		{ID: "hacks", Weight: 20, Scorer: config.ScorerRule, Rule: config.RuleIEHackRemoval},
		{ID: "fonts", Weight: 15, Scorer: config.ScorerRule, Rule: config.RuleFontTagModernization},
		{ID: "cleanup", Weight: 15, Scorer: config.ScorerRule, Rule: config.RuleStyleBlockCleanup},
		{ID: "retention", Weight: 10, Scorer: config.ScorerRule, Rule: config.RuleSmartRetention},
	}
}

func analysis(points map[string]float64) *analyzer.Result {
	r := &analyzer.Result{}
	for _, id := range []string{"pattern", "hacks", "fonts", "cleanup", "retention", "org"} {
		if p, ok := points[id]; ok {
			r.Scores = append(r.Scores, analyzer.CategoryScore{Category: id, Points: p})
		}
	}
	return r
}

func TestWeightedScenario(t *testing.T) {
	cats := cssCategories()
	a, err := scoring.Aggregate(cats, analysis(map[string]float64{
		"pattern": 40, "hacks": 20, "fonts": 10, "cleanup": 15, "retention": 5,
	}), nil, nil)
	require.NoError(t, err)
	b, err := scoring.Aggregate(cats, analysis(map[string]float64{
		"pattern": 30, "hacks": 20, "fonts": 15, "cleanup": 10, "retention": 10,
	}), nil, nil)
	require.NoError(t, err)

	assert.Equal(t, 90.0, scoring.Round1(a.Percentage()))
	assert.Equal(t, 85.0, scoring.Round1(b.Percentage()))
	assert.True(t, a.JudgeAvailable, "no judged categories means nothing was missing")

	ranked := scoring.Rank([]scoring.Entry{
		{Agent: "B", SubmittedAt: time.Unix(100, 0), Breakdown: b},
		{Agent: "A", SubmittedAt: time.Unix(200, 0), Breakdown: a},
	})
	require.Len(t, ranked, 2)
	assert.Equal(t, "A", ranked[0].Agent)
	assert.Equal(t, 1, ranked[0].Rank)
	assert.Equal(t, "B", ranked[1].Agent)
}

func TestAggregateClampsAndBounds(t *testing.T) {
	cats := []config.Category{
		{ID: "pattern", Weight: 10, Scorer: config.ScorerRule, Rule: config.RulePatternConsolidation},
		{ID: "hacks", Weight: 10, Scorer: config.ScorerHybrid, Rule: config.RuleIEHackRemoval, JudgeShare: 0.3},
		{ID: "fonts", Weight: 10, Scorer: config.ScorerJudge},
	}
	verdict := &judge.Verdict{Scores: map[string]float64{"hacks": 99, "fonts": -4}, Narrative: "ok", Model: "m"}
	b, err := scoring.Aggregate(cats, analysis(map[string]float64{"pattern": 25, "hacks": -3}), verdict, nil)
	require.NoError(t, err)

	for _, c := range b.Categories {
		assert.GreaterOrEqual(t, c.Score, 0.0, c.Category)
		assert.LessOrEqual(t, c.Score, c.Weight, c.Category)
	}
	assert.LessOrEqual(t, b.Total, b.WeightSum)

	p, _ := b.Category("pattern")
	assert.Equal(t, 10.0, p.Score)
	h, _ := b.Category("hacks")
	assert.Equal(t, 0.0, h.Rule)
	assert.InDelta(t, 3.0, h.Judge, 1e-9)
	f, _ := b.Category("fonts")
	assert.Equal(t, 0.0, f.Score)
	assert.Equal(t, "ok", b.Narrative)
	assert.Equal(t, "m", b.JudgeModel)
}

func TestAggregateJudgeUnavailable(t *testing.T) {
	cats := []config.Category{
		{ID: "org", Weight: 40, Scorer: config.ScorerRule, Rule: config.RuleCodeOrganization},
		{ID: "quality", Weight: 60, Scorer: config.ScorerJudge},
	}
	b, err := scoring.Aggregate(cats, analysis(map[string]float64{"org": 36}), nil, errors.New("503 after 3 attempts"))
	require.NoError(t, err)
	assert.False(t, b.JudgeAvailable)
	assert.Equal(t, "503 after 3 attempts", b.JudgeError)
	q, _ := b.Category("quality")
	assert.Zero(t, q.Score)
	assert.Contains(t, q.Evidence, "judge unavailable")
	assert.InDelta(t, 36.0, b.Percentage(), 1e-9)
}

func TestAggregateWeightSumIsDenominator(t *testing.T) {
	cats := []config.Category{
		{ID: "pattern", Weight: 3, Scorer: config.ScorerRule, Rule: config.RulePatternConsolidation},
		{ID: "hacks", Weight: 1, Scorer: config.ScorerRule, Rule: config.RuleIEHackRemoval},
	}
	b, err := scoring.Aggregate(cats, analysis(map[string]float64{"pattern": 3, "hacks": 0}), nil, nil)
	require.NoError(t, err)
	assert.Equal(t, 4.0, b.WeightSum)
	assert.Equal(t, 75.0, b.Percentage())
}

func TestAggregateFatal(t *testing.T) {
	tests := []struct {
		name string
		cats []config.Category
		res  *analyzer.Result
	}{
		{"negative weight", []config.Category{{ID: "pattern", Weight: -1, Scorer: config.ScorerRule, Rule: config.RulePatternConsolidation}}, analysis(map[string]float64{"pattern": 1})},
		{"nan weight", []config.Category{{ID: "pattern", Weight: math.NaN(), Scorer: config.ScorerRule, Rule: config.RulePatternConsolidation}}, analysis(map[string]float64{"pattern": 1})},
		{"missing analyzer score", cssCategories(), analysis(map[string]float64{"pattern": 1})},
		{"no analysis", cssCategories(), nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := scoring.Aggregate(tt.cats, tt.res, nil, nil)
			require.Error(t, err)
			assert.True(t, errdefs.IsFatal(err))
		})
	}
}

func TestRankTieBreaks(t *testing.T) {
	same := &scoring.Breakdown{Total: 50, WeightSum: 100}
	t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	entries := []scoring.Entry{
		{Agent: "late", SubmittedAt: t0.Add(time.Minute), Breakdown: same},
		{Agent: "zeta", SubmittedAt: t0, Breakdown: same},
		{Agent: "alpha", SubmittedAt: t0, Breakdown: same},
		{Agent: "best", SubmittedAt: t0.Add(time.Hour), Breakdown: &scoring.Breakdown{Total: 70, WeightSum: 100}},
	}
	first := scoring.Rank(entries)
	var order []string
	for _, r := range first {
		order = append(order, r.Agent)
	}
	assert.Equal(t, []string{"best", "alpha", "zeta", "late"}, order)

	// Ranking the ranked output again yields the same order.
	again := make([]scoring.Entry, len(first))
	for i := range first {
		again[len(first)-1-i] = first[i].Entry
	}
	second := scoring.Rank(again)
	for i := range first {
		assert.Equal(t, first[i].Agent, second[i].Agent)
		assert.Equal(t, i+1, second[i].Rank)
	}
	assert.Equal(t, "late", entries[0].Agent, "input is not reordered")
}

func TestRound1(t *testing.T) {
	assert.Equal(t, 33.3, scoring.Round1(100.0/3))
	assert.Equal(t, 66.7, scoring.Round1(200.0/3))
	assert.Equal(t, 90.0, scoring.Round1(89.96))
}
