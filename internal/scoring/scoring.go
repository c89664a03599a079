// Package scoring combines analyzer and judge contributions into a
// per-category breakdown and ranks agent results.
package scoring

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/signalnine/arbiter/internal/analyzer"
	"github.com/signalnine/arbiter/internal/config"
	"github.com/signalnine/arbiter/internal/errdefs"
	"github.com/signalnine/arbiter/internal/judge"
)

// tolerance absorbs float rounding when checking the total against the
// weight sum.
const tolerance = 1e-9

type CategoryScore struct {
	Category string   `json:"category"`
	Weight   float64  `json:"weight"`
	Rule     float64  `json:"rule"`
	Judge    float64  `json:"judge"`
	Score    float64  `json:"score"`
	Evidence []string `json:"evidence,omitempty"`
}

// Breakdown is the scored outcome of one agent result. Scores are kept at
// full precision; use Round1 for display.
type Breakdown struct {
	Categories     []CategoryScore `json:"categories"`
	Total          float64         `json:"total"`
	WeightSum      float64         `json:"weight_sum"`
	Strengths      []string        `json:"strengths,omitempty"`
	Improvements   []string        `json:"improvements,omitempty"`
	Narrative      string          `json:"narrative,omitempty"`
	JudgeAvailable bool            `json:"judge_available"`
	JudgeError     string          `json:"judge_error,omitempty"`
	JudgeModel     string          `json:"judge_model,omitempty"`
	JudgeCost      float64         `json:"judge_cost,omitempty"`
}

// Percentage is Total relative to the weight sum, in [0, 100].
func (b *Breakdown) Percentage() float64 {
	if b == nil || b.WeightSum <= 0 {
		return 0
	}
	return b.Total / b.WeightSum * 100
}

func (b *Breakdown) Category(id string) (CategoryScore, bool) {
	for _, c := range b.Categories {
		if c.Category == id {
			return c, true
		}
	}
	return CategoryScore{}, false
}

// Round1 rounds to one decimal place for reporting.
func Round1(f float64) float64 {
	return math.Round(f*10) / 10
}

func clamp(v, hi float64) float64 {
	return math.Max(0, math.Min(hi, v))
}

// Aggregate builds the breakdown for one agent result. A nil verdict means
// the judge was unavailable (judgeErr says why): judged contributions score
// 0 with a note. Invalid weights or a missing analyzer score for a
// rule-evaluable category are invariant violations and return a
// FatalScoringError.
func Aggregate(categories []config.Category, analysis *analyzer.Result, verdict *judge.Verdict, judgeErr error) (*Breakdown, error) {
	if analysis == nil {
		return nil, errdefs.Fatal("", fmt.Errorf("no analyzer result"))
	}
	b := &Breakdown{
		Categories:     make([]CategoryScore, 0, len(categories)),
		Strengths:      append([]string(nil), analysis.Strengths...),
		Improvements:   append([]string(nil), analysis.Improvements...),
		JudgeAvailable: true,
	}

	judged := false
	for _, c := range categories {
		if c.Judged() {
			judged = true
			break
		}
	}
	if judged && verdict == nil {
		b.JudgeAvailable = false
		b.JudgeError = "judge unavailable"
		if judgeErr != nil {
			b.JudgeError = judgeErr.Error()
		}
	}
	if verdict != nil {
		b.Narrative = verdict.Narrative
		b.Strengths = append(b.Strengths, verdict.Strengths...)
		b.Improvements = append(b.Improvements, verdict.Improvements...)
		b.JudgeModel = verdict.Model
		b.JudgeCost = verdict.Cost
	}

	for _, c := range categories {
		if math.IsNaN(c.Weight) || math.IsInf(c.Weight, 0) || c.Weight <= 0 {
			return nil, errdefs.Fatal("", fmt.Errorf("category %q: weight must be positive, got %v", c.ID, c.Weight))
		}
		cs := CategoryScore{Category: c.ID, Weight: c.Weight}

		if rp := c.RulePoints(); rp > 0 {
			as, ok := analysis.Score(c.ID)
			if !ok {
				return nil, errdefs.Fatal("", fmt.Errorf("category %q: no analyzer score", c.ID))
			}
			if math.IsNaN(as.Points) {
				return nil, errdefs.Fatal("", fmt.Errorf("category %q: analyzer score is NaN", c.ID))
			}
			cs.Rule = clamp(as.Points, rp)
			cs.Evidence = append(cs.Evidence, as.Evidence...)
		}

		if jp := c.JudgePoints(); jp > 0 {
			switch {
			case verdict == nil:
				cs.Evidence = append(cs.Evidence, "judge unavailable")
			default:
				pts, ok := verdict.Scores[c.ID]
				if !ok || math.IsNaN(pts) {
					cs.Evidence = append(cs.Evidence, "judge gave no score")
				} else {
					cs.Judge = clamp(pts, jp)
				}
			}
		}

		cs.Score = clamp(cs.Rule+cs.Judge, c.Weight)
		b.Categories = append(b.Categories, cs)
		b.Total += cs.Score
		b.WeightSum += c.Weight
	}
	if b.Total > b.WeightSum+tolerance {
		return nil, errdefs.Fatal("", fmt.Errorf("total %v exceeds weight sum %v", b.Total, b.WeightSum))
	}
	return b, nil
}

// Entry is one scored agent result to rank.
type Entry struct {
	Agent       string
	SubmittedAt time.Time
	Breakdown   *Breakdown
}

type Ranked struct {
	Entry
	Rank int
}

// Rank orders entries by total descending, then earlier submission, then
// agent id, so the order is total. The input is not modified.
func Rank(entries []Entry) []Ranked {
	sorted := make([]Entry, len(entries))
	copy(sorted, entries)
	sort.SliceStable(sorted, func(i, j int) bool {
		ti, tj := total(sorted[i]), total(sorted[j])
		if ti != tj {
			return ti > tj
		}
		if !sorted[i].SubmittedAt.Equal(sorted[j].SubmittedAt) {
			return sorted[i].SubmittedAt.Before(sorted[j].SubmittedAt)
		}
		return sorted[i].Agent < sorted[j].Agent
	})
	out := make([]Ranked, len(sorted))
	for i, e := range sorted {
		out[i] = Ranked{Entry: e, Rank: i + 1}
	}
	return out
}

func total(e Entry) float64 {
	if e.Breakdown == nil {
		return math.Inf(-1)
	}
	return e.Breakdown.Total
}
