// Package report derives ranked comparison reports from completed
// evaluations and renders them.
package report

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"sort"
	"time"

	"github.com/signalnine/arbiter/internal/config"
	"github.com/signalnine/arbiter/internal/evaluation"
	"github.com/signalnine/arbiter/internal/scoring"
)

// ErrNotCompleted is returned when a report is requested for an evaluation
// that has not reached completed.
var ErrNotCompleted = errors.New("evaluation has not completed")

const (
	FormatMarkdown = "markdown"
	FormatJSON     = "json"
	FormatTable    = "table"
	FormatHTML     = "html"
)

var Formats = []string{FormatMarkdown, FormatJSON, FormatTable, FormatHTML}

type Ranking struct {
	Rank           int                     `json:"rank"`
	Medal          string                  `json:"medal,omitempty"`
	Agent          string                  `json:"agent"`
	SubmittedAt    time.Time               `json:"submitted_at"`
	Total          float64                 `json:"total"`
	WeightSum      float64                 `json:"weight_sum"`
	Percentage     float64                 `json:"percentage"`
	Categories     []scoring.CategoryScore `json:"categories"`
	Narrative      string                  `json:"narrative,omitempty"`
	Strengths      []string                `json:"strengths,omitempty"`
	Improvements   []string                `json:"improvements,omitempty"`
	JudgeAvailable bool                    `json:"judge_available"`
	JudgeError     string                  `json:"judge_error,omitempty"`
	JudgeCost      float64                 `json:"judge_cost,omitempty"`
}

type Stats struct {
	Average float64 `json:"average"`
	Highest float64 `json:"highest"`
	Lowest  float64 `json:"lowest"`
	Range   float64 `json:"range"`
	Agents  int     `json:"agents"`
}

type CriterionStats struct {
	Category string    `json:"category"`
	Weight   float64   `json:"weight"`
	Average  float64   `json:"average"`
	Max      float64   `json:"max"`
	Min      float64   `json:"min"`
	Scores   []float64 `json:"scores"`
}

// ComparisonReport is a read-only view over one completed evaluation.
type ComparisonReport struct {
	EvaluationID string            `json:"evaluation_id"`
	TaskID       string            `json:"task_id"`
	TaskName     string            `json:"task_name"`
	FinishedAt   time.Time         `json:"finished_at"`
	Categories   []config.Category `json:"-"`
	Rankings     []Ranking         `json:"rankings"`
	Summary      Stats             `json:"summary"`
	Criteria     []CriterionStats  `json:"criteria"`
	TotalCost    float64           `json:"total_judge_cost,omitempty"`
}

func Medal(rank int) string {
	switch rank {
	case 1:
		return "🥇"
	case 2:
		return "🥈"
	case 3:
		return "🥉"
	}
	return ""
}

// Build ranks the results of a completed evaluation.
func Build(s *evaluation.Snapshot) (*ComparisonReport, error) {
	if s.Status != evaluation.StatusCompleted {
		return nil, fmt.Errorf("evaluation %s is %s: %w", s.ID, s.Status, ErrNotCompleted)
	}
	entries := make([]scoring.Entry, 0, len(s.Results))
	for _, r := range s.Results {
		if r.Breakdown == nil {
			return nil, fmt.Errorf("evaluation %s: agent %q has no breakdown", s.ID, r.Agent)
		}
		entries = append(entries, scoring.Entry{Agent: r.Agent, SubmittedAt: r.SubmittedAt, Breakdown: r.Breakdown})
	}

	rep := &ComparisonReport{
		EvaluationID: s.ID,
		TaskID:       s.TaskID,
		TaskName:     s.TaskName,
		Categories:   s.Categories,
	}
	if s.FinishedAt != nil {
		rep.FinishedAt = *s.FinishedAt
	}
	for _, r := range scoring.Rank(entries) {
		b := r.Breakdown
		rep.Rankings = append(rep.Rankings, Ranking{
			Rank:           r.Rank,
			Medal:          Medal(r.Rank),
			Agent:          r.Agent,
			SubmittedAt:    r.SubmittedAt,
			Total:          scoring.Round1(b.Total),
			WeightSum:      b.WeightSum,
			Percentage:     scoring.Round1(b.Percentage()),
			Categories:     b.Categories,
			Narrative:      b.Narrative,
			Strengths:      b.Strengths,
			Improvements:   b.Improvements,
			JudgeAvailable: b.JudgeAvailable,
			JudgeError:     b.JudgeError,
			JudgeCost:      b.JudgeCost,
		})
		rep.TotalCost += b.JudgeCost
	}
	rep.Summary = stats(rep.Rankings)
	rep.Criteria = criteria(s.Categories, rep.Rankings)
	return rep, nil
}

func stats(rs []Ranking) Stats {
	if len(rs) == 0 {
		return Stats{}
	}
	st := Stats{Highest: rs[0].Percentage, Lowest: rs[len(rs)-1].Percentage, Agents: len(rs)}
	var sum float64
	for _, r := range rs {
		sum += r.Percentage
	}
	st.Average = scoring.Round1(sum / float64(len(rs)))
	st.Range = scoring.Round1(st.Highest - st.Lowest)
	return st
}

func criteria(cats []config.Category, rs []Ranking) []CriterionStats {
	out := make([]CriterionStats, 0, len(cats))
	for _, c := range cats {
		cs := CriterionStats{Category: c.ID, Weight: c.Weight, Min: math.Inf(1), Max: math.Inf(-1)}
		var sum float64
		for _, r := range rs {
			for _, s := range r.Categories {
				if s.Category != c.ID {
					continue
				}
				v := scoring.Round1(s.Score)
				cs.Scores = append(cs.Scores, v)
				sum += v
				cs.Min = math.Min(cs.Min, v)
				cs.Max = math.Max(cs.Max, v)
			}
		}
		if len(cs.Scores) == 0 {
			cs.Min, cs.Max = 0, 0
		} else {
			cs.Average = scoring.Round1(sum / float64(len(cs.Scores)))
		}
		out = append(out, cs)
	}
	return out
}

// Render writes the report in the given format.
func Render(rep *ComparisonReport, format string, w io.Writer) error {
	switch format {
	case FormatMarkdown, "":
		return writeMarkdown(rep, w)
	case FormatJSON:
		return writeJSON(rep, w)
	case FormatTable:
		return writeTable(rep, w)
	case FormatHTML:
		return writeHTML(rep, w)
	default:
		return fmt.Errorf("unknown report format %q (want one of %v)", format, Formats)
	}
}

func writeJSON(v any, w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// AgentSummary aggregates one agent across completed evaluations.
type AgentSummary struct {
	Rank        int     `json:"rank"`
	Medal       string  `json:"medal,omitempty"`
	Agent       string  `json:"agent"`
	Evaluations int     `json:"evaluations"`
	Wins        int     `json:"wins"`
	MeanScore   float64 `json:"mean_score"`
	BestScore   float64 `json:"best_score"`
	WorstScore  float64 `json:"worst_score"`
	Consistency float64 `json:"consistency"`
	JudgeCost   float64 `json:"judge_cost"`
}

// Summarize builds the cross-evaluation leaderboard. Scores are
// percentages; snapshots that are not completed are ignored.
func Summarize(snaps []*evaluation.Snapshot) []AgentSummary {
	type accum struct {
		count      int
		wins       int
		sum        float64
		best, wrst float64
		cost       float64
	}
	byAgent := map[string]*accum{}

	for _, s := range snaps {
		rep, err := Build(s)
		if err != nil {
			continue
		}
		for _, r := range rep.Rankings {
			a, ok := byAgent[r.Agent]
			if !ok {
				a = &accum{best: math.Inf(-1), wrst: math.Inf(1)}
				byAgent[r.Agent] = a
			}
			a.count++
			a.sum += r.Percentage
			a.best = math.Max(a.best, r.Percentage)
			a.wrst = math.Min(a.wrst, r.Percentage)
			a.cost += r.JudgeCost
			if r.Rank == 1 {
				a.wins++
			}
		}
	}

	var summaries []AgentSummary
	for name, a := range byAgent {
		s := AgentSummary{
			Agent:       name,
			Evaluations: a.count,
			Wins:        a.wins,
			MeanScore:   scoring.Round1(a.sum / float64(a.count)),
			BestScore:   a.best,
			WorstScore:  a.wrst,
			JudgeCost:   a.cost,
		}
		if a.best > 0 {
			s.Consistency = scoring.Round1(s.MeanScore / a.best * 100)
		}
		summaries = append(summaries, s)
	}
	sort.Slice(summaries, func(i, j int) bool {
		if summaries[i].MeanScore != summaries[j].MeanScore {
			return summaries[i].MeanScore > summaries[j].MeanScore
		}
		return summaries[i].Agent < summaries[j].Agent
	})
	for i := range summaries {
		summaries[i].Rank = i + 1
		summaries[i].Medal = Medal(i + 1)
	}
	return summaries
}

// RenderSummary writes the leaderboard as a table, markdown or JSON.
func RenderSummary(summaries []AgentSummary, format string, w io.Writer) error {
	switch format {
	case FormatMarkdown:
		return writeSummaryMarkdown(summaries, w)
	case FormatJSON:
		return writeJSON(summaries, w)
	case FormatTable, "":
		return writeSummaryTable(summaries, w)
	default:
		return fmt.Errorf("unknown summary format %q", format)
	}
}
