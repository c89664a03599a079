// Package analyzer is the deterministic rule-based scorer.
//
// Analyze is a pure function of its inputs: it makes no external calls and
// keeps no state between invocations, so results may be cached and re-runs
// on identical inputs yield identical scores.
package analyzer

import (
	"fmt"
	"math"
	"strings"

	"github.com/signalnine/arbiter/internal/artifact"
	"github.com/signalnine/arbiter/internal/config"
	"github.com/signalnine/arbiter/internal/errdefs"
)

// Interface is implemented by Analyzer and Cached.
type Interface interface {
	Analyze(baseline, submitted []artifact.Artifact, categories []config.Category) (*Result, error)
}

// CategoryScore is the rule-based contribution to one category.
type CategoryScore struct {
	Category string   `json:"category"`
	Points   float64  `json:"points"`
	Max      float64  `json:"max"`
	Evidence []string `json:"evidence,omitempty"`
	Missing  bool     `json:"missing,omitempty"`
}

type Result struct {
	Scores       []CategoryScore `json:"scores"`
	Strengths    []string        `json:"strengths,omitempty"`
	Improvements []string        `json:"improvements,omitempty"`
}

// Score returns the contribution recorded for category id.
func (r *Result) Score(id string) (CategoryScore, bool) {
	for _, s := range r.Scores {
		if s.Category == id {
			return s, true
		}
	}
	return CategoryScore{}, false
}

func (r *Result) clone() *Result {
	out := &Result{
		Scores:       make([]CategoryScore, len(r.Scores)),
		Strengths:    append([]string(nil), r.Strengths...),
		Improvements: append([]string(nil), r.Improvements...),
	}
	for i, s := range r.Scores {
		s.Evidence = append([]string(nil), s.Evidence...)
		out.Scores[i] = s
	}
	return out
}

// outcome is what a rule reports: the fraction of the category's rule
// points earned plus notes.
type outcome struct {
	fraction     float64
	evidence     []string
	strengths    []string
	improvements []string
}

// input is what a rule sees. Artifacts are already narrowed to the
// category's globs and checked for malformed content.
type input struct {
	category  config.Category
	baseline  []artifact.Artifact
	submitted []artifact.Artifact
	pages     *pageCache
}

type rule struct {
	// defaultGlobs select the artifacts a category depends on when it names
	// none. Nil means every submitted artifact.
	defaultGlobs []string
	score        func(in *input) (outcome, error)
}

var htmlGlobs = []string{"*.html", "*.htm"}

var rules = map[config.RuleKind]rule{
	config.RulePatternConsolidation: {htmlGlobs, scorePatternConsolidation},
	config.RuleIEHackRemoval:        {htmlGlobs, scoreIEHackRemoval},
	config.RuleFontTagModernization: {htmlGlobs, scoreFontTags},
	config.RuleStyleBlockCleanup:    {htmlGlobs, scoreStyleBlocks},
	config.RuleSmartRetention:       {htmlGlobs, scoreSmartRetention},
	config.RuleCodeOrganization:     {nil, scoreCodeOrganization},
	config.RuleRequiredPatterns:     {nil, scoreRequiredPatterns},
	config.RuleForbiddenPatterns:    {nil, scoreForbiddenPatterns},
}

// Supports reports whether the analyzer implements kind.
func Supports(kind config.RuleKind) bool {
	_, ok := rules[kind]
	return ok
}

// Analyzer is stateless; the zero value is ready to use.
type Analyzer struct{}

func New() *Analyzer { return &Analyzer{} }

// Analyze scores every rule-evaluable category. Judge-only categories get a
// zero contribution with a note. A missing or malformed artifact zeroes the
// categories that depend on it. Only a broken rule (panic, invariant
// violation) returns an error, always a FatalScoringError.
func (a *Analyzer) Analyze(baseline, submitted []artifact.Artifact, categories []config.Category) (res *Result, err error) {
	var current string
	defer func() {
		if r := recover(); r != nil {
			res = nil
			err = errdefs.Fatal("", fmt.Errorf("analyzer panic in category %q: %v", current, r))
		}
	}()

	res = &Result{Scores: make([]CategoryScore, 0, len(categories))}
	pages := newPageCache()
	for _, c := range categories {
		current = c.ID
		if c.Scorer == config.ScorerJudge {
			res.Scores = append(res.Scores, CategoryScore{Category: c.ID, Evidence: []string{"scored by AI judge"}})
			continue
		}
		r, ok := rules[c.Rule]
		if !ok {
			return nil, errdefs.Fatal("", fmt.Errorf("category %q: no analyzer rule %q", c.ID, c.Rule))
		}
		max := c.RulePoints()
		if math.IsNaN(max) || max < 0 {
			return nil, errdefs.Fatal("", fmt.Errorf("category %q: invalid weight %v", c.ID, c.Weight))
		}

		globs := c.Artifacts
		if len(globs) == 0 {
			globs = r.defaultGlobs
		}
		sub, note := selectArtifacts(submitted, globs)
		if note != "" {
			res.Scores = append(res.Scores, CategoryScore{Category: c.ID, Max: max, Missing: true, Evidence: []string{note}})
			continue
		}
		base, _ := selectArtifacts(baseline, globs)

		out, err := r.score(&input{category: c, baseline: base, submitted: sub, pages: pages})
		if err != nil {
			return nil, errdefs.Fatal("", fmt.Errorf("category %q: %w", c.ID, err))
		}
		frac := math.Max(0, math.Min(1, out.fraction))
		res.Scores = append(res.Scores, CategoryScore{Category: c.ID, Points: frac * max, Max: max, Evidence: out.evidence})
		res.Strengths = appendUnique(res.Strengths, out.strengths...)
		res.Improvements = appendUnique(res.Improvements, out.improvements...)
	}
	return res, nil
}

// selectArtifacts narrows to globs. The note is non-empty when nothing
// usable is left: no match, or a matching artifact is malformed.
func selectArtifacts(all []artifact.Artifact, globs []string) ([]artifact.Artifact, string) {
	sel := all
	if len(globs) > 0 {
		sel = artifact.Match(all, globs...)
	}
	if len(sel) == 0 {
		if len(globs) == 0 {
			return nil, "missing artifact: nothing submitted"
		}
		return nil, "missing artifact: no file matches " + strings.Join(globs, ", ")
	}
	for _, a := range sel {
		if artifact.Malformed(a) {
			return nil, fmt.Sprintf("missing artifact: %s is malformed", a.Name)
		}
	}
	return sel, ""
}

func appendUnique(dst []string, items ...string) []string {
	for _, it := range items {
		dup := false
		for _, d := range dst {
			if d == it {
				dup = true
				break
			}
		}
		if !dup {
			dst = append(dst, it)
		}
	}
	return dst
}
