package judge

import (
	"fmt"
	"strconv"
	"strings"
	"text/template"
	"unicode/utf8"

	"github.com/sergi/go-diff/diffmatchpatch"

	"github.com/signalnine/arbiter/internal/artifact"
)

const promptTemplate = `# Task Evaluation: {{or .TaskName "Unknown Task"}}

## Task Description
{{or .TaskDescription "No description provided"}}

## Agent Being Evaluated
{{.AgentID}}
{{- if .AgentPrompt}}

Instructions given to the agent:
{{.AgentPrompt}}
{{- end}}

## Scoring Criteria
{{range .Categories}}- **{{.ID}}** ({{points .MaxPoints}} points): {{or .Description "No description"}}
{{end}}
## Baseline Files (Original)
{{files .Baseline "BASELINE"}}

## Solution Files (Agent Output)
{{files .Submitted "SOLUTION"}}
{{- if .Patch}}

## Changes
` + "```diff" + `
{{.Patch}}
` + "```" + `
{{- end}}

## Instructions
Please evaluate this solution based on the scoring criteria above. Consider:

1. **Task Completion**: Does the solution accomplish the stated goals?
2. **Code Quality**: Is the code well-structured, readable, and maintainable?
3. **Best Practices**: Does the solution follow established coding conventions?
4. **Performance**: Are there any obvious performance issues or improvements?
5. **Edge Cases**: Does the solution handle edge cases appropriately?

Score each criterion from 0 up to its points. Provide your evaluation as JSON with this exact structure:
` + "```json" + `
{
  "scores": {
{{- range $i, $c := .Categories}}{{if $i}},{{end}}
    "{{$c.ID}}": <0-{{points $c.MaxPoints}}>
{{- end}}
  },
  "total_score": <sum of all scores>,
  "feedback": "Overall evaluation summary (2-3 sentences)",
  "strengths": ["strength1", "strength2"],
  "improvements": ["improvement1", "improvement2"]
}
` + "```" + `

Be objective and constructive in your evaluation.
{{- if .Guidelines}}

## Additional Evaluation Guidelines
{{.Guidelines}}
{{- end}}
`

type promptData struct {
	*Request
	Patch      string
	Guidelines string
}

func funcs(maxChars int) template.FuncMap {
	return template.FuncMap{
		"points": func(f float64) string { return strconv.FormatFloat(f, 'f', -1, 64) },
		"files": func(arts []artifact.Artifact, label string) string {
			return formatFiles(arts, label, maxChars)
		},
	}
}

var basePrompt = template.Must(template.New("judge").Funcs(funcs(0)).Parse(promptTemplate))

func renderPrompt(req *Request, maxChars int) (string, error) {
	data := promptData{Request: req}
	if req.RubricPrompt != "" {
		g, err := template.New("rubric").Parse(req.RubricPrompt)
		if err != nil {
			return "", fmt.Errorf("parsing rubric prompt: %w", err)
		}
		var sb strings.Builder
		if err := g.Execute(&sb, req); err != nil {
			return "", fmt.Errorf("rendering rubric prompt: %w", err)
		}
		data.Guidelines = strings.TrimSpace(sb.String())
	}
	data.Patch = truncate(patch(req.Baseline, req.Submitted), maxChars)

	t, err := basePrompt.Clone()
	if err != nil {
		return "", err
	}
	var sb strings.Builder
	if err := t.Funcs(funcs(maxChars)).Execute(&sb, data); err != nil {
		return "", fmt.Errorf("rendering judge prompt: %w", err)
	}
	return sb.String(), nil
}

func formatFiles(arts []artifact.Artifact, label string, maxChars int) string {
	if len(arts) == 0 {
		return label + ": No files provided"
	}
	var sb strings.Builder
	sb.WriteString(label + ":")
	for _, a := range arts {
		fmt.Fprintf(&sb, "\n\n### %s\n```\n%s\n```", a.Name, truncate(a.Content, maxChars))
	}
	return sb.String()
}

// truncate cuts s to at most max bytes without splitting a UTF-8 sequence.
func truncate(s string, max int) string {
	if max <= 0 || len(s) <= max {
		return s
	}
	for max > 0 && !utf8.RuneStart(s[max]) {
		max--
	}
	return s[:max] + "\n... (truncated)"
}

// patch renders a line diff of every submitted file against the baseline
// file of the same name. Unchanged runs are elided.
func patch(baseline, submitted []artifact.Artifact) string {
	base := make(map[string]string, len(baseline))
	for _, a := range baseline {
		base[a.Name] = a.Content
	}
	dmp := diffmatchpatch.New()
	var sb strings.Builder
	for _, a := range submitted {
		old := base[a.Name]
		if old == a.Content {
			continue
		}
		c1, c2, lines := dmp.DiffLinesToChars(old, a.Content)
		diffs := dmp.DiffCharsToLines(dmp.DiffMain(c1, c2, false), lines)
		fmt.Fprintf(&sb, "--- a/%s\n+++ b/%s\n", a.Name, a.Name)
		for _, d := range diffs {
			var prefix string
			switch d.Type {
			case diffmatchpatch.DiffInsert:
				prefix = "+"
			case diffmatchpatch.DiffDelete:
				prefix = "-"
			default:
				sb.WriteString("@@\n")
				continue
			}
			for _, line := range strings.SplitAfter(d.Text, "\n") {
				if line == "" {
					continue
				}
				sb.WriteString(prefix + strings.TrimSuffix(line, "\n") + "\n")
			}
		}
	}
	return strings.TrimSuffix(sb.String(), "\n")
}
