package judge

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/kaptinlin/jsonrepair"
)

type rawVerdict struct {
	Scores       map[string]any `json:"scores"`
	Feedback     string         `json:"feedback"`
	Narrative    string         `json:"narrative"`
	Strengths    []string       `json:"strengths"`
	Improvements []string       `json:"improvements"`
}

// extractJSON returns the outermost {...} span, dropping code fences,
// preambles and trailing commentary.
func extractJSON(content string) (string, bool) {
	start := strings.Index(content, "{")
	if start < 0 {
		return "", false
	}
	end := strings.LastIndex(content, "}")
	if end < start {
		// Truncated output; let the repairer close it.
		return content[start:], true
	}
	return content[start : end+1], true
}

func decode(content string) (*rawVerdict, error) {
	candidate, ok := extractJSON(content)
	if !ok {
		return nil, fmt.Errorf("%w: no JSON object in response", ErrUnparseable)
	}
	var raw rawVerdict
	if err := json.Unmarshal([]byte(candidate), &raw); err == nil {
		return &raw, nil
	}
	repaired, err := jsonrepair.JSONRepair(candidate)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnparseable, err)
	}
	if err := json.Unmarshal([]byte(repaired), &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnparseable, err)
	}
	return &raw, nil
}

// parseVerdict maps the model's scores onto the requested categories,
// clamping each to [0, MaxPoints]. At least one category must be scored.
func parseVerdict(content string, cats []CategorySpec) (*Verdict, error) {
	raw, err := decode(content)
	if err != nil {
		return nil, err
	}
	byKey := make(map[string]float64, len(raw.Scores))
	for k, v := range raw.Scores {
		if f, ok := toFloat(v); ok {
			byKey[strings.ToLower(strings.TrimSpace(k))] = f
		}
	}

	v := &Verdict{
		Narrative:    strings.TrimSpace(raw.Feedback),
		Scores:       make(map[string]float64, len(cats)),
		Strengths:    raw.Strengths,
		Improvements: raw.Improvements,
	}
	if v.Narrative == "" {
		v.Narrative = strings.TrimSpace(raw.Narrative)
	}
	for _, c := range cats {
		f, ok := byKey[strings.ToLower(c.ID)]
		if !ok {
			v.Unscored = append(v.Unscored, c.ID)
			continue
		}
		v.Scores[c.ID] = math.Max(0, math.Min(c.MaxPoints, f))
	}
	if len(v.Scores) == 0 {
		return nil, fmt.Errorf("%w: none of the judged categories were scored", ErrUnparseable)
	}
	return v, nil
}

func toFloat(v any) (float64, bool) {
	switch x := v.(type) {
	case float64:
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return 0, false
		}
		return x, true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
		if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
			return 0, false
		}
		return f, true
	case map[string]any:
		// {"score": 12, "reason": "..."}
		for _, key := range []string{"score", "points", "value"} {
			if s, ok := x[key]; ok {
				return toFloat(s)
			}
		}
	}
	return 0, false
}
