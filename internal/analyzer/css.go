package analyzer

import "fmt"

// pagePair loads baseline and submission stats. A parse failure of the
// submission is reported as a zero outcome, the same as a missing artifact.
func pagePair(in *input) (base, sub pageStats, failed *outcome) {
	sub, err := in.pages.stats(in.submitted)
	if err != nil {
		return pageStats{}, pageStats{}, &outcome{evidence: []string{"missing artifact: " + err.Error()}}
	}
	base, err = in.pages.stats(in.baseline)
	if err != nil {
		// A broken baseline scores like an empty one.
		base = pageStats{}
	}
	return base, sub, nil
}

func scorePatternConsolidation(in *input) (outcome, error) {
	base, sub, failed := pagePair(in)
	if failed != nil {
		return *failed, nil
	}
	out := outcome{
		fraction: 1,
		evidence: []string{fmt.Sprintf("repetitive inline styles: baseline %d, submission %d", base.Repetitive, sub.Repetitive)},
	}
	if base.Repetitive > 0 {
		out.fraction = float64(base.Repetitive-sub.Repetitive) / float64(base.Repetitive)
	}
	if float64(sub.Repetitive) > float64(base.Repetitive)*0.2 {
		out.improvements = append(out.improvements, fmt.Sprintf("Consider consolidating %d remaining repetitive styles", sub.Repetitive))
	}
	if float64(sub.Repetitive) < float64(base.Repetitive)*0.8 {
		out.strengths = append(out.strengths, "Good job consolidating repetitive patterns!")
	}
	return out, nil
}

// removal scores the all-or-nothing rules: full marks when the baseline had
// none or the submission removed every instance.
func removal(what string, base, sub int, improvement string) outcome {
	out := outcome{evidence: []string{fmt.Sprintf("%s: baseline %d, submission %d", what, base, sub)}}
	if base == 0 || sub == 0 {
		out.fraction = 1
	}
	if sub > 0 {
		out.improvements = []string{fmt.Sprintf(improvement, sub)}
	}
	return out
}

func scoreIEHackRemoval(in *input) (outcome, error) {
	base, sub, failed := pagePair(in)
	if failed != nil {
		return *failed, nil
	}
	return removal("IE hacks", base.IEHacks, sub.IEHacks, "Remove %d remaining IE-specific hacks"), nil
}

func scoreFontTags(in *input) (outcome, error) {
	base, sub, failed := pagePair(in)
	if failed != nil {
		return *failed, nil
	}
	return removal("<font> tags", base.FontTags, sub.FontTags, "Modernize %d remaining <font> tags"), nil
}

func scoreStyleBlocks(in *input) (outcome, error) {
	base, sub, failed := pagePair(in)
	if failed != nil {
		return *failed, nil
	}
	return removal("<style> blocks", base.StyleBlocks, sub.StyleBlocks, "Move %d <style> blocks to external CSS"), nil
}

// scoreSmartRetention rewards keeping only inline styles that belong inline:
// data-driven values and positioning.
func scoreSmartRetention(in *input) (outcome, error) {
	base, sub, failed := pagePair(in)
	if failed != nil {
		return *failed, nil
	}
	legit := sub.DataDriven + sub.Positioning
	out := outcome{
		fraction: 1,
		evidence: []string{fmt.Sprintf("%d of %d remaining inline styles are data-driven or positioning", legit, sub.InlineStyles)},
	}
	if sub.InlineStyles > 0 {
		out.fraction = float64(legit) / float64(sub.InlineStyles)
	}
	if base.DataDriven > 0 && float64(sub.DataDriven) >= float64(base.DataDriven)*0.8 {
		out.strengths = append(out.strengths, "Excellent retention of data-driven styles!")
	}
	return out, nil
}
