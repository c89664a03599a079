package analyzer

import (
	"fmt"
	"regexp"
	"strings"
)

func compilePatterns(patterns []string) ([]*regexp.Regexp, error) {
	res := make([]*regexp.Regexp, len(patterns))
	for i, p := range patterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("pattern %q: %w", p, err)
		}
		res[i] = re
	}
	return res, nil
}

// matchesAny reports whether re matches any artifact, returning the first
// matching artifact name.
func matchesAny(re *regexp.Regexp, in *input) (string, bool) {
	for _, a := range in.submitted {
		if re.MatchString(a.Content) {
			return a.Name, true
		}
	}
	return "", false
}

func scoreRequiredPatterns(in *input) (outcome, error) {
	res, err := compilePatterns(in.category.Patterns)
	if err != nil {
		return outcome{}, err
	}
	if len(res) == 0 {
		return outcome{}, fmt.Errorf("no patterns configured")
	}
	var missing []string
	for _, re := range res {
		if _, ok := matchesAny(re, in); !ok {
			missing = append(missing, re.String())
		}
	}
	out := outcome{fraction: float64(len(res)-len(missing)) / float64(len(res))}
	out.evidence = []string{fmt.Sprintf("%d of %d required patterns found", len(res)-len(missing), len(res))}
	if len(missing) > 0 {
		out.evidence = append(out.evidence, "missing: "+strings.Join(missing, ", "))
		out.improvements = []string{fmt.Sprintf("Add content matching %s", strings.Join(missing, ", "))}
	}
	return out, nil
}

func scoreForbiddenPatterns(in *input) (outcome, error) {
	res, err := compilePatterns(in.category.Patterns)
	if err != nil {
		return outcome{}, err
	}
	if len(res) == 0 {
		return outcome{}, fmt.Errorf("no patterns configured")
	}
	var found []string
	for _, re := range res {
		if name, ok := matchesAny(re, in); ok {
			found = append(found, fmt.Sprintf("%s in %s", re.String(), name))
		}
	}
	out := outcome{fraction: float64(len(res)-len(found)) / float64(len(res))}
	out.evidence = []string{fmt.Sprintf("%d of %d forbidden patterns present", len(found), len(res))}
	if len(found) > 0 {
		out.evidence = append(out.evidence, "found: "+strings.Join(found, "; "))
		out.improvements = []string{"Remove forbidden content: " + strings.Join(found, "; ")}
	}
	return out, nil
}
