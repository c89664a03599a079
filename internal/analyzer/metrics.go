package analyzer

import (
	"fmt"
	"path"
	"strings"

	"github.com/signalnine/arbiter/internal/artifact"
)

var sourceExts = map[string]bool{
	".go": true, ".ts": true, ".tsx": true, ".js": true, ".jsx": true,
	".py": true, ".java": true, ".rb": true, ".rs": true, ".cs": true,
	".css": true, ".html": true, ".htm": true,
}

// codeMetrics holds file organization signals for a submission.
type codeMetrics struct {
	FileCount     int
	TotalLOC      int
	MaxFileLOC    int
	MaxFileName   string
	TestFileCount int
}

func measure(arts []artifact.Artifact) codeMetrics {
	var m codeMetrics
	for _, a := range arts {
		ext := strings.ToLower(path.Ext(a.Name))
		if !sourceExts[ext] || strings.HasSuffix(a.Name, ".d.ts") {
			continue
		}
		if isTestFile(a.Name) {
			m.TestFileCount++
			continue
		}
		loc := countLOC(a.Content)
		m.FileCount++
		m.TotalLOC += loc
		if loc > m.MaxFileLOC {
			m.MaxFileLOC = loc
			m.MaxFileName = a.Name
		}
	}
	return m
}

func isTestFile(name string) bool {
	base := path.Base(name)
	return strings.Contains(name, "__tests__/") ||
		strings.HasPrefix(name, "tests/") ||
		strings.Contains(base, "_test.") ||
		strings.Contains(base, ".test.") ||
		strings.Contains(base, ".spec.") ||
		strings.HasPrefix(base, "test_")
}

// organizationScore: several files (0-0.4), no monolith (0-0.3) and tests
// written (0-0.3).
func organizationScore(m codeMetrics) float64 {
	if m.FileCount == 0 {
		return 0
	}
	score := 0.0
	switch {
	case m.FileCount >= 3:
		score += 0.4
	case m.FileCount == 2:
		score += 0.3
	default:
		score += 0.1
	}
	switch {
	case m.MaxFileLOC <= 200:
		score += 0.3
	case m.MaxFileLOC <= 500:
		score += 0.2
	case m.MaxFileLOC <= 800:
		score += 0.1
	}
	switch {
	case m.TestFileCount >= 3:
		score += 0.3
	case m.TestFileCount >= 1:
		score += 0.2
	}
	return min(score, 1.0)
}

func scoreCodeOrganization(in *input) (outcome, error) {
	m := measure(in.submitted)
	if m.FileCount == 0 {
		return outcome{evidence: []string{"no source files submitted"}}, nil
	}
	out := outcome{
		fraction: organizationScore(m),
		evidence: []string{fmt.Sprintf("%d source files, %d LOC, largest %s (%d LOC), %d test files",
			m.FileCount, m.TotalLOC, m.MaxFileName, m.MaxFileLOC, m.TestFileCount)},
	}
	if m.MaxFileLOC > 500 {
		out.improvements = append(out.improvements, fmt.Sprintf("Split %s (%d LOC) into smaller files", m.MaxFileName, m.MaxFileLOC))
	}
	if m.TestFileCount == 0 {
		out.improvements = append(out.improvements, "Add tests for the submitted code")
	}
	return out, nil
}

// countLOC counts non-empty, non-comment lines.
func countLOC(content string) int {
	count := 0
	inBlockComment := false
	for _, line := range strings.Split(content, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}
		if inBlockComment {
			if strings.Contains(trimmed, "*/") {
				inBlockComment = false
			}
			continue
		}
		if strings.HasPrefix(trimmed, "/*") {
			inBlockComment = !strings.Contains(trimmed, "*/")
			continue
		}
		if strings.HasPrefix(trimmed, "//") {
			continue
		}
		count++
	}
	return count
}
