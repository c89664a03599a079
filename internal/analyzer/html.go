package analyzer

import (
	"bytes"
	"fmt"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/signalnine/arbiter/internal/artifact"
)

// pageStats summarizes the inline styling of a set of HTML artifacts.
type pageStats struct {
	InlineStyles int
	Repetitive   int
	DataDriven   int
	Positioning  int
	Unique       int
	IEHacks      int
	FontTags     int
	StyleBlocks  int
}

func (s pageStats) String() string {
	return fmt.Sprintf("%d inline (%d repetitive, %d data-driven, %d positioning, %d unique), %d IE hacks, %d <font>, %d <style>",
		s.InlineStyles, s.Repetitive, s.DataDriven, s.Positioning, s.Unique, s.IEHacks, s.FontTags, s.StyleBlocks)
}

// Elements with these ids are injected by the dashboard and never scored.
var injectedIDs = map[string]bool{
	"globalHeader":   true,
	"metricsPanel":   true,
	"metricsContent": true,
	"styleToggle":    true,
	"metricsToggle":  true,
}

const injectedContainers = "#globalHeader, #metricsPanel"

var (
	styleValueRe = regexp.MustCompile(`:\s*[^;]+`)
	numericRe    = regexp.MustCompile(`-?\$?\d+\.?\d*`)
	ieHackRes    = []*regexp.Regexp{
		regexp.MustCompile(`filter:`),
		regexp.MustCompile(`zoom:`),
		regexp.MustCompile(`\*[a-zA-Z]`),
		regexp.MustCompile(`_[a-zA-Z]`),
	}
	positioningProps = []string{
		"position", "top", "left", "right", "bottom",
		"margin", "padding", "float", "clear",
		"transform", "z-index",
	}
)

// normalizeStyle replaces property values with a placeholder so styles that
// differ only in values group together.
func normalizeStyle(style string) string {
	return strings.ToLower(strings.TrimSpace(styleValueRe.ReplaceAllString(style, ": VALUE")))
}

func isIEHack(style string) bool {
	for _, re := range ieHackRes {
		if re.MatchString(style) {
			return true
		}
	}
	return false
}

// isDataDriven reports whether element text looks like a value that
// justifies an inline style (amounts, signed deltas).
func isDataDriven(text string) bool {
	text = strings.TrimSpace(text)
	return numericRe.MatchString(text) || strings.HasPrefix(text, "-") || strings.HasPrefix(text, "+")
}

func isPositioning(style string) bool {
	style = strings.ToLower(style)
	for _, p := range positioningProps {
		if strings.Contains(style, p) {
			return true
		}
	}
	return false
}

type occurrence struct {
	style string
	text  string
}

// analyzePages computes stats over all artifacts together; repetition is
// counted across files.
func analyzePages(arts []artifact.Artifact) (pageStats, error) {
	var st pageStats
	freq := make(map[string][]occurrence)
	for _, a := range arts {
		doc, err := goquery.NewDocumentFromReader(strings.NewReader(a.Content))
		if err != nil {
			return pageStats{}, fmt.Errorf("parsing %s: %w", a.Name, err)
		}
		doc.Find("[style]").Each(func(_ int, s *goquery.Selection) {
			if injected(s) {
				return
			}
			style, _ := s.Attr("style")
			st.InlineStyles++
			if isIEHack(style) {
				st.IEHacks++
			}
			key := normalizeStyle(style)
			freq[key] = append(freq[key], occurrence{style: style, text: strings.TrimSpace(s.Text())})
		})
		st.FontTags += doc.Find("font").Length()
		st.StyleBlocks += doc.Find("style").Length()
	}

	for _, occ := range freq {
		first := occ[0]
		switch {
		case isDataDriven(first.text):
			st.DataDriven += len(occ)
		case isPositioning(first.style):
			st.Positioning += len(occ)
		case len(occ) > 1:
			st.Repetitive += len(occ)
		default:
			st.Unique++
		}
	}
	return st, nil
}

func injected(s *goquery.Selection) bool {
	if id, ok := s.Attr("id"); ok && injectedIDs[id] {
		return true
	}
	return s.ParentsFiltered(injectedContainers).Length() > 0
}

// pageCache memoizes stats for one Analyze call so the five CSS rules parse
// each artifact set once.
type pageCache struct {
	entries map[string]pageEntry
}

type pageEntry struct {
	stats pageStats
	err   error
}

func newPageCache() *pageCache {
	return &pageCache{entries: make(map[string]pageEntry)}
}

func (c *pageCache) stats(arts []artifact.Artifact) (pageStats, error) {
	var buf bytes.Buffer
	artifact.Digest(&buf, arts)
	key := buf.String()
	if e, ok := c.entries[key]; ok {
		return e.stats, e.err
	}
	st, err := analyzePages(arts)
	c.entries[key] = pageEntry{st, err}
	return st, err
}
