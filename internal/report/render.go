package report

import (
	"bytes"
	"fmt"
	"html"
	"io"
	"strings"

	"github.com/olekukonko/tablewriter"
	"github.com/olekukonko/tablewriter/renderer"
	"github.com/olekukonko/tablewriter/tw"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
)

func num(f float64) string { return fmt.Sprintf("%.1f", f) }

func writeMarkdown(rep *ComparisonReport, w io.Writer) error {
	var b strings.Builder
	fmt.Fprintf(&b, "# Evaluation Results: %s\n\n", rep.EvaluationID)
	fmt.Fprintf(&b, "**Task:** %s (`%s`)\n", rep.TaskName, rep.TaskID)
	if !rep.FinishedAt.IsZero() {
		fmt.Fprintf(&b, "**Completed:** %s\n", rep.FinishedAt.UTC().Format("2006-01-02 15:04:05 UTC"))
	}

	b.WriteString("\n## Rankings\n\n")
	for _, r := range rep.Rankings {
		medal := ""
		if r.Medal != "" {
			medal = r.Medal + " "
		}
		fmt.Fprintf(&b, "%d. %s**%s**: %s/%s (%s%%)\n", r.Rank, medal, r.Agent, num(r.Total), num(r.WeightSum), num(r.Percentage))
		if r.Narrative != "" {
			fmt.Fprintf(&b, "   - %s\n", oneLine(r.Narrative))
		}
		if !r.JudgeAvailable {
			fmt.Fprintf(&b, "   - _judge unavailable: %s_\n", oneLine(r.JudgeError))
		}
		b.WriteString("\n")
	}

	b.WriteString("## Category Breakdown\n\n")
	b.WriteString("| Agent |")
	for _, c := range rep.Categories {
		fmt.Fprintf(&b, " %s (%s) |", c.ID, num(c.Weight))
	}
	b.WriteString(" Total |\n|---|")
	for range rep.Categories {
		b.WriteString("---|")
	}
	b.WriteString("---|\n")
	for _, r := range rep.Rankings {
		fmt.Fprintf(&b, "| %s |", r.Agent)
		for _, c := range rep.Categories {
			fmt.Fprintf(&b, " %s |", num(categoryScore(r, c.ID)))
		}
		fmt.Fprintf(&b, " %s |\n", num(r.Total))
	}

	b.WriteString("\n## Summary\n\n")
	fmt.Fprintf(&b, "- Agents: %d\n", rep.Summary.Agents)
	fmt.Fprintf(&b, "- Average score: %s%%\n", num(rep.Summary.Average))
	fmt.Fprintf(&b, "- Highest score: %s%%\n", num(rep.Summary.Highest))
	fmt.Fprintf(&b, "- Lowest score: %s%%\n", num(rep.Summary.Lowest))
	fmt.Fprintf(&b, "- Score range: %s\n", num(rep.Summary.Range))
	if rep.TotalCost > 0 {
		fmt.Fprintf(&b, "- Judge cost: $%.4f\n", rep.TotalCost)
	}

	if len(rep.Criteria) > 0 {
		b.WriteString("\n## Criteria\n\n| Category | Weight | Average | Max | Min |\n|---|---|---|---|---|\n")
		for _, c := range rep.Criteria {
			fmt.Fprintf(&b, "| %s | %s | %s | %s | %s |\n", c.Category, num(c.Weight), num(c.Average), num(c.Max), num(c.Min))
		}
	}

	b.WriteString("\n## Feedback\n")
	for _, r := range rep.Rankings {
		if len(r.Strengths) == 0 && len(r.Improvements) == 0 {
			continue
		}
		fmt.Fprintf(&b, "\n### %s\n", r.Agent)
		if len(r.Strengths) > 0 {
			b.WriteString("\n**Strengths**\n\n")
			for _, s := range r.Strengths {
				fmt.Fprintf(&b, "- %s\n", oneLine(s))
			}
		}
		if len(r.Improvements) > 0 {
			b.WriteString("\n**Improvements**\n\n")
			for _, s := range r.Improvements {
				fmt.Fprintf(&b, "- %s\n", oneLine(s))
			}
		}
	}
	_, err := io.WriteString(w, b.String())
	return err
}

func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func categoryScore(r Ranking, id string) float64 {
	for _, c := range r.Categories {
		if c.Category == id {
			return c.Score
		}
	}
	return 0
}

func createStandardTable(headers []string, w io.Writer) *tablewriter.Table {
	cfg := tablewriter.Config{
		Header: tw.CellConfig{
			Alignment:  tw.CellAlignment{Global: tw.AlignLeft},
			Formatting: tw.CellFormatting{AutoFormat: tw.Off},
		},
		Row: tw.CellConfig{
			Alignment: tw.CellAlignment{Global: tw.AlignLeft},
		},
		Behavior: tw.Behavior{TrimSpace: tw.Off},
	}
	return tablewriter.NewTable(w,
		tablewriter.WithConfig(cfg),
		tablewriter.WithHeader(headers),
		tablewriter.WithRenderer(renderer.NewBlueprint()),
		tablewriter.WithRowAutoWrap(tw.WrapNone),
	)
}

func writeTable(rep *ComparisonReport, w io.Writer) error {
	headers := []string{"RANK", "AGENT"}
	for _, c := range rep.Categories {
		headers = append(headers, strings.ToUpper(c.ID))
	}
	headers = append(headers, "TOTAL", "PERCENT", "JUDGE")
	table := createStandardTable(headers, w)
	for _, r := range rep.Rankings {
		row := []string{fmt.Sprintf("%d", r.Rank), r.Agent}
		for _, c := range rep.Categories {
			row = append(row, num(categoryScore(r, c.ID)))
		}
		judge := "ok"
		if !r.JudgeAvailable {
			judge = "unavailable"
		}
		row = append(row, num(r.Total), num(r.Percentage)+"%", judge)
		if err := table.Append(row); err != nil {
			return fmt.Errorf("appending row: %w", err)
		}
	}
	return table.Render()
}

const htmlHead = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>%s</title>
</head>
<body>
`

func writeHTML(rep *ComparisonReport, w io.Writer) error {
	var src bytes.Buffer
	if err := writeMarkdown(rep, &src); err != nil {
		return err
	}
	md := goldmark.New(goldmark.WithExtensions(extension.Table))
	var body bytes.Buffer
	if err := md.Convert(src.Bytes(), &body); err != nil {
		return fmt.Errorf("converting report to html: %w", err)
	}
	fmt.Fprintf(w, htmlHead, html.EscapeString("Evaluation Results: "+rep.EvaluationID))
	if _, err := w.Write(body.Bytes()); err != nil {
		return err
	}
	_, err := io.WriteString(w, "</body>\n</html>\n")
	return err
}

func writeSummaryTable(summaries []AgentSummary, w io.Writer) error {
	table := createStandardTable([]string{"RANK", "AGENT", "EVALS", "WINS", "MEAN", "BEST", "WORST", "CONSISTENCY", "JUDGE COST"}, w)
	for _, s := range summaries {
		if err := table.Append([]string{
			fmt.Sprintf("%d", s.Rank), s.Agent, fmt.Sprintf("%d", s.Evaluations), fmt.Sprintf("%d", s.Wins),
			num(s.MeanScore) + "%", num(s.BestScore) + "%", num(s.WorstScore) + "%", num(s.Consistency) + "%",
			fmt.Sprintf("$%.2f", s.JudgeCost),
		}); err != nil {
			return fmt.Errorf("appending row: %w", err)
		}
	}
	return table.Render()
}

func writeSummaryMarkdown(summaries []AgentSummary, w io.Writer) error {
	fmt.Fprintln(w, "| Rank | Agent | Evaluations | Wins | Mean | Best | Worst | Consistency | Judge Cost |")
	fmt.Fprintln(w, "|---|---|---|---|---|---|---|---|---|")
	for _, s := range summaries {
		fmt.Fprintf(w, "| %d %s | %s | %d | %d | %.1f%% | %.1f%% | %.1f%% | %.1f%% | $%.2f |\n",
			s.Rank, s.Medal, s.Agent, s.Evaluations, s.Wins, s.MeanScore, s.BestScore, s.WorstScore, s.Consistency, s.JudgeCost)
	}
	return nil
}
