package cmd

import (
	"fmt"
	"strings"

	"github.com/chainguard-dev/clog"
	"github.com/spf13/cobra"

	"github.com/signalnine/arbiter/internal/report"
	"github.com/signalnine/arbiter/internal/workspace"
)

var (
	flagTask        string
	flagAgents      []string
	flagSubmissions []string
	flagRunFormat   string
)

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Evaluate local submissions once and print the comparison report",
		Example: `  arbiter run --task css-consolidation \
    --submission claude-code=./out/claude --submission codex=./out/codex`,
		RunE: runEvaluation,
	}
	cmd.Flags().StringVar(&flagTask, "task", "", "task id")
	cmd.Flags().StringSliceVar(&flagAgents, "agent", nil, "restrict to these participants (default all)")
	cmd.Flags().StringArrayVar(&flagSubmissions, "submission", nil, "agent=dir; artifacts read from dir")
	cmd.Flags().StringVar(&flagRunFormat, "format", report.FormatTable, "report format ("+strings.Join(report.Formats, ", ")+")")
	_ = cmd.MarkFlagRequired("task")
	return cmd
}

type submission struct {
	Agent string
	Dir   string
}

// parseSubmissions parses repeated agent=dir flags. An agent may appear
// once.
func parseSubmissions(flags []string) ([]submission, error) {
	seen := make(map[string]bool, len(flags))
	out := make([]submission, 0, len(flags))
	for _, f := range flags {
		agent, dir, ok := strings.Cut(f, "=")
		agent, dir = strings.TrimSpace(agent), strings.TrimSpace(dir)
		if !ok || agent == "" || dir == "" {
			return nil, fmt.Errorf("invalid --submission %q: want agent=dir", f)
		}
		if seen[agent] {
			return nil, fmt.Errorf("duplicate --submission for agent %q", agent)
		}
		seen[agent] = true
		out = append(out, submission{Agent: agent, Dir: dir})
	}
	return out, nil
}

func runEvaluation(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	subs, err := parseSubmissions(flagSubmissions)
	if err != nil {
		return err
	}
	eng, err := openEngine(ctx)
	if err != nil {
		return err
	}
	defer eng.Close()

	snap, err := eng.orch.Start(ctx, flagTask, flagAgents)
	if err != nil {
		return err
	}
	log := clog.FromContext(ctx).With("evaluation", snap.ID)
	log.With("agents", strings.Join(snap.Agents, ",")).Info("evaluation started")

	for _, s := range subs {
		arts, err := workspace.ReadDir(s.Dir)
		if err != nil {
			return fmt.Errorf("submission for %s: %w", s.Agent, err)
		}
		if _, err := eng.orch.Submit(ctx, snap.ID, s.Agent, arts); err != nil {
			return fmt.Errorf("submission for %s: %w", s.Agent, err)
		}
		log.With("agent", s.Agent).With("artifacts", len(arts)).Info("submitted")
	}

	final, err := eng.orch.Wait(ctx, snap.ID)
	if err != nil {
		return err
	}
	rep, err := report.Build(final)
	if err != nil {
		return err
	}
	return report.Render(rep, flagRunFormat, cmd.OutOrStdout())
}
