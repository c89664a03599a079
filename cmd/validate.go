package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/signalnine/arbiter/internal/analyzer"
	"github.com/signalnine/arbiter/internal/config"
	"github.com/signalnine/arbiter/internal/task"
	"github.com/signalnine/arbiter/internal/workspace"
)

var htmlRules = map[config.RuleKind]bool{
	config.RulePatternConsolidation: true,
	config.RuleIEHackRemoval:        true,
	config.RuleFontTagModernization: true,
	config.RuleStyleBlockCleanup:    true,
	config.RuleSmartRetention:       true,
}

func newValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Check the config file and load every task baseline",
		Long: "Load the config, fetch every task baseline and report problems that would " +
			"make an evaluation score poorly regardless of the submissions.",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := config.Load(ctx, cfgFile)
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}
			catalog, err := task.Build(ctx, cfg.Tasks, workspace.New())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			warnings := checkTasks(catalog.List(), cfg.Judge.APIKey != "")
			for _, w := range warnings {
				fmt.Fprintf(out, "warning: %s\n", w)
			}
			fmt.Fprintf(out, "%s: %d task(s) OK, %d warning(s)\n", cfgFile, len(catalog.List()), len(warnings))
			return nil
		},
	}
}

// checkTasks returns problems that do not prevent loading but leave
// categories unable to award points.
func checkTasks(tasks []*task.Task, judgeConfigured bool) []string {
	var warnings []string
	for _, t := range tasks {
		if len(t.Participants) == 0 {
			warnings = append(warnings, fmt.Sprintf("task %s has no participants", t.ID))
		}
		for _, c := range t.Categories {
			if c.Scorer != config.ScorerJudge && !analyzer.Supports(c.Rule) {
				warnings = append(warnings, fmt.Sprintf("task %s: category %s: no analyzer for rule %s", t.ID, c.ID, c.Rule))
			}
			if c.Scorer != config.ScorerRule && !judgeConfigured {
				warnings = append(warnings, fmt.Sprintf("task %s: category %s is judged but no judge API key is configured", t.ID, c.ID))
			}
			if htmlRules[c.Rule] && c.Scorer != config.ScorerJudge && len(t.Baseline) == 0 {
				warnings = append(warnings, fmt.Sprintf("task %s: category %s compares against an empty baseline", t.ID, c.ID))
			}
		}
	}
	return warnings
}
