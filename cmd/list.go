package cmd

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/signalnine/arbiter/internal/config"
	"github.com/signalnine/arbiter/internal/evaluation"
)

var flagListEvaluations bool

func newListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List configured tasks, or stored evaluations",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if flagListEvaluations {
				store, err := openStore(ctx)
				if err != nil {
					return err
				}
				defer store.Close()
				snaps, err := store.List(ctx)
				if err != nil {
					return err
				}
				printEvaluations(cmd.OutOrStdout(), snaps)
				return nil
			}
			cfg, err := config.Load(ctx, cfgFile)
			if err != nil {
				return err
			}
			printTasks(cmd.OutOrStdout(), cfg.Tasks)
			return nil
		},
	}
	cmd.Flags().BoolVar(&flagListEvaluations, "evaluations", false, "list stored evaluations instead of tasks")
	return cmd
}

func printTasks(w io.Writer, tasks []config.Task) {
	fmt.Fprintln(w, "Tasks:")
	for _, t := range tasks {
		name := t.Name
		if name == "" {
			name = t.ID
		}
		fmt.Fprintf(w, "  - %s (%s)\n", t.ID, name)
		for _, c := range t.Categories {
			fmt.Fprintf(w, "      %-14s weight %-5g %s\n", c.ID, c.Weight, c.Scorer)
		}
		for _, p := range t.Participants {
			src := "manual"
			if p.Source != nil && !p.Source.IsZero() {
				src = "sourced"
			}
			fmt.Fprintf(w, "      agent %s [%s]\n", p.ID, src)
		}
	}
}

func printEvaluations(w io.Writer, snaps []*evaluation.Snapshot) {
	if len(snaps) == 0 {
		fmt.Fprintln(w, "No stored evaluations.")
		return
	}
	for _, s := range snaps {
		line := fmt.Sprintf("%s  %-10s %s  %s", s.ID, s.Status, s.TaskID, s.CreatedAt.Format("2006-01-02 15:04"))
		if s.Failure != nil {
			line += "  (" + string(s.Failure.Reason) + ")"
		}
		fmt.Fprintln(w, line)
	}
}
