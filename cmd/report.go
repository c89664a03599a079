package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/signalnine/arbiter/internal/evaluation"
	"github.com/signalnine/arbiter/internal/report"
	"github.com/signalnine/arbiter/internal/result"
)

var (
	flagFormat  string
	flagSummary bool
	flagReport  string
)

func newReportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "report [eval-id]",
		Short: "Render the comparison report of a stored evaluation",
		Long: "Render the comparison report of a stored evaluation. With --summary, " +
			"aggregate every completed evaluation into a per-agent leaderboard.",
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if !flagSummary && len(args) == 0 && flagReport == "" {
				return fmt.Errorf("an evaluation id or --summary is required")
			}
			if flagReport != "" {
				// A meta.json copied out of a results directory.
				snap, err := result.ReadMeta(flagReport)
				if err != nil {
					return err
				}
				return renderSnapshot(cmd, snap)
			}

			store, err := openStore(ctx)
			if err != nil {
				return err
			}
			defer store.Close()

			if flagSummary {
				snaps, err := store.List(ctx)
				if err != nil {
					return err
				}
				return report.RenderSummary(report.Summarize(snaps), flagFormat, cmd.OutOrStdout())
			}
			snap, err := store.Load(ctx, args[0])
			if err != nil {
				return err
			}
			return renderSnapshot(cmd, snap)
		},
	}
	cmd.Flags().StringVar(&flagFormat, "format", report.FormatTable, "output format ("+strings.Join(report.Formats, ", ")+")")
	cmd.Flags().BoolVar(&flagSummary, "summary", false, "leaderboard across all stored evaluations")
	cmd.Flags().StringVar(&flagReport, "file", "", "render from a meta.json file instead of the store")
	return cmd
}

func renderSnapshot(cmd *cobra.Command, snap *evaluation.Snapshot) error {
	rep, err := report.Build(snap)
	if err != nil {
		return fmt.Errorf("%s is %s: %w", snap.ID, snap.Status, err)
	}
	return report.Render(rep, flagFormat, cmd.OutOrStdout())
}
