package cmd

import (
	"github.com/chainguard-dev/clog"
	"github.com/spf13/cobra"

	"github.com/signalnine/arbiter/internal/server"
)

var flagAddr string

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the evaluation HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			eng, err := openEngine(ctx)
			if err != nil {
				return err
			}
			defer func() {
				if err := eng.Close(); err != nil {
					clog.FromContext(ctx).With("error", err.Error()).Error("shutdown")
				}
			}()
			clog.FromContext(ctx).
				With("tasks", len(eng.orch.Catalog().List())).
				With("max_concurrent", eng.cfg.Engine.MaxConcurrentEvaluations).
				Info("engine ready")
			return server.New(eng.orch).ListenAndServe(ctx, flagAddr)
		},
	}
	cmd.Flags().StringVar(&flagAddr, "addr", ":8080", "listen address")
	return cmd
}
