package commands

import (
	"github.com/spf13/cobra"
)

// NewRunCommand creates the run command.
func NewRunCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the pipeline, then serve the dashboard",
		Long: `Run the pipeline once and, when it succeeds, serve the fresh output to the
dashboard until interrupted.

The dashboard's /metrics endpoint exposes the counters of the run that just
finished. A failed run exits non-zero without starting the server.`,
		Example: `  # Process and serve
  fitetl run

  # Process the test profile and serve on another port
  fitetl run --env test --addr :9000`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cctx, err := NewCommandContext(cmd)
			if err != nil {
				return err
			}
			p, err := cctx.NewPipeline(cmd.Context())
			if err != nil {
				return err
			}
			defer func() { _ = p.Close() }()

			if err := runETL(cmd.Context(), cctx, p); err != nil {
				return err
			}
			cctx.Renderer.Println()
			return serveDashboard(cmd.Context(), cctx, p.Store, p.Metrics)
		},
	}
	addPipelineFlags(cmd)
	addDashboardFlags(cmd)
	return cmd
}
