package commands

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/leapstack-labs/fitetl/internal/dashboard"
	"github.com/leapstack-labs/fitetl/internal/metrics"
	"github.com/leapstack-labs/fitetl/internal/state"
)

// NewDashboardCommand creates the dashboard command.
func NewDashboardCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "dashboard",
		Short: "Serve the processed dataset to the dashboard",
		Long: `Serve the latest pipeline output as JSON for the dashboard front end.

Endpoints:
  /healthz                          load status
  /api/summary                      dataset summary
  /api/seasons                      per-season aggregates
  /api/bmi-categories               BMI category counts
  /api/participants/{id}/weekly     weekly aggregates for one participant
  /api/runs                         recent pipeline runs
  /metrics                          Prometheus metrics

With --watch the dataset is reloaded whenever the pipeline rewrites it.`,
		Example: `  # Serve the first file output on :8050
  fitetl dashboard

  # Serve a specific file on another port
  fitetl dashboard --data data/processed/fitness_processed.parquet --addr :9000`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cctx, err := NewCommandContext(cmd)
			if err != nil {
				return err
			}
			store, err := cctx.OpenStore(cmd.Context())
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			return serveDashboard(cmd.Context(), cctx, store, metrics.New(true))
		},
	}
	addDashboardFlags(cmd)
	return cmd
}

func addDashboardFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.String("addr", "", "Listen address (default :8050)")
	f.String("data", "", "Output file to serve (default: the first file output)")
	f.Bool("watch", true, "Reload the dataset when the file changes")
}

// serveDashboard serves until the command context is cancelled or the
// process receives SIGINT or SIGTERM.
func serveDashboard(ctx context.Context, cctx *CommandContext, store state.Store, m *metrics.Metrics) error {
	cfg := cctx.Cfg
	data, err := cfg.DashboardData()
	if err != nil {
		return err
	}

	srv := dashboard.NewServer(dashboard.Config{
		Addr:        cfg.Dash.Addr,
		DataPath:    data,
		DuckDB:      cfg.DuckDB.Adapter("duckdb"),
		Watch:       cfg.Dash.Watch,
		Debounce:    cfg.Dash.Debounce,
		Store:       store,
		Environment: cfg.Environment,
		Metrics:     m,
		Logger:      cctx.Logger.With("component", "dashboard"),
	})

	if err := srv.Load(ctx); err != nil {
		if !cfg.Dash.Watch {
			return err
		}
		cctx.Logger.Warn("dataset not available yet, waiting for the pipeline to write it", "error", err)
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cctx.Renderer.Printf("Dashboard data server listening on %s (serving %s)\n", cfg.Dash.Addr, data)
	return srv.Serve(ctx)
}
