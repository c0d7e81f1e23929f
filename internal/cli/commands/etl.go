package commands

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/leapstack-labs/fitetl/internal/engine"
)

// NewETLCommand creates the etl command.
func NewETLCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "etl",
		Short: "Run the pipeline once",
		Long: `Extract the raw CSV inputs, clean, standardise and enrich them, and write
every configured output.

Stages run in order and the first failure aborts the run. The run and each
stage are recorded in the run history; a failed run exits non-zero.`,
		Example: `  # Run with the dev profile
  fitetl etl

  # Run the test profile on specific inputs
  fitetl etl --env test --input data/raw/a.csv,data/raw/b.csv

  # Machine-readable summary
  fitetl etl -o json`,
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
			return runETL(cmd.Context(), cctx, p)
		},
	}
	addPipelineFlags(cmd)
	return cmd
}

// addPipelineFlags registers flags that override pipeline configuration.
func addPipelineFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.StringSliceP("input", "i", nil, "Input CSV files (default: every *.csv in raw_dir)")
	f.String("raw-dir", "", "Directory scanned for input files")
	f.String("output-dir", "", "Directory relative output paths are written to")
	f.String("manifest", "", "Run manifest path (default: next to the first file output)")
	f.String("date-fallback", "", "Unparseable dates: fail, flag or drop")
	f.String("hemisphere", "", "Season mapping: north or south")
	f.String("height-unit", "", "Height unit: auto, cm or m")
}

// runETL runs the pipeline once and renders the outcome. The run error, if
// any, is returned after the report is written.
func runETL(ctx context.Context, cctx *CommandContext, p *Pipeline) error {
	res, runErr := p.Engine.Run(ctx)
	if res == nil || res.Run == nil {
		return runErr
	}

	stages, err := p.Store.GetStageRuns(context.WithoutCancel(ctx), res.Run.ID)
	if err != nil {
		cctx.Logger.Warn("failed to read stage history", "run_id", res.Run.ID, "error", err)
	}
	if err := renderRunReport(cctx.Renderer, RunReport{
		Run:          res.Run,
		Stages:       stages,
		Outputs:      res.Manifests,
		ManifestPath: res.ManifestPath,
	}); err != nil {
		return err
	}

	var se *engine.StageError
	if errors.As(runErr, &se) {
		return fmt.Errorf("%s stage failed: %w", se.Stage, se.Err)
	}
	return runErr
}
