package commands

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/leapstack-labs/fitetl/internal/cli/output"
	"github.com/leapstack-labs/fitetl/internal/state"
)

// HistoryOptions holds options for the history command.
type HistoryOptions struct {
	Limit int
	All   bool
}

// NewHistoryCommand creates the history command.
func NewHistoryCommand() *cobra.Command {
	opts := &HistoryOptions{}
	cmd := &cobra.Command{
		Use:   "history [run-id]",
		Short: "Show recent pipeline runs",
		Long: `List recent pipeline runs for the selected environment, newest first.

Given a run ID (or "latest"), show that run with the outcome of each stage.`,
		Example: `  # Last 20 runs of the dev profile
  fitetl history

  # Runs of every environment
  fitetl history --all --limit 50

  # Stage breakdown of the latest run
  fitetl history latest`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cctx, err := NewCommandContext(cmd)
			if err != nil {
				return err
			}
			store, err := cctx.OpenStore(cmd.Context())
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			if len(args) == 1 {
				return showRun(cmd, cctx, store, args[0])
			}
			return listRuns(cmd, cctx, store, opts)
		},
	}
	cmd.Flags().IntVarP(&opts.Limit, "limit", "n", 20, "Maximum number of runs to list")
	cmd.Flags().BoolVar(&opts.All, "all", false, "List runs of every environment")
	return cmd
}

func listRuns(cmd *cobra.Command, cctx *CommandContext, store state.Store, opts *HistoryOptions) error {
	if opts.Limit <= 0 {
		return fmt.Errorf("--limit must be positive")
	}
	env := cctx.Cfg.Environment
	if opts.All {
		env = ""
	}
	runs, err := store.ListRuns(cmd.Context(), env, opts.Limit)
	if err != nil {
		return err
	}

	r := cctx.Renderer
	if r.EffectiveMode() == output.ModeJSON {
		if runs == nil {
			runs = []*state.Run{}
		}
		return r.JSON(runs)
	}
	if len(runs) == 0 {
		r.Println("No runs recorded yet. Run 'fitetl etl' to start one.")
		return nil
	}

	rows := make([][]string, 0, len(runs))
	for _, run := range runs {
		rows = append(rows, []string{
			run.ID,
			run.Environment,
			string(run.Status),
			run.StartedAt.Local().Format(time.DateTime),
			run.Duration().Round(time.Millisecond).String(),
			strconv.Itoa(run.RowsIn),
			strconv.Itoa(run.RowsOut),
		})
	}
	r.Table([]string{"Run", "Env", "Status", "Started", "Duration", "Rows In", "Rows Out"}, rows)
	return nil
}

func showRun(cmd *cobra.Command, cctx *CommandContext, store state.Store, id string) error {
	ctx := cmd.Context()
	var (
		run *state.Run
		err error
	)
	if id == "latest" {
		run, err = store.GetLatestRun(ctx, cctx.Cfg.Environment)
		if err == nil && run == nil {
			return fmt.Errorf("no runs recorded for environment %s", cctx.Cfg.Environment)
		}
	} else {
		run, err = store.GetRun(ctx, id)
	}
	if errors.Is(err, state.ErrRunNotFound) {
		return fmt.Errorf("run %s not found", id)
	}
	if err != nil {
		return err
	}

	stages, err := store.GetStageRuns(ctx, run.ID)
	if err != nil {
		return err
	}
	return renderRunReport(cctx.Renderer, RunReport{Run: run, Stages: stages})
}
