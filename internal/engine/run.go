package engine

// run.go - Execution of one pipeline run

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/leapstack-labs/fitetl/internal/events"
	"github.com/leapstack-labs/fitetl/internal/extract"
	"github.com/leapstack-labs/fitetl/internal/load"
	"github.com/leapstack-labs/fitetl/internal/metrics"
	"github.com/leapstack-labs/fitetl/internal/state"
	"github.com/leapstack-labs/fitetl/internal/table"
	"github.com/leapstack-labs/fitetl/internal/transform"
)

// StageError reports which stage aborted a run.
type StageError struct {
	Stage string
	Err   error
}

func (e *StageError) Error() string {
	return e.Stage + ": " + e.Err.Error()
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// Result is everything one run produced.
type Result struct {
	Run         *state.Run
	Extract     *extract.Report
	Clean       transform.CleanReport
	Standardise transform.StandardiseReport
	// PostDedupRemoved counts rows that became duplicates once standardised.
	PostDedupRemoved int
	Enrich           transform.EnrichReport
	Manifests        []load.Manifest
	ManifestPath     string
	// Table is the enriched table handed to the loader.
	Table *table.Table
}

// runState tracks the run while stages execute.
type runState struct {
	run    *state.Run
	rowsIn int
	rows   int
}

// Run executes every stage in order and stops at the first error. The run is
// recorded as failed when a stage fails and completed otherwise; the returned
// Result holds whatever the stages produced up to that point.
func (e *Engine) Run(ctx context.Context) (*Result, error) {
	env := e.cfg.Environment
	e.logger.Info("starting run", "environment", env, "inputs", e.cfg.InputFiles)

	rs := &runState{run: &state.Run{Environment: env, Status: state.RunStatusRunning, StartedAt: e.now().UTC()}}
	if e.store != nil {
		run, err := e.store.CreateRun(context.WithoutCancel(ctx), env)
		if err != nil {
			return nil, fmt.Errorf("failed to create run: %w", err)
		}
		rs.run = run
	}
	e.logger.Debug("created run", "run_id", rs.run.ID)

	res := &Result{}
	runErr := e.execute(ctx, rs, res)
	e.finish(ctx, rs, res, runErr)
	res.Run = rs.run
	return res, runErr
}

func (e *Engine) execute(ctx context.Context, rs *runState, res *Result) error {
	var t *table.Table

	err := e.stage(ctx, rs, StageExtract, func() (any, error) {
		var (
			report *extract.Report
			err    error
		)
		t, report, err = e.extractor.Extract(ctx, e.cfg.InputFiles...)
		res.Extract = report
		if report != nil {
			rs.rowsIn = report.RowsRead
			e.metrics.Rows(StageExtract, metrics.OutcomeRejected, report.RowsRejected)
		}
		return report, err
	}, func() int { return rowsOf(t) })
	if err != nil {
		return err
	}

	err = e.stage(ctx, rs, StageClean, func() (any, error) {
		var report transform.CleanReport
		t, report = e.cleaner.Clean(t)
		res.Clean = report
		e.metrics.Rows(StageClean, metrics.OutcomeDuplicate, report.DuplicatesRemoved)
		e.metrics.Rows(StageClean, metrics.OutcomeDropped, report.RowsDropped)
		e.metrics.Rows(StageClean, metrics.OutcomeImputed, report.ValuesImputed)
		return report, nil
	}, func() int { return rowsOf(t) })
	if err != nil {
		return err
	}

	err = e.stage(ctx, rs, StageStandardise, func() (any, error) {
		out, report, err := e.standardiser.Standardise(t)
		res.Standardise = report
		if err != nil {
			return report, err
		}
		t = out
		e.metrics.Rows(StageStandardise, metrics.OutcomeFlagged, report.DatesFlagged)
		e.metrics.Rows(StageStandardise, metrics.OutcomeDropped, report.RowsDropped)
		return report, nil
	}, func() int { return rowsOf(t) })
	if err != nil {
		return err
	}

	err = e.stage(ctx, rs, StageDedup, func() (any, error) {
		var removed int
		t, removed = transform.Deduplicate(t)
		res.PostDedupRemoved = removed
		e.metrics.Rows(StageDedup, metrics.OutcomeDuplicate, removed)
		if removed > 0 {
			e.logger.Info("removed near-duplicates after standardisation", "rows", removed)
		}
		return map[string]int{"duplicates_removed": removed}, nil
	}, func() int { return rowsOf(t) })
	if err != nil {
		return err
	}

	err = e.stage(ctx, rs, StageEnrich, func() (any, error) {
		var report transform.EnrichReport
		t, report = e.enricher.Enrich(t)
		res.Enrich = report
		return report, nil
	}, func() int { return rowsOf(t) })
	if err != nil {
		return err
	}
	res.Table = t

	return e.stage(ctx, rs, StageLoad, func() (any, error) {
		manifests, err := e.loader.LoadAll(ctx, t, e.cfg.Outputs)
		res.Manifests = manifests
		for _, m := range manifests {
			e.metrics.OutputBytes(string(m.Format), m.Bytes)
		}
		if err != nil {
			return manifests, err
		}
		if path := e.manifestPath(); path != "" {
			err := load.WriteSidecar(path, load.RunManifest{
				RunID:       rs.run.ID,
				Environment: rs.run.Environment,
				CreatedAt:   e.now().UTC(),
				Outputs:     manifests,
			})
			if err != nil {
				return manifests, &load.LoadError{Op: "write manifest", Path: path, Err: err}
			}
			res.ManifestPath = path
		}
		return manifests, nil
	}, func() int { return rowsOf(t) })
}

// stage runs fn, times it and records the outcome. rowsOut is read after fn
// returns.
func (e *Engine) stage(ctx context.Context, rs *runState, name string, fn func() (any, error), rowsOut func() int) error {
	if err := ctx.Err(); err != nil {
		return &StageError{Stage: name, Err: err}
	}

	rowsIn := rs.rows
	start := time.Now()
	detail, err := fn()
	elapsed := time.Since(start)
	e.metrics.StageDuration(name, elapsed)

	sr := &state.StageRun{
		RunID:    rs.run.ID,
		Stage:    name,
		Status:   state.StageStatusSuccess,
		RowsIn:   rowsIn,
		Duration: elapsed,
		Detail:   encodeDetail(detail),
	}
	if err != nil {
		sr.Status = state.StageStatusFailed
		sr.Error = err.Error()
		e.logger.Error("stage failed", "stage", name, "run_id", rs.run.ID, "error", err, "duration", elapsed)
	} else {
		rs.rows = rowsOut()
		sr.RowsOut = rs.rows
		e.metrics.Rows(name, metrics.OutcomeKept, rs.rows)
		e.logger.Debug("stage complete", "stage", name, "rows_in", rowsIn, "rows_out", rs.rows, "duration", elapsed)
	}

	if e.store != nil {
		if rerr := e.store.RecordStage(ctx, sr); rerr != nil {
			e.logger.Warn("failed to record stage", "stage", name, "error", rerr)
		}
	}
	if err != nil {
		return &StageError{Stage: name, Err: err}
	}
	return nil
}

// finish completes the run record, exports metrics and publishes the event.
// None of these can fail the run.
func (e *Engine) finish(ctx context.Context, rs *runState, res *Result, runErr error) {
	completion := state.Completion{
		Status:  state.RunStatusCompleted,
		RowsIn:  rs.rowsIn,
		RowsOut: rs.rows,
	}
	if runErr != nil {
		completion.Status = state.RunStatusFailed
		completion.Error = runErr.Error()
		e.logger.Error("run failed", "run_id", rs.run.ID, "error", runErr)
	} else {
		e.logger.Info("run completed", "run_id", rs.run.ID, "rows_in", rs.rowsIn, "rows_out", rs.rows)
	}

	// Bookkeeping must happen even when the run was cancelled.
	bg := context.WithoutCancel(ctx)

	completedAt := e.now().UTC()
	if e.store != nil {
		if err := e.store.CompleteRun(bg, rs.run.ID, completion); err != nil {
			e.logger.Warn("failed to complete run", "run_id", rs.run.ID, "error", err)
		} else if run, err := e.store.GetRun(bg, rs.run.ID); err == nil {
			rs.run = run
			if run.CompletedAt != nil {
				completedAt = *run.CompletedAt
			}
		}
	}
	if e.store == nil || rs.run.Status == state.RunStatusRunning {
		rs.run.Status = completion.Status
		rs.run.RowsIn = completion.RowsIn
		rs.run.RowsOut = completion.RowsOut
		rs.run.Error = completion.Error
		rs.run.CompletedAt = &completedAt
	}

	e.metrics.Run(rs.run.Environment, string(completion.Status), completedAt)
	if e.metrics != nil && e.cfg.MetricsTextfile != "" {
		if err := e.metrics.WriteTextfile(e.cfg.MetricsTextfile); err != nil {
			e.logger.Warn("failed to write metrics textfile", "path", e.cfg.MetricsTextfile, "error", err)
		}
	}

	ev := events.RunCompleted{
		RunID:       rs.run.ID,
		Environment: rs.run.Environment,
		Status:      string(completion.Status),
		Error:       completion.Error,
		RowsIn:      completion.RowsIn,
		RowsOut:     completion.RowsOut,
		StartedAt:   rs.run.StartedAt,
		CompletedAt: completedAt,
		Outputs:     res.Manifests,
	}
	if err := e.publisher.Publish(bg, ev); err != nil {
		e.logger.Warn("failed to publish run event", "run_id", rs.run.ID, "error", err)
	}
}

func rowsOf(t *table.Table) int {
	if t == nil {
		return 0
	}
	return t.Len()
}

func encodeDetail(v any) string {
	if v == nil {
		return ""
	}
	data, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(data)
}

// IsStage reports whether err was raised by the named stage.
func IsStage(err error, name string) bool {
	var se *StageError
	return errors.As(err, &se) && se.Stage == name
}
