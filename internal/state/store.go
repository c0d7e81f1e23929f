// Package state records pipeline run history in SQLite.
package state

import (
	"context"
	"time"
)

// RunStatus is the lifecycle state of a pipeline run.
type RunStatus string

// Run statuses.
const (
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
)

// StageStatus is the outcome of one stage of a run.
type StageStatus string

// Stage statuses.
const (
	StageStatusSuccess StageStatus = "success"
	StageStatusFailed  StageStatus = "failed"
)

// Run is one execution of the pipeline.
type Run struct {
	ID          string     `json:"id"`
	Environment string     `json:"environment"`
	Status      RunStatus  `json:"status"`
	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	RowsIn      int        `json:"rows_in"`
	RowsOut     int        `json:"rows_out"`
	Error       string     `json:"error,omitempty"`
}

// Duration returns how long the run took, or zero while it is still running.
func (r *Run) Duration() time.Duration {
	if r.CompletedAt == nil {
		return 0
	}
	return r.CompletedAt.Sub(r.StartedAt)
}

// Completion carries the final state of a run.
type Completion struct {
	Status  RunStatus
	RowsIn  int
	RowsOut int
	Error   string
}

// StageRun records one stage of a run.
type StageRun struct {
	ID         string        `json:"id"`
	RunID      string        `json:"run_id"`
	Stage      string        `json:"stage"`
	Status     StageStatus   `json:"status"`
	RowsIn     int           `json:"rows_in"`
	RowsOut    int           `json:"rows_out"`
	Duration   time.Duration `json:"duration"`
	Detail     string        `json:"detail,omitempty"`
	Error      string        `json:"error,omitempty"`
	RecordedAt time.Time     `json:"recorded_at"`
}

// Store persists run history.
type Store interface {
	CreateRun(ctx context.Context, env string) (*Run, error)
	CompleteRun(ctx context.Context, id string, c Completion) error
	RecordStage(ctx context.Context, s *StageRun) error
	GetRun(ctx context.Context, id string) (*Run, error)
	ListRuns(ctx context.Context, env string, limit int) ([]*Run, error)
	GetStageRuns(ctx context.Context, runID string) ([]*StageRun, error)
	GetLatestRun(ctx context.Context, env string) (*Run, error)
	Close() error
}
