package state

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // registers the "sqlite" driver
)

// ErrRunNotFound is returned when a run ID does not exist.
var ErrRunNotFound = errors.New("run not found")

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db     *sql.DB
	path   string
	logger *slog.Logger
	now    func() time.Time
}

// NewSQLiteStore creates a new SQLite state store instance.
// If logger is nil, a discard logger is used.
func NewSQLiteStore(logger *slog.Logger) *SQLiteStore {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &SQLiteStore{logger: logger, now: time.Now}
}

// NewWithDB wraps an already opened database. Migrations are not run.
func NewWithDB(db *sql.DB, logger *slog.Logger) *SQLiteStore {
	s := NewSQLiteStore(logger)
	s.db = db
	return s
}

// OpenSQLite opens the store at path and applies migrations.
func OpenSQLite(ctx context.Context, path string, logger *slog.Logger) (*SQLiteStore, error) {
	s := NewSQLiteStore(logger)
	if err := s.Open(ctx, path); err != nil {
		return nil, err
	}
	if err := s.Migrate(); err != nil {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}

// Open opens a connection to the SQLite database.
// Use ":memory:" for an in-memory database.
func (s *SQLiteStore) Open(ctx context.Context, path string) error {
	dsn := "file::memory:?_pragma=foreign_keys(1)"
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
			return fmt.Errorf("failed to create state directory: %w", err)
		}
		dsn = fmt.Sprintf("file:%s?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", path)
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return fmt.Errorf("failed to open sqlite database: %w", err)
	}
	// An in-memory database lives in a single connection.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to ping sqlite database: %w", err)
	}

	s.logger.Debug("state store opened", slog.String("path", path))
	s.db = db
	s.path = path
	return nil
}

// Close closes the SQLite database connection.
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Path returns the database path passed to Open.
func (s *SQLiteStore) Path() string {
	return s.path
}

func generateID() string {
	return uuid.New().String()
}

// --- Run operations ---

// CreateRun inserts a running run for env.
func (s *SQLiteStore) CreateRun(ctx context.Context, env string) (*Run, error) {
	if s.db == nil {
		return nil, fmt.Errorf("database not opened")
	}

	run := &Run{
		ID:          generateID(),
		Environment: env,
		Status:      RunStatusRunning,
		StartedAt:   s.now().UTC(),
	}

	s.logger.Debug("creating run", slog.String("id", run.ID), slog.String("environment", env))

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (id, environment, status, started_at) VALUES (?, ?, ?, ?)`,
		run.ID, run.Environment, string(run.Status), run.StartedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create run: %w", err)
	}
	return run, nil
}

// CompleteRun records the final state of a run.
func (s *SQLiteStore) CompleteRun(ctx context.Context, id string, c Completion) error {
	if s.db == nil {
		return fmt.Errorf("database not opened")
	}

	var errMsg sql.NullString
	if c.Error != "" {
		errMsg = sql.NullString{String: c.Error, Valid: true}
	}

	result, err := s.db.ExecContext(ctx,
		`UPDATE runs SET status = ?, completed_at = ?, rows_in = ?, rows_out = ?, error = ? WHERE id = ?`,
		string(c.Status), s.now().UTC(), c.RowsIn, c.RowsOut, errMsg, id,
	)
	if err != nil {
		return fmt.Errorf("failed to complete run: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to complete run: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	return nil
}

const runColumns = `id, environment, status, started_at, completed_at, rows_in, rows_out, error`

// GetRun retrieves a run by ID.
func (s *SQLiteStore) GetRun(ctx context.Context, id string) (*Run, error) {
	if s.db == nil {
		return nil, fmt.Errorf("database not opened")
	}

	run, err := scanRun(s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}
	return run, nil
}

// GetLatestRun returns the most recent run for env, or nil if there is none.
func (s *SQLiteStore) GetLatestRun(ctx context.Context, env string) (*Run, error) {
	if s.db == nil {
		return nil, fmt.Errorf("database not opened")
	}

	run, err := scanRun(s.db.QueryRowContext(ctx,
		`SELECT `+runColumns+` FROM runs WHERE environment = ? ORDER BY started_at DESC, rowid DESC LIMIT 1`, env))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get latest run: %w", err)
	}
	return run, nil
}

// ListRuns returns up to limit runs, newest first. An empty env lists every
// environment.
func (s *SQLiteStore) ListRuns(ctx context.Context, env string, limit int) ([]*Run, error) {
	if s.db == nil {
		return nil, fmt.Errorf("database not opened")
	}
	if limit <= 0 {
		limit = 20
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+runColumns+` FROM runs
		 WHERE ? = '' OR environment = ?
		 ORDER BY started_at DESC, rowid DESC LIMIT ?`,
		env, env, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var runs []*Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (*Run, error) {
	run := &Run{}
	var (
		status      string
		completedAt sql.NullTime
		errMsg      sql.NullString
	)
	err := row.Scan(&run.ID, &run.Environment, &status, &run.StartedAt, &completedAt,
		&run.RowsIn, &run.RowsOut, &errMsg)
	if err != nil {
		return nil, err
	}
	run.Status = RunStatus(status)
	run.StartedAt = run.StartedAt.UTC()
	if completedAt.Valid {
		t := completedAt.Time.UTC()
		run.CompletedAt = &t
	}
	run.Error = errMsg.String
	return run, nil
}

// --- Stage operations ---

// RecordStage stores the outcome of one stage. ID and RecordedAt are filled
// in when empty.
func (s *SQLiteStore) RecordStage(ctx context.Context, sr *StageRun) error {
	if s.db == nil {
		return fmt.Errorf("database not opened")
	}
	if sr.ID == "" {
		sr.ID = generateID()
	}
	if sr.RecordedAt.IsZero() {
		sr.RecordedAt = s.now().UTC()
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO stage_runs (id, run_id, stage, status, rows_in, rows_out, duration_ms, detail, error, recorded_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sr.ID, sr.RunID, sr.Stage, string(sr.Status), sr.RowsIn, sr.RowsOut,
		sr.Duration.Milliseconds(), nullString(sr.Detail), nullString(sr.Error), sr.RecordedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to record stage %s: %w", sr.Stage, err)
	}
	return nil
}

// GetStageRuns returns the stages of a run in the order they were recorded.
func (s *SQLiteStore) GetStageRuns(ctx context.Context, runID string) ([]*StageRun, error) {
	if s.db == nil {
		return nil, fmt.Errorf("database not opened")
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, run_id, stage, status, rows_in, rows_out, duration_ms, detail, error, recorded_at
		 FROM stage_runs WHERE run_id = ? ORDER BY recorded_at, rowid`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to get stage runs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var stages []*StageRun
	for rows.Next() {
		sr := &StageRun{}
		var (
			status     string
			durationMS int64
			detail     sql.NullString
			errMsg     sql.NullString
		)
		if err := rows.Scan(&sr.ID, &sr.RunID, &sr.Stage, &status, &sr.RowsIn, &sr.RowsOut,
			&durationMS, &detail, &errMsg, &sr.RecordedAt); err != nil {
			return nil, fmt.Errorf("failed to scan stage run: %w", err)
		}
		sr.Status = StageStatus(status)
		sr.Duration = time.Duration(durationMS) * time.Millisecond
		sr.Detail = detail.String
		sr.Error = errMsg.String
		sr.RecordedAt = sr.RecordedAt.UTC()
		stages = append(stages, sr)
	}
	return stages, rows.Err()
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

var _ Store = (*SQLiteStore)(nil)
