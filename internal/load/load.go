// Package load writes the final table to CSV, Parquet or PostgreSQL, checks
// each output by reading it back and describes it in a manifest.
package load

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"time"

	"github.com/leapstack-labs/fitetl/internal/adapter"
	"github.com/leapstack-labs/fitetl/internal/table"
)

// Config configures a Loader.
type Config struct {
	// DuckDB configures the in-memory database used for Parquet I/O.
	DuckDB adapter.Config
	// Postgres is used for FormatPostgres outputs.
	Postgres adapter.Config
	// Sink replaces the PostgreSQL connection when set. The loader does not close it.
	Sink   adapter.Adapter
	Logger *slog.Logger
	// Now defaults to time.Now.
	Now func() time.Time
}

// Loader writes tables.
type Loader struct {
	cfg    Config
	logger *slog.Logger
	now    func() time.Time
}

// New creates a loader.
func New(cfg Config) *Loader {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Loader{cfg: cfg, logger: logger, now: now}
}

// LoadAll writes t once per spec, stopping at the first failure.
func (l *Loader) LoadAll(ctx context.Context, t *table.Table, specs []Spec) ([]Manifest, error) {
	manifests := make([]Manifest, 0, len(specs))
	for _, spec := range specs {
		m, err := l.Load(ctx, t, spec)
		if err != nil {
			return manifests, err
		}
		manifests = append(manifests, *m)
	}
	return manifests, nil
}

// Load writes t as described by spec and validates the result.
func (l *Loader) Load(ctx context.Context, t *table.Table, spec Spec) (*Manifest, error) {
	start := time.Now()
	if err := spec.Validate(); err != nil {
		return nil, &LoadError{Op: "validate spec", Format: spec.Format, Path: spec.Path, Err: err}
	}

	var (
		m   *Manifest
		err error
	)
	if spec.Format == FormatPostgres {
		m, err = l.loadPostgres(ctx, t, spec)
	} else {
		m, err = l.loadFile(ctx, t, spec)
	}
	if err != nil {
		l.logger.Error("load failed", "format", spec.Format, "path", spec.Path, "error", err)
		return nil, err
	}

	l.logger.Info("output written",
		"format", m.Format,
		"path", m.Path,
		"rows", m.Rows,
		"bytes", m.Bytes,
		"duration", time.Since(start),
	)
	return m, nil
}

// loadFile writes to a temporary file next to the destination, validates it
// and renames it into place.
func (l *Loader) loadFile(ctx context.Context, t *table.Table, spec Spec) (*Manifest, error) {
	final := spec.FilePath()
	fail := func(op string, err error) error {
		return &LoadError{Op: op, Format: spec.Format, Path: final, Err: err}
	}

	dir := filepath.Dir(final)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fail("create directory", err)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(final)+".tmp-*")
	if err != nil {
		return nil, fail("create temp file", err)
	}
	tmpPath := tmp.Name()
	renamed := false
	defer func() {
		if !renamed {
			_ = os.Remove(tmpPath)
		}
	}()

	switch spec.Format {
	case FormatCSV:
		err = writeCSVFile(tmp, t, spec.codec())
	case FormatParquet:
		_ = tmp.Close()
		err = l.withDuckDB(ctx, func(db *adapter.DuckDB) error {
			return db.WriteParquet(ctx, t, tmpPath, parquetCodec(spec.codec()))
		})
	}
	if err != nil {
		return nil, fail("write", err)
	}

	if err := l.validateFile(ctx, t, spec, tmpPath); err != nil {
		return nil, fail("validate", err)
	}
	if err := os.Rename(tmpPath, final); err != nil {
		return nil, fail("rename", err)
	}
	renamed = true

	sum, size, err := Checksum(final)
	if err != nil {
		return nil, fail("checksum", err)
	}
	return &Manifest{
		Path:        final,
		Format:      spec.Format,
		Compression: spec.codec(),
		Rows:        t.Len(),
		Columns:     t.ColumnNames(),
		Bytes:       size,
		SHA256:      sum,
		WrittenAt:   l.now().UTC(),
	}, nil
}

func writeCSVFile(f *os.File, t *table.Table, c Compression) error {
	cw, err := compressWriter(f, c)
	if err != nil {
		_ = f.Close()
		return err
	}
	if err := WriteCSV(cw, t); err != nil {
		_ = cw.Close()
		_ = f.Close()
		return err
	}
	if err := cw.Close(); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

// parquetCodec maps a codec to DuckDB's name for it.
func parquetCodec(c Compression) string {
	if c == CompressionNone {
		return "uncompressed"
	}
	return string(c)
}

func (l *Loader) validateFile(ctx context.Context, t *table.Table, spec Spec, path string) error {
	var (
		back *table.Table
		err  error
	)
	switch spec.Format {
	case FormatCSV:
		back, err = readCSVAs(path, spec.codec())
	case FormatParquet:
		err = l.withDuckDB(ctx, func(db *adapter.DuckDB) error {
			var rerr error
			back, rerr = db.ReadParquet(ctx, path)
			return rerr
		})
	}
	if err != nil {
		return fmt.Errorf("%w: re-read: %v", ErrValidation, err)
	}
	return compareShape(t, back)
}

func compareShape(want, got *table.Table) error {
	if got.Len() != want.Len() {
		return validationErr("read back %d rows, wrote %d", got.Len(), want.Len())
	}
	if !slices.Equal(got.ColumnNames(), want.ColumnNames()) {
		return validationErr("read back columns %v, wrote %v", got.ColumnNames(), want.ColumnNames())
	}
	return nil
}

func (l *Loader) withDuckDB(ctx context.Context, fn func(db *adapter.DuckDB) error) error {
	db := adapter.NewDuckDB(l.logger)
	if err := db.Connect(ctx, l.cfg.DuckDB); err != nil {
		return err
	}
	defer func() { _ = db.Close() }()
	return fn(db)
}

func (l *Loader) loadPostgres(ctx context.Context, t *table.Table, spec Spec) (*Manifest, error) {
	fail := func(op string, err error) error {
		return &LoadError{Op: op, Format: spec.Format, Path: spec.Path, Err: err}
	}

	sink := l.cfg.Sink
	if sink == nil {
		pg, err := adapter.New("postgres", l.logger)
		if err != nil {
			return nil, fail("connect", err)
		}
		if err := pg.Connect(ctx, l.cfg.Postgres); err != nil {
			return nil, fail("connect", err)
		}
		defer func() { _ = pg.Close() }()
		sink = pg
	}

	if err := sink.WriteTable(ctx, spec.Path, t); err != nil {
		return nil, fail("write", err)
	}
	n, err := sink.CountRows(ctx, spec.Path)
	if err != nil {
		return nil, fail("validate", err)
	}
	if n != int64(t.Len()) {
		return nil, fail("validate", validationErr("table holds %d rows, wrote %d", n, t.Len()))
	}
	return &Manifest{
		Path:        spec.Path,
		Format:      FormatPostgres,
		Compression: CompressionNone,
		Rows:        t.Len(),
		Columns:     t.ColumnNames(),
		WrittenAt:   l.now().UTC(),
	}, nil
}

// ReadOutput reads a CSV or Parquet output back into a table.
func ReadOutput(ctx context.Context, path string, duck adapter.Config) (*table.Table, error) {
	if filepath.Ext(path) != ".parquet" {
		return ReadCSV(path)
	}
	return ReadParquet(ctx, path, duck)
}

// ReadParquet reads a Parquet file into a table through an in-memory DuckDB.
func ReadParquet(ctx context.Context, path string, duck adapter.Config) (*table.Table, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, err
	}
	db := adapter.NewDuckDB(nil)
	if err := db.Connect(ctx, duck); err != nil {
		return nil, err
	}
	defer func() { _ = db.Close() }()
	return db.ReadParquet(ctx, path)
}
