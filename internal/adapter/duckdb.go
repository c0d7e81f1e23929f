package adapter

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"path/filepath"
	"sort"
	"strings"

	_ "github.com/marcboeker/go-duckdb" // duckdb driver

	"github.com/leapstack-labs/fitetl/internal/table"
)

func init() {
	Register("duckdb", func(logger *slog.Logger) Adapter { return NewDuckDB(logger) })
}

// ParquetCompressions lists the codecs DuckDB accepts for Parquet output.
var ParquetCompressions = []string{"snappy", "gzip", "zstd", "uncompressed"}

// DuckDB implements Adapter for DuckDB and adds Parquet import and export.
type DuckDB struct {
	BaseSQLAdapter
}

// NewDuckDB creates a DuckDB adapter. If logger is nil, a discard logger is used.
func NewDuckDB(logger *slog.Logger) *DuckDB {
	return &DuckDB{BaseSQLAdapter: BaseSQLAdapter{Logger: discardIfNil(logger)}}
}

// DialectName returns the SQL dialect for this adapter.
func (a *DuckDB) DialectName() string {
	return "duckdb"
}

// Connect establishes a connection to DuckDB.
// Use ":memory:" or an empty path for an in-memory database.
func (a *DuckDB) Connect(ctx context.Context, cfg Config) error {
	path := cfg.Path
	if path == "" {
		path = ":memory:"
	}

	db, err := sql.Open("duckdb", path)
	if err != nil {
		return fmt.Errorf("failed to open duckdb connection: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to ping duckdb: %w", err)
	}
	// An in-memory database exists per connection; keep exactly one.
	db.SetMaxOpenConns(1)

	a.DB = db
	a.Cfg = cfg

	keys := make([]string, 0, len(cfg.Settings))
	for k := range cfg.Settings {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		stmt := fmt.Sprintf("SET %s = %s", k, QuoteLiteral(cfg.Settings[k]))
		if err := a.Exec(ctx, stmt); err != nil {
			_ = a.Close()
			return fmt.Errorf("failed to apply setting %s: %w", k, err)
		}
	}
	a.Logger.Debug("connected to duckdb", slog.String("path", path), slog.Int("settings", len(keys)))
	return nil
}

// WriteTable replaces the named table with the contents of t.
func (a *DuckDB) WriteTable(ctx context.Context, name string, t *table.Table) error {
	if a.DB == nil {
		return fmt.Errorf("database connection not established")
	}
	if err := a.Exec(ctx, createTableSQL(name, t, a.DialectName(), "CREATE OR REPLACE TABLE")); err != nil {
		return err
	}
	if t.Len() == 0 {
		return nil
	}

	tx, err := a.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	marks := strings.TrimSuffix(strings.Repeat("?, ", t.Width()), ", ")
	//nolint:gosec // identifier is quoted
	stmt, err := tx.PrepareContext(ctx, fmt.Sprintf("INSERT INTO %s VALUES (%s)", QuoteIdent(name), marks))
	if err != nil {
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	for i, r := range t.Rows() {
		if _, err := stmt.ExecContext(ctx, r...); err != nil {
			return fmt.Errorf("failed to insert row %d: %w", i, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit: %w", err)
	}
	a.Logger.Debug("table written", slog.String("table", name), slog.Int("rows", t.Len()))
	return nil
}

// CopyToParquet exports the named table to a Parquet file.
func (a *DuckDB) CopyToParquet(ctx context.Context, name, path, compression string) error {
	if compression == "" {
		compression = "snappy"
	}
	if !validCompression(compression) {
		return fmt.Errorf("unsupported parquet compression %q", compression)
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("failed to get absolute path: %w", err)
	}
	stmt := fmt.Sprintf("COPY %s TO %s (FORMAT PARQUET, COMPRESSION %s)",
		QuoteIdent(name), QuoteLiteral(abs), QuoteLiteral(compression))
	return a.Exec(ctx, stmt)
}

// WriteParquet writes t to a Parquet file through a scratch table.
func (a *DuckDB) WriteParquet(ctx context.Context, t *table.Table, path, compression string) error {
	const scratch = "fitetl_export"
	if err := a.WriteTable(ctx, scratch, t); err != nil {
		return err
	}
	defer func() { _ = a.Exec(ctx, "DROP TABLE IF EXISTS "+QuoteIdent(scratch)) }()
	return a.CopyToParquet(ctx, scratch, path, compression)
}

// ReadParquet reads a Parquet file into a table.
func (a *DuckDB) ReadParquet(ctx context.Context, path string) (*table.Table, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to get absolute path: %w", err)
	}
	return a.QueryTable(ctx, "SELECT * FROM read_parquet("+QuoteLiteral(abs)+")")
}

// DescribeFile returns DuckDB's DESCRIBE output for a CSV or Parquet file; the
// column_name and column_type columns hold the schema.
func (a *DuckDB) DescribeFile(ctx context.Context, path string) (*table.Table, error) {
	src, err := FileSource(path)
	if err != nil {
		return nil, err
	}
	return a.QueryTable(ctx, "DESCRIBE SELECT * FROM "+src)
}

// FileSource returns the DuckDB table function reading path, chosen by extension.
func FileSource(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("failed to get absolute path: %w", err)
	}
	lower := strings.ToLower(abs)
	switch {
	case strings.HasSuffix(lower, ".parquet"):
		return "read_parquet(" + QuoteLiteral(abs) + ")", nil
	case strings.HasSuffix(lower, ".csv"), strings.HasSuffix(lower, ".csv.gz"):
		return "read_csv_auto(" + QuoteLiteral(abs) + ", header=true)", nil
	default:
		return "", fmt.Errorf("cannot query %s: unsupported file type", path)
	}
}

func validCompression(c string) bool {
	for _, v := range ParquetCompressions {
		if v == c {
			return true
		}
	}
	return false
}

var _ Adapter = (*DuckDB)(nil)
