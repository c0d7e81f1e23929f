// Package adapter provides the database adapters the loader and the inspect
// command use to move fitness tables in and out of DuckDB and PostgreSQL.
package adapter

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/leapstack-labs/fitetl/internal/table"
)

// Config holds the configuration for connecting to a database.
type Config struct {
	// Type specifies the database type ("duckdb" or "postgres")
	Type string

	// Path is the database file for DuckDB. Empty or ":memory:" is in-memory.
	Path string

	// DSN is a full connection string. When set, the fields below are ignored.
	DSN string

	Host     string
	Port     int
	Database string
	Username string
	Password string

	// Options contains driver-specific options such as sslmode
	Options map[string]string

	// Settings are applied per session (DuckDB SET statements)
	Settings map[string]string
}

// Adapter moves tables in and out of a database.
type Adapter interface {
	// Connect establishes a connection to the database using the provided config.
	Connect(ctx context.Context, cfg Config) error

	// Close closes the database connection and releases resources.
	Close() error

	// Exec executes a SQL statement that doesn't return rows.
	Exec(ctx context.Context, sql string) error

	// QueryTable runs a query and collects the result as a table.
	QueryTable(ctx context.Context, sql string) (*table.Table, error)

	// WriteTable replaces the contents of the named table with t, creating it if needed.
	WriteTable(ctx context.Context, name string, t *table.Table) error

	// CountRows returns the number of rows in the named table.
	CountRows(ctx context.Context, name string) (int64, error)

	// DialectName returns the SQL dialect name for this adapter.
	DialectName() string
}

// BaseSQLAdapter provides common database/sql functionality for adapters.
type BaseSQLAdapter struct {
	DB     *sql.DB
	Cfg    Config
	Logger *slog.Logger
}

// Close closes the database connection.
func (b *BaseSQLAdapter) Close() error {
	if b.DB != nil {
		b.Logger.Debug("closing database connection")
		return b.DB.Close()
	}
	return nil
}

// Exec executes a SQL statement that doesn't return rows.
func (b *BaseSQLAdapter) Exec(ctx context.Context, sqlStr string) error {
	if b.DB == nil {
		return fmt.Errorf("database connection not established")
	}
	if _, err := b.DB.ExecContext(ctx, sqlStr); err != nil {
		return fmt.Errorf("failed to execute SQL: %w", err)
	}
	return nil
}

// QueryTable runs a query and scans the result into a table.
func (b *BaseSQLAdapter) QueryTable(ctx context.Context, sqlStr string) (*table.Table, error) {
	if b.DB == nil {
		return nil, fmt.Errorf("database connection not established")
	}
	rows, err := b.DB.QueryContext(ctx, sqlStr)
	if err != nil {
		return nil, fmt.Errorf("failed to execute query: %w", err)
	}
	defer func() { _ = rows.Close() }()
	return ScanTable(rows)
}

// CountRows returns the number of rows in the named table.
func (b *BaseSQLAdapter) CountRows(ctx context.Context, name string) (int64, error) {
	if b.DB == nil {
		return 0, fmt.Errorf("database connection not established")
	}
	var n int64
	//nolint:gosec // identifier is quoted
	if err := b.DB.QueryRowContext(ctx, "SELECT count(*) FROM "+QuoteIdent(name)).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count rows of %s: %w", name, err)
	}
	return n, nil
}

// IsConnected returns true if the database connection is established.
func (b *BaseSQLAdapter) IsConnected() bool {
	return b.DB != nil
}

// ScanTable collects sql rows into a table, mapping database types to column kinds.
func ScanTable(rows *sql.Rows) (*table.Table, error) {
	types, err := rows.ColumnTypes()
	if err != nil {
		return nil, fmt.Errorf("failed to read column types: %w", err)
	}
	cols := make([]table.Column, len(types))
	for i, ct := range types {
		cols[i] = table.Column{Name: ct.Name(), Kind: KindOf(ct.DatabaseTypeName())}
	}

	var out []table.Row
	for rows.Next() {
		dest := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range dest {
			ptrs[i] = &dest[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		row := make(table.Row, len(cols))
		for i, v := range dest {
			row[i] = normalise(v, cols[i].Kind)
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}
	return table.FromRows(cols, out)
}

// KindOf maps a database type name to a column kind.
func KindOf(dbType string) table.Kind {
	t := strings.ToUpper(dbType)
	switch {
	case t == "DATE":
		return table.KindDate
	case t == "BOOLEAN" || t == "BOOL":
		return table.KindBool
	case strings.Contains(t, "INT"):
		return table.KindInt
	case t == "DOUBLE" || t == "FLOAT" || t == "REAL" || t == "FLOAT8" || t == "FLOAT4" ||
		t == "NUMERIC" || strings.HasPrefix(t, "DECIMAL") || t == "DOUBLE PRECISION":
		return table.KindFloat
	default:
		return table.KindString
	}
}

// SQLType returns the column type used when creating a table for kind.
func SQLType(kind table.Kind, dialect string) string {
	switch kind {
	case table.KindInt:
		return "BIGINT"
	case table.KindFloat:
		if dialect == "postgres" {
			return "DOUBLE PRECISION"
		}
		return "DOUBLE"
	case table.KindDate:
		return "DATE"
	case table.KindBool:
		return "BOOLEAN"
	default:
		if dialect == "postgres" {
			return "TEXT"
		}
		return "VARCHAR"
	}
}

func normalise(v any, kind table.Kind) any {
	switch x := v.(type) {
	case nil:
		return nil
	case []byte:
		return string(x)
	case int32:
		return int64(x)
	case int16:
		return int64(x)
	case int8:
		return int64(x)
	case float32:
		return float64(x)
	}
	if kind == table.KindFloat {
		if f, ok := table.AsFloat(v); ok {
			return f
		}
	}
	return v
}

// QuoteIdent quotes an SQL identifier.
func QuoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// QuoteLiteral quotes an SQL string literal.
func QuoteLiteral(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

func createTableSQL(name string, t *table.Table, dialect, verb string) string {
	defs := make([]string, 0, t.Width())
	for _, c := range t.Columns() {
		defs = append(defs, QuoteIdent(c.Name)+" "+SQLType(c.Kind, dialect))
	}
	return fmt.Sprintf("%s %s (%s)", verb, QuoteIdent(name), strings.Join(defs, ", "))
}

var (
	registryMu sync.RWMutex
	registry   = make(map[string]func(*slog.Logger) Adapter)
)

// Register adds an adapter factory to the registry.
func Register(name string, factory func(*slog.Logger) Adapter) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[name] = factory
}

// New creates an adapter for cfg.Type. The logger may be nil.
func New(typ string, logger *slog.Logger) (Adapter, error) {
	registryMu.RLock()
	factory, ok := registry[typ]
	registryMu.RUnlock()
	if !ok {
		return nil, &UnknownAdapterError{Type: typ, Available: ListAdapters()}
	}
	return factory(logger), nil
}

// ListAdapters returns all registered adapter names (sorted).
func ListAdapters() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// UnknownAdapterError is returned when an unknown adapter type is requested.
type UnknownAdapterError struct {
	Type      string
	Available []string
}

func (e *UnknownAdapterError) Error() string {
	return fmt.Sprintf("unknown adapter type %q (available: %s)", e.Type, strings.Join(e.Available, ", "))
}

func discardIfNil(logger *slog.Logger) *slog.Logger {
	if logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return logger
}
