package adapter

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/stdlib"

	"github.com/leapstack-labs/fitetl/internal/table"
)

func init() {
	Register("postgres", func(logger *slog.Logger) Adapter { return NewPostgres(logger) })
}

// Postgres implements Adapter for PostgreSQL. Tables are loaded with COPY.
type Postgres struct {
	BaseSQLAdapter
}

// NewPostgres creates a PostgreSQL adapter. If logger is nil, a discard logger is used.
func NewPostgres(logger *slog.Logger) *Postgres {
	return &Postgres{BaseSQLAdapter: BaseSQLAdapter{Logger: discardIfNil(logger)}}
}

// DialectName returns the SQL dialect for this adapter.
func (a *Postgres) DialectName() string {
	return "postgres"
}

// Connect establishes a connection to PostgreSQL.
func (a *Postgres) Connect(ctx context.Context, cfg Config) error {
	dsn := BuildPostgresDSN(cfg)

	a.Logger.Debug("connecting to postgres", slog.String("host", cfg.Host), slog.String("database", cfg.Database))

	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return fmt.Errorf("failed to open postgres connection: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to ping postgres: %w", err)
	}

	a.DB = db
	a.Cfg = cfg
	return nil
}

// BuildPostgresDSN constructs a key=value PostgreSQL connection string.
// cfg.DSN wins when set.
func BuildPostgresDSN(cfg Config) string {
	if cfg.DSN != "" {
		return cfg.DSN
	}
	host := cfg.Host
	if host == "" {
		host = "localhost"
	}
	port := cfg.Port
	if port == 0 {
		port = 5432
	}
	sslmode := "disable"
	if mode, ok := cfg.Options["sslmode"]; ok {
		sslmode = mode
	}

	dsn := fmt.Sprintf("host=%s port=%d dbname=%s sslmode=%s", host, port, cfg.Database, sslmode)
	if cfg.Username != "" {
		dsn += fmt.Sprintf(" user=%s", cfg.Username)
	}
	if cfg.Password != "" {
		dsn += fmt.Sprintf(" password=%s", cfg.Password)
	}
	return dsn
}

// WriteTable creates the named table if needed, truncates it and copies t in,
// all in one transaction. The transaction is rolled back unless the copied
// row count matches t.
func (a *Postgres) WriteTable(ctx context.Context, name string, t *table.Table) error {
	if a.DB == nil {
		return fmt.Errorf("database connection not established")
	}

	conn, err := a.DB.Conn(ctx)
	if err != nil {
		return fmt.Errorf("failed to get connection: %w", err)
	}
	defer func() { _ = conn.Close() }()

	rows := make([][]any, 0, t.Len())
	for _, r := range t.Rows() {
		rows = append(rows, []any(r))
	}

	var copied int64
	err = conn.Raw(func(driverConn any) error {
		pgxConn := driverConn.(*stdlib.Conn).Conn()
		tx, err := pgxConn.Begin(ctx)
		if err != nil {
			return err
		}
		defer func() { _ = tx.Rollback(ctx) }()

		if _, err := tx.Exec(ctx, createTableSQL(name, t, a.DialectName(), "CREATE TABLE IF NOT EXISTS")); err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, "TRUNCATE "+QuoteIdent(name)); err != nil {
			return err
		}
		copied, err = tx.CopyFrom(ctx, pgx.Identifier{name}, t.ColumnNames(), pgx.CopyFromRows(rows))
		if err != nil {
			return err
		}
		if copied != int64(t.Len()) {
			return fmt.Errorf("copied %d rows, want %d", copied, t.Len())
		}
		return tx.Commit(ctx)
	})
	if err != nil {
		return fmt.Errorf("failed to copy rows into %s: %w", name, err)
	}
	a.Logger.Debug("table copied", slog.String("table", name), slog.Int64("rows", copied))
	return nil
}

var _ Adapter = (*Postgres)(nil)
