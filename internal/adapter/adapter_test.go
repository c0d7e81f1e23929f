package adapter

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leapstack-labs/fitetl/internal/table"
	"github.com/leapstack-labs/fitetl/internal/testutil"
)

func sampleTable(t *testing.T) *table.Table {
	t.Helper()
	tbl, err := table.FromRows([]table.Column{
		{Name: "participant_id", Kind: table.KindString},
		{Name: "date", Kind: table.KindDate},
		{Name: "age", Kind: table.KindInt},
		{Name: "bmi", Kind: table.KindFloat},
		{Name: "is_weekend", Kind: table.KindBool},
	}, []table.Row{
		{"1", time.Date(2023, 1, 5, 0, 0, 0, 0, time.UTC), int64(30), 25.0, false},
		{"2", nil, nil, 22.5, true},
	})
	require.NoError(t, err)
	return tbl
}

func connectDuckDB(t *testing.T) *DuckDB {
	t.Helper()
	db := NewDuckDB(testutil.NewTestLogger(t))
	require.NoError(t, db.Connect(context.Background(), Config{Path: ":memory:"}))
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestDuckDB_WriteAndQueryTable(t *testing.T) {
	ctx := context.Background()
	db := connectDuckDB(t)
	tbl := sampleTable(t)

	require.NoError(t, db.WriteTable(ctx, "fitness", tbl))

	n, err := db.CountRows(ctx, "fitness")
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	got, err := db.QueryTable(ctx, `SELECT * FROM "fitness" ORDER BY participant_id`)
	require.NoError(t, err)
	assert.Equal(t, tbl.Columns(), got.Columns())
	assert.Equal(t, "1", got.Value(0, "participant_id"))
	assert.Equal(t, int64(30), got.Value(0, "age"))
	assert.Nil(t, got.Value(1, "date"))
	assert.Equal(t, true, got.Value(1, "is_weekend"))
}

func TestDuckDB_ParquetRoundTrip(t *testing.T) {
	ctx := context.Background()
	db := connectDuckDB(t)
	tbl := sampleTable(t)
	path := filepath.Join(t.TempDir(), "fitness.parquet")

	require.NoError(t, db.WriteParquet(ctx, tbl, path, "zstd"))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Positive(t, info.Size())

	got, err := db.ReadParquet(ctx, path)
	require.NoError(t, err)
	assert.Equal(t, tbl.Len(), got.Len())
	assert.Equal(t, tbl.ColumnNames(), got.ColumnNames())

	d, ok := table.AsTime(got.Value(0, "date"))
	require.True(t, ok)
	assert.Equal(t, "2023-01-05", d.Format(table.DateLayout))

	desc, err := db.DescribeFile(ctx, path)
	require.NoError(t, err)
	assert.Equal(t, []any{"participant_id", "date", "age", "bmi", "is_weekend"}, desc.Values("column_name"))
}

func TestDuckDB_Settings(t *testing.T) {
	db := NewDuckDB(nil)
	err := db.Connect(context.Background(), Config{Settings: map[string]string{"threads": "2"}})
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	got, err := db.QueryTable(context.Background(), "SELECT current_setting('threads') AS threads")
	require.NoError(t, err)
	assert.EqualValues(t, 2, got.Value(0, "threads"))
}

func TestDuckDB_RejectsUnknownCompression(t *testing.T) {
	db := connectDuckDB(t)
	err := db.WriteParquet(context.Background(), sampleTable(t), filepath.Join(t.TempDir(), "x.parquet"), "lzma")
	require.Error(t, err)
}

func TestFileSource(t *testing.T) {
	src, err := FileSource("/data/out.parquet")
	require.NoError(t, err)
	assert.Equal(t, "read_parquet('/data/out.parquet')", src)

	src, err = FileSource("/data/it's.csv")
	require.NoError(t, err)
	assert.Equal(t, "read_csv_auto('/data/it''s.csv', header=true)", src)

	_, err = FileSource("/data/out.json")
	require.Error(t, err)
}

func TestKindOf(t *testing.T) {
	tests := map[string]table.Kind{
		"VARCHAR":          table.KindString,
		"BIGINT":           table.KindInt,
		"INTEGER":          table.KindInt,
		"DOUBLE":           table.KindFloat,
		"DOUBLE PRECISION": table.KindFloat,
		"DECIMAL(18,3)":    table.KindFloat,
		"DATE":             table.KindDate,
		"BOOLEAN":          table.KindBool,
		"text":             table.KindString,
	}
	for in, want := range tests {
		assert.Equal(t, want, KindOf(in), in)
	}
}

func TestCreateTableSQL(t *testing.T) {
	tbl := sampleTable(t)
	assert.Equal(t,
		`CREATE TABLE IF NOT EXISTS "fitness" ("participant_id" TEXT, "date" DATE, "age" BIGINT, "bmi" DOUBLE PRECISION, "is_weekend" BOOLEAN)`,
		createTableSQL("fitness", tbl, "postgres", "CREATE TABLE IF NOT EXISTS"))
	assert.Equal(t, `"we""ird"`, QuoteIdent(`we"ird`))
}

func TestBuildPostgresDSN(t *testing.T) {
	tests := []struct {
		name     string
		config   Config
		expected string
	}{
		{
			name:     "explicit dsn",
			config:   Config{DSN: "postgres://u@db/fit", Host: "ignored"},
			expected: "postgres://u@db/fit",
		},
		{
			name:     "defaults",
			config:   Config{Database: "fitness"},
			expected: "host=localhost port=5432 dbname=fitness sslmode=disable",
		},
		{
			name: "credentials and sslmode",
			config: Config{
				Host: "db.example.com", Port: 5433, Database: "fitness",
				Username: "etl", Password: "secret",
				Options: map[string]string{"sslmode": "require"},
			},
			expected: "host=db.example.com port=5433 dbname=fitness sslmode=require user=etl password=secret",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, BuildPostgresDSN(tt.config))
		})
	}
}

func TestRegistry(t *testing.T) {
	assert.Equal(t, []string{"duckdb", "postgres"}, ListAdapters())

	a, err := New("duckdb", nil)
	require.NoError(t, err)
	assert.Equal(t, "duckdb", a.DialectName())

	_, err = New("oracle", nil)
	var unknown *UnknownAdapterError
	require.ErrorAs(t, err, &unknown)
	assert.Equal(t, "oracle", unknown.Type)
}

// TestPostgres_WriteTable needs a live database; set FITETL_TEST_POSTGRES_DSN to run it.
func TestPostgres_WriteTable(t *testing.T) {
	dsn := os.Getenv("FITETL_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("FITETL_TEST_POSTGRES_DSN not set")
	}
	ctx := context.Background()
	pg := NewPostgres(testutil.NewTestLogger(t))
	require.NoError(t, pg.Connect(ctx, Config{DSN: dsn}))
	defer func() { _ = pg.Close() }()

	tbl := sampleTable(t)
	require.NoError(t, pg.WriteTable(ctx, "fitetl_test", tbl))
	require.NoError(t, pg.WriteTable(ctx, "fitetl_test", tbl), "rewrites replace rows")

	n, err := pg.CountRows(ctx, "fitetl_test")
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	got, err := pg.QueryTable(ctx, `SELECT participant_id, age FROM "fitetl_test" ORDER BY participant_id`)
	require.NoError(t, err)
	if diff := cmp.Diff([]table.Row{{"1", int64(30)}, {"2", nil}}, got.Rows()); diff != "" {
		t.Errorf("rows mismatch (-want +got):\n%s", diff)
	}
	require.NoError(t, pg.Exec(ctx, `DROP TABLE "fitetl_test"`))
}
