package load

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leapstack-labs/fitetl/internal/adapter"
	"github.com/leapstack-labs/fitetl/internal/fitness"
	"github.com/leapstack-labs/fitetl/internal/table"
	"github.com/leapstack-labs/fitetl/internal/testutil"
)

var fixedNow = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func newLoader(t *testing.T, cfg Config) *Loader {
	t.Helper()
	cfg.Logger = testutil.NewTestLogger(t)
	cfg.Now = func() time.Time { return fixedNow }
	return New(cfg)
}

func enriched(t *testing.T) *table.Table {
	t.Helper()
	tbl, err := table.FromRows([]table.Column{
		{Name: "participant_id", Kind: table.KindString},
		{Name: "date", Kind: table.KindDate},
		{Name: "age", Kind: table.KindInt},
		{Name: "bmi", Kind: table.KindFloat},
		{Name: "season", Kind: table.KindString},
		{Name: "is_weekend", Kind: table.KindBool},
	}, []table.Row{
		{"p1", time.Date(2023, 1, 5, 0, 0, 0, 0, time.UTC), int64(30), 24.999999999999996, "winter", false},
		{"p2", time.Date(2023, 7, 8, 0, 0, 0, 0, time.UTC), nil, 22.5, "summer", true},
		{"p3", nil, int64(51), nil, "unknown", nil},
	})
	require.NoError(t, err)
	return tbl
}

func TestReadCSV_KeepsSchemaKinds(t *testing.T) {
	dir := t.TempDir()
	tbl, err := table.FromRows([]table.Column{
		{Name: fitness.ParticipantID, Kind: table.KindString},
		{Name: fitness.Date, Kind: table.KindDate},
		{Name: fitness.HeightCM, Kind: table.KindFloat},
		{Name: fitness.Age, Kind: table.KindInt},
		{Name: "bmi_category", Kind: table.KindString},
	}, []table.Row{
		{"1", time.Date(2023, 1, 5, 0, 0, 0, 0, time.UTC), 180.0, int64(30), "normal"},
		{"2", time.Date(2023, 7, 8, 0, 0, 0, 0, time.UTC), 165.0, nil, "overweight"},
	})
	require.NoError(t, err)

	m, err := newLoader(t, Config{}).Load(context.Background(), tbl, Spec{
		Format: FormatCSV, Path: filepath.Join(dir, "fitness.csv"),
	})
	require.NoError(t, err)

	back, err := ReadCSV(m.Path)
	require.NoError(t, err)
	kinds := map[string]table.Kind{}
	for _, c := range back.Columns() {
		kinds[c.Name] = c.Kind
	}
	assert.Equal(t, map[string]table.Kind{
		fitness.ParticipantID: table.KindString,
		fitness.Date:          table.KindDate,
		fitness.HeightCM:      table.KindFloat,
		fitness.Age:           table.KindInt,
		"bmi_category":        table.KindString,
	}, kinds)
	assert.Equal(t, "1", back.Value(0, fitness.ParticipantID))
	assert.Equal(t, 180.0, back.Value(0, fitness.HeightCM))
	assert.Nil(t, back.Value(1, fitness.Age))
}

func TestLoad_CSV(t *testing.T) {
	for _, c := range []Compression{CompressionNone, CompressionGzip, CompressionSnappy} {
		t.Run(string(c), func(t *testing.T) {
			dir := t.TempDir()
			tbl := enriched(t)

			m, err := newLoader(t, Config{}).Load(context.Background(), tbl, Spec{
				Format: FormatCSV, Path: filepath.Join(dir, "fitness.csv"), Compression: c,
			})
			require.NoError(t, err)

			assert.Equal(t, 3, m.Rows)
			assert.Equal(t, tbl.ColumnNames(), m.Columns)
			assert.Equal(t, fixedNow, m.WrittenAt)

			sum, size, err := Checksum(m.Path)
			require.NoError(t, err)
			assert.Equal(t, sum, m.SHA256)
			assert.Equal(t, size, m.Bytes)

			back, err := ReadCSV(m.Path)
			require.NoError(t, err)
			assert.Equal(t, tbl.Len(), back.Len())
			assert.Equal(t, tbl.ColumnNames(), back.ColumnNames())
			assert.Equal(t, "2023-01-05", table.Format(back.Value(0, "date")))
			assert.Equal(t, 24.999999999999996, back.Value(0, "bmi"))
			assert.Nil(t, back.Value(2, "bmi"))

			entries, err := os.ReadDir(dir)
			require.NoError(t, err)
			assert.Len(t, entries, 1, "temp files must be gone")
		})
	}
}

func TestLoad_CSVExtensions(t *testing.T) {
	assert.Equal(t, "out/f.csv.gz", Spec{Format: FormatCSV, Path: "out/f.csv", Compression: CompressionGzip}.FilePath())
	assert.Equal(t, "out/f.csv.sz", Spec{Format: FormatCSV, Path: "out/f.csv", Compression: CompressionSnappy}.FilePath())
	assert.Equal(t, "out/f.csv.gz", Spec{Format: FormatCSV, Path: "out/f.csv.gz", Compression: CompressionGzip}.FilePath())
	assert.Equal(t, "out/f.parquet", Spec{Format: FormatParquet, Path: "out/f.parquet", Compression: CompressionGzip}.FilePath())
}

func TestLoad_ParquetRoundTrip(t *testing.T) {
	for _, c := range []Compression{CompressionSnappy, CompressionGzip, CompressionZstd, CompressionNone} {
		t.Run(string(c), func(t *testing.T) {
			ctx := context.Background()
			tbl := enriched(t)
			path := filepath.Join(t.TempDir(), "fitness.parquet")

			m, err := newLoader(t, Config{}).Load(ctx, tbl, Spec{Format: FormatParquet, Path: path, Compression: c})
			require.NoError(t, err)
			assert.Equal(t, path, m.Path)
			assert.Positive(t, m.Bytes)

			back, err := ReadParquet(ctx, path, adapter.Config{})
			require.NoError(t, err)
			assert.Equal(t, tbl.Len(), back.Len())
			assert.Equal(t, tbl.ColumnNames(), back.ColumnNames())
			if diff := cmp.Diff(tbl.Rows(), back.Rows()); diff != "" {
				t.Errorf("rows mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestLoad_EmptyTableKeepsSchema(t *testing.T) {
	ctx := context.Background()
	tbl := enriched(t).Filter(func(int, table.Row) bool { return false })
	dir := t.TempDir()

	manifests, err := newLoader(t, Config{}).LoadAll(ctx, tbl, []Spec{
		{Format: FormatCSV, Path: filepath.Join(dir, "fitness.csv")},
		{Format: FormatParquet, Path: filepath.Join(dir, "fitness.parquet")},
	})
	require.NoError(t, err)
	require.Len(t, manifests, 2)

	for _, m := range manifests {
		back, err := ReadOutput(ctx, m.Path, adapter.Config{})
		require.NoError(t, err)
		assert.Equal(t, 0, back.Len())
		assert.Equal(t, tbl.ColumnNames(), back.ColumnNames())
	}
}

func TestLoad_UnwritableDestination(t *testing.T) {
	dir := t.TempDir()
	blocker := testutil.WriteFile(t, dir, "blocker", "not a directory")

	_, err := newLoader(t, Config{}).Load(context.Background(), enriched(t), Spec{
		Format: FormatCSV, Path: filepath.Join(blocker, "fitness.csv"),
	})
	require.Error(t, err)

	var lerr *LoadError
	require.ErrorAs(t, err, &lerr)
	assert.Equal(t, "create directory", lerr.Op)
	assert.Equal(t, FormatCSV, lerr.Format)
}

func TestLoad_WriteFailureLeavesNothing(t *testing.T) {
	dir := t.TempDir()
	bad, err := table.FromRows([]table.Column{{Name: "age", Kind: table.KindInt}}, []table.Row{{"not a number"}})
	require.NoError(t, err)

	_, err = newLoader(t, Config{}).Load(context.Background(), bad, Spec{
		Format: FormatParquet, Path: filepath.Join(dir, "fitness.parquet"),
	})
	var lerr *LoadError
	require.ErrorAs(t, err, &lerr)
	assert.Equal(t, "write", lerr.Op)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestLoad_InvalidSpec(t *testing.T) {
	tests := []Spec{
		{Format: FormatCSV, Path: "x.csv", Compression: CompressionZstd},
		{Format: FormatPostgres, Path: "fitness", Compression: CompressionGzip},
		{Format: FormatParquet},
		{Format: "xlsx", Path: "x.xlsx"},
	}
	for _, spec := range tests {
		_, err := newLoader(t, Config{}).Load(context.Background(), enriched(t), spec)
		var lerr *LoadError
		require.ErrorAs(t, err, &lerr, "%+v", spec)
		assert.Equal(t, "validate spec", lerr.Op)
	}
}

func TestLoad_PostgresSink(t *testing.T) {
	ctx := context.Background()
	// DuckDB stands in for PostgreSQL behind the adapter interface.
	sink := adapter.NewDuckDB(nil)
	require.NoError(t, sink.Connect(ctx, adapter.Config{}))
	defer func() { _ = sink.Close() }()

	m, err := newLoader(t, Config{Sink: sink}).Load(ctx, enriched(t), Spec{Format: FormatPostgres, Path: "fitness_stats"})
	require.NoError(t, err)
	assert.Equal(t, 3, m.Rows)
	assert.Equal(t, "fitness_stats", m.Path)

	n, err := sink.CountRows(ctx, "fitness_stats")
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
}

type shortSink struct{ adapter.Adapter }

func (shortSink) WriteTable(context.Context, string, *table.Table) error { return nil }
func (shortSink) CountRows(context.Context, string) (int64, error)      { return 1, nil }

func TestLoad_PostgresCountMismatch(t *testing.T) {
	_, err := newLoader(t, Config{Sink: shortSink{}}).Load(context.Background(), enriched(t), Spec{Format: FormatPostgres, Path: "fitness"})

	var lerr *LoadError
	require.ErrorAs(t, err, &lerr)
	assert.ErrorIs(t, err, ErrValidation)
}

func TestCompareShape(t *testing.T) {
	tbl := enriched(t)
	require.NoError(t, compareShape(tbl, tbl))
	assert.ErrorIs(t, compareShape(tbl, tbl.Without("season")), ErrValidation)
	assert.ErrorIs(t, compareShape(tbl, tbl.Filter(func(i int, _ table.Row) bool { return i > 0 })), ErrValidation)
}

func TestSidecar(t *testing.T) {
	dir := t.TempDir()
	path := SidecarPath(filepath.Join(dir, "fitness.csv.gz"))
	assert.Equal(t, filepath.Join(dir, "fitness.manifest.json"), path)

	want := RunManifest{
		RunID:       "run-1",
		Environment: "test",
		CreatedAt:   fixedNow,
		Outputs:     []Manifest{{Path: "fitness.csv", Format: FormatCSV, Compression: CompressionNone, Rows: 3, Columns: []string{"a"}, WrittenAt: fixedNow}},
	}
	require.NoError(t, WriteSidecar(path, want))

	got, err := ReadSidecar(path)
	require.NoError(t, err)
	assert.Equal(t, want, *got)
}

func TestUnmarshalText(t *testing.T) {
	var f Format
	require.NoError(t, f.UnmarshalText([]byte("Parquet")))
	assert.Equal(t, FormatParquet, f)
	assert.Error(t, f.UnmarshalText([]byte("xlsx")))

	var c Compression
	require.NoError(t, c.UnmarshalText([]byte("uncompressed")))
	assert.Equal(t, CompressionNone, c)
	assert.Error(t, c.UnmarshalText([]byte("brotli")))
}
