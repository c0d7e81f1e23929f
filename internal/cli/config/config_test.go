package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leapstack-labs/fitetl/internal/load"
	"github.com/leapstack-labs/fitetl/internal/transform"
)

// testFlags mirrors the persistent and run flags the CLI registers.
func testFlags(t *testing.T, args ...string) *pflag.FlagSet {
	t.Helper()
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	fs.String("env", "", "")
	fs.String("log-level", "", "")
	fs.String("state", "", "")
	fs.StringSlice("input", nil, "")
	fs.String("date-fallback", "", "")
	fs.Int("limit", 20, "")
	require.NoError(t, fs.Parse(args))
	return fs
}

func writeConfig(t *testing.T, dir, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(dir, 0o750))
	require.NoError(t, os.WriteFile(filepath.Join(dir, ConfigFileName), []byte(content), 0o600))
}

// projectDir returns a temp dir with symlinks resolved, so it compares equal
// to os.Getwd after a chdir.
func projectDir(t *testing.T) string {
	t.Helper()
	dir, err := filepath.EvalSymlinks(t.TempDir())
	require.NoError(t, err)
	return dir
}

func TestLoad_Defaults(t *testing.T) {
	dir := projectDir(t)
	t.Chdir(dir)

	l := NewLoader()
	cfg, err := l.Load("", nil)
	require.NoError(t, err)

	assert.Empty(t, l.FileUsed())
	assert.Equal(t, dir, cfg.ProjectRoot)
	assert.Equal(t, DefaultEnv, cfg.Environment)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, filepath.Join(dir, DefaultRawDir), cfg.RawDir)
	assert.Equal(t, filepath.Join(dir, DefaultStateFile), cfg.StatePath)
	assert.Equal(t, transform.DateFlag, cfg.Standardise.DateFallback)
	assert.Equal(t, transform.North, cfg.Enrich.Hemisphere)
	assert.Equal(t, 200*time.Millisecond, cfg.Dash.Debounce)
	assert.True(t, cfg.Dash.Watch)

	require.Len(t, cfg.Outputs, 2)
	assert.Equal(t, load.Spec{
		Format: load.FormatCSV,
		Path:   filepath.Join(dir, DefaultOutputDir, "fitness_processed.csv"),
	}, cfg.Outputs[0])
	assert.Equal(t, load.FormatParquet, cfg.Outputs[1].Format)
	assert.Equal(t, load.CompressionSnappy, cfg.Outputs[1].Compression)
}

func TestLoad_SearchesUpward(t *testing.T) {
	root := projectDir(t)
	writeConfig(t, root, "raw_dir: input\nlog_level: warn\n")
	nested := filepath.Join(root, "a", "b")
	require.NoError(t, os.MkdirAll(nested, 0o750))
	t.Chdir(nested)

	l := NewLoader()
	cfg, err := l.Load("", nil)
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(root, ConfigFileName), l.FileUsed())
	assert.Equal(t, root, cfg.ProjectRoot)
	assert.Equal(t, filepath.Join(root, "input"), cfg.RawDir)
	assert.Equal(t, "warn", cfg.LogLevel)
}

func TestLoad_ExplicitFile(t *testing.T) {
	root := projectDir(t)
	writeConfig(t, filepath.Join(root, "conf"), "state_path: run.db\n")
	t.Chdir(root)

	cfg, err := NewLoader().Load(filepath.Join("conf", ConfigFileName), nil)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "conf", "run.db"), cfg.StatePath)

	_, err = NewLoader().Load("missing.yaml", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing.yaml")
}

func TestLoad_Precedence(t *testing.T) {
	tests := []struct {
		name  string
		env   string
		flags []string
		want  string
	}{
		{"file", "", nil, "warn"},
		{"env over file", "debug", nil, "debug"},
		{"flag over env", "debug", []string{"--log-level", "error"}, "error"},
		{"unchanged flag ignored", "debug", []string{"--limit", "5"}, "debug"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			root := projectDir(t)
			writeConfig(t, root, "log_level: warn\n")
			t.Chdir(root)
			if tt.env != "" {
				t.Setenv("FITETL_LOG_LEVEL", tt.env)
			}

			cfg, err := NewLoader().Load("", testFlags(t, tt.flags...))
			require.NoError(t, err)
			assert.Equal(t, tt.want, cfg.LogLevel)
		})
	}
}

func TestLoad_NestedEnvAndHooks(t *testing.T) {
	t.Chdir(projectDir(t))
	t.Setenv("FITETL_DASHBOARD__ADDR", ":9000")
	t.Setenv("FITETL_DASHBOARD__DEBOUNCE", "1s")
	t.Setenv("FITETL_KAFKA__BROKERS", "k1:9092,k2:9092")
	t.Setenv("FITETL_ENRICH__HEMISPHERE", "south")

	cfg, err := NewLoader().Load("", nil)
	require.NoError(t, err)

	assert.Equal(t, ":9000", cfg.Dash.Addr)
	assert.Equal(t, time.Second, cfg.Dash.Debounce)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, transform.South, cfg.Enrich.Hemisphere)
}

func TestLoad_EnvironmentOverrides(t *testing.T) {
	root := projectDir(t)
	writeConfig(t, root, `
output_dir: out
environments:
  test:
    output_dir: out/test
    state_path: ":memory:"
    input_files: [small.csv]
    outputs:
      - format: csv
        path: fitness.csv
        compression: gzip
`)
	t.Chdir(root)

	dev, err := NewLoader().Load("", nil)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "out"), dev.OutputDir)
	assert.Len(t, dev.Outputs, 2)

	cfg, err := NewLoader().Load("", testFlags(t, "--env", "test"))
	require.NoError(t, err)
	assert.Equal(t, "test", cfg.Environment)
	assert.Equal(t, ":memory:", cfg.StatePath)
	assert.Equal(t, []string{filepath.Join(root, DefaultRawDir, "small.csv")}, cfg.InputFiles)
	require.Len(t, cfg.Outputs, 1)
	assert.Equal(t, filepath.Join(root, "out", "test", "fitness.csv"), cfg.Outputs[0].Path)
	assert.Equal(t, load.CompressionGzip, cfg.Outputs[0].Compression)
}

func TestLoad_PathFlagsRelativeToWorkingDir(t *testing.T) {
	root := projectDir(t)
	writeConfig(t, root, "environment: dev\n")
	sub := filepath.Join(root, "sub")
	require.NoError(t, os.MkdirAll(sub, 0o750))
	t.Chdir(sub)

	cfg, err := NewLoader().Load("", testFlags(t, "--input", "x.csv,y.csv", "--state", "s.db"))
	require.NoError(t, err)
	assert.Equal(t, []string{filepath.Join(sub, "x.csv"), filepath.Join(sub, "y.csv")}, cfg.InputFiles)
	assert.Equal(t, filepath.Join(sub, "s.db"), cfg.StatePath)
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{"log format", "log_format: xml\n", "log_format must be one of"},
		{"output mode", "output: html\n", "output must be one of"},
		{"no outputs", "outputs: []\n", "outputs"},
		{"unknown format", "outputs: [{format: avro, path: x}]\n", "unknown output format"},
		{"missing path", "outputs: [{format: csv}]\n", "outputs[0].path is required"},
		{"csv zstd", "outputs: [{format: csv, path: x.csv, compression: zstd}]\n", "csv output supports"},
		{"postgres without connection", "outputs: [{format: postgres, path: fitness}]\n", "postgres.dsn"},
		{"date fallback", "standardise:\n  date_fallback: guess\n", "unknown date fallback"},
		{"debounce", "dashboard:\n  debounce: soon\n", "decode"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			root := projectDir(t)
			writeConfig(t, root, tt.yaml)
			t.Chdir(root)

			_, err := NewLoader().Load("", nil)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestConfig_ResolveInputs(t *testing.T) {
	dir := t.TempDir()
	cfg := &Config{RawDir: dir}

	_, err := cfg.ResolveInputs()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no input files")

	for _, name := range []string{"b.csv", "a.csv", "notes.txt"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), nil, 0o600))
	}
	got, err := cfg.ResolveInputs()
	require.NoError(t, err)
	assert.Equal(t, []string{filepath.Join(dir, "a.csv"), filepath.Join(dir, "b.csv")}, got)

	cfg.InputFiles = []string{"/data/x.csv"}
	got, err = cfg.ResolveInputs()
	require.NoError(t, err)
	assert.Equal(t, []string{"/data/x.csv"}, got)
}

func TestConfig_DashboardData(t *testing.T) {
	cfg := &Config{Outputs: []load.Spec{
		{Format: load.FormatPostgres, Path: "fitness"},
		{Format: load.FormatCSV, Path: "/out/f.csv", Compression: load.CompressionGzip},
	}}
	got, err := cfg.DashboardData()
	require.NoError(t, err)
	assert.Equal(t, "/out/f.csv.gz", got)

	cfg.Dash.Data = "/out/f.parquet"
	got, err = cfg.DashboardData()
	require.NoError(t, err)
	assert.Equal(t, "/out/f.parquet", got)

	_, err = (&Config{Outputs: cfg.Outputs[:1]}).DashboardData()
	require.Error(t, err)
}

func TestExpandEnvVars(t *testing.T) {
	t.Setenv("FITETL_TEST_PW", "s3cret")
	assert.Equal(t, "pw=s3cret", expandEnvVars("pw=${FITETL_TEST_PW}"))
	assert.Equal(t, "${FITETL_TEST_UNSET}", expandEnvVars("${FITETL_TEST_UNSET}"))
}
