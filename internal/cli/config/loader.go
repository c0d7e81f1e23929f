package config

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"strings"

	"github.com/go-viper/mapstructure/v2"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/spf13/pflag"

	"github.com/leapstack-labs/fitetl/internal/load"
)

// loggerKey is used to store the logger in context.
type loggerKey struct{}

// envPrefix prefixes every environment variable the loader reads. A double
// underscore separates nesting levels: FITETL_DASHBOARD__ADDR sets dashboard.addr.
const envPrefix = "FITETL_"

// maxUpwardSearchLevels limits how far up the directory tree to search for config files.
const maxUpwardSearchLevels = 10

// configNames are the file names searched for, in order.
var configNames = []string{ConfigFileName, "fitetl.yml"}

// flagKeys maps command-line flags to config keys. Flags not listed here are
// command options and never reach the config.
var flagKeys = map[string]string{
	"env":           "environment",
	"verbose":       "verbose",
	"output":        "output",
	"log-level":     "log_level",
	"log-format":    "log_format",
	"log-file":      "log_file",
	"state":         "state_path",
	"raw-dir":       "raw_dir",
	"input":         "input_files",
	"output-dir":    "output_dir",
	"manifest":      "manifest_path",
	"date-fallback": "standardise.date_fallback",
	"hemisphere":    "enrich.hemisphere",
	"height-unit":   "enrich.height_unit",
	"addr":          "dashboard.addr",
	"data":          "dashboard.data",
	"watch":         "dashboard.watch",
}

// pathFlags hold paths given relative to the working directory rather than
// the project root.
var pathFlags = map[string]bool{
	"state": true, "raw-dir": true, "input": true, "output-dir": true,
	"manifest": true, "log-file": true, "data": true,
}

// Loader loads configuration. The zero value is not usable; use NewLoader.
type Loader struct {
	k        *koanf.Koanf
	fileUsed string
}

// NewLoader creates a loader.
func NewLoader() *Loader {
	return &Loader{k: koanf.New(".")}
}

// FileUsed returns the config file that was read, or "" when none was found.
func (l *Loader) FileUsed() string {
	return l.fileUsed
}

// Defaults returns the built-in configuration as a flat key map.
func Defaults() map[string]any {
	return map[string]any{
		"environment":               DefaultEnv,
		"verbose":                   false,
		"output":                    DefaultOutput,
		"log_format":                "text",
		"log_level":                 "info",
		"raw_dir":                   DefaultRawDir,
		"output_dir":                DefaultOutputDir,
		"state_path":                DefaultStateFile,
		"standardise.date_fallback": "flag",
		"enrich.hemisphere":         "north",
		"enrich.height_unit":        "auto",
		"dashboard.addr":            DefaultAddr,
		"dashboard.watch":           true,
		"dashboard.debounce":        "200ms",
		"kafka.topic":               "fitetl.runs",
		"kafka.write_timeout":       "10s",
		"outputs": []any{
			map[string]any{"format": "csv", "path": "fitness_processed.csv"},
			map[string]any{"format": "parquet", "path": "fitness_processed.parquet", "compression": "snappy"},
		},
	}
}

// Load reads configuration. Precedence, highest first: flags, FITETL_
// environment variables, the config file, defaults. cfgFile may be empty to
// search upward from the working directory.
func (l *Loader) Load(cfgFile string, flags *pflag.FlagSet) (*Config, error) {
	l.k = koanf.New(".")
	l.fileUsed = ""

	projectRoot, err := l.findConfig(cfgFile)
	if err != nil {
		return nil, err
	}

	// 1. Defaults
	if err := l.k.Load(confmap.Provider(Defaults(), "."), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	// 2. Config file
	if l.fileUsed != "" {
		if err := l.k.Load(file.Provider(l.fileUsed), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("error reading config file %s: %w", l.fileUsed, err)
		}
	}

	// 3. Environment variables: FITETL_LOG_LEVEL -> log_level
	if err := l.k.Load(env.Provider(envPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("failed to load env vars: %w", err)
	}

	// 4. Flags that were explicitly set
	if flags != nil {
		if err := l.k.Load(posflag.ProviderWithFlag(flags, ".", l.k, flagValue(flags)), nil); err != nil {
			return nil, fmt.Errorf("failed to load flags: %w", err)
		}
	}

	var cfg Config
	if err := l.k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{
		Tag: "koanf",
		DecoderConfig: &mapstructure.DecoderConfig{
			DecodeHook: mapstructure.ComposeDecodeHookFunc(
				mapstructure.StringToTimeDurationHookFunc(),
				mapstructure.StringToSliceHookFunc(","),
				mapstructure.TextUnmarshallerHookFunc(),
			),
			Result:           &cfg,
			TagName:          "koanf",
			WeaklyTypedInput: true,
		},
	}); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}

	cfg.ProjectRoot = projectRoot
	cfg.applyEnvironment()
	cfg.expandSecrets()
	cfg.resolvePaths()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// findConfig locates the config file and returns the project root. An
// explicit file must exist and its directory is the root.
func (l *Loader) findConfig(cfgFile string) (string, error) {
	if cfgFile != "" {
		abs, err := filepath.Abs(cfgFile)
		if err != nil {
			return "", fmt.Errorf("resolve config path: %w", err)
		}
		if _, err := os.Stat(abs); err != nil {
			return "", fmt.Errorf("config file %s: %w", cfgFile, err)
		}
		l.fileUsed = abs
		return filepath.Dir(abs), nil
	}

	cwd, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("get working directory: %w", err)
	}
	if root, name := findProjectRootUpward(cwd); root != "" {
		l.fileUsed = filepath.Join(root, name)
		return root, nil
	}
	return cwd, nil
}

// findProjectRootUpward searches upward from startDir for a config file.
func findProjectRootUpward(startDir string) (dir, name string) {
	dir = startDir
	for range maxUpwardSearchLevels {
		for _, n := range configNames {
			if _, err := os.Stat(filepath.Join(dir, n)); err == nil {
				return dir, n
			}
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return "", ""
}

func envKey(s string) string {
	s = strings.ToLower(strings.TrimPrefix(s, envPrefix))
	return strings.ReplaceAll(s, "__", ".")
}

func flagValue(flags *pflag.FlagSet) func(*pflag.Flag) (string, any) {
	return func(f *pflag.Flag) (string, any) {
		key, ok := flagKeys[f.Name]
		if !ok || !f.Changed {
			return "", nil
		}
		val := posflag.FlagVal(flags, f)
		if pathFlags[f.Name] {
			val = absFlagValue(val)
		}
		return key, val
	}
}

func absFlagValue(v any) any {
	abs := func(p string) string {
		if p == "" || p == ":memory:" {
			return p
		}
		if a, err := filepath.Abs(p); err == nil {
			return a
		}
		return p
	}
	switch v := v.(type) {
	case string:
		return abs(v)
	case []string:
		out := make([]string, len(v))
		for i, p := range v {
			out[i] = abs(p)
		}
		return out
	}
	return v
}

// applyEnvironment merges the selected profile over the base values.
func (c *Config) applyEnvironment() {
	e, ok := c.Environments[c.Environment]
	if !ok {
		return
	}
	if e.RawDir != "" {
		c.RawDir = e.RawDir
	}
	if len(e.InputFiles) > 0 {
		c.InputFiles = slices.Clone(e.InputFiles)
	}
	if e.OutputDir != "" {
		c.OutputDir = e.OutputDir
	}
	if len(e.Outputs) > 0 {
		c.Outputs = slices.Clone(e.Outputs)
	}
	if e.ManifestPath != "" {
		c.ManifestPath = e.ManifestPath
	}
	if e.StatePath != "" {
		c.StatePath = e.StatePath
	}
	if e.LogLevel != "" {
		c.LogLevel = e.LogLevel
	}
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnvVars expands ${VAR} patterns. Unset variables are left as written.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		if val, ok := os.LookupEnv(match[2 : len(match)-1]); ok {
			return val
		}
		return match
	})
}

func (c *Config) expandSecrets() {
	for _, db := range []*DatabaseConfig{&c.DuckDB, &c.Postgres} {
		db.DSN = expandEnvVars(db.DSN)
		db.Host = expandEnvVars(db.Host)
		db.User = expandEnvVars(db.User)
		db.Password = expandEnvVars(db.Password)
		db.Database = expandEnvVars(db.Database)
	}
	for i, b := range c.Kafka.Brokers {
		c.Kafka.Brokers[i] = expandEnvVars(b)
	}
}

// resolvePathRelativeTo resolves path against baseDir unless it is empty,
// absolute or in-memory.
func resolvePathRelativeTo(path, baseDir string) string {
	if path == "" || path == ":memory:" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(baseDir, path)
}

// resolvePaths anchors directories at the project root, inputs at RawDir and
// file outputs at OutputDir.
func (c *Config) resolvePaths() {
	root := c.ProjectRoot
	c.RawDir = resolvePathRelativeTo(c.RawDir, root)
	c.OutputDir = resolvePathRelativeTo(c.OutputDir, root)
	c.StatePath = resolvePathRelativeTo(c.StatePath, root)
	c.ManifestPath = resolvePathRelativeTo(c.ManifestPath, root)
	c.MetricsTextfile = resolvePathRelativeTo(c.MetricsTextfile, root)
	c.LogFile = resolvePathRelativeTo(c.LogFile, root)
	c.DuckDB.Path = resolvePathRelativeTo(c.DuckDB.Path, root)
	c.Dash.Data = resolvePathRelativeTo(c.Dash.Data, c.OutputDir)

	for i, p := range c.InputFiles {
		c.InputFiles[i] = resolvePathRelativeTo(p, c.RawDir)
	}
	for i, spec := range c.Outputs {
		if spec.Format != load.FormatPostgres {
			c.Outputs[i].Path = resolvePathRelativeTo(spec.Path, c.OutputDir)
		}
	}
}

// ResolveInputs returns the configured input files, or every *.csv file in
// RawDir when none are listed.
func (c *Config) ResolveInputs() ([]string, error) {
	if len(c.InputFiles) > 0 {
		return c.InputFiles, nil
	}
	matches, err := filepath.Glob(filepath.Join(c.RawDir, "*.csv"))
	if err != nil {
		return nil, fmt.Errorf("scan %s: %w", c.RawDir, err)
	}
	if len(matches) == 0 {
		return nil, fmt.Errorf("no input files: none configured and no *.csv in %s\nHint: set input_files or use --input", c.RawDir)
	}
	slices.Sort(matches)
	return matches, nil
}

// DashboardData returns the output the dashboard serves: Dash.Data when set,
// otherwise the first file output.
func (c *Config) DashboardData() (string, error) {
	if c.Dash.Data != "" {
		return c.Dash.Data, nil
	}
	for _, spec := range c.Outputs {
		if spec.Format != load.FormatPostgres {
			return spec.FilePath(), nil
		}
	}
	return "", fmt.Errorf("no file output configured for the dashboard\nHint: set dashboard.data or add a csv/parquet output")
}

// WithLogger returns a context carrying logger.
func WithLogger(ctx context.Context, logger *slog.Logger) context.Context {
	return context.WithValue(ctx, loggerKey{}, logger)
}

// GetLogger retrieves the logger from the command context.
func GetLogger(ctx context.Context) *slog.Logger {
	if l, ok := ctx.Value(loggerKey{}).(*slog.Logger); ok {
		return l
	}
	// Return discard logger as safe fallback
	return slog.New(slog.DiscardHandler)
}

type configKey struct{}

// WithConfig returns a context carrying cfg.
func WithConfig(ctx context.Context, cfg *Config) context.Context {
	return context.WithValue(ctx, configKey{}, cfg)
}

// FromContext returns the config stored by WithConfig, or nil.
func FromContext(ctx context.Context) *Config {
	cfg, _ := ctx.Value(configKey{}).(*Config)
	return cfg
}
