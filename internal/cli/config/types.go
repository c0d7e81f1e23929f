// Package config loads fitetl configuration from defaults, fitetl.yaml,
// FITETL_ environment variables and command-line flags.
package config

import (
	"time"

	"github.com/leapstack-labs/fitetl/internal/adapter"
	"github.com/leapstack-labs/fitetl/internal/events"
	"github.com/leapstack-labs/fitetl/internal/fitness"
	"github.com/leapstack-labs/fitetl/internal/load"
	"github.com/leapstack-labs/fitetl/internal/transform"
)

// Config holds all CLI configuration options.
type Config struct {
	// ProjectRoot is the directory relative paths are resolved against.
	ProjectRoot string `koanf:"-"`

	Environment  string `koanf:"environment" validate:"required"`
	Verbose      bool   `koanf:"verbose"`
	OutputFormat string `koanf:"output" validate:"omitempty,oneof=auto text markdown json"`

	LogFormat string `koanf:"log_format" validate:"oneof=text json"`
	LogLevel  string `koanf:"log_level" validate:"oneof=debug info warn error"`
	LogFile   string `koanf:"log_file"`

	RawDir     string   `koanf:"raw_dir"`
	InputFiles []string `koanf:"input_files"`
	OutputDir  string   `koanf:"output_dir"`
	// Outputs are written in order. File paths are relative to OutputDir.
	Outputs         []load.Spec `koanf:"outputs" validate:"required,min=1,dive"`
	ManifestPath    string      `koanf:"manifest_path"`
	StatePath       string      `koanf:"state_path" validate:"required"`
	MetricsTextfile string      `koanf:"metrics_textfile"`

	Extract     ExtractConfig     `koanf:"extract"`
	Cleaning    CleaningConfig    `koanf:"cleaning"`
	Standardise StandardiseConfig `koanf:"standardise"`
	Enrich      EnrichConfig      `koanf:"enrich"`

	DuckDB   DatabaseConfig  `koanf:"duckdb"`
	Postgres DatabaseConfig  `koanf:"postgres"`
	Kafka    events.Config   `koanf:"kafka"`
	Metrics  MetricsConfig   `koanf:"metrics"`
	Dash     DashboardConfig `koanf:"dashboard"`

	Environments map[string]EnvConfig `koanf:"environments"`
}

// EnvConfig holds profile-specific overrides. Empty fields keep the base value.
type EnvConfig struct {
	RawDir       string      `koanf:"raw_dir"`
	InputFiles   []string    `koanf:"input_files"`
	OutputDir    string      `koanf:"output_dir"`
	Outputs      []load.Spec `koanf:"outputs"`
	ManifestPath string      `koanf:"manifest_path"`
	StatePath    string      `koanf:"state_path"`
	LogLevel     string      `koanf:"log_level"`
}

// ExtractConfig configures the extractor.
type ExtractConfig struct {
	NullTokens     []string      `koanf:"null_tokens"`
	ExpectedPerRow time.Duration `koanf:"expected_per_row"`
}

// CleaningConfig configures the cleaner.
type CleaningConfig struct {
	Policies map[string]transform.Policy `koanf:"policies" validate:"dive"`
	AgeBands []float64                   `koanf:"age_bands"`
}

// StandardiseConfig configures the standardiser.
type StandardiseConfig struct {
	DateFallback transform.DateFallback `koanf:"date_fallback" validate:"omitempty,oneof=fail flag drop"`
	DateLayouts  []string               `koanf:"date_layouts"`
}

// EnrichConfig configures the enricher.
type EnrichConfig struct {
	Hemisphere         transform.Hemisphere `koanf:"hemisphere" validate:"omitempty,oneof=north south"`
	HeightUnit         fitness.HeightUnit   `koanf:"height_unit" validate:"omitempty,oneof=auto cm m"`
	WeeklyMetrics      []string             `koanf:"weekly_metrics"`
	RollingWindow      int                  `koanf:"rolling_window" validate:"gte=0"`
	RollingMinSessions int                  `koanf:"rolling_min_sessions" validate:"gte=0"`
}

// DatabaseConfig describes a DuckDB or PostgreSQL connection.
type DatabaseConfig struct {
	Path     string            `koanf:"path"`
	DSN      string            `koanf:"dsn"`
	Host     string            `koanf:"host"`
	Port     int               `koanf:"port" validate:"gte=0,lte=65535"`
	Database string            `koanf:"database"`
	User     string            `koanf:"user"`
	Password string            `koanf:"password"`
	Options  map[string]string `koanf:"options"`
	Settings map[string]string `koanf:"settings"`
}

// Adapter converts the connection settings for the given adapter type.
func (d DatabaseConfig) Adapter(typ string) adapter.Config {
	return adapter.Config{
		Type:     typ,
		Path:     d.Path,
		DSN:      d.DSN,
		Host:     d.Host,
		Port:     d.Port,
		Database: d.Database,
		Username: d.User,
		Password: d.Password,
		Options:  d.Options,
		Settings: d.Settings,
	}
}

// MetricsConfig configures Prometheus collection.
type MetricsConfig struct {
	// Runtime adds the Go and process collectors.
	Runtime bool `koanf:"runtime"`
}

// DashboardConfig configures the dashboard data server.
type DashboardConfig struct {
	Addr string `koanf:"addr" validate:"required"`
	// Data is the output to serve. Empty selects the first file output.
	Data     string        `koanf:"data"`
	Watch    bool          `koanf:"watch"`
	Debounce time.Duration `koanf:"debounce" validate:"gte=0"`
}

// Default configuration values.
const (
	ConfigFileName   = "fitetl.yaml"
	DefaultEnv       = "dev"
	DefaultOutput    = "auto" // Auto-detect: TTY=text, non-TTY=markdown
	DefaultRawDir    = "data/raw"
	DefaultOutputDir = "data/processed"
	DefaultStateFile = ".fitetl/state.db"
	DefaultAddr      = ":8050"
)
