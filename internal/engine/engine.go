// Package engine runs the fitness pipeline: extract, clean, standardise,
// deduplicate, enrich and load. It records each run and stage in the state
// store, updates metrics and publishes a completion event.
package engine

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/leapstack-labs/fitetl/internal/events"
	"github.com/leapstack-labs/fitetl/internal/extract"
	"github.com/leapstack-labs/fitetl/internal/load"
	"github.com/leapstack-labs/fitetl/internal/metrics"
	"github.com/leapstack-labs/fitetl/internal/state"
	"github.com/leapstack-labs/fitetl/internal/transform"
)

// Stage names, in execution order.
const (
	StageExtract     = "extract"
	StageClean       = "clean"
	StageStandardise = "standardise"
	StageDedup       = "dedup"
	StageEnrich      = "enrich"
	StageLoad        = "load"
)

// Stages lists every stage in execution order.
var Stages = []string{StageExtract, StageClean, StageStandardise, StageDedup, StageEnrich, StageLoad}

// Config holds engine configuration.
type Config struct {
	// Environment is the profile name recorded with each run.
	Environment string
	// InputFiles are the raw CSV files to extract.
	InputFiles []string
	// Outputs are written in order; the first failure aborts the run.
	Outputs []load.Spec
	// ManifestPath is where the run manifest is written. Empty derives it from
	// the first file output; with no file outputs no manifest is written.
	ManifestPath string
	// MetricsTextfile, when set, receives the metrics after every run.
	MetricsTextfile string

	Extract      extract.Config
	Cleaner      transform.CleanerConfig
	Standardiser transform.StandardiserConfig
	Enricher     transform.EnricherConfig
	Loader       load.Config

	// Store records run history. Optional.
	Store state.Store
	// Metrics is optional.
	Metrics *metrics.Metrics
	// Publisher defaults to events.Nop.
	Publisher events.Publisher
	// Logger is the structured logger (optional, uses discard if nil).
	Logger *slog.Logger
	// Now defaults to time.Now.
	Now func() time.Time
}

// Engine orchestrates one pipeline run at a time.
type Engine struct {
	cfg Config

	extractor    *extract.Extractor
	cleaner      *transform.Cleaner
	standardiser *transform.Standardiser
	enricher     *transform.Enricher
	loader       *load.Loader

	store     state.Store
	metrics   *metrics.Metrics
	publisher events.Publisher
	logger    *slog.Logger
	now       func() time.Time
}

// New validates cfg and builds every stage.
func New(cfg Config) (*Engine, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if cfg.Environment == "" {
		cfg.Environment = "dev"
	}
	if len(cfg.InputFiles) == 0 {
		return nil, fmt.Errorf("no input files configured")
	}
	if len(cfg.Outputs) == 0 {
		return nil, fmt.Errorf("no outputs configured")
	}
	for i, spec := range cfg.Outputs {
		if err := spec.Validate(); err != nil {
			return nil, fmt.Errorf("output %d: %w", i, err)
		}
	}

	logger.Debug("initializing engine", "environment", cfg.Environment, "inputs", len(cfg.InputFiles), "outputs", len(cfg.Outputs))

	// Every stage logs under its own name.
	stageLogger := func(name string) *slog.Logger {
		return logger.With("stage", name)
	}

	cfg.Extract.Logger = stageLogger(StageExtract)
	cfg.Cleaner.Logger = stageLogger(StageClean)
	cfg.Standardiser.Logger = stageLogger(StageStandardise)
	cfg.Enricher.Logger = stageLogger(StageEnrich)
	cfg.Loader.Logger = stageLogger(StageLoad)

	cleaner, err := transform.NewCleaner(cfg.Cleaner)
	if err != nil {
		return nil, fmt.Errorf("failed to configure cleaner: %w", err)
	}
	enricher, err := transform.NewEnricher(cfg.Enricher)
	if err != nil {
		return nil, fmt.Errorf("failed to configure enricher: %w", err)
	}

	publisher := cfg.Publisher
	if publisher == nil {
		publisher = events.Nop{}
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	if cfg.Loader.Now == nil {
		cfg.Loader.Now = now
	}

	return &Engine{
		cfg:          cfg,
		extractor:    extract.New(cfg.Extract),
		cleaner:      cleaner,
		standardiser: transform.NewStandardiser(cfg.Standardiser),
		enricher:     enricher,
		loader:       load.New(cfg.Loader),
		store:        cfg.Store,
		metrics:      cfg.Metrics,
		publisher:    publisher,
		logger:       logger,
		now:          now,
	}, nil
}

// Environment returns the profile this engine records runs under.
func (e *Engine) Environment() string {
	return e.cfg.Environment
}

// manifestPath returns where the run manifest goes, or "" for none.
func (e *Engine) manifestPath() string {
	if e.cfg.ManifestPath != "" {
		return e.cfg.ManifestPath
	}
	for _, spec := range e.cfg.Outputs {
		if spec.Format != load.FormatPostgres {
			return load.SidecarPath(spec.FilePath())
		}
	}
	return ""
}
