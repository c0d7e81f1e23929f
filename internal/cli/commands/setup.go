package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/leapstack-labs/fitetl/internal/cli/config"
	"github.com/leapstack-labs/fitetl/internal/cli/output"
	"github.com/leapstack-labs/fitetl/internal/engine"
	"github.com/leapstack-labs/fitetl/internal/events"
	"github.com/leapstack-labs/fitetl/internal/extract"
	"github.com/leapstack-labs/fitetl/internal/load"
	"github.com/leapstack-labs/fitetl/internal/metrics"
	"github.com/leapstack-labs/fitetl/internal/state"
	"github.com/leapstack-labs/fitetl/internal/transform"
)

// errNoConfig is returned when a command runs without the root command
// having loaded configuration.
var errNoConfig = errors.New("configuration not loaded")

// CommandContext holds common dependencies for CLI commands.
type CommandContext struct {
	Cfg      *config.Config
	Logger   *slog.Logger
	Renderer *output.Renderer
}

// NewCommandContext collects the configuration and logger loaded by the root
// command and creates a renderer on the command's output streams.
func NewCommandContext(cmd *cobra.Command) (*CommandContext, error) {
	cfg := config.FromContext(cmd.Context())
	if cfg == nil {
		return nil, errNoConfig
	}
	return &CommandContext{
		Cfg:      cfg,
		Logger:   config.GetLogger(cmd.Context()),
		Renderer: output.NewRenderer(cmd.OutOrStdout(), cmd.ErrOrStderr(), output.Mode(cfg.OutputFormat)),
	}, nil
}

// OpenStore opens the run history database, applying migrations.
func (c *CommandContext) OpenStore(ctx context.Context) (*state.SQLiteStore, error) {
	store, err := state.OpenSQLite(ctx, c.Cfg.StatePath, c.Logger.With("component", "state"))
	if err != nil {
		return nil, fmt.Errorf("failed to open run history %s: %w", c.Cfg.StatePath, err)
	}
	return store, nil
}

// Pipeline is an engine with the resources it owns.
type Pipeline struct {
	Engine  *engine.Engine
	Store   *state.SQLiteStore
	Metrics *metrics.Metrics
	closers []func() error
}

// Close releases the store and the event publisher.
func (p *Pipeline) Close() error {
	var errs []error
	for i := len(p.closers) - 1; i >= 0; i-- {
		errs = append(errs, p.closers[i]())
	}
	return errors.Join(errs...)
}

// NewPipeline builds the engine from configuration. The caller must Close it.
func (c *CommandContext) NewPipeline(ctx context.Context) (*Pipeline, error) {
	inputs, err := c.Cfg.ResolveInputs()
	if err != nil {
		return nil, err
	}

	store, err := c.OpenStore(ctx)
	if err != nil {
		return nil, err
	}
	p := &Pipeline{Store: store, Metrics: metrics.New(c.Cfg.Metrics.Runtime)}
	p.closers = append(p.closers, store.Close)

	publisher := events.New(c.Cfg.Kafka, c.Logger.With("component", "events"))
	p.closers = append(p.closers, publisher.Close)

	eng, err := engine.New(EngineConfig(c.Cfg, inputs, store, p.Metrics, publisher, c.Logger))
	if err != nil {
		_ = p.Close()
		return nil, err
	}
	p.Engine = eng
	return p, nil
}

// EngineConfig maps CLI configuration onto the engine.
func EngineConfig(cfg *config.Config, inputs []string, store state.Store, m *metrics.Metrics, pub events.Publisher, logger *slog.Logger) engine.Config {
	return engine.Config{
		Environment:     cfg.Environment,
		InputFiles:      inputs,
		Outputs:         cfg.Outputs,
		ManifestPath:    cfg.ManifestPath,
		MetricsTextfile: cfg.MetricsTextfile,
		Extract: extract.Config{
			NullTokens:     cfg.Extract.NullTokens,
			ExpectedPerRow: cfg.Extract.ExpectedPerRow,
		},
		Cleaner: transform.CleanerConfig{
			Policies: cfg.Cleaning.Policies,
			AgeBands: cfg.Cleaning.AgeBands,
		},
		Standardiser: transform.StandardiserConfig{
			DateFallback: cfg.Standardise.DateFallback,
			DateLayouts:  cfg.Standardise.DateLayouts,
		},
		Enricher: transform.EnricherConfig{
			Hemisphere:         cfg.Enrich.Hemisphere,
			HeightUnit:         cfg.Enrich.HeightUnit,
			WeeklyMetrics:      cfg.Enrich.WeeklyMetrics,
			RollingWindow:      cfg.Enrich.RollingWindow,
			RollingMinSessions: cfg.Enrich.RollingMinSessions,
		},
		Loader: load.Config{
			DuckDB:   cfg.DuckDB.Adapter("duckdb"),
			Postgres: cfg.Postgres.Adapter("postgres"),
		},
		Store:     store,
		Metrics:   m,
		Publisher: pub,
		Logger:    logger,
	}
}
