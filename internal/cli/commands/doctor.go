package commands

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/leapstack-labs/fitetl/internal/adapter"
	"github.com/leapstack-labs/fitetl/internal/cli/config"
	"github.com/leapstack-labs/fitetl/internal/cli/output"
	"github.com/leapstack-labs/fitetl/internal/extract"
	"github.com/leapstack-labs/fitetl/internal/load"
)

// Check statuses.
const (
	CheckOK   = "ok"
	CheckWarn = "warn"
	CheckFail = "fail"
)

// Check is the result of one doctor check.
type Check struct {
	Name   string `json:"name"`
	Status string `json:"status"`
	Detail string `json:"detail"`
}

// DoctorOutput is the JSON output for the doctor command.
type DoctorOutput struct {
	Environment string  `json:"environment"`
	ProjectRoot string  `json:"project_root"`
	Checks      []Check `json:"checks"`
	Healthy     bool    `json:"healthy"`
}

// NewDoctorCommand creates the doctor command.
func NewDoctorCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check configuration, inputs and connections",
		Long: `Check that the pipeline can run with the current configuration:

  - the config file and environment profile
  - every input file is readable and has the required columns
  - every output destination is writable (or reachable, for PostgreSQL)
  - the run history database opens and is migrated
  - DuckDB is available for Parquet output
  - event publishing is configured

Exits non-zero when any check fails.`,
		Example: `  # Check the dev profile
  fitetl doctor

  # Check the test profile, as JSON
  fitetl doctor --env test -o json`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cctx, err := NewCommandContext(cmd)
			if err != nil {
				return err
			}
			return runDoctor(cmd.Context(), cctx)
		},
	}
}

func runDoctor(ctx context.Context, cctx *CommandContext) error {
	cfg := cctx.Cfg
	checks := []Check{checkConfigFile(cfg)}
	checks = append(checks, checkInputs(ctx, cfg)...)
	checks = append(checks, checkOutputs(ctx, cctx)...)
	checks = append(checks, checkState(ctx, cctx), checkDuckDB(ctx, cfg), checkEvents(cfg))

	failed := 0
	for _, c := range checks {
		if c.Status == CheckFail {
			failed++
		}
	}

	out := DoctorOutput{
		Environment: cfg.Environment,
		ProjectRoot: cfg.ProjectRoot,
		Checks:      checks,
		Healthy:     failed == 0,
	}
	if err := renderDoctor(cctx.Renderer, out); err != nil {
		return err
	}
	if failed > 0 {
		return fmt.Errorf("doctor found %d failing check(s)", failed)
	}
	return nil
}

func checkConfigFile(cfg *config.Config) Check {
	c := Check{Name: "config", Status: CheckOK}
	path := filepath.Join(cfg.ProjectRoot, config.ConfigFileName)
	if _, err := os.Stat(path); err != nil {
		c.Status = CheckWarn
		c.Detail = "no " + config.ConfigFileName + " found; using defaults (run 'fitetl init')"
		return c
	}
	c.Detail = path
	if _, ok := cfg.Environments[cfg.Environment]; !ok && len(cfg.Environments) > 0 {
		c.Status = CheckWarn
		c.Detail = fmt.Sprintf("%s: environment %q has no profile", path, cfg.Environment)
	}
	return c
}

func checkInputs(ctx context.Context, cfg *config.Config) []Check {
	inputs, err := cfg.ResolveInputs()
	if err != nil {
		return []Check{{Name: "inputs", Status: CheckFail, Detail: err.Error()}}
	}
	ex := extract.New(extract.Config{NullTokens: cfg.Extract.NullTokens})
	checks := make([]Check, 0, len(inputs))
	for _, path := range inputs {
		c := Check{Name: "input " + filepath.Base(path), Status: CheckOK}
		_, rep, err := ex.Extract(ctx, path)
		var xerr *extract.ExtractionError
		switch {
		case errors.As(err, &xerr) && len(xerr.Missing) > 0:
			c.Status = CheckFail
			c.Detail = "missing required columns: " + strings.Join(xerr.Missing, ", ")
		case err != nil:
			c.Status = CheckFail
			c.Detail = err.Error()
		default:
			c.Detail = fmt.Sprintf("%d rows, %d columns", rep.RowsRead, len(rep.ColumnsFound))
			if len(rep.UnknownColumns) > 0 {
				c.Status = CheckWarn
				c.Detail += "; unknown columns passed through: " + strings.Join(rep.UnknownColumns, ", ")
			}
		}
		checks = append(checks, c)
	}
	return checks
}

func checkOutputs(ctx context.Context, cctx *CommandContext) []Check {
	checks := make([]Check, 0, len(cctx.Cfg.Outputs))
	for _, spec := range cctx.Cfg.Outputs {
		c := Check{Name: "output " + string(spec.Format), Status: CheckOK}
		if spec.Format == load.FormatPostgres {
			c.Detail = "table " + spec.Path
			if err := pingPostgres(ctx, cctx); err != nil {
				c.Status = CheckFail
				c.Detail = err.Error()
			}
		} else {
			c.Detail = spec.FilePath()
			if err := checkWritable(filepath.Dir(spec.FilePath())); err != nil {
				c.Status = CheckFail
				c.Detail = err.Error()
			}
		}
		checks = append(checks, c)
	}
	return checks
}

// checkWritable creates dir if needed and writes a probe file into it.
func checkWritable(dir string) error {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("cannot create %s: %w", dir, err)
	}
	f, err := os.CreateTemp(dir, ".fitetl-doctor-*")
	if err != nil {
		return fmt.Errorf("%s is not writable: %w", dir, err)
	}
	_ = f.Close()
	return os.Remove(f.Name())
}

func pingPostgres(ctx context.Context, cctx *CommandContext) error {
	pg, err := adapter.New("postgres", cctx.Logger)
	if err != nil {
		return err
	}
	if err := pg.Connect(ctx, cctx.Cfg.Postgres.Adapter("postgres")); err != nil {
		return err
	}
	return pg.Close()
}

func checkState(ctx context.Context, cctx *CommandContext) Check {
	c := Check{Name: "state", Status: CheckOK}
	store, err := cctx.OpenStore(ctx)
	if err != nil {
		c.Status = CheckFail
		c.Detail = err.Error()
		return c
	}
	defer func() { _ = store.Close() }()

	version, err := store.MigrationVersion()
	if err != nil {
		c.Status = CheckFail
		c.Detail = err.Error()
		return c
	}
	c.Detail = fmt.Sprintf("%s (schema version %d)", cctx.Cfg.StatePath, version)
	if latest, err := store.GetLatestRun(ctx, cctx.Cfg.Environment); err == nil && latest != nil {
		c.Detail += fmt.Sprintf("; last run %s %s", latest.ID, latest.Status)
	}
	return c
}

func checkDuckDB(ctx context.Context, cfg *config.Config) Check {
	c := Check{Name: "duckdb", Status: CheckOK}
	db := adapter.NewDuckDB(nil)
	if err := db.Connect(ctx, cfg.DuckDB.Adapter("duckdb")); err != nil {
		c.Status = CheckFail
		c.Detail = err.Error()
		return c
	}
	defer func() { _ = db.Close() }()

	t, err := db.QueryTable(ctx, "SELECT version() AS version")
	if err != nil || t.Len() == 0 {
		c.Status = CheckFail
		c.Detail = fmt.Sprintf("version query failed: %v", err)
		return c
	}
	c.Detail = "duckdb " + fmt.Sprint(t.Value(0, "version"))
	return c
}

func checkEvents(cfg *config.Config) Check {
	if len(cfg.Kafka.Brokers) == 0 {
		return Check{Name: "events", Status: CheckOK, Detail: "disabled (no kafka brokers configured)"}
	}
	return Check{
		Name:   "events",
		Status: CheckOK,
		Detail: fmt.Sprintf("topic %s on %s", cfg.Kafka.Topic, strings.Join(cfg.Kafka.Brokers, ", ")),
	}
}

func renderDoctor(r *output.Renderer, out DoctorOutput) error {
	if r.EffectiveMode() == output.ModeJSON {
		return r.JSON(out)
	}

	title := "fitetl doctor: " + out.Environment
	if r.EffectiveMode() == output.ModeText {
		r.Println(r.Styles().Header1.Render(title))
	} else {
		r.Println(output.FormatHeader(1, title))
	}
	r.Println(output.FormatKeyValue("Project", out.ProjectRoot))
	r.Println()

	for _, c := range out.Checks {
		status := "success"
		switch c.Status {
		case CheckFail:
			status = "failed"
		case CheckWarn:
			status = "warning"
		}
		r.StatusLine(c.Name, status, c.Detail)
	}

	r.Println()
	if out.Healthy {
		r.Success("All checks passed.")
	} else {
		r.Println(r.Styles().Error.Render("Some checks failed."))
	}
	return nil
}
