package commands

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/leapstack-labs/fitetl/internal/adapter"
	"github.com/leapstack-labs/fitetl/internal/cli/output"
	"github.com/leapstack-labs/fitetl/internal/load"
	"github.com/leapstack-labs/fitetl/internal/table"
)

// InspectOptions holds options for the inspect command.
type InspectOptions struct {
	Limit int
	SQL   string
}

// NewInspectCommand creates the inspect command.
func NewInspectCommand() *cobra.Command {
	opts := &InspectOptions{}
	cmd := &cobra.Command{
		Use:   "inspect [path]",
		Short: "Inspect a pipeline output",
		Long: `Show the schema, row count and first rows of a CSV or Parquet output, and
check it against the run manifest written next to it.

With --sql, run a DuckDB query instead; the file is available as the view "data".`,
		Example: `  # Inspect the first file output
  fitetl inspect

  # Inspect a Parquet file, previewing 5 rows
  fitetl inspect data/processed/fitness_processed.parquet -n 5

  # Query it
  fitetl inspect --sql "SELECT season, count(*) AS sessions FROM data GROUP BY season"`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cctx, err := NewCommandContext(cmd)
			if err != nil {
				return err
			}
			path := ""
			if len(args) == 1 {
				path = args[0]
			} else if path, err = cctx.Cfg.DashboardData(); err != nil {
				return err
			}
			if opts.SQL != "" {
				return queryOutput(cmd.Context(), cctx, path, opts.SQL)
			}
			return inspectOutput(cmd.Context(), cctx, path, opts.Limit)
		},
	}
	cmd.Flags().IntVarP(&opts.Limit, "limit", "n", 10, "Number of rows to preview")
	cmd.Flags().StringVar(&opts.SQL, "sql", "", "DuckDB query to run against the file (as view \"data\")")
	return cmd
}

// ColumnInfo describes one output column.
type ColumnInfo struct {
	Name    string `json:"name"`
	Kind    string `json:"kind"`
	Missing int    `json:"missing"`
}

// ManifestCheck is the result of comparing a file with its manifest entry.
type ManifestCheck struct {
	Path     string   `json:"path"`
	RunID    string   `json:"run_id,omitempty"`
	Verified bool     `json:"verified"`
	Problems []string `json:"problems,omitempty"`
}

// InspectReport is the JSON output of the inspect command.
type InspectReport struct {
	Path     string         `json:"path"`
	Rows     int            `json:"rows"`
	Columns  []ColumnInfo   `json:"columns"`
	Preview  [][]string     `json:"preview"`
	Manifest *ManifestCheck `json:"manifest,omitempty"`
}

func inspectOutput(ctx context.Context, cctx *CommandContext, path string, limit int) error {
	t, err := load.ReadOutput(ctx, path, cctx.Cfg.DuckDB.Adapter("duckdb"))
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", path, err)
	}

	rep := InspectReport{Path: path, Rows: t.Len(), Preview: [][]string{}}
	for _, col := range t.Columns() {
		missing := 0
		for _, v := range t.Values(col.Name) {
			if v == nil {
				missing++
			}
		}
		rep.Columns = append(rep.Columns, ColumnInfo{Name: col.Name, Kind: col.Kind.String(), Missing: missing})
	}
	for i := range min(max(limit, 0), t.Len()) {
		rep.Preview = append(rep.Preview, formatRow(t.Row(i)))
	}
	rep.Manifest = checkManifest(cctx.Cfg.ManifestPath, path, t)

	return renderInspect(cctx.Renderer, rep, t.ColumnNames())
}

func formatRow(r table.Row) []string {
	out := make([]string, len(r))
	for i, v := range r {
		out[i] = table.Format(v)
	}
	return out
}

// checkManifest finds the manifest entry for path and compares it with the
// file. It returns nil when there is no manifest.
func checkManifest(manifestPath, path string, t *table.Table) *ManifestCheck {
	if manifestPath == "" {
		manifestPath = load.SidecarPath(path)
	}
	rm, err := load.ReadSidecar(manifestPath)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	check := &ManifestCheck{Path: manifestPath}
	if err != nil {
		check.Problems = append(check.Problems, err.Error())
		return check
	}
	check.RunID = rm.RunID

	abs, _ := filepath.Abs(path)
	var entry *load.Manifest
	for i, m := range rm.Outputs {
		if ma, _ := filepath.Abs(m.Path); ma == abs {
			entry = &rm.Outputs[i]
			break
		}
	}
	if entry == nil {
		check.Problems = append(check.Problems, "file is not listed in the manifest")
		return check
	}

	sum, size, err := load.Checksum(path)
	switch {
	case err != nil:
		check.Problems = append(check.Problems, err.Error())
	default:
		if entry.SHA256 != "" && sum != entry.SHA256 {
			check.Problems = append(check.Problems, "checksum differs from manifest")
		}
		if size != entry.Bytes {
			check.Problems = append(check.Problems, fmt.Sprintf("size %d differs from manifest (%d)", size, entry.Bytes))
		}
	}
	if t.Len() != entry.Rows {
		check.Problems = append(check.Problems, fmt.Sprintf("%d rows, manifest records %d", t.Len(), entry.Rows))
	}
	check.Verified = len(check.Problems) == 0
	return check
}

func renderInspect(r *output.Renderer, rep InspectReport, header []string) error {
	if r.EffectiveMode() == output.ModeJSON {
		return r.JSON(rep)
	}

	if r.EffectiveMode() == output.ModeText {
		r.Println(r.Styles().Header1.Render(rep.Path))
	} else {
		r.Println(output.FormatHeader(1, rep.Path))
	}
	r.Println(output.FormatKeyValue("Rows", strconv.Itoa(rep.Rows)))
	r.Println(output.FormatKeyValue("Columns", strconv.Itoa(len(rep.Columns))))

	if m := rep.Manifest; m != nil {
		detail := m.Path
		status := "success"
		if !m.Verified {
			status = "failed"
			detail = fmt.Sprintf("%s: %v", m.Path, m.Problems)
		}
		r.StatusLine("manifest", status, detail)
	}

	r.Println()
	r.Println(output.FormatHeader(2, "Schema"))
	schema := make([][]string, 0, len(rep.Columns))
	for _, c := range rep.Columns {
		schema = append(schema, []string{c.Name, c.Kind, strconv.Itoa(c.Missing)})
	}
	r.Table([]string{"Column", "Kind", "Missing"}, schema)

	if len(rep.Preview) > 0 {
		r.Println()
		r.Println(output.FormatHeader(2, fmt.Sprintf("First %d rows", len(rep.Preview))))
		r.Table(header, rep.Preview)
	}
	return nil
}

// queryOutput runs sql in an in-memory DuckDB with the file mounted as "data".
func queryOutput(ctx context.Context, cctx *CommandContext, path, sql string) error {
	src, err := adapter.FileSource(path)
	if err != nil {
		return err
	}
	db := adapter.NewDuckDB(cctx.Logger)
	if err := db.Connect(ctx, cctx.Cfg.DuckDB.Adapter("duckdb")); err != nil {
		return err
	}
	defer func() { _ = db.Close() }()

	if err := db.Exec(ctx, "CREATE VIEW data AS SELECT * FROM "+src); err != nil {
		return fmt.Errorf("failed to open %s: %w", path, err)
	}
	t, err := db.QueryTable(ctx, sql)
	if err != nil {
		return fmt.Errorf("query failed: %w", err)
	}

	r := cctx.Renderer
	rows := make([][]string, 0, t.Len())
	for i := range t.Len() {
		rows = append(rows, formatRow(t.Row(i)))
	}
	if r.EffectiveMode() == output.ModeJSON {
		return r.JSON(map[string]any{"columns": t.ColumnNames(), "rows": rows})
	}
	r.Table(t.ColumnNames(), rows)
	r.Println(r.Styles().Muted.Render(fmt.Sprintf("%d rows", t.Len())))
	return nil
}
