// Package extract reads raw fitness CSV files into a table and reports on
// their structural integrity.
package extract

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/leapstack-labs/fitetl/internal/fitness"
	"github.com/leapstack-labs/fitetl/internal/table"
)

// DefaultNullTokens are the string values read as missing.
var DefaultNullTokens = []string{"", "N/A", "NA", "n/a", "null", "NULL", "None", "none", "-", "nan", "NaN"}

// DefaultExpectedPerRow is the per-row extraction time above which a warning is logged.
const DefaultExpectedPerRow = 600 * time.Microsecond

// Config holds extractor settings.
type Config struct {
	// NullTokens replaces DefaultNullTokens when non-empty.
	NullTokens []string
	// ExpectedPerRow is the per-row time budget used for the performance warning.
	ExpectedPerRow time.Duration
	// Logger is optional; a discard logger is used when nil.
	Logger *slog.Logger
}

// Extractor reads CSV input files.
type Extractor struct {
	nulls          map[string]bool
	expectedPerRow time.Duration
	logger         *slog.Logger
}

// Report describes one extraction.
type Report struct {
	Files           []string      `json:"files"`
	RowsRead        int           `json:"rows_read"`
	RowsRejected    int           `json:"rows_rejected"`
	ColumnsFound    []string      `json:"columns_found"`
	ColumnsExpected []string      `json:"columns_expected"`
	UnknownColumns  []string      `json:"unknown_columns,omitempty"`
	NullCells       int           `json:"null_cells"`
	DuplicateRows   int           `json:"duplicate_rows"`
	Duration        time.Duration `json:"duration"`
}

// New creates an extractor.
func New(cfg Config) *Extractor {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	tokens := cfg.NullTokens
	if len(tokens) == 0 {
		tokens = DefaultNullTokens
	}
	nulls := make(map[string]bool, len(tokens))
	for _, t := range tokens {
		nulls[t] = true
	}
	expected := cfg.ExpectedPerRow
	if expected <= 0 {
		expected = DefaultExpectedPerRow
	}
	return &Extractor{nulls: nulls, expectedPerRow: expected, logger: logger}
}

// Extract reads every path into one table. Columns are the union of the
// file headers in first-seen order; all cells are strings or missing.
func (e *Extractor) Extract(ctx context.Context, paths ...string) (*table.Table, *Report, error) {
	if len(paths) == 0 {
		return nil, nil, &ExtractionError{Err: ErrNoInput}
	}

	start := time.Now()
	e.logger.Info("starting extraction", "files", len(paths))

	report := &Report{ColumnsExpected: append([]string(nil), fitness.Required...)}
	var columns []string
	colIndex := map[string]int{}
	var rows []table.Row

	for _, path := range paths {
		if err := ctx.Err(); err != nil {
			return nil, nil, err
		}

		header, records, rejected, err := e.readFile(path)
		if err != nil {
			e.logger.Error("extraction failed", "path", path, "error", err)
			return nil, nil, err
		}
		report.Files = append(report.Files, path)
		report.RowsRejected += rejected

		for _, h := range header {
			if _, ok := colIndex[h]; !ok {
				colIndex[h] = len(columns)
				columns = append(columns, h)
			}
		}
		for _, rec := range records {
			row := make(table.Row, len(columns))
			for i, h := range header {
				row[colIndex[h]] = e.cell(rec[i])
			}
			rows = append(rows, row)
		}
		report.RowsRead += len(records) + rejected
	}

	// Rows from earlier files are shorter when later files add columns.
	for i, r := range rows {
		if len(r) < len(columns) {
			rows[i] = append(r, make(table.Row, len(columns)-len(r))...)
		}
	}

	schema := make([]table.Column, len(columns))
	for i, c := range columns {
		schema[i] = table.Column{Name: c, Kind: table.KindString}
		if !fitness.IsKnown(c) {
			report.UnknownColumns = append(report.UnknownColumns, c)
		}
	}
	t, err := table.FromRows(schema, rows)
	if err != nil {
		return nil, nil, &ExtractionError{Err: err}
	}

	report.ColumnsFound = columns
	report.NullCells = t.MissingCount()
	report.DuplicateRows = countDuplicates(t)
	report.Duration = time.Since(start)
	e.logSuccess(report, t.Len())

	return t, report, nil
}

// readFile returns the normalised header, the well-formed records and the
// number of rejected records of one CSV file.
func (e *Extractor) readFile(path string) ([]string, [][]string, int, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, 0, &ExtractionError{Path: path, Err: err}
	}
	defer func() { _ = f.Close() }()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	r.TrimLeadingSpace = true

	header, err := r.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			err = fmt.Errorf("file is empty")
		}
		return nil, nil, 0, &ExtractionError{Path: path, Line: 1, Err: err}
	}
	for i, h := range header {
		h = strings.TrimPrefix(h, "\ufeff")
		header[i] = strings.ToLower(strings.TrimSpace(h))
	}
	if missing := fitness.MissingColumns(header); len(missing) > 0 {
		return nil, nil, 0, &ExtractionError{Path: path, Missing: missing, Err: ErrMissingColumns}
	}

	var records [][]string
	rejected := 0
	for {
		rec, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			var perr *csv.ParseError
			if errors.As(err, &perr) {
				e.logger.Warn("rejected malformed row", "path", path, "line", perr.Line, "error", perr.Err)
				rejected++
				continue
			}
			return nil, nil, 0, &ExtractionError{Path: path, Err: err}
		}
		if len(rec) != len(header) {
			line, _ := r.FieldPos(0)
			e.logger.Debug("rejected row with wrong field count", "path", path, "line", line, "fields", len(rec), "want", len(header))
			rejected++
			continue
		}
		records = append(records, rec)
	}

	return header, records, rejected, nil
}

func (e *Extractor) cell(raw string) any {
	v := strings.TrimSpace(raw)
	if e.nulls[v] {
		return nil
	}
	// Whitespace is preserved; the standardiser decides what is canonical.
	return raw
}

func (e *Extractor) logSuccess(r *Report, rows int) {
	e.logger.Info("extraction complete",
		"rows", rows,
		"columns", len(r.ColumnsFound),
		"rejected", r.RowsRejected,
		"null_cells", r.NullCells,
		"duplicate_rows", r.DuplicateRows,
		"duration", r.Duration,
	)
	if rows == 0 {
		return
	}
	perRow := r.Duration / time.Duration(rows)
	if perRow > e.expectedPerRow {
		e.logger.Warn("extraction slower than expected", "per_row", perRow, "expected_per_row", e.expectedPerRow)
		return
	}
	e.logger.Debug("extraction time per row", "per_row", perRow)
}

func countDuplicates(t *table.Table) int {
	seen := make(map[string]bool, t.Len())
	dups := 0
	for _, r := range t.Rows() {
		k := table.RowKey(r)
		if seen[k] {
			dups++
			continue
		}
		seen[k] = true
	}
	return dups
}
