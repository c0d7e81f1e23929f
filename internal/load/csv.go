package load

import (
	"compress/gzip"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/golang/snappy"

	"github.com/leapstack-labs/fitetl/internal/fitness"
	"github.com/leapstack-labs/fitetl/internal/table"
)

// WriteCSV writes a header row and one record per row. Dates are ISO
// formatted and missing cells are empty.
func WriteCSV(w io.Writer, t *table.Table) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(t.ColumnNames()); err != nil {
		return err
	}
	record := make([]string, t.Width())
	for _, r := range t.Rows() {
		for i, v := range r {
			record[i] = table.Format(v)
		}
		if err := cw.Write(record); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// compressWriter wraps w in the codec's writer.
func compressWriter(w io.Writer, c Compression) (io.WriteCloser, error) {
	switch c {
	case CompressionNone, "":
		return nopCloser{w}, nil
	case CompressionGzip:
		return gzip.NewWriter(w), nil
	case CompressionSnappy:
		return snappy.NewBufferedWriter(w), nil
	default:
		return nil, fmt.Errorf("csv does not support %s compression", c)
	}
}

type nopCloser struct{ io.Writer }

func (nopCloser) Close() error { return nil }

// CompressionFromPath infers the CSV codec from a file extension.
func CompressionFromPath(path string) Compression {
	switch {
	case strings.HasSuffix(path, ".gz"):
		return CompressionGzip
	case strings.HasSuffix(path, ".sz"), strings.HasSuffix(path, ".snappy"):
		return CompressionSnappy
	default:
		return CompressionNone
	}
}

// ReadCSV reads a CSV output back into a table. The codec is taken from the
// file extension. Column kinds are inferred from the values.
func ReadCSV(path string) (*table.Table, error) {
	return readCSVAs(path, CompressionFromPath(path))
}

func readCSVAs(path string, c Compression) (*table.Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()

	var r io.Reader = f
	switch c {
	case CompressionGzip:
		gz, err := gzip.NewReader(f)
		if err != nil {
			return nil, fmt.Errorf("open gzip stream: %w", err)
		}
		defer func() { _ = gz.Close() }()
		r = gz
	case CompressionSnappy:
		r = snappy.NewReader(f)
	}

	cr := csv.NewReader(r)
	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%s has no header", path)
	}
	if err != nil {
		return nil, err
	}
	records, err := cr.ReadAll()
	if err != nil {
		return nil, err
	}

	cols := make([]table.Column, len(header))
	for j, name := range header {
		cols[j] = table.Column{Name: name, Kind: columnKind(name, records, j)}
	}
	rows := make([]table.Row, len(records))
	for i, rec := range records {
		row := make(table.Row, len(header))
		for j, raw := range rec {
			row[j] = parseCell(raw, cols[j].Kind)
		}
		rows[i] = row
	}
	return table.FromRows(cols, rows)
}

// columnKind keeps the schema kind of a known column when its values allow
// it, so identifiers such as participant_id stay strings. The raw date column
// is stored as a string upstream but written in ISO form, so it is inferred.
func columnKind(name string, records [][]string, j int) table.Kind {
	if !fitness.IsKnown(name) || name == fitness.Date {
		return inferKind(records, j)
	}
	k := fitness.KindOf(name)
	for _, rec := range records {
		if rec[j] != "" && parseCell(rec[j], k) == nil {
			return inferKind(records, j)
		}
	}
	return k
}

// inferKind picks the narrowest kind every non-empty value of column j parses as.
func inferKind(records [][]string, j int) table.Kind {
	candidates := []table.Kind{table.KindInt, table.KindFloat, table.KindDate, table.KindBool}
	seen := false
	for _, rec := range records {
		v := rec[j]
		if v == "" {
			continue
		}
		seen = true
		kept := candidates[:0]
		for _, k := range candidates {
			if parseCell(v, k) != nil {
				kept = append(kept, k)
			}
		}
		candidates = kept
		if len(candidates) == 0 {
			return table.KindString
		}
	}
	if !seen {
		return table.KindString
	}
	return candidates[0]
}

func parseCell(raw string, kind table.Kind) any {
	if raw == "" {
		return nil
	}
	switch kind {
	case table.KindInt:
		if n, err := strconv.ParseInt(raw, 10, 64); err == nil {
			return n
		}
	case table.KindFloat:
		if f, ok := table.AsFloat(raw); ok {
			return f
		}
	case table.KindDate:
		if d, err := time.Parse(table.DateLayout, raw); err == nil {
			return d
		}
	case table.KindBool:
		if raw == "true" {
			return true
		}
		if raw == "false" {
			return false
		}
	default:
		return raw
	}
	return nil
}
