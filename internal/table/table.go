// Package table provides the immutable in-memory table that flows through the
// pipeline stages. Every operation returns a new table; the receiver is never
// mutated.
package table

import (
	"fmt"
	"strings"
	"time"
)

// Kind is the logical type of a column.
type Kind int

// Column kinds.
const (
	KindString Kind = iota
	KindInt
	KindFloat
	KindDate
	KindBool
)

// String returns the lower-case name of the kind.
func (k Kind) String() string {
	switch k {
	case KindString:
		return "string"
	case KindInt:
		return "int"
	case KindFloat:
		return "float"
	case KindDate:
		return "date"
	case KindBool:
		return "bool"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Column describes one column of a table.
type Column struct {
	Name string
	Kind Kind
}

// Row is a slice of cells aligned with the table columns.
// A nil cell is a missing value. Non-nil cells hold string, int64, float64,
// time.Time or bool depending on the column kind.
type Row []any

// Table is an ordered collection of rows sharing a fixed column schema.
type Table struct {
	columns []Column
	index   map[string]int
	rows    []Row
}

// New creates an empty table with the given columns.
func New(columns ...Column) *Table {
	t := &Table{
		columns: append([]Column(nil), columns...),
		index:   make(map[string]int, len(columns)),
	}
	for i, c := range t.columns {
		t.index[c.Name] = i
	}
	return t
}

// FromRows creates a table from columns and rows. Rows are copied.
func FromRows(columns []Column, rows []Row) (*Table, error) {
	t := New(columns...)
	if len(t.index) != len(columns) {
		return nil, fmt.Errorf("duplicate column names in schema")
	}
	t.rows = make([]Row, 0, len(rows))
	for i, r := range rows {
		if len(r) != len(columns) {
			return nil, fmt.Errorf("row %d has %d cells, want %d", i, len(r), len(columns))
		}
		t.rows = append(t.rows, append(Row(nil), r...))
	}
	return t, nil
}

// Columns returns a copy of the schema.
func (t *Table) Columns() []Column {
	return append([]Column(nil), t.columns...)
}

// ColumnNames returns the column names in order.
func (t *Table) ColumnNames() []string {
	names := make([]string, len(t.columns))
	for i, c := range t.columns {
		names[i] = c.Name
	}
	return names
}

// Len returns the number of rows.
func (t *Table) Len() int {
	return len(t.rows)
}

// Width returns the number of columns.
func (t *Table) Width() int {
	return len(t.columns)
}

// Has reports whether the table has a column with the given name.
func (t *Table) Has(name string) bool {
	_, ok := t.index[name]
	return ok
}

// Index returns the position of the named column, or -1.
func (t *Table) Index(name string) int {
	if i, ok := t.index[name]; ok {
		return i
	}
	return -1
}

// Column returns the named column description.
func (t *Table) Column(name string) (Column, bool) {
	i, ok := t.index[name]
	if !ok {
		return Column{}, false
	}
	return t.columns[i], true
}

// Row returns a copy of row i.
func (t *Table) Row(i int) Row {
	return append(Row(nil), t.rows[i]...)
}

// Rows returns copies of all rows.
func (t *Table) Rows() []Row {
	out := make([]Row, len(t.rows))
	for i, r := range t.rows {
		out[i] = append(Row(nil), r...)
	}
	return out
}

// Value returns the cell at row i in the named column.
// Unknown columns read as missing.
func (t *Table) Value(i int, name string) any {
	j, ok := t.index[name]
	if !ok {
		return nil
	}
	return t.rows[i][j]
}

// Values returns a copy of the named column's cells.
func (t *Table) Values(name string) []any {
	j, ok := t.index[name]
	if !ok {
		return nil
	}
	out := make([]any, len(t.rows))
	for i, r := range t.rows {
		out[i] = r[j]
	}
	return out
}

// WithColumn returns a table with the named column set to values.
// An existing column is replaced in place; a new one is appended.
func (t *Table) WithColumn(col Column, values []any) (*Table, error) {
	if len(values) != len(t.rows) {
		return nil, fmt.Errorf("column %s has %d values, table has %d rows", col.Name, len(values), len(t.rows))
	}

	columns := t.Columns()
	j, exists := t.index[col.Name]
	if exists {
		columns[j] = col
	} else {
		j = len(columns)
		columns = append(columns, col)
	}

	out := New(columns...)
	out.rows = make([]Row, len(t.rows))
	for i, r := range t.rows {
		row := make(Row, len(columns))
		copy(row, r)
		row[j] = values[i]
		out.rows[i] = row
	}
	return out, nil
}

// Without returns a table without the named columns.
func (t *Table) Without(names ...string) *Table {
	drop := make(map[string]bool, len(names))
	for _, n := range names {
		drop[n] = true
	}

	var keep []int
	var columns []Column
	for i, c := range t.columns {
		if !drop[c.Name] {
			keep = append(keep, i)
			columns = append(columns, c)
		}
	}

	out := New(columns...)
	out.rows = make([]Row, len(t.rows))
	for i, r := range t.rows {
		row := make(Row, len(keep))
		for k, j := range keep {
			row[k] = r[j]
		}
		out.rows[i] = row
	}
	return out
}

// Filter returns a table with the rows for which keep returns true.
func (t *Table) Filter(keep func(i int, r Row) bool) *Table {
	out := New(t.columns...)
	for i, r := range t.rows {
		if keep(i, r) {
			out.rows = append(out.rows, append(Row(nil), r...))
		}
	}
	return out
}

// Map returns a table with the same schema and each row replaced by fn's result.
// fn receives a copy it may modify.
func (t *Table) Map(fn func(i int, r Row) Row) *Table {
	out := New(t.columns...)
	out.rows = make([]Row, len(t.rows))
	for i, r := range t.rows {
		out.rows[i] = fn(i, append(Row(nil), r...))
	}
	return out
}

// Append returns a table with extra rows added. Rows must match the schema width.
func (t *Table) Append(rows ...Row) (*Table, error) {
	out := New(t.columns...)
	out.rows = make([]Row, 0, len(t.rows)+len(rows))
	for _, r := range t.rows {
		out.rows = append(out.rows, append(Row(nil), r...))
	}
	for i, r := range rows {
		if len(r) != len(t.columns) {
			return nil, fmt.Errorf("appended row %d has %d cells, want %d", i, len(r), len(t.columns))
		}
		out.rows = append(out.rows, append(Row(nil), r...))
	}
	return out, nil
}

// RowKey returns a string that is equal for rows with identical cell values.
func RowKey(r Row) string {
	var b strings.Builder
	for i, v := range r {
		if i > 0 {
			b.WriteByte(0x1f)
		}
		if v == nil {
			b.WriteString("\x00")
			continue
		}
		b.WriteString(Format(v))
	}
	return b.String()
}

// MissingCount returns the number of nil cells.
func (t *Table) MissingCount() int {
	n := 0
	for _, r := range t.rows {
		for _, v := range r {
			if v == nil {
				n++
			}
		}
	}
	return n
}

// DateLayout is the canonical date format used for text output.
const DateLayout = "2006-01-02"

// Format renders a cell as text. Missing cells render as the empty string.
func Format(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case int64:
		return fmt.Sprintf("%d", x)
	case float64:
		return formatFloat(x)
	case time.Time:
		return x.Format(DateLayout)
	case bool:
		if x {
			return "true"
		}
		return "false"
	default:
		return fmt.Sprint(x)
	}
}
