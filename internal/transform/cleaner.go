// Package transform holds the pure table transformations of the pipeline:
// cleaning, standardisation and enrichment.
package transform

import (
	"fmt"
	"log/slog"
	"maps"
	"time"

	"github.com/leapstack-labs/fitetl/internal/fitness"
	"github.com/leapstack-labs/fitetl/internal/table"
)

// CleanerConfig configures a Cleaner.
type CleanerConfig struct {
	// Policies override DefaultPolicies per column.
	Policies map[string]Policy
	// AgeBands are the bin edges for StrategyGroupMedian. Defaults to DefaultAgeBands.
	AgeBands []float64
	Logger   *slog.Logger
}

// Cleaner removes duplicates, coerces types and resolves missing values.
type Cleaner struct {
	policies map[string]Policy
	bands    []float64
	logger   *slog.Logger
}

// CleanReport counts what a Clean call changed.
type CleanReport struct {
	RowsIn            int            `json:"rows_in"`
	RowsOut           int            `json:"rows_out"`
	DuplicatesRemoved int            `json:"duplicates_removed"`
	ValuesImputed     int            `json:"values_imputed"`
	ImputedByColumn   map[string]int `json:"imputed_by_column,omitempty"`
	RowsDropped       int            `json:"rows_dropped"`
	DroppedByColumn   map[string]int `json:"dropped_by_column,omitempty"`
	CoercedToMissing  map[string]int `json:"coerced_to_missing,omitempty"`
	Duration          time.Duration  `json:"duration"`
}

// NewCleaner creates a cleaner. Constant fill values for numeric columns must parse.
func NewCleaner(cfg CleanerConfig) (*Cleaner, error) {
	policies := DefaultPolicies()
	maps.Copy(policies, cfg.Policies)

	for col, p := range policies {
		if p.Strategy != StrategyConstant || !fitness.IsNumeric(col) {
			continue
		}
		if _, ok := table.Coerce(p.Value, fitness.KindOf(col)); !ok {
			return nil, fmt.Errorf("constant %q is not a valid value for numeric column %s", p.Value, col)
		}
	}

	bands := cfg.AgeBands
	if len(bands) == 0 {
		bands = DefaultAgeBands
	}
	for i := 1; i < len(bands); i++ {
		if bands[i] <= bands[i-1] {
			return nil, fmt.Errorf("age bands must be strictly increasing")
		}
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Cleaner{policies: policies, bands: bands, logger: logger}, nil
}

// Deduplicate removes exact-duplicate rows, keeping the first occurrence.
func Deduplicate(t *table.Table) (*table.Table, int) {
	seen := make(map[string]bool, t.Len())
	out := t.Filter(func(_ int, r table.Row) bool {
		k := table.RowKey(r)
		if seen[k] {
			return false
		}
		seen[k] = true
		return true
	})
	return out, t.Len() - out.Len()
}

// Clean runs dedup, type coercion and missing-value resolution in that order,
// then dedups again. A second call on its output changes nothing.
func (c *Cleaner) Clean(t *table.Table) (*table.Table, CleanReport) {
	start := time.Now()
	report := CleanReport{
		RowsIn:           t.Len(),
		ImputedByColumn:  map[string]int{},
		DroppedByColumn:  map[string]int{},
		CoercedToMissing: map[string]int{},
	}

	out, dups := Deduplicate(t)
	report.DuplicatesRemoved = dups

	out = c.coerce(out, &report)
	out = c.dropMissing(out, c.dropColumns(out), &report)
	out = c.impute(out, &report)
	// Required columns that could not be imputed.
	out = c.dropMissing(out, c.requiredColumns(out), &report)
	// Rows that only differed in number formatting or missing cells are now identical.
	out, dups = Deduplicate(out)
	report.DuplicatesRemoved += dups

	report.RowsOut = out.Len()
	report.Duration = time.Since(start)

	c.logger.Info("cleaning complete",
		"rows_in", report.RowsIn,
		"rows_out", report.RowsOut,
		"duplicates_removed", report.DuplicatesRemoved,
		"values_imputed", report.ValuesImputed,
		"rows_dropped", report.RowsDropped,
		"duration", report.Duration,
	)
	return out, report
}

func (c *Cleaner) policyFor(col string) Policy {
	p, ok := c.policies[col]
	if fitness.IsRequired(col) && (!ok || p.Strategy == StrategyNone) {
		return Policy{Strategy: StrategyDrop}
	}
	if !ok {
		if fitness.IsKnown(col) && fitness.IsNumeric(col) {
			return Policy{Strategy: StrategyDrop}
		}
		return Policy{Strategy: StrategyNone}
	}
	return p
}

// coerce converts known numeric columns to their kind. The date column stays
// text until standardisation.
func (c *Cleaner) coerce(t *table.Table, report *CleanReport) *table.Table {
	for _, col := range t.Columns() {
		if !fitness.IsKnown(col.Name) || !fitness.IsNumeric(col.Name) {
			continue
		}
		kind := fitness.KindOf(col.Name)
		values := t.Values(col.Name)
		for i, v := range values {
			cv, ok := table.Coerce(v, kind)
			if !ok && v != nil {
				report.CoercedToMissing[col.Name]++
				c.logger.Debug("value coerced to missing", "column", col.Name, "row", i, "value", v)
			}
			values[i] = cv
		}
		t = mustWithColumn(t, table.Column{Name: col.Name, Kind: kind}, values)
	}
	return t
}

func (c *Cleaner) dropColumns(t *table.Table) []string {
	var cols []string
	for _, name := range t.ColumnNames() {
		if c.policyFor(name).Strategy == StrategyDrop {
			cols = append(cols, name)
		}
	}
	return cols
}

func (c *Cleaner) requiredColumns(t *table.Table) []string {
	var cols []string
	for _, name := range fitness.Required {
		if t.Has(name) {
			cols = append(cols, name)
		}
	}
	return cols
}

func (c *Cleaner) dropMissing(t *table.Table, cols []string, report *CleanReport) *table.Table {
	if len(cols) == 0 {
		return t
	}
	idx := make([]int, len(cols))
	for i, name := range cols {
		idx[i] = t.Index(name)
	}
	out := t.Filter(func(_ int, r table.Row) bool {
		for k, j := range idx {
			if r[j] == nil {
				report.DroppedByColumn[cols[k]]++
				return false
			}
		}
		return true
	})
	report.RowsDropped += t.Len() - out.Len()
	return out
}

// impute fills missing cells column by column. Group medians run last so the
// grouping column is already resolved.
func (c *Cleaner) impute(t *table.Table, report *CleanReport) *table.Table {
	var grouped []string
	for _, name := range t.ColumnNames() {
		p := c.policyFor(name)
		switch p.Strategy {
		case StrategyNone, StrategyDrop:
			continue
		case StrategyGroupMedian:
			grouped = append(grouped, name)
			continue
		}
		fill, ok := c.fillValue(t, name, p)
		if !ok {
			c.logger.Warn("cannot impute column", "column", name, "strategy", p.Strategy)
			continue
		}
		t = fillMissing(t, name, func(int) (any, bool) { return fill, true }, report)
	}

	for _, name := range grouped {
		t = c.imputeGroupMedian(t, name, report)
	}
	return t
}

func (c *Cleaner) fillValue(t *table.Table, name string, p Policy) (any, bool) {
	col, _ := t.Column(name)
	strategy := p.Strategy
	if strategy.numeric() && col.Kind != table.KindInt && col.Kind != table.KindFloat {
		c.logger.Warn("numeric strategy on non-numeric column, using mode", "column", name, "strategy", strategy)
		strategy = StrategyMode
	}

	switch strategy {
	case StrategyConstant:
		return table.Coerce(p.Value, col.Kind)
	case StrategyMode:
		return mode(t.Values(name))
	case StrategyMean:
		m, ok := mean(floats(t.Values(name)))
		return numericFill(m, col.Kind), ok
	case StrategyMedian:
		m, ok := median(floats(t.Values(name)))
		return numericFill(m, col.Kind), ok
	}
	return nil, false
}

func (c *Cleaner) imputeGroupMedian(t *table.Table, name string, report *CleanReport) *table.Table {
	col, _ := t.Column(name)
	overall, hasOverall := median(floats(t.Values(name)))

	byBand := map[int][]float64{}
	if t.Has(fitness.Age) {
		for i := 0; i < t.Len(); i++ {
			f, ok := table.AsFloat(t.Value(i, name))
			if !ok {
				continue
			}
			if b := c.band(t.Value(i, fitness.Age)); b >= 0 {
				byBand[b] = append(byBand[b], f)
			}
		}
	}

	return fillMissing(t, name, func(i int) (any, bool) {
		if b := c.band(t.Value(i, fitness.Age)); b >= 0 {
			if m, ok := median(byBand[b]); ok {
				return numericFill(m, col.Kind), true
			}
		}
		return numericFill(overall, col.Kind), hasOverall
	}, report)
}

// band returns the index of the right-inclusive age band holding v, or -1.
func (c *Cleaner) band(v any) int {
	age, ok := table.AsFloat(v)
	if !ok {
		return -1
	}
	for i := 1; i < len(c.bands); i++ {
		if age > c.bands[i-1] && age <= c.bands[i] {
			return i - 1
		}
	}
	return -1
}

func fillMissing(t *table.Table, name string, fill func(i int) (any, bool), report *CleanReport) *table.Table {
	values := t.Values(name)
	changed := 0
	for i, v := range values {
		if v != nil {
			continue
		}
		if f, ok := fill(i); ok {
			values[i] = f
			changed++
		}
	}
	if changed == 0 {
		return t
	}
	report.ImputedByColumn[name] += changed
	report.ValuesImputed += changed
	col, _ := t.Column(name)
	return mustWithColumn(t, col, values)
}

func numericFill(f float64, kind table.Kind) any {
	if kind == table.KindInt {
		n, _ := table.AsInt(f)
		return n
	}
	return f
}

// mustWithColumn replaces a column with a value slice taken from the same table,
// which always has the right length.
func mustWithColumn(t *table.Table, col table.Column, values []any) *table.Table {
	out, err := t.WithColumn(col, values)
	if err != nil {
		panic(fmt.Sprintf("transform: %v", err))
	}
	return out
}
