package transform

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/leapstack-labs/fitetl/internal/fitness"
	"github.com/leapstack-labs/fitetl/internal/table"
)

// DateFallback decides what happens to a date no layout can parse.
type DateFallback string

// Date fallback policies.
const (
	DateFail DateFallback = "fail"
	DateFlag DateFallback = "flag"
	DateDrop DateFallback = "drop"
)

// UnmarshalText validates the policy name. Empty selects DateFlag.
func (d *DateFallback) UnmarshalText(text []byte) error {
	switch v := DateFallback(text); v {
	case DateFail, DateFlag, DateDrop:
		*d = v
	case "":
		*d = DateFlag
	default:
		return fmt.Errorf("unknown date fallback %q (want fail, flag or drop)", string(text))
	}
	return nil
}

// DefaultDateLayouts are tried in order when parsing dates.
var DefaultDateLayouts = []string{
	"2006-01-02",
	"2006/01/02",
	"01/02/2006",
	"02-01-2006",
	"2 January 2006",
	"January 2, 2006",
	time.RFC3339,
	"2006-01-02 15:04:05",
}

// StandardiserConfig configures a Standardiser.
type StandardiserConfig struct {
	DateFallback DateFallback
	// DateColumns defaults to the date column.
	DateColumns []string
	// DateLayouts defaults to DefaultDateLayouts.
	DateLayouts []string
	Logger      *slog.Logger
}

// Standardiser canonicalises categorical spellings and date formats.
type Standardiser struct {
	fallback    DateFallback
	dateColumns []string
	layouts     []string
	title       cases.Caser
	logger      *slog.Logger
}

// StandardiseReport counts what a Standardise call changed.
type StandardiseReport struct {
	ValuesCanonicalised int           `json:"values_canonicalised"`
	DatesParsed         int           `json:"dates_parsed"`
	DatesFlagged        int           `json:"dates_flagged"`
	RowsDropped         int           `json:"rows_dropped"`
	Duration            time.Duration `json:"duration"`
}

// NewStandardiser creates a standardiser.
func NewStandardiser(cfg StandardiserConfig) *Standardiser {
	fallback := cfg.DateFallback
	if fallback == "" {
		fallback = DateFlag
	}
	cols := cfg.DateColumns
	if len(cols) == 0 {
		cols = []string{fitness.Date}
	}
	layouts := cfg.DateLayouts
	if len(layouts) == 0 {
		layouts = DefaultDateLayouts
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Standardiser{
		fallback:    fallback,
		dateColumns: cols,
		layouts:     layouts,
		title:       cases.Title(language.English),
		logger:      logger,
	}
}

var (
	genderMap = map[string]string{
		"m": "M", "male": "M", "man": "M",
		"f": "F", "female": "F", "woman": "F",
	}
	intensityMap = map[string]string{
		"l": "Low", "low": "Low",
		"m": "Medium", "med": "Medium", "medium": "Medium", "moderate": "Medium",
		"h": "High", "high": "High",
	}
	smokingMap = map[string]string{
		"never": "Never", "non-smoker": "Never", "nonsmoker": "Never", "non smoker": "Never", "no": "Never",
		"former": "Former", "former smoker": "Former", "ex-smoker": "Former",
		"current": "Current", "current smoker": "Current", "smoker": "Current", "yes": "Current",
	}
	healthMap = map[string]string{
		"none": "No Condition", "no condition": "No Condition", "healthy": "No Condition",
	}
)

// Standardise trims string cells, canonicalises categorical values and parses
// date columns. Unparseable dates follow the configured fallback; with
// DateFail the first one aborts with a *StandardisationError.
func (s *Standardiser) Standardise(t *table.Table) (*table.Table, StandardiseReport, error) {
	start := time.Now()
	var report StandardiseReport

	for _, col := range t.Columns() {
		if col.Kind != table.KindString || s.isDateColumn(col.Name) {
			continue
		}
		canon := s.canonicaliser(col.Name)
		values := t.Values(col.Name)
		changed := 0
		for i, v := range values {
			str, ok := v.(string)
			if !ok {
				continue
			}
			if c := canon(strings.TrimSpace(str)); c != str {
				values[i] = c
				changed++
			}
		}
		if changed > 0 {
			report.ValuesCanonicalised += changed
			t = mustWithColumn(t, col, values)
		}
	}

	for _, name := range s.dateColumns {
		if !t.Has(name) {
			continue
		}
		var err error
		t, err = s.parseDates(t, name, &report)
		if err != nil {
			s.logger.Error("standardisation failed", "error", err)
			return nil, report, err
		}
	}

	report.Duration = time.Since(start)
	s.logger.Info("standardisation complete",
		"canonicalised", report.ValuesCanonicalised,
		"dates_parsed", report.DatesParsed,
		"dates_flagged", report.DatesFlagged,
		"rows_dropped", report.RowsDropped,
		"duration", report.Duration,
	)
	return t, report, nil
}

func (s *Standardiser) isDateColumn(name string) bool {
	for _, c := range s.dateColumns {
		if c == name {
			return true
		}
	}
	return false
}

func (s *Standardiser) canonicaliser(col string) func(string) string {
	lookup := func(m map[string]string) func(string) string {
		return func(v string) string {
			if c, ok := m[strings.ToLower(v)]; ok {
				return c
			}
			return v
		}
	}
	switch col {
	case fitness.Gender:
		return lookup(genderMap)
	case fitness.Intensity:
		return lookup(intensityMap)
	case fitness.SmokingStatus:
		return lookup(smokingMap)
	case fitness.HealthCondition:
		return lookup(healthMap)
	case fitness.ActivityType:
		return func(v string) string {
			if strings.EqualFold(v, fitness.Unknown) {
				return fitness.Unknown
			}
			return s.title.String(strings.Join(strings.Fields(v), " "))
		}
	default:
		return func(v string) string { return v }
	}
}

func (s *Standardiser) parseDates(t *table.Table, name string, report *StandardiseReport) (*table.Table, error) {
	values := t.Values(name)
	bad := make([]bool, len(values))
	nbad := 0

	for i, v := range values {
		switch x := v.(type) {
		case time.Time:
			values[i] = truncateDay(x)
		case string:
			d, ok := s.parseDate(x)
			if ok {
				values[i] = d
				report.DatesParsed++
				continue
			}
			if s.fallback == DateFail {
				return nil, &StandardisationError{Row: i, Column: name, Value: x, Err: ErrUnparseableDate}
			}
			s.logger.Warn("unparseable date", "row", i, "column", name, "value", x, "fallback", s.fallback)
			values[i] = nil
			bad[i] = true
			nbad++
		}
	}

	t = mustWithColumn(t, table.Column{Name: name, Kind: table.KindDate}, values)

	switch s.fallback {
	case DateDrop:
		out := t.Filter(func(i int, _ table.Row) bool { return !bad[i] })
		report.RowsDropped += nbad
		return out, nil
	case DateFlag:
		flags := make([]any, t.Len())
		for i := range flags {
			prev, _ := table.AsBool(t.Value(i, fitness.DateFlagged))
			flags[i] = prev || bad[i]
		}
		report.DatesFlagged += nbad
		return mustWithColumn(t, table.Column{Name: fitness.DateFlagged, Kind: table.KindBool}, flags), nil
	}
	return t, nil
}

func (s *Standardiser) parseDate(raw string) (time.Time, bool) {
	v := strings.TrimSpace(raw)
	for _, layout := range s.layouts {
		if d, err := time.Parse(layout, v); err == nil {
			return truncateDay(d), true
		}
	}
	return time.Time{}, false
}

func truncateDay(d time.Time) time.Time {
	y, m, day := d.Date()
	return time.Date(y, m, day, 0, 0, 0, 0, time.UTC)
}
