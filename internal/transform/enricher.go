package transform

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/leapstack-labs/fitetl/internal/dag"
	"github.com/leapstack-labs/fitetl/internal/fitness"
	"github.com/leapstack-labs/fitetl/internal/table"
)

// Hemisphere selects the season mapping.
type Hemisphere string

// Hemispheres.
const (
	North Hemisphere = "north"
	South Hemisphere = "south"
)

// UnmarshalText validates the hemisphere name. Empty selects North.
func (h *Hemisphere) UnmarshalText(text []byte) error {
	switch v := Hemisphere(text); v {
	case North, South:
		*h = v
	case "":
		*h = North
	default:
		return fmt.Errorf("unknown hemisphere %q (want north or south)", string(text))
	}
	return nil
}

// DefaultWeeklyMetrics are aggregated per participant per ISO week.
var DefaultWeeklyMetrics = []string{fitness.DurationMinutes, fitness.CaloriesBurned, fitness.DailySteps}

// Rolling-average defaults.
const (
	DefaultRollingWindow      = 30
	DefaultRollingMinSessions = 5
)

// EnricherConfig configures an Enricher.
type EnricherConfig struct {
	Hemisphere         Hemisphere
	HeightUnit         fitness.HeightUnit
	WeeklyMetrics      []string
	RollingWindow      int
	RollingMinSessions int
	Logger             *slog.Logger
}

// Enricher adds derived columns. Every derived column is recomputed from its
// inputs, so enriching an enriched table changes nothing.
type Enricher struct {
	cfg      EnricherConfig
	features []*feature
	logger   *slog.Logger
}

// EnrichReport lists the features applied and skipped.
type EnrichReport struct {
	Applied  []string      `json:"applied"`
	Skipped  []string      `json:"skipped,omitempty"`
	Columns  []string      `json:"columns"`
	Duration time.Duration `json:"duration"`
}

// feature derives columns from a table. needs must all be present for the
// feature to run; uses are read when present.
type feature struct {
	name     string
	needs    []string
	uses     []string
	provides []string
	apply    func(t *table.Table) *table.Table
}

// NewEnricher creates an enricher and orders its features by the columns they
// read and write.
func NewEnricher(cfg EnricherConfig) (*Enricher, error) {
	if cfg.Hemisphere == "" {
		cfg.Hemisphere = North
	}
	if cfg.HeightUnit == "" {
		cfg.HeightUnit = fitness.HeightAuto
	}
	if cfg.WeeklyMetrics == nil {
		cfg.WeeklyMetrics = DefaultWeeklyMetrics
	}
	if cfg.RollingWindow <= 0 {
		cfg.RollingWindow = DefaultRollingWindow
	}
	if cfg.RollingMinSessions <= 0 {
		cfg.RollingMinSessions = DefaultRollingMinSessions
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	e := &Enricher{cfg: cfg, logger: logger}
	ordered, err := orderFeatures(e.catalog())
	if err != nil {
		return nil, err
	}
	e.features = ordered
	return e, nil
}

func orderFeatures(features []*feature) ([]*feature, error) {
	g := dag.NewGraph[*feature]()
	producer := map[string]string{}
	for _, f := range features {
		g.AddNode(f.name, f)
		for _, col := range f.provides {
			producer[col] = f.name
		}
	}
	for _, f := range features {
		for _, col := range append(append([]string(nil), f.needs...), f.uses...) {
			if p, ok := producer[col]; ok && p != f.name {
				if err := g.AddEdge(p, f.name); err != nil {
					return nil, err
				}
			}
		}
	}
	nodes, err := g.TopologicalSort()
	if err != nil {
		return nil, fmt.Errorf("ordering enrichment features: %w", err)
	}
	out := make([]*feature, len(nodes))
	for i, n := range nodes {
		out[i] = n.Data
	}
	return out, nil
}

// Enrich applies every feature whose inputs are present.
func (e *Enricher) Enrich(t *table.Table) (*table.Table, EnrichReport) {
	start := time.Now()
	var report EnrichReport
	before := t.Width()

	for _, f := range e.features {
		if missing := missingColumns(t, f.needs); len(missing) > 0 {
			e.logger.Debug("skipping feature", "feature", f.name, "missing", missing)
			report.Skipped = append(report.Skipped, f.name)
			continue
		}
		t = f.apply(t)
		report.Applied = append(report.Applied, f.name)
	}

	report.Columns = t.ColumnNames()
	report.Duration = time.Since(start)
	e.logger.Info("enrichment complete",
		"applied", len(report.Applied),
		"skipped", len(report.Skipped),
		"columns_added", t.Width()-before,
		"duration", report.Duration,
	)
	return t, report
}

func missingColumns(t *table.Table, cols []string) []string {
	var missing []string
	for _, c := range cols {
		if !t.Has(c) {
			missing = append(missing, c)
		}
	}
	return missing
}

func (e *Enricher) catalog() []*feature {
	weekly := []string{fitness.ParticipantID, fitness.ISOYear, fitness.WeekOfYear}
	var weeklyOut []string
	weeklyOut = append(weeklyOut, fitness.WeeklySessions)
	for _, m := range e.cfg.WeeklyMetrics {
		weeklyOut = append(weeklyOut, WeeklySumColumn(m), WeeklyMeanColumn(m))
	}

	return []*feature{
		{
			name:     "bmi",
			needs:    []string{fitness.WeightKG, fitness.HeightCM},
			provides: []string{fitness.BMI},
			apply:    e.bmi,
		},
		{
			name:     "bmi_category",
			needs:    []string{fitness.BMI},
			provides: []string{fitness.BMICategory},
			apply:    bmiCategory,
		},
		{
			name:     "age_group",
			needs:    []string{fitness.Age},
			provides: []string{fitness.AgeGroup},
			apply:    ageGroup,
		},
		{
			name:  "calendar",
			needs: []string{fitness.Date},
			provides: []string{
				fitness.DayOfWeek, fitness.Month, fitness.Year,
				fitness.ISOYear, fitness.WeekOfYear, fitness.IsWeekend,
			},
			apply: calendar,
		},
		{
			name:     "season",
			needs:    []string{fitness.Date},
			provides: []string{fitness.Season},
			apply:    e.season,
		},
		{
			name:     "fitness_level",
			needs:    []string{fitness.DurationMinutes, fitness.Intensity, fitness.AvgHeartRate},
			provides: []string{fitness.FitnessLevel},
			apply:    fitnessLevel,
		},
		{
			name:     "fitness_category",
			needs:    []string{fitness.FitnessLevel},
			provides: []string{fitness.FitnessCategory},
			apply:    fitnessCategory,
		},
		{
			name:     "weekly",
			needs:    weekly,
			uses:     e.cfg.WeeklyMetrics,
			provides: weeklyOut,
			apply:    e.weekly,
		},
		{
			name:  "participant",
			needs: []string{fitness.ParticipantID, fitness.Date},
			uses:  []string{fitness.FitnessLevel, fitness.CaloriesBurned},
			provides: []string{
				fitness.TotalWorkouts, fitness.FitnessTrend, fitness.FitnessChange,
				fitness.WorkoutsPerWeek, fitness.ConsistencyScore, fitness.TotalCalories,
			},
			apply: participantMetrics,
		},
		{
			name:     "rolling_fitness",
			needs:    []string{fitness.ParticipantID, fitness.Date, fitness.FitnessLevel},
			provides: []string{fitness.FitnessLevel30dAvg},
			apply:    e.rollingFitness,
		},
	}
}

// WeeklySumColumn names the weekly sum column of a metric.
func WeeklySumColumn(metric string) string { return "weekly_" + metric + "_sum" }

// WeeklyMeanColumn names the weekly mean column of a metric.
func WeeklyMeanColumn(metric string) string { return "weekly_" + metric + "_mean" }
