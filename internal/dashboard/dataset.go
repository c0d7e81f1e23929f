package dashboard

import (
	"cmp"
	"slices"
	"time"

	"github.com/leapstack-labs/fitetl/internal/fitness"
	"github.com/leapstack-labs/fitetl/internal/table"
)

// Summary describes the whole dataset.
type Summary struct {
	Source             string    `json:"source"`
	LoadedAt           time.Time `json:"loaded_at"`
	Rows               int       `json:"rows"`
	Participants       int       `json:"participants"`
	FirstDate          string    `json:"first_date,omitempty"`
	LastDate           string    `json:"last_date,omitempty"`
	FlaggedDates       int       `json:"flagged_dates"`
	AvgBMI             *float64  `json:"avg_bmi"`
	AvgDurationMinutes *float64  `json:"avg_duration_minutes"`
	AvgFitnessLevel    *float64  `json:"avg_fitness_level"`
	TotalCalories      *float64  `json:"total_calories"`
}

// SeasonStat aggregates the sessions of one season.
type SeasonStat struct {
	Season             string   `json:"season"`
	Sessions           int      `json:"sessions"`
	AvgDurationMinutes *float64 `json:"avg_duration_minutes"`
	AvgCalories        *float64 `json:"avg_calories"`
	AvgFitnessLevel    *float64 `json:"avg_fitness_level"`
}

// CategoryCount is the number of rows carrying one label.
type CategoryCount struct {
	Category string `json:"category"`
	Count    int    `json:"count"`
}

// WeekStat aggregates one participant's sessions in one ISO week.
type WeekStat struct {
	ISOYear         int      `json:"iso_year"`
	Week            int      `json:"week"`
	Sessions        int      `json:"sessions"`
	DurationMinutes *float64 `json:"duration_minutes"`
	Calories        *float64 `json:"calories"`
	Steps           *float64 `json:"steps"`
	AvgFitnessLevel *float64 `json:"avg_fitness_level"`
}

var (
	seasonOrder = []string{"winter", "spring", "summer", "autumn", fitness.Unknown}
	bmiOrder    = []string{"Underweight", "Normal", "Overweight", "Obese", "Unknown"}
)

// Dataset is the precomputed view of one loaded output. It is never mutated
// after construction.
type Dataset struct {
	summary Summary
	seasons []SeasonStat
	bmi     []CategoryCount
	weekly  map[string][]WeekStat
}

// NewDataset aggregates an enriched table.
func NewDataset(t *table.Table, source string, loadedAt time.Time) *Dataset {
	d := &Dataset{weekly: map[string][]WeekStat{}}
	d.summary = summarise(t, source, loadedAt)
	d.seasons = seasonStats(t)
	d.bmi = countLabels(t, fitness.BMICategory, bmiOrder)
	for _, id := range participantIDs(t) {
		d.weekly[id] = weekStats(t, id)
	}
	return d
}

func summarise(t *table.Table, source string, loadedAt time.Time) Summary {
	s := Summary{
		Source:             source,
		LoadedAt:           loadedAt,
		Rows:               t.Len(),
		Participants:       len(participantIDs(t)),
		AvgBMI:             meanOf(t, fitness.BMI, nil),
		AvgDurationMinutes: meanOf(t, fitness.DurationMinutes, nil),
		AvgFitnessLevel:    meanOf(t, fitness.FitnessLevel, nil),
		TotalCalories:      sumOf(t, fitness.CaloriesBurned, nil),
	}

	var first, last time.Time
	for _, v := range t.Values(fitness.Date) {
		d, ok := table.AsTime(v)
		if !ok {
			continue
		}
		if first.IsZero() || d.Before(first) {
			first = d
		}
		if d.After(last) {
			last = d
		}
	}
	if !first.IsZero() {
		s.FirstDate = first.Format(table.DateLayout)
		s.LastDate = last.Format(table.DateLayout)
	}

	for _, v := range t.Values(fitness.DateFlagged) {
		if b, ok := table.AsBool(v); ok && b {
			s.FlaggedDates++
		}
	}
	return s
}

func seasonStats(t *table.Table) []SeasonStat {
	if !t.Has(fitness.Season) {
		return []SeasonStat{}
	}
	rows := map[string][]int{}
	for i, v := range t.Values(fitness.Season) {
		label := table.Format(v)
		if label == "" {
			label = fitness.Unknown
		}
		rows[label] = append(rows[label], i)
	}

	stats := []SeasonStat{}
	for _, label := range orderedKeys(rows, seasonOrder) {
		idx := rows[label]
		stats = append(stats, SeasonStat{
			Season:             label,
			Sessions:           len(idx),
			AvgDurationMinutes: meanOf(t, fitness.DurationMinutes, idx),
			AvgCalories:        meanOf(t, fitness.CaloriesBurned, idx),
			AvgFitnessLevel:    meanOf(t, fitness.FitnessLevel, idx),
		})
	}
	return stats
}

func countLabels(t *table.Table, col string, order []string) []CategoryCount {
	if !t.Has(col) {
		return []CategoryCount{}
	}
	counts := map[string][]int{}
	for i, v := range t.Values(col) {
		label := table.Format(v)
		if label == "" {
			label = "Unknown"
		}
		counts[label] = append(counts[label], i)
	}
	out := []CategoryCount{}
	for _, label := range orderedKeys(counts, order) {
		out = append(out, CategoryCount{Category: label, Count: len(counts[label])})
	}
	return out
}

// orderedKeys returns the keys of m in the given order, then any others sorted.
func orderedKeys[V any](m map[string]V, order []string) []string {
	keys := make([]string, 0, len(m))
	for _, k := range order {
		if _, ok := m[k]; ok {
			keys = append(keys, k)
		}
	}
	var rest []string
	for k := range m {
		if !slices.Contains(order, k) {
			rest = append(rest, k)
		}
	}
	slices.Sort(rest)
	return append(keys, rest...)
}

func participantIDs(t *table.Table) []string {
	seen := map[string]bool{}
	var ids []string
	for _, v := range t.Values(fitness.ParticipantID) {
		id := table.Format(v)
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		ids = append(ids, id)
	}
	return ids
}

func weekStats(t *table.Table, id string) []WeekStat {
	type weekKey struct{ year, week int }
	groups := map[weekKey][]int{}
	for i := range t.Len() {
		if table.Format(t.Value(i, fitness.ParticipantID)) != id {
			continue
		}
		year, ok1 := table.AsInt(t.Value(i, fitness.ISOYear))
		week, ok2 := table.AsInt(t.Value(i, fitness.WeekOfYear))
		if !ok1 || !ok2 {
			continue
		}
		k := weekKey{int(year), int(week)}
		groups[k] = append(groups[k], i)
	}

	stats := make([]WeekStat, 0, len(groups))
	for k, idx := range groups {
		stats = append(stats, WeekStat{
			ISOYear:         k.year,
			Week:            k.week,
			Sessions:        len(idx),
			DurationMinutes: sumOf(t, fitness.DurationMinutes, idx),
			Calories:        sumOf(t, fitness.CaloriesBurned, idx),
			Steps:           sumOf(t, fitness.DailySteps, idx),
			AvgFitnessLevel: meanOf(t, fitness.FitnessLevel, idx),
		})
	}
	slices.SortFunc(stats, func(a, b WeekStat) int {
		return cmp.Or(cmp.Compare(a.ISOYear, b.ISOYear), cmp.Compare(a.Week, b.Week))
	})
	return stats
}

// observed returns the numeric values of col in rows idx, or in every row
// when idx is nil.
func observed(t *table.Table, col string, idx []int) []float64 {
	if !t.Has(col) {
		return nil
	}
	var xs []float64
	add := func(v any) {
		if f, ok := table.AsFloat(v); ok {
			xs = append(xs, f)
		}
	}
	if idx == nil {
		for _, v := range t.Values(col) {
			add(v)
		}
		return xs
	}
	for _, i := range idx {
		add(t.Value(i, col))
	}
	return xs
}

func meanOf(t *table.Table, col string, idx []int) *float64 {
	xs := observed(t, col, idx)
	if len(xs) == 0 {
		return nil
	}
	var sum float64
	for _, x := range xs {
		sum += x
	}
	m := sum / float64(len(xs))
	return &m
}

func sumOf(t *table.Table, col string, idx []int) *float64 {
	xs := observed(t, col, idx)
	if len(xs) == 0 {
		return nil
	}
	var sum float64
	for _, x := range xs {
		sum += x
	}
	return &sum
}
