package transform

import (
	"sort"
	"time"

	"github.com/leapstack-labs/fitetl/internal/fitness"
	"github.com/leapstack-labs/fitetl/internal/table"
)

// Labels used for values that cannot be derived.
const (
	labelUnknown = "Unknown"
)

func (e *Enricher) bmi(t *table.Table) *table.Table {
	values := make([]any, t.Len())
	for i := range values {
		w, okW := table.AsFloat(t.Value(i, fitness.WeightKG))
		h, okH := table.AsFloat(t.Value(i, fitness.HeightCM))
		if !okW || !okH {
			continue
		}
		if b, ok := fitness.ComputeBMI(w, e.cfg.HeightUnit.ToMetres(h)); ok {
			values[i] = b
		}
	}
	return mustWithColumn(t, table.Column{Name: fitness.BMI, Kind: table.KindFloat}, values)
}

// BMICategory returns the WHO category of a BMI value.
func BMICategory(bmi float64) string {
	switch {
	case bmi < 18.5:
		return "Underweight"
	case bmi < 25:
		return "Normal"
	case bmi < 30:
		return "Overweight"
	default:
		return "Obese"
	}
}

func bmiCategory(t *table.Table) *table.Table {
	values := make([]any, t.Len())
	for i := range values {
		values[i] = labelUnknown
		if b, ok := table.AsFloat(t.Value(i, fitness.BMI)); ok {
			values[i] = BMICategory(b)
		}
	}
	return mustWithColumn(t, table.Column{Name: fitness.BMICategory, Kind: table.KindString}, values)
}

// AgeGroup returns the age band label for an age, clipped to 0..100.
func AgeGroup(age float64) string {
	age = clip(age, 0, 100)
	switch {
	case age < 18:
		return "Under 18"
	case age < 35:
		return "18-34"
	case age < 50:
		return "35-49"
	case age < 65:
		return "50-64"
	default:
		return "65+"
	}
}

func ageGroup(t *table.Table) *table.Table {
	values := make([]any, t.Len())
	for i := range values {
		values[i] = labelUnknown
		if a, ok := table.AsFloat(t.Value(i, fitness.Age)); ok {
			values[i] = AgeGroup(a)
		}
	}
	return mustWithColumn(t, table.Column{Name: fitness.AgeGroup, Kind: table.KindString}, values)
}

func calendar(t *table.Table) *table.Table {
	n := t.Len()
	dow := make([]any, n)
	month := make([]any, n)
	year := make([]any, n)
	isoYear := make([]any, n)
	week := make([]any, n)
	weekend := make([]any, n)

	for i := 0; i < n; i++ {
		d, ok := table.AsTime(t.Value(i, fitness.Date))
		if !ok {
			continue
		}
		y, w := d.ISOWeek()
		dow[i] = d.Weekday().String()
		month[i] = d.Month().String()
		year[i] = int64(d.Year())
		isoYear[i] = int64(y)
		week[i] = int64(w)
		weekend[i] = d.Weekday() == time.Saturday || d.Weekday() == time.Sunday
	}

	t = mustWithColumn(t, table.Column{Name: fitness.DayOfWeek, Kind: table.KindString}, dow)
	t = mustWithColumn(t, table.Column{Name: fitness.Month, Kind: table.KindString}, month)
	t = mustWithColumn(t, table.Column{Name: fitness.Year, Kind: table.KindInt}, year)
	t = mustWithColumn(t, table.Column{Name: fitness.ISOYear, Kind: table.KindInt}, isoYear)
	t = mustWithColumn(t, table.Column{Name: fitness.WeekOfYear, Kind: table.KindInt}, week)
	return mustWithColumn(t, table.Column{Name: fitness.IsWeekend, Kind: table.KindBool}, weekend)
}

// SeasonOf maps a calendar month to its season label for the hemisphere.
func SeasonOf(m time.Month, h Hemisphere) string {
	var s string
	switch m {
	case time.December, time.January, time.February:
		s = "winter"
	case time.March, time.April, time.May:
		s = "spring"
	case time.June, time.July, time.August:
		s = "summer"
	default:
		s = "autumn"
	}
	if h != South {
		return s
	}
	return map[string]string{
		"winter": "summer",
		"summer": "winter",
		"spring": "autumn",
		"autumn": "spring",
	}[s]
}

func (e *Enricher) season(t *table.Table) *table.Table {
	values := make([]any, t.Len())
	for i := range values {
		values[i] = fitness.Unknown
		if d, ok := table.AsTime(t.Value(i, fitness.Date)); ok {
			values[i] = SeasonOf(d.Month(), e.cfg.Hemisphere)
		}
	}
	return mustWithColumn(t, table.Column{Name: fitness.Season, Kind: table.KindString}, values)
}

var intensityScore = map[string]float64{"Low": 1, "Medium": 2, "High": 3}

// FitnessScore scores a session on 0..10 from its duration, intensity and
// average heart rate, rounded to one decimal.
func FitnessScore(durationMin float64, intensity string, avgHR float64) float64 {
	score, ok := intensityScore[intensity]
	if !ok {
		score = 1
	}
	raw := (durationMin / 30) * score * (1 - (avgHR-70)/130)
	return round(clip(raw, 0, 10), 1)
}

func fitnessLevel(t *table.Table) *table.Table {
	values := make([]any, t.Len())
	for i := range values {
		dur, okD := table.AsFloat(t.Value(i, fitness.DurationMinutes))
		hr, okH := table.AsFloat(t.Value(i, fitness.AvgHeartRate))
		if !okD || !okH {
			// Keep a recorded level when the inputs are incomplete.
			if f, ok := table.AsFloat(t.Value(i, fitness.FitnessLevel)); ok {
				values[i] = f
			}
			continue
		}
		intensity, _ := table.AsString(t.Value(i, fitness.Intensity))
		values[i] = FitnessScore(dur, intensity, hr)
	}
	return mustWithColumn(t, table.Column{Name: fitness.FitnessLevel, Kind: table.KindFloat}, values)
}

// FitnessCategory buckets a fitness level.
func FitnessCategory(level float64) string {
	switch {
	case level < 3:
		return "Low"
	case level < 6:
		return "Moderate"
	case level < 8:
		return "Good"
	default:
		return "Excellent"
	}
}

func fitnessCategory(t *table.Table) *table.Table {
	values := make([]any, t.Len())
	for i := range values {
		values[i] = labelUnknown
		if f, ok := table.AsFloat(t.Value(i, fitness.FitnessLevel)); ok {
			values[i] = FitnessCategory(f)
		}
	}
	return mustWithColumn(t, table.Column{Name: fitness.FitnessCategory, Kind: table.KindString}, values)
}

// groupRows returns row indices per key in first-seen key order. Rows for
// which key reports false are left out.
func groupRows(t *table.Table, key func(i int) (string, bool)) ([]string, map[string][]int) {
	var order []string
	groups := map[string][]int{}
	for i := 0; i < t.Len(); i++ {
		k, ok := key(i)
		if !ok {
			continue
		}
		if _, seen := groups[k]; !seen {
			order = append(order, k)
		}
		groups[k] = append(groups[k], i)
	}
	return order, groups
}

func participantKey(t *table.Table) func(int) (string, bool) {
	return func(i int) (string, bool) {
		v := t.Value(i, fitness.ParticipantID)
		if v == nil {
			return "", false
		}
		return table.Format(v), true
	}
}

func (e *Enricher) weekly(t *table.Table) *table.Table {
	_, groups := groupRows(t, func(i int) (string, bool) {
		p, ok := participantKey(t)(i)
		y, okY := table.AsInt(t.Value(i, fitness.ISOYear))
		w, okW := table.AsInt(t.Value(i, fitness.WeekOfYear))
		if !ok || !okY || !okW {
			return "", false
		}
		return p + "\x1f" + table.Format(y) + "-" + table.Format(w), true
	})

	sessions := make([]any, t.Len())
	for _, rows := range groups {
		for _, i := range rows {
			sessions[i] = int64(len(rows))
		}
	}
	t = mustWithColumn(t, table.Column{Name: fitness.WeeklySessions, Kind: table.KindInt}, sessions)

	for _, m := range e.cfg.WeeklyMetrics {
		if !t.Has(m) {
			continue
		}
		sums := make([]any, t.Len())
		means := make([]any, t.Len())
		for _, rows := range groups {
			var xs []float64
			for _, i := range rows {
				if f, ok := table.AsFloat(t.Value(i, m)); ok {
					xs = append(xs, f)
				}
			}
			avg, ok := mean(xs)
			if !ok {
				continue
			}
			var sum float64
			for _, x := range xs {
				sum += x
			}
			for _, i := range rows {
				sums[i] = sum
				means[i] = avg
			}
		}
		t = mustWithColumn(t, table.Column{Name: WeeklySumColumn(m), Kind: table.KindFloat}, sums)
		t = mustWithColumn(t, table.Column{Name: WeeklyMeanColumn(m), Kind: table.KindFloat}, means)
	}
	return t
}

// datedSessions returns the rows among idx that have a date, ordered by date.
// Rows on the same date keep their table order.
func datedSessions(t *table.Table, idx []int) ([]int, []time.Time) {
	var rows []int
	for _, i := range idx {
		if _, ok := table.AsTime(t.Value(i, fitness.Date)); ok {
			rows = append(rows, i)
		}
	}
	sort.SliceStable(rows, func(a, b int) bool {
		da, _ := table.AsTime(t.Value(rows[a], fitness.Date))
		db, _ := table.AsTime(t.Value(rows[b], fitness.Date))
		return da.Before(db)
	})
	dates := make([]time.Time, len(rows))
	for k, i := range rows {
		dates[k], _ = table.AsTime(t.Value(i, fitness.Date))
	}
	return rows, dates
}

func participantMetrics(t *table.Table) *table.Table {
	n := t.Len()
	total := make([]any, n)
	trend := make([]any, n)
	change := make([]any, n)
	perWeek := make([]any, n)
	consistency := make([]any, n)
	calories := make([]any, n)

	_, groups := groupRows(t, participantKey(t))
	for _, idx := range groups {
		var cal any
		if t.Has(fitness.CaloriesBurned) {
			var sum float64
			for _, i := range idx {
				if f, ok := table.AsFloat(t.Value(i, fitness.CaloriesBurned)); ok {
					sum += f
				}
			}
			cal = sum
		}

		rows, dates := datedSessions(t, idx)
		var tr, ch, pw, cs any
		if len(rows) >= 2 {
			var levels []float64
			for _, i := range rows {
				if f, ok := table.AsFloat(t.Value(i, fitness.FitnessLevel)); ok {
					levels = append(levels, f)
				}
			}
			if s, ok := slope(levels); ok {
				tr = s
				ch = levels[len(levels)-1] - levels[0]
			}

			span := dates[len(dates)-1].Sub(dates[0]).Hours() / 24
			pw, cs = 0.0, 0.0
			if span > 0 {
				pw = float64(len(rows)) / (span / 7)
				cs = float64(len(rows)) / span * 100
			}
		}

		for _, i := range idx {
			total[i] = int64(len(idx))
			calories[i] = cal
			trend[i] = tr
			change[i] = ch
			perWeek[i] = pw
			consistency[i] = cs
		}
	}

	t = mustWithColumn(t, table.Column{Name: fitness.TotalWorkouts, Kind: table.KindInt}, total)
	t = mustWithColumn(t, table.Column{Name: fitness.FitnessTrend, Kind: table.KindFloat}, trend)
	t = mustWithColumn(t, table.Column{Name: fitness.FitnessChange, Kind: table.KindFloat}, change)
	t = mustWithColumn(t, table.Column{Name: fitness.WorkoutsPerWeek, Kind: table.KindFloat}, perWeek)
	t = mustWithColumn(t, table.Column{Name: fitness.ConsistencyScore, Kind: table.KindFloat}, consistency)
	return mustWithColumn(t, table.Column{Name: fitness.TotalCalories, Kind: table.KindFloat}, calories)
}

func (e *Enricher) rollingFitness(t *table.Table) *table.Table {
	values := make([]any, t.Len())
	_, groups := groupRows(t, participantKey(t))
	for _, idx := range groups {
		if len(idx) < e.cfg.RollingMinSessions {
			continue
		}
		rows, _ := datedSessions(t, idx)
		for k, i := range rows {
			var xs []float64
			for j := max(0, k-e.cfg.RollingWindow+1); j <= k; j++ {
				if f, ok := table.AsFloat(t.Value(rows[j], fitness.FitnessLevel)); ok {
					xs = append(xs, f)
				}
			}
			if m, ok := mean(xs); ok {
				values[i] = m
			}
		}
	}
	return mustWithColumn(t, table.Column{Name: fitness.FitnessLevel30dAvg, Kind: table.KindFloat}, values)
}
