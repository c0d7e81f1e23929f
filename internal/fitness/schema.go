// Package fitness defines the fitness-record schema shared by the pipeline
// stages: column names, their logical kinds and which of them are required.
package fitness

import "github.com/leapstack-labs/fitetl/internal/table"

// Source columns.
const (
	ParticipantID          = "participant_id"
	Date                   = "date"
	Age                    = "age"
	Gender                 = "gender"
	HeightCM               = "height_cm"
	WeightKG               = "weight_kg"
	ActivityType           = "activity_type"
	DurationMinutes        = "duration_minutes"
	Intensity              = "intensity"
	CaloriesBurned         = "calories_burned"
	AvgHeartRate           = "avg_heart_rate"
	HoursSleep             = "hours_sleep"
	StressLevel            = "stress_level"
	DailySteps             = "daily_steps"
	HydrationLevel         = "hydration_level"
	BMI                    = "bmi"
	RestingHeartRate       = "resting_heart_rate"
	BloodPressureSystolic  = "blood_pressure_systolic"
	BloodPressureDiastolic = "blood_pressure_diastolic"
	HealthCondition        = "health_condition"
	SmokingStatus          = "smoking_status"
	FitnessLevel           = "fitness_level"
)

// Derived columns.
const (
	DateFlagged        = "date_flagged"
	BMICategory        = "bmi_category"
	AgeGroup           = "age_group"
	DayOfWeek          = "day_of_week"
	Month              = "month"
	Year               = "year"
	ISOYear            = "iso_year"
	WeekOfYear         = "week_of_year"
	IsWeekend          = "is_weekend"
	Season             = "season"
	FitnessCategory    = "fitness_category"
	WeeklySessions     = "weekly_sessions"
	TotalWorkouts      = "total_workouts"
	FitnessTrend       = "fitness_trend"
	FitnessChange      = "fitness_change"
	WorkoutsPerWeek    = "workouts_per_week"
	ConsistencyScore   = "consistency_score"
	TotalCalories      = "total_calories"
	FitnessLevel30dAvg = "fitness_level_30d_avg"
)

// Unknown is the label used for categorical values that cannot be resolved.
const Unknown = "unknown"

// Required lists the columns every input file must carry and every cleaned
// row must have a value for.
var Required = []string{ParticipantID, Date, HeightCM, WeightKG}

var kinds = map[string]table.Kind{
	ParticipantID:          table.KindString,
	Date:                   table.KindString,
	Age:                    table.KindInt,
	Gender:                 table.KindString,
	HeightCM:               table.KindFloat,
	WeightKG:               table.KindFloat,
	ActivityType:           table.KindString,
	DurationMinutes:        table.KindInt,
	Intensity:              table.KindString,
	CaloriesBurned:         table.KindFloat,
	AvgHeartRate:           table.KindInt,
	HoursSleep:             table.KindFloat,
	StressLevel:            table.KindInt,
	DailySteps:             table.KindInt,
	HydrationLevel:         table.KindFloat,
	BMI:                    table.KindFloat,
	RestingHeartRate:       table.KindFloat,
	BloodPressureSystolic:  table.KindFloat,
	BloodPressureDiastolic: table.KindFloat,
	HealthCondition:        table.KindString,
	SmokingStatus:          table.KindString,
	FitnessLevel:           table.KindFloat,
}

// KindOf returns the logical kind of a known source column.
// Unknown columns are strings.
func KindOf(name string) table.Kind {
	if k, ok := kinds[name]; ok {
		return k
	}
	return table.KindString
}

// IsKnown reports whether name is a recognised source column.
func IsKnown(name string) bool {
	_, ok := kinds[name]
	return ok
}

// IsNumeric reports whether the column holds numbers.
func IsNumeric(name string) bool {
	k := KindOf(name)
	return k == table.KindInt || k == table.KindFloat
}

// IsRequired reports whether name is one of the required columns.
func IsRequired(name string) bool {
	for _, r := range Required {
		if r == name {
			return true
		}
	}
	return false
}

// Categorical lists the known categorical source columns.
var Categorical = []string{Gender, ActivityType, Intensity, SmokingStatus, HealthCondition}

// IsCategorical reports whether the column is a known categorical column.
func IsCategorical(name string) bool {
	for _, c := range Categorical {
		if c == name {
			return true
		}
	}
	return false
}

// MissingColumns returns the required columns absent from have.
func MissingColumns(have []string) []string {
	set := make(map[string]bool, len(have))
	for _, h := range have {
		set[h] = true
	}
	var missing []string
	for _, r := range Required {
		if !set[r] {
			missing = append(missing, r)
		}
	}
	return missing
}
