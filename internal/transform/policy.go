package transform

import (
	"fmt"

	"github.com/leapstack-labs/fitetl/internal/fitness"
)

// Strategy names how missing values of a column are resolved.
type Strategy string

// Missing-value strategies.
const (
	StrategyNone        Strategy = "none"
	StrategyMean        Strategy = "mean"
	StrategyMedian      Strategy = "median"
	StrategyMode        Strategy = "mode"
	StrategyConstant    Strategy = "constant"
	StrategyDrop        Strategy = "drop"
	StrategyGroupMedian Strategy = "group_median"
)

// UnmarshalText validates the strategy name.
func (s *Strategy) UnmarshalText(text []byte) error {
	switch v := Strategy(text); v {
	case StrategyNone, StrategyMean, StrategyMedian, StrategyMode,
		StrategyConstant, StrategyDrop, StrategyGroupMedian:
		*s = v
		return nil
	default:
		return fmt.Errorf("unknown missing-value strategy %q", string(text))
	}
}

// Policy resolves missing values of one column.
type Policy struct {
	Strategy Strategy `koanf:"strategy"`
	// Value is the fill value for StrategyConstant, parsed to the column kind.
	Value string `koanf:"value"`
}

// numeric reports whether the strategy needs numeric observations.
func (s Strategy) numeric() bool {
	return s == StrategyMean || s == StrategyMedian || s == StrategyGroupMedian
}

// DefaultAgeBands are the upper-exclusive age bounds used by StrategyGroupMedian.
var DefaultAgeBands = []float64{0, 18, 35, 50, 65, 100}

// DefaultPolicies returns the missing-value policy for each known column.
func DefaultPolicies() map[string]Policy {
	p := map[string]Policy{
		fitness.ParticipantID: {Strategy: StrategyDrop},
		fitness.Date:          {Strategy: StrategyDrop},

		fitness.HealthCondition: {Strategy: StrategyConstant, Value: "No Condition"},
		fitness.SmokingStatus:   {Strategy: StrategyConstant, Value: "Never"},
		fitness.Intensity:       {Strategy: StrategyMode},
		fitness.Gender:          {Strategy: StrategyConstant, Value: fitness.Unknown},
		fitness.ActivityType:    {Strategy: StrategyConstant, Value: fitness.Unknown},

		fitness.HoursSleep: {Strategy: StrategyGroupMedian},

		// Recomputed by the enricher.
		fitness.BMI:          {Strategy: StrategyNone},
		fitness.FitnessLevel: {Strategy: StrategyNone},
	}
	for _, c := range []string{
		fitness.Age, fitness.WeightKG, fitness.HeightCM, fitness.RestingHeartRate,
		fitness.BloodPressureSystolic, fitness.BloodPressureDiastolic,
		fitness.HydrationLevel, fitness.DurationMinutes, fitness.StressLevel,
	} {
		p[c] = Policy{Strategy: StrategyMedian}
	}
	for _, c := range []string{fitness.CaloriesBurned, fitness.AvgHeartRate, fitness.DailySteps} {
		p[c] = Policy{Strategy: StrategyMean}
	}
	return p
}
