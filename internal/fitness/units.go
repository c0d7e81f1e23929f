package fitness

import "fmt"

// HeightUnit selects how height_cm values are interpreted.
type HeightUnit string

// Height units.
const (
	HeightAuto        HeightUnit = "auto"
	HeightCentimetres HeightUnit = "cm"
	HeightMetres      HeightUnit = "m"
)

// autoMetresBelow is the threshold under which auto mode reads a height as metres.
const autoMetresBelow = 3.0

// UnmarshalText validates the unit name.
func (u *HeightUnit) UnmarshalText(text []byte) error {
	switch v := HeightUnit(text); v {
	case HeightAuto, HeightCentimetres, HeightMetres:
		*u = v
		return nil
	case "":
		*u = HeightAuto
		return nil
	default:
		return fmt.Errorf("unknown height unit %q (want auto, cm or m)", string(text))
	}
}

// ToMetres converts a recorded height to metres.
func (u HeightUnit) ToMetres(h float64) float64 {
	switch u {
	case HeightMetres:
		return h
	case HeightCentimetres:
		return h / 100
	default:
		if h < autoMetresBelow {
			return h
		}
		return h / 100
	}
}

// ComputeBMI returns weight(kg) / height(m)^2. ok is false when the height is
// not positive.
func ComputeBMI(weightKG, heightM float64) (bmi float64, ok bool) {
	if heightM <= 0 {
		return 0, false
	}
	return weightKG / (heightM * heightM), true
}
