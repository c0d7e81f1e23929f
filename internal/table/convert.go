package table

import (
	"math"
	"strconv"
	"strings"
	"time"
)

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

// AsFloat converts a numeric or numeric-looking cell to float64.
func AsFloat(v any) (float64, bool) {
	switch x := v.(type) {
	case float64:
		if math.IsNaN(x) {
			return 0, false
		}
		return x, true
	case int64:
		return float64(x), true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
		if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
			return 0, false
		}
		return f, true
	default:
		return 0, false
	}
}

// AsInt converts a numeric or numeric-looking cell to int64, rounding floats.
func AsInt(v any) (int64, bool) {
	switch x := v.(type) {
	case int64:
		return x, true
	default:
		f, ok := AsFloat(v)
		if !ok {
			return 0, false
		}
		return int64(math.Round(f)), true
	}
}

// AsString returns the cell as a string; non-string cells are formatted.
func AsString(v any) (string, bool) {
	if v == nil {
		return "", false
	}
	if s, ok := v.(string); ok {
		return s, true
	}
	return Format(v), true
}

// AsTime returns the cell as a time.Time if it holds one.
func AsTime(v any) (time.Time, bool) {
	t, ok := v.(time.Time)
	return t, ok
}

// AsBool converts a bool or boolean-looking string cell.
func AsBool(v any) (bool, bool) {
	switch x := v.(type) {
	case bool:
		return x, true
	case string:
		b, err := strconv.ParseBool(strings.TrimSpace(x))
		return b, err == nil
	default:
		return false, false
	}
}

// Coerce converts v to the representation used by kind. The second result is
// false when v is missing or cannot be converted.
func Coerce(v any, kind Kind) (any, bool) {
	if v == nil {
		return nil, false
	}
	switch kind {
	case KindInt:
		n, ok := AsInt(v)
		if !ok {
			return nil, false
		}
		return n, true
	case KindFloat:
		f, ok := AsFloat(v)
		if !ok {
			return nil, false
		}
		return f, true
	case KindBool:
		b, ok := AsBool(v)
		if !ok {
			return nil, false
		}
		return b, true
	case KindDate:
		t, ok := AsTime(v)
		if !ok {
			return nil, false
		}
		return t, true
	default:
		s, ok := AsString(v)
		if !ok {
			return nil, false
		}
		return s, true
	}
}
