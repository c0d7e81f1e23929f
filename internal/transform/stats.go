package transform

import (
	"math"
	"sort"

	"github.com/leapstack-labs/fitetl/internal/table"
)

func mean(xs []float64) (float64, bool) {
	if len(xs) == 0 {
		return 0, false
	}
	var sum float64
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs)), true
}

func median(xs []float64) (float64, bool) {
	if len(xs) == 0 {
		return 0, false
	}
	s := append([]float64(nil), xs...)
	sort.Float64s(s)
	mid := len(s) / 2
	if len(s)%2 == 1 {
		return s[mid], true
	}
	return (s[mid-1] + s[mid]) / 2, true
}

// mode returns the most frequent non-missing value. Ties go to the value seen first.
func mode(values []any) (any, bool) {
	counts := map[string]int{}
	first := map[string]any{}
	var order []string
	for _, v := range values {
		if v == nil {
			continue
		}
		k := table.Format(v)
		if _, ok := first[k]; !ok {
			first[k] = v
			order = append(order, k)
		}
		counts[k]++
	}
	if len(order) == 0 {
		return nil, false
	}
	best := order[0]
	for _, k := range order[1:] {
		if counts[k] > counts[best] {
			best = k
		}
	}
	return first[best], true
}

// slope returns the least-squares slope of ys against 0..n-1.
func slope(ys []float64) (float64, bool) {
	n := float64(len(ys))
	if len(ys) < 2 {
		return 0, false
	}
	var sx, sy, sxy, sxx float64
	for i, y := range ys {
		x := float64(i)
		sx += x
		sy += y
		sxy += x * y
		sxx += x * x
	}
	den := n*sxx - sx*sx
	if den == 0 {
		return 0, false
	}
	return (n*sxy - sx*sy) / den, true
}

func round(x float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(x*p) / p
}

func clip(x, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, x))
}

func floats(values []any) []float64 {
	out := make([]float64, 0, len(values))
	for _, v := range values {
		if f, ok := table.AsFloat(v); ok {
			out = append(out, f)
		}
	}
	return out
}
