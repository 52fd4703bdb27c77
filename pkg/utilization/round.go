package utilization

import (
	"math"

	"github.com/48ix/stats/pkg/influx"
)

// Ceil rounds a bit rate up to a whole number. NaN and infinities become 0,
// finite values outside the int64 range saturate.
func Ceil(v float64) int64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	c := math.Ceil(v)
	switch {
	case c >= math.MaxInt64:
		return math.MaxInt64
	case c <= math.MinInt64:
		return math.MinInt64
	}
	// int64 conversion folds -0 into 0.
	return int64(c)
}

// CeilValues returns a copy of values with every row's value column rounded up.
// A single-row matrix is returned as is so the backend's "no data" row keeps its shape.
func CeilValues(values [][]any) [][]any {
	out := make([][]any, len(values))
	if len(values) == 1 {
		out[0] = values[0]
		return out
	}
	for i, row := range values {
		cp := append([]any(nil), row...)
		if len(cp) > 1 {
			if n, ok := influx.Number(cp[1]); ok {
				cp[1] = Ceil(n)
			}
		}
		out[i] = cp
	}
	return out
}

// firstValueCeil returns ceil of the first row's value, or 0 when the series is empty.
func firstValueCeil(s influx.Series) int64 {
	v, ok := s.FirstValue()
	if !ok {
		return 0
	}
	return Ceil(v)
}
