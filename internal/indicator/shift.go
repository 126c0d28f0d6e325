package indicator

import "math"

// Diff returns v[t] - v[t-n]; the first n values are NaN.
func Diff(values []float64, n int) []float64 {
	out := make([]float64, len(values))
	for i := range values {
		if i < n {
			out[i] = math.NaN()
			continue
		}
		out[i] = values[i] - values[i-n]
	}
	return out
}

// PctChange returns v[t]/v[t-n] - 1; the first n values are NaN.
func PctChange(values []float64, n int) []float64 {
	out := make([]float64, len(values))
	for i := range values {
		if i < n {
			out[i] = math.NaN()
			continue
		}
		out[i] = values[i]/values[i-n] - 1
	}
	return out
}

// Log returns the natural log of each value.
func Log(values []float64) []float64 {
	out := make([]float64, len(values))
	for i, v := range values {
		out[i] = math.Log(v)
	}
	return out
}

// LogReturn returns ln(v[t]/v[t-1]); the first value is NaN.
func LogReturn(values []float64) []float64 {
	out := make([]float64, len(values))
	for i := range values {
		if i == 0 {
			out[i] = math.NaN()
			continue
		}
		out[i] = math.Log(values[i] / values[i-1])
	}
	return out
}
