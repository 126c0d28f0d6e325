package inference

import "fmt"

// Scaler standardizes a feature vector: z = (x - mean) / scale.
// A zero scale is treated as 1.
type Scaler struct {
	names []string
	mean  []float64
	scale []float64
}

// NewScaler validates and builds a Scaler.
func NewScaler(names []string, mean, scale []float64) (*Scaler, error) {
	if len(names) == 0 {
		return nil, fmt.Errorf("scaler has no feature names")
	}
	if len(mean) != len(names) || len(scale) != len(names) {
		return nil, fmt.Errorf("scaler shape mismatch: %d names, %d means, %d scales",
			len(names), len(mean), len(scale))
	}
	seen := make(map[string]struct{}, len(names))
	for _, n := range names {
		if _, dup := seen[n]; dup {
			return nil, fmt.Errorf("scaler feature %q listed twice", n)
		}
		seen[n] = struct{}{}
	}
	s := &Scaler{
		names: append([]string(nil), names...),
		mean:  append([]float64(nil), mean...),
		scale: make([]float64, len(scale)),
	}
	for i, v := range scale {
		if v == 0 {
			v = 1
		}
		s.scale[i] = v
	}
	return s, nil
}

// FeatureNames returns the expected input columns, in order.
func (s *Scaler) FeatureNames() []string { return s.names }

// Transform scales x in place order; len(x) must equal len(FeatureNames()).
func (s *Scaler) Transform(x []float64) []float64 {
	out := make([]float64, len(x))
	for i, v := range x {
		out[i] = (v - s.mean[i]) / s.scale[i]
	}
	return out
}
