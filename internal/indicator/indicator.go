// Package indicator provides technical indicator calculations over candle data.
//
// Indicators are streaming: they receive one value (or candle) at a time via
// Update and expose Value/Ready. Series and CandleSeries run an indicator over a
// whole input window and return one output per input, NaN where the indicator
// is not yet defined. Inputs are never reordered.
package indicator

import (
	"math"

	"tradesignal/internal/model"
)

// Indicator is a streaming indicator over a single float series.
type Indicator interface {
	// Name returns the indicator name (e.g., "EMA_10", "RSI_14").
	Name() string

	// Update feeds the next value in time order.
	Update(v float64)

	// Value returns the current calculated value. Meaningless until Ready.
	Value() float64

	// Ready returns true when enough data has been accumulated.
	Ready() bool
}

// CandleIndicator is a streaming indicator that needs more than the close.
type CandleIndicator interface {
	Name() string
	Update(c model.Candle)
	Value() float64
	Ready() bool
}

// Series runs ind over values. NaN inputs are skipped (the indicator is not
// updated) and produce NaN, so a series with leading NaNs starts its
// recursion at the first defined value.
func Series(ind Indicator, values []float64) []float64 {
	out := make([]float64, len(values))
	for i, v := range values {
		if math.IsNaN(v) {
			out[i] = math.NaN()
			continue
		}
		ind.Update(v)
		if ind.Ready() {
			out[i] = ind.Value()
		} else {
			out[i] = math.NaN()
		}
	}
	return out
}

// CandleSeries runs ind over candles, NaN where not ready.
func CandleSeries(ind CandleIndicator, candles []model.Candle) []float64 {
	out := make([]float64, len(candles))
	for i, c := range candles {
		ind.Update(c)
		if ind.Ready() {
			out[i] = ind.Value()
		} else {
			out[i] = math.NaN()
		}
	}
	return out
}

// itoaInd converts int to string without importing strconv.
func itoaInd(n int) string {
	if n == 0 {
		return "0"
	}
	buf := [20]byte{}
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	return string(buf[i:])
}
