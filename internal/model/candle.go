package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"
)

// ErrInvalidCandles is returned when a candle window is not strictly ordered
// or carries non-finite values.
var ErrInvalidCandles = errors.New("invalid candle sequence")

// Candle is one OHLCV bar for a fixed interval.
// Prices are float64 because every downstream feature is computed in float space.
type Candle struct {
	OpenTime time.Time `json:"open_time"` // bucket start (UTC)
	Open     float64   `json:"open"`
	High     float64   `json:"high"`
	Low      float64   `json:"low"`
	Close    float64   `json:"close"`
	Volume   float64   `json:"volume"`
}

// JSON returns the JSON-encoded candle (ignoring errors for hot-path usage).
func (c *Candle) JSON() []byte {
	b, _ := json.Marshal(c)
	return b
}

// ValidateCandles checks that candles are strictly increasing by OpenTime and
// every numeric field is finite.
func ValidateCandles(candles []Candle) error {
	for i := range candles {
		c := &candles[i]
		if !finite(c.Open) || !finite(c.High) || !finite(c.Low) || !finite(c.Close) || !finite(c.Volume) {
			return fmt.Errorf("%w: non-finite value at index %d", ErrInvalidCandles, i)
		}
		if i > 0 && !c.OpenTime.After(candles[i-1].OpenTime) {
			return fmt.Errorf("%w: open_time not increasing at index %d (%s <= %s)",
				ErrInvalidCandles, i, c.OpenTime.Format(time.RFC3339), candles[i-1].OpenTime.Format(time.RFC3339))
		}
	}
	return nil
}

// Closes extracts the close series in input order.
func Closes(candles []Candle) []float64 {
	out := make([]float64, len(candles))
	for i, c := range candles {
		out[i] = c.Close
	}
	return out
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
