// Package features turns a candle window into the fixed feature table the
// signal model is trained on.
package features

import (
	"errors"
	"fmt"
	"math"
	"time"

	"tradesignal/internal/indicator"
	"tradesignal/internal/model"

	"github.com/go-gota/gota/dataframe"
	"github.com/go-gota/gota/series"
)

// MaxWindow is the largest indicator window (EMA 200). A well-formed input of
// N candles yields N-(MaxWindow-1) rows.
const MaxWindow = 200

var (
	// ErrInsufficientCandles is returned when the input is shorter than MaxWindow+1.
	ErrInsufficientCandles = errors.New("features: insufficient candles")
	// ErrEmptyTable is returned by Latest when every row was dropped.
	ErrEmptyTable = errors.New("features: empty feature table")
)

// Columns is the table schema, in order. Names are shared with the scaler.
var Columns = []string{
	"open", "high", "low", "close", "volume",
	"rsi", "ema_10", "ema_50", "ema_200",
	"macd", "macd_signal", "macd_diff",
	"bb_high", "bb_low", "bb_width",
	"cci", "obv", "stoch_k", "stoch_d", "atr",
	"momentum", "return_1h", "volatility", "log_close", "log_return",
}

// Row maps a column name to its value for one candle.
type Row map[string]float64

// Table is the feature table for one cycle. Rows keep input order.
type Table struct {
	df    dataframe.DataFrame
	times []time.Time
}

// Len returns the number of retained rows.
func (t *Table) Len() int {
	if t == nil {
		return 0
	}
	return t.df.Nrow()
}

// Frame exposes the underlying DataFrame.
func (t *Table) Frame() dataframe.DataFrame { return t.df }

// Time returns the open time of row i.
func (t *Table) Time(i int) time.Time { return t.times[i] }

// Row returns row i as a Row.
func (t *Table) Row(i int) Row {
	row := make(Row, len(Columns))
	for _, name := range t.df.Names() {
		row[name] = t.df.Col(name).Elem(i).Float()
	}
	return row
}

// columnFunc computes one column over the candle window and its closes.
type columnFunc func(candles []model.Candle, closes []float64) []float64

// Engineer computes feature tables.
type Engineer struct {
	columns map[string]columnFunc
}

func closeIndicator(newInd func() indicator.Indicator) columnFunc {
	return func(_ []model.Candle, closes []float64) []float64 {
		return indicator.Series(newInd(), closes)
	}
}

func candleIndicator(newInd func() indicator.CandleIndicator) columnFunc {
	return func(candles []model.Candle, _ []float64) []float64 {
		return indicator.CandleSeries(newInd(), candles)
	}
}

func closeTransform(f func([]float64) []float64) columnFunc {
	return func(_ []model.Candle, closes []float64) []float64 { return f(closes) }
}

// NewEngineer returns an Engineer with the standard feature schema.
// Multi-output indicators (MACD, Bollinger, stochastic) are computed in Build.
func NewEngineer() *Engineer {
	return &Engineer{columns: map[string]columnFunc{
		"rsi":     closeIndicator(func() indicator.Indicator { return indicator.NewRSI(14) }),
		"ema_10":  closeIndicator(func() indicator.Indicator { return indicator.NewEMA(10) }),
		"ema_50":  closeIndicator(func() indicator.Indicator { return indicator.NewEMA(50) }),
		"ema_200": closeIndicator(func() indicator.Indicator { return indicator.NewEMA(MaxWindow) }),
		"cci":     candleIndicator(func() indicator.CandleIndicator { return indicator.NewCCI(20, 0.015) }),
		"obv":     candleIndicator(func() indicator.CandleIndicator { return indicator.NewOBV() }),
		"atr":     candleIndicator(func() indicator.CandleIndicator { return indicator.NewATR(14) }),
		"volatility": closeIndicator(func() indicator.Indicator {
			return indicator.NewRollingStd(10, 1)
		}),
		"momentum": closeTransform(func(c []float64) []float64 {
			return indicator.Diff(c, 5)
		}),
		"return_1h": closeTransform(func(c []float64) []float64 {
			return indicator.PctChange(c, 4)
		}),
		"log_close":  closeTransform(logOf),
		"log_return": closeTransform(indicator.LogReturn),
	}}
}

// Build computes every column over candles and drops each row holding a
// NaN or infinite value in any column. Candles are never reordered.
func (e *Engineer) Build(candles []model.Candle) (*Table, error) {
	if len(candles) < MaxWindow+1 {
		return nil, fmt.Errorf("%w: got %d, need %d", ErrInsufficientCandles, len(candles), MaxWindow+1)
	}
	if err := model.ValidateCandles(candles); err != nil {
		return nil, fmt.Errorf("features: build: %w", err)
	}

	closes := model.Closes(candles)
	cols := make(map[string][]float64, len(Columns))
	cols["open"] = pluck(candles, func(c model.Candle) float64 { return c.Open })
	cols["high"] = pluck(candles, func(c model.Candle) float64 { return c.High })
	cols["low"] = pluck(candles, func(c model.Candle) float64 { return c.Low })
	cols["close"] = closes
	cols["volume"] = pluck(candles, func(c model.Candle) float64 { return c.Volume })

	for name, fn := range e.columns {
		cols[name] = fn(candles, closes)
	}

	cols["macd"], cols["macd_signal"], cols["macd_diff"] = indicator.MACDSeries(closes, 12, 26, 9)
	cols["bb_high"], cols["bb_low"] = indicator.BollingerSeries(closes, 20, 2)
	width := make([]float64, len(closes))
	for i := range width {
		width[i] = cols["bb_high"][i] - cols["bb_low"][i]
	}
	cols["bb_width"] = width
	cols["stoch_k"], cols["stoch_d"] = indicator.StochasticSeries(candles, 14, 3)

	var keep []int
	for i := range candles {
		ok := true
		for _, name := range Columns {
			if !finite(cols[name][i]) {
				ok = false
				break
			}
		}
		if ok {
			keep = append(keep, i)
		}
	}

	ss := make([]series.Series, 0, len(Columns))
	for _, name := range Columns {
		kept := make([]float64, len(keep))
		for j, i := range keep {
			kept[j] = cols[name][i]
		}
		ss = append(ss, series.New(kept, series.Float, name))
	}
	df := dataframe.New(ss...)
	if df.Err != nil {
		return nil, fmt.Errorf("features: build frame: %w", df.Err)
	}
	times := make([]time.Time, len(keep))
	for j, i := range keep {
		times[j] = candles[i].OpenTime
	}
	return &Table{df: df, times: times}, nil
}

// Latest returns the most recent row of t.
func (e *Engineer) Latest(t *Table) (Row, error) {
	if t.Len() == 0 {
		return nil, ErrEmptyTable
	}
	return t.Row(t.Len() - 1), nil
}

func pluck(candles []model.Candle, f func(model.Candle) float64) []float64 {
	out := make([]float64, len(candles))
	for i, c := range candles {
		out[i] = f(c)
	}
	return out
}

// logOf is ln(v) with non-positive inputs mapped to NaN.
func logOf(values []float64) []float64 {
	out := indicator.Log(values)
	for i, v := range values {
		if v <= 0 {
			out[i] = math.NaN()
		}
	}
	return out
}

func finite(v float64) bool { return !math.IsNaN(v) && !math.IsInf(v, 0) }
