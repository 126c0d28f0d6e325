package indicator

import (
	"math"

	"tradesignal/internal/model"
)

// BollingerSeries returns the upper and lower Bollinger bands: an SMA of
// the closes plus/minus k population standard deviations.
func BollingerSeries(closes []float64, period int, k float64) (high, low []float64) {
	win := NewWindow(period)
	high = make([]float64, len(closes))
	low = make([]float64, len(closes))
	for i, c := range closes {
		win.Push(c)
		if !win.Full() {
			high[i], low[i] = math.NaN(), math.NaN()
			continue
		}
		mid := win.Mean()
		sd := win.Std(0)
		high[i] = mid + k*sd
		low[i] = mid - k*sd
	}
	return high, low
}

// CCI is the Commodity Channel Index over the typical price (h+l+c)/3:
// (tp - SMA(tp)) / (constant * meanAbsDev(tp)).
type CCI struct {
	period   int
	constant float64
	win      *Window
	last     float64
}

// NewCCI creates a CCI with the given period (typically 20, constant 0.015).
func NewCCI(period int, constant float64) *CCI {
	return &CCI{period: period, constant: constant, win: NewWindow(period)}
}

func (c *CCI) Name() string { return "CCI_" + itoaInd(c.period) }

func (c *CCI) Update(k model.Candle) {
	c.last = (k.High + k.Low + k.Close) / 3.0
	c.win.Push(c.last)
}

func (c *CCI) Value() float64 {
	return (c.last - c.win.Mean()) / (c.constant * c.win.MeanAbsDev())
}

func (c *CCI) Ready() bool { return c.win.Full() }

// Stochastic computes %K = 100 * (close - lowestLow) / (highestHigh - lowestLow)
// over period candles, and %D as the SMA of %K over smooth values.
type Stochastic struct {
	period int
	lows   *Window
	highs  *Window
	d      *SMA
	k      float64
}

// NewStochastic creates a stochastic oscillator (typically 14, 3).
func NewStochastic(period, smooth int) *Stochastic {
	return &Stochastic{
		period: period,
		lows:   NewWindow(period),
		highs:  NewWindow(period),
		d:      NewSMA(smooth),
	}
}

func (s *Stochastic) Update(c model.Candle) {
	s.lows.Push(c.Low)
	s.highs.Push(c.High)
	s.k = math.NaN()
	if s.lows.Full() && s.highs.Full() {
		lo, hi := s.lows.Min(), s.highs.Max()
		s.k = 100 * (c.Close - lo) / (hi - lo)
	}
	// %K NaNs (not ready, or flat range) poison the %D window like a rolling mean.
	s.d.Update(s.k)
}

// K returns %K; NaN until ready.
func (s *Stochastic) K() float64 { return s.k }

// D returns %D; NaN until ready.
func (s *Stochastic) D() float64 {
	if !s.d.Ready() {
		return math.NaN()
	}
	return s.d.Value()
}

// StochasticSeries computes %K and %D series over candles.
func StochasticSeries(candles []model.Candle, period, smooth int) (k, d []float64) {
	s := NewStochastic(period, smooth)
	k = make([]float64, len(candles))
	d = make([]float64, len(candles))
	for i, c := range candles {
		s.Update(c)
		k[i], d[i] = s.K(), s.D()
	}
	return k, d
}
