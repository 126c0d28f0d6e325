package indicator

import (
	"math"

	"tradesignal/internal/model"
)

// ATR is the Average True Range. The true range of the first candle is
// high-low; afterwards it is max(high-low, |high-prevClose|, |low-prevClose|).
// The first ATR value is the mean of the first period true ranges, then
// Wilder smoothing applies.
type ATR struct {
	period    int
	count     int
	prevClose float64
	smma      *SMMA
}

// NewATR creates an ATR with the given period (typically 14).
func NewATR(period int) *ATR {
	return &ATR{period: period, smma: NewSMMA(period)}
}

func (a *ATR) Name() string { return "ATR_" + itoaInd(a.period) }

func (a *ATR) Update(c model.Candle) {
	a.count++
	tr := c.High - c.Low
	if a.count > 1 {
		tr = math.Max(tr, math.Max(math.Abs(c.High-a.prevClose), math.Abs(c.Low-a.prevClose)))
	}
	a.prevClose = c.Close
	a.smma.Update(tr)
}

func (a *ATR) Value() float64 { return a.smma.Value() }
func (a *ATR) Ready() bool    { return a.smma.Ready() }
