package indicator

import "tradesignal/internal/model"

// OBV is the cumulative On-Balance-Volume: volume is added when the close
// does not fall versus the previous close and subtracted when it does. The
// first candle contributes +volume. Defined from the first candle.
type OBV struct {
	count     int
	prevClose float64
	total     float64
}

func NewOBV() *OBV { return &OBV{} }

func (o *OBV) Name() string { return "OBV" }

func (o *OBV) Update(c model.Candle) {
	o.count++
	if o.count > 1 && c.Close < o.prevClose {
		o.total -= c.Volume
	} else {
		o.total += c.Volume
	}
	o.prevClose = c.Close
}

func (o *OBV) Value() float64 { return o.total }
func (o *OBV) Ready() bool    { return o.count > 0 }
