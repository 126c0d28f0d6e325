package indicator

// RSI calculates the Relative Strength Index with Wilder smoothing of gains
// and losses. The first close contributes a zero gain and zero loss, so the
// first value is defined after period closes.
// Update is O(1) per value.
type RSI struct {
	period    int
	count     int
	prevClose float64
	avgGain   *EWM
	avgLoss   *EWM
}

// NewRSI creates a new RSI indicator with the given period (typically 14).
func NewRSI(period int) *RSI {
	return &RSI{
		period:  period,
		avgGain: NewWilder(period),
		avgLoss: NewWilder(period),
	}
}

func (r *RSI) Name() string { return "RSI_" + itoaInd(r.period) }

func (r *RSI) Update(price float64) {
	r.count++
	if r.count == 1 {
		r.prevClose = price
		r.avgGain.Update(0)
		r.avgLoss.Update(0)
		return
	}

	delta := price - r.prevClose
	r.prevClose = price

	gain, loss := 0.0, 0.0
	if delta > 0 {
		gain = delta
	} else {
		loss = -delta
	}
	r.avgGain.Update(gain)
	r.avgLoss.Update(loss)
}

func (r *RSI) Value() float64 {
	al := r.avgLoss.Value()
	if al == 0 {
		return 100.0
	}
	rs := r.avgGain.Value() / al
	return 100.0 - (100.0 / (1.0 + rs))
}

func (r *RSI) Ready() bool { return r.avgGain.Ready() }
