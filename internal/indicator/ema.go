package indicator

// EWM is an exponentially weighted mean seeded with the first observation:
// y0 = x0, yt = alpha*xt + (1-alpha)*y(t-1). It becomes Ready once minPeriods
// observations have been seen.
// O(1) per update; no window storage.
type EWM struct {
	name       string
	alpha      float64
	minPeriods int
	current    float64
	count      int
}

// NewEWM creates an EWM with an explicit smoothing factor.
func NewEWM(name string, alpha float64, minPeriods int) *EWM {
	return &EWM{name: name, alpha: alpha, minPeriods: minPeriods}
}

// NewEMA creates an Exponential Moving Average with span = period
// (alpha = 2/(period+1)), undefined for the first period-1 values.
func NewEMA(period int) *EWM {
	return NewEWM("EMA_"+itoaInd(period), 2.0/float64(period+1), period)
}

// NewWilder creates Wilder's smoothing (alpha = 1/period) seeded with the
// first observation, as used for RSI averages.
func NewWilder(period int) *EWM {
	return NewEWM("WILDER_"+itoaInd(period), 1.0/float64(period), period)
}

func (e *EWM) Name() string { return e.name }

func (e *EWM) Update(v float64) {
	e.count++
	if e.count == 1 {
		e.current = v
		return
	}
	e.current = (v * e.alpha) + (e.current * (1 - e.alpha))
}

func (e *EWM) Value() float64 { return e.current }
func (e *EWM) Ready() bool    { return e.count >= e.minPeriods }
