package indicator

import "math"

// MACD tracks the MACD line (EMA fast - EMA slow), its signal line (EMA of
// the MACD line, started at the first defined MACD value) and the histogram.
type MACD struct {
	fast   *EWM
	slow   *EWM
	signal *EWM
	line   float64
}

// NewMACD creates a MACD with the given windows (standard: 12, 26, 9).
func NewMACD(fast, slow, signal int) *MACD {
	return &MACD{
		fast:   NewEMA(fast),
		slow:   NewEMA(slow),
		signal: NewEMA(signal),
	}
}

func (m *MACD) Update(price float64) {
	m.fast.Update(price)
	m.slow.Update(price)
	if m.fast.Ready() && m.slow.Ready() {
		m.line = m.fast.Value() - m.slow.Value()
		m.signal.Update(m.line)
	}
}

// LineReady reports whether the MACD line is defined.
func (m *MACD) LineReady() bool { return m.fast.Ready() && m.slow.Ready() }

// SignalReady reports whether the signal line is defined.
func (m *MACD) SignalReady() bool { return m.signal.Ready() }

func (m *MACD) Line() float64   { return m.line }
func (m *MACD) Signal() float64 { return m.signal.Value() }
func (m *MACD) Diff() float64   { return m.line - m.signal.Value() }

// MACDSeries computes line, signal and diff series over closes.
func MACDSeries(closes []float64, fast, slow, signal int) (line, sig, diff []float64) {
	m := NewMACD(fast, slow, signal)
	line = make([]float64, len(closes))
	sig = make([]float64, len(closes))
	diff = make([]float64, len(closes))
	for i, c := range closes {
		m.Update(c)
		line[i], sig[i], diff[i] = math.NaN(), math.NaN(), math.NaN()
		if m.LineReady() {
			line[i] = m.Line()
		}
		if m.SignalReady() {
			sig[i] = m.Signal()
			diff[i] = m.Diff()
		}
	}
	return line, sig, diff
}
