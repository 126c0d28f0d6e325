package indicator

import "math"

// Window is a fixed-size rolling window over a float series.
// Uses a preallocated circular buffer; statistics are computed over the
// buffer on demand. A window containing NaN is not Full.
type Window struct {
	buf   []float64 // preallocated circular buffer
	idx   int       // current write position
	count int       // values held (<= len(buf))
	nans  int       // NaNs currently in the buffer
}

// NewWindow creates a rolling window of the given size.
func NewWindow(size int) *Window {
	return &Window{buf: make([]float64, size)}
}

// Push appends v, evicting the oldest value once the window is full.
func (w *Window) Push(v float64) {
	if w.count == len(w.buf) {
		if math.IsNaN(w.buf[w.idx]) {
			w.nans--
		}
	} else {
		w.count++
	}
	w.buf[w.idx] = v
	if math.IsNaN(v) {
		w.nans++
	}
	w.idx = (w.idx + 1) % len(w.buf)
}

// Full reports whether the window holds size defined values.
func (w *Window) Full() bool { return w.count == len(w.buf) && w.nans == 0 }

// Mean returns the arithmetic mean of the window.
func (w *Window) Mean() float64 {
	sum := 0.0
	for i := 0; i < w.count; i++ {
		sum += w.buf[i]
	}
	return sum / float64(w.count)
}

// Std returns the standard deviation with the given delta degrees of freedom
// (0 = population, 1 = sample).
func (w *Window) Std(ddof int) float64 {
	n := w.count - ddof
	if n <= 0 {
		return math.NaN()
	}
	m := w.Mean()
	ss := 0.0
	for i := 0; i < w.count; i++ {
		d := w.buf[i] - m
		ss += d * d
	}
	return math.Sqrt(ss / float64(n))
}

// MeanAbsDev returns the mean absolute deviation from the window mean.
func (w *Window) MeanAbsDev() float64 {
	m := w.Mean()
	s := 0.0
	for i := 0; i < w.count; i++ {
		s += math.Abs(w.buf[i] - m)
	}
	return s / float64(w.count)
}

// Min returns the smallest value in the window.
func (w *Window) Min() float64 {
	m := math.Inf(1)
	for i := 0; i < w.count; i++ {
		m = math.Min(m, w.buf[i])
	}
	return m
}

// Max returns the largest value in the window.
func (w *Window) Max() float64 {
	m := math.Inf(-1)
	for i := 0; i < w.count; i++ {
		m = math.Max(m, w.buf[i])
	}
	return m
}

// SMA calculates Simple Moving Average over a rolling window.
type SMA struct {
	period int
	win    *Window
}

// NewSMA creates a new SMA indicator with the given period.
func NewSMA(period int) *SMA {
	return &SMA{period: period, win: NewWindow(period)}
}

func (s *SMA) Name() string     { return "SMA_" + itoaInd(s.period) }
func (s *SMA) Update(v float64) { s.win.Push(v) }
func (s *SMA) Value() float64   { return s.win.Mean() }
func (s *SMA) Ready() bool      { return s.win.Full() }

// RollingStd is the rolling standard deviation of a series.
type RollingStd struct {
	period int
	ddof   int
	win    *Window
}

// NewRollingStd creates a rolling standard deviation; ddof 1 gives the
// sample estimate, ddof 0 the population one.
func NewRollingStd(period, ddof int) *RollingStd {
	return &RollingStd{period: period, ddof: ddof, win: NewWindow(period)}
}

func (s *RollingStd) Name() string     { return "STD_" + itoaInd(s.period) }
func (s *RollingStd) Update(v float64) { s.win.Push(v) }
func (s *RollingStd) Value() float64   { return s.win.Std(s.ddof) }
func (s *RollingStd) Ready() bool      { return s.win.Full() }
