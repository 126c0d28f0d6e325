package model

import "fmt"

// Signal is the classifier's discrete trade output.
type Signal int

const (
	SignalSell Signal = iota
	SignalHold
	SignalBuy
)

func (s Signal) String() string {
	switch s {
	case SignalSell:
		return "SELL"
	case SignalHold:
		return "HOLD"
	case SignalBuy:
		return "BUY"
	default:
		return "UNKNOWN"
	}
}

// SignalFromLabel maps a classifier class label (0, 1, 2) to a Signal.
func SignalFromLabel(label int) (Signal, error) {
	switch label {
	case 0:
		return SignalSell, nil
	case 1:
		return SignalHold, nil
	case 2:
		return SignalBuy, nil
	default:
		return SignalHold, fmt.Errorf("unknown class label %d", label)
	}
}

// MarshalText renders the signal name for JSON and YAML encoders.
func (s Signal) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}
