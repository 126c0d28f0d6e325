// Package position implements the single-position state machine.
//
// The state is a plain value owned by the caller: Advance takes the current
// state and returns the next one. Nothing here is shared or mutated in place.
package position

import (
	"errors"
	"fmt"
	"math"

	"tradesignal/internal/model"

	"github.com/shopspring/decimal"
)

// ErrInvalidPrice is returned for a non-positive or non-finite price.
var ErrInvalidPrice = errors.New("position: invalid price")

// State is either Flat or Long with an entry price.
// EntryPrice is set if and only if Open is true.
type State struct {
	Open       bool    `json:"open"`
	EntryPrice float64 `json:"entry_price,omitempty"`
}

// Flat returns the initial state.
func Flat() State { return State{} }

// Long returns an open state at entry.
func Long(entry float64) State { return State{Open: true, EntryPrice: entry} }

func (s State) String() string {
	if !s.Open {
		return "Flat"
	}
	return fmt.Sprintf("Long(%.4f)", s.EntryPrice)
}

// Machine holds the exit thresholds for one session.
type Machine struct {
	symbol     string
	takeProfit decimal.Decimal
	stopLoss   decimal.Decimal
}

// NewMachine creates a Machine. Both fractions must be positive.
func NewMachine(symbol string, takeProfit, stopLoss float64) (*Machine, error) {
	if !(takeProfit > 0) || !(stopLoss > 0) {
		return nil, fmt.Errorf("position: tp and sl must be > 0 (tp=%v sl=%v)", takeProfit, stopLoss)
	}
	return &Machine{
		symbol:     symbol,
		takeProfit: decimal.NewFromFloat(takeProfit),
		stopLoss:   decimal.NewFromFloat(stopLoss),
	}, nil
}

// TakeProfitPrice returns entry * (1 + tp).
func (m *Machine) TakeProfitPrice(entry float64) decimal.Decimal {
	return decimal.NewFromFloat(entry).Mul(decimal.NewFromInt(1).Add(m.takeProfit))
}

// StopLossPrice returns entry * (1 - sl).
func (m *Machine) StopLossPrice(entry float64) decimal.Decimal {
	return decimal.NewFromFloat(entry).Mul(decimal.NewFromInt(1).Sub(m.stopLoss))
}

// Advance applies one cycle's signal and price to s.
//
// While Long, checks run in order: take-profit, stop-loss, SELL signal.
// While Flat, only BUY opens a position. Every other combination returns
// s unchanged and a nil event. The returned event has Kind, Symbol, prices
// and Signal set; the caller stamps Time and TraceID.
func (m *Machine) Advance(s State, sig model.Signal, price float64) (State, *model.Event, error) {
	if math.IsNaN(price) || math.IsInf(price, 0) || price <= 0 {
		return s, nil, fmt.Errorf("%w: %v", ErrInvalidPrice, price)
	}

	if !s.Open {
		if sig != model.SignalBuy {
			return s, nil, nil
		}
		return Long(price), &model.Event{
			Kind:   model.EventBuy,
			Symbol: m.symbol,
			Price:  price,
			Signal: sig,
		}, nil
	}

	p := decimal.NewFromFloat(price)
	var kind model.EventKind
	switch {
	case p.GreaterThanOrEqual(m.TakeProfitPrice(s.EntryPrice)):
		kind = model.EventTakeProfit
	case p.LessThanOrEqual(m.StopLossPrice(s.EntryPrice)):
		kind = model.EventStopLoss
	case sig == model.SignalSell:
		kind = model.EventSell
	default:
		return s, nil, nil
	}

	return Flat(), &model.Event{
		Kind:       kind,
		Symbol:     m.symbol,
		Price:      price,
		EntryPrice: s.EntryPrice,
		Signal:     sig,
		ReturnPct:  ReturnPct(s.EntryPrice, price),
	}, nil
}

// ReturnPct is the percentage move from entry to exit.
func ReturnPct(entry, exit float64) float64 {
	e := decimal.NewFromFloat(entry)
	return decimal.NewFromFloat(exit).Sub(e).Div(e).Mul(decimal.NewFromInt(100)).InexactFloat64()
}
