package model

import (
	"encoding/json"
	"fmt"
	"time"
)

// EventKind identifies what happened during a cycle.
type EventKind string

const (
	EventBuy        EventKind = "BUY"
	EventSell       EventKind = "SELL"
	EventTakeProfit EventKind = "TP"
	EventStopLoss   EventKind = "SL"
	EventWarning    EventKind = "WARNING"
	EventError      EventKind = "ERROR"
	EventStartup    EventKind = "STARTUP"
	EventFatal      EventKind = "FATAL"
)

// IsTransition reports whether the kind is a position state change.
func (k EventKind) IsTransition() bool {
	switch k {
	case EventBuy, EventSell, EventTakeProfit, EventStopLoss:
		return true
	}
	return false
}

// Event is an immutable record of something the operator should know about.
// Transition events carry prices; warning/error events carry Detail.
type Event struct {
	Kind       EventKind `json:"kind"`
	Symbol     string    `json:"symbol"`
	Price      float64   `json:"price,omitempty"`
	EntryPrice float64   `json:"entry_price,omitempty"`
	Signal     Signal    `json:"signal"`
	ReturnPct  float64   `json:"return_pct,omitempty"` // realized return on exits
	Detail     string    `json:"detail,omitempty"`
	Time       time.Time `json:"time"`
	TraceID    string    `json:"trace_id,omitempty"`
}

// Text renders the human-readable notification line.
func (e Event) Text() string {
	ts := e.Time.Format("2006-01-02 15:04:05")
	switch e.Kind {
	case EventBuy:
		return fmt.Sprintf("[%s] BUY signal (%s) - price: %.4f", ts, e.Symbol, e.Price)
	case EventSell:
		return fmt.Sprintf("[%s] SELL signal (%s) - price: %.4f entry: %.4f return: %+.2f%%", ts, e.Symbol, e.Price, e.EntryPrice, e.ReturnPct)
	case EventTakeProfit:
		return fmt.Sprintf("[%s] TAKE PROFIT hit (%s) - price: %.4f entry: %.4f return: %+.2f%%", ts, e.Symbol, e.Price, e.EntryPrice, e.ReturnPct)
	case EventStopLoss:
		return fmt.Sprintf("[%s] STOP LOSS hit (%s) - price: %.4f entry: %.4f return: %+.2f%%", ts, e.Symbol, e.Price, e.EntryPrice, e.ReturnPct)
	case EventWarning:
		return fmt.Sprintf("[%s] warning (%s): %s. Skipping cycle.", ts, e.Symbol, e.Detail)
	case EventError:
		return fmt.Sprintf("[%s] error (%s): %s", ts, e.Symbol, e.Detail)
	case EventStartup:
		return fmt.Sprintf("[%s] bot started (%s): %s", ts, e.Symbol, e.Detail)
	case EventFatal:
		return fmt.Sprintf("[%s] model/scaler could not be loaded (%s): %s", ts, e.Symbol, e.Detail)
	default:
		return fmt.Sprintf("[%s] %s (%s) %s", ts, e.Kind, e.Symbol, e.Detail)
	}
}

// JSON returns the JSON-encoded event (ignoring errors for hot-path usage).
func (e *Event) JSON() []byte {
	b, _ := json.Marshal(e)
	return b
}
