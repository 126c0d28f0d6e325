package position

import (
	"sync"
	"time"

	"tradesignal/internal/model"

	"github.com/shopspring/decimal"
)

// Trade is one closed round trip.
type Trade struct {
	EntryPrice float64         `json:"entry_price"`
	ExitPrice  float64         `json:"exit_price"`
	ExitKind   model.EventKind `json:"exit_kind"`
	ReturnPct  float64         `json:"return_pct"`
	OpenedAt   time.Time       `json:"opened_at"`
	ClosedAt   time.Time       `json:"closed_at"`
}

// Ledger records closed trades from transition events. It is read by the
// HTTP handlers while the loop writes, hence the lock.
type Ledger struct {
	mu       sync.RWMutex
	trades   []Trade
	openedAt time.Time
	// compounded growth factor of all closed trades
	growth decimal.Decimal
}

// NewLedger creates an empty ledger.
func NewLedger() *Ledger {
	return &Ledger{
		trades: make([]Trade, 0, 64),
		growth: decimal.NewFromInt(1),
	}
}

// Record consumes a transition event. Non-transition events are ignored.
func (l *Ledger) Record(ev model.Event) {
	if !ev.Kind.IsTransition() {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	if ev.Kind == model.EventBuy {
		l.openedAt = ev.Time
		return
	}
	l.trades = append(l.trades, Trade{
		EntryPrice: ev.EntryPrice,
		ExitPrice:  ev.Price,
		ExitKind:   ev.Kind,
		ReturnPct:  ev.ReturnPct,
		OpenedAt:   l.openedAt,
		ClosedAt:   ev.Time,
	})
	ratio := decimal.NewFromFloat(ev.Price).Div(decimal.NewFromFloat(ev.EntryPrice))
	l.growth = l.growth.Mul(ratio)
}

// Trades returns a copy of the closed trades.
func (l *Ledger) Trades() []Trade {
	l.mu.RLock()
	defer l.mu.RUnlock()
	cp := make([]Trade, len(l.trades))
	copy(cp, l.trades)
	return cp
}

// Summary aggregates the closed trades.
type Summary struct {
	Trades      int     `json:"trades"`
	Wins        int     `json:"wins"`
	Losses      int     `json:"losses"`
	TakeProfits int     `json:"take_profits"`
	StopLosses  int     `json:"stop_losses"`
	Sells       int     `json:"sells"`
	TotalReturn float64 `json:"total_return_pct"` // compounded
}

// Summary returns the current aggregate.
func (l *Ledger) Summary() Summary {
	l.mu.RLock()
	defer l.mu.RUnlock()

	s := Summary{Trades: len(l.trades)}
	for _, t := range l.trades {
		if t.ExitPrice > t.EntryPrice {
			s.Wins++
		} else {
			s.Losses++
		}
		switch t.ExitKind {
		case model.EventTakeProfit:
			s.TakeProfits++
		case model.EventStopLoss:
			s.StopLosses++
		case model.EventSell:
			s.Sells++
		}
	}
	s.TotalReturn = l.growth.Sub(decimal.NewFromInt(1)).Mul(decimal.NewFromInt(100)).InexactFloat64()
	return s
}
