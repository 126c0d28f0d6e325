// Package marketdata defines the candle source used by the decision loop.
// Implementations live in subpackages: binance (live REST) and replay
// (archived candles for backtests).
package marketdata

import (
	"context"
	"fmt"

	"tradesignal/internal/model"
)

// KlineRequest selects the most recent Limit candles of Symbol at Interval.
type KlineRequest struct {
	Symbol   string
	Interval string
	Limit    int
}

func (r KlineRequest) String() string {
	return fmt.Sprintf("%s/%s limit=%d", r.Symbol, r.Interval, r.Limit)
}

// Client converts a request into candles ordered by open time.
// A transport failure returns an error and no candles.
type Client interface {
	Klines(ctx context.Context, req KlineRequest) ([]model.Candle, error)
}
