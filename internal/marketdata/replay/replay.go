// Package replay serves archived candles as a marketdata.Client for
// backtesting. Each Klines call returns the next sliding window, so the
// decision loop sees history exactly as it would have live, one candle at a
// time.
package replay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"tradesignal/internal/marketdata"
	"tradesignal/internal/model"
)

// ErrExhausted is returned once every window has been served.
var ErrExhausted = errors.New("replay: no more candles")

// CandleReader is satisfied by the SQLite archive reader.
type CandleReader interface {
	ReadCandles(ctx context.Context, symbol, interval string, after time.Time) ([]model.Candle, error)
}

// Client replays a fixed candle history.
type Client struct {
	mu      sync.Mutex
	candles []model.Candle
	step    int
}

var _ marketdata.Client = (*Client)(nil)

// New creates a replay client over candles, which must be ordered by open time.
func New(candles []model.Candle) (*Client, error) {
	if err := model.ValidateCandles(candles); err != nil {
		return nil, fmt.Errorf("replay: %w", err)
	}
	return &Client{candles: candles}, nil
}

// Load reads the archived history for symbol/interval after from (zero
// means everything) and wraps it in a Client.
func Load(ctx context.Context, r CandleReader, symbol, interval string, from time.Time) (*Client, error) {
	candles, err := r.ReadCandles(ctx, symbol, interval, from)
	if err != nil {
		return nil, err
	}
	slog.Info("[replay] loaded candles", "symbol", symbol, "interval", interval, "count", len(candles))
	return New(candles)
}

// Klines returns the next window of req.Limit candles and advances by one.
// Symbol and interval are fixed by the loaded history and ignored here.
func (c *Client) Klines(ctx context.Context, req marketdata.KlineRequest) ([]model.Candle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	end := req.Limit + c.step
	if req.Limit <= 0 || end > len(c.candles) {
		return nil, ErrExhausted
	}
	c.step++

	out := make([]model.Candle, req.Limit)
	copy(out, c.candles[end-req.Limit:end])
	return out, nil
}

// Steps returns how many windows of size limit the history yields in total.
func (c *Client) Steps(limit int) int {
	if limit <= 0 || limit > len(c.candles) {
		return 0
	}
	return len(c.candles) - limit + 1
}

// Len returns the number of loaded candles.
func (c *Client) Len() int { return len(c.candles) }

// Start returns the open time of the first candle, or zero when empty.
func (c *Client) Start() time.Time {
	if len(c.candles) == 0 {
		return time.Time{}
	}
	return c.candles[0].OpenTime
}
