// Package binance fetches spot klines from the public Binance REST API.
package binance

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"tradesignal/internal/marketdata"
	"tradesignal/internal/model"

	"github.com/shopspring/decimal"
)

const defaultBaseURL = "https://api.binance.com"

// ErrNoCandles is returned when the endpoint answers with an empty array.
var ErrNoCandles = errors.New("binance: no candles returned")

// Client implements marketdata.Client for /api/v3/klines. Klines are public,
// so no credentials are needed.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

var _ marketdata.Client = (*Client)(nil)

// New returns a ready-to-use client. timeout bounds each request; zero
// means 10 seconds.
func New(baseURL string, timeout time.Duration) *Client {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Klines retrieves the most recent candles, oldest first.
func (c *Client) Klines(ctx context.Context, req marketdata.KlineRequest) ([]model.Candle, error) {
	endpoint := fmt.Sprintf("%s/api/v3/klines", c.baseURL)
	params := url.Values{}
	params.Set("symbol", req.Symbol)
	params.Set("interval", req.Interval)
	params.Set("limit", strconv.Itoa(req.Limit))

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint+"?"+params.Encode(), nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("binance: get klines: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("binance: klines status %d: %s", resp.StatusCode, string(data))
	}

	var raw [][]json.RawMessage
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, fmt.Errorf("binance: decode klines: %w", err)
	}

	candles := make([]model.Candle, 0, len(raw))
	for i, entry := range raw {
		c, err := parseRow(entry)
		if err != nil {
			return nil, fmt.Errorf("binance: row %d: %w", i, err)
		}
		candles = append(candles, c)
	}
	if len(candles) == 0 {
		return nil, ErrNoCandles
	}
	return candles, nil
}

// parseRow decodes [openTime, open, high, low, close, volume, ...]. Numeric
// fields may be JSON strings or numbers.
func parseRow(entry []json.RawMessage) (model.Candle, error) {
	if len(entry) < 6 {
		return model.Candle{}, fmt.Errorf("expected at least 6 fields, got %d", len(entry))
	}
	openMs, err := parseDecimal(entry[0])
	if err != nil {
		return model.Candle{}, fmt.Errorf("open time: %w", err)
	}
	vals := make([]float64, 5)
	for j := range vals {
		d, err := parseDecimal(entry[j+1])
		if err != nil {
			return model.Candle{}, fmt.Errorf("field %d: %w", j+1, err)
		}
		vals[j] = d.InexactFloat64()
	}
	return model.Candle{
		OpenTime: time.UnixMilli(openMs.IntPart()).UTC(),
		Open:     vals[0],
		High:     vals[1],
		Low:      vals[2],
		Close:    vals[3],
		Volume:   vals[4],
	}, nil
}

func parseDecimal(raw json.RawMessage) (decimal.Decimal, error) {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return decimal.NewFromString(s)
	}
	return decimal.NewFromString(string(raw))
}
