package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"tradesignal/internal/model"

	_ "github.com/mattn/go-sqlite3"
)

// Reader provides read-only access for replay and the events API.
type Reader struct {
	db *sql.DB
}

// NewReader opens a SQLite connection for reading.
func NewReader(dbPath string) (*Reader, error) {
	db, err := open(dbPath)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(2)
	db.SetMaxIdleConns(2)

	slog.Info("[sqlite-reader] opened", "path", dbPath)
	return &Reader{db: db}, nil
}

// ReadCandles returns archived candles for symbol/interval with open time
// after the given instant, oldest first. A zero after reads everything.
func (r *Reader) ReadCandles(ctx context.Context, symbol, interval string, after time.Time) ([]model.Candle, error) {
	afterMs := int64(-1)
	if !after.IsZero() {
		afterMs = after.UnixMilli()
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT open_time, open, high, low, close, volume
		FROM candles
		WHERE symbol = ? AND interval = ? AND open_time > ?
		ORDER BY open_time ASC
	`, symbol, interval, afterMs)
	if err != nil {
		return nil, fmt.Errorf("sqlite query candles: %w", err)
	}
	defer rows.Close()

	var candles []model.Candle
	for rows.Next() {
		var c model.Candle
		var ms int64
		if err := rows.Scan(&ms, &c.Open, &c.High, &c.Low, &c.Close, &c.Volume); err != nil {
			return nil, fmt.Errorf("sqlite scan candles: %w", err)
		}
		c.OpenTime = time.UnixMilli(ms).UTC()
		candles = append(candles, c)
	}
	return candles, rows.Err()
}

// EventRecord is one journal row.
type EventRecord struct {
	ID         int64     `json:"id"`
	Kind       string    `json:"kind"`
	Symbol     string    `json:"symbol"`
	Price      float64   `json:"price"`
	EntryPrice float64   `json:"entry_price"`
	Signal     string    `json:"signal"`
	ReturnPct  float64   `json:"return_pct"`
	Detail     string    `json:"detail"`
	TraceID    string    `json:"trace_id"`
	Time       time.Time `json:"time"`
}

// RecentEvents returns the last limit journal rows, newest first.
func (r *Reader) RecentEvents(ctx context.Context, limit int) ([]EventRecord, error) {
	return recentEvents(ctx, r.db, limit)
}

// RecentEvents reads back through the writer's connection.
func (w *Writer) RecentEvents(ctx context.Context, limit int) ([]EventRecord, error) {
	return recentEvents(ctx, w.db, limit)
}

func recentEvents(ctx context.Context, db *sql.DB, limit int) ([]EventRecord, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT id, kind, symbol, price, entry_price, signal, return_pct, detail, trace_id, event_time
		 FROM events ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("sqlite query events: %w", err)
	}
	defer rows.Close()

	var out []EventRecord
	for rows.Next() {
		var e EventRecord
		var ms int64
		if err := rows.Scan(&e.ID, &e.Kind, &e.Symbol, &e.Price, &e.EntryPrice, &e.Signal,
			&e.ReturnPct, &e.Detail, &e.TraceID, &ms); err != nil {
			return nil, fmt.Errorf("sqlite scan events: %w", err)
		}
		e.Time = time.UnixMilli(ms).UTC()
		out = append(out, e)
	}
	return out, rows.Err()
}

// Close closes the reader.
func (r *Reader) Close() error {
	return r.db.Close()
}
