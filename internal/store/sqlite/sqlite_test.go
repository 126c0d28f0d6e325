package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"tradesignal/internal/model"
)

func newTestWriter(t *testing.T) (*Writer, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	w, err := New(WriterConfig{DBPath: path})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { w.Close() })
	return w, path
}

func TestCandleArchive_UpsertAndRead(t *testing.T) {
	w, path := newTestWriter(t)
	ctx := context.Background()
	base := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)

	window := func(from, n int, closeOffset float64) []model.Candle {
		out := make([]model.Candle, n)
		for i := range out {
			x := float64(from + i)
			out[i] = model.Candle{
				OpenTime: base.Add(time.Duration(from+i) * time.Hour),
				Open:     x, High: x + 1, Low: x - 1, Close: x + closeOffset, Volume: 10,
			}
		}
		return out
	}

	if err := w.SaveCandles(ctx, "APTUSDT", "1h", window(0, 5, 0)); err != nil {
		t.Fatalf("SaveCandles: %v", err)
	}
	// Overlapping window: rows 3 and 4 are replaced, 5..6 added.
	if err := w.SaveCandles(ctx, "APTUSDT", "1h", window(3, 4, 0.5)); err != nil {
		t.Fatalf("SaveCandles: %v", err)
	}
	if err := w.SaveCandles(ctx, "ETHUSDT", "1h", window(0, 2, 0)); err != nil {
		t.Fatalf("SaveCandles: %v", err)
	}

	r, err := NewReader(path)
	if err != nil {
		t.Fatalf("NewReader: %v", err)
	}
	defer r.Close()

	got, err := r.ReadCandles(ctx, "APTUSDT", "1h", time.Time{})
	if err != nil {
		t.Fatalf("ReadCandles: %v", err)
	}
	if len(got) != 7 {
		t.Fatalf("got %d candles, want 7", len(got))
	}
	if err := model.ValidateCandles(got); err != nil {
		t.Fatalf("archived candles out of order: %v", err)
	}
	if got[3].Close != 3.5 {
		t.Errorf("candle 3 close = %v, want replaced 3.5", got[3].Close)
	}
	if !got[6].OpenTime.Equal(base.Add(6 * time.Hour)) {
		t.Errorf("last open time = %v", got[6].OpenTime)
	}

	after, err := r.ReadCandles(ctx, "APTUSDT", "1h", base.Add(4*time.Hour))
	if err != nil {
		t.Fatalf("ReadCandles after: %v", err)
	}
	if len(after) != 2 {
		t.Errorf("got %d candles after cutoff, want 2", len(after))
	}
}

func TestEventJournal_RoundTrip(t *testing.T) {
	w, _ := newTestWriter(t)
	ctx := context.Background()
	ts := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	events := []model.Event{
		{Kind: model.EventBuy, Symbol: "APTUSDT", Price: 50, Signal: model.SignalBuy, Time: ts, TraceID: "t1"},
		{Kind: model.EventWarning, Symbol: "APTUSDT", Detail: "empty feature table", Time: ts.Add(time.Hour)},
		{Kind: model.EventTakeProfit, Symbol: "APTUSDT", Price: 51.5, EntryPrice: 50, ReturnPct: 3,
			Signal: model.SignalHold, Time: ts.Add(2 * time.Hour)},
	}
	for _, ev := range events {
		if err := w.RecordEvent(ctx, ev); err != nil {
			t.Fatalf("RecordEvent: %v", err)
		}
	}

	got, err := w.RecentEvents(ctx, 2)
	if err != nil {
		t.Fatalf("RecentEvents: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d events, want 2", len(got))
	}
	if got[0].Kind != "TP" || got[0].EntryPrice != 50 || got[0].ReturnPct != 3 {
		t.Errorf("newest event = %+v", got[0])
	}
	if got[1].Kind != "WARNING" || got[1].Detail != "empty feature table" {
		t.Errorf("second event = %+v", got[1])
	}
	if !got[0].Time.Equal(ts.Add(2 * time.Hour)) {
		t.Errorf("time = %v", got[0].Time)
	}
	if err := w.Ping(ctx); err != nil {
		t.Errorf("Ping: %v", err)
	}
}
