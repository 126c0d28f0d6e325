package loop

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"testing"
	"time"

	"tradesignal/internal/features"
	"tradesignal/internal/inference"
	"tradesignal/internal/marketdata"
	"tradesignal/internal/metrics"
	"tradesignal/internal/model"
	"tradesignal/internal/notification"
	"tradesignal/internal/position"

	"github.com/prometheus/client_golang/prometheus"
)

var t0 = time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)

// window builds n hourly candles whose final close is last.
func window(n int, last float64) []model.Candle {
	out := make([]model.Candle, n)
	for i := range out {
		c := 100 + 5*math.Sin(float64(i)/7)
		if i == n-1 {
			c = last
		}
		out[i] = model.Candle{
			OpenTime: t0.Add(time.Duration(i) * time.Hour),
			Open:     c,
			High:     c + 1,
			Low:      c - 1,
			Close:    c,
			Volume:   1000 + float64(i),
		}
	}
	return out
}

// fakeClient serves one scripted response per call; the last one repeats.
type fakeClient struct {
	responses []func() ([]model.Candle, error)
	calls     int
	reqs      []marketdata.KlineRequest
}

func (f *fakeClient) Klines(ctx context.Context, req marketdata.KlineRequest) ([]model.Candle, error) {
	f.reqs = append(f.reqs, req)
	i := min(f.calls, len(f.responses)-1)
	f.calls++
	return f.responses[i]()
}

func prices(ps ...float64) *fakeClient {
	f := &fakeClient{}
	for _, p := range ps {
		p := p
		f.responses = append(f.responses, func() ([]model.Candle, error) { return window(250, p), nil })
	}
	return f
}

// fakeModel returns scripted signals, then HOLD.
type fakeModel struct {
	signals []model.Signal
	missing []string
	calls   int
	rows    []features.Row
}

func (f *fakeModel) Predict(row features.Row) (inference.Prediction, error) {
	f.rows = append(f.rows, row)
	sig := model.SignalHold
	if f.calls < len(f.signals) {
		sig = f.signals[f.calls]
	}
	f.calls++
	return inference.Prediction{Signal: sig, Missing: f.missing}, nil
}

type recordingNotifier struct{ alerts []notification.Alert }

func (r *recordingNotifier) Send(ctx context.Context, a notification.Alert) error {
	r.alerts = append(r.alerts, a)
	return nil
}

func (r *recordingNotifier) kinds() []string {
	var out []string
	for _, a := range r.alerts {
		if a.Event != nil {
			out = append(out, string(a.Event.Kind))
		}
	}
	return out
}

type memJournal struct{ events []model.Event }

func (j *memJournal) RecordEvent(ctx context.Context, ev model.Event) error {
	j.events = append(j.events, ev)
	return nil
}

type harness struct {
	loop    *Loop
	client  *fakeClient
	model   *fakeModel
	notes   *recordingNotifier
	journal *memJournal
	ledger  *position.Ledger
	clock   *SimClock
	reg     *prometheus.Registry
}

func newHarness(t *testing.T, client *fakeClient, m *fakeModel, maxCycles int) *harness {
	t.Helper()
	machine, err := position.NewMachine("APTUSDT", 0.02, 0.02)
	if err != nil {
		t.Fatal(err)
	}
	h := &harness{
		client:  client,
		model:   m,
		notes:   &recordingNotifier{},
		journal: &memJournal{},
		ledger:  position.NewLedger(),
		clock:   NewSimClock(t0.Add(250 * time.Hour)),
		reg:     prometheus.NewRegistry(),
	}
	h.loop, err = New(Config{
		Symbol:       "APTUSDT",
		Interval:     "1h",
		Limit:        250,
		PollInterval: time.Minute,
		MaxCycles:    maxCycles,
	}, Deps{
		Client:   client,
		Model:    m,
		Machine:  machine,
		Clock:    h.clock,
		Notifier: h.notes,
		Metrics:  metrics.NewMetrics(h.reg),
		Health:   metrics.NewHealthStatus("APTUSDT"),
		Journal:  h.journal,
		Ledger:   h.ledger,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return h
}

func (h *harness) counter(t *testing.T, name string) float64 {
	t.Helper()
	families, err := h.reg.Gather()
	if err != nil {
		t.Fatal(err)
	}
	var total float64
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.GetMetric() {
			total += m.GetCounter().GetValue()
		}
	}
	return total
}

func TestLoop_BuyThenTakeProfit(t *testing.T) {
	h := newHarness(t, prices(50, 50.9, 51.5),
		&fakeModel{signals: []model.Signal{model.SignalBuy, model.SignalHold, model.SignalHold}}, 3)

	if err := h.loop.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if got := strings.Join(h.notes.kinds(), ","); got != "BUY,TP" {
		t.Errorf("events = %s, want BUY,TP", got)
	}
	if h.loop.State() != position.Flat() {
		t.Errorf("final state = %v, want Flat", h.loop.State())
	}
	if h.clock.Slept() != 2*time.Minute {
		t.Errorf("slept %s, want 2m", h.clock.Slept())
	}
	if len(h.journal.events) != 2 {
		t.Errorf("journal has %d events, want 2", len(h.journal.events))
	}
	buy := h.journal.events[0]
	if buy.Price != 50 || buy.TraceID == "" || !buy.Time.Equal(t0.Add(250*time.Hour)) {
		t.Errorf("BUY event = %+v", buy)
	}
	if sum := h.ledger.Summary(); sum.Trades != 1 || math.Abs(sum.TotalReturn-3) > 1e-9 {
		t.Errorf("ledger summary = %+v", sum)
	}
	if got := h.counter(t, "signalbot_cycles_total"); got != 3 {
		t.Errorf("cycles metric = %v, want 3", got)
	}
	for i, req := range h.client.reqs {
		if req.Symbol != "APTUSDT" || req.Interval != "1h" || req.Limit != 250 {
			t.Errorf("request %d = %+v", i, req)
		}
	}
}

func TestLoop_LastRowIsLatestCandle(t *testing.T) {
	h := newHarness(t, prices(42), &fakeModel{}, 1)

	res, err := h.loop.Cycle(context.Background())
	if err != nil {
		t.Fatalf("Cycle: %v", err)
	}
	if res.Price != 42 || res.Rows != 250-features.MaxWindow+1 {
		t.Errorf("result = %+v", res)
	}
	if got := h.model.rows[0]["close"]; got != 42 {
		t.Errorf("model saw close %v, want 42", got)
	}
}

func TestLoop_HoldWhileFlatIsSilent(t *testing.T) {
	h := newHarness(t, prices(100), &fakeModel{}, 200)

	if err := h.loop.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if h.loop.Cycles() != 200 {
		t.Errorf("cycles = %d, want 200", h.loop.Cycles())
	}
	if len(h.notes.alerts) != 0 {
		t.Errorf("HOLD while Flat emitted %d alerts", len(h.notes.alerts))
	}
	if h.clock.Slept() != 199*time.Minute {
		t.Errorf("slept %s, want 199m", h.clock.Slept())
	}
}

func TestLoop_EmptyTableWarnsAndSkips(t *testing.T) {
	// Non-positive closes make log features undefined on every row.
	client := &fakeClient{responses: []func() ([]model.Candle, error){
		func() ([]model.Candle, error) {
			cs := window(250, 1)
			for i := range cs {
				cs[i].Close = -1
			}
			return cs, nil
		},
	}}
	m := &fakeModel{signals: []model.Signal{model.SignalBuy}}
	h := newHarness(t, client, m, 1)

	_, err := h.loop.Cycle(context.Background())
	if Classify(err) != KindData {
		t.Fatalf("err = %v, want data error", err)
	}
	if !errors.Is(err, features.ErrEmptyTable) {
		t.Errorf("err = %v, want ErrEmptyTable", err)
	}
	if m.calls != 0 {
		t.Error("model called on empty table")
	}
	if got := strings.Join(h.notes.kinds(), ","); got != "WARNING" {
		t.Errorf("events = %s, want WARNING", got)
	}
	if got := h.counter(t, "signalbot_cycles_total"); got != 1 {
		t.Errorf("cycles metric = %v", got)
	}
}

func TestLoop_InsufficientCandlesWarns(t *testing.T) {
	client := &fakeClient{responses: []func() ([]model.Candle, error){
		func() ([]model.Candle, error) { return window(150, 100), nil },
	}}
	h := newHarness(t, client, &fakeModel{}, 1)

	_, err := h.loop.Cycle(context.Background())
	var ce *CycleError
	if !errors.As(err, &ce) || ce.Kind != KindData || ce.Stage != "features" {
		t.Fatalf("err = %#v", err)
	}
	if !strings.Contains(h.notes.alerts[0].Message, "Skipping cycle") {
		t.Errorf("warning text = %q", h.notes.alerts[0].Message)
	}
}

func TestLoop_FetchErrorDoesNotStopLoop(t *testing.T) {
	client := &fakeClient{responses: []func() ([]model.Candle, error){
		func() ([]model.Candle, error) { return nil, errors.New("dial tcp: connection refused") },
		func() ([]model.Candle, error) { return window(250, 50), nil },
	}}
	h := newHarness(t, client, &fakeModel{signals: []model.Signal{model.SignalBuy}}, 2)

	if err := h.loop.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got := strings.Join(h.notes.kinds(), ","); got != "ERROR,BUY" {
		t.Errorf("events = %s, want ERROR,BUY", got)
	}
	if d := h.journal.events[0].Detail; !strings.Contains(d, "fetch: dial tcp") {
		t.Errorf("error detail = %q", d)
	}
	if h.loop.State() != position.Long(50) {
		t.Errorf("state = %v, want Long(50)", h.loop.State())
	}
}

func TestLoop_PanicInCycleIsIsolated(t *testing.T) {
	client := &fakeClient{responses: []func() ([]model.Candle, error){
		func() ([]model.Candle, error) {
			var rows []model.Candle
			i := 3
			return nil, fmt.Errorf("bad row %v", rows[i])
		},
		func() ([]model.Candle, error) { return window(250, 50), nil },
	}}
	h := newHarness(t, client, &fakeModel{signals: []model.Signal{model.SignalBuy}}, 2)

	if err := h.loop.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if h.loop.Cycles() != 2 {
		t.Fatalf("cycles = %d, want 2", h.loop.Cycles())
	}
	if got := strings.Join(h.notes.kinds(), ","); got != "ERROR,BUY" {
		t.Errorf("events = %s, want ERROR,BUY", got)
	}
	if d := h.journal.events[0].Detail; !strings.HasPrefix(d, "panic: runtime error: index out of range") {
		t.Errorf("error detail = %q", d)
	}
	if got := h.counter(t, "signalbot_cycles_total"); got != 2 {
		t.Errorf("cycles_total = %v, want 2", got)
	}
}

func TestLoop_CyclePanicClassifiedRuntime(t *testing.T) {
	client := &fakeClient{responses: []func() ([]model.Candle, error){
		func() ([]model.Candle, error) { panic("malformed kline row") },
	}}
	h := newHarness(t, client, &fakeModel{}, 1)

	_, err := h.loop.Cycle(context.Background())
	var ce *CycleError
	if !errors.As(err, &ce) {
		t.Fatalf("err = %v, want *CycleError", err)
	}
	if ce.Kind != KindRuntime || ce.Stage != "panic" || ce.Err.Error() != "malformed kline row" {
		t.Errorf("CycleError = %+v", ce)
	}
}

func TestLoop_MissingFeaturesCounted(t *testing.T) {
	h := newHarness(t, prices(100), &fakeModel{missing: []string{"sma_5", "wma_20"}}, 1)

	res, err := h.loop.Cycle(context.Background())
	if err != nil {
		t.Fatalf("Cycle: %v", err)
	}
	if len(res.Missing) != 2 {
		t.Errorf("Missing = %v", res.Missing)
	}
	if got := h.counter(t, "signalbot_missing_features_total"); got != 2 {
		t.Errorf("missing metric = %v, want 2", got)
	}
}

func TestLoop_CancelStopsRun(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	client := &fakeClient{responses: []func() ([]model.Candle, error){
		func() ([]model.Candle, error) {
			cancel()
			return nil, context.Canceled
		},
	}}
	h := newHarness(t, client, &fakeModel{}, 0)

	if err := h.loop.Run(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("Run = %v, want context.Canceled", err)
	}
	if len(h.notes.alerts) != 0 {
		t.Errorf("cancellation reported as %v", h.notes.kinds())
	}
}

func TestLoop_NotifyStartup(t *testing.T) {
	h := newHarness(t, prices(100), &fakeModel{}, 1)
	h.loop.NotifyStartup(context.Background())
	if got := strings.Join(h.notes.kinds(), ","); got != "STARTUP" {
		t.Fatalf("events = %s", got)
	}
	if !strings.Contains(h.notes.alerts[0].Message, "bot started") {
		t.Errorf("message = %q", h.notes.alerts[0].Message)
	}
}

func TestReportFatal(t *testing.T) {
	notes := &recordingNotifier{}
	cause := fmt.Errorf("%w: scaler: open models/scaler.json: no such file", inference.ErrModelUnavailable)

	err := ReportFatal(context.Background(), notes, "APTUSDT", t0, cause)
	if Classify(err) != KindFatal || !errors.Is(err, inference.ErrModelUnavailable) {
		t.Errorf("err = %v", err)
	}
	if got := strings.Join(notes.kinds(), ","); got != "FATAL" {
		t.Errorf("events = %s, want FATAL", got)
	}
}

func TestNew_Validates(t *testing.T) {
	machine, _ := position.NewMachine("APTUSDT", 0.02, 0.02)
	ok := Deps{Client: prices(1), Model: &fakeModel{}, Machine: machine}
	cfg := Config{Symbol: "APTUSDT", Interval: "1h", Limit: 1000, PollInterval: time.Minute}

	if _, err := New(cfg, ok); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}
	bad := cfg
	bad.Limit = 200
	if _, err := New(bad, ok); err == nil {
		t.Error("limit 200 accepted")
	}
	bad = cfg
	bad.PollInterval = 0
	if _, err := New(bad, ok); err == nil {
		t.Error("zero poll interval accepted")
	}
	if _, err := New(cfg, Deps{Model: &fakeModel{}, Machine: machine}); err == nil {
		t.Error("nil client accepted")
	}
}

func TestClassify(t *testing.T) {
	cases := []struct {
		err  error
		want Kind
	}{
		{fmt.Errorf("build: %w", features.ErrInsufficientCandles), KindData},
		{features.ErrEmptyTable, KindData},
		{fmt.Errorf("%w: open_time not increasing", model.ErrInvalidCandles), KindData},
		{ErrMissingPrice, KindData},
		{inference.ErrModelUnavailable, KindFatal},
		{position.ErrInvalidPrice, KindRuntime},
		{errors.New("binance: unexpected status 502"), KindRuntime},
		{&CycleError{Kind: KindData, Stage: "x", Err: errors.New("y")}, KindData},
	}
	for _, c := range cases {
		if got := Classify(c.err); got != c.want {
			t.Errorf("Classify(%v) = %s, want %s", c.err, got, c.want)
		}
	}
}
