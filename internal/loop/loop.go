// Package loop runs the decision cycle: fetch candles, build features, score
// the latest row, advance the position and report what happened.
//
// The position state is owned by the Loop and only touched from the
// goroutine calling Run or Cycle.
package loop

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"tradesignal/internal/features"
	"tradesignal/internal/inference"
	"tradesignal/internal/logger"
	"tradesignal/internal/marketdata"
	"tradesignal/internal/metrics"
	"tradesignal/internal/model"
	"tradesignal/internal/notification"
	"tradesignal/internal/position"
	"tradesignal/internal/trace"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// Predictor scores one feature row.
type Predictor interface {
	Predict(row features.Row) (inference.Prediction, error)
}

// Journal persists events.
type Journal interface {
	RecordEvent(ctx context.Context, ev model.Event) error
}

// Archive stores fetched candles.
type Archive interface {
	SaveCandles(ctx context.Context, symbol, interval string, candles []model.Candle) error
}

// Config holds the session parameters.
type Config struct {
	Symbol       string
	Interval     string
	Limit        int
	PollInterval time.Duration
	// MaxCycles stops Run after this many cycles; 0 runs until ctx is done.
	MaxCycles int
}

// Deps are the loop's collaborators. Client, Model and Machine are
// required; everything else is optional.
type Deps struct {
	Client  marketdata.Client
	Model   Predictor
	Machine *position.Machine
	Clock   Clock

	Notifier notification.Notifier
	Metrics  *metrics.Metrics
	Health   *metrics.HealthStatus
	Journal  Journal
	Archive  Archive
	Ledger   *position.Ledger
}

// CycleResult describes one completed or skipped cycle.
type CycleResult struct {
	TraceID string
	Time    time.Time
	Rows    int // feature rows built
	Signal  model.Signal
	Price   float64
	State   position.State // state after the cycle
	Event   *model.Event   // transition, if any
	Missing []string       // model features zero-filled
}

// Loop is the decision loop.
type Loop struct {
	cfg      Config
	deps     Deps
	engineer *features.Engineer

	state  position.State
	cycles int
}

// New validates cfg and deps and returns a loop starting Flat.
func New(cfg Config, deps Deps) (*Loop, error) {
	switch {
	case deps.Client == nil:
		return nil, errors.New("loop: nil market data client")
	case deps.Model == nil:
		return nil, errors.New("loop: nil model")
	case deps.Machine == nil:
		return nil, errors.New("loop: nil position machine")
	case cfg.PollInterval <= 0:
		return nil, fmt.Errorf("loop: poll interval must be > 0, got %s", cfg.PollInterval)
	case cfg.Limit <= features.MaxWindow:
		return nil, fmt.Errorf("loop: limit must exceed %d, got %d", features.MaxWindow, cfg.Limit)
	}
	if deps.Clock == nil {
		deps.Clock = RealClock{}
	}
	if deps.Notifier == nil {
		deps.Notifier = notification.NewLogNotifier()
	}
	return &Loop{cfg: cfg, deps: deps, engineer: features.NewEngineer(), state: position.Flat()}, nil
}

// State returns the current position.
func (l *Loop) State() position.State { return l.state }

// Cycles returns the number of cycles run so far.
func (l *Loop) Cycles() int { return l.cycles }

// Run executes cycles separated by the poll interval until ctx is cancelled
// or MaxCycles is reached. Cycle failures never stop it; they are reported
// and the loop waits the same interval before retrying.
func (l *Loop) Run(ctx context.Context) error {
	slog.Info("[loop] started",
		"symbol", l.cfg.Symbol,
		"interval", l.cfg.Interval,
		"limit", l.cfg.Limit,
		"poll", l.cfg.PollInterval,
	)
	for {
		l.Cycle(ctx)
		if err := ctx.Err(); err != nil {
			slog.Info("[loop] stopped", "cycles", l.cycles, "state", l.state.String())
			return err
		}
		if l.cfg.MaxCycles > 0 && l.cycles >= l.cfg.MaxCycles {
			slog.Info("[loop] max cycles reached", "cycles", l.cycles, "state", l.state.String())
			return nil
		}
		if err := l.deps.Clock.Sleep(ctx, l.cfg.PollInterval); err != nil {
			slog.Info("[loop] stopped", "cycles", l.cycles, "state", l.state.String())
			return err
		}
	}
}

// Cycle runs exactly one cycle and reports its outcome. The returned error is
// a *CycleError; it has already been reported as an event.
func (l *Loop) Cycle(ctx context.Context) (CycleResult, error) {
	start := l.deps.Clock.Now()
	traceID := logger.GenerateTraceID(l.cfg.Symbol, start)
	ctx = logger.WithTraceID(ctx, traceID)

	ctx, span := trace.StartSpan(ctx, "loop.cycle",
		attribute.String("symbol", l.cfg.Symbol),
		attribute.String("trace_id", traceID),
	)
	defer span.End()

	l.cycles++
	res, err := l.guardedCycle(ctx, start)
	res.TraceID = traceID
	res.Time = start
	res.State = l.state

	outcome := "ok"
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		outcome = l.reportFailure(ctx, start, err)
	} else {
		span.SetAttributes(
			attribute.String("signal", res.Signal.String()),
			attribute.Float64("price", res.Price),
		)
	}

	if m := l.deps.Metrics; m != nil {
		m.CyclesTotal.WithLabelValues(outcome).Inc()
		m.CycleDuration.Observe(l.deps.Clock.Now().Sub(start).Seconds())
		m.PositionOpen.Set(boolGauge(l.state.Open))
		m.EntryPrice.Set(l.state.EntryPrice)
	}
	if h := l.deps.Health; h != nil {
		msg := ""
		if err != nil {
			msg = err.Error()
		}
		h.RecordCycle(start, outcome, l.state.String(), msg)
	}
	return res, err
}

// guardedCycle runs cycle and turns a panic in any collaborator into a
// runtime failure, so one bad response cannot end the loop.
func (l *Loop) guardedCycle(ctx context.Context, now time.Time) (res CycleResult, err error) {
	defer func() {
		r := recover()
		if r == nil {
			return
		}
		cause, ok := r.(error)
		if !ok {
			cause = fmt.Errorf("%v", r)
		}
		slog.ErrorContext(ctx, "[loop] cycle panicked",
			append(logger.LogWithTrace(ctx), "panic", cause.Error(), "stack", string(debug.Stack()))...)
		err = &CycleError{Kind: KindRuntime, Stage: "panic", Err: cause}
	}()
	return l.cycle(ctx, now)
}

func (l *Loop) cycle(ctx context.Context, now time.Time) (CycleResult, error) {
	var res CycleResult

	candles, err := l.fetch(ctx)
	if err != nil {
		return res, stageErr("fetch", err)
	}
	l.archive(ctx, candles)

	_, span := trace.StartSpan(ctx, "loop.features", attribute.Int("candles", len(candles)))
	table, err := l.engineer.Build(candles)
	span.End()
	if err != nil {
		return res, stageErr("features", err)
	}
	res.Rows = table.Len()
	if m := l.deps.Metrics; m != nil {
		m.FeatureRows.Set(float64(res.Rows))
	}

	row, err := l.engineer.Latest(table)
	if err != nil {
		return res, stageErr("features", err)
	}
	price, ok := row["close"]
	if !ok {
		return res, stageErr("features", ErrMissingPrice)
	}
	res.Price = price

	pred, err := l.deps.Model.Predict(row)
	if err != nil {
		return res, stageErr("inference", err)
	}
	res.Signal = pred.Signal
	res.Missing = pred.Missing
	if len(pred.Missing) > 0 {
		slog.WarnContext(ctx, "[loop] model features missing from row, scored as 0",
			append(logger.LogWithTrace(ctx), "missing", pred.Missing)...)
		if m := l.deps.Metrics; m != nil {
			m.MissingFeatures.Add(float64(len(pred.Missing)))
		}
	}
	if m := l.deps.Metrics; m != nil {
		m.SignalsTotal.WithLabelValues(pred.Signal.String()).Inc()
		m.LastPrice.Set(price)
	}

	next, ev, err := l.deps.Machine.Advance(l.state, pred.Signal, price)
	if err != nil {
		return res, stageErr("position", err)
	}
	l.state = next

	slog.DebugContext(ctx, "[loop] cycle",
		append(logger.LogWithTrace(ctx),
			"rows", res.Rows,
			"price", price,
			"signal", pred.Signal.String(),
			"state", next.String(),
		)...)

	if ev != nil {
		ev.Time = now
		ev.TraceID = logger.TraceID(ctx)
		res.Event = ev
		l.emit(ctx, *ev)
	}
	return res, nil
}

func (l *Loop) fetch(ctx context.Context) ([]model.Candle, error) {
	ctx, span := trace.StartSpan(ctx, "loop.fetch")
	defer span.End()

	start := time.Now()
	candles, err := l.deps.Client.Klines(ctx, marketdata.KlineRequest{
		Symbol:   l.cfg.Symbol,
		Interval: l.cfg.Interval,
		Limit:    l.cfg.Limit,
	})
	if m := l.deps.Metrics; m != nil {
		m.FetchDuration.Observe(time.Since(start).Seconds())
	}
	return candles, err
}

// archive is best-effort: a failing archive never fails the cycle.
func (l *Loop) archive(ctx context.Context, candles []model.Candle) {
	if l.deps.Archive == nil {
		return
	}
	if err := l.deps.Archive.SaveCandles(ctx, l.cfg.Symbol, l.cfg.Interval, candles); err != nil {
		slog.WarnContext(ctx, "[loop] candle archive failed", append(logger.LogWithTrace(ctx), "error", err)...)
		return
	}
	if m := l.deps.Metrics; m != nil {
		m.CandlesArchived.Add(float64(len(candles)))
	}
}

// reportFailure emits the WARNING or ERROR event for a failed cycle and
// returns the metrics outcome label.
func (l *Loop) reportFailure(ctx context.Context, now time.Time, err error) string {
	if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
		// Shutdown, not a failure worth notifying.
		return "cancelled"
	}

	kind := model.EventError
	outcome := "error"
	if Classify(err) == KindData {
		kind = model.EventWarning
		outcome = "skipped"
	}

	attrs := append(logger.LogWithTrace(ctx), "error", err)
	if kind == model.EventWarning {
		slog.WarnContext(ctx, "[loop] cycle skipped", attrs...)
	} else {
		slog.ErrorContext(ctx, "[loop] cycle failed", attrs...)
	}

	l.emit(ctx, model.Event{
		Kind:   kind,
		Symbol: l.cfg.Symbol,
		Detail: detail(err),
		Time:   now,
		// Signal is meaningless here; HOLD reads as "no action".
		Signal:  model.SignalHold,
		TraceID: logger.TraceID(ctx),
	})
	return outcome
}

// emit journals, records and notifies ev. Every sink is best-effort.
func (l *Loop) emit(ctx context.Context, ev model.Event) {
	if ev.Kind.IsTransition() {
		slog.InfoContext(ctx, "[loop] "+ev.Text(), logger.LogWithTrace(ctx)...)
		if m := l.deps.Metrics; m != nil {
			m.TransitionsTotal.WithLabelValues(string(ev.Kind)).Inc()
		}
		if l.deps.Ledger != nil {
			l.deps.Ledger.Record(ev)
		}
	}
	if l.deps.Journal != nil {
		if err := l.deps.Journal.RecordEvent(ctx, ev); err != nil {
			slog.WarnContext(ctx, "[loop] journal write failed", append(logger.LogWithTrace(ctx), "error", err)...)
		}
	}
	if err := l.deps.Notifier.Send(ctx, notification.FromEvent(ev)); err != nil {
		slog.WarnContext(ctx, "[loop] notification failed", append(logger.LogWithTrace(ctx), "kind", ev.Kind, "error", err)...)
	}
}

// NotifyStartup sends the STARTUP event.
func (l *Loop) NotifyStartup(ctx context.Context) {
	l.emit(ctx, model.Event{
		Kind:   model.EventStartup,
		Symbol: l.cfg.Symbol,
		Signal: model.SignalHold,
		Detail: fmt.Sprintf("interval %s, polling every %s", l.cfg.Interval, l.cfg.PollInterval),
		Time:   l.deps.Clock.Now(),
	})
}

// ReportFatal notifies that startup failed and returns the error to exit with.
// It is used before a Loop exists, when the model cannot be loaded.
func ReportFatal(ctx context.Context, n notification.Notifier, symbol string, now time.Time, err error) error {
	ce := &CycleError{Kind: KindFatal, Stage: "startup", Err: err}
	slog.ErrorContext(ctx, "[loop] fatal startup error", "error", err)

	ev := model.Event{Kind: model.EventFatal, Symbol: symbol, Signal: model.SignalHold, Detail: err.Error(), Time: now}
	if n != nil {
		if sendErr := n.Send(ctx, notification.FromEvent(ev)); sendErr != nil {
			slog.WarnContext(ctx, "[loop] fatal notification failed", "error", sendErr)
		}
	}
	return ce
}

// detail unwraps the stage wrapper so event text reads like the cause.
func detail(err error) string {
	var ce *CycleError
	if errors.As(err, &ce) {
		return fmt.Sprintf("%s: %v", ce.Stage, ce.Err)
	}
	return err.Error()
}

func boolGauge(v bool) float64 {
	if v {
		return 1
	}
	return 0
}
