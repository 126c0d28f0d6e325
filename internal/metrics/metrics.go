// Package metrics exposes Prometheus metrics and the /healthz status for the
// signal loop.
package metrics

import (
	"context"
	"database/sql"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	goredis "github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds all Prometheus metrics for the decision loop.
type Metrics struct {
	CyclesTotal   *prometheus.CounterVec // labels: outcome
	CycleDuration prometheus.Histogram
	FetchDuration prometheus.Histogram

	SignalsTotal     *prometheus.CounterVec // labels: signal
	TransitionsTotal *prometheus.CounterVec // labels: kind
	FeatureRows      prometheus.Gauge
	MissingFeatures  prometheus.Counter

	PositionOpen prometheus.Gauge // 0=flat, 1=long
	LastPrice    prometheus.Gauge
	EntryPrice   prometheus.Gauge

	NotifierFailures *prometheus.CounterVec // labels: backend
	CandlesArchived  prometheus.Counter

	// Redis publisher circuit breaker
	RedisCircuitBreakerState prometheus.Gauge // 0=closed, 1=open, 2=half-open
	RedisCircuitBreakerTrips prometheus.Counter
	RedisBufferedEvents      prometheus.Counter
	RedisFlushedEvents       prometheus.Counter
}

// NewMetrics creates the metrics and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		CyclesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "signalbot_cycles_total",
			Help: "Decision cycles by outcome (ok, skipped, error)",
		}, []string{"outcome"}),
		CycleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "signalbot_cycle_duration_seconds",
			Help:    "Wall time of one decision cycle excluding the sleep",
			Buckets: prometheus.DefBuckets,
		}),
		FetchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "signalbot_fetch_duration_seconds",
			Help:    "Market data fetch latency",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}),

		SignalsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "signalbot_signals_total",
			Help: "Classifier outputs by signal",
		}, []string{"signal"}),
		TransitionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "signalbot_transitions_total",
			Help: "Position transitions by kind (BUY, SELL, TP, SL)",
		}, []string{"kind"}),
		FeatureRows: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "signalbot_feature_rows",
			Help: "Rows in the last feature table",
		}),
		MissingFeatures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "signalbot_missing_features_total",
			Help: "Model features zero-filled because the row lacked them",
		}),

		PositionOpen: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "signalbot_position_open",
			Help: "Position state (0=flat, 1=long)",
		}),
		LastPrice: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "signalbot_last_price",
			Help: "Close of the last evaluated row",
		}),
		EntryPrice: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "signalbot_entry_price",
			Help: "Entry price of the open position (0 when flat)",
		}),

		NotifierFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "signalbot_notifier_failures_total",
			Help: "Failed alert deliveries by backend",
		}, []string{"backend"}),
		CandlesArchived: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "signalbot_candles_archived_total",
			Help: "Candles upserted into the SQLite archive",
		}),

		RedisCircuitBreakerState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "signalbot_redis_circuit_breaker_state",
			Help: "Redis circuit breaker state (0=closed, 1=open, 2=half-open)",
		}),
		RedisCircuitBreakerTrips: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "signalbot_redis_circuit_breaker_trips_total",
			Help: "Times the Redis circuit breaker tripped open",
		}),
		RedisBufferedEvents: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "signalbot_redis_buffered_events_total",
			Help: "Events buffered locally after a failed or rejected Redis publish",
		}),
		RedisFlushedEvents: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "signalbot_redis_flushed_events_total",
			Help: "Buffered events replayed to Redis after it recovered",
		}),
	}

	reg.MustRegister(
		m.CyclesTotal,
		m.CycleDuration,
		m.FetchDuration,
		m.SignalsTotal,
		m.TransitionsTotal,
		m.FeatureRows,
		m.MissingFeatures,
		m.PositionOpen,
		m.LastPrice,
		m.EntryPrice,
		m.NotifierFailures,
		m.CandlesArchived,
		m.RedisCircuitBreakerState,
		m.RedisCircuitBreakerTrips,
		m.RedisBufferedEvents,
		m.RedisFlushedEvents,
	)

	return m
}

// HealthStatus represents the loop's health as served on /healthz.
type HealthStatus struct {
	mu  sync.RWMutex
	now func() time.Time

	Symbol      string
	ModelLoaded bool
	Position    string
	LastCycleAt time.Time
	LastOutcome string
	LastError   string

	// StaleAfter marks the loop degraded when no cycle completed for this
	// long. Zero disables the check.
	StaleAfter time.Duration

	RedisEnabled    bool
	RedisConnected  bool
	RedisLatencyMs  float64
	SQLiteEnabled   bool
	SQLiteOK        bool
	SQLiteLatencyMs float64
	LastCheckAt     time.Time
	StartedAt       time.Time
}

// NewHealthStatus returns a default health status.
func NewHealthStatus(symbol string) *HealthStatus {
	return &HealthStatus{
		now:       time.Now,
		Symbol:    symbol,
		Position:  "Flat",
		StartedAt: time.Now(),
	}
}

func (h *HealthStatus) SetModelLoaded(v bool) {
	h.mu.Lock()
	h.ModelLoaded = v
	h.mu.Unlock()
}

// RecordCycle stores the outcome of the last cycle. errMsg is empty on success.
func (h *HealthStatus) RecordCycle(at time.Time, outcome, position, errMsg string) {
	h.mu.Lock()
	h.LastCycleAt = at
	h.LastOutcome = outcome
	h.Position = position
	h.LastError = errMsg
	h.mu.Unlock()
}

// CheckRedis pings Redis and records latency + connectivity.
func (h *HealthStatus) CheckRedis(ctx context.Context, rdb *goredis.Client) {
	start := time.Now()
	err := rdb.Ping(ctx).Err()
	latency := time.Since(start)

	h.mu.Lock()
	h.RedisEnabled = true
	h.RedisConnected = err == nil
	h.RedisLatencyMs = float64(latency.Microseconds()) / 1000.0
	h.LastCheckAt = h.now()
	h.mu.Unlock()
}

// CheckSQLite pings the database and records latency + health.
func (h *HealthStatus) CheckSQLite(ctx context.Context, db *sql.DB) {
	start := time.Now()
	err := db.PingContext(ctx)
	latency := time.Since(start)

	h.mu.Lock()
	h.SQLiteEnabled = true
	h.SQLiteOK = err == nil
	h.SQLiteLatencyMs = float64(latency.Microseconds()) / 1000.0
	h.LastCheckAt = h.now()
	h.mu.Unlock()
}

// StartLivenessChecker runs periodic dependency checks. Nil dependencies are skipped.
func (h *HealthStatus) StartLivenessChecker(ctx context.Context, rdb *goredis.Client, sqlDB *sql.DB, interval time.Duration) {
	check := func() {
		checkCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		defer cancel()
		if rdb != nil {
			h.CheckRedis(checkCtx, rdb)
		}
		if sqlDB != nil {
			h.CheckSQLite(checkCtx, sqlDB)
		}
	}
	check()

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				check()
			}
		}
	}()
}

// healthReport is the /healthz body.
type healthReport struct {
	Status          string  `json:"status"`
	Uptime          string  `json:"uptime"`
	Symbol          string  `json:"symbol"`
	ModelLoaded     bool    `json:"model_loaded"`
	Position        string  `json:"position"`
	LastCycleAt     string  `json:"last_cycle_at,omitempty"`
	LastCycleAge    string  `json:"last_cycle_age,omitempty"`
	LastOutcome     string  `json:"last_outcome,omitempty"`
	LastError       string  `json:"last_error,omitempty"`
	RedisConnected  *bool   `json:"redis_connected,omitempty"`
	RedisLatencyMs  float64 `json:"redis_latency_ms,omitempty"`
	SQLiteOK        *bool   `json:"sqlite_ok,omitempty"`
	SQLiteLatencyMs float64 `json:"sqlite_latency_ms,omitempty"`
}

// ServeHTTP handles the /healthz endpoint.
func (h *HealthStatus) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	now := h.now()
	status := "healthy"
	httpCode := http.StatusOK

	stale := h.StaleAfter > 0 && !h.LastCycleAt.IsZero() && now.Sub(h.LastCycleAt) > h.StaleAfter
	if stale || (h.RedisEnabled && !h.RedisConnected) || (h.SQLiteEnabled && !h.SQLiteOK) {
		status = "degraded"
		httpCode = http.StatusServiceUnavailable
	}
	if !h.ModelLoaded {
		status = "unhealthy"
		httpCode = http.StatusServiceUnavailable
	}

	rep := healthReport{
		Status:      status,
		Uptime:      now.Sub(h.StartedAt).Round(time.Second).String(),
		Symbol:      h.Symbol,
		ModelLoaded: h.ModelLoaded,
		Position:    h.Position,
		LastOutcome: h.LastOutcome,
		LastError:   h.LastError,
	}
	if !h.LastCycleAt.IsZero() {
		rep.LastCycleAt = h.LastCycleAt.Format(time.RFC3339)
		rep.LastCycleAge = now.Sub(h.LastCycleAt).Round(time.Second).String()
	}
	if h.RedisEnabled {
		ok := h.RedisConnected
		rep.RedisConnected = &ok
		rep.RedisLatencyMs = h.RedisLatencyMs
	}
	if h.SQLiteEnabled {
		ok := h.SQLiteOK
		rep.SQLiteOK = &ok
		rep.SQLiteLatencyMs = h.SQLiteLatencyMs
	}

	w.Header().Set("Content-Type", "application/json")
	if httpCode != http.StatusOK {
		w.WriteHeader(httpCode)
	}
	json.NewEncoder(w).Encode(rep)
}

// Server runs the HTTP server for metrics, health and the event endpoints.
type Server struct {
	addr string
	srv  *http.Server
}

// NewServer creates a server for handler.
func NewServer(addr string, handler http.Handler) *Server {
	return &Server{
		addr: addr,
		srv: &http.Server{
			Addr:              addr,
			Handler:           handler,
			ReadHeaderTimeout: 5 * time.Second,
		},
	}
}

// Start launches the HTTP server in a goroutine.
func (s *Server) Start() {
	go func() {
		slog.Info("[metrics] server listening", "addr", s.addr)
		if err := s.srv.ListenAndServe(); err != http.ErrServerClosed {
			slog.Error("[metrics] server error", "error", err)
		}
	}()
}

// Stop gracefully shuts down the server.
func (s *Server) Stop(ctx context.Context) {
	s.srv.Shutdown(ctx)
}
