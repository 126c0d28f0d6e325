package metrics

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func TestNewMetrics_Register(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.CyclesTotal.WithLabelValues("ok").Inc()
	m.CyclesTotal.WithLabelValues("ok").Inc()
	m.TransitionsTotal.WithLabelValues("BUY").Inc()
	m.RedisFlushedEvents.Add(4)

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	found := map[string]float64{}
	for _, mf := range families {
		for _, metric := range mf.GetMetric() {
			found[mf.GetName()] += metric.GetCounter().GetValue()
		}
	}
	if got := found["signalbot_cycles_total"]; got != 2 {
		t.Errorf("cycles = %v, want 2", got)
	}
	if got := found["signalbot_transitions_total"]; got != 1 {
		t.Errorf("transitions = %v, want 1", got)
	}
	if got := found["signalbot_redis_flushed_events_total"]; got != 4 {
		t.Errorf("redis flushed = %v, want 4", got)
	}

	// A second instance on its own registry must not panic.
	NewMetrics(prometheus.NewRegistry())
}

func serveHealth(t *testing.T, h *HealthStatus) (int, map[string]interface{}) {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	var body map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal %s: %v", rec.Body.String(), err)
	}
	return rec.Code, body
}

func TestHealth_States(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	h := NewHealthStatus("APTUSDT")
	h.now = func() time.Time { return now }
	h.StaleAfter = 3 * time.Minute

	code, body := serveHealth(t, h)
	if code != http.StatusServiceUnavailable || body["status"] != "unhealthy" {
		t.Errorf("before model load: %d %v", code, body["status"])
	}

	h.SetModelLoaded(true)
	h.RecordCycle(now.Add(-time.Minute), "ok", "Long(50.0000)", "")
	code, body = serveHealth(t, h)
	if code != http.StatusOK || body["status"] != "healthy" {
		t.Errorf("after cycle: %d %v", code, body)
	}
	if body["position"] != "Long(50.0000)" || body["last_outcome"] != "ok" {
		t.Errorf("body = %v", body)
	}
	if _, ok := body["redis_connected"]; ok {
		t.Error("redis_connected reported while redis disabled")
	}

	now = now.Add(10 * time.Minute)
	code, body = serveHealth(t, h)
	if code != http.StatusServiceUnavailable || body["status"] != "degraded" {
		t.Errorf("stale: %d %v", code, body["status"])
	}
}
