// Package api wires the HTTP surface: metrics, health, the websocket event
// stream and read-only JSON endpoints.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"tradesignal/internal/position"
	"tradesignal/internal/store/sqlite"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// EventSource reads journal rows, newest first.
type EventSource interface {
	RecentEvents(ctx context.Context, limit int) ([]sqlite.EventRecord, error)
}

// SummarySource reports realized trade statistics.
type SummarySource interface {
	Summary() position.Summary
}

// Deps holds the handlers and sources the router exposes. Nil entries leave
// their routes unregistered.
type Deps struct {
	Gatherer prometheus.Gatherer
	Health   http.Handler
	Stream   http.Handler
	Events   EventSource
	Summary  SummarySource
}

const (
	defaultEventLimit = 50
	maxEventLimit     = 1000
)

// NewRouter sets up HTTP routes.
func NewRouter(d Deps) *http.ServeMux {
	mux := http.NewServeMux()

	if d.Gatherer != nil {
		mux.Handle("/metrics", promhttp.HandlerFor(d.Gatherer, promhttp.HandlerOpts{}))
	}
	if d.Health != nil {
		mux.Handle("/healthz", d.Health)
	}
	if d.Stream != nil {
		mux.Handle("/ws", d.Stream)
	}
	if d.Events != nil {
		mux.HandleFunc("/api/events", eventsHandler(d.Events))
	}
	if d.Summary != nil {
		mux.HandleFunc("/api/summary", func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusOK, d.Summary.Summary())
		})
	}
	return mux
}

// eventsHandler serves GET /api/events?limit=N.
func eventsHandler(src EventSource) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		limit := defaultEventLimit
		if v := r.URL.Query().Get("limit"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n <= 0 {
				http.Error(w, "limit must be a positive integer", http.StatusBadRequest)
				return
			}
			limit = min(n, maxEventLimit)
		}

		events, err := src.RecentEvents(r.Context(), limit)
		if err != nil {
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
			return
		}
		if events == nil {
			events = []sqlite.EventRecord{}
		}
		writeJSON(w, http.StatusOK, events)
	}
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}
