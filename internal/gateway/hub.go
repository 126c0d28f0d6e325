// Package gateway streams decision events to websocket clients.
//
// Every alert the loop emits is wrapped in an envelope carrying a
// monotonically increasing seq. Clients that reconnect with ?since=<seq>
// are backfilled from a replay buffer before live delivery resumes.
package gateway

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"tradesignal/internal/notification"

	"github.com/gorilla/websocket"
)

// Envelope is the JSON frame sent to clients.
type Envelope struct {
	Type  string              `json:"type"`
	Seq   int64               `json:"seq"`
	TS    time.Time           `json:"ts"`
	Alert *notification.Alert `json:"alert,omitempty"`
}

// Hub manages websocket clients and fans alerts out to them.
type Hub struct {
	mu      sync.RWMutex
	clients map[*Client]bool
	seq     int64
	replay  *ReplayBuffer
	now     func() time.Time

	upgrader websocket.Upgrader
}

// NewHub creates a hub keeping the last replayCap envelopes for backfill.
func NewHub(replayCap int) *Hub {
	return &Hub{
		clients: make(map[*Client]bool),
		replay:  NewReplayBuffer(replayCap),
		now:     time.Now,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

// Send broadcasts alert to every connected client. It never blocks on a slow
// client; a full send queue drops the frame for that client only.
//
// Sequencing, the replay push and the fan-out share one critical section so
// a client registering concurrently sees each envelope exactly once, either
// from its backfill or live.
func (h *Hub) Send(ctx context.Context, alert notification.Alert) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	env := Envelope{Type: "event", Seq: h.seq + 1, TS: h.now().UTC(), Alert: &alert}
	data, err := json.Marshal(env)
	if err != nil {
		return err
	}
	h.seq = env.Seq
	h.replay.Push(env.Seq, data)

	for client := range h.clients {
		select {
		case client.send <- data:
		default:
			slog.Warn("[gateway] client queue full, dropping frame", "seq", env.Seq)
		}
	}
	return nil
}

// ServeHTTP upgrades the request and registers the client. The optional
// "since" query parameter requests a backfill of envelopes after that seq.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("[gateway] upgrade failed", "error", err)
		return
	}

	client := &Client{
		conn: conn,
		send: make(chan []byte, 256),
		hub:  h,
	}

	h.mu.Lock()
	if since := r.URL.Query().Get("since"); since != "" {
		if after, err := strconv.ParseInt(since, 10, 64); err == nil {
			for _, data := range h.replay.Since(after) {
				select {
				case client.send <- data:
				default:
				}
			}
		}
	}
	h.clients[client] = true
	count := len(h.clients)
	h.mu.Unlock()

	slog.Info("[gateway] ws client connected", "clients", count)

	go client.writePump()
	go client.readPump()
}

// RemoveClient removes a client from the hub.
func (h *Hub) RemoveClient(c *Client) {
	h.mu.Lock()
	if h.clients[c] {
		delete(h.clients, c)
		close(c.send)
	}
	h.mu.Unlock()
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Seq returns the last assigned sequence number.
func (h *Hub) Seq() int64 {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.seq
}

// Close disconnects every client.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		delete(h.clients, c)
		close(c.send)
	}
}
