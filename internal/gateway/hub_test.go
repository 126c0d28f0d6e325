package gateway

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"tradesignal/internal/model"
	"tradesignal/internal/notification"

	"github.com/gorilla/websocket"
)

func dial(t *testing.T, srv *httptest.Server, query string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws" + query
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	return conn
}

func waitClients(t *testing.T, h *Hub, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for h.ClientCount() != n {
		if time.Now().After(deadline) {
			t.Fatalf("ClientCount = %d, want %d", h.ClientCount(), n)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func readEnvelope(t *testing.T, conn *websocket.Conn) Envelope {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var env Envelope
	if err := json.Unmarshal(msg, &env); err != nil {
		t.Fatalf("unmarshal %s: %v", msg, err)
	}
	return env
}

func TestHub_BroadcastsAlerts(t *testing.T) {
	hub := NewHub(16)
	srv := httptest.NewServer(hub)
	defer srv.Close()
	defer hub.Close()

	conn := dial(t, srv, "")
	defer conn.Close()
	waitClients(t, hub, 1)

	ev := model.Event{Kind: model.EventTakeProfit, Symbol: "APTUSDT", Price: 51.5, EntryPrice: 50, ReturnPct: 3}
	if err := hub.Send(context.Background(), notification.FromEvent(ev)); err != nil {
		t.Fatalf("Send: %v", err)
	}

	env := readEnvelope(t, conn)
	if env.Type != "event" || env.Seq != 1 {
		t.Errorf("envelope = %+v", env)
	}
	if env.Alert == nil || env.Alert.Event == nil || env.Alert.Event.Kind != model.EventTakeProfit {
		t.Fatalf("alert = %+v", env.Alert)
	}
}

func TestHub_BackfillSince(t *testing.T) {
	hub := NewHub(16)
	srv := httptest.NewServer(hub)
	defer srv.Close()
	defer hub.Close()

	for i := 0; i < 3; i++ {
		hub.Send(context.Background(), notification.Alert{Title: "t"})
	}
	if hub.Seq() != 3 {
		t.Fatalf("Seq = %d, want 3", hub.Seq())
	}

	conn := dial(t, srv, "?since=1")
	defer conn.Close()

	if got := readEnvelope(t, conn).Seq; got != 2 {
		t.Errorf("first backfill seq = %d, want 2", got)
	}
	if got := readEnvelope(t, conn).Seq; got != 3 {
		t.Errorf("second backfill seq = %d, want 3", got)
	}
}

func TestHub_Pong(t *testing.T) {
	hub := NewHub(4)
	srv := httptest.NewServer(hub)
	defer srv.Close()
	defer hub.Close()

	conn := dial(t, srv, "")
	defer conn.Close()
	waitClients(t, hub, 1)

	if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"ping":123}`)); err != nil {
		t.Fatal(err)
	}
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(msg), `"type":"pong"`) || !strings.Contains(string(msg), `"ping":123`) {
		t.Errorf("pong = %s", msg)
	}
}

func TestHub_ConcurrentJoinSeesEachSeqOnce(t *testing.T) {
	hub := NewHub(256)
	srv := httptest.NewServer(hub)
	defer srv.Close()
	defer hub.Close()

	const total = 100
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < total; i++ {
			hub.Send(context.Background(), notification.Alert{Title: "t"})
			if i%10 == 0 {
				time.Sleep(time.Millisecond)
			}
		}
	}()

	// Joining mid-stream with since=0: every envelope arrives once, in order,
	// whether it came from the backfill or the live fan-out.
	conn := dial(t, srv, "?since=0")
	defer conn.Close()

	var last int64
	for last < total {
		seq := readEnvelope(t, conn).Seq
		if seq != last+1 {
			t.Fatalf("seq %d after %d, want %d", seq, last, last+1)
		}
		last = seq
	}
	<-done
}
