package notification

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"tradesignal/internal/model"

	"github.com/shopspring/decimal"
)

// WebhookNotifier POSTs each alert as a flat JSON event record. Receivers get
// the decision fields directly instead of parsing the message text.
type WebhookNotifier struct {
	url    string
	client *http.Client
	now    func() time.Time
}

// NewWebhookNotifier creates a webhook notifier posting to url.
func NewWebhookNotifier(url string) *WebhookNotifier {
	return &WebhookNotifier{
		url:    url,
		client: &http.Client{Timeout: 10 * time.Second},
		now:    time.Now,
	}
}

// webhookPayload is the wire format. Prices are decimal strings so 50.9
// arrives as "50.9" and not a binary float approximation.
type webhookPayload struct {
	Level   AlertLevel      `json:"level"`
	Kind    model.EventKind `json:"kind,omitempty"`
	Symbol  string          `json:"symbol,omitempty"`
	Signal  string          `json:"signal,omitempty"`
	Text    string          `json:"text"`
	TraceID string          `json:"trace_id,omitempty"`

	Price      *decimal.Decimal `json:"price,omitempty"`
	EntryPrice *decimal.Decimal `json:"entry_price,omitempty"`
	ReturnPct  *decimal.Decimal `json:"return_pct,omitempty"` // exits only
	Detail     string           `json:"detail,omitempty"`

	EventTime *time.Time `json:"event_time,omitempty"`
	SentAt    time.Time  `json:"sent_at"`
}

func newWebhookPayload(alert Alert, sentAt time.Time) webhookPayload {
	p := webhookPayload{Level: alert.Level, Text: alert.Message, SentAt: sentAt}
	ev := alert.Event
	if ev == nil {
		return p
	}
	p.Kind = ev.Kind
	p.Symbol = ev.Symbol
	p.Signal = ev.Signal.String()
	p.TraceID = ev.TraceID
	p.Detail = ev.Detail
	if !ev.Time.IsZero() {
		t := ev.Time.UTC()
		p.EventTime = &t
	}
	if ev.Price > 0 {
		p.Price = decimalPtr(ev.Price)
	}
	if ev.EntryPrice > 0 {
		p.EntryPrice = decimalPtr(ev.EntryPrice)
	}
	switch ev.Kind {
	case model.EventSell, model.EventTakeProfit, model.EventStopLoss:
		r := decimal.NewFromFloat(ev.ReturnPct).Round(4)
		p.ReturnPct = &r
	}
	return p
}

func decimalPtr(v float64) *decimal.Decimal {
	d := decimal.NewFromFloat(v)
	return &d
}

func (w *WebhookNotifier) Send(ctx context.Context, alert Alert) error {
	body, err := json.Marshal(newWebhookPayload(alert, w.now().UTC()))
	if err != nil {
		return fmt.Errorf("webhook: marshal: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("webhook: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if alert.Event != nil {
		req.Header.Set("X-Signalbot-Kind", string(alert.Event.Kind))
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook: send: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return fmt.Errorf("webhook: status %d: %s", resp.StatusCode, bytes.TrimSpace(snippet))
	}

	slog.Debug("[webhook] sent alert", "title", alert.Title)
	return nil
}
