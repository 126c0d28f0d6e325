// Package notification delivers operator alerts for decision events
// (Telegram, webhooks, Redis, the websocket hub, or the log).
package notification

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"tradesignal/internal/model"
)

// AlertLevel represents the severity of an alert.
type AlertLevel string

const (
	AlertInfo     AlertLevel = "INFO"
	AlertWarning  AlertLevel = "WARNING"
	AlertCritical AlertLevel = "CRITICAL"
)

// Alert represents a notification to be sent. Event is set when the alert
// was produced by the decision loop.
type Alert struct {
	Level   AlertLevel   `json:"level"`
	Title   string       `json:"title"`
	Message string       `json:"message"`
	Event   *model.Event `json:"event,omitempty"`
}

// FromEvent builds the alert for a loop event. Message is the event's
// human-readable line.
func FromEvent(ev model.Event) Alert {
	level := AlertInfo
	switch ev.Kind {
	case model.EventWarning:
		level = AlertWarning
	case model.EventError, model.EventFatal, model.EventStopLoss:
		level = AlertCritical
	}
	title := fmt.Sprintf("%s %s", ev.Kind, ev.Symbol)
	return Alert{Level: level, Title: title, Message: ev.Text(), Event: &ev}
}

// Notifier is the interface for all notification backends.
type Notifier interface {
	// Send delivers an alert. Returns error if delivery fails.
	Send(ctx context.Context, alert Alert) error
}

// LogNotifier writes alerts to the structured log.
type LogNotifier struct{}

// NewLogNotifier creates a log-based notifier.
func NewLogNotifier() *LogNotifier {
	return &LogNotifier{}
}

func (n *LogNotifier) Send(ctx context.Context, alert Alert) error {
	slog.InfoContext(ctx, "[notify] "+alert.Message, "level", alert.Level, "title", alert.Title)
	return nil
}

// Named pairs a backend with the label used in logs and metrics.
type Named struct {
	Name     string
	Notifier Notifier
}

// Multi fans an alert out to every backend. A failing backend does not stop
// delivery to the others.
type Multi struct {
	backends []Named

	// OnError is called once per failed backend (optional, for metrics).
	OnError func(backend string, err error)
}

// NewMulti creates a fan-out notifier.
func NewMulti(backends ...Named) *Multi {
	return &Multi{backends: backends}
}

// Add appends a backend.
func (m *Multi) Add(name string, n Notifier) {
	m.backends = append(m.backends, Named{Name: name, Notifier: n})
}

// Len returns the number of backends.
func (m *Multi) Len() int { return len(m.backends) }

func (m *Multi) Send(ctx context.Context, alert Alert) error {
	var errs []error
	for _, b := range m.backends {
		if err := b.Notifier.Send(ctx, alert); err != nil {
			if m.OnError != nil {
				m.OnError(b.Name, err)
			}
			errs = append(errs, fmt.Errorf("%s: %w", b.Name, err))
		}
	}
	return errors.Join(errs...)
}
