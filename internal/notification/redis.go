package notification

import (
	"context"

	"tradesignal/internal/model"
)

// EventPublisher is satisfied by the Redis event publisher.
type EventPublisher interface {
	Publish(ctx context.Context, ev model.Event) error
}

// RedisNotifier forwards loop events to an EventPublisher. Alerts without an
// event are ignored.
type RedisNotifier struct {
	pub EventPublisher
}

// NewRedisNotifier wraps pub.
func NewRedisNotifier(pub EventPublisher) *RedisNotifier {
	return &RedisNotifier{pub: pub}
}

func (r *RedisNotifier) Send(ctx context.Context, alert Alert) error {
	if alert.Event == nil {
		return nil
	}
	return r.pub.Publish(ctx, *alert.Event)
}
