// Package redis publishes decision events to Redis: a PUBLISH for live
// subscribers and an XADD to a capped stream for late readers.
package redis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"tradesignal/internal/model"

	goredis "github.com/go-redis/redis/v8"
)

// PublisherConfig configures the Redis publisher.
type PublisherConfig struct {
	Addr     string // Redis address, e.g. "localhost:6379"
	Password string
	DB       int

	Channel      string // pub/sub channel
	Stream       string // stream key
	StreamMaxLen int64  // approximate cap; 0 means 10000

	MaxBuffered int // events held while the breaker is open; 0 means 1000
}

// Publisher writes events through a circuit breaker. Events that fail to
// publish, or are rejected by an open breaker, are buffered (oldest dropped
// first) and replayed ahead of the next publish.
type Publisher struct {
	client *goredis.Client
	cfg    PublisherConfig
	cb     *CircuitBreaker

	mu     sync.Mutex
	buffer []model.Event

	// Callbacks (optional, for metrics)
	OnBuffer func()
	OnFlush  func(count int)
}

// Client returns the underlying Redis client for health checks.
func (p *Publisher) Client() *goredis.Client { return p.client }

// Breaker exposes the circuit breaker.
func (p *Publisher) Breaker() *CircuitBreaker { return p.cb }

// New connects to Redis and pings the server.
func New(cfg PublisherConfig) (*Publisher, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	slog.Info("[redis] connected", "addr", cfg.Addr)
	return NewWithClient(client, cfg, NewCircuitBreaker(5, 30*time.Second)), nil
}

// NewWithClient wraps an existing client without pinging it.
func NewWithClient(client *goredis.Client, cfg PublisherConfig, cb *CircuitBreaker) *Publisher {
	if cfg.StreamMaxLen <= 0 {
		cfg.StreamMaxLen = 10000
	}
	if cfg.MaxBuffered <= 0 {
		cfg.MaxBuffered = 1000
	}
	return &Publisher{client: client, cfg: cfg, cb: cb, buffer: make([]model.Event, 0, 16)}
}

// Publish sends ev, first replaying anything buffered earlier. When the
// write fails ev is buffered for the next attempt. The write error is still
// returned so callers can count it; a call rejected outright by the open
// breaker returns nil.
func (p *Publisher) Publish(ctx context.Context, ev model.Event) error {
	err := p.cb.Execute(func() error {
		if err := p.flush(ctx); err != nil {
			return err
		}
		return p.write(ctx, ev)
	})
	if err == nil {
		return nil
	}
	p.bufferEvent(ev)
	if errors.Is(err, ErrCircuitOpen) {
		return nil
	}
	return err
}

// write performs the pipelined PUBLISH + XADD for one event.
func (p *Publisher) write(ctx context.Context, ev model.Event) error {
	data := string(ev.JSON())

	pipe := p.client.Pipeline()
	pipe.Publish(ctx, p.cfg.Channel, data)
	pipe.XAdd(ctx, &goredis.XAddArgs{
		Stream: p.cfg.Stream,
		MaxLen: p.cfg.StreamMaxLen,
		Approx: true,
		Values: map[string]interface{}{
			"kind": string(ev.Kind),
			"data": data,
		},
	})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: publish %s: %w", ev.Kind, err)
	}
	return nil
}

func (p *Publisher) bufferEvent(ev model.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.buffer) == 0 {
		slog.Warn("[redis] publish failing, buffering events",
			"breaker", p.cb.CurrentState().String(), "retry_at", p.cb.RetryAt())
	}
	if len(p.buffer) >= p.cfg.MaxBuffered {
		p.buffer = p.buffer[1:] // drop oldest
	}
	p.buffer = append(p.buffer, ev)

	if p.OnBuffer != nil {
		p.OnBuffer()
	}
}

// flush replays buffered events in order. On failure the unsent tail is
// kept for the next attempt.
func (p *Publisher) flush(ctx context.Context) error {
	p.mu.Lock()
	pending := p.buffer
	p.buffer = make([]model.Event, 0, 16)
	p.mu.Unlock()

	if len(pending) == 0 {
		return nil
	}
	for i, ev := range pending {
		if err := p.write(ctx, ev); err != nil {
			p.mu.Lock()
			p.buffer = append(pending[i:], p.buffer...)
			if over := len(p.buffer) - p.cfg.MaxBuffered; over > 0 {
				p.buffer = p.buffer[over:]
			}
			p.mu.Unlock()
			return err
		}
	}

	slog.Info("[redis] flushed buffered events", "count", len(pending))
	if p.OnFlush != nil {
		p.OnFlush(len(pending))
	}
	return nil
}

// PendingCount returns the number of buffered events.
func (p *Publisher) PendingCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.buffer)
}

// Close closes the client.
func (p *Publisher) Close() error {
	return p.client.Close()
}
