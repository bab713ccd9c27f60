package shared

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// EventsChannel is the Redis channel ledger events are published on.
const EventsChannel = "gl.events"

// DomainEvent describes something that happened in the ledger.
type DomainEvent struct {
	Type        string         `json:"type"`
	TenantID    string         `json:"tenant_id"`
	AggregateID string         `json:"aggregate_id"`
	OccurredAt  time.Time      `json:"occurred_at"`
	Payload     map[string]any `json:"payload,omitempty"`
}

// EventBus publishes domain events.
type EventBus interface {
	Publish(ctx context.Context, event DomainEvent) error
}

// RedisEventBus fans events out over Redis pub/sub.
type RedisEventBus struct {
	client  *redis.Client
	channel string
}

// NewRedisEventBus constructs the bus; an empty channel uses EventsChannel.
func NewRedisEventBus(client *redis.Client, channel string) *RedisEventBus {
	if channel == "" {
		channel = EventsChannel
	}
	return &RedisEventBus{client: client, channel: channel}
}

// Publish encodes the event as JSON and publishes it.
func (b *RedisEventBus) Publish(ctx context.Context, event DomainEvent) error {
	if b == nil || b.client == nil {
		return errors.New("event bus not initialised")
	}
	if event.Type == "" {
		return errors.New("event type required")
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now().UTC()
	}
	body, err := json.Marshal(event)
	if err != nil {
		return err
	}
	return b.client.Publish(ctx, b.channel, body).Err()
}

// Subscribe returns a channel of decoded events until ctx is cancelled.
// Undecodable messages are skipped.
func (b *RedisEventBus) Subscribe(ctx context.Context) (<-chan DomainEvent, error) {
	if b == nil || b.client == nil {
		return nil, errors.New("event bus not initialised")
	}
	sub := b.client.Subscribe(ctx, b.channel)
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, err
	}
	out := make(chan DomainEvent)
	go func() {
		defer close(out)
		defer sub.Close()
		messages := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-messages:
				if !ok {
					return
				}
				var event DomainEvent
				if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
					continue
				}
				select {
				case out <- event:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}
