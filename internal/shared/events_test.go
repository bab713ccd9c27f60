package shared

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func TestRedisEventBusPublishesJSON(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	bus := NewRedisEventBus(client, "")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	events, err := bus.Subscribe(ctx)
	require.NoError(t, err)

	err = bus.Publish(ctx, DomainEvent{
		Type:        "journal_entry.posted",
		TenantID:    "t1",
		AggregateID: "je-1",
		Payload:     map[string]any{"total_minor_units": 1000},
	})
	require.NoError(t, err)

	select {
	case got := <-events:
		require.Equal(t, "journal_entry.posted", got.Type)
		require.Equal(t, "je-1", got.AggregateID)
		require.False(t, got.OccurredAt.IsZero())
		require.EqualValues(t, 1000, got.Payload["total_minor_units"])
	case <-ctx.Done():
		t.Fatal("timed out waiting for event")
	}
}

func TestRedisEventBusRequiresType(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	err := NewRedisEventBus(client, "custom").Publish(context.Background(), DomainEvent{TenantID: "t1"})
	require.Error(t, err)
}
