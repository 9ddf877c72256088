package eventbus_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/felixgeelhaar/beacon/internal/shared/infrastructure/eventbus"
)

func TestInProcessBus_Publish(t *testing.T) {
	ctx := context.Background()

	t.Run("delivers payload to matching handler", func(t *testing.T) {
		bus := eventbus.NewInProcessBus(nil)
		h := &recordingHandler{patterns: []string{"agent.notification.*"}}
		require.NoError(t, bus.Register(h))

		err := bus.Publish(ctx, "agent.notification.1003", []byte(`{"code":1003}`))
		require.NoError(t, err)

		require.Len(t, h.deliveries, 1)
		assert.Equal(t, "agent.notification.1003", h.deliveries[0].RoutingKey)
		assert.JSONEq(t, `{"code":1003}`, string(h.deliveries[0].Payload))
		assert.False(t, h.deliveries[0].Timestamp.IsZero())
	})

	t.Run("unsubscribed routing key is dropped", func(t *testing.T) {
		bus := eventbus.NewInProcessBus(nil)
		assert.NoError(t, bus.Publish(ctx, "agent.notification.1", []byte(`{}`)))
	})

	t.Run("handler error is returned for retry", func(t *testing.T) {
		bus := eventbus.NewInProcessBus(nil)
		boom := errors.New("no session accepts traps")
		require.NoError(t, bus.Register(eventbus.HandlerFunc{
			Topics: []string{"agent.#"},
			Fn: func(context.Context, eventbus.Delivery) error {
				return boom
			},
		}))

		err := bus.Publish(ctx, "agent.notification.1", []byte(`{}`))
		assert.ErrorIs(t, err, boom)
	})

	t.Run("close is a no-op", func(t *testing.T) {
		bus := eventbus.NewInProcessBus(nil)
		assert.NoError(t, bus.Close())
		assert.Equal(t, 0, bus.Registry().Len())
	})
}

func TestNoopPublisher(t *testing.T) {
	p := eventbus.NewNoopPublisher(nil)
	assert.NoError(t, p.Publish(context.Background(), "agent.notification.1", nil))
	assert.NoError(t, p.Close())
}
