package eventbus

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// InProcessBus delivers published messages synchronously to registered
// handlers. It replaces RabbitMQ when the agent runs without a broker.
type InProcessBus struct {
	registry *HandlerRegistry
	logger   *slog.Logger
}

// NewInProcessBus creates a new in-process bus.
func NewInProcessBus(logger *slog.Logger) *InProcessBus {
	if logger == nil {
		logger = slog.Default()
	}
	return &InProcessBus{
		registry: NewHandlerRegistry(logger),
		logger:   logger,
	}
}

// Register adds a handler.
func (b *InProcessBus) Register(h Handler) error {
	b.registry.Register(h)
	return nil
}

// Publish dispatches the message to every matching handler. A message nobody
// subscribes to is dropped with a debug log. Handler errors are returned so
// the outbox retries delivery.
func (b *InProcessBus) Publish(ctx context.Context, routingKey string, payload []byte) error {
	start := time.Now()
	err := b.registry.Dispatch(ctx, Delivery{
		RoutingKey: routingKey,
		Timestamp:  start,
		Payload:    payload,
	})
	switch {
	case errors.Is(err, ErrNoHandler):
		b.logger.Debug("no in-process handler", "routing_key", routingKey)
		return nil
	case err != nil:
		return err
	}

	b.logger.Debug("message dispatched",
		"routing_key", routingKey,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return nil
}

// Close is a no-op for in-process bus.
func (b *InProcessBus) Close() error {
	return nil
}

// Registry returns the underlying handler registry.
func (b *InProcessBus) Registry() *HandlerRegistry {
	return b.registry
}
