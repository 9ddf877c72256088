package eventbus

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"
)

// RabbitMQConsumer consumes notifications from the agent exchange. With an
// empty QueueName it declares a server-named exclusive queue that disappears
// with the connection, which is what the CLI watch command wants.
type RabbitMQConsumer struct {
	conn      *amqp.Connection
	channel   *amqp.Channel
	queue     string
	exchange  string
	registry  *HandlerRegistry
	logger    *slog.Logger
	mu        sync.Mutex
	running   bool
	closeOnce sync.Once
	closeChan chan struct{}
}

// RabbitMQConsumerConfig configures the RabbitMQ consumer.
type RabbitMQConsumerConfig struct {
	RabbitMQConfig
	QueueName string
}

// NewRabbitMQConsumer connects, declares the exchange and the queue.
func NewRabbitMQConsumer(cfg RabbitMQConsumerConfig) (*RabbitMQConsumer, error) {
	cfg.defaults()

	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}

	if err := declareExchange(ch, cfg.Exchange); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, err
	}

	durable := cfg.QueueName != ""
	q, err := ch.QueueDeclare(
		cfg.QueueName,
		durable,  // durable
		!durable, // auto-delete
		!durable, // exclusive
		false,    // no-wait
		nil,
	)
	if err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("failed to declare queue: %w", err)
	}

	cfg.Logger.Info("RabbitMQ consumer connected",
		"queue", q.Name,
		"exchange", cfg.Exchange,
	)

	return &RabbitMQConsumer{
		conn:      conn,
		channel:   ch,
		queue:     q.Name,
		exchange:  cfg.Exchange,
		registry:  NewHandlerRegistry(cfg.Logger),
		logger:    cfg.Logger,
		closeChan: make(chan struct{}),
	}, nil
}

// Register adds a handler and binds its patterns to the queue.
func (c *RabbitMQConsumer) Register(h Handler) error {
	c.registry.Register(h)

	c.mu.Lock()
	defer c.mu.Unlock()
	for _, pattern := range h.Patterns() {
		if err := c.channel.QueueBind(c.queue, pattern, c.exchange, false, nil); err != nil {
			return fmt.Errorf("failed to bind queue to %q: %w", pattern, err)
		}
		c.logger.Debug("bound queue to routing key",
			"queue", c.queue,
			"routing_key", pattern,
		)
	}
	return nil
}

// Start consumes until ctx is cancelled or Close is called.
func (c *RabbitMQConsumer) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return fmt.Errorf("consumer already running")
	}
	c.running = true
	c.mu.Unlock()

	if err := c.channel.Qos(1, 0, false); err != nil {
		return fmt.Errorf("failed to set QoS: %w", err)
	}

	msgs, err := c.channel.Consume(
		c.queue,
		"",    // consumer tag (auto-generated)
		false, // auto-ack
		false, // exclusive
		false, // no-local
		false, // no-wait
		nil,
	)
	if err != nil {
		return fmt.Errorf("failed to start consuming: %w", err)
	}

	c.logger.Info("started consuming", "queue", c.queue)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case <-c.closeChan:
			return nil

		case msg, ok := <-msgs:
			if !ok {
				return fmt.Errorf("message channel closed unexpectedly")
			}
			c.deliver(ctx, msg)
		}
	}
}

func (c *RabbitMQConsumer) deliver(ctx context.Context, msg amqp.Delivery) {
	err := c.registry.Dispatch(ctx, Delivery{
		RoutingKey: msg.RoutingKey,
		MessageID:  msg.MessageId,
		Timestamp:  msg.Timestamp,
		Payload:    msg.Body,
	})

	switch {
	case err == nil, errors.Is(err, ErrNoHandler):
		if ackErr := msg.Ack(false); ackErr != nil {
			c.logger.Error("failed to ack message", "error", ackErr)
		}
	default:
		// Requeue once; a redelivered failure is discarded.
		if nackErr := msg.Nack(false, !msg.Redelivered); nackErr != nil {
			c.logger.Error("failed to nack message", "error", nackErr)
		}
	}
}

// Close closes the consumer connection.
func (c *RabbitMQConsumer) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.closeChan)

		c.mu.Lock()
		defer c.mu.Unlock()
		c.running = false

		if closeErr := c.channel.Close(); closeErr != nil {
			c.logger.Warn("error closing channel", "error", closeErr)
		}
		err = c.conn.Close()
		c.logger.Info("RabbitMQ consumer closed")
	})
	return err
}

var (
	_ Publisher = (*RabbitMQPublisher)(nil)
	_ Publisher = (*InProcessBus)(nil)
	_ Publisher = (*NoopPublisher)(nil)
	_ Consumer  = (*RabbitMQConsumer)(nil)
)
