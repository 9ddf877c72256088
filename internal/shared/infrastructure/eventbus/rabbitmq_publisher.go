package eventbus

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// DefaultExchange is the topic exchange agent notifications are published to.
const DefaultExchange = "beacon.notifications"

// ErrPublisherClosed is returned after Close.
var ErrPublisherClosed = errors.New("publisher closed")

// RabbitMQConfig configures the RabbitMQ publisher and consumer.
type RabbitMQConfig struct {
	URL      string
	Exchange string
	// AppID is stamped on every published message, typically the agent host name.
	AppID  string
	Logger *slog.Logger
}

func (c *RabbitMQConfig) defaults() {
	if c.Exchange == "" {
		c.Exchange = DefaultExchange
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// RabbitMQPublisher publishes messages to a RabbitMQ topic exchange. A
// channel closed by the broker is reopened on the next Publish.
type RabbitMQPublisher struct {
	conn     *amqp.Connection
	channel  *amqp.Channel
	exchange string
	appID    string
	logger   *slog.Logger
	mu       sync.Mutex
	closed   bool
}

// NewRabbitMQPublisher connects and declares the exchange.
func NewRabbitMQPublisher(cfg RabbitMQConfig) (*RabbitMQPublisher, error) {
	cfg.defaults()

	conn, err := amqp.DialConfig(cfg.URL, amqp.Config{
		Heartbeat: 10 * time.Second,
		Properties: amqp.Table{
			"connection_name": "beacon-agent",
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	p := &RabbitMQPublisher{
		conn:     conn,
		exchange: cfg.Exchange,
		appID:    cfg.AppID,
		logger:   cfg.Logger,
	}
	if err := p.openChannel(); err != nil {
		_ = conn.Close() // Best-effort cleanup
		return nil, err
	}

	p.logger.Info("RabbitMQ publisher connected",
		"exchange", p.exchange,
	)
	return p, nil
}

// openChannel must be called with mu held (or before p is shared).
func (p *RabbitMQPublisher) openChannel() error {
	ch, err := p.conn.Channel()
	if err != nil {
		return fmt.Errorf("failed to open channel: %w", err)
	}
	if err := declareExchange(ch, p.exchange); err != nil {
		_ = ch.Close()
		return err
	}
	p.channel = ch
	return nil
}

func declareExchange(ch *amqp.Channel, name string) error {
	err := ch.ExchangeDeclare(
		name,    // name
		"topic", // type
		true,    // durable
		false,   // auto-deleted
		false,   // internal
		false,   // no-wait
		nil,     // arguments
	)
	if err != nil {
		return fmt.Errorf("failed to declare exchange: %w", err)
	}
	return nil
}

// Publish sends a message to the exchange with the given routing key.
func (p *RabbitMQPublisher) Publish(ctx context.Context, routingKey string, payload []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return ErrPublisherClosed
	}
	if p.channel == nil || p.channel.IsClosed() {
		if p.conn.IsClosed() {
			return fmt.Errorf("rabbitmq connection lost")
		}
		if err := p.openChannel(); err != nil {
			return err
		}
		p.logger.Info("RabbitMQ channel reopened")
	}

	err := p.channel.PublishWithContext(ctx,
		p.exchange, // exchange
		routingKey, // routing key
		false,      // mandatory
		false,      // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Timestamp:    time.Now(),
			AppId:        p.appID,
			Body:         payload,
		},
	)
	if err != nil {
		p.logger.Error("failed to publish message",
			"routing_key", routingKey,
			"error", err,
		)
		return err
	}

	p.logger.Debug("message published",
		"routing_key", routingKey,
		"size", len(payload),
	)
	return nil
}

// Check reports whether the broker connection is alive.
func (p *RabbitMQPublisher) Check(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrPublisherClosed
	}
	if p.conn.IsClosed() {
		return errors.New("connection closed")
	}
	return ctx.Err()
}

// Close closes the publisher connection.
func (p *RabbitMQPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil
	}
	p.closed = true

	if p.channel != nil {
		if err := p.channel.Close(); err != nil {
			p.logger.Warn("error closing channel", "error", err)
		}
	}
	if err := p.conn.Close(); err != nil {
		return err
	}

	p.logger.Info("RabbitMQ publisher closed")
	return nil
}
