package eventbus

import (
	"context"
	"time"
)

// Delivery is a message handed to a Handler.
type Delivery struct {
	RoutingKey string
	MessageID  string
	Timestamp  time.Time
	Payload    []byte
}

// Handler consumes deliveries whose routing key matches one of its patterns.
// Patterns use AMQP topic syntax: "*" matches one dot-separated word, "#"
// matches zero or more words.
type Handler interface {
	Patterns() []string
	Handle(ctx context.Context, d Delivery) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc struct {
	Topics []string
	Fn     func(ctx context.Context, d Delivery) error
}

// Patterns returns the configured topics.
func (h HandlerFunc) Patterns() []string { return h.Topics }

// Handle calls Fn.
func (h HandlerFunc) Handle(ctx context.Context, d Delivery) error { return h.Fn(ctx, d) }

// Consumer defines the interface for consuming messages from a broker.
type Consumer interface {
	// Start begins consuming messages. This is a blocking call.
	Start(ctx context.Context) error

	// Register adds a handler.
	Register(h Handler) error

	// Close closes the consumer connection.
	Close() error
}
