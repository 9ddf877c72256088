package outbox

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrEmptyRoutingKey is returned when a message has no routing key.
	ErrEmptyRoutingKey = errors.New("outbox: routing key is required")
	// ErrInvalidPayload is returned when the payload is not valid JSON.
	ErrInvalidPayload = errors.New("outbox: payload must be valid JSON")
)

// Metadata travels next to the payload and is only used for logging.
type Metadata struct {
	CorrelationID string `json:"correlation_id,omitempty"`
	Source        string `json:"source,omitempty"`
}

// Message represents an outbox message ready for publishing.
type Message struct {
	ID               int64
	EventID          uuid.UUID
	Source           string
	EventType        string
	RoutingKey       string
	Payload          json.RawMessage
	Metadata         json.RawMessage
	CreatedAt        time.Time
	PublishedAt      *time.Time
	NextRetryAt      *time.Time
	RetryCount       int
	LastError        *string
	DeadLetteredAt   *time.Time
	DeadLetterReason *string
}

// NewMessage builds a message for routingKey carrying an already encoded
// JSON payload.
func NewMessage(source, eventType, routingKey string, payload []byte, meta Metadata) (*Message, error) {
	if routingKey == "" {
		return nil, ErrEmptyRoutingKey
	}
	if !json.Valid(payload) {
		return nil, ErrInvalidPayload
	}

	if meta.Source == "" {
		meta.Source = source
	}
	metadata, err := json.Marshal(meta)
	if err != nil {
		return nil, err
	}

	return &Message{
		EventID:    uuid.New(),
		Source:     source,
		EventType:  eventType,
		RoutingKey: routingKey,
		Payload:    payload,
		Metadata:   metadata,
		CreatedAt:  time.Now().UTC(),
	}, nil
}

// IsPublished returns true if the message has been published.
func (m *Message) IsPublished() bool {
	return m.PublishedAt != nil
}

// IsDead returns true if the message was dead-lettered.
func (m *Message) IsDead() bool {
	return m.DeadLetteredAt != nil
}

// CanRetry returns true if the message can be retried.
func (m *Message) CanRetry(maxRetries int) bool {
	return m.RetryCount < maxRetries
}

// DecodeMetadata returns the message metadata; malformed metadata yields zero.
func (m *Message) DecodeMetadata() Metadata {
	var meta Metadata
	if len(m.Metadata) > 0 {
		_ = json.Unmarshal(m.Metadata, &meta)
	}
	return meta
}
