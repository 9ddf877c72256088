package outbox

import (
	"context"
	"time"
)

// Counts summarises the outbox for health and CLI output.
type Counts struct {
	Pending   int64
	Published int64
	Dead      int64
}

// Repository defines the interface for outbox persistence.
type Repository interface {
	// Save stores a new outbox message and assigns its ID.
	Save(ctx context.Context, msg *Message) error

	// GetUnpublished returns messages due for delivery, oldest first.
	GetUnpublished(ctx context.Context, limit int) ([]*Message, error)

	// MarkPublished marks a message as successfully published.
	MarkPublished(ctx context.Context, id int64) error

	// MarkFailed records a publish failure and when to try again.
	MarkFailed(ctx context.Context, id int64, err string, nextRetryAt time.Time) error

	// MarkDead marks a message as dead-lettered.
	MarkDead(ctx context.Context, id int64, reason string) error

	// GetDead returns dead-lettered messages, newest first.
	GetDead(ctx context.Context, limit int) ([]*Message, error)

	// DeleteOld removes published messages older than the retention period.
	DeleteOld(ctx context.Context, olderThan time.Duration) (int64, error)

	// Counts returns message totals by state.
	Counts(ctx context.Context) (Counts, error)
}
