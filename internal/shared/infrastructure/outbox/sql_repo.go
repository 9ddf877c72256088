package outbox

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/felixgeelhaar/beacon/internal/shared/infrastructure/database"
)

const messageColumns = `id, event_id, source, event_type, routing_key,
	payload, metadata, created_at, published_at, next_retry_at, retry_count,
	last_error, dead_lettered_at, dead_letter_reason`

// SQLRepository implements Repository on the agent's local database. It runs
// on both SQLite and PostgreSQL; timestamps are Unix milliseconds.
type SQLRepository struct {
	conn database.Connection
}

// NewSQLRepository creates a new outbox repository.
func NewSQLRepository(conn database.Connection) *SQLRepository {
	return &SQLRepository{conn: conn}
}

func (r *SQLRepository) exec(ctx context.Context) database.Executor {
	return database.ExecutorFromContext(ctx, r.conn)
}

func (r *SQLRepository) q(query string) string {
	return database.Rebind(r.conn.Driver(), query)
}

// Save stores a new outbox message.
func (r *SQLRepository) Save(ctx context.Context, msg *Message) error {
	if msg.EventID == uuid.Nil {
		msg.EventID = uuid.New()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}

	var metadata *string
	if len(msg.Metadata) > 0 {
		s := string(msg.Metadata)
		metadata = &s
	}

	err := r.exec(ctx).QueryRow(ctx, r.q(`
		INSERT INTO outbox (
			event_id, source, event_type, routing_key, payload, metadata, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?)
		RETURNING id`),
		msg.EventID.String(),
		msg.Source,
		msg.EventType,
		msg.RoutingKey,
		string(msg.Payload),
		metadata,
		msg.CreatedAt.UnixMilli(),
	).Scan(&msg.ID)
	if err != nil {
		return fmt.Errorf("insert outbox message: %w", err)
	}
	return nil
}

// GetUnpublished returns messages due for delivery, oldest first.
func (r *SQLRepository) GetUnpublished(ctx context.Context, limit int) ([]*Message, error) {
	rows, err := r.exec(ctx).Query(ctx, r.q(`
		SELECT `+messageColumns+`
		FROM outbox
		WHERE published_at IS NULL
		  AND dead_lettered_at IS NULL
		  AND (next_retry_at IS NULL OR next_retry_at <= ?)
		ORDER BY created_at, id
		LIMIT ?`), time.Now().UnixMilli(), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanMessages(rows)
}

// MarkPublished marks a message as successfully published.
func (r *SQLRepository) MarkPublished(ctx context.Context, id int64) error {
	_, err := r.exec(ctx).Exec(ctx,
		r.q(`UPDATE outbox SET published_at = ? WHERE id = ?`),
		time.Now().UnixMilli(), id)
	return err
}

// MarkFailed records a publish failure with error message.
func (r *SQLRepository) MarkFailed(ctx context.Context, id int64, errMsg string, nextRetryAt time.Time) error {
	_, err := r.exec(ctx).Exec(ctx, r.q(`
		UPDATE outbox
		SET retry_count = retry_count + 1,
			last_error = ?,
			next_retry_at = ?
		WHERE id = ?`), errMsg, nextRetryAt.UnixMilli(), id)
	return err
}

// MarkDead marks a message as dead-lettered.
func (r *SQLRepository) MarkDead(ctx context.Context, id int64, reason string) error {
	_, err := r.exec(ctx).Exec(ctx, r.q(`
		UPDATE outbox
		SET retry_count = retry_count + 1,
			last_error = ?,
			dead_lettered_at = ?,
			dead_letter_reason = ?
		WHERE id = ?`), reason, time.Now().UnixMilli(), reason, id)
	return err
}

// GetDead returns dead-lettered messages, newest first.
func (r *SQLRepository) GetDead(ctx context.Context, limit int) ([]*Message, error) {
	rows, err := r.exec(ctx).Query(ctx, r.q(`
		SELECT `+messageColumns+`
		FROM outbox
		WHERE dead_lettered_at IS NOT NULL
		ORDER BY id DESC
		LIMIT ?`), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanMessages(rows)
}

// DeleteOld removes published messages older than the retention period.
func (r *SQLRepository) DeleteOld(ctx context.Context, olderThan time.Duration) (int64, error) {
	result, err := r.exec(ctx).Exec(ctx, r.q(`
		DELETE FROM outbox
		WHERE published_at IS NOT NULL
		  AND published_at < ?`), time.Now().Add(-olderThan).UnixMilli())
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

// Counts returns message totals by state.
func (r *SQLRepository) Counts(ctx context.Context) (Counts, error) {
	var c Counts
	err := r.exec(ctx).QueryRow(ctx, `
		SELECT
			COALESCE(SUM(CASE WHEN published_at IS NULL AND dead_lettered_at IS NULL THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN published_at IS NOT NULL THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN published_at IS NULL AND dead_lettered_at IS NOT NULL THEN 1 ELSE 0 END), 0)
		FROM outbox`).Scan(&c.Pending, &c.Published, &c.Dead)
	return c, err
}

func scanMessages(rows database.Rows) ([]*Message, error) {
	var messages []*Message

	for rows.Next() {
		var (
			msg                                    Message
			eventID, payload                       string
			metadata, lastError, deadReason        *string
			createdAt                              int64
			publishedAt, nextRetryAt, deadLettered *int64
		)
		err := rows.Scan(
			&msg.ID,
			&eventID,
			&msg.Source,
			&msg.EventType,
			&msg.RoutingKey,
			&payload,
			&metadata,
			&createdAt,
			&publishedAt,
			&nextRetryAt,
			&msg.RetryCount,
			&lastError,
			&deadLettered,
			&deadReason,
		)
		if err != nil {
			return nil, err
		}

		id, err := uuid.Parse(eventID)
		if err != nil {
			return nil, fmt.Errorf("outbox message %d: bad event id: %w", msg.ID, err)
		}
		msg.EventID = id
		msg.Payload = []byte(payload)
		if metadata != nil {
			msg.Metadata = []byte(*metadata)
		}
		msg.CreatedAt = time.UnixMilli(createdAt).UTC()
		msg.PublishedAt = fromMillis(publishedAt)
		msg.NextRetryAt = fromMillis(nextRetryAt)
		msg.DeadLetteredAt = fromMillis(deadLettered)
		msg.LastError = lastError
		msg.DeadLetterReason = deadReason

		messages = append(messages, &msg)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}
	return messages, nil
}

func fromMillis(ms *int64) *time.Time {
	if ms == nil {
		return nil
	}
	t := time.UnixMilli(*ms).UTC()
	return &t
}

var (
	_ Repository = (*SQLRepository)(nil)
	_ Repository = (*MemoryRepository)(nil)
)
