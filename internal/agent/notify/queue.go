// Package notify implements the notification-queue capability. Messages are
// serialised into the durable outbox, from where the outbox processor
// delivers them to the event bus with retries.
package notify

import (
	"context"
	"log/slog"
	"strconv"
	"sync/atomic"

	"github.com/felixgeelhaar/beacon/internal/shared/infrastructure/outbox"
	"github.com/felixgeelhaar/beacon/internal/subagent/sdk"
	"github.com/felixgeelhaar/beacon/pkg/observability"
)

// RoutingKeyPrefix starts every notification routing key.
const RoutingKeyPrefix = "agent.notification."

// RoutingPattern matches every notification routing key.
const RoutingPattern = RoutingKeyPrefix + "#"

// RoutingKey returns the routing key for a message code.
func RoutingKey(code uint16) string {
	return RoutingKeyPrefix + strconv.Itoa(int(code))
}

// EventType names the outbox event type for a message code.
func EventType(code uint16) string {
	switch code {
	case sdk.CmdTrap:
		return "trap"
	case sdk.CmdNotify:
		return "notify"
	default:
		return "notification"
	}
}

// Queue stores notification messages in the outbox.
type Queue struct {
	repo    outbox.Repository
	source  string
	logger  *slog.Logger
	metrics observability.Metrics

	queued  atomic.Uint64
	dropped atomic.Uint64
}

// NewQueue creates a queue writing to repo.
func NewQueue(repo outbox.Repository, logger *slog.Logger) *Queue {
	if logger == nil {
		logger = slog.Default()
	}
	return &Queue{
		repo:    repo,
		source:  "agent",
		logger:  logger.With("component", "notify"),
		metrics: observability.NoopMetrics{},
	}
}

// WithMetrics sets the metrics sink.
func (q *Queue) WithMetrics(m observability.Metrics) *Queue {
	if m != nil {
		q.metrics = m
	}
	return q
}

// Enqueue takes ownership of msg, stores it and disposes of it. Failures are
// logged and counted; the message is disposed of either way.
func (q *Queue) Enqueue(msg *sdk.NotificationMessage) {
	_ = q.EnqueueContext(context.Background(), msg)
}

// EnqueueContext is Enqueue with a context and an error result.
func (q *Queue) EnqueueContext(ctx context.Context, msg *sdk.NotificationMessage) error {
	if msg == nil {
		return nil
	}
	defer msg.Dispose()

	if err := q.store(ctx, msg); err != nil {
		q.dropped.Add(1)
		q.metrics.Counter(observability.MetricNotificationsDropped, 1)
		q.logger.Error("failed to queue notification",
			"code", msg.Code,
			observability.CorrelationIDKey, observability.CorrelationIDFromContext(ctx),
			"error", err,
		)
		return err
	}

	q.queued.Add(1)
	q.metrics.Counter(observability.MetricNotificationsQueued, 1, observability.T("type", EventType(msg.Code)))
	return nil
}

func (q *Queue) store(ctx context.Context, msg *sdk.NotificationMessage) error {
	env, err := NewEnvelope(msg)
	if err != nil {
		return err
	}
	payload, err := env.Encode()
	if err != nil {
		return err
	}

	source := q.source
	if sub := observability.SubagentFromContext(ctx); sub != "" {
		source = sub
	}
	om, err := outbox.NewMessage(source, EventType(msg.Code), RoutingKey(msg.Code), payload, outbox.Metadata{
		CorrelationID: observability.CorrelationIDFromContext(ctx),
	})
	if err != nil {
		return err
	}
	return q.repo.Save(ctx, om)
}

// Stats returns how many messages were queued and dropped.
func (q *Queue) Stats() (queued, dropped uint64) {
	return q.queued.Load(), q.dropped.Load()
}
