// Package datacoll implements the data push capability: subagents push
// parameter values and the core keeps the latest one per name.
package datacoll

import (
	"context"
	"log/slog"
	"time"

	"github.com/felixgeelhaar/beacon/internal/subagent/sdk"
	"github.com/felixgeelhaar/beacon/pkg/observability"
)

// DefaultStoreTimeout bounds a single store operation.
const DefaultStoreTimeout = 2 * time.Second

// Pusher validates pushed values and writes them to a ValueStore.
type Pusher struct {
	store   ValueStore
	timeout time.Duration
	logger  *slog.Logger
	metrics observability.Metrics
	now     func() time.Time
}

// NewPusher creates a pusher over store.
func NewPusher(store ValueStore, logger *slog.Logger) *Pusher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pusher{
		store:   store,
		timeout: DefaultStoreTimeout,
		logger:  logger.With("component", "datacoll"),
		metrics: observability.NoopMetrics{},
		now:     time.Now,
	}
}

// WithMetrics sets the metrics sink.
func (p *Pusher) WithMetrics(m observability.Metrics) *Pusher {
	if m != nil {
		p.metrics = m
	}
	return p
}

// Push stores value under name. An empty name is rejected and a zero ts
// means now. It reports whether the value was stored.
func (p *Pusher) Push(name, value string, dataType sdk.DataType, ts time.Time) bool {
	if name == "" {
		p.metrics.Counter(observability.MetricDataRejected, 1, observability.T("reason", "empty_name"))
		p.logger.Debug("rejected push without parameter name")
		return false
	}
	if ts.IsZero() {
		ts = p.now()
	}

	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
	defer cancel()

	v := Value{Name: name, Value: value, DataType: dataType, Timestamp: ts.UTC()}
	if err := p.store.Put(ctx, v); err != nil {
		p.metrics.Counter(observability.MetricDataRejected, 1, observability.T("reason", "store"))
		p.logger.Warn("failed to store pushed value", "parameter", name, "error", err)
		return false
	}

	p.metrics.Counter(observability.MetricDataPushed, 1, observability.T("type", dataType.String()))
	return true
}

// Latest returns the last value pushed under name.
func (p *Pusher) Latest(ctx context.Context, name string) (Value, error) {
	return p.store.Get(ctx, name)
}

// List returns the latest value of every parameter, ordered by name.
func (p *Pusher) List(ctx context.Context) ([]Value, error) {
	return p.store.List(ctx)
}
