package problems

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/felixgeelhaar/beacon/internal/subagent/sdk"
	"github.com/felixgeelhaar/beacon/pkg/observability"
)

const opTimeout = 5 * time.Second

// Registry is the problem registration capability.
type Registry struct {
	repo    Repository
	logger  *slog.Logger
	metrics observability.Metrics
	now     func() time.Time
}

// NewRegistry creates a registry over repo.
func NewRegistry(repo Repository, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		repo:    repo,
		logger:  logger.With("component", "problems"),
		metrics: observability.NoopMetrics{},
		now:     time.Now,
	}
}

// WithMetrics sets the metrics sink.
func (r *Registry) WithMetrics(m observability.Metrics) *Registry {
	if m != nil {
		r.metrics = m
	}
	return r
}

// Register raises a problem, replacing severity and message of an existing
// problem under the same key. Failures are logged.
func (r *Registry) Register(severity sdk.Severity, key, message string) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()
	if err := r.RegisterContext(ctx, severity, key, message); err != nil {
		r.logger.Warn("failed to register problem", "key", key, "error", err)
	}
}

// RegisterContext is Register with a caller context and error result.
func (r *Registry) RegisterContext(ctx context.Context, severity sdk.Severity, key, message string) error {
	if key == "" {
		return ErrEmptyKey
	}
	now := r.now().UTC()
	p := Problem{Key: key, Severity: severity, Message: message, FirstSeen: now, UpdatedAt: now}
	if err := r.repo.Upsert(ctx, p); err != nil {
		return err
	}
	r.logger.Info("problem registered", "key", key, "severity", severity.String(), "message", message)
	r.refreshGauge(ctx)
	return nil
}

// Unregister clears the problem under key. Unknown keys are ignored.
func (r *Registry) Unregister(key string) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()
	if _, err := r.UnregisterContext(ctx, key); err != nil {
		r.logger.Warn("failed to unregister problem", "key", key, "error", err)
	}
}

// UnregisterContext is Unregister reporting whether the problem existed.
func (r *Registry) UnregisterContext(ctx context.Context, key string) (bool, error) {
	removed, err := r.repo.Delete(ctx, key)
	if err != nil {
		return false, err
	}
	if removed {
		r.logger.Info("problem cleared", "key", key)
		r.refreshGauge(ctx)
	}
	return removed, nil
}

// List returns the active problems, most severe first.
func (r *Registry) List(ctx context.Context) ([]Problem, error) {
	return r.repo.List(ctx)
}

func (r *Registry) refreshGauge(ctx context.Context) {
	list, err := r.repo.List(ctx)
	if err != nil {
		return
	}
	r.metrics.Gauge(observability.MetricProblemsActive, float64(len(list)))
}

// HealthChecker reports healthy without problems, degraded while every
// problem is below major, and unhealthy otherwise.
func (r *Registry) HealthChecker() observability.HealthChecker {
	return func(ctx context.Context) observability.HealthCheckResult {
		list, err := r.repo.List(ctx)
		if err != nil {
			return observability.HealthCheckResult{
				Status:  observability.HealthStatusUnhealthy,
				Message: "problem registry unavailable: " + err.Error(),
			}
		}
		if len(list) == 0 {
			return observability.HealthCheckResult{
				Status:  observability.HealthStatusHealthy,
				Message: "no active problems",
			}
		}

		worst := list[0].Severity
		for _, p := range list[1:] {
			worst = max(worst, p.Severity)
		}
		status := observability.HealthStatusDegraded
		if worst >= sdk.SeverityMajor {
			status = observability.HealthStatusUnhealthy
		}

		keys := make([]string, len(list))
		for i, p := range list {
			keys[i] = p.Key
		}
		return observability.HealthCheckResult{
			Status:  status,
			Message: fmt.Sprintf("%d active problem(s), worst %s", len(list), worst),
			Details: map[string]any{"problems": keys},
		}
	}
}
