// Package registry keeps the builtin subagents and drives their lifecycle:
// every registered subagent receives the core's bridge at initialization
// and is shut down in reverse order when the agent stops.
package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/felixgeelhaar/beacon/internal/subagent/sdk"
	"github.com/felixgeelhaar/beacon/pkg/observability"
)

// Status represents the current state of a subagent.
type Status string

const (
	// StatusRegistered means the subagent is known but not initialized.
	StatusRegistered Status = "registered"

	// StatusReady means Initialize succeeded.
	StatusReady Status = "ready"

	// StatusFailed means Initialize returned an error or panicked.
	StatusFailed Status = "failed"

	// StatusShutdown means the subagent has been shut down.
	StatusShutdown Status = "shutdown"
)

// Entry holds a registered subagent and its state.
type Entry struct {
	Subagent sdk.Subagent
	Metadata sdk.Metadata
	Status   Status

	// Error contains the error from the last lifecycle operation.
	Error error

	// Missing lists declared capabilities the bridge did not provide.
	Missing []sdk.Capability
}

// Registry manages subagent registration and lifecycle.
type Registry struct {
	mu      sync.RWMutex
	entries []*Entry
	byID    map[string]*Entry
	logger  *slog.Logger
	metrics observability.Metrics
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		byID:    make(map[string]*Entry),
		logger:  logger.With("component", "subagents"),
		metrics: observability.NoopMetrics{},
	}
}

// WithMetrics sets the metrics sink.
func (r *Registry) WithMetrics(m observability.Metrics) *Registry {
	if m != nil {
		r.metrics = m
	}
	return r
}

// Register adds a subagent. Subagents initialize in registration order.
func (r *Registry) Register(s sdk.Subagent) error {
	md := s.Metadata()
	if err := md.Validate(); err != nil {
		return sdk.NewSubagentError(md.ID, "register", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byID[md.ID]; exists {
		return sdk.NewSubagentError(md.ID, "register", sdk.ErrSubagentAlreadyRegistered)
	}

	entry := &Entry{Subagent: s, Metadata: md, Status: StatusRegistered}
	r.entries = append(r.entries, entry)
	r.byID[md.ID] = entry

	r.logger.Info("registered subagent",
		"subagent_id", md.ID,
		"version", md.Version,
	)
	return nil
}

// InitializeAll hands bridge to every subagent not yet initialized. A
// failing subagent is marked failed and reported through the bridge's log;
// the rest still initialize. It returns the number of ready subagents.
func (r *Registry) InitializeAll(bridge *sdk.Bridge) (int, error) {
	if bridge == nil {
		return 0, sdk.ErrNilBridge
	}
	configured := bridge.Configured()

	ready := 0
	for _, entry := range r.snapshot() {
		r.mu.RLock()
		status := entry.Status
		r.mu.RUnlock()
		if status == StatusReady {
			ready++
			continue
		}
		if status != StatusRegistered {
			continue
		}

		id := entry.Metadata.ID
		missing := configured.Missing(entry.Metadata.Capabilities)
		if len(missing) > 0 {
			bridge.WriteLog(sdk.LogWarning, "subagent %s: capabilities not provided: %v", id, missing)
		}

		err := initialize(entry.Subagent, bridge)
		r.metrics.Counter(observability.MetricSubagentInitializations, 1, observability.T("subagent", id))

		r.mu.Lock()
		entry.Missing = missing
		if err != nil {
			entry.Status = StatusFailed
			entry.Error = err
		} else {
			entry.Status = StatusReady
			entry.Error = nil
		}
		r.mu.Unlock()

		if err != nil {
			r.metrics.Counter(observability.MetricSubagentFailures, 1, observability.T("subagent", id))
			bridge.WriteLog(sdk.LogError, "subagent %s failed to initialize: %v", id, err)
			continue
		}
		ready++
		bridge.WriteLog(sdk.LogInfo, "subagent %s initialized", entry.Metadata)
	}
	return ready, nil
}

func initialize(s sdk.Subagent, bridge *sdk.Bridge) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("panic during initialize: %v", p)
		}
	}()
	return s.Initialize(bridge)
}

// ShutdownAll shuts down ready subagents in reverse registration order and
// returns every shutdown error joined.
func (r *Registry) ShutdownAll(ctx context.Context) error {
	entries := r.snapshot()
	slices.Reverse(entries)

	var errs []error
	for _, entry := range entries {
		r.mu.RLock()
		status := entry.Status
		r.mu.RUnlock()
		if status != StatusReady {
			continue
		}

		err := entry.Subagent.Shutdown(ctx)
		r.mu.Lock()
		entry.Status = StatusShutdown
		entry.Error = err
		r.mu.Unlock()

		if err != nil {
			r.logger.Error("failed to shutdown subagent",
				"subagent_id", entry.Metadata.ID,
				"error", err,
			)
			errs = append(errs, sdk.NewSubagentError(entry.Metadata.ID, "shutdown", err))
		}
	}
	return errors.Join(errs...)
}

// Status returns the status of a subagent.
func (r *Registry) Status(id string) (Status, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entry, exists := r.byID[id]
	if !exists {
		return "", sdk.ErrSubagentNotFound
	}
	return entry.Status, nil
}

// List returns copies of every entry in registration order.
func (r *Registry) List() []Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Entry, len(r.entries))
	for i, e := range r.entries {
		out[i] = *e
		out[i].Missing = slices.Clone(e.Missing)
	}
	return out
}

func (r *Registry) snapshot() []*Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.entries)
}
