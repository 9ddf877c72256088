package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/felixgeelhaar/beacon/internal/agent/notify"
	"github.com/felixgeelhaar/beacon/internal/shared/infrastructure/eventbus"
	"github.com/felixgeelhaar/beacon/internal/subagent/sdk"
	"github.com/felixgeelhaar/beacon/pkg/observability"
)

var (
	// ErrTooManySessions is returned when the session limit is reached.
	ErrTooManySessions = errors.New("session: too many sessions")
	// ErrDuplicateSession is returned when a session ID is already in use.
	ErrDuplicateSession = errors.New("session: duplicate session id")
	// ErrNoTrapReceivers is returned when no session accepted a notification.
	ErrNoTrapReceivers = errors.New("session: no session accepts notifications")
)

// DefaultMaxSessions limits concurrent sessions.
const DefaultMaxSessions = 256

// Registry holds the live sessions in connection order.
type Registry struct {
	mu       sync.RWMutex
	sessions []*CommSession
	nextID   uint32
	max      int
	logger   *slog.Logger
	metrics  observability.Metrics
}

// NewRegistry creates an empty registry.
func NewRegistry(maxSessions int, logger *slog.Logger) *Registry {
	if maxSessions <= 0 {
		maxSessions = DefaultMaxSessions
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		max:     maxSessions,
		logger:  logger.With("component", "sessions"),
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

// Open creates and registers a session with the next free ID.
func (r *Registry) Open(serverID uint64, address string, acceptTraps bool) (*CommSession, error) {
	r.mu.Lock()
	r.nextID++
	id := r.nextID
	r.mu.Unlock()

	s := NewCommSession(id, serverID, address, acceptTraps, DefaultBufferSize, r.logger)
	if err := r.Register(s); err != nil {
		return nil, err
	}
	return s, nil
}

// Register adds s to the registry.
func (r *Registry) Register(s *CommSession) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.sessions) >= r.max {
		return fmt.Errorf("%w (limit %d)", ErrTooManySessions, r.max)
	}
	for _, existing := range r.sessions {
		if existing.ID() == s.ID() {
			return fmt.Errorf("%w: %d", ErrDuplicateSession, s.ID())
		}
	}
	if s.ID() > r.nextID {
		r.nextID = s.ID()
	}
	r.sessions = append(r.sessions, s)
	r.metrics.Gauge(observability.MetricSessionsActive, float64(len(r.sessions)))
	r.logger.Info("session registered",
		"session_id", s.ID(),
		"server_id", s.ServerID(),
		"address", s.Address(),
	)
	return nil
}

// Unregister removes and closes the session with the given ID. It reports
// whether a session was removed.
func (r *Registry) Unregister(id uint32) bool {
	r.mu.Lock()
	idx := slices.IndexFunc(r.sessions, func(s *CommSession) bool { return s.ID() == id })
	if idx < 0 {
		r.mu.Unlock()
		return false
	}
	s := r.sessions[idx]
	r.sessions = slices.Delete(r.sessions, idx, idx+1)
	r.metrics.Gauge(observability.MetricSessionsActive, float64(len(r.sessions)))
	r.mu.Unlock()

	s.Close()
	r.logger.Info("session unregistered", "session_id", id)
	return true
}

// FindByServerID returns the first session connected to serverID, or an
// untyped nil.
func (r *Registry) FindByServerID(serverID uint64) sdk.Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, s := range r.sessions {
		if s.ServerID() == serverID {
			return s
		}
	}
	return nil
}

// FindByID returns the session with the given ID.
func (r *Registry) FindByID(id uint32) (*CommSession, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, s := range r.sessions {
		if s.ID() == id {
			return s, true
		}
	}
	return nil, false
}

// Enumerate calls visitor for every session until it returns
// EnumerationStop, and reports whether it did. Visitors run on a snapshot
// and may call back into the registry.
func (r *Registry) Enumerate(visitor sdk.SessionVisitor, userData any) bool {
	if visitor == nil {
		return false
	}
	for _, s := range r.snapshot() {
		if visitor(s, userData) == sdk.EnumerationStop {
			return true
		}
	}
	return false
}

// NotifyConnected sends a notify message carrying code to every session
// that accepts traps and returns how many sessions took it.
func (r *Registry) NotifyConnected(code string) int {
	msg := sdk.NewNotificationMessage(sdk.CmdNotify, 0)
	defer msg.Dispose()
	msg.SetString(sdk.FieldNotificationCode, code)
	return r.broadcast(msg)
}

// Count returns the number of live sessions.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// List returns a snapshot of every session.
func (r *Registry) List() []Info {
	sessions := r.snapshot()
	infos := make([]Info, 0, len(sessions))
	for _, s := range sessions {
		infos = append(infos, s.Info())
	}
	return infos
}

// CloseAll unregisters every session.
func (r *Registry) CloseAll() {
	for _, s := range r.snapshot() {
		r.Unregister(s.ID())
	}
}

// TrapHandler returns an event bus handler that delivers queued
// notifications to the sessions accepting them. It fails when nobody took
// the message so the outbox retries later.
func (r *Registry) TrapHandler() eventbus.Handler {
	return eventbus.HandlerFunc{
		Topics: []string{notify.RoutingPattern},
		Fn: func(ctx context.Context, d eventbus.Delivery) error {
			env, err := notify.DecodeEnvelope(d.Payload)
			if err != nil {
				return err
			}
			msg, err := env.Message()
			if err != nil {
				return err
			}
			defer msg.Dispose()

			if n := r.broadcast(msg); n == 0 {
				return ErrNoTrapReceivers
			}
			return nil
		},
	}
}

func (r *Registry) broadcast(msg *sdk.NotificationMessage) int {
	delivered := 0
	for _, s := range r.snapshot() {
		if !s.CanAcceptTraps() {
			continue
		}
		if err := s.SendMessage(msg); err != nil {
			r.logger.Warn("failed to send to session",
				"session_id", s.ID(),
				"code", msg.Code,
				"error", err,
			)
			continue
		}
		delivered++
	}
	return delivered
}

func (r *Registry) snapshot() []*CommSession {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.sessions)
}
