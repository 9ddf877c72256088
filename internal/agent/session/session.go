// Package session keeps track of live server sessions and implements the
// session-finder and session-enumerator capabilities.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/felixgeelhaar/beacon/internal/subagent/sdk"
)

var (
	// ErrSessionClosed is returned when sending on a closed session.
	ErrSessionClosed = errors.New("session: closed")
	// ErrSessionBusy is returned when the outbound buffer is full.
	ErrSessionBusy = errors.New("session: outbound buffer full")
)

// DefaultBufferSize is the outbound buffer of a session.
const DefaultBufferSize = 64

// Outbound is a message queued on a session. It is a copy; the sender keeps
// ownership of the original notification message.
type Outbound struct {
	Code   uint16
	ID     uint32
	Fields map[sdk.FieldID]any
	SentAt time.Time
}

// CommSession is one connection to a management server.
type CommSession struct {
	id          uint32
	serverID    uint64
	address     string
	connectedAt time.Time
	acceptTraps atomic.Bool
	logger      *slog.Logger

	mu       sync.Mutex
	closed   bool
	outbound chan Outbound

	sent    atomic.Uint64
	dropped atomic.Uint64
}

// NewCommSession creates a session. A non-positive bufferSize selects
// DefaultBufferSize.
func NewCommSession(id uint32, serverID uint64, address string, acceptTraps bool, bufferSize int, logger *slog.Logger) *CommSession {
	if bufferSize <= 0 {
		bufferSize = DefaultBufferSize
	}
	if logger == nil {
		logger = slog.Default()
	}
	s := &CommSession{
		id:          id,
		serverID:    serverID,
		address:     address,
		connectedAt: time.Now().UTC(),
		logger:      logger.With("session_id", id, "server_id", serverID),
		outbound:    make(chan Outbound, bufferSize),
	}
	s.acceptTraps.Store(acceptTraps)
	return s
}

func (s *CommSession) ID() uint32       { return s.id }
func (s *CommSession) ServerID() uint64 { return s.serverID }
func (s *CommSession) Address() string  { return s.address }

// CanAcceptTraps reports whether the server subscribed to events.
func (s *CommSession) CanAcceptTraps() bool {
	return s.acceptTraps.Load()
}

// SetAcceptTraps changes the trap subscription.
func (s *CommSession) SetAcceptTraps(v bool) {
	s.acceptTraps.Store(v)
}

// SendMessage copies msg onto the outbound buffer without blocking.
func (s *CommSession) SendMessage(msg *sdk.NotificationMessage) error {
	if msg == nil {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrSessionClosed
	}
	out := Outbound{
		Code:   msg.Code,
		ID:     msg.ID,
		Fields: msg.Fields(),
		SentAt: time.Now().UTC(),
	}
	select {
	case s.outbound <- out:
		s.sent.Add(1)
		return nil
	default:
		s.dropped.Add(1)
		return fmt.Errorf("%w: session %d", ErrSessionBusy, s.id)
	}
}

// Outbound returns the channel transports read queued messages from. It is
// closed by Close.
func (s *CommSession) Outbound() <-chan Outbound {
	return s.outbound
}

// Pump hands every outbound message to fn until the session closes or ctx
// is done.
func (s *CommSession) Pump(ctx context.Context, fn func(Outbound)) {
	for {
		select {
		case <-ctx.Done():
			return
		case out, ok := <-s.outbound:
			if !ok {
				return
			}
			fn(out)
		}
	}
}

// DebugPrintf writes a debug line tagged with the session.
func (s *CommSession) DebugPrintf(level int, format string, args ...any) {
	s.logger.Debug(fmt.Sprintf(format, args...), "debug_level", level)
}

// Close stops the session. Further sends fail.
func (s *CommSession) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.outbound)
}

// Info is a read-only view of a session.
type Info struct {
	ID             uint32    `json:"id"`
	ServerID       uint64    `json:"server_id"`
	Address        string    `json:"address"`
	CanAcceptTraps bool      `json:"can_accept_traps"`
	ConnectedAt    time.Time `json:"connected_at"`
	Sent           uint64    `json:"sent"`
	Dropped        uint64    `json:"dropped"`
	Queued         int       `json:"queued"`
}

// Info returns a snapshot of the session.
func (s *CommSession) Info() Info {
	return Info{
		ID:             s.id,
		ServerID:       s.serverID,
		Address:        s.address,
		CanAcceptTraps: s.CanAcceptTraps(),
		ConnectedAt:    s.connectedAt,
		Sent:           s.sent.Load(),
		Dropped:        s.dropped.Load(),
		Queued:         len(s.outbound),
	}
}

var _ sdk.Session = (*CommSession)(nil)
