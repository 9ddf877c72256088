package sdk

import "iter"

// Session is a live connection between the agent and a management server.
// The bridge hands sessions out but never keeps them.
type Session interface {
	// ID is the agent-local session number.
	ID() uint32

	// ServerID identifies the server on the other end.
	ServerID() uint64

	// CanAcceptTraps reports whether the server subscribed to events.
	CanAcceptTraps() bool

	// SendMessage sends msg on this session. The caller keeps ownership.
	SendMessage(msg *NotificationMessage) error

	// DebugPrintf writes a debug line tagged with the session.
	DebugPrintf(level int, format string, args ...any)
}

// EnumerationResult tells the enumerator whether to keep going.
type EnumerationResult int

const (
	EnumerationStop EnumerationResult = iota
	EnumerationContinue
)

// String returns the result name.
func (r EnumerationResult) String() string {
	if r == EnumerationStop {
		return "stop"
	}
	return "continue"
}

// SessionVisitor is called once per live session.
type SessionVisitor func(session Session, userData any) EnumerationResult

// FindSession returns the session connected to serverID. It returns nil both
// when no such session exists and when session lookup is not configured.
func (b *Bridge) FindSession(serverID uint64) Session {
	if find := b.table().FindSession; find != nil {
		return find(serverID)
	}
	return nil
}

// EnumerateSessions calls visitor for each live session until it returns
// EnumerationStop. It reports true only when a visitor stopped the walk;
// an unconfigured enumerator, an empty session list and a complete walk all
// report false.
func (b *Bridge) EnumerateSessions(visitor SessionVisitor, userData any) bool {
	enum := b.table().EnumerateSessions
	if enum == nil || visitor == nil {
		return false
	}
	return enum(visitor, userData)
}

// Sessions returns the live sessions as a sequence. Breaking out of the range
// loop stops the underlying enumeration.
func (b *Bridge) Sessions() iter.Seq[Session] {
	return func(yield func(Session) bool) {
		enum := b.table().EnumerateSessions
		if enum == nil {
			return
		}
		done := false
		enum(func(s Session, _ any) EnumerationResult {
			if done {
				return EnumerationStop
			}
			if !yield(s) {
				done = true
				return EnumerationStop
			}
			return EnumerationContinue
		}, nil)
	}
}
