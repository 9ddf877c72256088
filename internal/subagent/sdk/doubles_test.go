package sdk

import (
	"sync"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/felixgeelhaar/beacon/internal/shared/infrastructure/database"
)

// mockSession is a testify double for Session.
type mockSession struct {
	mock.Mock
	id       uint32
	serverID uint64
}

func newMockSession(id uint32, serverID uint64) *mockSession {
	return &mockSession{id: id, serverID: serverID}
}

func (s *mockSession) ID() uint32       { return s.id }
func (s *mockSession) ServerID() uint64 { return s.serverID }

func (s *mockSession) CanAcceptTraps() bool {
	return s.Called().Bool(0)
}

func (s *mockSession) SendMessage(msg *NotificationMessage) error {
	return s.Called(msg).Error(0)
}

func (s *mockSession) DebugPrintf(level int, format string, args ...any) {
	s.Called(level, format)
}

var mockAnyFunc = mock.AnythingOfType("func()")

// mockScheduler records ScheduleRelative calls.
type mockScheduler struct {
	mock.Mock
}

func (s *mockScheduler) ScheduleRelative(delay time.Duration, task func()) {
	s.Called(delay, task)
}

// call captures one capability invocation.
type call struct {
	name string
	args []any
}

// recorder builds a fully populated capability table that records every
// invocation in order.
type recorder struct {
	mu    sync.Mutex
	calls []call

	sessions []Session
	pushOK   bool
	screen   map[uint32]ScreenInfo
}

func newRecorder() *recorder {
	return &recorder{pushOK: true, screen: make(map[uint32]ScreenInfo)}
}

func (r *recorder) record(name string, args ...any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, call{name: name, args: args})
}

func (r *recorder) Calls() []call {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]call(nil), r.calls...)
}

func (r *recorder) enumerate(visitor SessionVisitor, userData any) bool {
	r.record("EnumerateSessions", userData)
	for _, s := range r.sessions {
		if visitor(s, userData) == EnumerationStop {
			return true
		}
	}
	return false
}

func (r *recorder) capabilities() Capabilities {
	return Capabilities{
		WriteLog: func(level LogLevel, subLevel int, text string) {
			r.record("WriteLog", level, subLevel, text)
		},
		PostEventFormatted: func(code uint32, name string, ts time.Time, format string, args []any) {
			r.record("PostEventFormatted", code, name, ts, format, args)
		},
		PostEventPositional: func(code uint32, name string, ts time.Time, args []string) {
			r.record("PostEventPositional", code, name, ts, args)
		},
		PostEventNamed: func(code uint32, name string, ts time.Time, args map[string]string) {
			r.record("PostEventNamed", code, name, ts, args)
		},
		FindSession: func(serverID uint64) Session {
			r.record("FindSession", serverID)
			for _, s := range r.sessions {
				if s.ServerID() == serverID {
					return s
				}
			}
			return nil
		},
		EnumerateSessions: r.enumerate,
		PushData: func(parameter, value string, dataType DataType, ts time.Time) bool {
			r.record("PushData", parameter, value, dataType, ts)
			return r.pushOK
		},
		LocalStorage: func() database.Connection {
			r.record("LocalStorage")
			return nil
		},
		ExecuteAction: func(action string, args []string) {
			r.record("ExecuteAction", action, args)
		},
		ScreenInfo: func(sessionID uint32) (ScreenInfo, bool) {
			r.record("ScreenInfo", sessionID)
			info, ok := r.screen[sessionID]
			return info, ok
		},
		QueueNotification: func(msg *NotificationMessage) {
			r.record("QueueNotification", msg)
			msg.Dispose()
		},
		RegisterProblem: func(severity Severity, key, message string) {
			r.record("RegisterProblem", severity, key, message)
		},
		UnregisterProblem: func(key string) {
			r.record("UnregisterProblem", key)
		},
		DataDirectory: "/var/lib/beacon",
		Scheduler:     &mockScheduler{},
	}
}
