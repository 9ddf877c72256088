package sdk

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNotificationMessage_Fields(t *testing.T) {
	ts := time.Date(2024, 1, 2, 3, 4, 5, 0, time.FixedZone("CET", 3600))
	msg := NewNotificationMessage(CmdTrap, 17)

	msg.SetUint64(FieldTrapID, 1<<40|1)
	msg.SetUint32(FieldEventCode, 1003)
	msg.SetString(FieldEventName, "SYS_THRESHOLD")
	msg.SetTime(FieldTimestamp, ts)
	msg.SetUint16(FieldNumArgs, 2)
	msg.SetInt64(EventArgBase, -5)

	assert.Equal(t, CmdTrap, msg.Code)
	assert.Equal(t, uint32(17), msg.ID)
	assert.Equal(t, uint64(1<<40|1), msg.Uint64(FieldTrapID))
	assert.Equal(t, uint32(1003), msg.Uint32(FieldEventCode))
	assert.Equal(t, "SYS_THRESHOLD", msg.String(FieldEventName))
	assert.True(t, msg.Time(FieldTimestamp).Equal(ts))
	assert.Equal(t, time.UTC, msg.Time(FieldTimestamp).Location())
	assert.Equal(t, uint16(2), msg.Uint16(FieldNumArgs))
	assert.Equal(t, uint32(2), msg.Uint32(FieldNumArgs), "narrow fields widen")
	assert.Equal(t, uint64(1003), msg.Uint64(FieldEventCode), "narrow fields widen")
	assert.Equal(t, int64(-5), msg.Int64(EventArgBase))
	assert.Equal(t, 6, msg.FieldCount())
	assert.Equal(t, []FieldID{FieldTrapID, FieldEventCode, FieldEventName, FieldTimestamp, FieldNumArgs, EventArgBase}, msg.FieldIDs())

	assert.Equal(t, "", msg.String(FieldEventCode), "wrong type reads as zero")
	assert.False(t, msg.Has(FieldNotificationCode))
}

func TestNotificationMessage_FieldsIsACopy(t *testing.T) {
	msg := NewNotificationMessage(CmdNotify, 0)
	msg.SetString(FieldNotificationCode, "connected")

	fields := msg.Fields()
	fields[FieldNotificationCode] = "changed"

	assert.Equal(t, "connected", msg.String(FieldNotificationCode))
}

func TestNotificationMessage_ZeroValueIsUsable(t *testing.T) {
	var msg NotificationMessage
	msg.SetString(FieldEventName, "x")
	assert.Equal(t, "x", msg.String(FieldEventName))
	assert.True(t, msg.Dispose())
}

func TestNotificationMessage_DisposeOnce(t *testing.T) {
	var released atomic.Int32
	msg := NewNotificationMessage(CmdTrap, 1).WithReleaseHook(func() { released.Add(1) })
	msg.SetString(FieldEventName, "x")

	var wg sync.WaitGroup
	var wins atomic.Int32
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if msg.Dispose() {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), wins.Load())
	assert.Equal(t, int32(1), released.Load())
	assert.True(t, msg.Disposed())
}

func TestNotificationMessage_DisposedReadsEmpty(t *testing.T) {
	msg := NewNotificationMessage(CmdTrap, 1)
	msg.SetString(FieldEventName, "x")
	msg.Dispose()

	assert.Equal(t, "", msg.String(FieldEventName))
	assert.Zero(t, msg.FieldCount())

	msg.SetString(FieldEventName, "y")
	assert.Zero(t, msg.FieldCount(), "setters are ignored after disposal")
}

func TestNotificationMessage_NilDispose(t *testing.T) {
	var msg *NotificationMessage
	assert.False(t, msg.Dispose())
}

func TestQueueNotification_HandsOff(t *testing.T) {
	var released int
	var received *NotificationMessage
	b := NewBridge(Capabilities{
		QueueNotification: func(msg *NotificationMessage) {
			received = msg
		},
	})
	msg := NewNotificationMessage(CmdTrap, 1).WithReleaseHook(func() { released++ })

	b.QueueNotification(msg)

	require.Same(t, msg, received)
	assert.False(t, msg.Disposed(), "the queue owns the message now")
	assert.Zero(t, released)

	// The queue disposes of it when done.
	received.Dispose()
	assert.Equal(t, 1, released)
}

func TestQueueNotification_ExactlyOneDisposal(t *testing.T) {
	tests := []struct {
		name string
		caps Capabilities
	}{
		{"enqueuer configured", Capabilities{QueueNotification: func(msg *NotificationMessage) { msg.Dispose() }}},
		{"no enqueuer", Capabilities{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var released int
			msg := NewNotificationMessage(CmdTrap, 1).WithReleaseHook(func() { released++ })

			NewBridge(tt.caps).QueueNotification(msg)

			assert.True(t, msg.Disposed())
			assert.Equal(t, 1, released)
		})
	}
}

func TestQueueNotification_NilMessage(t *testing.T) {
	called := false
	b := NewBridge(Capabilities{QueueNotification: func(*NotificationMessage) { called = true }})

	assert.NotPanics(t, func() { b.QueueNotification(nil) })
	assert.False(t, called)

	var nilBridge *Bridge
	assert.NotPanics(t, func() { nilBridge.QueueNotification(nil) })
}
