package sdk

import (
	"maps"
	"slices"
	"sync/atomic"
	"time"
)

// Message codes used by the agent core.
const (
	CmdTrap   uint16 = 0x0016
	CmdNotify uint16 = 0x0037
)

// FieldID identifies one field of a notification message.
type FieldID uint32

// Well-known field identifiers.
const (
	FieldTrapID           FieldID = 0x0005
	FieldEventCode        FieldID = 0x0006
	FieldEventName        FieldID = 0x0007
	FieldTimestamp        FieldID = 0x0008
	FieldNumArgs          FieldID = 0x0009
	FieldNotificationCode FieldID = 0x000A

	// EventArgBase is the field of the first event argument value.
	EventArgBase FieldID = 0x8000
	// EventArgNamesBase is the field of the first event argument name.
	EventArgNamesBase FieldID = 0x9000
)

// NotificationMessage is an outbound message queued for delivery to the
// server. Whoever holds it owns it; Bridge.QueueNotification hands it to the
// core, after which the caller must not touch it again.
type NotificationMessage struct {
	Code uint16
	ID   uint32

	fields   map[FieldID]any
	release  func()
	disposed atomic.Bool
}

// NewNotificationMessage creates an empty message.
func NewNotificationMessage(code uint16, id uint32) *NotificationMessage {
	return &NotificationMessage{
		Code:   code,
		ID:     id,
		fields: make(map[FieldID]any),
	}
}

// WithReleaseHook sets fn to run once when the message is disposed.
func (m *NotificationMessage) WithReleaseHook(fn func()) *NotificationMessage {
	m.release = fn
	return m
}

// SetString sets a text field.
func (m *NotificationMessage) SetString(id FieldID, v string) { m.set(id, v) }

// SetUint16 sets a 16-bit field.
func (m *NotificationMessage) SetUint16(id FieldID, v uint16) { m.set(id, v) }

// SetUint32 sets a 32-bit field.
func (m *NotificationMessage) SetUint32(id FieldID, v uint32) { m.set(id, v) }

// SetUint64 sets a 64-bit field.
func (m *NotificationMessage) SetUint64(id FieldID, v uint64) { m.set(id, v) }

// SetInt64 sets a signed 64-bit field.
func (m *NotificationMessage) SetInt64(id FieldID, v int64) { m.set(id, v) }

// SetTime sets a timestamp field, stored in UTC.
func (m *NotificationMessage) SetTime(id FieldID, v time.Time) { m.set(id, v.UTC()) }

func (m *NotificationMessage) set(id FieldID, v any) {
	if m.disposed.Load() {
		return
	}
	if m.fields == nil {
		m.fields = make(map[FieldID]any)
	}
	m.fields[id] = v
}

// String returns a text field, or "" when absent or of another type.
func (m *NotificationMessage) String(id FieldID) string {
	v, _ := m.fields[id].(string)
	return v
}

// Uint16 returns a 16-bit field.
func (m *NotificationMessage) Uint16(id FieldID) uint16 {
	v, _ := m.fields[id].(uint16)
	return v
}

// Uint32 returns a 32-bit field. Narrower unsigned fields are widened.
func (m *NotificationMessage) Uint32(id FieldID) uint32 {
	switch v := m.fields[id].(type) {
	case uint32:
		return v
	case uint16:
		return uint32(v)
	}
	return 0
}

// Uint64 returns a 64-bit field. Narrower unsigned fields are widened.
func (m *NotificationMessage) Uint64(id FieldID) uint64 {
	switch v := m.fields[id].(type) {
	case uint64:
		return v
	case uint32:
		return uint64(v)
	case uint16:
		return uint64(v)
	}
	return 0
}

// Int64 returns a signed 64-bit field.
func (m *NotificationMessage) Int64(id FieldID) int64 {
	v, _ := m.fields[id].(int64)
	return v
}

// Time returns a timestamp field.
func (m *NotificationMessage) Time(id FieldID) time.Time {
	v, _ := m.fields[id].(time.Time)
	return v
}

// Has reports whether the field is set.
func (m *NotificationMessage) Has(id FieldID) bool {
	_, ok := m.fields[id]
	return ok
}

// FieldCount returns the number of fields set.
func (m *NotificationMessage) FieldCount() int {
	return len(m.fields)
}

// FieldIDs returns the set field identifiers in ascending order.
func (m *NotificationMessage) FieldIDs() []FieldID {
	return slices.Sorted(maps.Keys(m.fields))
}

// Fields returns a copy of all fields.
func (m *NotificationMessage) Fields() map[FieldID]any {
	return maps.Clone(m.fields)
}

// Dispose releases the message. Only the first call has an effect and
// reports true. A disposed message reads as empty.
func (m *NotificationMessage) Dispose() bool {
	if m == nil || !m.disposed.CompareAndSwap(false, true) {
		return false
	}
	m.fields = nil
	if m.release != nil {
		m.release()
	}
	return true
}

// Disposed reports whether Dispose has run.
func (m *NotificationMessage) Disposed() bool {
	return m.disposed.Load()
}

// QueueNotification hands msg to the core for delivery. Ownership moves with
// the call: the core disposes of msg once it is done, and when no queue is
// configured the bridge disposes of it immediately.
func (b *Bridge) QueueNotification(msg *NotificationMessage) {
	if msg == nil {
		return
	}
	if queue := b.table().QueueNotification; queue != nil {
		queue(msg)
		return
	}
	msg.Dispose()
}
