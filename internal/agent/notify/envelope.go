package notify

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/felixgeelhaar/beacon/internal/subagent/sdk"
)

// ErrUnsupportedField is returned for a field value the envelope cannot carry.
var ErrUnsupportedField = errors.New("notify: unsupported field type")

// FieldType tags the Go type of an encoded field.
type FieldType string

const (
	FieldString FieldType = "string"
	FieldUint16 FieldType = "uint16"
	FieldUint32 FieldType = "uint32"
	FieldUint64 FieldType = "uint64"
	FieldInt64  FieldType = "int64"
	FieldTime   FieldType = "time"
)

// Field is one typed message field.
type Field struct {
	ID    sdk.FieldID     `json:"id"`
	Type  FieldType       `json:"type"`
	Value json.RawMessage `json:"value"`
}

// Envelope is the JSON form of a notification message stored in the outbox
// and published on the event bus.
type Envelope struct {
	Code     uint16    `json:"code"`
	ID       uint32    `json:"id"`
	Fields   []Field   `json:"fields"`
	QueuedAt time.Time `json:"queued_at"`
}

// NewEnvelope captures msg. Fields are ordered by ID.
func NewEnvelope(msg *sdk.NotificationMessage) (Envelope, error) {
	env := Envelope{
		Code:     msg.Code,
		ID:       msg.ID,
		Fields:   make([]Field, 0, msg.FieldCount()),
		QueuedAt: time.Now().UTC(),
	}
	values := msg.Fields()
	for _, id := range msg.FieldIDs() {
		f, err := encodeField(id, values[id])
		if err != nil {
			return Envelope{}, err
		}
		env.Fields = append(env.Fields, f)
	}
	return env, nil
}

// DecodeEnvelope parses an envelope produced by Encode.
func DecodeEnvelope(payload []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return Envelope{}, fmt.Errorf("decode envelope: %w", err)
	}
	return env, nil
}

// Encode returns the JSON form of the envelope.
func (e Envelope) Encode() ([]byte, error) {
	return json.Marshal(e)
}

// Message rebuilds a notification message. The caller owns the result.
func (e Envelope) Message() (*sdk.NotificationMessage, error) {
	msg := sdk.NewNotificationMessage(e.Code, e.ID)
	for _, f := range e.Fields {
		if err := decodeField(msg, f); err != nil {
			msg.Dispose()
			return nil, err
		}
	}
	return msg, nil
}

func encodeField(id sdk.FieldID, v any) (Field, error) {
	var t FieldType
	switch v.(type) {
	case string:
		t = FieldString
	case uint16:
		t = FieldUint16
	case uint32:
		t = FieldUint32
	case uint64:
		t = FieldUint64
	case int64:
		t = FieldInt64
	case time.Time:
		t = FieldTime
	default:
		return Field{}, fmt.Errorf("%w: field %d holds %T", ErrUnsupportedField, id, v)
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return Field{}, fmt.Errorf("encode field %d: %w", id, err)
	}
	return Field{ID: id, Type: t, Value: raw}, nil
}

func decodeField(msg *sdk.NotificationMessage, f Field) error {
	var err error
	switch f.Type {
	case FieldString:
		var v string
		if err = json.Unmarshal(f.Value, &v); err == nil {
			msg.SetString(f.ID, v)
		}
	case FieldUint16:
		var v uint16
		if err = json.Unmarshal(f.Value, &v); err == nil {
			msg.SetUint16(f.ID, v)
		}
	case FieldUint32:
		var v uint32
		if err = json.Unmarshal(f.Value, &v); err == nil {
			msg.SetUint32(f.ID, v)
		}
	case FieldUint64:
		var v uint64
		if err = json.Unmarshal(f.Value, &v); err == nil {
			msg.SetUint64(f.ID, v)
		}
	case FieldInt64:
		var v int64
		if err = json.Unmarshal(f.Value, &v); err == nil {
			msg.SetInt64(f.ID, v)
		}
	case FieldTime:
		var v time.Time
		if err = json.Unmarshal(f.Value, &v); err == nil {
			msg.SetTime(f.ID, v)
		}
	default:
		return fmt.Errorf("%w: field %d has type %q", ErrUnsupportedField, f.ID, f.Type)
	}
	if err != nil {
		return fmt.Errorf("decode field %d: %w", f.ID, err)
	}
	return nil
}
