package sdk

import (
	"fmt"
	"unicode/utf8"
)

// LogLevel is the primary level passed to the core log writer.
type LogLevel int

const (
	LogError   LogLevel = 0x0001
	LogWarning LogLevel = 0x0002
	LogInfo    LogLevel = 0x0004
	LogDebug   LogLevel = 0x0080
)

// String returns the level name.
func (l LogLevel) String() string {
	switch l {
	case LogError:
		return "error"
	case LogWarning:
		return "warning"
	case LogInfo:
		return "info"
	case LogDebug:
		return "debug"
	default:
		return fmt.Sprintf("level(%#x)", int(l))
	}
}

// LogBufferSize bounds a single formatted log line. At most
// LogBufferSize-1 bytes of text reach the log writer.
const LogBufferSize = 4096

// WriteLog formats a message and forwards it with sub-level 0.
func (b *Bridge) WriteLog(level LogLevel, format string, args ...any) {
	b.WriteLogArgs(level, format, args)
}

// WriteLogArgs is WriteLog with an already collected argument list.
func (b *Bridge) WriteLogArgs(level LogLevel, format string, args []any) {
	if w := b.table().WriteLog; w != nil {
		w(level, 0, formatBounded(format, args))
	}
}

// WriteDebugLog forwards a debug message. The caller's verbosity travels as
// the sub-level so the core can filter debug output on its own.
func (b *Bridge) WriteDebugLog(level int, format string, args ...any) {
	b.WriteDebugLogArgs(level, format, args)
}

// WriteDebugLogArgs is WriteDebugLog with an already collected argument list.
func (b *Bridge) WriteDebugLogArgs(level int, format string, args []any) {
	if w := b.table().WriteLog; w != nil {
		w(LogDebug, level, formatBounded(format, args))
	}
}

func formatBounded(format string, args []any) string {
	buf := newBoundedBuffer(LogBufferSize - 1)
	_, _ = fmt.Fprintf(buf, format, args...)
	return buf.String()
}

// boundedBuffer keeps at most limit bytes and silently discards the rest.
type boundedBuffer struct {
	buf       []byte
	limit     int
	truncated bool
}

func newBoundedBuffer(limit int) *boundedBuffer {
	return &boundedBuffer{buf: make([]byte, 0, min(limit, 256)), limit: limit}
}

// Write always reports success so the formatter keeps going.
func (b *boundedBuffer) Write(p []byte) (int, error) {
	room := b.limit - len(b.buf)
	if len(p) > room {
		b.buf = append(b.buf, p[:max(room, 0)]...)
		b.truncated = true
		return len(p), nil
	}
	b.buf = append(b.buf, p...)
	return len(p), nil
}

// String returns the kept text, cut back to a rune boundary if the limit
// split a multi-byte character.
func (b *boundedBuffer) String() string {
	if !b.truncated {
		return string(b.buf)
	}
	return string(trimPartialRune(b.buf))
}

// Len returns the number of bytes kept.
func (b *boundedBuffer) Len() int {
	return len(b.buf)
}

func trimPartialRune(p []byte) []byte {
	for i := len(p) - 1; i >= 0 && i >= len(p)-utf8.UTFMax; i-- {
		if utf8.RuneStart(p[i]) {
			if !utf8.FullRune(p[i:]) {
				return p[:i]
			}
			return p
		}
	}
	return p
}
