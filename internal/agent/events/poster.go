// Package events implements the event-posting capabilities. Each posted
// event becomes a trap notification handed to the notification queue.
package events

import (
	"fmt"
	"log/slog"
	"net"
	"net/netip"
	"slices"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/felixgeelhaar/beacon/internal/subagent/sdk"
	"github.com/felixgeelhaar/beacon/pkg/observability"
)

// Enqueuer takes ownership of a notification message.
type Enqueuer interface {
	Enqueue(msg *sdk.NotificationMessage)
}

// EnqueuerFunc adapts a function to Enqueuer.
type EnqueuerFunc func(msg *sdk.NotificationMessage)

// Enqueue calls f.
func (f EnqueuerFunc) Enqueue(msg *sdk.NotificationMessage) { f(msg) }

// Poster builds trap messages for posted events.
type Poster struct {
	queue   Enqueuer
	logger  *slog.Logger
	metrics observability.Metrics
	now     func() time.Time

	idBase    uint64
	idCounter atomic.Uint32
	generated atomic.Uint64
	lastEvent atomic.Int64
}

// NewPoster creates a poster handing messages to queue. Event IDs combine
// the start time in the upper 32 bits with a counter in the lower 32.
func NewPoster(queue Enqueuer, logger *slog.Logger) *Poster {
	if logger == nil {
		logger = slog.Default()
	}
	return &Poster{
		queue:   queue,
		logger:  logger.With("component", "events"),
		metrics: observability.NoopMetrics{},
		now:     time.Now,
		idBase:  uint64(time.Now().Unix()) << 32,
	}
}

// WithMetrics sets the metrics sink.
func (p *Poster) WithMetrics(m observability.Metrics) *Poster {
	if m != nil {
		p.metrics = m
	}
	return p
}

// PostFormatted posts an event whose arguments are described by format,
// one character per argument:
//
//	s  string
//	d  int32
//	D  int64
//	u  uint32
//	x  uint32 as 0x%08X
//	a  IPv4 address (net.IP, netip.Addr or uint32)
//	f  float64 as %f
//
// Other characters format the argument with %v. Format characters without
// an argument are ignored, as are arguments without a format character.
func (p *Poster) PostFormatted(code uint32, name string, ts time.Time, format string, args []any) {
	values := make([]string, 0, min(len(format), len(args)))
	for i, c := range []byte(format) {
		if i >= len(args) {
			break
		}
		values = append(values, formatArg(c, args[i]))
	}
	p.post("formatted", code, name, ts, values, nil)
}

// PostPositional posts an event with plain string arguments.
func (p *Poster) PostPositional(code uint32, name string, ts time.Time, args []string) {
	p.post("positional", code, name, ts, args, nil)
}

// PostNamed posts an event with named arguments, ordered by name.
func (p *Poster) PostNamed(code uint32, name string, ts time.Time, args map[string]string) {
	names := make([]string, 0, len(args))
	for k := range args {
		names = append(names, k)
	}
	slices.Sort(names)

	values := make([]string, len(names))
	for i, k := range names {
		values[i] = args[k]
	}
	p.post("named", code, name, ts, values, names)
}

func (p *Poster) post(variant string, code uint32, name string, ts time.Time, values, names []string) {
	if ts.IsZero() {
		ts = p.now()
	}

	msg := sdk.NewNotificationMessage(sdk.CmdTrap, 0)
	msg.SetUint64(sdk.FieldTrapID, p.idBase|uint64(p.idCounter.Add(1)))
	msg.SetUint32(sdk.FieldEventCode, code)
	if name != "" {
		msg.SetString(sdk.FieldEventName, name)
	}
	msg.SetTime(sdk.FieldTimestamp, ts)
	msg.SetUint16(sdk.FieldNumArgs, uint16(len(values)))
	for i, v := range values {
		msg.SetString(sdk.EventArgBase+sdk.FieldID(i), v)
	}
	for i, n := range names {
		msg.SetString(sdk.EventArgNamesBase+sdk.FieldID(i), n)
	}

	p.generated.Add(1)
	p.lastEvent.Store(p.now().UnixNano())
	p.metrics.Counter(observability.MetricEventsPosted, 1, observability.T("variant", variant))
	p.logger.Debug("posting event",
		"event_code", code,
		"event_name", name,
		"timestamp", ts.Unix(),
		"num_args", len(values),
	)

	p.queue.Enqueue(msg)
}

// GeneratedCount returns how many events were posted.
func (p *Poster) GeneratedCount() uint64 {
	return p.generated.Load()
}

// LastEventAt returns when the last event was posted, or zero.
func (p *Poster) LastEventAt() time.Time {
	ns := p.lastEvent.Load()
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns).UTC()
}

func formatArg(c byte, v any) string {
	switch c {
	case 's':
		if s, ok := v.(string); ok {
			return s
		}
		return fmt.Sprint(v)
	case 'd':
		if n, ok := toInt64(v); ok {
			return strconv.FormatInt(int64(int32(n)), 10)
		}
	case 'D':
		if n, ok := toInt64(v); ok {
			return strconv.FormatInt(n, 10)
		}
	case 'u':
		if n, ok := toInt64(v); ok {
			return strconv.FormatUint(uint64(uint32(n)), 10)
		}
	case 'x':
		if n, ok := toInt64(v); ok {
			return fmt.Sprintf("0x%08X", uint32(n))
		}
	case 'a':
		if s, ok := formatIPv4(v); ok {
			return s
		}
	case 'f':
		if f, ok := toFloat64(v); ok {
			return strconv.FormatFloat(f, 'f', 6, 64)
		}
	}
	return fmt.Sprintf("%v", v)
}

func toInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int8:
		return int64(n), true
	case int16:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	case uint:
		return int64(n), true
	case uint8:
		return int64(n), true
	case uint16:
		return int64(n), true
	case uint32:
		return int64(n), true
	case uint64:
		return int64(n), true
	}
	return 0, false
}

func toFloat64(v any) (float64, bool) {
	switch f := v.(type) {
	case float64:
		return f, true
	case float32:
		return float64(f), true
	}
	if n, ok := toInt64(v); ok {
		return float64(n), true
	}
	return 0, false
}

func formatIPv4(v any) (string, bool) {
	switch a := v.(type) {
	case net.IP:
		if ip4 := a.To4(); ip4 != nil {
			return ip4.String(), true
		}
	case netip.Addr:
		if a.Is4() || a.Is4In6() {
			return a.Unmap().String(), true
		}
	case uint32:
		return netip.AddrFrom4([4]byte{byte(a >> 24), byte(a >> 16), byte(a >> 8), byte(a)}).String(), true
	}
	return "", false
}
