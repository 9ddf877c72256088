package sdk

import "time"

// PostEvent asks the core to send an event to the server. Arguments are
// described by format, one character per argument; the core does the
// formatting. A zero ts means "now".
func (b *Bridge) PostEvent(code uint32, name string, ts time.Time, format string, args ...any) {
	b.PostEventArgs(code, name, ts, format, args)
}

// PostEventArgs is PostEvent with an already collected argument list.
func (b *Bridge) PostEventArgs(code uint32, name string, ts time.Time, format string, args []any) {
	if post := b.table().PostEventFormatted; post != nil {
		post(code, name, ts, format, args)
	}
}

// PostEventPositional posts an event whose arguments are plain strings.
func (b *Bridge) PostEventPositional(code uint32, name string, ts time.Time, args []string) {
	if post := b.table().PostEventPositional; post != nil {
		post(code, name, ts, args)
	}
}

// PostEventWithNames posts an event with named arguments.
func (b *Bridge) PostEventWithNames(code uint32, name string, ts time.Time, args map[string]string) {
	if post := b.table().PostEventNamed; post != nil {
		post(code, name, ts, args)
	}
}
