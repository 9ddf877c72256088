// Package sdk is the boundary between the beacon agent core and its
// subagents. The core fills a Capabilities table once at startup, wraps it in
// a Bridge and hands that bridge to every subagent's Initialize. Subagents
// call the bridge to log, post events, push data, look up sessions, queue
// notifications and schedule deferred work.
//
// Every bridge operation tolerates a capability the core did not provide:
// the call degrades to a no-op or a neutral result instead of failing.
package sdk

import (
	"context"
)

// Subagent defines the interface that every subagent module implements.
type Subagent interface {
	// Metadata returns the subagent's identity and version information.
	Metadata() Metadata

	// Initialize is called once with the bridge built by the core. The
	// subagent keeps the pointer for as long as it runs.
	Initialize(bridge *Bridge) error

	// Shutdown is called when the agent stops.
	Shutdown(ctx context.Context) error
}
