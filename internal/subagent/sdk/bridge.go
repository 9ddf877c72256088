package sdk

import "sync/atomic"

// Bridge forwards subagent calls to the capabilities supplied by the core.
// It is immutable once built and safe for concurrent use. A nil *Bridge and
// the zero Bridge both behave as uninitialized: every call returns its
// documented default.
type Bridge struct {
	caps Capabilities
}

// uninitialized backs nil bridges.
var uninitialized Capabilities

// defaultBridge holds the bridge installed by Initialize.
var defaultBridge atomic.Pointer[Bridge]

// NewBridge copies caps into a new bridge.
func NewBridge(caps Capabilities) *Bridge {
	return &Bridge{caps: caps}
}

// Initialize builds a bridge from caps and installs it as the process-wide
// default returned by Default. A second call replaces the previous default
// without complaint; bridges already handed out keep their own table.
func Initialize(caps Capabilities) *Bridge {
	b := NewBridge(caps)
	defaultBridge.Store(b)
	return b
}

// Default returns the bridge installed by Initialize, or an uninitialized
// bridge when none was installed. It never returns nil.
func Default() *Bridge {
	if b := defaultBridge.Load(); b != nil {
		return b
	}
	return &Bridge{}
}

// Configured reports which capabilities this bridge forwards to.
func (b *Bridge) Configured() CapabilitySet {
	return b.table().Configured()
}

// Has reports whether the given capability is configured.
func (b *Bridge) Has(cap Capability) bool {
	return b.Configured().Has(cap)
}

func (b *Bridge) table() *Capabilities {
	if b == nil {
		return &uninitialized
	}
	return &b.caps
}
