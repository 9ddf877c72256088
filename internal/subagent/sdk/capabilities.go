package sdk

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/felixgeelhaar/beacon/internal/shared/infrastructure/database"
)

// Capability names one slot of the capability table.
type Capability string

const (
	// Logging
	CapWriteLog Capability = "log:write"

	// Event posting
	CapPostEventFormatted  Capability = "event:formatted"
	CapPostEventPositional Capability = "event:positional"
	CapPostEventNamed      Capability = "event:named"

	// Session access
	CapFindSession       Capability = "session:find"
	CapEnumerateSessions Capability = "session:enumerate"

	// Data and storage
	CapPushData      Capability = "data:push"
	CapLocalStorage  Capability = "storage:local"
	CapDataDirectory Capability = "data:directory"

	// Miscellaneous
	CapExecuteAction     Capability = "action:execute"
	CapScreenInfo        Capability = "screen:info"
	CapQueueNotification Capability = "notification:queue"
	CapRegisterProblem   Capability = "problem:register"
	CapUnregisterProblem Capability = "problem:unregister"

	// Deferred work
	CapScheduler Capability = "timer:schedule"
)

// AllCapabilities returns all valid capabilities in table order.
func AllCapabilities() []Capability {
	return []Capability{
		CapWriteLog,
		CapPostEventFormatted,
		CapPostEventPositional,
		CapPostEventNamed,
		CapFindSession,
		CapEnumerateSessions,
		CapPushData,
		CapLocalStorage,
		CapExecuteAction,
		CapScreenInfo,
		CapQueueNotification,
		CapRegisterProblem,
		CapUnregisterProblem,
		CapDataDirectory,
		CapScheduler,
	}
}

// ValidCapabilities is a set of all valid capability strings for fast lookup.
var ValidCapabilities = func() map[Capability]bool {
	m := make(map[Capability]bool)
	for _, c := range AllCapabilities() {
		m[c] = true
	}
	return m
}()

// IsValid checks if a capability string is a valid capability.
func (c Capability) IsValid() bool {
	return ValidCapabilities[c]
}

// String returns the string representation of the capability.
func (c Capability) String() string {
	return string(c)
}

// Category returns the part before the colon (e.g. "event").
func (c Capability) Category() string {
	category, _, _ := strings.Cut(string(c), ":")
	return category
}

// Resource returns the part after the colon (e.g. "formatted").
func (c Capability) Resource() string {
	_, resource, _ := strings.Cut(string(c), ":")
	return resource
}

// CapabilitySet is a set of capabilities for efficient lookup.
type CapabilitySet map[Capability]bool

// NewCapabilitySet creates a new capability set from a slice of capabilities.
func NewCapabilitySet(caps []Capability) CapabilitySet {
	set := make(CapabilitySet)
	for _, c := range caps {
		set[c] = true
	}
	return set
}

// Has checks if the set contains a capability.
func (s CapabilitySet) Has(cap Capability) bool {
	return s[cap]
}

// HasAll checks if the set contains all given capabilities.
func (s CapabilitySet) HasAll(caps []Capability) bool {
	for _, c := range caps {
		if !s[c] {
			return false
		}
	}
	return true
}

// Missing returns the capabilities from caps that the set lacks.
func (s CapabilitySet) Missing(caps []Capability) []Capability {
	var missing []Capability
	for _, c := range caps {
		if !s[c] {
			missing = append(missing, c)
		}
	}
	return missing
}

// Add adds a capability to the set.
func (s CapabilitySet) Add(cap Capability) {
	s[cap] = true
}

// Remove removes a capability from the set.
func (s CapabilitySet) Remove(cap Capability) {
	delete(s, cap)
}

// ToSlice returns the capabilities as a sorted slice.
func (s CapabilitySet) ToSlice() []Capability {
	caps := make([]Capability, 0, len(s))
	for c := range s {
		caps = append(caps, c)
	}
	slices.Sort(caps)
	return caps
}

// ValidateCapabilities checks that all capabilities in the list are valid.
func ValidateCapabilities(caps []Capability) error {
	var invalid []string
	for _, c := range caps {
		if !c.IsValid() {
			invalid = append(invalid, string(c))
		}
	}
	if len(invalid) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidCapability, strings.Join(invalid, ", "))
	}
	return nil
}

// ParseCapability parses a string into a Capability.
func ParseCapability(s string) (Capability, error) {
	c := Capability(s)
	if !c.IsValid() {
		return "", fmt.Errorf("%w: %s", ErrInvalidCapability, s)
	}
	return c, nil
}

// Capabilities is the table of functions the core lends to subagents.
// Any slot may be left nil; the bridge substitutes a neutral default.
//
// Implementations must return an untyped nil from FindSession when no
// session matches, and Scheduler must be left nil rather than set to a
// typed nil pointer.
type Capabilities struct {
	WriteLog func(level LogLevel, subLevel int, text string)

	PostEventFormatted  func(code uint32, name string, ts time.Time, format string, args []any)
	PostEventPositional func(code uint32, name string, ts time.Time, args []string)
	PostEventNamed      func(code uint32, name string, ts time.Time, args map[string]string)

	FindSession       func(serverID uint64) Session
	EnumerateSessions func(visitor SessionVisitor, userData any) bool

	PushData     func(parameter, value string, dataType DataType, ts time.Time) bool
	LocalStorage func() database.Connection

	ExecuteAction func(action string, args []string)
	ScreenInfo    func(sessionID uint32) (ScreenInfo, bool)

	// QueueNotification takes ownership of msg and must dispose of it.
	QueueNotification func(msg *NotificationMessage)

	RegisterProblem   func(severity Severity, key, message string)
	UnregisterProblem func(key string)

	DataDirectory string

	// Scheduler is shared with the core and not owned by the table.
	Scheduler Scheduler
}

// Configured reports which slots of the table are set.
func (c Capabilities) Configured() CapabilitySet {
	set := make(CapabilitySet)
	add := func(cap Capability, ok bool) {
		if ok {
			set.Add(cap)
		}
	}
	add(CapWriteLog, c.WriteLog != nil)
	add(CapPostEventFormatted, c.PostEventFormatted != nil)
	add(CapPostEventPositional, c.PostEventPositional != nil)
	add(CapPostEventNamed, c.PostEventNamed != nil)
	add(CapFindSession, c.FindSession != nil)
	add(CapEnumerateSessions, c.EnumerateSessions != nil)
	add(CapPushData, c.PushData != nil)
	add(CapLocalStorage, c.LocalStorage != nil)
	add(CapExecuteAction, c.ExecuteAction != nil)
	add(CapScreenInfo, c.ScreenInfo != nil)
	add(CapQueueNotification, c.QueueNotification != nil)
	add(CapRegisterProblem, c.RegisterProblem != nil)
	add(CapUnregisterProblem, c.UnregisterProblem != nil)
	add(CapDataDirectory, c.DataDirectory != "")
	add(CapScheduler, c.Scheduler != nil)
	return set
}
