package sdk

import (
	"strconv"

	"github.com/felixgeelhaar/beacon/internal/shared/infrastructure/database"
)

// ScreenInfo describes the screen of a user session.
type ScreenInfo struct {
	Width        uint32 `json:"width"`
	Height       uint32 `json:"height"`
	BitsPerPixel uint32 `json:"bits_per_pixel"`
}

// Severity ranks a registered agent problem.
type Severity int

const (
	SeverityNormal Severity = iota
	SeverityWarning
	SeverityMinor
	SeverityMajor
	SeverityCritical
)

var severityNames = [...]string{"normal", "warning", "minor", "major", "critical"}

// String returns the severity name.
func (s Severity) String() string {
	if s >= 0 && int(s) < len(severityNames) {
		return severityNames[s]
	}
	return "severity(" + strconv.Itoa(int(s)) + ")"
}

// ParseSeverity converts a name produced by String back to a Severity.
func ParseSeverity(name string) (Severity, bool) {
	for i, n := range severityNames {
		if n == name {
			return Severity(i), true
		}
	}
	return SeverityNormal, false
}

// DataDirectory returns the agent's data directory, or "".
func (b *Bridge) DataDirectory() string {
	return b.table().DataDirectory
}

// LocalStorage returns the agent's local database, or nil.
func (b *Bridge) LocalStorage() database.Connection {
	if get := b.table().LocalStorage; get != nil {
		return get()
	}
	return nil
}

// ExecuteAction runs a registered agent action or a command line.
func (b *Bridge) ExecuteAction(action string, args []string) {
	if exec := b.table().ExecuteAction; exec != nil {
		exec(action, args)
	}
}

// ScreenInfo returns screen geometry for a user session. It reports false
// when the session is unknown or the query is not configured.
func (b *Bridge) ScreenInfo(sessionID uint32) (ScreenInfo, bool) {
	if get := b.table().ScreenInfo; get != nil {
		return get(sessionID)
	}
	return ScreenInfo{}, false
}

// RegisterProblem raises an agent problem under key.
func (b *Bridge) RegisterProblem(severity Severity, key, message string) {
	if register := b.table().RegisterProblem; register != nil {
		register(severity, key, message)
	}
}

// UnregisterProblem clears the problem registered under key.
func (b *Bridge) UnregisterProblem(key string) {
	if unregister := b.table().UnregisterProblem; unregister != nil {
		unregister(key)
	}
}
