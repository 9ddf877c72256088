// Package screen tracks the screen geometry reported for user sessions.
package screen

import (
	"sync"

	"github.com/felixgeelhaar/beacon/internal/subagent/sdk"
)

// Registry maps user session IDs to their screen geometry.
type Registry struct {
	mu      sync.RWMutex
	screens map[uint32]sdk.ScreenInfo
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{screens: make(map[uint32]sdk.ScreenInfo)}
}

// Update records the geometry of a session, replacing any earlier report.
func (r *Registry) Update(sessionID uint32, info sdk.ScreenInfo) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.screens[sessionID] = info
}

// Remove forgets a session.
func (r *Registry) Remove(sessionID uint32) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.screens, sessionID)
}

// Get returns the geometry of a session.
func (r *Registry) Get(sessionID uint32) (sdk.ScreenInfo, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	info, ok := r.screens[sessionID]
	return info, ok
}

// Len returns the number of tracked sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.screens)
}
