// Package guard holds the maintenance gate for server lifecycle commands.
package guard

import "sync"

// Guard is the enabled/disabled flag. The zero value is enabled.
// A restart always comes back enabled.
type Guard struct {
	mu       sync.RWMutex
	disabled bool
}

// New returns an enabled Guard.
func New() *Guard {
	return &Guard{}
}

// Enabled reports whether server commands may run.
func (g *Guard) Enabled() bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return !g.disabled
}

// Enable re-opens the gate. It returns false if the gate was already open.
func (g *Guard) Enable() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.disabled {
		return false
	}
	g.disabled = false
	return true
}

// Disable closes the gate. It returns false if the gate was already closed.
func (g *Guard) Disable() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.disabled {
		return false
	}
	g.disabled = true
	return true
}

// String returns "enabled" or "disabled".
func (g *Guard) String() string {
	if g.Enabled() {
		return "enabled"
	}
	return "disabled"
}
