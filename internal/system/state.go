package system

import (
	"sync"
	"time"
)

// Lockdown state is process-global: the CLI, the permission engine,
// and the HTTP server all consult the same switch.
var state struct {
	sync.RWMutex
	active bool
	since  time.Time
	reason string
}

// IsLockedDown returns true if the engine is in emergency lockdown.
// While locked down, every permission check fails closed.
func IsLockedDown() bool {
	state.RLock()
	defer state.RUnlock()
	return state.active
}

// Lockdown engages emergency lockdown mode with a reason for the
// audit trail.
func Lockdown(reason string) {
	state.Lock()
	defer state.Unlock()
	state.active = true
	state.since = time.Now()
	state.reason = reason
}

// Unlock releases emergency lockdown mode.
func Unlock() {
	state.Lock()
	defer state.Unlock()
	state.active = false
	state.since = time.Time{}
	state.reason = ""
}

// Status reports the lockdown state, when it was engaged, and why.
func Status() (active bool, since time.Time, reason string) {
	state.RLock()
	defer state.RUnlock()
	return state.active, state.since, state.reason
}
