// ABOUTME: Per-session lifecycle state machine
// ABOUTME: Created -> AwaitingScan -> Authenticated -> Ready, with terminal exits

package session

// State is the lifecycle state of one live session.
type State int

const (
	// StateCreated is the initial state after the client is instantiated.
	StateCreated State = iota
	// StateAwaitingScan means a QR code was issued and awaits scanning.
	StateAwaitingScan
	// StateAuthenticated means the scan was accepted.
	StateAuthenticated
	// StateReady means the handshake finished; the session can send.
	StateReady
	// StateAuthFailed means the handshake failed; the client retries on its
	// own per its restart-on-auth-fail policy.
	StateAuthFailed
	// StateDisconnected is terminal; the session is being torn down.
	StateDisconnected
)

// String returns the lowercase state name.
func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateAwaitingScan:
		return "awaiting_scan"
	case StateAuthenticated:
		return "authenticated"
	case StateReady:
		return "ready"
	case StateAuthFailed:
		return "auth_failed"
	case StateDisconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}

// terminal reports whether no further transitions are allowed.
func (s State) terminal() bool {
	return s == StateDisconnected
}

// canTransition reports whether moving from s to next is a legal step of the
// handshake machine. Disconnected is reachable from every non-terminal
// state; AuthFailed from AwaitingScan and Authenticated.
func (s State) canTransition(next State) bool {
	if s.terminal() {
		return false
	}
	switch next {
	case StateDisconnected:
		return true
	case StateAwaitingScan:
		// Re-issued QR codes keep the session in AwaitingScan; a client
		// restarted after auth failure also starts scanning again.
		return s == StateCreated || s == StateAwaitingScan || s == StateAuthFailed
	case StateAuthenticated:
		return s == StateAwaitingScan
	case StateReady:
		return s == StateAuthenticated
	case StateAuthFailed:
		return s == StateAwaitingScan || s == StateAuthenticated
	default:
		return false
	}
}
