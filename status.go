package crust

// SessionState is the lifecycle state of a shard session.
type SessionState int32

const (
	SessionStateIdle SessionState = iota
	SessionStateConnecting
	SessionStateHandshaking
	SessionStateReady
	SessionStateClosed
	SessionStateTerminated
)

func (state SessionState) String() string {
	if state < 0 || int(state) >= len(sessionStateNames) {
		return "Unknown"
	}

	return sessionStateNames[state]
}

var sessionStateNames = []string{
	"Idle",
	"Connecting",
	"Handshaking",
	"Ready",
	"Closed",
	"Terminated",
}

// isDown reports whether the shard has no usable connection and is not
// working towards one.
func (state SessionState) isDown() bool {
	return state == SessionStateClosed || state == SessionStateTerminated
}
