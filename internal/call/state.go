package call

// State is the lifecycle position of a call session.
type State int

const (
	StateIdle State = iota
	StateInitiating
	StateRinging
	StateNegotiating
	StateConnected
	StateEnded
	StateFailed
	StateRejected
	StateTimedOut
	StateBusy
)

var stateNames = [...]string{
	StateIdle:        "idle",
	StateInitiating:  "initiating",
	StateRinging:     "ringing",
	StateNegotiating: "negotiating",
	StateConnected:   "connected",
	StateEnded:       "ended",
	StateFailed:      "failed",
	StateRejected:    "rejected",
	StateTimedOut:    "timed-out",
	StateBusy:        "busy",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "unknown"
	}
	return stateNames[s]
}

// Terminal reports whether s ends the session. Terminal sessions never
// transition again.
func (s State) Terminal() bool {
	return s >= StateEnded
}

// Role is the side of the handshake a session plays.
type Role int

const (
	RoleCaller Role = iota
	RoleCallee
)

func (r Role) String() string {
	if r == RoleCaller {
		return "caller"
	}
	return "callee"
}
