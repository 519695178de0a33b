package transport

// State is the connection state of a Session.
type State uint8

const (
	StateClosed State = iota
	StateConnecting
	StateConnected
	StateReconnecting
	// StateDisconnected means the link was lost and recovery gave up.
	StateDisconnected
)

// States lists every state, in declaration order.
var States = []State{StateClosed, StateConnecting, StateConnected, StateReconnecting, StateDisconnected}

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	case StateDisconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}

// active reports whether the session owns a live or recovering connection.
func (s State) active() bool {
	return s == StateConnecting || s == StateConnected || s == StateReconnecting
}

// StateChange is delivered to state handlers. Err carries the cause of a lost
// or failed connection.
type StateChange struct {
	State State
	Err   error
}

func stateNames() []string {
	out := make([]string, len(States))
	for i, s := range States {
		out[i] = s.String()
	}
	return out
}
