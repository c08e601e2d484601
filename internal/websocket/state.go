package websocket

// State is the lifecycle position of one room session
type State int

const (
	StateConnecting State = iota
	StateOpen
	StateMessaging
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateMessaging:
		return "messaging"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// ARCHITECTURAL DISCOVERY: Explicit transition table replaces on-open/on-message/on-close
// callbacks. Connecting may jump straight to Closed on a failed handshake, and every
// non-Closed state may move to Closing when the session deadline fires
var transitions = map[State][]State{
	StateConnecting: {StateOpen, StateClosing, StateClosed},
	StateOpen:       {StateMessaging, StateClosing},
	StateMessaging:  {StateMessaging, StateClosing},
	StateClosing:    {StateClosed},
	StateClosed:     {},
}

// CanTransition reports whether the table allows moving from one state to another
func CanTransition(from, to State) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// CloseReason records which path ended a session
type CloseReason string

const (
	ReasonNone      CloseReason = ""
	ReasonHandshake CloseReason = "handshake"
	ReasonServer    CloseReason = "server"
	ReasonTimeout   CloseReason = "timeout"
	ReasonError     CloseReason = "error"
	ReasonCanceled  CloseReason = "canceled"
)
