package chat

// State is the connection state of a Manager.
type State uint8

const (
	Disconnected State = iota
	Connecting
	AwaitingAuth
	Connected
	Reconnecting
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case AwaitingAuth:
		return "awaiting_auth"
	case Connected:
		return "connected"
	case Reconnecting:
		return "reconnecting"
	default:
		return "unknown"
	}
}

// opening reports whether a transport is being established (dial or handshake in flight).
func (s State) opening() bool {
	return s == Connecting || s == AwaitingAuth
}
