package session

import "fmt"

// State is the session manager's connection state.
type State int32

// Session states.
const (
	Disconnected State = iota
	Connecting
	Subscribing
	Ready
	Reconnecting
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Subscribing:
		return "subscribing"
	case Ready:
		return "ready"
	case Reconnecting:
		return "reconnecting"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}
