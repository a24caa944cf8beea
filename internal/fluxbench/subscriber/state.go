package subscriber

// State is the lifecycle position of a Subscriber.
type State int32

const (
	StateInit State = iota
	StateConnecting
	StateSubscribed
	// StateReconnecting is only entered when reconnection is enabled.
	StateReconnecting
	// StateClosed is terminal.
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "init"
	case StateConnecting:
		return "connecting"
	case StateSubscribed:
		return "subscribed"
	case StateReconnecting:
		return "reconnecting"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}
