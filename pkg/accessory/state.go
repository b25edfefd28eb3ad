package accessory

// State is the lifecycle state of a Server.
type State int

const (
	// StateIdle means the server is not running. No connections exist.
	StateIdle State = iota

	// StateRunning means the server accepts connections.
	StateRunning

	// StateStopping means Stop was called while a connection was open. The
	// server becomes idle once it closes.
	StateStopping
)

// String returns a human-readable name for the state.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "Idle"
	case StateRunning:
		return "Running"
	case StateStopping:
		return "Stopping"
	default:
		return "Unknown"
	}
}
