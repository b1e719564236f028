package component

// State represents the lifecycle state of a worker
type State int

const (
	// StateCreated indicates the worker exists but has not run
	StateCreated State = iota
	// StateRunning indicates the worker loop is executing
	StateRunning
	// StateStopped indicates the worker exited on request
	StateStopped
	// StateFailed indicates the worker exited on its own or never started
	StateFailed
)

// String returns a string representation of the state
func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateRunning:
		return "running"
	case StateStopped:
		return "stopped"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// MarshalText lets states appear as strings in JSON status documents.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}
