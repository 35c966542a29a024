package component

// State is a handler's scheduler state, kept by its Runner.
type State int

const (
	// StateInert: constructed, ports unconnected, no run-loop
	StateInert State = iota
	// StateActivated: owned by a runtime, run-loop being started
	StateActivated
	// StateRunning: run-loop consuming ticks
	StateRunning
	// StateDeactivating: stop requested, waiting for the run-loop
	StateDeactivating
	// StateStopped: run-loop finished or abandoned
	StateStopped
)

// String returns a string representation of the state
func (s State) String() string {
	switch s {
	case StateInert:
		return "inert"
	case StateActivated:
		return "activated"
	case StateRunning:
		return "running"
	case StateDeactivating:
		return "deactivating"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// ParseState is the inverse of State.String.
func ParseState(s string) (State, bool) {
	for st := StateInert; st <= StateStopped; st++ {
		if st.String() == s {
			return st, true
		}
	}
	return StateInert, false
}
