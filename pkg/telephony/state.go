package telephony

// State is a call session's lifecycle position.
type State int

const (
	// StateConnected: transport accepted, start event not yet seen.
	StateConnected State = iota
	// StateStarted: stream token and caller metadata recorded.
	StateStarted
	// StateActive: at least one inbound audio event handled.
	StateActive
	// StateStopped: provider signalled call end; lead handoff done.
	StateStopped
	// StateClosed: transport gone. Terminal.
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnected:
		return "CONNECTED"
	case StateStarted:
		return "STARTED"
	case StateActive:
		return "ACTIVE"
	case StateStopped:
		return "STOPPED"
	case StateClosed:
		return "CLOSED"
	}
	return "UNKNOWN"
}

var validTransitions = map[State][]State{
	StateConnected: {StateStarted, StateClosed},
	StateStarted:   {StateActive, StateStopped, StateClosed},
	StateActive:    {StateStopped, StateClosed},
	StateStopped:   {StateClosed},
}

func transitionValid(from, to State) bool {
	for _, allowed := range validTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}
