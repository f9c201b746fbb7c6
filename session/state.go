package session

// State is the camera lifecycle state of a session
type State int

const (
	StateIdle State = iota
	StateStarting
	StateRunning
	StateStopping
	// StateError is transient: the failure is surfaced and the session
	// settles back to StateIdle.
	StateError
)

func (s State) String() string {
	switch s {
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	case StateError:
		return "error"
	default:
		return "idle"
	}
}

// StopReason records who asked for a stop
type StopReason int

const (
	ReasonUser StopReason = iota
	ReasonIdle
	ReasonRestart
)

func (r StopReason) String() string {
	switch r {
	case ReasonIdle:
		return "idle"
	case ReasonRestart:
		return "restart"
	default:
		return "user"
	}
}
