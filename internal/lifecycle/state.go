package lifecycle

// State is the lifecycle state of one VM identifier.
type State int

const (
	StateUnregistered State = iota // not in the table
	StateRunning
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateUnregistered:
		return "unregistered"
	case StateRunning:
		return "running"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}
