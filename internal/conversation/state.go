package conversation

// State describes a single in-flight exchange. Exactly one exchange exists
// per conversation at a time; a new send first cancels the previous one.
type State int

const (
	StateIdle State = iota
	StateSending
	StateStreaming
	StateCompleted
	StateAborted
	StateErrored
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateSending:
		return "sending"
	case StateStreaming:
		return "streaming"
	case StateCompleted:
		return "completed"
	case StateAborted:
		return "aborted"
	case StateErrored:
		return "errored"
	default:
		return "unknown"
	}
}

// Terminal reports whether a new send may begin from this state.
func (s State) Terminal() bool {
	switch s {
	case StateIdle, StateCompleted, StateAborted, StateErrored:
		return true
	default:
		return false
	}
}
