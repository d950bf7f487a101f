package supervisor

// State is a step of the supervisor lifecycle:
// Init -> Daemonized -> Forked -> Waiting -> Done | Failed.
type State int

const (
	StateInit State = iota
	StateDaemonized
	StateForked
	StateWaiting
	StateDone
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "init"
	case StateDaemonized:
		return "daemonized"
	case StateForked:
		return "forked"
	case StateWaiting:
		return "waiting"
	case StateDone:
		return "done"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further transition can happen.
func (s State) Terminal() bool { return s == StateDone || s == StateFailed }
