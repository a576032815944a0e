package transfer

// Signal is a control message for a running transfer.
type Signal int

const (
	Pause Signal = iota + 1
	Resume
	Cancel
)

func (s Signal) String() string {
	switch s {
	case Pause:
		return "pause"
	case Resume:
		return "resume"
	case Cancel:
		return "cancel"
	default:
		return "unknown"
	}
}

// ParseSignal maps an action name to its Signal.
func ParseSignal(action string) (Signal, bool) {
	switch action {
	case "pause":
		return Pause, true
	case "resume":
		return Resume, true
	case "cancel":
		return Cancel, true
	default:
		return 0, false
	}
}
