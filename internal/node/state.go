package node

type State int

const (
	Initializing State = iota
	Connecting
	Idle
	Sleeping
	Reporting
	ResponseWait
	Error
)

var stateNames = [...]string{"Initialize", "Connecting", "Idle", "Sleeping", "Reporting", "Response Wait", "Error"}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "Unknown"
	}
	return stateNames[s]
}
