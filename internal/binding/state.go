package binding

// State is the lifecycle position of a binding.
type State int

const (
	Idle State = iota
	Connecting
	Subscribed
	Announced
	Closed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Connecting:
		return "connecting"
	case Subscribed:
		return "subscribed"
	case Announced:
		return "announced"
	case Closed:
		return "closed"
	default:
		return "unknown"
	}
}

// Condition is the coarse connection fact exposed to consumers.
type Condition string

const (
	ConditionIdle         Condition = "idle"
	ConditionConnecting   Condition = "connecting"
	ConditionConnected    Condition = "connected"
	ConditionDegraded     Condition = "degraded"
	ConditionFailed       Condition = "connection_failed"
	ConditionDisconnected Condition = "disconnected"
	ConditionClosed       Condition = "closed"
)
