package lifecycle

// State is the connection state owned by the Manager.
type State int

const (
	Disconnected State = iota
	Connecting
	AwaitingScan
	Open
	ClosingForReset
)

func (s State) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case AwaitingScan:
		return "awaiting_scan"
	case Open:
		return "open"
	case ClosingForReset:
		return "closing_for_reset"
	default:
		return "disconnected"
	}
}

// Snapshot is a point-in-time copy of the manager's state.
type Snapshot struct {
	Transport         string `json:"transport"`
	State             string `json:"state"`
	QR                string `json:"qr,omitempty"`
	AuthFailures      int    `json:"auth_failures"`
	StreamErrors      int    `json:"stream_errors"`
	SetupFailures     int    `json:"setup_failures"`
	ReconnectInFlight bool   `json:"reconnect_in_flight"`
}
