package peer

// SignalingState is the local bookkeeping of offer/answer progress.
type SignalingState int

const (
	SignalingStable SignalingState = iota
	SignalingHaveLocalOffer
	SignalingHaveRemoteOffer
	SignalingClosed
)

func (s SignalingState) String() string {
	switch s {
	case SignalingStable:
		return "stable"
	case SignalingHaveLocalOffer:
		return "have-local-offer"
	case SignalingHaveRemoteOffer:
		return "have-remote-offer"
	case SignalingClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// ConnectivityState follows the engine's ICE connection state. It is an axis
// independent of SignalingState: connectivity can fail while signaling is Stable.
type ConnectivityState int

const (
	ConnectivityNew ConnectivityState = iota
	ConnectivityChecking
	ConnectivityConnected
	ConnectivityCompleted
	ConnectivityFailed
	ConnectivityDisconnected
	ConnectivityClosed
)

func (s ConnectivityState) String() string {
	switch s {
	case ConnectivityNew:
		return "new"
	case ConnectivityChecking:
		return "checking"
	case ConnectivityConnected:
		return "connected"
	case ConnectivityCompleted:
		return "completed"
	case ConnectivityFailed:
		return "failed"
	case ConnectivityDisconnected:
		return "disconnected"
	case ConnectivityClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// healthy reports whether media can flow.
func (s ConnectivityState) healthy() bool {
	return s == ConnectivityConnected || s == ConnectivityCompleted
}
