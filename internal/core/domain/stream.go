package domain

// LocalStream is an opaque handle to locally captured media. Its lifecycle
// belongs to the MediaSource that produced it; sessions only hold a
// reference and must not stop tracks they do not own.
type LocalStream interface {
	ID() string
}

// RemoteStream is an opaque handle to media received from the peer,
// produced by the negotiation engine once the transport connects.
type RemoteStream interface {
	ID() string
}

// Connectivity is the engine's view of the underlying transport.
type Connectivity int

const (
	ConnectivityNew Connectivity = iota
	ConnectivityConnecting
	ConnectivityConnected
	ConnectivityDisconnected
	ConnectivityFailed
	ConnectivityClosed
)

func (c Connectivity) String() string {
	switch c {
	case ConnectivityNew:
		return "new"
	case ConnectivityConnecting:
		return "connecting"
	case ConnectivityConnected:
		return "connected"
	case ConnectivityDisconnected:
		return "disconnected"
	case ConnectivityFailed:
		return "failed"
	case ConnectivityClosed:
		return "closed"
	default:
		return "unknown"
	}
}
