package peer

import (
	"context"
	"errors"
)

var (
	// ErrEngineOperation wraps every failure reported by the native engine
	// while creating or applying a description.
	ErrEngineOperation = errors.New("engine operation failed")

	// ErrDropped is returned by RestartConnectivity when the connection was
	// replaced or a reset is in progress, so nothing reached the engine.
	ErrDropped = errors.New("call dropped")
)

// SDPType tells the engine how to apply a Description.
type SDPType string

const (
	SDPTypeOffer    SDPType = "offer"
	SDPTypeAnswer   SDPType = "answer"
	SDPTypeRollback SDPType = "rollback"
)

// Description is an SDP blob plus its role in the exchange. The SDP itself
// is opaque to this package.
type Description struct {
	Type SDPType
	SDP  string
}

// Transceiver is a media transceiver held by the engine.
type Transceiver interface {
	Stop() error
}

// Engine is the native media engine a Connection drives. It performs the
// actual media and ICE work; this package only sequences calls into it.
//
// Callbacks registered with On* may be invoked from any goroutine and must not
// be assumed to run after the call that triggered them has returned.
type Engine interface {
	CreateOffer(ctx context.Context) (Description, error)
	CreateAnswer(ctx context.Context) (Description, error)
	SetLocalDescription(ctx context.Context, desc Description) error
	SetRemoteDescription(ctx context.Context, desc Description) error
	AddICECandidate(ctx context.Context, candidate string) error

	// RestartConnectivity marks the session for an ICE restart; the next
	// CreateOffer carries fresh ICE credentials.
	RestartConnectivity() error

	Transceivers() []Transceiver
	Close() error

	OnConnectivityStateChange(fn func(ConnectivityState))
	OnSignalingStateChange(fn func(SignalingState))
	// OnICECandidate delivers each gathered local candidate, encoded for the
	// signaling channel.
	OnICECandidate(fn func(candidate string))
}

// EngineFactory constructs a fresh engine configured with the given
// connectivity-helper server URLs.
type EngineFactory func(iceServers []string) (Engine, error)
