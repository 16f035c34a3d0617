// Package engine implements the native media engine on pion/webrtc. It is
// a thin adapter: all sequencing decisions live in package peer.
package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/pion/webrtc/v4"

	"github.com/1ureka/peercall/internal/peer"
)

// Engine wraps a single pion PeerConnection.
type Engine struct {
	pc *webrtc.PeerConnection

	mu             sync.Mutex
	iceRestart     bool // next offer regenerates ICE credentials
	restartApplied bool // the applied local offer is a restart offer awaiting its answer
}

var _ peer.Engine = (*Engine)(nil)

// New creates an Engine configured with the given STUN servers.
func New(iceServers []string) (*Engine, error) {
	pc, err := newPeerConnection(iceServers)
	if err != nil {
		return nil, fmt.Errorf("failed to create PeerConnection: %w", err)
	}
	return &Engine{pc: pc}, nil
}

// Factory adapts New to peer.EngineFactory.
func Factory(iceServers []string) (peer.Engine, error) {
	return New(iceServers)
}

// ---------------------------------------------------------------------------
// Signaling
// ---------------------------------------------------------------------------

// CreateOffer generates an SDP offer. After RestartConnectivity every offer
// carries fresh ICE credentials until one of them is applied locally.
func (e *Engine) CreateOffer(ctx context.Context) (peer.Description, error) {
	if err := ctx.Err(); err != nil {
		return peer.Description{}, err
	}

	e.mu.Lock()
	restart := e.iceRestart
	e.mu.Unlock()

	var opts *webrtc.OfferOptions
	if restart {
		opts = &webrtc.OfferOptions{ICERestart: true}
	}

	offer, err := e.pc.CreateOffer(opts)
	if err != nil {
		return peer.Description{}, err
	}
	return fromPion(offer), nil
}

// CreateAnswer generates an SDP answer.
func (e *Engine) CreateAnswer(ctx context.Context) (peer.Description, error) {
	if err := ctx.Err(); err != nil {
		return peer.Description{}, err
	}
	answer, err := e.pc.CreateAnswer(nil)
	if err != nil {
		return peer.Description{}, err
	}
	return fromPion(answer), nil
}

// SetLocalDescription applies the local SDP. A rollback without SDP reuses
// the pending local offer, which pion requires to be parseable. Rolling back
// a restart offer re-arms the restart for the next offer.
func (e *Engine) SetLocalDescription(ctx context.Context, desc peer.Description) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	sd := toPion(desc)
	if sd.Type == webrtc.SDPTypeRollback && sd.SDP == "" {
		if pending := e.pc.PendingLocalDescription(); pending != nil {
			sd.SDP = pending.SDP
		}
	}
	if err := e.pc.SetLocalDescription(sd); err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	switch sd.Type {
	case webrtc.SDPTypeOffer:
		e.restartApplied = e.iceRestart
		e.iceRestart = false
	case webrtc.SDPTypeRollback:
		if e.restartApplied {
			e.iceRestart = true
			e.restartApplied = false
		}
	}
	return nil
}

// SetRemoteDescription applies the remote SDP.
func (e *Engine) SetRemoteDescription(ctx context.Context, desc peer.Description) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	sd := toPion(desc)
	if err := e.pc.SetRemoteDescription(sd); err != nil {
		return err
	}
	if sd.Type == webrtc.SDPTypeAnswer {
		e.mu.Lock()
		e.restartApplied = false
		e.mu.Unlock()
	}
	return nil
}

// AddICECandidate adds a remote ICE candidate received through signaling,
// encoded as a JSON ICECandidateInit.
func (e *Engine) AddICECandidate(ctx context.Context, candidate string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	var init webrtc.ICECandidateInit
	if err := json.Unmarshal([]byte(candidate), &init); err != nil {
		return fmt.Errorf("failed to parse ICE candidate: %w", err)
	}
	return e.pc.AddICECandidate(init)
}

// OnICECandidate registers a callback invoked with each gathered local
// candidate, JSON-encoded. The end-of-gathering signal is not forwarded.
func (e *Engine) OnICECandidate(fn func(string)) {
	e.pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			return
		}
		data, err := json.Marshal(c.ToJSON())
		if err != nil {
			return
		}
		fn(string(data))
	})
}

// ---------------------------------------------------------------------------
// Connectivity & lifecycle
// ---------------------------------------------------------------------------

// RestartConnectivity flags an ICE restart for the next offer. Media
// parameters already negotiated are kept.
func (e *Engine) RestartConnectivity() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.iceRestart = true
	return nil
}

// Transceivers returns the media transceivers of the PeerConnection.
func (e *Engine) Transceivers() []peer.Transceiver {
	raw := e.pc.GetTransceivers()
	out := make([]peer.Transceiver, 0, len(raw))
	for _, t := range raw {
		out = append(out, t)
	}
	return out
}

// Close shuts down the PeerConnection.
func (e *Engine) Close() error {
	return e.pc.Close()
}

// OnConnectivityStateChange registers a callback for ICE connection state changes.
func (e *Engine) OnConnectivityStateChange(fn func(peer.ConnectivityState)) {
	e.pc.OnICEConnectionStateChange(func(state webrtc.ICEConnectionState) {
		fn(connectivityFromPion(state))
	})
}

// OnSignalingStateChange registers a callback for signaling state changes.
func (e *Engine) OnSignalingStateChange(fn func(peer.SignalingState)) {
	e.pc.OnSignalingStateChange(func(state webrtc.SignalingState) {
		fn(signalingFromPion(state))
	})
}

// ---------------------------------------------------------------------------
// Conversions
// ---------------------------------------------------------------------------

func toPion(desc peer.Description) webrtc.SessionDescription {
	var typ webrtc.SDPType
	switch desc.Type {
	case peer.SDPTypeOffer:
		typ = webrtc.SDPTypeOffer
	case peer.SDPTypeAnswer:
		typ = webrtc.SDPTypeAnswer
	case peer.SDPTypeRollback:
		typ = webrtc.SDPTypeRollback
	}
	return webrtc.SessionDescription{Type: typ, SDP: desc.SDP}
}

func fromPion(sd webrtc.SessionDescription) peer.Description {
	var typ peer.SDPType
	switch sd.Type {
	case webrtc.SDPTypeOffer:
		typ = peer.SDPTypeOffer
	case webrtc.SDPTypeAnswer, webrtc.SDPTypePranswer:
		typ = peer.SDPTypeAnswer
	case webrtc.SDPTypeRollback:
		typ = peer.SDPTypeRollback
	}
	return peer.Description{Type: typ, SDP: sd.SDP}
}

func connectivityFromPion(state webrtc.ICEConnectionState) peer.ConnectivityState {
	switch state {
	case webrtc.ICEConnectionStateChecking:
		return peer.ConnectivityChecking
	case webrtc.ICEConnectionStateConnected:
		return peer.ConnectivityConnected
	case webrtc.ICEConnectionStateCompleted:
		return peer.ConnectivityCompleted
	case webrtc.ICEConnectionStateFailed:
		return peer.ConnectivityFailed
	case webrtc.ICEConnectionStateDisconnected:
		return peer.ConnectivityDisconnected
	case webrtc.ICEConnectionStateClosed:
		return peer.ConnectivityClosed
	default:
		return peer.ConnectivityNew
	}
}

// signalingFromPion folds the provisional-answer states into the offer
// states they extend.
func signalingFromPion(state webrtc.SignalingState) peer.SignalingState {
	switch state {
	case webrtc.SignalingStateHaveLocalOffer, webrtc.SignalingStateHaveRemotePranswer:
		return peer.SignalingHaveLocalOffer
	case webrtc.SignalingStateHaveRemoteOffer, webrtc.SignalingStateHaveLocalPranswer:
		return peer.SignalingHaveRemoteOffer
	case webrtc.SignalingStateClosed:
		return peer.SignalingClosed
	default:
		return peer.SignalingStable
	}
}
