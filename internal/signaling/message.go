// Package signaling relays offer/answer/candidate messages between the two
// peers over a WebSocket. It knows nothing about negotiation state; it only
// frames and moves messages.
package signaling

import "context"

// MessageType identifies the kind of signaling message.
type MessageType string

const (
	MsgTypeOffer     MessageType = "offer"
	MsgTypeAnswer    MessageType = "answer"
	MsgTypeCandidate MessageType = "candidate"
)

// Message is the JSON structure exchanged over the WebSocket during signaling.
type Message struct {
	Type      MessageType `json:"type"`
	SDP       string      `json:"sdp,omitempty"`
	Candidate string      `json:"candidate,omitempty"` // JSON-encoded ICECandidateInit
}

// Sender delivers a message to the remote peer.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}
