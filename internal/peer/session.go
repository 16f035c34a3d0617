package peer

import (
	"context"
	"errors"

	"github.com/1ureka/peercall/internal/signaling"
	"github.com/1ureka/peercall/internal/util"
)

// SessionConfig describes this peer's role in the call.
type SessionConfig struct {
	// Polite peers yield when both sides offer at once: they roll back their
	// own offer and answer the remote one. Exactly one side must be polite.
	Polite bool
	// Initiator sends the first offer on Start and re-offers after a reset.
	Initiator bool
}

// Session connects the negotiation core to the signaling channel: it turns
// inbound messages into negotiation steps, resolves glare, forwards local
// candidates and re-offers after recovery.
type Session struct {
	m   *Manager
	neg *Negotiator
	out signaling.Sender
	cfg SessionConfig

	ctx context.Context
}

// NewSession wires a Session to m and rec. It must be created before
// Start so that the first engine handle is observed.
func NewSession(m *Manager, rec *Recovery, out signaling.Sender, cfg SessionConfig) *Session {
	s := &Session{
		m:   m,
		neg: NewNegotiator(m),
		out: out,
		cfg: cfg,
		ctx: context.Background(),
	}

	m.Subscribe(Observer{OnICECandidate: s.forwardCandidate})
	rec.OnRestart(s.afterRestart)
	rec.OnReset(s.afterReset)

	return s
}

// Negotiator returns the Negotiator the Session drives.
func (s *Session) Negotiator() *Negotiator { return s.neg }

// Start constructs the first engine handle and, for the initiator, sends the
// first offer.
func (s *Session) Start(ctx context.Context) error {
	s.ctx = ctx

	if _, err := s.m.Initialize(ctx); err != nil {
		return err
	}
	if s.cfg.Initiator {
		return s.Renegotiate(ctx)
	}
	return nil
}

// Renegotiate creates a fresh offer and sends it. It does nothing when the
// connection is mid-negotiation.
func (s *Session) Renegotiate(ctx context.Context) error {
	offer, err := s.neg.CreateOffer(ctx)
	if offer == nil {
		return err
	}
	return s.out.Send(ctx, signaling.Message{Type: signaling.MsgTypeOffer, SDP: offer.SDP})
}

// HandleMessage applies one inbound signaling message.
func (s *Session) HandleMessage(ctx context.Context, msg signaling.Message) error {
	switch msg.Type {
	case signaling.MsgTypeOffer:
		return s.handleOffer(ctx, msg.SDP)
	case signaling.MsgTypeAnswer:
		return s.neg.ApplyRemoteAnswer(ctx, msg.SDP)
	case signaling.MsgTypeCandidate:
		return s.neg.AddRemoteCandidate(ctx, msg.Candidate)
	default:
		util.LogWarning("unknown signaling message type %q", msg.Type)
		return nil
	}
}

func (s *Session) handleOffer(ctx context.Context, sdp string) error {
	c := s.m.Current()
	if c != nil && c.answered(sdp) {
		// A relayed repeat must not cost us a pending offer of our own.
		util.LogWarning("%s offer already answered, ignoring", c.tag())
		util.Stats.AddDropped()
		return nil
	}

	// Only a session that is already failing is rebuilt for an offer its
	// engine rejects: the remote may have reset and offered from a fresh
	// handle. A healthy session keeps its handle and reports the failure.
	rebuildOnReject := c != nil && c.hasRemote() && !c.ConnectivityState().healthy()

	if c != nil && c.SignalingState() == SignalingHaveLocalOffer {
		if !s.cfg.Polite {
			util.LogInfo("%s glare: keeping our offer, ignoring the remote one", c.tag())
			util.Stats.AddDropped()
			return nil
		}
		util.LogInfo("%s glare: yielding to the remote offer", c.tag())
		if err := s.neg.Rollback(ctx); err != nil {
			return err
		}
	}

	answer, err := s.neg.CreateAnswer(ctx, sdp)
	if rebuildOnReject && errors.Is(err, ErrEngineOperation) {
		util.LogWarning("%s remote offer rejected, answering from a new connection", c.tag())
		if _, err := s.m.Initialize(ctx); err != nil {
			return err
		}
		util.Stats.AddReset()
		answer, err = s.neg.CreateAnswer(ctx, sdp)
	}
	if answer == nil {
		return err
	}

	return s.out.Send(ctx, signaling.Message{Type: signaling.MsgTypeAnswer, SDP: answer.SDP})
}

func (s *Session) forwardCandidate(c *Connection, candidate string) {
	// Best-effort: a lost candidate only narrows the path search.
	if err := s.out.Send(s.ctx, signaling.Message{Type: signaling.MsgTypeCandidate, Candidate: candidate}); err != nil {
		util.LogDebug("%s candidate not sent: %v", c.tag(), err)
	}
}

func (s *Session) afterRestart(ctx context.Context, c *Connection) {
	if err := s.Renegotiate(ctx); err != nil {
		util.LogError("%s ICE restart offer failed: %v", c.tag(), err)
	}
}

func (s *Session) afterReset(ctx context.Context, c *Connection) {
	if !s.cfg.Initiator {
		util.LogInfo("%s waiting for the remote peer to offer", c.tag())
		return
	}
	if err := s.Renegotiate(ctx); err != nil {
		util.LogError("%s offer after reset failed: %v", c.tag(), err)
	}
}
