package peer

import (
	"context"
	"fmt"

	"github.com/1ureka/peercall/internal/util"
)

// Negotiator sequences offer/answer steps on the Manager's live connection.
// Every step is checked against the signaling state before the engine is
// touched. A step requested in the wrong state is logged and skipped rather
// than failed: signaling messages may arrive late or twice over the relay, and
// a stale message must not tear the session down.
type Negotiator struct {
	m *Manager
}

// NewNegotiator returns a Negotiator driving m's connections.
func NewNegotiator(m *Manager) *Negotiator {
	return &Negotiator{m: m}
}

// CreateOffer creates a local offer and applies it. It is only legal in
// Stable; otherwise, or when the call is dropped, it returns nil, nil.
func (n *Negotiator) CreateOffer(ctx context.Context) (*Description, error) {
	l, err := n.m.acquire(ctx, nil, "CreateOffer")
	if l == nil {
		return nil, err
	}
	defer l.release()
	c := l.conn

	if st := c.SignalingState(); st != SignalingStable {
		illegal(c, "CreateOffer", st)
		return nil, nil
	}

	offer, err := c.engine.CreateOffer(l.ctx)
	if err != nil {
		return nil, failed(c, "CreateOffer", err)
	}
	if err := c.engine.SetLocalDescription(l.ctx, offer); err != nil {
		return nil, failed(c, "SetLocalDescription(offer)", err)
	}

	c.setLocal(offer, SignalingHaveLocalOffer)
	util.Stats.AddOffer()
	util.LogDebug("%s local offer applied", c.tag())

	return &offer, nil
}

// CreateAnswer applies sdp as the remote offer, then creates and applies the
// local answer. It is legal in Stable and HaveRemoteOffer. A repeat of the
// offer that was just answered is treated as a duplicate and skipped.
func (n *Negotiator) CreateAnswer(ctx context.Context, sdp string) (*Description, error) {
	l, err := n.m.acquire(ctx, nil, "CreateAnswer")
	if l == nil {
		return nil, err
	}
	defer l.release()
	c := l.conn

	st := c.SignalingState()
	if st != SignalingStable && st != SignalingHaveRemoteOffer {
		illegal(c, "CreateAnswer", st)
		return nil, nil
	}
	if c.answered(sdp) {
		util.LogWarning("%s CreateAnswer skipped: offer already answered", c.tag())
		util.Stats.AddDropped()
		return nil, nil
	}

	remote := Description{Type: SDPTypeOffer, SDP: sdp}
	if err := c.engine.SetRemoteDescription(l.ctx, remote); err != nil {
		return nil, failed(c, "SetRemoteDescription(offer)", err)
	}
	c.setRemote(remote, SignalingHaveRemoteOffer)
	n.flushCandidates(l)

	answer, err := c.engine.CreateAnswer(l.ctx)
	if err != nil {
		return nil, failed(c, "CreateAnswer", err)
	}
	if err := c.engine.SetLocalDescription(l.ctx, answer); err != nil {
		return nil, failed(c, "SetLocalDescription(answer)", err)
	}

	c.setLocal(answer, SignalingStable)
	util.Stats.AddAnswer()
	util.LogDebug("%s local answer applied", c.tag())

	return &answer, nil
}

// ApplyRemoteAnswer applies sdp as the answer to our outstanding offer. It is
// only legal in HaveLocalOffer; otherwise it is a logged no-op.
func (n *Negotiator) ApplyRemoteAnswer(ctx context.Context, sdp string) error {
	l, err := n.m.acquire(ctx, nil, "ApplyRemoteAnswer")
	if l == nil {
		return err
	}
	defer l.release()
	c := l.conn

	if st := c.SignalingState(); st != SignalingHaveLocalOffer {
		illegal(c, "ApplyRemoteAnswer", st)
		return nil
	}

	remote := Description{Type: SDPTypeAnswer, SDP: sdp}
	if err := c.engine.SetRemoteDescription(l.ctx, remote); err != nil {
		return failed(c, "SetRemoteDescription(answer)", err)
	}
	c.setRemote(remote, SignalingStable)
	n.flushCandidates(l)

	util.LogDebug("%s remote answer applied", c.tag())
	return nil
}

// Rollback discards our outstanding local offer and returns to Stable. It is
// only legal in HaveLocalOffer; a glare policy uses it to yield to the
// remote peer's offer.
func (n *Negotiator) Rollback(ctx context.Context) error {
	l, err := n.m.acquire(ctx, nil, "Rollback")
	if l == nil {
		return err
	}
	defer l.release()
	c := l.conn

	if st := c.SignalingState(); st != SignalingHaveLocalOffer {
		illegal(c, "Rollback", st)
		return nil
	}

	if err := c.engine.SetLocalDescription(l.ctx, Description{Type: SDPTypeRollback}); err != nil {
		return failed(c, "SetLocalDescription(rollback)", err)
	}
	c.rollback()

	util.LogInfo("%s local offer rolled back", c.tag())
	return nil
}

// AddRemoteCandidate hands a remote ICE candidate to the engine. Candidates
// that arrive before any remote description are queued and applied, in
// arrival order, as soon as one is set.
func (n *Negotiator) AddRemoteCandidate(ctx context.Context, candidate string) error {
	l, err := n.m.acquire(ctx, nil, "AddRemoteCandidate")
	if l == nil {
		return err
	}
	defer l.release()
	c := l.conn

	if st := c.SignalingState(); st == SignalingClosed {
		illegal(c, "AddRemoteCandidate", st)
		return nil
	}

	if !c.hasRemote() {
		c.queueCandidate(candidate)
		util.LogDebug("%s candidate queued until a remote description is set", c.tag())
		return nil
	}

	if err := c.engine.AddICECandidate(l.ctx, candidate); err != nil {
		return failed(c, "AddICECandidate", err)
	}
	return nil
}

// flushCandidates applies every queued candidate. Failures are logged and do
// not affect the negotiation step that triggered the flush.
func (n *Negotiator) flushCandidates(l *lease) {
	pending := l.conn.takePending()
	for _, candidate := range pending {
		if err := l.conn.engine.AddICECandidate(l.ctx, candidate); err != nil {
			util.LogWarning("%s queued candidate rejected: %v", l.conn.tag(), err)
		}
	}
	if len(pending) > 0 {
		util.LogDebug("%s applied %d queued candidates", l.conn.tag(), len(pending))
	}
}

func illegal(c *Connection, op string, st SignalingState) {
	util.LogWarning("%s %s ignored in signaling state %s", c.tag(), op, st)
	util.Stats.AddDropped()
}

func failed(c *Connection, op string, err error) error {
	util.LogError("%s %s failed: %v", c.tag(), op, err)
	return fmt.Errorf("%w: %s: %w", ErrEngineOperation, op, err)
}
