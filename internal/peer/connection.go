package peer

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// Connection is the single session a Manager owns. It pairs one engine handle
// with the negotiation bookkeeping for it. A Connection is never revived: a
// reset produces a new Connection around a new engine.
type Connection struct {
	ID string

	engine Engine
	ctx    context.Context
	cancel context.CancelFunc

	mu              sync.RWMutex
	signaling       SignalingState
	connectivity    ConnectivityState
	local           *Description
	remote          *Description
	stableLocal     *Description // local description to restore on rollback
	restartAttempts int
	pending         []string // remote candidates waiting for a remote description
}

func newConnection(engine Engine) *Connection {
	ctx, cancel := context.WithCancel(context.Background())
	return &Connection{
		ID:           uuid.NewString(),
		engine:       engine,
		ctx:          ctx,
		cancel:       cancel,
		signaling:    SignalingStable,
		connectivity: ConnectivityNew,
	}
}

// tag is the short log prefix for this connection.
func (c *Connection) tag() string {
	return "[conn " + c.ID[:8] + "]"
}

// SignalingState returns the current offer/answer state.
func (c *Connection) SignalingState() SignalingState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.signaling
}

// ConnectivityState returns the last ICE state reported by the engine.
func (c *Connection) ConnectivityState() ConnectivityState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connectivity
}

// LocalDescription returns the applied local description, if any.
func (c *Connection) LocalDescription() (Description, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.local == nil {
		return Description{}, false
	}
	return *c.local, true
}

// RemoteDescription returns the applied remote description, if any.
func (c *Connection) RemoteDescription() (Description, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.remote == nil {
		return Description{}, false
	}
	return *c.remote, true
}

// RestartAttempts returns the number of connectivity restarts since the
// connection was last healthy.
func (c *Connection) RestartAttempts() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.restartAttempts
}

func (c *Connection) setLocal(desc Description, next SignalingState) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if next == SignalingHaveLocalOffer {
		c.stableLocal = c.local
	}
	c.local = &desc
	c.signaling = next
}

func (c *Connection) setRemote(desc Description, next SignalingState) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.remote = &desc
	c.signaling = next
}

func (c *Connection) rollback() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.local = c.stableLocal
	c.stableLocal = nil
	c.signaling = SignalingStable
}

// answered reports whether sdp is the remote offer this connection already
// answered. It stays true after a later local offer, until a new remote
// description replaces it.
func (c *Connection) answered(sdp string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.signaling != SignalingHaveRemoteOffer &&
		c.remote != nil && c.remote.Type == SDPTypeOffer && c.remote.SDP == sdp
}

func (c *Connection) hasRemote() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.remote != nil
}

func (c *Connection) queueCandidate(candidate string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pending = append(c.pending, candidate)
}

func (c *Connection) takePending() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	pending := c.pending
	c.pending = nil
	return pending
}

func (c *Connection) setConnectivity(state ConnectivityState) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.connectivity == ConnectivityClosed {
		return
	}
	c.connectivity = state
}

func (c *Connection) resetRestartAttempts() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.restartAttempts = 0
}

func (c *Connection) addRestartAttempt() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.restartAttempts++
	return c.restartAttempts
}

func (c *Connection) markClosed() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.signaling = SignalingClosed
	c.connectivity = ConnectivityClosed
	c.pending = nil
}

func (c *Connection) closed() bool {
	return c.SignalingState() == SignalingClosed
}
