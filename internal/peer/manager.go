// Package peer is the negotiation core of a one-to-one call: it owns the
// engine handle, sequences offer/answer against the signaling state, and
// recovers the session when connectivity fails.
package peer

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"go.uber.org/multierr"
	"golang.org/x/sync/semaphore"

	"github.com/1ureka/peercall/internal/util"
)

// Observer receives notifications from whichever engine handle is current.
// Nil fields are skipped. Every notification carries the Connection it came
// from so receivers can tell a stale handle from the live one.
type Observer struct {
	OnConnectivityStateChange func(*Connection, ConnectivityState)
	OnSignalingStateChange    func(*Connection, SignalingState)
	OnICECandidate            func(*Connection, string)
}

// Manager owns at most one live Connection. It constructs, tears down and
// replaces the engine handle, and holds the single negotiation lock that every
// state-changing call on the handle goes through.
type Manager struct {
	factory    EngineFactory
	iceServers []string

	lock      *semaphore.Weighted
	resetting atomic.Int32 // initialize/close calls in progress

	mu        sync.Mutex
	conn      *Connection
	closed    bool
	observers []Observer
	step      context.CancelFunc // cancels the step holding the lock, if any
}

// NewManager creates a Manager. No engine exists until Initialize is called.
func NewManager(factory EngineFactory, iceServers []string) *Manager {
	return &Manager{
		factory:    factory,
		iceServers: append([]string(nil), iceServers...),
		lock:       semaphore.NewWeighted(1),
	}
}

// Subscribe registers o with every engine handle constructed from now on.
// It must be called before Initialize to observe the first handle.
func (m *Manager) Subscribe(o Observer) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.observers = append(m.observers, o)
}

// Current returns the live Connection, or nil before the first Initialize.
// After Close it returns the closed Connection.
func (m *Manager) Current() *Connection {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.conn
}

// Initialize tears down the current engine handle, if any, and constructs a
// fresh one. Teardown errors are logged, never returned. Observers are bound
// to the new handle before Initialize returns.
func (m *Manager) Initialize(ctx context.Context) (*Connection, error) {
	return m.initialize(ctx, nil)
}

// reset is Initialize on behalf of recovery: it only proceeds while from is
// still the live connection and the manager has not been closed. A nil
// Connection means the reset was skipped.
func (m *Manager) reset(ctx context.Context, from *Connection) (*Connection, error) {
	return m.initialize(ctx, from)
}

func (m *Manager) initialize(ctx context.Context, from *Connection) (*Connection, error) {
	if from != nil && !m.isLive(from) {
		util.LogDebug("%s reset skipped: connection already replaced or closed", from.tag())
		return nil, nil
	}

	m.resetting.Add(1)
	defer m.resetting.Add(-1)

	m.interrupt()
	if err := m.lock.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer m.lock.Release(1)

	m.mu.Lock()
	old, closed := m.conn, m.closed
	m.mu.Unlock()

	if from != nil && (old != from || closed) {
		util.LogDebug("%s reset skipped: connection already replaced or closed", from.tag())
		return nil, nil
	}

	m.teardown(old)

	engine, err := m.factory(m.iceServers)
	if err != nil {
		return nil, fmt.Errorf("failed to create engine: %w", err)
	}

	c := newConnection(engine)

	m.mu.Lock()
	m.conn = c
	m.closed = false
	observers := append([]Observer(nil), m.observers...)
	m.mu.Unlock()

	m.bind(c, observers)
	util.LogInfo("%s engine ready (%d ICE servers)", c.tag(), len(m.iceServers))

	return c, nil
}

// Close releases the current engine handle without constructing a new one.
// It may be called at any time, including while a negotiation step is in
// flight; that step is interrupted and the handle is released once it
// returns. Calling Close again is a no-op.
func (m *Manager) Close() error {
	m.resetting.Add(1)
	defer m.resetting.Add(-1)

	m.interrupt()
	// The lock is taken without a deadline: releasing the handle is not optional.
	if err := m.lock.Acquire(context.Background(), 1); err != nil {
		return err
	}
	defer m.lock.Release(1)

	m.mu.Lock()
	c := m.conn
	m.closed = true
	m.mu.Unlock()

	m.teardown(c)
	return nil
}

// RestartConnectivity asks the engine of c to re-run ICE in place. It
// returns ErrDropped when c is no longer the live connection.
func (m *Manager) RestartConnectivity(ctx context.Context, c *Connection) error {
	l, err := m.acquire(ctx, c, "RestartConnectivity")
	if err != nil {
		return err
	}
	if l == nil {
		return fmt.Errorf("%s RestartConnectivity: %w", c.tag(), ErrDropped)
	}
	defer l.release()

	if err := c.engine.RestartConnectivity(); err != nil {
		return fmt.Errorf("%w: RestartConnectivity: %w", ErrEngineOperation, err)
	}
	return nil
}

func (m *Manager) isLive(c *Connection) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.conn == c && !m.closed
}

// interrupt cancels the step currently holding the negotiation lock so it
// returns promptly. The connection itself is left untouched: it is only
// cancelled by teardown, once a reset or close owns the lock.
func (m *Manager) interrupt() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.step != nil {
		m.step()
	}
}

// teardown stops every transceiver of c and closes its engine. It is
// best-effort: failures are aggregated and logged.
func (m *Manager) teardown(c *Connection) {
	if c == nil || c.closed() {
		return
	}
	c.cancel()

	var err error
	for _, t := range c.engine.Transceivers() {
		err = multierr.Append(err, t.Stop())
	}
	err = multierr.Append(err, c.engine.Close())
	c.markClosed()

	if err != nil {
		util.LogWarning("%s teardown finished with errors: %v", c.tag(), err)
		return
	}
	util.LogDebug("%s engine released", c.tag())
}

// bind routes the engine's notifications for c to the observers. Events
// from c are only delivered while c is the live connection.
func (m *Manager) bind(c *Connection, observers []Observer) {
	c.engine.OnConnectivityStateChange(func(state ConnectivityState) {
		if m.Current() != c {
			return
		}
		util.LogInfo("%s ICE connection state: %s", c.tag(), state)
		c.setConnectivity(state)
		for _, o := range observers {
			if o.OnConnectivityStateChange != nil {
				o.OnConnectivityStateChange(c, state)
			}
		}
	})

	c.engine.OnSignalingStateChange(func(state SignalingState) {
		if m.Current() != c {
			return
		}
		util.LogDebug("%s engine signaling state: %s", c.tag(), state)
		for _, o := range observers {
			if o.OnSignalingStateChange != nil {
				o.OnSignalingStateChange(c, state)
			}
		}
	})

	c.engine.OnICECandidate(func(candidate string) {
		if m.Current() != c || c.closed() {
			return
		}
		for _, o := range observers {
			if o.OnICECandidate != nil {
				o.OnICECandidate(c, candidate)
			}
		}
	})
}

// lease is the negotiation lock held on behalf of one call against one
// connection. ctx is cancelled when either the caller's context or the
// connection is.
type lease struct {
	ctx     context.Context
	conn    *Connection
	release func()
}

// acquire takes the negotiation lock for op. When want is non-nil the call
// is bound to that connection, otherwise to whichever is live. A nil lease
// with a nil error means the call was dropped: a reset or close is in
// progress, or the connection was replaced while waiting.
func (m *Manager) acquire(ctx context.Context, want *Connection, op string) (*lease, error) {
	c := want
	if c == nil {
		c = m.Current()
	}
	if c == nil {
		util.LogWarning("%s dropped: no connection", op)
		util.Stats.AddDropped()
		return nil, nil
	}
	if m.resetting.Load() > 0 {
		util.LogWarning("%s %s dropped: reset in progress", c.tag(), op)
		util.Stats.AddDropped()
		return nil, nil
	}

	if err := m.lock.Acquire(ctx, 1); err != nil {
		return nil, err
	}

	stepCtx, cancel := context.WithCancel(ctx)

	// Checked and registered together so a reset starting now either sees
	// this step in interrupt or makes it drop here.
	m.mu.Lock()
	if m.conn != c || m.resetting.Load() > 0 {
		m.mu.Unlock()
		cancel()
		m.lock.Release(1)
		util.LogWarning("%s %s dropped: connection replaced", c.tag(), op)
		util.Stats.AddDropped()
		return nil, nil
	}
	m.step = cancel
	m.mu.Unlock()

	stop := context.AfterFunc(c.ctx, cancel)

	return &lease{
		ctx:  stepCtx,
		conn: c,
		release: func() {
			m.mu.Lock()
			m.step = nil
			m.mu.Unlock()

			stop()
			cancel()
			m.lock.Release(1)
		},
	}, nil
}
