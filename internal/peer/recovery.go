package peer

import (
	"context"
	"errors"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/1ureka/peercall/internal/util"
)

const eventBufferSize = 64

// RecoveryOption configures a Recovery.
type RecoveryOption func(*Recovery)

// WithMaxRestarts sets how many consecutive in-place restarts are tried
// before the engine handle is replaced.
func WithMaxRestarts(n int) RecoveryOption {
	return func(r *Recovery) { r.maxRestarts = n }
}

// WithDisconnectGrace sets how long Disconnected may last before it is
// handled as Failed.
func WithDisconnectGrace(d time.Duration) RecoveryOption {
	return func(r *Recovery) { r.grace = d }
}

// WithClock replaces the wall clock used for the grace timer.
func WithClock(c clock.Clock) RecoveryOption {
	return func(r *Recovery) { r.clock = c }
}

// Recovery watches the connectivity state of the live connection and
// restarts ICE in place when it fails, escalating to a full reset after
// maxRestarts consecutive attempts that never reached Connected.
type Recovery struct {
	m           *Manager
	maxRestarts int
	grace       time.Duration
	clock       clock.Clock

	events chan recoveryEvent

	onRestart func(context.Context, *Connection)
	onReset   func(context.Context, *Connection)

	// owned by Run
	graceTimer *clock.Timer
	graceConn  *Connection
	graceSeq   uint64
}

type recoveryEvent struct {
	conn         *Connection
	state        ConnectivityState
	graceExpired bool
	graceSeq     uint64
}

// NewRecovery creates a Recovery and subscribes it to m. Events are only
// acted on while Run is running.
func NewRecovery(m *Manager, opts ...RecoveryOption) *Recovery {
	r := &Recovery{
		m:           m,
		maxRestarts: 3,
		grace:       5 * time.Second,
		clock:       clock.New(),
		events:      make(chan recoveryEvent, eventBufferSize),
	}
	for _, opt := range opts {
		opt(r)
	}

	m.Subscribe(Observer{
		OnConnectivityStateChange: func(c *Connection, state ConnectivityState) {
			r.enqueue(recoveryEvent{conn: c, state: state})
		},
	})

	return r
}

// OnRestart registers fn to run after an in-place connectivity restart, with
// the restarted connection. It is where a fresh offer gets sent.
func (r *Recovery) OnRestart(fn func(context.Context, *Connection)) { r.onRestart = fn }

// OnReset registers fn to run after a hard reset, with the new connection.
func (r *Recovery) OnReset(fn func(context.Context, *Connection)) { r.onReset = fn }

// Run processes connectivity events until ctx is cancelled.
func (r *Recovery) Run(ctx context.Context) error {
	defer r.stopGrace()

	for {
		select {
		case ev := <-r.events:
			r.handle(ctx, ev)
		case <-ctx.Done():
			return nil
		}
	}
}

func (r *Recovery) enqueue(ev recoveryEvent) {
	select {
	case r.events <- ev:
	default:
		util.LogWarning("%s recovery event dropped: queue full", ev.conn.tag())
	}
}

func (r *Recovery) handle(ctx context.Context, ev recoveryEvent) {
	c := ev.conn
	if !r.m.isLive(c) {
		return
	}

	if ev.graceExpired {
		if c != r.graceConn || ev.graceSeq != r.graceSeq {
			return
		}
		r.graceTimer, r.graceConn = nil, nil
		if st := c.ConnectivityState(); !st.healthy() {
			util.LogWarning("%s not reconnected after %s (%s), treating as failed", c.tag(), r.grace, st)
			r.escalate(ctx, c)
		}
		return
	}

	switch ev.state {
	case ConnectivityConnected, ConnectivityCompleted:
		r.stopGrace()
		c.resetRestartAttempts()

	case ConnectivityFailed:
		r.stopGrace()
		r.escalate(ctx, c)

	case ConnectivityDisconnected:
		r.startGrace(c)

	case ConnectivityClosed:
		r.stopGrace()
	}
}

// escalate restarts ICE on c, or replaces the engine handle once the restart
// budget is spent.
func (r *Recovery) escalate(ctx context.Context, c *Connection) {
	if c.RestartAttempts() >= r.maxRestarts {
		util.LogWarning("%s %d restarts without recovery, resetting connection", c.tag(), c.RestartAttempts())

		next, err := r.m.reset(ctx, c)
		if err != nil {
			util.LogError("%s reset failed: %v", c.tag(), err)
			return
		}
		if next == nil {
			return
		}

		util.Stats.AddReset()
		if r.onReset != nil {
			r.onReset(ctx, next)
		}
		return
	}

	attempt := c.addRestartAttempt()
	util.LogWarning("%s connectivity lost, ICE restart %d/%d", c.tag(), attempt, r.maxRestarts)

	if err := r.m.RestartConnectivity(ctx, c); err != nil {
		if errors.Is(err, ErrDropped) {
			util.LogDebug("%s ICE restart skipped: %v", c.tag(), err)
			return
		}
		util.LogError("%s ICE restart failed: %v", c.tag(), err)
		return
	}

	util.Stats.AddRestart()
	if r.onRestart != nil {
		r.onRestart(ctx, c)
	}
}

func (r *Recovery) startGrace(c *Connection) {
	if r.graceConn == c {
		return
	}
	r.stopGrace()

	r.graceSeq++
	seq := r.graceSeq
	r.graceConn = c
	r.graceTimer = r.clock.AfterFunc(r.grace, func() {
		r.enqueue(recoveryEvent{conn: c, graceExpired: true, graceSeq: seq})
	})
}

func (r *Recovery) stopGrace() {
	if r.graceTimer != nil {
		r.graceTimer.Stop()
	}
	r.graceTimer, r.graceConn = nil, nil
}
