package signaling

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const writeTimeout = 10 * time.Second

// Conn is an established signaling link. Send may be called from any
// goroutine; Watch must have a single caller.
type Conn struct {
	ws *websocket.Conn

	mu        sync.Mutex
	closeOnce sync.Once
}

var _ Sender = (*Conn)(nil)

func newConn(ws *websocket.Conn) *Conn {
	return &Conn{ws: ws}
}

// Send writes a signaling message to the WebSocket, guarded by a mutex.
func (c *Conn) Send(ctx context.Context, msg Message) error {
	deadline := time.Now().Add(writeTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	c.ws.SetWriteDeadline(deadline)
	if err := c.ws.WriteJSON(msg); err != nil {
		return fmt.Errorf("failed to send %s: %w", msg.Type, err)
	}
	return nil
}

// Watch reads messages and hands each to fn until the connection fails or
// ctx is cancelled. Cancelling ctx closes the connection. A clean close by
// the remote peer returns nil.
func (c *Conn) Watch(ctx context.Context, fn func(Message)) error {
	stop := context.AfterFunc(ctx, func() { c.Close() })
	defer stop()

	for {
		var msg Message
		if err := c.ws.ReadJSON(&msg); err != nil {
			if ctx.Err() != nil || websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return fmt.Errorf("failed to read WS message: %w", err)
		}
		fn(msg)
	}
}

// Close closes the underlying WebSocket. Safe to call multiple times.
func (c *Conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		err = c.ws.Close()
	})
	return err
}
