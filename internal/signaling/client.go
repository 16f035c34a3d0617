package signaling

import (
	"context"
	"fmt"

	"github.com/gorilla/websocket"
)

// Dial connects to the host's signaling server. The URL should include the
// PIN as a query parameter, e.g.:
//
//	wss://example.devtunnels.ms/ws?pin=1234
func Dial(ctx context.Context, url string) (*Conn, error) {
	dialer := websocket.DefaultDialer
	ws, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to WS server: %w", err)
	}
	return newConn(ws), nil
}
