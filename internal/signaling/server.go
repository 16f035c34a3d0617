package signaling

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"fmt"
	"math/big"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Server accepts the one client of a call on /ws. Clients must present the
// PIN as the "pin" query parameter; once a client is in, later attempts get
// 409 without an upgrade.
type Server struct {
	pin string

	http     *http.Server
	accepted atomic.Bool
	clients  chan *websocket.Conn
}

func NewServer(pin string) *Server {
	s := &Server{
		pin:     pin,
		clients: make(chan *websocket.Conn, 1),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.accept)
	s.http = &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}

	return s
}

func (s *Server) PIN() string { return s.pin }

// Start listens on addr and serves in the background. ":0" picks a free
// port; the port actually bound is returned.
func (s *Server) Start(addr string) (int, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return 0, fmt.Errorf("failed to start WS server: %w", err)
	}
	go s.http.Serve(ln)

	return ln.Addr().(*net.TCPAddr).Port, nil
}

func (s *Server) accept(w http.ResponseWriter, r *http.Request) {
	got := r.URL.Query().Get("pin")
	if subtle.ConstantTimeCompare([]byte(got), []byte(s.pin)) != 1 {
		http.Error(w, "invalid PIN", http.StatusUnauthorized)
		return
	}
	if !s.accepted.CompareAndSwap(false, true) {
		http.Error(w, "a client is already connected", http.StatusConflict)
		return
	}

	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already replied; let the next attempt in.
		s.accepted.Store(false)
		return
	}
	s.clients <- ws
}

// WaitForClient blocks until the client is in or ctx is done.
func (s *Server) WaitForClient(ctx context.Context) (*Conn, error) {
	select {
	case ws := <-s.clients:
		return newConn(ws), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close stops accepting. An already accepted Conn stays open.
func (s *Server) Close() {
	s.http.Close()
}

// GeneratePIN returns n random decimal digits.
func GeneratePIN(n int) string {
	ten := big.NewInt(10)
	pin := make([]byte, n)
	for i := range pin {
		d, err := rand.Int(rand.Reader, ten)
		if err != nil {
			panic(fmt.Sprintf("crypto/rand: %v", err))
		}
		pin[i] = '0' + byte(d.Int64())
	}
	return string(pin)
}
