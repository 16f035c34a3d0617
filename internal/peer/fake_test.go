package peer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/1ureka/peercall/internal/signaling"
)

// Compile-time interface checks.
var (
	_ Engine           = (*fakeEngine)(nil)
	_ signaling.Sender = (*recordingSender)(nil)
)

// fakeTransceiver records Stop calls and optionally blocks or fails in Stop.
type fakeTransceiver struct {
	stopped atomic.Bool
	err     error
	entered chan struct{} // closed when Stop starts, if set
	block   chan struct{} // Stop waits on it, if set
}

func (t *fakeTransceiver) Stop() error {
	if t.entered != nil {
		close(t.entered)
	}
	if t.block != nil {
		<-t.block
	}
	t.stopped.Store(true)
	return t.err
}

// fakeEngine is an in-memory Engine. SDPs are synthetic strings; every call
// is recorded in order so tests can assert on exactly what reached the engine.
type fakeEngine struct {
	id int

	mu           sync.Mutex
	calls        []string
	closed       bool
	restarts     int
	restartFlag  bool
	candidates   []string
	fail         map[string]error
	transceivers []*fakeTransceiver
	seq          int

	// blockOffer makes CreateOffer wait for ctx; offerEntered is closed on entry.
	blockOffer   bool
	offerEntered chan struct{}

	inflight    atomic.Int32
	maxInflight atomic.Int32

	onConn func(ConnectivityState)
	onSig  func(SignalingState)
	onCand func(string)
	closeE error
}

func newFakeEngine(id int) *fakeEngine {
	return &fakeEngine{
		id:           id,
		fail:         map[string]error{},
		transceivers: []*fakeTransceiver{{}, {}},
		offerEntered: make(chan struct{}),
	}
}

func (e *fakeEngine) enter(call string) (release func(), err error) {
	n := e.inflight.Add(1)
	for {
		cur := e.maxInflight.Load()
		if n <= cur || e.maxInflight.CompareAndSwap(cur, n) {
			break
		}
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls = append(e.calls, call)
	if err, ok := e.fail[call]; ok {
		delete(e.fail, call)
		return func() { e.inflight.Add(-1) }, err
	}
	return func() { e.inflight.Add(-1) }, nil
}

func (e *fakeEngine) CreateOffer(ctx context.Context) (Description, error) {
	release, err := e.enter("CreateOffer")
	defer release()
	if err != nil {
		return Description{}, err
	}
	if err := ctx.Err(); err != nil {
		return Description{}, err
	}

	e.mu.Lock()
	block := e.blockOffer
	e.mu.Unlock()
	if block {
		close(e.offerEntered)
		<-ctx.Done()
		return Description{}, ctx.Err()
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.seq++
	sdp := fmt.Sprintf("offer-%d-%d", e.id, e.seq)
	if e.restartFlag {
		sdp += "-icerestart"
		e.restartFlag = false
	}
	return Description{Type: SDPTypeOffer, SDP: sdp}, nil
}

func (e *fakeEngine) CreateAnswer(ctx context.Context) (Description, error) {
	release, err := e.enter("CreateAnswer")
	defer release()
	if err != nil {
		return Description{}, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.seq++
	return Description{Type: SDPTypeAnswer, SDP: fmt.Sprintf("answer-%d-%d", e.id, e.seq)}, nil
}

func (e *fakeEngine) SetLocalDescription(ctx context.Context, desc Description) error {
	release, err := e.enter("SetLocalDescription:" + string(desc.Type))
	defer release()
	return err
}

func (e *fakeEngine) SetRemoteDescription(ctx context.Context, desc Description) error {
	release, err := e.enter("SetRemoteDescription:" + string(desc.Type))
	defer release()
	return err
}

func (e *fakeEngine) AddICECandidate(ctx context.Context, candidate string) error {
	release, err := e.enter("AddICECandidate")
	defer release()
	if err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.candidates = append(e.candidates, candidate)
	return nil
}

func (e *fakeEngine) RestartConnectivity() error {
	release, err := e.enter("RestartConnectivity")
	defer release()
	if err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.restarts++
	e.restartFlag = true
	return nil
}

func (e *fakeEngine) Transceivers() []Transceiver {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls = append(e.calls, "Transceivers")
	out := make([]Transceiver, 0, len(e.transceivers))
	for _, t := range e.transceivers {
		out = append(out, t)
	}
	return out
}

func (e *fakeEngine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls = append(e.calls, "Close")
	e.closed = true
	return e.closeE
}

func (e *fakeEngine) OnConnectivityStateChange(fn func(ConnectivityState)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onConn = fn
}

func (e *fakeEngine) OnSignalingStateChange(fn func(SignalingState)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onSig = fn
}

func (e *fakeEngine) OnICECandidate(fn func(string)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onCand = fn
}

// emitConnectivity delivers a connectivity notification like the engine would.
func (e *fakeEngine) emitConnectivity(state ConnectivityState) {
	e.mu.Lock()
	fn := e.onConn
	e.mu.Unlock()
	if fn != nil {
		fn(state)
	}
}

func (e *fakeEngine) emitCandidate(candidate string) {
	e.mu.Lock()
	fn := e.onCand
	e.mu.Unlock()
	if fn != nil {
		fn(candidate)
	}
}

func (e *fakeEngine) failNext(call string, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.fail[call] = err
}

func (e *fakeEngine) Calls() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.calls...)
}

func (e *fakeEngine) count(call string) int {
	n := 0
	for _, c := range e.Calls() {
		if c == call {
			n++
		}
	}
	return n
}

func (e *fakeEngine) isClosed() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.closed
}

func (e *fakeEngine) restartCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.restarts
}

func (e *fakeEngine) remoteCandidates() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.candidates...)
}

// fakeFactory builds fakeEngines and remembers every one of them.
type fakeFactory struct {
	mu        sync.Mutex
	engines   []*fakeEngine
	servers   [][]string
	liveAtNew []int // live engines observed at each construction
	err       error
}

func (f *fakeFactory) New(iceServers []string) (Engine, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	live := 0
	for _, e := range f.engines {
		if !e.isClosed() {
			live++
		}
	}
	f.liveAtNew = append(f.liveAtNew, live)

	e := newFakeEngine(len(f.engines) + 1)
	f.engines = append(f.engines, e)
	f.servers = append(f.servers, iceServers)
	return e, nil
}

func (f *fakeFactory) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.engines)
}

func (f *fakeFactory) engine(i int) *fakeEngine {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.engines[i]
}

func (f *fakeFactory) last() *fakeEngine {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.engines[len(f.engines)-1]
}

func (f *fakeFactory) live() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, e := range f.engines {
		if !e.isClosed() {
			n++
		}
	}
	return n
}

// recordingSender keeps every message it is asked to send. When forward is
// set, messages are also delivered to it synchronously.
type recordingSender struct {
	mu      sync.Mutex
	msgs    []signaling.Message
	forward func(signaling.Message)
}

func (s *recordingSender) Send(ctx context.Context, msg signaling.Message) error {
	s.mu.Lock()
	s.msgs = append(s.msgs, msg)
	fwd := s.forward
	s.mu.Unlock()
	if fwd != nil {
		fwd(msg)
	}
	return nil
}

func (s *recordingSender) sent(typ signaling.MessageType) []signaling.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []signaling.Message
	for _, m := range s.msgs {
		if m.Type == typ {
			out = append(out, m)
		}
	}
	return out
}

var errBoom = errors.New("boom")

var testServers = []string{"stun:stun.example.test:3478"}

// newTestManager returns a Manager over a fakeFactory, closed on cleanup.
func newTestManager(t *testing.T) (*Manager, *fakeFactory) {
	t.Helper()
	f := &fakeFactory{}
	m := NewManager(f.New, testServers)
	t.Cleanup(func() { m.Close() })
	return m, f
}
