package signaling

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// startPair starts a server, dials it and returns both ends of the link.
func startPair(t *testing.T) (host, client *Conn) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	srv := NewServer("1234")
	port, err := srv.Start("127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(srv.Close)

	client, err = Dial(ctx, fmt.Sprintf("ws://127.0.0.1:%d/ws?pin=1234", port))
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })

	host, err = srv.WaitForClient(ctx)
	require.NoError(t, err)
	t.Cleanup(func() { host.Close() })

	return host, client
}

func TestSendAndWatch(t *testing.T) {
	host, client := startPair(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	received := make(chan Message, 3)
	go host.Watch(ctx, func(msg Message) { received <- msg })

	sent := []Message{
		{Type: MsgTypeOffer, SDP: "v=0 offer"},
		{Type: MsgTypeCandidate, Candidate: `{"candidate":"candidate:1 1 udp 1 127.0.0.1 9 typ host"}`},
		{Type: MsgTypeAnswer, SDP: "v=0 answer"},
	}
	for _, msg := range sent {
		require.NoError(t, client.Send(ctx, msg))
	}

	for _, want := range sent {
		select {
		case got := <-received:
			assert.Equal(t, want, got)
		case <-ctx.Done():
			t.Fatal("message not delivered")
		}
	}
}

func TestWatchReturnsOnRemoteClose(t *testing.T) {
	host, client := startPair(t)

	done := make(chan error, 1)
	go func() { done <- host.Watch(context.Background(), func(Message) {}) }()

	require.NoError(t, client.Close())

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Watch did not return after remote close")
	}
}

func TestWatchStopsOnCancel(t *testing.T) {
	host, _ := startPair(t)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- host.Watch(ctx, func(Message) {}) }()

	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Watch did not return after cancel")
	}
}

func TestServerRejectsWrongPIN(t *testing.T) {
	srv := NewServer("1234")
	port, err := srv.Start("127.0.0.1:0")
	require.NoError(t, err)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err = Dial(ctx, fmt.Sprintf("ws://127.0.0.1:%d/ws?pin=0000", port))
	assert.Error(t, err)
}

func TestSendAfterCancel(t *testing.T) {
	_, client := startPair(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, client.Send(ctx, Message{Type: MsgTypeOffer}), context.Canceled)
}

func TestGeneratePIN(t *testing.T) {
	pin := GeneratePIN(6)
	assert.Len(t, pin, 6)
	for _, r := range pin {
		assert.True(t, r >= '0' && r <= '9', "non-digit %q", r)
	}
}

func TestServerAcceptsSingleClient(t *testing.T) {
	srv := NewServer("1234")
	port, err := srv.Start("127.0.0.1:0")
	require.NoError(t, err)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	url := fmt.Sprintf("ws://127.0.0.1:%d/ws?pin=1234", port)

	first, err := Dial(ctx, url)
	require.NoError(t, err)
	defer first.Close()

	_, err = Dial(ctx, url)
	assert.Error(t, err, "second client must be turned away")

	host, err := srv.WaitForClient(ctx)
	require.NoError(t, err)
	defer host.Close()

	// Closing the server leaves the accepted link usable.
	srv.Close()
	received := make(chan Message, 1)
	go host.Watch(ctx, func(msg Message) { received <- msg })
	require.NoError(t, first.Send(ctx, Message{Type: MsgTypeOffer, SDP: "v=0"}))
	select {
	case msg := <-received:
		assert.Equal(t, MsgTypeOffer, msg.Type)
	case <-ctx.Done():
		t.Fatal("accepted link broken by server close")
	}
}
