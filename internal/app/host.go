package app

import (
	"context"
	"fmt"

	"github.com/pterm/pterm"

	"github.com/1ureka/peercall/internal/config"
	"github.com/1ureka/peercall/internal/peer"
	"github.com/1ureka/peercall/internal/signaling"
	"github.com/1ureka/peercall/internal/util"
)

const pinLength = 4

// RunHost orchestrates the full host lifecycle:
//  1. Start the WS server with a PIN
//  2. Wait for the client to connect
//  3. Send the first offer and keep the call negotiated until shutdown
func RunHost(ctx context.Context, cfg config.Config) error {
	server, port, err := startServer(cfg)
	if err != nil {
		return err
	}
	defer server.Close()

	pterm.DefaultBox.WithTitle("WebSocket Signaling Server").Println(
		fmt.Sprintf("Port : %d\nPIN  : %s", port, server.PIN()),
	)
	util.LogInfo("waiting for the client to connect...")

	return serveHost(ctx, cfg, server)
}

func startServer(cfg config.Config) (*signaling.Server, int, error) {
	pin := cfg.PIN
	if pin == "" {
		pin = signaling.GeneratePIN(pinLength)
	}
	server := signaling.NewServer(pin)
	port, err := server.Start(cfg.WSAddr)
	if err != nil {
		return nil, 0, err
	}
	return server, port, nil
}

func serveHost(ctx context.Context, cfg config.Config, server *signaling.Server) error {
	conn, err := server.WaitForClient(ctx)
	if err != nil {
		return fmt.Errorf("failed to wait for client: %w", err)
	}
	defer conn.Close()
	util.LogSuccess("client connected")

	return run(ctx, cfg, conn, peer.SessionConfig{Polite: cfg.Polite, Initiator: true})
}
