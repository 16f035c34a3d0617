package app

import (
	"context"

	"github.com/1ureka/peercall/internal/config"
	"github.com/1ureka/peercall/internal/peer"
	"github.com/1ureka/peercall/internal/signaling"
	"github.com/1ureka/peercall/internal/util"
)

// RunClient connects to the host's signaling server and answers its offers
// until shutdown. The client always yields on simultaneous offers.
func RunClient(ctx context.Context, cfg config.Config) error {
	util.LogInfo("connecting to host...")
	conn, err := signaling.Dial(ctx, cfg.WSURL)
	if err != nil {
		return err
	}
	defer conn.Close()
	util.LogSuccess("connected to %s", cfg.WSURL)

	return run(ctx, cfg, conn, peer.SessionConfig{Polite: true, Initiator: false})
}
