// Package app contains the top-level orchestration for host and client roles.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/1ureka/peercall/internal/config"
	"github.com/1ureka/peercall/internal/engine"
	"github.com/1ureka/peercall/internal/peer"
	"github.com/1ureka/peercall/internal/signaling"
	"github.com/1ureka/peercall/internal/util"
)

const statsInterval = 5 * time.Second

// errSignalingClosed ends the session when the remote peer hangs up.
var errSignalingClosed = errors.New("signaling channel closed")

// newEngine builds every engine handle of the session.
var newEngine peer.EngineFactory = engine.Factory

// run drives one call over an established signaling link until ctx is
// cancelled or the remote peer closes the link.
func run(ctx context.Context, cfg config.Config, conn *signaling.Conn, sc peer.SessionConfig) error {
	m := peer.NewManager(newEngine, cfg.ICEServers)
	defer m.Close()

	rec := peer.NewRecovery(m,
		peer.WithMaxRestarts(cfg.MaxRestarts),
		peer.WithDisconnectGrace(cfg.DisconnectGrace),
	)
	session := peer.NewSession(m, rec, conn, sc)

	m.Subscribe(peer.Observer{
		OnConnectivityStateChange: func(c *peer.Connection, state peer.ConnectivityState) {
			if state == peer.ConnectivityConnected {
				util.LogSuccess("peer connection %s established", c.ID)
			}
		},
	})

	if err := session.Start(ctx); err != nil {
		return fmt.Errorf("failed to start session: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return rec.Run(gctx)
	})

	g.Go(func() error {
		err := conn.Watch(gctx, func(msg signaling.Message) {
			if err := session.HandleMessage(gctx, msg); err != nil {
				util.LogError("failed to handle %s: %v", msg.Type, err)
			}
		})
		if err != nil {
			return err
		}
		return errSignalingClosed
	})

	if cfg.MetricsAddr != "" {
		g.Go(func() error {
			return serveMetrics(gctx, cfg.MetricsAddr)
		})
	}

	util.StartStatsReporter(gctx, statsInterval)

	err := g.Wait()
	if errors.Is(err, errSignalingClosed) {
		util.LogInfo("remote peer closed the signaling channel")
		return nil
	}
	return err
}

// serveMetrics exposes the negotiation counters on addr until ctx is done.
func serveMetrics(ctx context.Context, addr string) error {
	reg := prometheus.NewRegistry()
	reg.MustRegister(util.Collector())

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux}

	stop := context.AfterFunc(ctx, func() { srv.Close() })
	defer stop()

	util.LogInfo("serving metrics on %s/metrics", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("metrics server: %w", err)
	}
	return nil
}
