// Peercall: CLI entry point.
//
// This tool negotiates a WebRTC call between two peers over a WebSocket
// signaling link and keeps it alive: failed connectivity is restarted in
// place, and the connection is rebuilt when restarts stop helping.
//
// It can be launched interactively (no flags) or non-interactively via CLI
// flags (-role, -config, -wsAddr, -wsUrl, -pin, -maxRestarts, -grace, -metrics).
package main

import (
	"context"
	"flag"
	"fmt"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/pterm/pterm"

	"github.com/1ureka/peercall/internal/app"
	"github.com/1ureka/peercall/internal/config"
	"github.com/1ureka/peercall/internal/util"
)

var version = "dev"

type flags struct {
	role        string
	configPath  string
	wsAddr      string
	wsURL       string
	pin         string
	maxRestarts int
	grace       time.Duration
	metrics     string
	polite      bool
	debug       bool

	set map[string]bool // flags given on the command line
}

func main() {
	// Root context, cancelled on Ctrl+C.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	var f flags
	flag.StringVar(&f.role, "role", "", "Role: host or client")
	flag.StringVar(&f.configPath, "config", "", "Path to a YAML config file")
	flag.StringVar(&f.wsAddr, "wsAddr", "", "WebSocket signaling listen address (host only)")
	flag.StringVar(&f.wsURL, "wsUrl", "", "WebSocket URL to connect to (client only)")
	flag.StringVar(&f.pin, "pin", "", "Signaling PIN (random on the host when empty)")
	flag.IntVar(&f.maxRestarts, "maxRestarts", 0, "ICE restarts before the connection is rebuilt")
	flag.DurationVar(&f.grace, "grace", 0, "How long a disconnect may last before it counts as a failure")
	flag.StringVar(&f.metrics, "metrics", "", "Serve Prometheus metrics on this address")
	flag.BoolVar(&f.polite, "polite", false, "Host: yield on simultaneous offers")
	flag.BoolVar(&f.debug, "debug", false, "Enable debug logging")
	flag.Parse()

	f.set = map[string]bool{}
	flag.Visit(func(fl *flag.Flag) { f.set[fl.Name] = true })

	if f.debug {
		util.EnableDebug()
	}

	pterm.Info.Println(fmt.Sprintf("Peercall v%s", version))
	pterm.Println()

	cfg, err := buildConfig(f)
	if err != nil {
		util.LogError("%v", err)
		os.Exit(1)
	}

	if cfg.Role == "" {
		// No role from flags or file → interactive mode.
		askRole(&cfg)
	}

	if err := cfg.Validate(); err != nil {
		util.LogError("%v", err)
		os.Exit(1)
	}

	switch cfg.Role {
	case config.RoleHost:
		err = app.RunHost(ctx, cfg)
	case config.RoleClient:
		err = app.RunClient(ctx, cfg)
	}
	if err != nil {
		util.LogError("session ended: %v", err)
		os.Exit(1)
	}

	util.LogInfo("successfully closed peer connection")
}

// buildConfig layers flags over the config file over the defaults.
func buildConfig(f flags) (config.Config, error) {
	cfg, err := config.Load(f.configPath)
	if err != nil {
		return cfg, err
	}

	config.Merge(&cfg, config.Config{
		Role:            config.Role(f.role),
		DisconnectGrace: f.grace,
		WSAddr:          f.wsAddr,
		WSURL:           f.wsURL,
		PIN:             f.pin,
		MetricsAddr:     f.metrics,
	})
	if f.set["polite"] {
		cfg.Polite = f.polite
	}
	if f.set["maxRestarts"] {
		cfg.MaxRestarts = f.maxRestarts
	}

	if cfg.WSURL != "" {
		wsURL, err := normalizeWSURL(cfg.WSURL, cfg.PIN)
		if err != nil {
			return cfg, err
		}
		cfg.WSURL = wsURL
	}
	return cfg, nil
}

// ---------------------------------------------------------------------------
// Helper Functions
// ---------------------------------------------------------------------------

// normalizeWSURL validates a raw WebSocket URL and points it at the /ws
// endpoint. A non-empty pin replaces any pin already in the query.
func normalizeWSURL(raw, pin string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || u.Host == "" {
		return "", fmt.Errorf("invalid WebSocket URL: %s", raw)
	}

	scheme := "wss"
	if u.Scheme == "ws" || u.Scheme == "wss" {
		scheme = u.Scheme
	}

	q := u.Query()
	if pin != "" {
		q.Set("pin", pin)
	}

	out := url.URL{Scheme: scheme, Host: u.Host, Path: "/ws", RawQuery: q.Encode()}
	return out.String(), nil
}

// askRole fills in the role and the role-specific fields interactively.
func askRole(cfg *config.Config) {
	role, _ := pterm.DefaultInteractiveSelect.
		WithOptions([]string{"Host   - Wait for a peer to call", "Client - Call a waiting host"}).
		WithDefaultText("Select your role").
		Show()

	pterm.Println()

	if strings.HasPrefix(role, "Host") {
		cfg.Role = config.RoleHost
		return
	}

	cfg.Role = config.RoleClient
	if cfg.WSURL == "" {
		cfg.WSURL = askURL(cfg.PIN)
	}
}

// askURL prompts the user for a valid WebSocket URL until one is entered.
func askURL(pin string) string {
	for {
		raw, _ := pterm.DefaultInteractiveTextInput.
			WithDefaultText("WebSocket URL (e.g. wss://***.asse.devtunnels.ms/ws?pin=1234)").
			Show()

		wsURL, err := normalizeWSURL(raw, pin)
		if err == nil {
			pterm.Println()
			return wsURL
		}

		pterm.Println()
		util.LogWarning("invalid input: please enter a valid host or URL")
	}
}
