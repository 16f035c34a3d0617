// Package config holds the CLI configuration types.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Role represents the user's chosen role (host or client).
type Role string

const (
	RoleHost   Role = "host"
	RoleClient Role = "client"
)

// DefaultICEServers are the connectivity-helper servers handed to every new
// engine handle. STUN only; no relay is configured.
var DefaultICEServers = []string{
	"stun:stun.l.google.com:19302",
	"stun:stun1.l.google.com:19302",
	"stun:stun2.l.google.com:19302",
	"stun:stun3.l.google.com:19302",
	"stun:stun4.l.google.com:19302",
	"stun:global.stun.twilio.com:3478",
	"stun:stun.stunprotocol.org:3478",
	"stun:stun.voipstunt.com",
	"stun:stun.services.mozilla.com",
}

// Config stores all parameters gathered from flags, the optional YAML file
// and the interactive CLI prompts.
type Config struct {
	Role   Role `yaml:"role"`
	Polite bool `yaml:"polite"` // Host: also yield on simultaneous offers; the client always does

	ICEServers      []string      `yaml:"iceServers"`
	MaxRestarts     int           `yaml:"maxRestarts"`     // in-place restarts before a hard reset
	DisconnectGrace time.Duration `yaml:"disconnectGrace"` // how long Disconnected may last before it counts as Failed

	WSAddr      string `yaml:"wsAddr"`      // Host: WebSocket listen address
	WSURL       string `yaml:"wsUrl"`       // Client: WebSocket URL to connect to
	PIN         string `yaml:"pin"`         // Host: fixed PIN, random when empty
	MetricsAddr string `yaml:"metricsAddr"` // Prometheus endpoint, disabled when empty
}

// Default returns a Config populated with the built-in defaults.
func Default() Config {
	return Config{
		ICEServers:      append([]string(nil), DefaultICEServers...),
		MaxRestarts:     3,
		DisconnectGrace: 5 * time.Second,
		WSAddr:          ":0",
	}
}

// Load reads a YAML file over the defaults. Keys present in the file win,
// including explicit zero values such as `maxRestarts: 0`. An empty path
// yields the defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("failed to read config: %w", err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Default(), fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	return cfg, nil
}

// Merge copies every non-empty field of src into dst. Polite and
// MaxRestarts are not merged: their zero values are meaningful, so callers
// assign them when they were explicitly given.
func Merge(dst *Config, src Config) {
	if src.Role != "" {
		dst.Role = src.Role
	}
	if len(src.ICEServers) > 0 {
		dst.ICEServers = src.ICEServers
	}
	if src.DisconnectGrace != 0 {
		dst.DisconnectGrace = src.DisconnectGrace
	}
	if src.WSAddr != "" {
		dst.WSAddr = src.WSAddr
	}
	if src.WSURL != "" {
		dst.WSURL = src.WSURL
	}
	if src.PIN != "" {
		dst.PIN = src.PIN
	}
	if src.MetricsAddr != "" {
		dst.MetricsAddr = src.MetricsAddr
	}
}

// Validate reports the first problem that would prevent a session from starting.
func (c Config) Validate() error {
	switch c.Role {
	case RoleHost:
	case RoleClient:
		if c.WSURL == "" {
			return errors.New("missing WebSocket URL for client role")
		}
	default:
		return fmt.Errorf("invalid role %q: must be 'host' or 'client'", c.Role)
	}

	if c.MaxRestarts < 0 {
		return fmt.Errorf("invalid maxRestarts %d: must be >= 0", c.MaxRestarts)
	}
	if c.DisconnectGrace <= 0 {
		return fmt.Errorf("invalid disconnectGrace %s: must be positive", c.DisconnectGrace)
	}
	return nil
}
