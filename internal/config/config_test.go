package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/pflag"
)

func TestDefaults(t *testing.T) {
	cfg, err := read(newViper(filepath.Join(t.TempDir(), "missing.yaml")))
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if cfg.Port != 8080 {
		t.Fatalf("Port=%d, want 8080", cfg.Port)
	}
	if cfg.PingPeriod != 54*time.Second {
		t.Fatalf("PingPeriod=%v, want 54s", cfg.PingPeriod)
	}
	if cfg.Mesh.NegotiationTimeout != 30*time.Second {
		t.Fatalf("NegotiationTimeout=%v, want 30s", cfg.Mesh.NegotiationTimeout)
	}
	if cfg.Mesh.MaxICERestarts != 3 {
		t.Fatalf("MaxICERestarts=%d, want 3", cfg.Mesh.MaxICERestarts)
	}
	if len(cfg.Mesh.ICEServers) != 1 {
		t.Fatalf("ICEServers=%v, want one default", cfg.Mesh.ICEServers)
	}
	if cfg.Redis.Addr != "" {
		t.Fatalf("Redis.Addr=%q, want empty", cfg.Redis.Addr)
	}
	if cfg.Level() != zerolog.InfoLevel {
		t.Fatalf("Level=%v, want info", cfg.Level())
	}
}

func TestFileOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.test.yaml")
	body := []byte(`
mode: debug
port: 9000
log_level: debug
rate_limit:
  messages: 5
  interval: 2s
mesh:
  ice_servers: ["stun:a:3478", "stun:b:3478"]
  negotiation_timeout: 10s
  max_ice_restarts: 1
redis:
  addr: localhost:6379
`)
	if err := os.WriteFile(path, body, 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	cfg, err := read(newViper(path))
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if cfg.Mode != "debug" || cfg.Port != 9000 {
		t.Fatalf("mode/port=%q/%d", cfg.Mode, cfg.Port)
	}
	if cfg.RateLimit.Messages != 5 || cfg.RateLimit.Interval != 2*time.Second {
		t.Fatalf("RateLimit=%+v", cfg.RateLimit)
	}
	if len(cfg.Mesh.ICEServers) != 2 || cfg.Mesh.ICEServers[1] != "stun:b:3478" {
		t.Fatalf("ICEServers=%v", cfg.Mesh.ICEServers)
	}
	if cfg.Mesh.NegotiationTimeout != 10*time.Second || cfg.Mesh.MaxICERestarts != 1 {
		t.Fatalf("Mesh=%+v", cfg.Mesh)
	}
	if cfg.Redis.Addr != "localhost:6379" || cfg.Redis.Key != "mesh:endpoints" {
		t.Fatalf("Redis=%+v", cfg.Redis)
	}
	if cfg.Level() != zerolog.DebugLevel {
		t.Fatalf("Level=%v, want debug", cfg.Level())
	}
}

func TestEnvOverride(t *testing.T) {
	t.Setenv("MESH_PORT", "7001")
	t.Setenv("MESH_MESH_MAX_ICE_RESTARTS", "5")
	cfg, err := read(newViper(filepath.Join(t.TempDir(), "missing.yaml")))
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if cfg.Port != 7001 {
		t.Fatalf("Port=%d, want 7001", cfg.Port)
	}
	if cfg.Mesh.MaxICERestarts != 5 {
		t.Fatalf("MaxICERestarts=%d, want 5", cfg.Mesh.MaxICERestarts)
	}
}

func TestRejectsNonPositiveSendBuffer(t *testing.T) {
	t.Setenv("MESH_SEND_BUFFER", "0")
	if _, err := read(newViper(filepath.Join(t.TempDir(), "missing.yaml"))); err == nil {
		t.Fatalf("expected error for send_buffer=0")
	}
}

func TestPeerFlagsOverrideDefaults(t *testing.T) {
	fs := pflag.NewFlagSet("peer", pflag.ContinueOnError)
	PeerFlags(fs)
	if err := fs.Parse([]string{"--server", "ws://example:9000/api/ws/signal", "--name", "dave", "--publish=false"}); err != nil {
		t.Fatalf("Parse: %v", err)
	}
	cfg, err := readWithFlags(newViper(filepath.Join(t.TempDir(), "missing.yaml")), fs)
	if err != nil {
		t.Fatalf("readWithFlags: %v", err)
	}
	if cfg.Peer.Server != "ws://example:9000/api/ws/signal" || cfg.Peer.Name != "dave" || cfg.Peer.Publish {
		t.Fatalf("Peer=%+v", cfg.Peer)
	}
	if cfg.Level() != zerolog.InfoLevel {
		t.Fatalf("unset log-level flag changed level to %v", cfg.Level())
	}
}

func TestUnsetPeerFlagsKeepDefaults(t *testing.T) {
	fs := pflag.NewFlagSet("peer", pflag.ContinueOnError)
	PeerFlags(fs)
	cfg, err := readWithFlags(newViper(filepath.Join(t.TempDir(), "missing.yaml")), fs)
	if err != nil {
		t.Fatalf("readWithFlags: %v", err)
	}
	if cfg.Peer.Server != "ws://localhost:8080/api/ws/signal" || !cfg.Peer.Publish {
		t.Fatalf("Peer=%+v", cfg.Peer)
	}
}

func TestRejectsInvertedPortRange(t *testing.T) {
	t.Setenv("MESH_MESH_UDP_PORT_MIN", "50000")
	t.Setenv("MESH_MESH_UDP_PORT_MAX", "40000")
	if _, err := read(newViper(filepath.Join(t.TempDir(), "missing.yaml"))); err == nil {
		t.Fatalf("expected error for inverted port range")
	}
}
