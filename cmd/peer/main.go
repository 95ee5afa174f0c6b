// Command peer is a headless mesh participant: it joins the signaling
// server, publishes a synthetic audio track and receives every peer's.
package main

import (
	"context"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"

	"github.com/dkeye/Mesh/internal/adapters/rtc"
	"github.com/dkeye/Mesh/internal/adapters/wsclient"
	"github.com/dkeye/Mesh/internal/config"
	"github.com/dkeye/Mesh/internal/media"
	"github.com/dkeye/Mesh/internal/mesh"
)

const statusPeriod = 10 * time.Second

func main() {
	fs := pflag.NewFlagSet("peer", pflag.ExitOnError)
	config.PeerFlags(fs)
	_ = fs.Parse(os.Args[1:])

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	cfg, err := config.LoadWithFlags(fs)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	zerolog.SetGlobalLevel(cfg.Level())

	engines, err := rtc.NewEngines(cfg.Mesh)
	if err != nil {
		log.Fatal().Err(err).Msg("webrtc setup")
	}

	target, err := url.Parse(cfg.Peer.Server)
	if err != nil {
		log.Fatal().Err(err).Str("server", cfg.Peer.Server).Msg("bad server url")
	}
	if cfg.Peer.Name != "" {
		q := target.Query()
		q.Set("name", cfg.Peer.Name)
		target.RawQuery = q.Encode()
	}

	client, err := wsclient.Dial(ctx, target.String(), nil, cfg.PingPeriod)
	if err != nil {
		log.Fatal().Err(err).Str("server", target.String()).Msg("dial signaling server")
	}

	m := mesh.NewOrchestrator(client, engines.New, mesh.Options{
		NegotiationTimeout: cfg.Mesh.NegotiationTimeout,
		MaxICERestarts:     cfg.Mesh.MaxICERestarts,
	})

	if cfg.Peer.Publish {
		src, err := media.NewSynthetic(ctx, "mesh-peer")
		if err != nil {
			log.Fatal().Err(err).Msg("local media")
		}
		m.OnSelfReady(src)
	}

	go reportStatus(ctx, m)

	if err := client.Run(ctx, m); err != nil {
		log.Error().Err(err).Msg("signaling connection lost")
	}
	m.OnSelfStop()
	log.Info().Msg("Peer exited")
}

func reportStatus(ctx context.Context, m *mesh.Orchestrator) {
	ticker := time.NewTicker(statusPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, s := range m.Sessions() {
				var packets, bytes uint64
				for _, sink := range s.Sinks() {
					packets += sink.Packets()
					bytes += sink.Bytes()
				}
				log.Info().
					Str("module", "peer").
					Str("peer", string(s.Peer())).
					Str("state", s.State().String()).
					Uint64("rtp_packets", packets).
					Uint64("rtp_bytes", bytes).
					Msg("session status")
			}
			log.Info().Str("module", "peer").Str("sid", string(m.Self())).Int("known", len(m.Peers())).Msg("mesh status")
		}
	}
}
