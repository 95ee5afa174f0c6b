package rtc

import (
	"fmt"

	"github.com/dkeye/Mesh/internal/config"
	"github.com/dkeye/Mesh/internal/core"
	"github.com/dkeye/Mesh/internal/domain"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

// Engines builds one WebRTCConnection per remote peer from a shared pion API.
type Engines struct {
	api *webrtc.API
	cfg webrtc.Configuration
}

func NewEngines(mc config.MeshConfig) (*Engines, error) {
	return newEngines(mc, false)
}

func newEngines(mc config.MeshConfig, loopback bool) (*Engines, error) {
	se := webrtc.SettingEngine{LoggerFactory: NewLoggerFactory(log.Logger)}
	if mc.UDPPortMin > 0 && mc.UDPPortMax > 0 {
		if err := se.SetEphemeralUDPPortRange(mc.UDPPortMin, mc.UDPPortMax); err != nil {
			return nil, fmt.Errorf("set ephemeral udp port range: %w", err)
		}
	}
	if loopback {
		se.SetIncludeLoopbackCandidate(true)
	}

	me := &webrtc.MediaEngine{}
	if err := me.RegisterDefaultCodecs(); err != nil {
		return nil, fmt.Errorf("register codecs: %w", err)
	}
	return &Engines{
		api: webrtc.NewAPI(webrtc.WithSettingEngine(se), webrtc.WithMediaEngine(me)),
		cfg: Configuration(mc.ICEServers),
	}, nil
}

func Configuration(iceServers []string) webrtc.Configuration {
	if len(iceServers) == 0 {
		return webrtc.Configuration{}
	}
	return webrtc.Configuration{
		ICEServers: []webrtc.ICEServer{{URLs: iceServers}},
	}
}

// New satisfies core.EngineFactory.
func (e *Engines) New(peer domain.EndpointID) (core.MediaEngine, error) {
	c, err := newWebRTCConnection(e.api, e.cfg, peer)
	if err != nil {
		return nil, fmt.Errorf("new peer connection: %w", err)
	}
	return c, nil
}

var _ core.MediaEngine = (*WebRTCConnection)(nil)
