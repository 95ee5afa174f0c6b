package core

import (
	"context"

	"github.com/dkeye/Mesh/internal/domain"
	"github.com/pion/webrtc/v4"
)

// MediaEngine is the real-time transport black box one Session drives.
type MediaEngine interface {
	// CreateOffer returns a local offer; restart requests fresh ICE credentials.
	CreateOffer(restart bool) (webrtc.SessionDescription, error)
	CreateAnswer() (webrtc.SessionDescription, error)
	SetLocalDescription(webrtc.SessionDescription) error
	SetRemoteDescription(webrtc.SessionDescription) error
	// Rollback discards a local offer that was not answered yet.
	Rollback() error
	// AddICECandidate applies a remote ICE candidate.
	AddICECandidate(webrtc.ICECandidateInit) error
	// AddLocalTrack attaches a local track to the underlying PeerConnection.
	AddLocalTrack(webrtc.TrackLocal) error
	// OnICECandidate sets a callback for newly gathered local ICE candidates.
	OnICECandidate(func(webrtc.ICECandidateInit))
	// OnTrack sets a callback that will be invoked when a new remote track arrives.
	OnTrack(func(ctx context.Context, track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver))
	OnConnectionStateChange(func(webrtc.PeerConnectionState))
	// Close should stop all underlying media resources.
	Close()
}

// EngineFactory builds one engine per remote peer.
type EngineFactory func(peer domain.EndpointID) (MediaEngine, error)

// LocalMedia is what this endpoint publishes to every peer.
type LocalMedia interface {
	Tracks() []webrtc.TrackLocal
	Stop()
}
