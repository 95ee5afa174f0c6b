package media

import (
	"context"
	"errors"
	"io"
	"math/rand/v2"
	"time"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

const (
	opusPayloadType = 111
	opusClockRate   = 48000
	frameDuration   = 20 * time.Millisecond
	samplesPerFrame = opusClockRate / 1000 * 20
)

// opusSilence is a single 20 ms Opus DTX silence frame.
var opusSilence = []byte{0xf8, 0xff, 0xfe}

// Synthetic is local media for headless peers: one Opus track fed with
// silence at the real frame rate.
type Synthetic struct {
	track  *webrtc.TrackLocalStaticRTP
	cancel context.CancelFunc
	done   chan struct{}
}

func NewSynthetic(ctx context.Context, streamID string) (*Synthetic, error) {
	track, err := webrtc.NewTrackLocalStaticRTP(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: opusClockRate, Channels: 2},
		"audio", streamID,
	)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithCancel(ctx)
	s := &Synthetic{track: track, cancel: cancel, done: make(chan struct{})}
	go s.loop(ctx)
	return s, nil
}

func (s *Synthetic) loop(ctx context.Context) {
	defer close(s.done)
	ticker := time.NewTicker(frameDuration)
	defer ticker.Stop()

	pkt := &rtp.Packet{
		Header: rtp.Header{
			Version:        2,
			PayloadType:    opusPayloadType,
			SequenceNumber: uint16(rand.Uint32()),
			Timestamp:      rand.Uint32(),
			SSRC:           rand.Uint32(),
		},
		Payload: opusSilence,
	}
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		// the track rewrites SSRC/PT per binding, only sequence and time matter here
		if err := s.track.WriteRTP(pkt); err != nil && !errors.Is(err, io.ErrClosedPipe) {
			log.Warn().Err(err).Str("module", "media").Msg("synthetic write")
		}
		pkt.SequenceNumber++
		pkt.Timestamp += samplesPerFrame
	}
}

func (s *Synthetic) Tracks() []webrtc.TrackLocal {
	return []webrtc.TrackLocal{s.track}
}

// Stop halts the generator; tracks already attached to peers go silent.
func (s *Synthetic) Stop() {
	s.cancel()
	<-s.done
}
