package media

import (
	"context"
	"sync/atomic"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// ReadFunc returns the next packet of a remote track.
type ReadFunc func() (*rtp.Packet, error)

// Sink drains one remote track and keeps counters for status output.
type Sink struct {
	ID string

	packets atomic.Uint64
	bytes   atomic.Uint64
	cancel  context.CancelFunc
	done    chan struct{}
}

// SinkTrack starts a Sink on a pion remote track.
func SinkTrack(ctx context.Context, track *webrtc.TrackRemote) *Sink {
	return NewSink(ctx, track.ID(), func() (*rtp.Packet, error) {
		pkt, _, err := track.ReadRTP()
		return pkt, err
	})
}

func NewSink(ctx context.Context, id string, read ReadFunc) *Sink {
	ctx, cancel := context.WithCancel(ctx)
	s := &Sink{ID: id, cancel: cancel, done: make(chan struct{})}
	logger := log.With().Str("module", "media.sink").Str("track_id", id).Logger()
	go s.loop(ctx, read, &logger)
	return s
}

// loop reads RTP packets until the context ends or the track fails.
func (s *Sink) loop(ctx context.Context, read ReadFunc, logger *zerolog.Logger) {
	defer close(s.done)
	for {
		select {
		case <-ctx.Done():
			logger.Debug().Msg("sink ctx done")
			return
		default:
		}
		pkt, err := read()
		if err != nil {
			logger.Debug().Err(err).Msg("sink read stopped")
			return
		}
		s.packets.Add(1)
		s.bytes.Add(uint64(len(pkt.Payload)))
	}
}

func (s *Sink) Packets() uint64 { return s.packets.Load() }
func (s *Sink) Bytes() uint64   { return s.bytes.Load() }

// Close detaches the sink. A read blocked on the network returns once the
// owning engine is closed.
func (s *Sink) Close() {
	s.cancel()
}

// Done is closed when the read loop has exited.
func (s *Sink) Done() <-chan struct{} { return s.done }
