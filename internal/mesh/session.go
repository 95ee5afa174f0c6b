package mesh

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/dkeye/Mesh/internal/core"
	"github.com/dkeye/Mesh/internal/domain"
	"github.com/dkeye/Mesh/internal/media"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

type State int32

const (
	StateIdle State = iota
	StateNegotiating
	StateConnected
	StateFailed
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateNegotiating:
		return "negotiating"
	case StateConnected:
		return "connected"
	case StateFailed:
		return "failed"
	case StateClosed:
		return "closed"
	}
	return fmt.Sprintf("state(%d)", int32(s))
}

var errNegotiationTimeout = errors.New("negotiation timeout")

// Signaler carries session messages to the signaling server.
type Signaler interface {
	SendOffer(to domain.EndpointID, desc webrtc.SessionDescription) error
	SendAnswer(to domain.EndpointID, desc webrtc.SessionDescription) error
	SendCandidate(to domain.EndpointID, c webrtc.ICECandidateInit) error
	SendReady() error
}

type Options struct {
	// NegotiationTimeout forces failure when connected is not reached; zero disables it.
	NegotiationTimeout time.Duration
	MaxICERestarts     int
}

// Session negotiates and owns the transport towards one remote peer.
// Every field below exec is only touched from inside exec.
type Session struct {
	self, peer domain.EndpointID
	opts       Options
	newEngine  core.EngineFactory
	signaler   Signaler
	localMedia func() core.LocalMedia
	onClosed   func(*Session, error)
	logger     zerolog.Logger

	state atomic.Int32
	exec  serial

	engine       core.MediaEngine
	gen          uint64
	offerPending bool
	remoteSet    bool
	pending      []webrtc.ICECandidateInit
	heldOffer    *webrtc.SessionDescription
	tracks       []webrtc.TrackLocal
	sinks        []*media.Sink
	restarts     int
	timer        *time.Timer
	timerSeq     uint64
}

func newSession(
	self, peer domain.EndpointID,
	opts Options,
	newEngine core.EngineFactory,
	signaler Signaler,
	localMedia func() core.LocalMedia,
	onClosed func(*Session, error),
) *Session {
	return &Session{
		self:       self,
		peer:       peer,
		opts:       opts,
		newEngine:  newEngine,
		signaler:   signaler,
		localMedia: localMedia,
		onClosed:   onClosed,
		logger:     log.With().Str("module", "mesh.session").Str("peer", string(peer)).Logger(),
	}
}

func (s *Session) Peer() domain.EndpointID { return s.peer }

func (s *Session) State() State { return State(s.state.Load()) }

// Initiator reports whether this side owns offers for the pair.
func (s *Session) Initiator() bool { return s.self.Less(s.peer) }

// Sinks returns the remote track sinks currently attached.
func (s *Session) Sinks() []*media.Sink {
	out := make(chan []*media.Sink, 1)
	s.exec.Do(func() { out <- append([]*media.Sink(nil), s.sinks...) })
	return <-out
}

func (s *Session) Initiate() { s.exec.Do(func() { s.initiate(false) }) }

func (s *Session) HandleOffer(desc webrtc.SessionDescription) {
	s.exec.Do(func() { s.handleOffer(desc) })
}

func (s *Session) HandleAnswer(desc webrtc.SessionDescription) {
	s.exec.Do(func() { s.handleAnswer(desc) })
}

func (s *Session) HandleCandidate(c webrtc.ICECandidateInit) {
	s.exec.Do(func() { s.handleCandidate(c) })
}

func (s *Session) Teardown() { s.exec.Do(func() { s.teardown(nil) }) }

// Wait blocks until every operation submitted so far has been applied.
func (s *Session) Wait() { s.exec.Wait() }

func (s *Session) setState(st State) {
	prev := State(s.state.Swap(int32(st)))
	if prev != st {
		s.logger.Info().Str("from", prev.String()).Str("to", st.String()).Msg("session state")
	}
}

func (s *Session) closed() bool { return s.State() == StateClosed }

// ensureEngine creates the transport and attaches local media.
func (s *Session) ensureEngine() error {
	if s.engine != nil {
		return nil
	}
	m := s.localMedia()
	if m == nil {
		return core.ErrMediaUnavailable
	}
	eng, err := s.newEngine(s.peer)
	if err != nil {
		return fmt.Errorf("new engine: %w", err)
	}
	s.gen++
	gen := s.gen

	eng.OnICECandidate(func(c webrtc.ICECandidateInit) {
		s.exec.Do(func() {
			if s.gen != gen || s.closed() {
				return
			}
			if err := s.signaler.SendCandidate(s.peer, c); err != nil {
				s.logger.Warn().Err(err).Msg("send candidate")
			}
		})
	})
	eng.OnConnectionStateChange(func(st webrtc.PeerConnectionState) {
		s.exec.Do(func() {
			if s.gen != gen || s.closed() {
				return
			}
			s.onEngineState(st)
		})
	})
	eng.OnTrack(func(ctx context.Context, track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		sink := media.SinkTrack(ctx, track)
		s.exec.Do(func() {
			if s.gen != gen || s.closed() {
				sink.Close()
				return
			}
			s.sinks = append(s.sinks, sink)
		})
	})

	for _, tr := range m.Tracks() {
		if err := eng.AddLocalTrack(tr); err != nil {
			eng.Close()
			return fmt.Errorf("add local track: %w", err)
		}
		s.tracks = append(s.tracks, tr)
	}
	s.engine = eng
	return nil
}

// initiate offers to the peer. An offer that arrived before local media
// existed is answered instead.
func (s *Session) initiate(restart bool) {
	if !restart && s.heldOffer != nil && !s.closed() {
		held := *s.heldOffer
		s.heldOffer = nil
		s.logger.Info().Msg("answering offer held until local media")
		s.handleOffer(held)
		return
	}
	switch {
	case s.closed():
		return
	case restart && s.State() != StateFailed,
		!restart && s.State() != StateIdle:
		s.logger.Debug().Str("state", s.State().String()).Bool("restart", restart).Msg("initiate ignored")
		return
	}
	if err := s.ensureEngine(); err != nil {
		s.logger.Warn().Err(err).Msg("initiate skipped")
		return
	}
	offer, err := s.engine.CreateOffer(restart)
	if err != nil {
		s.onFailure(fmt.Errorf("create offer: %w", err))
		return
	}
	if err := s.engine.SetLocalDescription(offer); err != nil {
		s.onFailure(fmt.Errorf("set local offer: %w", err))
		return
	}
	s.offerPending = true
	if err := s.signaler.SendOffer(s.peer, offer); err != nil {
		s.logger.Warn().Err(err).Msg("send offer")
	}
	s.setState(StateNegotiating)
	s.armTimer()
}

func (s *Session) handleOffer(desc webrtc.SessionDescription) {
	if s.closed() {
		return
	}
	if s.offerPending {
		if s.Initiator() {
			s.logger.Info().Msg("glare: keeping own offer")
			return
		}
		s.logger.Info().Msg("glare: yielding to remote offer")
		if err := s.engine.Rollback(); err != nil {
			s.logger.Warn().Err(err).Msg("rollback failed, replacing engine")
			s.dropEngine()
		}
		s.offerPending = false
	}
	if err := s.ensureEngine(); err != nil {
		if errors.Is(err, core.ErrMediaUnavailable) {
			s.heldOffer = &desc
			s.logger.Info().Msg("offer held until local media")
			return
		}
		s.logger.Warn().Err(err).Msg("offer ignored")
		return
	}
	s.heldOffer = nil
	if err := s.engine.SetRemoteDescription(desc); err != nil {
		s.onFailure(fmt.Errorf("set remote offer: %w", err))
		return
	}
	s.remoteSet = true
	s.flushCandidates()

	answer, err := s.engine.CreateAnswer()
	if err != nil {
		s.onFailure(fmt.Errorf("create answer: %w", err))
		return
	}
	if err := s.engine.SetLocalDescription(answer); err != nil {
		s.onFailure(fmt.Errorf("set local answer: %w", err))
		return
	}
	if err := s.signaler.SendAnswer(s.peer, answer); err != nil {
		s.logger.Warn().Err(err).Msg("send answer")
	}
	if s.State() != StateConnected {
		s.setState(StateNegotiating)
		s.armTimer()
	}
}

func (s *Session) handleAnswer(desc webrtc.SessionDescription) {
	if s.closed() || !s.offerPending || s.State() != StateNegotiating {
		s.logger.Warn().Err(core.ErrStaleMessage).Str("state", s.State().String()).Msg("answer ignored")
		return
	}
	if err := s.engine.SetRemoteDescription(desc); err != nil {
		s.onFailure(fmt.Errorf("set remote answer: %w", err))
		return
	}
	s.offerPending = false
	s.remoteSet = true
	s.flushCandidates()
}

func (s *Session) handleCandidate(c webrtc.ICECandidateInit) {
	if s.closed() {
		return
	}
	if s.engine == nil || !s.remoteSet {
		s.pending = append(s.pending, c)
		return
	}
	if err := s.engine.AddICECandidate(c); err != nil {
		s.logger.Warn().Err(err).Msg("add candidate")
	}
}

// flushCandidates applies buffered candidates in receipt order.
func (s *Session) flushCandidates() {
	pending := s.pending
	s.pending = nil
	for _, c := range pending {
		if err := s.engine.AddICECandidate(c); err != nil {
			s.logger.Warn().Err(err).Msg("add buffered candidate")
		}
	}
	if len(pending) > 0 {
		s.logger.Debug().Int("count", len(pending)).Msg("flushed buffered candidates")
	}
}

func (s *Session) onEngineState(st webrtc.PeerConnectionState) {
	switch st {
	case webrtc.PeerConnectionStateConnected:
		s.stopTimer()
		s.restarts = 0
		s.setState(StateConnected)
	case webrtc.PeerConnectionStateFailed:
		s.onFailure(core.ErrNegotiationFailed)
	case webrtc.PeerConnectionStateClosed:
		s.teardown(errors.New("transport closed"))
	default:
		s.logger.Debug().Str("engine_state", st.String()).Msg("engine state")
	}
}

// onFailure counts one failed attempt. The initiator restarts ICE, the
// other side waits for that offer; both give up after MaxICERestarts.
func (s *Session) onFailure(cause error) {
	if s.closed() {
		return
	}
	s.stopTimer()
	s.restarts++
	if s.restarts > s.opts.MaxICERestarts {
		s.teardown(fmt.Errorf("%w: %v", core.ErrNegotiationFailed, cause))
		return
	}
	s.logger.Warn().Err(cause).Int("attempt", s.restarts).Int("max", s.opts.MaxICERestarts).Msg("negotiation failed, retrying")
	s.setState(StateFailed)
	if s.Initiator() {
		s.initiate(true)
		return
	}
	s.armTimer()
}

func (s *Session) armTimer() {
	s.stopTimer()
	if s.opts.NegotiationTimeout <= 0 {
		return
	}
	s.timerSeq++
	seq := s.timerSeq
	s.timer = time.AfterFunc(s.opts.NegotiationTimeout, func() {
		s.exec.Do(func() {
			if seq != s.timerSeq || s.closed() || s.State() == StateConnected {
				return
			}
			s.onFailure(errNegotiationTimeout)
		})
	})
}

func (s *Session) stopTimer() {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.timerSeq++
}

// dropEngine releases the transport without closing the session.
func (s *Session) dropEngine() {
	if s.engine == nil {
		return
	}
	s.engine.Close()
	s.engine = nil
	s.gen++
	s.tracks = nil
	s.remoteSet = false
	s.offerPending = false
}

func (s *Session) teardown(cause error) {
	if s.closed() {
		return
	}
	s.stopTimer()
	for _, sink := range s.sinks {
		sink.Close()
	}
	s.sinks = nil
	s.dropEngine()
	s.pending = nil
	s.heldOffer = nil
	s.setState(StateClosed)
	ev := s.logger.Info()
	if cause != nil {
		ev = s.logger.Warn().Err(cause)
	}
	ev.Msg("session closed")
	if s.onClosed != nil {
		s.onClosed(s, cause)
	}
}
