package mesh

import (
	"errors"
	"slices"
	"sync"

	"github.com/dkeye/Mesh/internal/core"
	"github.com/dkeye/Mesh/internal/domain"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
	"github.com/sourcegraph/conc"
)

// Orchestrator turns membership updates into one Session per remote peer
// and decides which side offers.
type Orchestrator struct {
	signaler  Signaler
	newEngine core.EngineFactory
	opts      Options

	mu       sync.Mutex
	self     domain.EndpointID
	known    []domain.Endpoint
	sessions map[domain.EndpointID]*Session
	media    core.LocalMedia
}

func NewOrchestrator(signaler Signaler, newEngine core.EngineFactory, opts Options) *Orchestrator {
	return &Orchestrator{
		signaler:  signaler,
		newEngine: newEngine,
		opts:      opts,
		sessions:  make(map[domain.EndpointID]*Session),
	}
}

// SetSelf records the id the server assigned to this endpoint.
func (o *Orchestrator) SetSelf(id domain.EndpointID) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.self = id
	log.Info().Str("module", "mesh").Str("sid", string(id)).Msg("self id assigned")
}

func (o *Orchestrator) Self() domain.EndpointID {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.self
}

// Peers returns the last known membership without self.
func (o *Orchestrator) Peers() []domain.Endpoint {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]domain.Endpoint(nil), o.known...)
}

func (o *Orchestrator) Session(peer domain.EndpointID) (*Session, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	s, ok := o.sessions[peer]
	return s, ok
}

func (o *Orchestrator) Sessions() []*Session {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]*Session, 0, len(o.sessions))
	for _, s := range o.sessions {
		out = append(out, s)
	}
	return out
}

func (o *Orchestrator) currentMedia() core.LocalMedia {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.media
}

// sessionLocked returns the live session for peer, creating it if needed.
func (o *Orchestrator) sessionLocked(peer domain.EndpointID) *Session {
	if s, ok := o.sessions[peer]; ok {
		return s
	}
	s := newSession(o.self, peer, o.opts, o.newEngine, o.signaler, o.currentMedia, o.sessionClosed)
	o.sessions[peer] = s
	return s
}

func (o *Orchestrator) sessionClosed(s *Session, cause error) {
	o.mu.Lock()
	if cur, ok := o.sessions[s.peer]; ok && cur == s {
		delete(o.sessions, s.peer)
	}
	o.mu.Unlock()
	if errors.Is(cause, core.ErrNegotiationFailed) {
		log.Warn().Err(cause).Str("module", "mesh").Str("peer", string(s.peer)).Msg("peer dropped from active sessions")
	}
}

// OnMembershipUpdate applies a full userList from the server.
func (o *Orchestrator) OnMembershipUpdate(list []domain.Endpoint) {
	var stale, start []*Session

	o.mu.Lock()
	present := make(map[domain.EndpointID]struct{}, len(list))
	known := make([]domain.Endpoint, 0, len(list))
	for _, ep := range list {
		if ep.ID == o.self {
			continue
		}
		present[ep.ID] = struct{}{}
		known = append(known, ep)
	}
	o.known = known

	for id, s := range o.sessions {
		if _, ok := present[id]; !ok {
			stale = append(stale, s)
			delete(o.sessions, id)
		}
	}
	if o.self != "" && o.media != nil {
		for _, ep := range known {
			if _, ok := o.sessions[ep.ID]; ok || !o.self.Less(ep.ID) {
				continue
			}
			start = append(start, o.sessionLocked(ep.ID))
		}
	}
	o.mu.Unlock()

	log.Debug().Str("module", "mesh").Int("peers", len(known)).Int("closing", len(stale)).Int("initiating", len(start)).Msg("membership update")
	for _, s := range stale {
		s.Teardown()
	}
	for _, s := range start {
		s.Initiate()
	}
}

// OnSelfReady publishes local media and offers to every known peer that
// has no negotiation going yet. Offers received while media was missing
// are answered instead.
func (o *Orchestrator) OnSelfReady(m core.LocalMedia) {
	var start []*Session

	o.mu.Lock()
	o.media = m
	if o.self != "" {
		for _, ep := range o.known {
			start = append(start, o.sessionLocked(ep.ID))
		}
		// sessions created by an offer from a peer not yet in userList
		for id, s := range o.sessions {
			if !slices.ContainsFunc(o.known, func(ep domain.Endpoint) bool { return ep.ID == id }) {
				start = append(start, s)
			}
		}
	}
	o.mu.Unlock()

	if err := o.signaler.SendReady(); err != nil {
		log.Warn().Err(err).Str("module", "mesh").Msg("send ready")
	}
	for _, s := range start {
		s.Initiate()
	}
}

// OnSelfStop tears every session down and releases local media.
func (o *Orchestrator) OnSelfStop() {
	o.mu.Lock()
	sessions := make([]*Session, 0, len(o.sessions))
	for id, s := range o.sessions {
		sessions = append(sessions, s)
		delete(o.sessions, id)
	}
	m := o.media
	o.media = nil
	o.mu.Unlock()

	var wg conc.WaitGroup
	for _, s := range sessions {
		wg.Go(func() {
			s.Teardown()
			s.Wait()
		})
	}
	wg.Wait()
	if m != nil {
		m.Stop()
	}
	log.Info().Str("module", "mesh").Int("sessions", len(sessions)).Msg("local media stopped")
}

func (o *Orchestrator) HandleOffer(from domain.EndpointID, desc webrtc.SessionDescription) {
	o.mu.Lock()
	if from == o.self {
		o.mu.Unlock()
		return
	}
	s := o.sessionLocked(from)
	o.mu.Unlock()
	s.HandleOffer(desc)
}

func (o *Orchestrator) HandleAnswer(from domain.EndpointID, desc webrtc.SessionDescription) {
	s, ok := o.Session(from)
	if !ok {
		log.Warn().Err(core.ErrStaleMessage).Str("module", "mesh").Str("peer", string(from)).Msg("answer without session")
		return
	}
	s.HandleAnswer(desc)
}

// HandleCandidate buffers inside a lazily created session until the
// remote description is applied or the peer leaves.
func (o *Orchestrator) HandleCandidate(from domain.EndpointID, c webrtc.ICECandidateInit) {
	o.mu.Lock()
	if from == o.self {
		o.mu.Unlock()
		return
	}
	s := o.sessionLocked(from)
	o.mu.Unlock()
	s.HandleCandidate(c)
}
