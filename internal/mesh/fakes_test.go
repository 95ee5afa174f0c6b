package mesh

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/dkeye/Mesh/internal/core"
	"github.com/dkeye/Mesh/internal/domain"
	"github.com/pion/webrtc/v4"
)

type fakeEngine struct {
	name string

	mu          sync.Mutex
	offers      []bool
	answers     int
	local       *webrtc.SessionDescription
	remote      *webrtc.SessionDescription
	remoteOffer string
	candidates  []string
	tracks      int
	rollbacks   int
	closed      bool
	autoConnect bool

	onICE   func(webrtc.ICECandidateInit)
	onState func(webrtc.PeerConnectionState)
}

func (e *fakeEngine) CreateOffer(restart bool) (webrtc.SessionDescription, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.offers = append(e.offers, restart)
	return webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: fmt.Sprintf("offer-%s-%d", e.name, len(e.offers))}, nil
}

func (e *fakeEngine) CreateAnswer() (webrtc.SessionDescription, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.remote == nil || e.remote.Type != webrtc.SDPTypeOffer {
		return webrtc.SessionDescription{}, errors.New("no remote offer")
	}
	e.answers++
	return webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: fmt.Sprintf("answer-%s-%d", e.name, e.answers)}, nil
}

func (e *fakeEngine) SetLocalDescription(d webrtc.SessionDescription) error {
	e.mu.Lock()
	e.local = &d
	onICE := e.onICE
	connect := e.stableLocked()
	e.mu.Unlock()
	if onICE != nil {
		onICE(webrtc.ICECandidateInit{Candidate: "cand-" + d.SDP})
	}
	if connect {
		e.fire(webrtc.PeerConnectionStateConnected)
	}
	return nil
}

func (e *fakeEngine) SetRemoteDescription(d webrtc.SessionDescription) error {
	e.mu.Lock()
	if d.Type == webrtc.SDPTypeAnswer && (e.local == nil || e.local.Type != webrtc.SDPTypeOffer) {
		e.mu.Unlock()
		return errors.New("answer without local offer")
	}
	e.remote = &d
	if d.Type == webrtc.SDPTypeOffer {
		e.remoteOffer = d.SDP
	}
	connect := e.stableLocked()
	e.mu.Unlock()
	if connect {
		e.fire(webrtc.PeerConnectionStateConnected)
	}
	return nil
}

func (e *fakeEngine) stableLocked() bool {
	if !e.autoConnect || e.local == nil || e.remote == nil {
		return false
	}
	return e.local.Type == webrtc.SDPTypeAnswer || e.remote.Type == webrtc.SDPTypeAnswer
}

func (e *fakeEngine) Rollback() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.rollbacks++
	e.local = nil
	return nil
}

func (e *fakeEngine) AddICECandidate(c webrtc.ICECandidateInit) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.candidates = append(e.candidates, c.Candidate)
	return nil
}

func (e *fakeEngine) AddLocalTrack(webrtc.TrackLocal) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.tracks++
	return nil
}

func (e *fakeEngine) OnICECandidate(fn func(webrtc.ICECandidateInit)) { e.onICE = fn }

func (e *fakeEngine) OnTrack(func(context.Context, *webrtc.TrackRemote, *webrtc.RTPReceiver)) {}

func (e *fakeEngine) OnConnectionStateChange(fn func(webrtc.PeerConnectionState)) { e.onState = fn }

func (e *fakeEngine) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
}

func (e *fakeEngine) fire(st webrtc.PeerConnectionState) {
	if e.onState != nil {
		e.onState(st)
	}
}

func (e *fakeEngine) snapshot() fakeEngine {
	e.mu.Lock()
	defer e.mu.Unlock()
	return fakeEngine{
		offers:      append([]bool(nil), e.offers...),
		answers:     e.answers,
		local:       e.local,
		remote:      e.remote,
		remoteOffer: e.remoteOffer,
		candidates:  append([]string(nil), e.candidates...),
		tracks:      e.tracks,
		rollbacks:   e.rollbacks,
		closed:      e.closed,
	}
}

type engines struct {
	name        string
	autoConnect bool

	mu   sync.Mutex
	byID map[domain.EndpointID][]*fakeEngine
}

func newEngines(name string, autoConnect bool) *engines {
	return &engines{name: name, autoConnect: autoConnect, byID: make(map[domain.EndpointID][]*fakeEngine)}
}

func (f *engines) factory(peer domain.EndpointID) (core.MediaEngine, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	e := &fakeEngine{name: f.name, autoConnect: f.autoConnect}
	f.byID[peer] = append(f.byID[peer], e)
	return e, nil
}

func (f *engines) of(peer domain.EndpointID) []*fakeEngine {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*fakeEngine(nil), f.byID[peer]...)
}

type sent struct {
	kind string
	to   domain.EndpointID
	sdp  string
	cand string
}

type recorder struct {
	mu   sync.Mutex
	msgs []sent
}

func (r *recorder) add(m sent) {
	r.mu.Lock()
	r.msgs = append(r.msgs, m)
	r.mu.Unlock()
}

func (r *recorder) SendOffer(to domain.EndpointID, d webrtc.SessionDescription) error {
	r.add(sent{kind: "offer", to: to, sdp: d.SDP})
	return nil
}

func (r *recorder) SendAnswer(to domain.EndpointID, d webrtc.SessionDescription) error {
	r.add(sent{kind: "answer", to: to, sdp: d.SDP})
	return nil
}

func (r *recorder) SendCandidate(to domain.EndpointID, c webrtc.ICECandidateInit) error {
	r.add(sent{kind: "candidate", to: to, cand: c.Candidate})
	return nil
}

func (r *recorder) SendReady() error {
	r.add(sent{kind: "ready"})
	return nil
}

func (r *recorder) count(kind string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, m := range r.msgs {
		if m.kind == kind {
			n++
		}
	}
	return n
}

// bus connects orchestrators the way the server would: per-destination
// order is kept, and delivery can be held to provoke glare.
type bus struct {
	mu      sync.Mutex
	nodes   map[domain.EndpointID]*Orchestrator
	held    bool
	queue   []func()
	offline map[domain.EndpointID]bool
}

func newBus() *bus {
	return &bus{nodes: make(map[domain.EndpointID]*Orchestrator), offline: make(map[domain.EndpointID]bool)}
}

func (b *bus) deliver(fn func()) {
	b.mu.Lock()
	if b.held {
		b.queue = append(b.queue, fn)
		b.mu.Unlock()
		return
	}
	b.mu.Unlock()
	fn()
}

// release delivers everything queued, including what is sent while
// draining, before switching to direct delivery.
func (b *bus) release() {
	for {
		b.mu.Lock()
		if len(b.queue) == 0 {
			b.held = false
			b.mu.Unlock()
			return
		}
		fn := b.queue[0]
		b.queue = b.queue[1:]
		b.mu.Unlock()
		fn()
	}
}

func (b *bus) node(to domain.EndpointID) (*Orchestrator, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.offline[to] {
		return nil, false
	}
	o, ok := b.nodes[to]
	return o, ok
}

type busSignaler struct {
	b    *bus
	from domain.EndpointID
	rec  recorder
}

func (s *busSignaler) SendOffer(to domain.EndpointID, d webrtc.SessionDescription) error {
	s.rec.SendOffer(to, d)
	s.b.deliver(func() {
		if o, ok := s.b.node(to); ok {
			o.HandleOffer(s.from, d)
		}
	})
	return nil
}

func (s *busSignaler) SendAnswer(to domain.EndpointID, d webrtc.SessionDescription) error {
	s.rec.SendAnswer(to, d)
	s.b.deliver(func() {
		if o, ok := s.b.node(to); ok {
			o.HandleAnswer(s.from, d)
		}
	})
	return nil
}

func (s *busSignaler) SendCandidate(to domain.EndpointID, c webrtc.ICECandidateInit) error {
	s.rec.SendCandidate(to, c)
	s.b.deliver(func() {
		if o, ok := s.b.node(to); ok {
			o.HandleCandidate(s.from, c)
		}
	})
	return nil
}

func (s *busSignaler) SendReady() error { return s.rec.SendReady() }

type fakeMedia struct {
	mu      sync.Mutex
	tracks  []webrtc.TrackLocal
	stopped bool
}

func newFakeMedia(t *testing.T) *fakeMedia {
	t.Helper()
	track, err := webrtc.NewTrackLocalStaticRTP(webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus}, "audio", "test")
	if err != nil {
		t.Fatalf("NewTrackLocalStaticRTP: %v", err)
	}
	return &fakeMedia{tracks: []webrtc.TrackLocal{track}}
}

func (m *fakeMedia) Tracks() []webrtc.TrackLocal { return m.tracks }

func (m *fakeMedia) Stop() {
	m.mu.Lock()
	m.stopped = true
	m.mu.Unlock()
}

func (m *fakeMedia) isStopped() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stopped
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func endpoints(ids ...domain.EndpointID) []domain.Endpoint {
	out := make([]domain.Endpoint, 0, len(ids))
	for _, id := range ids {
		out = append(out, domain.Endpoint{ID: id, Username: domain.DefaultLabel(id)})
	}
	return out
}
