// Package wsclient is the endpoint side of the signaling websocket: it
// carries mesh session messages to the server and dispatches what the
// server sends to a Handler.
package wsclient

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/dkeye/Mesh/internal/core"
	"github.com/dkeye/Mesh/internal/domain"
	"github.com/dkeye/Mesh/internal/protocol"
	"github.com/gorilla/websocket"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

const (
	writeWait  = 5 * time.Second
	sendBuffer = 256
)

// Handler receives server messages; *mesh.Orchestrator implements it.
type Handler interface {
	SetSelf(id domain.EndpointID)
	OnMembershipUpdate(list []domain.Endpoint)
	HandleOffer(from domain.EndpointID, desc webrtc.SessionDescription)
	HandleAnswer(from domain.EndpointID, desc webrtc.SessionDescription)
	HandleCandidate(from domain.EndpointID, c webrtc.ICECandidateInit)
}

type Client struct {
	conn       *websocket.Conn
	send       chan core.Frame
	pingPeriod time.Duration

	mu     sync.RWMutex
	closed bool
}

// Dial opens the signaling socket. pingPeriod controls application-level
// keepalive pings; zero disables them.
func Dial(ctx context.Context, url string, header http.Header, pingPeriod time.Duration) (*Client, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, header)
	if err != nil {
		return nil, err
	}
	log.Info().Str("module", "wsclient").Str("url", url).Msg("connected")
	return &Client{
		conn:       conn,
		send:       make(chan core.Frame, sendBuffer),
		pingPeriod: pingPeriod,
	}, nil
}

func (c *Client) SendOffer(to domain.EndpointID, desc webrtc.SessionDescription) error {
	return c.enqueue(protocol.Offer{To: to, SDP: protocol.SDPFromPion(desc)})
}

func (c *Client) SendAnswer(to domain.EndpointID, desc webrtc.SessionDescription) error {
	return c.enqueue(protocol.Answer{To: to, SDP: protocol.SDPFromPion(desc)})
}

func (c *Client) SendCandidate(to domain.EndpointID, ci webrtc.ICECandidateInit) error {
	return c.enqueue(protocol.Candidate{To: to, Candidate: protocol.CandidateFromPion(ci)})
}

func (c *Client) SendReady() error {
	return c.enqueue(protocol.Ready{})
}

func (c *Client) enqueue(m protocol.Message) error {
	data, err := protocol.Encode(m)
	if err != nil {
		return err
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return core.ErrConnClosed
	}
	select {
	case c.send <- data:
		return nil
	default:
		return core.ErrBackpressure
	}
}

func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
	_ = c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
	_ = c.conn.Close()
}

// Run pumps messages until ctx is done or the server goes away. It
// returns nil on a clean shutdown.
func (c *Client) Run(ctx context.Context, h Handler) error {
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			c.Close()
		case <-done:
		}
	}()
	go c.writePump()
	defer c.Close()

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil || websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return err
		}
		c.dispatch(h, data)
	}
}

func (c *Client) writePump() {
	var tick <-chan time.Time
	if c.pingPeriod > 0 {
		ticker := time.NewTicker(c.pingPeriod)
		defer ticker.Stop()
		tick = ticker.C
	}
	for {
		select {
		case data, ok := <-c.send:
			if !ok {
				return
			}
			if err := c.write(data); err != nil {
				log.Error().Err(err).Str("module", "wsclient").Msg("write error")
				return
			}
		case <-tick:
			if err := c.enqueue(protocol.Ping{}); err != nil && !errors.Is(err, core.ErrBackpressure) {
				return
			}
		}
	}
}

func (c *Client) write(data []byte) error {
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

func (c *Client) dispatch(h Handler, data []byte) {
	msg, err := protocol.ParseServer(data)
	if err != nil {
		log.Warn().Err(err).Str("module", "wsclient").Msg("bad server frame")
		return
	}
	switch m := msg.(type) {
	case protocol.Welcome:
		h.SetSelf(m.ID)
	case protocol.UserList:
		h.OnMembershipUpdate(m.Users)
	case protocol.Offer:
		desc, err := m.SDP.ToPion()
		if err != nil {
			log.Warn().Err(err).Str("module", "wsclient").Str("peer", string(m.From)).Msg("bad offer")
			return
		}
		h.HandleOffer(m.From, desc)
	case protocol.Answer:
		desc, err := m.SDP.ToPion()
		if err != nil {
			log.Warn().Err(err).Str("module", "wsclient").Str("peer", string(m.From)).Msg("bad answer")
			return
		}
		h.HandleAnswer(m.From, desc)
	case protocol.Candidate:
		h.HandleCandidate(m.From, m.Candidate.ToPion())
	case protocol.Pong:
		log.Trace().Str("module", "wsclient").Msg("pong")
	case protocol.Error:
		log.Warn().Str("module", "wsclient").Str("code", m.Code).Msg("server rejected a message")
	}
}
