package signal

import (
	"context"
	"errors"
	"time"

	"github.com/dkeye/Mesh/internal/domain"
	"github.com/dkeye/Mesh/internal/protocol"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

func (ctl *SignalWSController) writePump(ctx context.Context, id domain.EndpointID, c *WsSignalConn) {
	ticker := time.NewTicker(ctl.opts.PingPeriod)
	defer func() {
		ticker.Stop()
		c.Close()
	}()

	for {
		select {
		case <-ctx.Done():
			log.Info().Str("module", "signal").Str("sid", string(id)).Msg("writePump ctx done")
			return
		case data, ok := <-c.send:
			if !ok {
				log.Debug().Str("module", "signal").Str("sid", string(id)).Msg("writePump channel closed")
				return
			}
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				log.Error().Err(err).Str("module", "signal").Str("sid", string(id)).Msg("writePump set deadline")
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Error().Err(err).Str("module", "signal").Str("sid", string(id)).Msg("writePump write error")
				return
			}
		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				log.Warn().Err(err).Str("module", "signal").Str("sid", string(id)).Msg("writePump ping")
				return
			}
		}
	}
}

func (ctl *SignalWSController) readPump(ctx context.Context, cancel context.CancelFunc, id domain.EndpointID, c *WsSignalConn) {
	defer func() {
		log.Info().Str("module", "signal").Str("sid", string(id)).Msg("readPump closing")
		cancel()
		ctl.Orch.Disconnect(id)
		ctl.Limiter.Forget(id)
		c.Close()
	}()

	pongWait := ctl.opts.PingPeriod * 10 / 9
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if ctx.Err() != nil {
			return
		}
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Warn().Err(err).Str("module", "signal").Str("sid", string(id)).Msg("readPump read error")
			}
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
		ctl.handleSignal(id, data)
	}
}

func (ctl *SignalWSController) handleSignal(id domain.EndpointID, data []byte) {
	if !ctl.Limiter.Allow(id) {
		log.Warn().Str("module", "signal").Str("sid", string(id)).Msg("rate limited")
		ctl.Orch.Reply(id, protocol.Error{Code: protocol.CodeRateLimited})
		return
	}

	msg, err := protocol.ParseClient(data)
	if err != nil {
		ev := log.Warn()
		if !errors.Is(err, protocol.ErrMalformed) {
			ev = log.Error()
		}
		ev.Err(err).Str("module", "signal").Str("sid", string(id)).Msg("bad payload")
		ctl.Orch.Reply(id, protocol.Error{Code: protocol.CodeBadPayload})
		return
	}

	switch m := msg.(type) {
	case protocol.Ready:
		ctl.Orch.Ready(id)
	case protocol.Ping:
		ctl.Orch.Reply(id, protocol.Pong{})
	case protocol.Offer, protocol.Answer, protocol.Candidate:
		ctl.Orch.Relay(id, m)
	default:
		log.Warn().Str("module", "signal").Str("type", string(msg.Type())).Msg("unknown signal")
	}
}
