package app

import (
	"errors"
	"fmt"

	"github.com/dkeye/Mesh/internal/core"
	"github.com/dkeye/Mesh/internal/domain"
	"github.com/dkeye/Mesh/internal/protocol"
	"github.com/rs/zerolog/log"
)

// PublishResult reports delivery stats/backpressure to orchestrator.
type PublishResult struct {
	SendTo  int
	Dropped []domain.EndpointID
}

// Router delivers signaling messages between registered endpoints.
type Router struct {
	Registry *Registry
}

func NewRouter(reg *Registry) *Router {
	return &Router{Registry: reg}
}

// Route stamps msg with the sender and hands it to the recipient's
// connection. It never blocks.
func (rt *Router) Route(from domain.EndpointID, msg protocol.Message) error {
	to, ok := protocol.Recipient(msg)
	if !ok {
		return fmt.Errorf("route %q: not a directed message", msg.Type())
	}
	stamped, err := protocol.Stamp(msg, from)
	if err != nil {
		return err
	}
	frame, err := protocol.Encode(stamped)
	if err != nil {
		return fmt.Errorf("route %q: %w", msg.Type(), err)
	}
	if err := rt.Registry.Deliver(to, frame); err != nil {
		if !errors.Is(err, core.ErrUnknownRecipient) {
			log.Warn().Err(err).Str("module", "app.router").Str("from", string(from)).Str("to", string(to)).Msg("route failed")
		}
		return err
	}
	log.Debug().Str("module", "app.router").Str("type", string(msg.Type())).Str("from", string(from)).Str("to", string(to)).Msg("routed")
	return nil
}

// Send delivers a server-originated message to one endpoint.
func (rt *Router) Send(to domain.EndpointID, msg protocol.Message) error {
	frame, err := protocol.Encode(msg)
	if err != nil {
		return err
	}
	return rt.Registry.Deliver(to, frame)
}

// BroadcastMembership sends the full snapshot to every endpoint, the
// recipient included.
func (rt *Router) BroadcastMembership() PublishResult {
	res := PublishResult{}
	rt.Registry.withMembers(func(snapshot []domain.Endpoint, members []regSnap) {
		frame, err := protocol.Encode(protocol.UserList{Users: snapshot})
		if err != nil {
			log.Error().Err(err).Str("module", "app.router").Msg("encode userList")
			return
		}
		for _, m := range members {
			if err := m.Conn.TrySend(frame); err != nil {
				res.Dropped = append(res.Dropped, m.ID)
				continue
			}
			res.SendTo++
		}
		log.Debug().Str("module", "app.router").Int("members", len(snapshot)).Int("sent_to", res.SendTo).Int("dropped", len(res.Dropped)).Msg("broadcast userList")
	})
	return res
}
