package orch

import (
	"errors"

	"github.com/dkeye/Mesh/internal/core"
	"github.com/dkeye/Mesh/internal/domain"
	"github.com/dkeye/Mesh/internal/protocol"
	"github.com/rs/zerolog/log"
)

// Relay forwards offer/answer/candidate from an endpoint to its recipient.
// Failures are never reported back to the sender. A full recipient buffer
// drops the frame; the backpressure policy only applies to broadcasts.
func (o *Orchestrator) Relay(from domain.EndpointID, msg protocol.Message) {
	err := o.Router.Route(from, msg)
	switch {
	case err == nil:
	case errors.Is(err, core.ErrUnknownRecipient):
		to, _ := protocol.Recipient(msg)
		log.Debug().Str("module", "orch").Str("sid", string(from)).Str("to", string(to)).Str("type", string(msg.Type())).Msg("recipient gone, dropped")
	case errors.Is(err, core.ErrBackpressure):
		to, _ := protocol.Recipient(msg)
		log.Warn().Str("module", "orch").Str("sid", string(from)).Str("to", string(to)).Str("type", string(msg.Type())).Msg("recipient buffer full, frame dropped")
	default:
		log.Warn().Err(err).Str("module", "orch").Str("sid", string(from)).Msg("relay failed")
	}
}

// Reply sends a server-originated message back to one endpoint.
func (o *Orchestrator) Reply(to domain.EndpointID, msg protocol.Message) {
	if err := o.Router.Send(to, msg); err != nil && !errors.Is(err, core.ErrUnknownRecipient) {
		log.Warn().Err(err).Str("module", "orch").Str("sid", string(to)).Str("type", string(msg.Type())).Msg("reply failed")
	}
}
