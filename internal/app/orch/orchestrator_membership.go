package orch

import (
	"context"

	"github.com/dkeye/Mesh/internal/core"
	"github.com/dkeye/Mesh/internal/domain"
	"github.com/dkeye/Mesh/internal/protocol"
	"github.com/rs/zerolog/log"
)

// Connect admits a new endpoint, tells it its id and broadcasts membership.
func (o *Orchestrator) Connect(conn core.SignalConnection, label string, cancel context.CancelFunc) domain.EndpointID {
	o.mu.Lock()
	defer o.mu.Unlock()
	id := o.Registry.Admit(conn, label, cancel)
	if err := o.Router.Send(id, protocol.Welcome{ID: id}); err != nil {
		log.Warn().Err(err).Str("module", "orch").Str("sid", string(id)).Msg("welcome not delivered")
	}
	o.broadcastLocked()
	return id
}

// Ready marks the endpoint as publishing media. Readiness never gates
// routing; it is only reflected in the next userList.
func (o *Orchestrator) Ready(id domain.EndpointID) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.Registry.MarkReady(id) {
		o.broadcastLocked()
	}
}

func (o *Orchestrator) Disconnect(id domain.EndpointID) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.Registry.Remove(id) {
		o.broadcastLocked()
	}
}
