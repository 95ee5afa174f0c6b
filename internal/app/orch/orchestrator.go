package orch

import (
	"sync"

	"github.com/dkeye/Mesh/internal/app"
	"github.com/dkeye/Mesh/internal/domain"
	"github.com/rs/zerolog/log"
)

// MembershipObserver is told about every snapshot that was broadcast.
// Implementations must not block.
type MembershipObserver interface {
	OnMembership(snapshot []domain.Endpoint)
}

// Orchestrator serialises registry mutations with their broadcasts so that
// every delivered userList matches the registry at the time of the change.
type Orchestrator struct {
	Registry *app.Registry
	Router   *app.Router
	Policy   app.Policy
	Observer MembershipObserver

	mu sync.Mutex
}

func New(reg *app.Registry, policy app.Policy) *Orchestrator {
	return &Orchestrator{
		Registry: reg,
		Router:   app.NewRouter(reg),
		Policy:   policy,
	}
}

// broadcastLocked must be called with o.mu held.
func (o *Orchestrator) broadcastLocked() {
	res := o.Router.BroadcastMembership()
	o.onDropped(res.Dropped)
	if o.Observer != nil {
		o.Observer.OnMembership(o.Registry.Snapshot())
	}
}

func (o *Orchestrator) onDropped(ids []domain.EndpointID) {
	if o.Policy == nil {
		return
	}
	for _, id := range ids {
		action := o.Policy.OnBackPressure(id)
		log.Warn().Str("module", "orch").Str("sid", string(id)).Str("action", action.String()).Msg("backpressure")
		switch action {
		case app.KickMember:
			o.Registry.Cancel(id)
		case app.DropFrame, app.NoAction:
		}
	}
}
