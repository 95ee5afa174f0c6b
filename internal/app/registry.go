package app

import (
	"context"
	"slices"
	"sync"

	"github.com/dkeye/Mesh/internal/core"
	"github.com/dkeye/Mesh/internal/domain"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

type endpointEntry struct {
	Endpoint domain.Endpoint
	Conn     core.SignalConnection
	Cancel   context.CancelFunc
}

// Registry is the membership registry: connected endpoints in admission order.
type Registry struct {
	mu      sync.RWMutex
	order   []domain.EndpointID
	entries map[domain.EndpointID]*endpointEntry
	newID   func() domain.EndpointID
}

func NewRegistry() *Registry {
	return &Registry{
		entries: make(map[domain.EndpointID]*endpointEntry),
		newID:   func() domain.EndpointID { return domain.EndpointID(uuid.NewString()) },
	}
}

// Admit stores a new endpoint with readiness=false and returns its fresh id.
func (r *Registry) Admit(conn core.SignalConnection, label string, cancel context.CancelFunc) domain.EndpointID {
	r.mu.Lock()
	defer r.mu.Unlock()
	id := r.newID()
	for _, taken := r.entries[id]; taken; _, taken = r.entries[id] {
		id = r.newID()
	}
	if domain.ValidateLabel(label) != nil {
		label = domain.DefaultLabel(id)
	}
	r.entries[id] = &endpointEntry{
		Endpoint: domain.Endpoint{ID: id, Username: label},
		Conn:     conn,
		Cancel:   cancel,
	}
	r.order = append(r.order, id)
	log.Info().Str("module", "app.registry").Str("sid", string(id)).Str("username", label).Msg("admitted endpoint")
	return id
}

// MarkReady reports whether readiness actually changed.
func (r *Registry) MarkReady(id domain.EndpointID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[id]
	if !ok {
		log.Warn().Str("module", "app.registry").Str("sid", string(id)).Msg("ready from unknown endpoint")
		return false
	}
	if e.Endpoint.Ready {
		return false
	}
	e.Endpoint.Ready = true
	log.Info().Str("module", "app.registry").Str("sid", string(id)).Msg("endpoint ready")
	return true
}

func (r *Registry) Remove(id domain.EndpointID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.entries[id]; !ok {
		return false
	}
	delete(r.entries, id)
	r.order = slices.DeleteFunc(r.order, func(x domain.EndpointID) bool { return x == id })
	log.Info().Str("module", "app.registry").Str("sid", string(id)).Msg("removed endpoint")
	return true
}

func (r *Registry) Snapshot() []domain.Endpoint {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.snapshotLocked()
}

func (r *Registry) snapshotLocked() []domain.Endpoint {
	out := make([]domain.Endpoint, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.entries[id].Endpoint)
	}
	return out
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order)
}

// Deliver sends to one endpoint under the shared lock, so a concurrent
// Remove either happens before the lookup or after the send.
func (r *Registry) Deliver(id domain.EndpointID, f core.Frame) error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[id]
	if !ok {
		return core.ErrUnknownRecipient
	}
	return e.Conn.TrySend(f)
}

type regSnap struct {
	ID   domain.EndpointID
	Conn core.SignalConnection
}

// withMembers runs fn under the shared lock with the snapshot and the
// connections it was taken from.
func (r *Registry) withMembers(fn func(snapshot []domain.Endpoint, members []regSnap)) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	members := make([]regSnap, 0, len(r.order))
	for _, id := range r.order {
		members = append(members, regSnap{ID: id, Conn: r.entries[id].Conn})
	}
	fn(r.snapshotLocked(), members)
}

// Cancel stops the connection context of an endpoint; the adapter then
// disconnects it through the normal path.
func (r *Registry) Cancel(id domain.EndpointID) bool {
	r.mu.RLock()
	e, ok := r.entries[id]
	r.mu.RUnlock()
	if !ok {
		return false
	}
	if e.Cancel != nil {
		e.Cancel()
	}
	log.Info().Str("module", "app.registry").Str("sid", string(id)).Msg("canceled endpoint")
	return true
}
