package app

import "github.com/dkeye/Mesh/internal/domain"

type BackpressureAction int

const (
	NoAction BackpressureAction = iota
	KickMember
	DropFrame
)

func (a BackpressureAction) String() string {
	switch a {
	case KickMember:
		return "kick"
	case DropFrame:
		return "drop"
	default:
		return "none"
	}
}

// Policy decides what happens to an endpoint whose send buffer is full.
type Policy interface {
	OnBackPressure(id domain.EndpointID) BackpressureAction
}

// SimplePolicy kicks slow endpoints; a signaling peer that cannot keep up
// would otherwise miss membership updates.
type SimplePolicy struct{}

func (SimplePolicy) OnBackPressure(domain.EndpointID) BackpressureAction {
	return KickMember
}

// LenientPolicy only drops the frame.
type LenientPolicy struct{}

func (LenientPolicy) OnBackPressure(domain.EndpointID) BackpressureAction {
	return DropFrame
}
