package protocol

import (
	"fmt"

	"github.com/dkeye/Mesh/internal/domain"
	"github.com/pion/webrtc/v4"
)

type Type string

const (
	TypeReady     Type = "ready"
	TypeOffer     Type = "offer"
	TypeAnswer    Type = "answer"
	TypeCandidate Type = "candidate"
	TypePing      Type = "ping"
	TypePong      Type = "pong"
	TypeWelcome   Type = "welcome"
	TypeUserList  Type = "userList"
	TypeError     Type = "error"
)

// Message is the closed set of signaling messages.
type Message interface {
	Type() Type
	isMessage()
}

type Ready struct{}

type Ping struct{}

type Pong struct{}

// Welcome tells a fresh connection its server-assigned id.
type Welcome struct {
	ID domain.EndpointID
}

type UserList struct {
	Users []domain.Endpoint
}

// Offer, Answer and Candidate carry To on the way in and From on the way out.
type Offer struct {
	To   domain.EndpointID
	From domain.EndpointID
	SDP  SDP
}

type Answer struct {
	To   domain.EndpointID
	From domain.EndpointID
	SDP  SDP
}

type Candidate struct {
	To        domain.EndpointID
	From      domain.EndpointID
	Candidate ICECandidate
}

// Error codes sent to the offending endpoint only.
const (
	CodeBadPayload  = "bad_payload"
	CodeRateLimited = "rate_limited"
)

type Error struct {
	Code string
}

func (Ready) Type() Type     { return TypeReady }
func (Ping) Type() Type      { return TypePing }
func (Pong) Type() Type      { return TypePong }
func (Welcome) Type() Type   { return TypeWelcome }
func (UserList) Type() Type  { return TypeUserList }
func (Offer) Type() Type     { return TypeOffer }
func (Answer) Type() Type    { return TypeAnswer }
func (Candidate) Type() Type { return TypeCandidate }
func (Error) Type() Type     { return TypeError }

func (Ready) isMessage()     {}
func (Ping) isMessage()      {}
func (Pong) isMessage()      {}
func (Welcome) isMessage()   {}
func (UserList) isMessage()  {}
func (Offer) isMessage()     {}
func (Answer) isMessage()    {}
func (Candidate) isMessage() {}
func (Error) isMessage()     {}

// Recipient returns the destination of a directed message.
func Recipient(m Message) (domain.EndpointID, bool) {
	switch v := m.(type) {
	case Offer:
		return v.To, true
	case Answer:
		return v.To, true
	case Candidate:
		return v.To, true
	}
	return "", false
}

// Stamp rewrites a directed message for delivery: From is set by the
// router and To is cleared.
func Stamp(m Message, from domain.EndpointID) (Message, error) {
	switch v := m.(type) {
	case Offer:
		v.From, v.To = from, ""
		return v, nil
	case Answer:
		v.From, v.To = from, ""
		return v, nil
	case Candidate:
		v.From, v.To = from, ""
		return v, nil
	}
	return nil, fmt.Errorf("message %q is not routable", m.Type())
}

type SDP struct {
	Type string `json:"type"`
	SDP  string `json:"sdp"`
}

func SDPFromPion(desc webrtc.SessionDescription) SDP {
	return SDP{
		Type: desc.Type.String(),
		SDP:  desc.SDP,
	}
}

func (s SDP) ToPion() (webrtc.SessionDescription, error) {
	var t webrtc.SDPType
	switch s.Type {
	case "offer":
		t = webrtc.SDPTypeOffer
	case "answer":
		t = webrtc.SDPTypeAnswer
	default:
		return webrtc.SessionDescription{}, fmt.Errorf("unsupported sdp type %q", s.Type)
	}
	return webrtc.SessionDescription{Type: t, SDP: s.SDP}, nil
}

type ICECandidate struct {
	Candidate        string  `json:"candidate"`
	SDPMid           *string `json:"sdpMid,omitempty"`
	SDPMLineIndex    *uint16 `json:"sdpMLineIndex,omitempty"`
	UsernameFragment *string `json:"usernameFragment,omitempty"`
}

func CandidateFromPion(init webrtc.ICECandidateInit) ICECandidate {
	return ICECandidate{
		Candidate:        init.Candidate,
		SDPMid:           init.SDPMid,
		SDPMLineIndex:    init.SDPMLineIndex,
		UsernameFragment: init.UsernameFragment,
	}
}

func (c ICECandidate) ToPion() webrtc.ICECandidateInit {
	return webrtc.ICECandidateInit{
		Candidate:        c.Candidate,
		SDPMid:           c.SDPMid,
		SDPMLineIndex:    c.SDPMLineIndex,
		UsernameFragment: c.UsernameFragment,
	}
}
