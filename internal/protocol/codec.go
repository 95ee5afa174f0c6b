package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/dkeye/Mesh/internal/domain"
)

var ErrMalformed = errors.New("malformed message")

type envelope struct {
	Type      Type              `json:"type"`
	To        domain.EndpointID `json:"to,omitempty"`
	From      domain.EndpointID `json:"from,omitempty"`
	ID        domain.EndpointID `json:"id,omitempty"`
	Offer     *SDP              `json:"offer,omitempty"`
	Answer    *SDP              `json:"answer,omitempty"`
	Candidate *ICECandidate     `json:"candidate,omitempty"`
	Users     []domain.Endpoint `json:"users,omitempty"`
	Error     string            `json:"error,omitempty"`
}

// Encode marshals any Message into its wire frame.
func Encode(m Message) ([]byte, error) {
	env := envelope{Type: m.Type()}
	switch v := m.(type) {
	case Ready, Ping, Pong:
	case Welcome:
		env.ID = v.ID
	case UserList:
		// an empty list is still sent as "users":[]
		users := v.Users
		if users == nil {
			users = []domain.Endpoint{}
		}
		return json.Marshal(struct {
			Type  Type              `json:"type"`
			Users []domain.Endpoint `json:"users"`
		}{TypeUserList, users})
	case Offer:
		env.To, env.From = v.To, v.From
		sdp := v.SDP
		env.Offer = &sdp
	case Answer:
		env.To, env.From = v.To, v.From
		sdp := v.SDP
		env.Answer = &sdp
	case Candidate:
		env.To, env.From = v.To, v.From
		c := v.Candidate
		env.Candidate = &c
	case Error:
		env.Error = v.Code
	default:
		return nil, fmt.Errorf("encode %T: unsupported message", m)
	}
	return json.Marshal(env)
}

func decode(data []byte) (envelope, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()

	var env envelope
	if err := dec.Decode(&env); err != nil {
		return envelope{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return envelope{}, fmt.Errorf("%w: unexpected trailing data", ErrMalformed)
	}
	return env, nil
}

func malformed(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrMalformed, fmt.Sprintf(format, args...))
}

// ParseClient validates a frame sent by an endpoint to the server.
func ParseClient(data []byte) (Message, error) {
	env, err := decode(data)
	if err != nil {
		return nil, err
	}
	if env.From != "" {
		return nil, malformed("%s: from is assigned by the server", env.Type)
	}
	if env.ID != "" || env.Users != nil || env.Error != "" {
		return nil, malformed("%s: unexpected server fields", env.Type)
	}

	switch env.Type {
	case TypeReady, TypePing:
		if env.To != "" || env.Offer != nil || env.Answer != nil || env.Candidate != nil {
			return nil, malformed("%s: unexpected fields", env.Type)
		}
		if env.Type == TypeReady {
			return Ready{}, nil
		}
		return Ping{}, nil
	case TypeOffer, TypeAnswer, TypeCandidate:
		if err := validatePeer(env.To, "to"); err != nil {
			return nil, malformed("%s: %v", env.Type, err)
		}
		return directed(env)
	}
	return nil, malformed("unsupported message type %q", env.Type)
}

// ParseServer validates a frame sent by the server to an endpoint.
func ParseServer(data []byte) (Message, error) {
	env, err := decode(data)
	if err != nil {
		return nil, err
	}
	if env.To != "" {
		return nil, malformed("%s: unexpected to", env.Type)
	}

	switch env.Type {
	case TypePong:
		return Pong{}, nil
	case TypeWelcome:
		if err := validatePeer(env.ID, "id"); err != nil {
			return nil, malformed("welcome: %v", err)
		}
		return Welcome{ID: env.ID}, nil
	case TypeUserList:
		users := env.Users
		if users == nil {
			users = []domain.Endpoint{}
		}
		return UserList{Users: users}, nil
	case TypeError:
		if env.Error == "" {
			return nil, malformed("error: missing code")
		}
		return Error{Code: env.Error}, nil
	case TypeOffer, TypeAnswer, TypeCandidate:
		if err := validatePeer(env.From, "from"); err != nil {
			return nil, malformed("%s: %v", env.Type, err)
		}
		return directed(env)
	}
	return nil, malformed("unsupported message type %q", env.Type)
}

func directed(env envelope) (Message, error) {
	switch env.Type {
	case TypeOffer:
		if env.Answer != nil || env.Candidate != nil {
			return nil, malformed("offer: unexpected fields")
		}
		if err := validateSDP(env.Offer, "offer"); err != nil {
			return nil, err
		}
		return Offer{To: env.To, From: env.From, SDP: *env.Offer}, nil
	case TypeAnswer:
		if env.Offer != nil || env.Candidate != nil {
			return nil, malformed("answer: unexpected fields")
		}
		if err := validateSDP(env.Answer, "answer"); err != nil {
			return nil, err
		}
		return Answer{To: env.To, From: env.From, SDP: *env.Answer}, nil
	default:
		if env.Offer != nil || env.Answer != nil {
			return nil, malformed("candidate: unexpected fields")
		}
		if env.Candidate == nil {
			return nil, malformed("candidate: missing candidate")
		}
		return Candidate{To: env.To, From: env.From, Candidate: *env.Candidate}, nil
	}
}

func validateSDP(s *SDP, want string) error {
	if s == nil {
		return malformed("%s: missing description", want)
	}
	if s.Type != want {
		return malformed("%s: description has type %q", want, s.Type)
	}
	if s.SDP == "" {
		return malformed("%s: empty sdp", want)
	}
	return nil
}

func validatePeer(id domain.EndpointID, field string) error {
	if id == "" {
		return fmt.Errorf("missing %s", field)
	}
	if len(id) > domain.MaxEndpointIDLen {
		return fmt.Errorf("%s too long", field)
	}
	return nil
}
