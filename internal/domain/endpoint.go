// Package domain contains entity without logic, just meta-data
package domain

import (
	"errors"
	"strings"
)

const (
	MaxEndpointIDLen = 36
	MaxLabelLen      = 36
	labelPrefixLen   = 5
)

var (
	ErrLabelTooLong = errors.New("label too long")
	ErrLabelEmpty   = errors.New("label empty")
)

// EndpointID is opaque and server-assigned, unique per connection.
type EndpointID string

// Less is the deterministic tie-break used for initiation and glare.
func (id EndpointID) Less(other EndpointID) bool {
	return strings.Compare(string(id), string(other)) < 0
}

type Endpoint struct {
	ID       EndpointID `json:"id"`
	Username string     `json:"username"`
	Ready    bool       `json:"ready"`
}

// DefaultLabel mirrors what a client sees before it picks a name.
func DefaultLabel(id EndpointID) string {
	s := string(id)
	if len(s) > labelPrefixLen {
		s = s[:labelPrefixLen]
	}
	return "User_" + s
}

func ValidateLabel(label string) error {
	if len(label) == 0 {
		return ErrLabelEmpty
	}
	if len(label) > MaxLabelLen {
		return ErrLabelTooLong
	}
	return nil
}
