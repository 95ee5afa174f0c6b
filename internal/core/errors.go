package core

import "errors"

var (
	// ErrUnknownRecipient: destination is not admitted; dropped, never surfaced to the sender.
	ErrUnknownRecipient = errors.New("unknown recipient")
	// ErrStaleMessage: answer/candidate for a missing or wrong-state session.
	ErrStaleMessage = errors.New("stale message")
	// ErrMediaUnavailable: no local media, negotiation is not attempted.
	ErrMediaUnavailable = errors.New("local media unavailable")
	// ErrNegotiationFailed: ICE restarts exhausted, session closed.
	ErrNegotiationFailed = errors.New("negotiation failed")
	ErrBackpressure      = errors.New("backpressure")
	ErrConnClosed        = errors.New("connection closed")
)
