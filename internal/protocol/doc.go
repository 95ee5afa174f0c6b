// Package protocol defines the signaling wire format.
//
// Every frame is a JSON object tagged by "type". Inbound frames are parsed
// into exactly one of the Message variants below and validated before they
// reach the router; nothing downstream inspects raw JSON.
package protocol
