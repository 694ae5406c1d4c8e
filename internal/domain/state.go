package domain

import (
	"fmt"
	"strings"
)

type TransportMode int

const (
	TransportMesh TransportMode = iota
	TransportRelay
)

func (m TransportMode) String() string {
	switch m {
	case TransportMesh:
		return "mesh"
	case TransportRelay:
		return "relay"
	}
	return fmt.Sprintf("TransportMode(%d)", int(m))
}

func ParseTransportMode(s string) (TransportMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "mesh":
		return TransportMesh, nil
	case "relay", "srs":
		return TransportRelay, nil
	}
	return 0, fmt.Errorf("unknown transport mode %q", s)
}

func (m TransportMode) MarshalText() ([]byte, error) { return []byte(m.String()), nil }

// SessionState is the linear RoomSession lifecycle.
type SessionState int

const (
	SessionIdle SessionState = iota
	SessionJoining
	SessionJoined
	SessionLive
	SessionEnded
)

func (s SessionState) String() string {
	switch s {
	case SessionIdle:
		return "idle"
	case SessionJoining:
		return "joining"
	case SessionJoined:
		return "joined"
	case SessionLive:
		return "live"
	case SessionEnded:
		return "ended"
	}
	return fmt.Sprintf("SessionState(%d)", int(s))
}

func (s SessionState) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// NegotiationState tracks one peer connection.
//
// Sender path:   Idle -> OfferSent -> AnswerReceived -> Connected
// Receiver path: Idle -> OfferReceived -> AnswerSent -> Connected
//
// Closed is reachable from every state. Failed is reachable from every
// non-terminal state. Connected, Closed and Failed admit no further
// negotiation steps, though a Connected or Failed peer can still be Closed.
type NegotiationState int

const (
	NegotiationIdle NegotiationState = iota
	NegotiationOfferSent
	NegotiationAnswerReceived
	NegotiationOfferReceived
	NegotiationAnswerSent
	NegotiationConnected
	NegotiationFailed
	NegotiationClosed
)

func (s NegotiationState) String() string {
	switch s {
	case NegotiationIdle:
		return "idle"
	case NegotiationOfferSent:
		return "offer-sent"
	case NegotiationAnswerReceived:
		return "answer-received"
	case NegotiationOfferReceived:
		return "offer-received"
	case NegotiationAnswerSent:
		return "answer-sent"
	case NegotiationConnected:
		return "connected"
	case NegotiationFailed:
		return "failed"
	case NegotiationClosed:
		return "closed"
	}
	return fmt.Sprintf("NegotiationState(%d)", int(s))
}

func (s NegotiationState) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

func (s NegotiationState) Terminal() bool {
	return s == NegotiationConnected || s == NegotiationFailed || s == NegotiationClosed
}

var negotiationEdges = map[NegotiationState][]NegotiationState{
	NegotiationIdle:           {NegotiationOfferSent, NegotiationOfferReceived},
	NegotiationOfferSent:      {NegotiationAnswerReceived},
	NegotiationAnswerReceived: {NegotiationConnected},
	NegotiationOfferReceived:  {NegotiationAnswerSent},
	NegotiationAnswerSent:     {NegotiationConnected},
}

// CanTransition reports whether moving from s to next keeps the machine
// monotonic.
func (s NegotiationState) CanTransition(next NegotiationState) bool {
	if s == NegotiationClosed {
		return false
	}
	if next == NegotiationClosed {
		return true
	}
	if s.Terminal() {
		return false
	}
	if next == NegotiationFailed {
		return true
	}
	for _, to := range negotiationEdges[s] {
		if to == next {
			return true
		}
	}
	return false
}
