package app

import (
	"github.com/dkeye/Broadcast/internal/core"
	"github.com/dkeye/Broadcast/internal/domain"
)

// Strategy is the transport-specific half of the coordinator. The session
// picks one at construction and never re-checks the mode afterwards.
type Strategy interface {
	Mode() domain.TransportMode
	// Activate runs when the session goes live with the roster known so far.
	Activate(roster []domain.PeerID)
	OnParticipantJoined(peer domain.PeerID)
	OnParticipantLeft(peer domain.PeerID)
	OnOffer(msg core.Message)
	OnAnswer(msg core.Message)
	OnCandidate(msg core.Message)
	// Shutdown closes every connection and forgets every offer.
	Shutdown()
}

func newStrategy(mode domain.TransportMode, n *negotiator, relay RelayOptions, publisher core.Publisher) Strategy {
	if mode == domain.TransportRelay {
		n.trickle = false
		return &relayStrategy{negotiator: n, opts: relay, publisher: publisher}
	}
	n.trickle = true
	return &meshStrategy{negotiator: n}
}
